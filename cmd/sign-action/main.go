package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/stakedex/pkg/app/core/transaction"
	"github.com/uhyunpark/stakedex/pkg/crypto"
)

func main() {
	if err := signCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func signCmd() *cobra.Command {
	var (
		key      string
		nonce    uint64
		deadline uint64
		chainID  uint64
		payload  string
		submit   string
	)
	cmd := &cobra.Command{
		Use:   "sign-action <kind>",
		Short: "Sign an exchange action and print the envelope",
		Long: `Sign an exchange action with EIP-712 and print the JSON envelope.

The payload is a JSON object, or @path to read it from a file. Without --key a
fresh key is generated and printed to stderr.

Example:
  $ sign-action mint --key $KEY --nonce 3 \
      --payload '{"tokenIn":"0x...","tokenOut":"0x...","amountIn":"100","amountOut":"200"}'
  $ sign-action book_swap --key $KEY --nonce 4 --payload @swap.json --submit http://localhost:8080`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := transaction.Kind(args[0])
			if _, ok := transaction.ClassOf(kind); !ok {
				return fmt.Errorf("unknown kind %q", kind)
			}

			signer, err := loadSigner(key, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			raw, err := readPayload(payload)
			if err != nil {
				return err
			}

			e := crypto.NewEIP712Signer(crypto.DefaultDomain(chainID))
			tx, err := transaction.Sign(e, signer, kind, nonce, deadline, raw)
			if err != nil {
				return err
			}
			body, err := tx.Serialize()
			if err != nil {
				return err
			}

			if submit == "" {
				var pretty bytes.Buffer
				if err := json.Indent(&pretty, body, "", "  "); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
				return nil
			}
			return post(cmd.OutOrStdout(), strings.TrimRight(submit, "/")+"/api/v1/tx", body)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "hex private key of the sender")
	cmd.Flags().Uint64Var(&nonce, "nonce", 1, "action nonce, one above the sender's last")
	cmd.Flags().Uint64Var(&deadline, "deadline", 0, "unix deadline in seconds, 0 for none")
	cmd.Flags().Uint64Var(&chainID, "chain-id", 31337, "chain id of the signing domain")
	cmd.Flags().StringVar(&payload, "payload", "{}", "payload JSON or @file")
	cmd.Flags().StringVar(&submit, "submit", "", "node URL to submit the signed action to")
	return cmd
}

func loadSigner(key string, warn io.Writer) (*crypto.Signer, error) {
	if key != "" {
		return crypto.FromPrivateKeyHex(key)
	}
	s, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(warn, "generated key %s for %s\n", s.PrivateKeyHex(), s.Address().Hex())
	return s, nil
}

func readPayload(arg string) (json.RawMessage, error) {
	data := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		var err error
		if data, err = os.ReadFile(arg[1:]); err != nil {
			return nil, err
		}
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func post(out io.Writer, url string, body []byte) error {
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	reply, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s\n", resp.Status, bytes.TrimSpace(reply))
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("node rejected action")
	}
	return nil
}
