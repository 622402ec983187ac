package transaction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/stakedex/pkg/crypto"
)

var (
	ErrUnknownKind    = errors.New("transaction: unknown kind")
	ErrMalformed      = errors.New("transaction: malformed")
	ErrBadSignature   = errors.New("transaction: bad signature")
	ErrSenderMismatch = errors.New("transaction: signer is not sender")
)

// Kind names the exchange call an action performs.
type Kind string

const (
	// admin
	KindRegisterToken Kind = "register_token"
	KindFaucet        Kind = "faucet"
	KindSetFeeTo      Kind = "set_fee_to"

	// maker and account
	KindCreatePair       Kind = "create_pair"
	KindMint             Kind = "mint"
	KindIncreasePosition Kind = "increase_position"
	KindDecreasePosition Kind = "decrease_position"
	KindBurn             Kind = "burn"
	KindRedeem           Kind = "redeem"
	KindTransferPosition Kind = "transfer_position"
	KindAddLiquidity     Kind = "add_liquidity"
	KindRemoveLiquidity  Kind = "remove_liquidity"
	KindApprove          Kind = "approve"
	KindTransfer         Kind = "transfer"
	KindWrap             Kind = "wrap"
	KindUnwrap           Kind = "unwrap"

	// taker
	KindBookSwap            Kind = "book_swap"
	KindSwapExactIn         Kind = "swap_exact_in"
	KindSwapExactOut        Kind = "swap_exact_out"
	KindSwapExactOutFOT     Kind = "swap_exact_out_fot"
	KindFastAddLiquidity    Kind = "fast_add_liquidity"
	KindFastRemoveLiquidity Kind = "fast_remove_liquidity"
)

// Class orders actions inside a block: admin first, then makers, then takers.
type Class int

const (
	ClassAdmin Class = iota
	ClassMaker
	ClassTaker
)

func (c Class) String() string {
	switch c {
	case ClassAdmin:
		return "admin"
	case ClassMaker:
		return "maker"
	case ClassTaker:
		return "taker"
	default:
		return "unknown"
	}
}

var classes = map[Kind]Class{
	KindRegisterToken:       ClassAdmin,
	KindFaucet:              ClassAdmin,
	KindSetFeeTo:            ClassAdmin,
	KindCreatePair:          ClassMaker,
	KindMint:                ClassMaker,
	KindIncreasePosition:    ClassMaker,
	KindDecreasePosition:    ClassMaker,
	KindBurn:                ClassMaker,
	KindRedeem:              ClassMaker,
	KindTransferPosition:    ClassMaker,
	KindAddLiquidity:        ClassMaker,
	KindRemoveLiquidity:     ClassMaker,
	KindApprove:             ClassMaker,
	KindTransfer:            ClassMaker,
	KindWrap:                ClassMaker,
	KindUnwrap:              ClassMaker,
	KindBookSwap:            ClassTaker,
	KindSwapExactIn:         ClassTaker,
	KindSwapExactOut:        ClassTaker,
	KindSwapExactOutFOT:     ClassTaker,
	KindFastAddLiquidity:    ClassTaker,
	KindFastRemoveLiquidity: ClassTaker,
}

// ClassOf reports the class of k and whether k is known.
func ClassOf(k Kind) (Class, bool) {
	c, ok := classes[k]
	return c, ok
}

// SignedTransaction is the wire form of an action. Payload is kept verbatim;
// its keccak256 is what the signature commits to.
type SignedTransaction struct {
	Kind      Kind            `json:"kind"`
	Sender    common.Address  `json:"sender"`
	Nonce     string          `json:"nonce"`
	Deadline  string          `json:"deadline"` // unix seconds, "0" = no expiry
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &tx, nil
}

// Validate checks structure only; signatures are checked by the Verifier.
func (tx *SignedTransaction) Validate() error {
	if _, ok := ClassOf(tx.Kind); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, tx.Kind)
	}
	if tx.Sender == (common.Address{}) {
		return fmt.Errorf("%w: missing sender", ErrMalformed)
	}
	if _, err := tx.NonceValue(); err != nil {
		return err
	}
	if _, err := tx.DeadlineValue(); err != nil {
		return err
	}
	if len(tx.Payload) == 0 {
		return fmt.Errorf("%w: missing payload", ErrMalformed)
	}
	if tx.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrMalformed)
	}
	return nil
}

func (tx *SignedTransaction) NonceValue() (uint64, error) {
	n, err := strconv.ParseUint(tx.Nonce, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: nonce %q", ErrMalformed, tx.Nonce)
	}
	return n, nil
}

func (tx *SignedTransaction) DeadlineValue() (uint64, error) {
	if tx.Deadline == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(tx.Deadline, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: deadline %q", ErrMalformed, tx.Deadline)
	}
	return n, nil
}

// RouterDeadline maps "no expiry" to the largest deadline.
func (tx *SignedTransaction) RouterDeadline() int64 {
	d, err := tx.DeadlineValue()
	if err != nil || d == 0 || d > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(d)
}

func (tx *SignedTransaction) PayloadHash() common.Hash {
	return ethCrypto.Keccak256Hash(tx.Payload)
}

// Class reports the mempool class; unknown kinds sort with takers.
func (tx *SignedTransaction) Class() Class {
	if c, ok := ClassOf(tx.Kind); ok {
		return c
	}
	return ClassTaker
}

// ToEIP712Action converts the envelope to the typed data that was signed.
func (tx *SignedTransaction) ToEIP712Action() (*crypto.ActionEIP712, error) {
	nonce, err := tx.NonceValue()
	if err != nil {
		return nil, err
	}
	deadline, err := tx.DeadlineValue()
	if err != nil {
		return nil, err
	}
	return &crypto.ActionEIP712{
		Kind:        string(tx.Kind),
		PayloadHash: tx.PayloadHash(),
		Nonce:       new(big.Int).SetUint64(nonce),
		Deadline:    new(big.Int).SetUint64(deadline),
		Sender:      tx.Sender,
	}, nil
}

// Decode strictly unmarshals the payload into v.
func (tx *SignedTransaction) Decode(v any) error {
	dec := json.NewDecoder(bytes.NewReader(tx.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, tx.Kind, err)
	}
	return nil
}

// Sign builds and signs an action for signer. Payload is marshalled once and
// the exact bytes are both hashed and shipped.
func Sign(e *crypto.EIP712Signer, signer *crypto.Signer, kind Kind, nonce, deadline uint64, payload any) (*SignedTransaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	tx := &SignedTransaction{
		Kind:     kind,
		Sender:   signer.Address(),
		Nonce:    strconv.FormatUint(nonce, 10),
		Deadline: strconv.FormatUint(deadline, 10),
		Payload:  raw,
	}
	action, err := tx.ToEIP712Action()
	if err != nil {
		return nil, err
	}
	sig, err := e.SignAction(signer, action)
	if err != nil {
		return nil, err
	}
	tx.Signature = crypto.EncodeSignature(sig)
	return tx, nil
}
