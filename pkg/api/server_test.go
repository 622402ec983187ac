package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/stakedex/pkg/abci"
	"github.com/uhyunpark/stakedex/pkg/app/core/asset"
	"github.com/uhyunpark/stakedex/pkg/app/core/dex"
	"github.com/uhyunpark/stakedex/pkg/app/core/transaction"
	"github.com/uhyunpark/stakedex/pkg/app/exchange"
	"github.com/uhyunpark/stakedex/pkg/crypto"
	"github.com/uhyunpark/stakedex/pkg/storage"
)

const adminKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	tokenA = common.HexToAddress("0x000000000000000000000000000000000000A001")
	tokenB = common.HexToAddress("0x000000000000000000000000000000000000B002")
)

func e18(v uint64) string {
	return new(uint256.Int).Mul(uint256.NewInt(v), uint256.NewInt(1_000_000_000_000_000_000)).Dec()
}

type node struct {
	t      *testing.T
	app    *exchange.App
	srv    *Server
	http   *httptest.Server
	admin  *crypto.Signer
	height int64
	nonces map[common.Address]uint64
}

func newNode(t *testing.T, opts Options) *node {
	t.Helper()
	admin, err := crypto.FromPrivateKeyHex(adminKey)
	require.NoError(t, err)
	app, err := exchange.New(exchange.Config{
		ChainID:    31337,
		Admin:      admin.Address(),
		Dex:        dex.DefaultConfig(),
		MaxTxBytes: 1 << 16,
	}, nil)
	require.NoError(t, err)
	app.Store = storage.NewMemStore()

	srv := NewServer(app, opts, nil)
	app.OnBlock = srv.BroadcastBlock
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Hub().Run(ctx)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		cancel()
	})
	return &node{t: t, app: app, srv: srv, http: hs, admin: admin, nonces: make(map[common.Address]uint64)}
}

func (n *node) sign(s *crypto.Signer, kind transaction.Kind, payload any) []byte {
	n.t.Helper()
	n.nonces[s.Address()]++
	tx, err := transaction.Sign(n.app.Verifier().Signer(), s, kind, n.nonces[s.Address()], 0, payload)
	require.NoError(n.t, err)
	raw, err := tx.Serialize()
	require.NoError(n.t, err)
	return raw
}

func (n *node) post(raw []byte) (int, SubmitResponse, ErrorResponse) {
	n.t.Helper()
	resp, err := http.Post(n.http.URL+"/api/v1/tx", "application/json", bytes.NewReader(raw))
	require.NoError(n.t, err)
	defer resp.Body.Close()
	var (
		ok  SubmitResponse
		bad ErrorResponse
	)
	if resp.StatusCode == http.StatusAccepted {
		require.NoError(n.t, json.NewDecoder(resp.Body).Decode(&ok))
	} else {
		require.NoError(n.t, json.NewDecoder(resp.Body).Decode(&bad))
	}
	return resp.StatusCode, ok, bad
}

func (n *node) submit(txs ...[]byte) []SubmitResponse {
	n.t.Helper()
	out := make([]SubmitResponse, len(txs))
	for i, raw := range txs {
		code, res, bad := n.post(raw)
		require.Equalf(n.t, http.StatusAccepted, code, "%s: %s", bad.Error, bad.Message)
		out[i] = res
	}
	return out
}

// block executes everything pending the way the sequencer would.
func (n *node) block() {
	n.t.Helper()
	n.height++
	prep := n.app.PrepareProposal(abci.RequestPrepareProposal{Height: n.height, MaxTxBytes: 1 << 20})
	fin := n.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: n.height, Timestamp: 1_700_000_000 + n.height, Txs: prep.Txs})
	for _, r := range fin.TxResults {
		require.Equalf(n.t, exchange.CodeOK, r.Code, "%s: %s", r.Kind, r.Log)
	}
	_, err := n.app.Commit(abci.RequestCommit{Height: n.height})
	require.NoError(n.t, err)
}

func (n *node) get(path string, v any) int {
	n.t.Helper()
	resp, err := http.Get(n.http.URL + path)
	require.NoError(n.t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		require.NoError(n.t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func (n *node) seed(users ...*crypto.Signer) {
	n.t.Helper()
	txs := [][]byte{
		n.sign(n.admin, transaction.KindRegisterToken, transaction.RegisterTokenPayload{Token: tokenA, Name: "Token A", Symbol: "A", Decimals: 18}),
		n.sign(n.admin, transaction.KindRegisterToken, transaction.RegisterTokenPayload{Token: tokenB, Name: "Token B", Symbol: "B", Decimals: 18}),
	}
	for _, u := range users {
		for _, tok := range []common.Address{tokenA, tokenB, asset.NativeAddress} {
			txs = append(txs, n.sign(n.admin, transaction.KindFaucet, transaction.FaucetPayload{Token: tok, To: u.Address(), Amount: e18(1000)}))
		}
	}
	n.submit(txs...)
	n.block()
}

func newUser(t *testing.T) *crypto.Signer {
	t.Helper()
	s, err := crypto.GenerateKey()
	require.NoError(t, err)
	return s
}

func TestSubmitAndQuery(t *testing.T) {
	n := newNode(t, Options{})
	maker := newUser(t)
	n.seed(maker)

	n.submit(n.sign(maker, transaction.KindApprove, transaction.ApprovePayload{Token: tokenA, Spender: n.app.Contracts().Dex, Amount: "max"}))
	minted := n.submit(n.sign(maker, transaction.KindMint, transaction.MintPayload{TokenIn: tokenA, TokenOut: tokenB, AmountIn: e18(100), AmountOut: e18(200)}))
	require.Equal(t, "maker", minted[0].Class)
	require.Equal(t, maker.Address(), minted[0].Sender)
	n.block()

	var status Status
	require.Equal(t, http.StatusOK, n.get("/api/v1/status", &status))
	require.Equal(t, int64(2), status.Height)
	require.Equal(t, n.app.AppHash().Hex(), status.AppHash)
	require.Equal(t, n.app.Contracts(), status.Contracts)

	var tokens []TokenInfo
	require.Equal(t, http.StatusOK, n.get("/api/v1/tokens", &tokens))
	require.Len(t, tokens, 2)

	var pairs []PairInfo
	require.Equal(t, http.StatusOK, n.get("/api/v1/pairs", &pairs))
	require.Len(t, pairs, 1)
	require.Equal(t, uint64(1), pairs[0].Book0)

	var depth BookDepth
	require.Equal(t, http.StatusOK, n.get(fmt.Sprintf("/api/v1/depth?tokenIn=%s&tokenOut=%s", tokenA.Hex(), tokenB.Hex()), &depth))
	require.Len(t, depth.Levels, 1)
	require.Equal(t, e18(100), depth.Levels[0].Depth)
	require.NotEmpty(t, depth.Levels[0].PriceDecimal)

	var byID BookDepth
	require.Equal(t, http.StatusOK, n.get(fmt.Sprintf("/api/v1/books/%d/depth", depth.Book), &byID))
	require.Equal(t, depth.Levels, byID.Levels)
	require.Equal(t, http.StatusNotFound, n.get("/api/v1/books/99/depth", nil))

	var positions []PositionInfo
	require.Equal(t, http.StatusOK, n.get("/api/v1/owners/"+maker.Address().Hex()+"/positions", &positions))
	require.Len(t, positions, 1)
	require.Equal(t, e18(100), positions[0].PendingIn)

	var pos PositionInfo
	require.Equal(t, http.StatusOK, n.get(fmt.Sprintf("/api/v1/positions/%d", positions[0].ID), &pos))
	require.Equal(t, maker.Address(), pos.Owner)

	var bal BalanceInfo
	require.Equal(t, http.StatusOK, n.get("/api/v1/balances/"+maker.Address().Hex(), &bal))
	require.Equal(t, e18(900), bal.Tokens[tokenA])
	require.Equal(t, e18(1000), bal.Native)

	var nonce NonceInfo
	require.Equal(t, http.StatusOK, n.get("/api/v1/nonce/"+maker.Address().Hex(), &nonce))
	require.Equal(t, uint64(2), nonce.Nonce)

	var allowance AllowanceInfo
	require.Equal(t, http.StatusOK, n.get(fmt.Sprintf("/api/v1/allowance?token=%s&owner=%s&spender=%s",
		tokenA.Hex(), maker.Address().Hex(), n.app.Contracts().Dex.Hex()), &allowance))
	require.NotEqual(t, "0", allowance.Allowance)

	var rc exchange.Receipt
	require.Equal(t, http.StatusOK, n.get("/api/v1/receipts/tx/"+minted[0].TxHash.Hex(), &rc))
	require.Equal(t, "ok", rc.Status)
	require.Equal(t, "mint", rc.Kind)

	var byReceiptID exchange.Receipt
	require.Equal(t, http.StatusOK, n.get("/api/v1/receipts/"+rc.ID, &byReceiptID))
	require.Equal(t, rc.TxHash, byReceiptID.TxHash)

	var blk exchange.BlockRecord
	require.Equal(t, http.StatusOK, n.get("/api/v1/blocks/2", &blk))
	require.Contains(t, blk.Receipts, rc.ID)
	require.Equal(t, http.StatusNotFound, n.get("/api/v1/blocks/9", nil))
	require.Equal(t, http.StatusBadRequest, n.get("/api/v1/balances/nope", nil))
}

func TestSubmitRejections(t *testing.T) {
	n := newNode(t, Options{MaxBodyBytes: 4096})
	user := newUser(t)
	n.seed(user)

	code, _, _ := n.post([]byte("not json"))
	require.Equal(t, http.StatusBadRequest, code)

	forged := n.sign(user, transaction.KindFaucet, transaction.FaucetPayload{Token: tokenA, To: user.Address(), Amount: "1"})
	code, _, _ = n.post(forged)
	require.Equal(t, http.StatusForbidden, code)

	tampered := n.sign(user, transaction.KindTransfer, transaction.TransferPayload{Token: tokenA, To: n.admin.Address(), Amount: "1"})
	var env map[string]any
	require.NoError(t, json.Unmarshal(tampered, &env))
	env["payload"] = map[string]any{"token": tokenA, "to": n.admin.Address(), "amount": "9"}
	tampered, err := json.Marshal(env)
	require.NoError(t, err)
	code, _, _ = n.post(tampered)
	require.Equal(t, http.StatusUnauthorized, code)

	// nonce 1 executes, then a second action reuses it
	n.nonces[user.Address()] = 0
	first := n.sign(user, transaction.KindTransfer, transaction.TransferPayload{Token: tokenA, To: n.admin.Address(), Amount: "1"})
	n.submit(first)
	n.block()
	n.nonces[user.Address()] = 0
	stale := n.sign(user, transaction.KindTransfer, transaction.TransferPayload{Token: tokenA, To: n.admin.Address(), Amount: "2"})
	code, _, bad := n.post(stale)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "stale nonce", bad.Error)

	big := n.sign(user, transaction.KindRegisterToken, transaction.RegisterTokenPayload{Token: tokenA, Name: strings.Repeat("x", 8192)})
	code, _, _ = n.post(big)
	require.Equal(t, http.StatusRequestEntityTooLarge, code)
}

func TestQuoteEndpoints(t *testing.T) {
	n := newNode(t, Options{})
	lp := newUser(t)
	n.seed(lp)
	router := n.app.Contracts().Router
	n.submit(
		n.sign(lp, transaction.KindApprove, transaction.ApprovePayload{Token: tokenA, Spender: router, Amount: "max"}),
		n.sign(lp, transaction.KindApprove, transaction.ApprovePayload{Token: tokenB, Spender: router, Amount: "max"}),
		n.sign(lp, transaction.KindAddLiquidity, transaction.AddLiquidityPayload{
			TokenA: tokenA, TokenB: tokenB,
			AmountADesired: e18(100), AmountBDesired: e18(100),
			To: lp.Address(),
		}),
	)
	n.block()

	path := tokenA.Hex() + "," + tokenB.Hex()
	var out QuoteInfo
	require.Equal(t, http.StatusOK, n.get("/api/v1/quote/out?path="+path+"&amount="+e18(1), &out))
	require.Len(t, out.Amounts, 2)
	require.Equal(t, e18(1), out.Amounts[0])
	require.Len(t, out.Hops, 1)

	var byDecimal QuoteInfo
	require.Equal(t, http.StatusOK, n.get("/api/v1/quote/out?path="+path+"&amountDecimal=1", &byDecimal))
	require.Equal(t, out.Amounts, byDecimal.Amounts)

	var in QuoteInfo
	require.Equal(t, http.StatusOK, n.get("/api/v1/quote/in?path="+path+"&amount="+out.Amounts[1], &in))
	require.Equal(t, out.Amounts[1], in.Amounts[1])

	var pools []PoolInfo
	require.Equal(t, http.StatusOK, n.get("/api/v1/pools", &pools))
	require.Len(t, pools, 1)

	require.Equal(t, http.StatusBadRequest, n.get("/api/v1/quote/out?path="+tokenA.Hex()+"&amount=1", nil))
	require.Equal(t, http.StatusBadRequest, n.get("/api/v1/quote/out?path="+path+"&amount=-1", nil))
	require.Equal(t, http.StatusBadRequest, n.get("/api/v1/quote/out?path="+path+"&amountDecimal=0.0000000000000000001", nil))
}

func TestWebSocketChannels(t *testing.T) {
	n := newNode(t, Options{})
	maker, taker := newUser(t), newUser(t)
	n.seed(maker, taker)
	n.submit(
		n.sign(maker, transaction.KindApprove, transaction.ApprovePayload{Token: tokenA, Spender: n.app.Contracts().Dex, Amount: "max"}),
		n.sign(maker, transaction.KindMint, transaction.MintPayload{TokenIn: tokenA, TokenOut: tokenB, AmountIn: e18(100), AmountOut: e18(200)}),
	)
	n.block()

	url := "ws" + strings.TrimPrefix(n.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	owner := maker.Address().Hex()
	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{"trades", "book:1", "blocks", "positions:" + owner}}))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ack map[string]any
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, "ack", ack["type"])

	n.submit(
		n.sign(taker, transaction.KindBookSwap, transaction.BookSwapPayload{TokenIn: tokenB, TokenOut: tokenA, AmountIn: e18(10)}),
		n.sign(maker, transaction.KindIncreasePosition, transaction.IncreasePositionPayload{Position: 1, AmountIn: e18(1)}),
	)
	n.block()

	seen := map[string]int{}
	for seen["trade"] < 2 || seen["block"] < 1 || seen["book"] < 1 || seen["position"] < 1 {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		kind, _ := msg["type"].(string)
		seen[kind]++
		if kind == "position" {
			require.Equal(t, "increase", msg["event"])
		}
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in       string
		decimals int32
		want     string
		ok       bool
	}{
		{"100", 0, "100", true},
		{"1.5", 18, "1500000000000000000", true},
		{"0.000001", 6, "1", true},
		{"1.5", 0, "", false},
		{"-1", 0, "", false},
		{"abc", 0, "", false},
	}
	for _, tc := range cases {
		got, err := parseAmount(tc.in, tc.decimals)
		if !tc.ok {
			require.Errorf(t, err, "%s", tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got.Dec())
	}
	require.Equal(t, "2.5", priceDecimal(uint256.NewInt(25_000_000_000), uint256.NewInt(10_000_000_000)))
}
