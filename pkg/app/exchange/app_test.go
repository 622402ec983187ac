package exchange

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/stakedex/pkg/abci"
	"github.com/uhyunpark/stakedex/pkg/app/core/asset"
	"github.com/uhyunpark/stakedex/pkg/app/core/dex"
	"github.com/uhyunpark/stakedex/pkg/app/core/transaction"
	"github.com/uhyunpark/stakedex/pkg/crypto"
)

const adminKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	tokenA = common.HexToAddress("0x000000000000000000000000000000000000A001")
	tokenB = common.HexToAddress("0x000000000000000000000000000000000000B002")
)

func e18(v uint64) string {
	return new(uint256.Int).Mul(uint256.NewInt(v), uint256.NewInt(1_000_000_000_000_000_000)).Dec()
}

type chain struct {
	t      *testing.T
	app    *App
	admin  *crypto.Signer
	height int64
	ts     int64
	nonces map[common.Address]uint64
	last   BlockResult
}

func newChain(t *testing.T) *chain {
	t.Helper()
	admin, err := crypto.FromPrivateKeyHex(adminKey)
	require.NoError(t, err)
	cfg := Config{ChainID: 31337, Admin: admin.Address(), Dex: dex.DefaultConfig()}
	app, err := New(cfg, nil)
	require.NoError(t, err)
	c := &chain{t: t, app: app, admin: admin, ts: 1_700_000_000, nonces: make(map[common.Address]uint64)}
	app.OnBlock = func(b BlockResult) { c.last = b }
	return c
}

func (c *chain) signAt(s *crypto.Signer, nonce, deadline uint64, kind transaction.Kind, payload any) []byte {
	c.t.Helper()
	tx, err := transaction.Sign(c.app.Verifier().Signer(), s, kind, nonce, deadline, payload)
	require.NoError(c.t, err)
	raw, err := tx.Serialize()
	require.NoError(c.t, err)
	return raw
}

func (c *chain) sign(s *crypto.Signer, kind transaction.Kind, payload any) []byte {
	c.nonces[s.Address()]++
	return c.signAt(s, c.nonces[s.Address()], 0, kind, payload)
}

func (c *chain) block(txs ...[]byte) []Receipt {
	c.t.Helper()
	c.height++
	c.ts++
	fin := c.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: c.height, Timestamp: c.ts, Txs: txs})
	require.Len(c.t, fin.TxResults, len(txs))
	_, err := c.app.Commit(abci.RequestCommit{Height: c.height})
	require.NoError(c.t, err)
	require.Equal(c.t, c.height, c.last.Height)
	return c.last.Receipts
}

func requireOK(t *testing.T, rs []Receipt) {
	t.Helper()
	for _, r := range rs {
		require.Equalf(t, CodeOK, r.Code, "%s: %s", r.Kind, r.Error)
	}
}

func newUser(t *testing.T) *crypto.Signer {
	t.Helper()
	s, err := crypto.GenerateKey()
	require.NoError(t, err)
	return s
}

// seed registers both tokens and funds users with amount of each.
func (c *chain) seed(amount string, users ...*crypto.Signer) {
	c.t.Helper()
	txs := [][]byte{
		c.sign(c.admin, transaction.KindRegisterToken, transaction.RegisterTokenPayload{Token: tokenA, Name: "Token A", Symbol: "A", Decimals: 18}),
		c.sign(c.admin, transaction.KindRegisterToken, transaction.RegisterTokenPayload{Token: tokenB, Name: "Token B", Symbol: "B", Decimals: 18}),
	}
	for _, u := range users {
		for _, tok := range []common.Address{tokenA, tokenB, asset.NativeAddress} {
			txs = append(txs, c.sign(c.admin, transaction.KindFaucet, transaction.FaucetPayload{Token: tok, To: u.Address(), Amount: amount}))
		}
	}
	requireOK(c.t, c.block(txs...))
}

func TestMakerAndTakerThroughBlocks(t *testing.T) {
	c := newChain(t)
	maker, taker := newUser(t), newUser(t)
	c.seed(e18(1000), maker, taker)
	dexAddr := c.app.Contracts().Dex

	rs := c.block(
		c.sign(maker, transaction.KindApprove, transaction.ApprovePayload{Token: tokenA, Spender: dexAddr, Amount: "max"}),
		c.sign(maker, transaction.KindMint, transaction.MintPayload{TokenIn: tokenA, TokenOut: tokenB, AmountIn: e18(100), AmountOut: e18(200)}),
	)
	requireOK(t, rs)
	id := rs[1].Result.(result)["position"].(uint64)
	require.Equal(t, uint64(1), id)

	book, levels, err := c.app.Depth(tokenA, tokenB)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	require.Equal(t, e18(100), levels[0].Depth.Dec())

	rs = c.block(c.sign(taker, transaction.KindBookSwap, transaction.BookSwapPayload{TokenIn: tokenB, TokenOut: tokenA, AmountIn: e18(10)}))
	requireOK(t, rs)
	res := rs[0].Result.(result)
	require.Equal(t, book, res["book"])
	kinds := map[string]int{}
	for _, ev := range rs[0].Events {
		kinds[ev.Kind]++
	}
	require.Equal(t, 1, kinds["fill"])
	require.Equal(t, 1, kinds["swap"])

	got := c.app.Balances(taker.Address()).Tokens[tokenA]
	require.NotNil(t, got)
	require.Equal(t, res["amountOut"], new(uint256.Int).Sub(got, uint256.MustFromDecimal(e18(1000))).Dec())

	p, err := c.app.Position(id)
	require.NoError(t, err)
	require.False(t, p.Filled.IsZero(), "maker position settles the fill")
	require.Len(t, c.app.PositionsOf(maker.Address()), 1)
}

func TestNonceRules(t *testing.T) {
	c := newChain(t)
	user := newUser(t)
	c.seed(e18(10), user)

	approve := c.sign(user, transaction.KindApprove, transaction.ApprovePayload{Token: tokenA, Spender: c.app.Contracts().Router, Amount: "1"})
	rs := c.block(approve, approve)
	require.Equal(t, CodeOK, rs[0].Code)
	require.Equal(t, CodeNonce, rs[1].Code)
	require.NotEqual(t, rs[0].ID, rs[1].ID)

	// no book for the pair: execution fails but the nonce is spent
	swap := c.sign(user, transaction.KindBookSwap, transaction.BookSwapPayload{TokenIn: tokenB, TokenOut: tokenA, AmountIn: e18(1)})
	rs = c.block(swap)
	require.Equal(t, CodeRejected, rs[0].Code)
	require.Equal(t, c.nonces[user.Address()], c.app.Nonce(user.Address()))
	require.Equal(t, e18(10), c.app.Balances(user.Address()).Tokens[tokenB].Dec(), "failed swap reverts the transfer")

	stale := c.signAt(user, 1, 0, transaction.KindWrap, transaction.WrapPayload{Amount: "1"})
	require.Equal(t, CodeNonce, c.block(stale)[0].Code)
}

func TestRejections(t *testing.T) {
	c := newChain(t)
	user := newUser(t)
	c.seed(e18(10), user)

	forged := c.sign(user, transaction.KindFaucet, transaction.FaucetPayload{Token: tokenA, To: user.Address(), Amount: e18(1)})
	expired := c.signAt(user, 100, uint64(c.ts-10), transaction.KindWrap, transaction.WrapPayload{Amount: "1"})

	var env map[string]any
	tampered := c.sign(user, transaction.KindWrap, transaction.WrapPayload{Amount: "1"})
	require.NoError(t, json.Unmarshal(tampered, &env))
	env["payload"] = map[string]any{"amount": "2"}
	tampered, _ = json.Marshal(env)

	rs := c.block(forged, expired, tampered, []byte("not json"))
	require.Equal(t, CodeUnauthorized, rs[0].Code)
	require.Equal(t, CodeExpired, rs[1].Code)
	require.Equal(t, CodeBadSignature, rs[2].Code)
	require.Equal(t, CodeMalformed, rs[3].Code)
	require.Equal(t, uint64(0), c.app.Nonce(user.Address()), "rejected envelopes consume no nonce")
}

func TestMempoolOrdersMakersBeforeTakers(t *testing.T) {
	c := newChain(t)
	maker, taker := newUser(t), newUser(t)
	c.seed(e18(100), maker, taker)

	swap := c.sign(taker, transaction.KindBookSwap, transaction.BookSwapPayload{TokenIn: tokenB, TokenOut: tokenA, AmountIn: e18(1)})
	approve := c.sign(maker, transaction.KindApprove, transaction.ApprovePayload{Token: tokenA, Spender: c.app.Contracts().Dex, Amount: "max"})
	mint := c.sign(maker, transaction.KindMint, transaction.MintPayload{TokenIn: tokenA, TokenOut: tokenB, AmountIn: e18(10), AmountOut: e18(10)})
	for _, raw := range [][]byte{swap, approve, mint} {
		_, _, err := c.app.CheckTx(raw)
		require.NoError(t, err)
		_, err = c.app.PushTx(raw)
		require.NoError(t, err)
	}

	prep := c.app.PrepareProposal(abci.RequestPrepareProposal{Height: 2, MaxTxBytes: 1 << 20})
	require.Len(t, prep.Txs, 3)
	requireOK(t, c.block(prep.Txs...))
	require.Equal(t, "book_swap", c.last.Receipts[2].Kind)
}

func TestRouterActions(t *testing.T) {
	c := newChain(t)
	lp, trader := newUser(t), newUser(t)
	c.seed(e18(1000), lp, trader)
	router := c.app.Contracts().Router

	rs := c.block(
		c.sign(lp, transaction.KindApprove, transaction.ApprovePayload{Token: tokenA, Spender: router, Amount: "max"}),
		c.sign(lp, transaction.KindApprove, transaction.ApprovePayload{Token: tokenB, Spender: router, Amount: "max"}),
		c.sign(lp, transaction.KindAddLiquidity, transaction.AddLiquidityPayload{
			TokenA: tokenA, TokenB: tokenB,
			AmountADesired: e18(100), AmountBDesired: e18(100),
			To: lp.Address(),
		}),
		c.sign(trader, transaction.KindApprove, transaction.ApprovePayload{Token: tokenA, Spender: router, Amount: "max"}),
		c.sign(trader, transaction.KindSwapExactIn, transaction.SwapExactInPayload{
			Path: []common.Address{tokenA, tokenB}, AmountIn: e18(1), AmountOutMin: "1", To: trader.Address(),
		}),
	)
	requireOK(t, rs)
	amounts := rs[4].Result.(result)["amounts"].([]string)
	require.Len(t, amounts, 2)

	q, err := c.app.QuoteOut(uint256.MustFromDecimal(e18(1)), []common.Address{tokenA, tokenB})
	require.NoError(t, err)
	require.False(t, q.Amounts[1].IsZero())
	require.Len(t, c.app.Pools(), 1)

	slippage := c.sign(trader, transaction.KindSwapExactIn, transaction.SwapExactInPayload{
		Path: []common.Address{tokenA, tokenB}, AmountIn: e18(1), AmountOutMin: e18(5), To: trader.Address(),
	})
	require.Equal(t, CodeRejected, c.block(slippage)[0].Code)
}

func TestSnapshotRestore(t *testing.T) {
	c := newChain(t)
	maker, lp := newUser(t), newUser(t)
	c.seed(e18(1000), maker, lp)
	requireOK(t, c.block(
		c.sign(maker, transaction.KindApprove, transaction.ApprovePayload{Token: tokenA, Spender: c.app.Contracts().Dex, Amount: "max"}),
		c.sign(maker, transaction.KindMint, transaction.MintPayload{TokenIn: tokenA, TokenOut: tokenB, AmountIn: e18(50), AmountOut: e18(60)}),
		c.sign(maker, transaction.KindMint, transaction.MintPayload{TokenIn: asset.NativeAddress, TokenOut: tokenB, AmountIn: e18(3), AmountOut: e18(6), Value: e18(3)}),
		c.sign(lp, transaction.KindApprove, transaction.ApprovePayload{Token: tokenB, Spender: c.app.Contracts().Router, Amount: "max"}),
		c.sign(lp, transaction.KindAddLiquidity, transaction.AddLiquidityPayload{
			TokenA: asset.NativeAddress, TokenB: tokenB,
			AmountADesired: e18(10), AmountBDesired: e18(20), Value: e18(10),
			To: lp.Address(),
		}),
		c.sign(lp, transaction.KindBookSwap, transaction.BookSwapPayload{TokenIn: tokenB, TokenOut: tokenA, AmountIn: e18(12)}),
	))

	snap, err := c.app.Export()
	require.NoError(t, err)
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded Snapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))

	restored, err := New(c.app.Config(), nil)
	require.NoError(t, err)
	require.NoError(t, restored.Restore(&decoded))
	require.Equal(t, c.app.AppHash(), restored.AppHash())
	require.Equal(t, c.app.Height(), restored.Height())

	// both replicas stay in lockstep on the next block
	next := c.sign(maker, transaction.KindDecreasePosition, transaction.DecreasePositionPayload{Position: 2, AmountIn: e18(1)})
	req := abci.RequestFinalizeBlock{Height: c.height + 1, Timestamp: c.ts + 1, Txs: [][]byte{next}}
	a := c.app.FinalizeBlock(req)
	b := restored.FinalizeBlock(req)
	require.Equal(t, CodeOK, a.TxResults[0].Code, a.TxResults[0].Log)
	require.Equal(t, a.TxResults, b.TxResults)
	require.Equal(t, a.AppHash, b.AppHash)

	require.Error(t, restored.Restore(&decoded), "restore twice")
}

func TestAppHashChangesWithState(t *testing.T) {
	c := newChain(t)
	user := newUser(t)
	c.seed(e18(1), user)
	before := c.app.AppHash()
	c.block(c.sign(user, transaction.KindWrap, transaction.WrapPayload{Amount: "5"}))
	require.NotEqual(t, before, c.app.AppHash())
	require.Equal(t, "5", c.app.Balances(user.Address()).Tokens[c.app.Contracts().WETH].Dec())
}
