package amm

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/stakedex/pkg/app/core/asset"
	"github.com/uhyunpark/stakedex/pkg/app/core/fixed"
	"github.com/uhyunpark/stakedex/pkg/app/core/state"
)

var (
	tokenA   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenC   = common.HexToAddress("0x3000000000000000000000000000000000000003")
	factory  = common.HexToAddress("0x00000000000000000000000000000000000fac70")
	admin    = common.HexToAddress("0xad")
	provider = common.HexToAddress("0x11")
	trader   = common.HexToAddress("0x22")
	ammFee   = common.HexToAddress("0x0000000000000000000000000000000000001fee")
)

func e18(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), fixed.Pow10(18))
}

func setup(t *testing.T) (*Factory, *asset.Ledger, *Pair) {
	t.Helper()
	j := state.NewJournal()
	l := asset.NewLedger(j)
	require.NoError(t, l.Register(tokenA, asset.Meta{Symbol: "A", Decimals: 18}))
	require.NoError(t, l.Register(tokenC, asset.Meta{Symbol: "C", Decimals: 18}))
	f := NewFactory(j, l, factory, admin, nil)
	p, err := f.CreatePair(tokenC, tokenA)
	require.NoError(t, err)
	return f, l, p
}

func seed(t *testing.T, l *asset.Ledger, p *Pair, a, c *uint256.Int) *uint256.Int {
	t.Helper()
	require.NoError(t, l.Mint(tokenA, p.Address(), a))
	require.NoError(t, l.Mint(tokenC, p.Address(), c))
	liq, err := p.Mint(provider)
	require.NoError(t, err)
	return liq
}

func TestGetAmountOutFixture(t *testing.T) {
	out, err := GetAmountOut(fixed.MustParse("99800000000000000000"), e18(10000), e18(3000))
	require.NoError(t, err)
	require.Equal(t, "29570771491265873664", out.Dec())

	in, err := GetAmountIn(e18(100), e18(10000), e18(3000))
	require.NoError(t, err)
	require.Equal(t, "345691815746262207243", in.Dec())

	_, err = GetAmountIn(e18(3000), e18(10000), e18(3000))
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
	_, err = GetAmountOut(e18(1), fixed.Zero(), e18(1))
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestCreatePairIsDeterministic(t *testing.T) {
	f, _, p := setup(t)
	require.Equal(t, tokenA, p.Token0())
	require.Equal(t, PairAddress(factory, tokenA, tokenC), p.Address())

	got, ok := f.GetPair(tokenC, tokenA)
	require.True(t, ok)
	require.Equal(t, p.Address(), got.Address())

	_, err := f.CreatePair(tokenA, tokenC)
	require.ErrorIs(t, err, ErrPairExists)
	_, err = f.CreatePair(tokenA, tokenA)
	require.ErrorIs(t, err, ErrIdenticalAddresses)
}

func TestMintLocksMinimumLiquidity(t *testing.T) {
	_, l, p := setup(t)
	liq := seed(t, l, p, e18(10000), e18(10000))
	require.Equal(t, "9999999999999999999000", liq.Dec())
	require.Equal(t, uint64(MinimumLiquidity), l.BalanceOf(p.Address(), common.Address{}).Uint64())

	r0, r1 := p.Reserves()
	require.True(t, r0.Eq(e18(10000)))
	require.True(t, r1.Eq(e18(10000)))
}

func TestSwapEnforcesK(t *testing.T) {
	f, l, p := setup(t)
	seed(t, l, p, e18(10000), e18(3000))

	in := fixed.MustParse("99800000000000000000")
	rIn, rOut, err := f.GetReserves(tokenA, tokenC)
	require.NoError(t, err)
	out, err := GetAmountOut(in, rIn, rOut)
	require.NoError(t, err)

	require.NoError(t, l.Mint(tokenA, trader, in))
	_, err = l.Transfer(tokenA, trader, p.Address(), in)
	require.NoError(t, err)

	greedy := new(uint256.Int).Add(out, fixed.New(1))
	require.ErrorIs(t, p.SwapExact(tokenC, greedy, trader), ErrK)
	require.True(t, l.BalanceOf(tokenC, trader).IsZero(), "failed swap must not move tokens")

	require.NoError(t, p.SwapExact(tokenC, out, trader))
	require.Equal(t, "29570771491265873664", l.BalanceOf(tokenC, trader).Dec())

	require.ErrorIs(t, p.SwapExact(tokenC, fixed.New(1), trader), ErrInsufficientInputAmount)
	require.ErrorIs(t, p.SwapExact(tokenC, fixed.New(1), tokenA), ErrInvalidTo)
}

func TestBurnReturnsShare(t *testing.T) {
	_, l, p := setup(t)
	liq := seed(t, l, p, e18(100), e18(400))

	_, err := l.Transfer(p.Address(), provider, p.Address(), liq)
	require.NoError(t, err)
	a0, a1, err := p.Burn(provider)
	require.NoError(t, err)
	// sqrt(100*400)=200 units of 1e18 minus the locked 1000
	require.Equal(t, "99999999999999999500", a0.Dec())
	require.Equal(t, "399999999999999998000", a1.Dec())
	require.True(t, l.BalanceOf(p.Address(), provider).IsZero())
}

func TestProtocolFeeMintsToFeeTo(t *testing.T) {
	f, l, p := setup(t)
	require.ErrorIs(t, f.SetFeeTo(trader, ammFee), ErrForbidden)
	require.NoError(t, f.SetFeeTo(admin, ammFee))
	seed(t, l, p, e18(10000), e18(10000))
	require.False(t, p.KLast().IsZero())

	for i := 0; i < 5; i++ {
		in := e18(500)
		require.NoError(t, l.Mint(tokenA, trader, in))
		_, err := l.Transfer(tokenA, trader, p.Address(), in)
		require.NoError(t, err)
		rIn, rOut := p.ReservesFor(tokenA)
		out, err := GetAmountOut(in, rIn, rOut)
		require.NoError(t, err)
		require.NoError(t, p.SwapExact(tokenC, out, trader))
	}
	require.True(t, l.BalanceOf(p.Address(), ammFee).IsZero(), "fee is minted lazily")

	seed(t, l, p, e18(1), e18(1))
	require.False(t, l.BalanceOf(p.Address(), ammFee).IsZero())
}

func TestSkimAndSync(t *testing.T) {
	_, l, p := setup(t)
	seed(t, l, p, e18(10), e18(10))
	require.NoError(t, l.Mint(tokenA, p.Address(), e18(1)))

	require.NoError(t, p.Skim(trader))
	require.True(t, l.BalanceOf(tokenA, trader).Eq(e18(1)))

	require.NoError(t, l.Mint(tokenA, p.Address(), e18(2)))
	require.NoError(t, p.Sync())
	r0, _ := p.Reserves()
	require.True(t, r0.Eq(e18(12)))
}
