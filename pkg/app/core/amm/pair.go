package amm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/stakedex/pkg/app/core/fixed"
	"github.com/uhyunpark/stakedex/pkg/app/core/state"
)

// MinimumLiquidity is locked at the zero address on the first mint.
const MinimumLiquidity uint64 = 1000

// maxReserve is 2^112-1.
var maxReserve = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 112), uint256.NewInt(1))

// Pair is one constant-product pool. Its address doubles as its LP token.
// Callers transfer tokens in first, then call Mint or Swap; the pool measures
// what arrived against its reserves.
type Pair struct {
	f        *Factory
	addr     common.Address
	token0   common.Address
	token1   common.Address
	reserve0 *uint256.Int
	reserve1 *uint256.Int
	kLast    *uint256.Int
}

func newPair(f *Factory, addr, token0, token1 common.Address) *Pair {
	return &Pair{
		f:        f,
		addr:     addr,
		token0:   token0,
		token1:   token1,
		reserve0: fixed.Zero(),
		reserve1: fixed.Zero(),
		kLast:    fixed.Zero(),
	}
}

func (p *Pair) Address() common.Address { return p.addr }
func (p *Pair) Token0() common.Address  { return p.token0 }
func (p *Pair) Token1() common.Address  { return p.token1 }

// Reserves returns copies of the reserves.
func (p *Pair) Reserves() (*uint256.Int, *uint256.Int) {
	return p.reserve0.Clone(), p.reserve1.Clone()
}

// ReservesFor returns the reserves ordered as (tokenIn, other).
func (p *Pair) ReservesFor(tokenIn common.Address) (*uint256.Int, *uint256.Int) {
	if tokenIn == p.token0 {
		return p.reserve0.Clone(), p.reserve1.Clone()
	}
	return p.reserve1.Clone(), p.reserve0.Clone()
}

func (p *Pair) KLast() *uint256.Int { return p.kLast.Clone() }

func (p *Pair) balances() (*uint256.Int, *uint256.Int) {
	return p.f.ledger.BalanceOf(p.token0, p.addr), p.f.ledger.BalanceOf(p.token1, p.addr)
}

func (p *Pair) update(balance0, balance1 *uint256.Int) error {
	if balance0.Gt(maxReserve) || balance1.Gt(maxReserve) {
		return ErrOverflow
	}
	state.Assign(p.f.j, &p.reserve0, balance0.Clone())
	state.Assign(p.f.j, &p.reserve1, balance1.Clone())
	return nil
}

// mintFee mints 8/25 of the growth in sqrt(k) since the last liquidity event to feeTo.
func (p *Pair) mintFee(reserve0, reserve1 *uint256.Int) (bool, error) {
	feeTo := p.f.feeTo
	feeOn := feeTo != (common.Address{})
	if !feeOn {
		if !p.kLast.IsZero() {
			state.Assign(p.f.j, &p.kLast, fixed.Zero())
		}
		return false, nil
	}
	if p.kLast.IsZero() {
		return true, nil
	}
	k, err := fixed.Mul(reserve0, reserve1)
	if err != nil {
		return true, err
	}
	rootK := new(uint256.Int).Sqrt(k)
	rootKLast := new(uint256.Int).Sqrt(p.kLast)
	if !rootK.Gt(rootKLast) {
		return true, nil
	}
	supply := p.f.ledger.TotalSupply(p.addr)
	num, err := fixed.Mul(supply, new(uint256.Int).Sub(rootK, rootKLast))
	if err != nil {
		return true, err
	}
	num.Mul(num, fixed.New(8))
	den := new(uint256.Int).Add(new(uint256.Int).Mul(rootK, fixed.New(17)), new(uint256.Int).Mul(rootKLast, fixed.New(8)))
	liquidity := new(uint256.Int).Div(num, den)
	if liquidity.IsZero() {
		return true, nil
	}
	return true, p.f.ledger.Mint(p.addr, feeTo, liquidity)
}

func (p *Pair) recordK(feeOn bool) error {
	if !feeOn {
		return nil
	}
	k, err := fixed.Mul(p.reserve0, p.reserve1)
	if err != nil {
		return err
	}
	state.Assign(p.f.j, &p.kLast, k)
	return nil
}

// Mint issues LP tokens to `to` for the tokens transferred in since the last sync.
func (p *Pair) Mint(to common.Address) (*uint256.Int, error) {
	var liquidity *uint256.Int
	err := p.f.j.Atomic(func() error {
		var err error
		liquidity, err = p.mint(to)
		return err
	})
	return liquidity, err
}

func (p *Pair) mint(to common.Address) (*uint256.Int, error) {
	r0, r1 := p.Reserves()
	b0, b1 := p.balances()
	a0, err := fixed.Sub(b0, r0)
	if err != nil {
		return nil, err
	}
	a1, err := fixed.Sub(b1, r1)
	if err != nil {
		return nil, err
	}
	feeOn, err := p.mintFee(r0, r1)
	if err != nil {
		return nil, err
	}
	supply := p.f.ledger.TotalSupply(p.addr)
	var liquidity *uint256.Int
	if supply.IsZero() {
		prod, err := fixed.Mul(a0, a1)
		if err != nil {
			return nil, err
		}
		root := new(uint256.Int).Sqrt(prod)
		locked := fixed.New(MinimumLiquidity)
		if !root.Gt(locked) {
			return nil, ErrInsufficientLiquidityMinted
		}
		liquidity = root.Sub(root, locked)
		if err := p.f.ledger.Mint(p.addr, common.Address{}, locked); err != nil {
			return nil, err
		}
	} else {
		l0, err := fixed.MulDiv(a0, supply, r0)
		if err != nil {
			return nil, err
		}
		l1, err := fixed.MulDiv(a1, supply, r1)
		if err != nil {
			return nil, err
		}
		liquidity = fixed.Min(l0, l1)
	}
	if liquidity.IsZero() {
		return nil, ErrInsufficientLiquidityMinted
	}
	if err := p.f.ledger.Mint(p.addr, to, liquidity); err != nil {
		return nil, err
	}
	if err := p.update(b0, b1); err != nil {
		return nil, err
	}
	return liquidity, p.recordK(feeOn)
}

// Burn redeems the LP tokens held by the pool itself and sends both tokens to `to`.
func (p *Pair) Burn(to common.Address) (*uint256.Int, *uint256.Int, error) {
	var a0, a1 *uint256.Int
	err := p.f.j.Atomic(func() error {
		var err error
		a0, a1, err = p.burn(to)
		return err
	})
	return a0, a1, err
}

func (p *Pair) burn(to common.Address) (*uint256.Int, *uint256.Int, error) {
	r0, r1 := p.Reserves()
	b0, b1 := p.balances()
	liquidity := p.f.ledger.BalanceOf(p.addr, p.addr)
	feeOn, err := p.mintFee(r0, r1)
	if err != nil {
		return nil, nil, err
	}
	supply := p.f.ledger.TotalSupply(p.addr)
	if supply.IsZero() {
		return nil, nil, ErrInsufficientLiquidityBurned
	}
	a0, err := fixed.MulDiv(liquidity, b0, supply)
	if err != nil {
		return nil, nil, err
	}
	a1, err := fixed.MulDiv(liquidity, b1, supply)
	if err != nil {
		return nil, nil, err
	}
	if a0.IsZero() || a1.IsZero() {
		return nil, nil, ErrInsufficientLiquidityBurned
	}
	if err := p.f.ledger.Burn(p.addr, p.addr, liquidity); err != nil {
		return nil, nil, err
	}
	if _, err := p.f.ledger.Transfer(p.token0, p.addr, to, a0); err != nil {
		return nil, nil, err
	}
	if _, err := p.f.ledger.Transfer(p.token1, p.addr, to, a1); err != nil {
		return nil, nil, err
	}
	b0, b1 = p.balances()
	if err := p.update(b0, b1); err != nil {
		return nil, nil, err
	}
	return a0, a1, p.recordK(feeOn)
}

// Swap sends the requested outputs to `to` and checks the fee-adjusted
// invariant against whatever input was transferred in beforehand.
func (p *Pair) Swap(amount0Out, amount1Out *uint256.Int, to common.Address) error {
	return p.f.j.Atomic(func() error { return p.swap(amount0Out, amount1Out, to) })
}

func (p *Pair) swap(amount0Out, amount1Out *uint256.Int, to common.Address) error {
	if amount0Out.IsZero() && amount1Out.IsZero() {
		return ErrInsufficientOutputAmount
	}
	r0, r1 := p.Reserves()
	if !amount0Out.Lt(r0) || !amount1Out.Lt(r1) {
		return ErrInsufficientLiquidity
	}
	if to == p.token0 || to == p.token1 {
		return ErrInvalidTo
	}
	if !amount0Out.IsZero() {
		if _, err := p.f.ledger.Transfer(p.token0, p.addr, to, amount0Out); err != nil {
			return err
		}
	}
	if !amount1Out.IsZero() {
		if _, err := p.f.ledger.Transfer(p.token1, p.addr, to, amount1Out); err != nil {
			return err
		}
	}
	b0, b1 := p.balances()
	in0 := amountIn(b0, r0, amount0Out)
	in1 := amountIn(b1, r1, amount1Out)
	if in0.IsZero() && in1.IsZero() {
		return ErrInsufficientInputAmount
	}
	adj0, err := adjusted(b0, in0)
	if err != nil {
		return err
	}
	adj1, err := adjusted(b1, in1)
	if err != nil {
		return err
	}
	lhs, overflow := new(uint256.Int).MulOverflow(adj0, adj1)
	if overflow {
		return ErrOverflow
	}
	rhs := new(uint256.Int).Mul(new(uint256.Int).Mul(r0, r1), fixed.New(fixed.BpsDenominator*fixed.BpsDenominator))
	if lhs.Lt(rhs) {
		return ErrK
	}
	return p.update(b0, b1)
}

// SwapExact is Swap with the output named by token.
func (p *Pair) SwapExact(tokenOut common.Address, amountOut *uint256.Int, to common.Address) error {
	if tokenOut == p.token0 {
		return p.Swap(amountOut, fixed.Zero(), to)
	}
	return p.Swap(fixed.Zero(), amountOut, to)
}

// Skim sends any balance above the reserves to `to`.
func (p *Pair) Skim(to common.Address) error {
	b0, b1 := p.balances()
	if x, err := fixed.Sub(b0, p.reserve0); err == nil && !x.IsZero() {
		if _, err := p.f.ledger.Transfer(p.token0, p.addr, to, x); err != nil {
			return err
		}
	}
	if x, err := fixed.Sub(b1, p.reserve1); err == nil && !x.IsZero() {
		if _, err := p.f.ledger.Transfer(p.token1, p.addr, to, x); err != nil {
			return err
		}
	}
	return nil
}

// Sync sets the reserves to the current balances.
func (p *Pair) Sync() error {
	b0, b1 := p.balances()
	return p.update(b0, b1)
}

func amountIn(balance, reserve, out *uint256.Int) *uint256.Int {
	rest := new(uint256.Int).Sub(reserve, out)
	if balance.Gt(rest) {
		return new(uint256.Int).Sub(balance, rest)
	}
	return fixed.Zero()
}

// adjusted is balance*10000 - in*25.
func adjusted(balance, in *uint256.Int) (*uint256.Int, error) {
	b, err := fixed.Mul(balance, fixed.New(fixed.BpsDenominator))
	if err != nil {
		return nil, err
	}
	return fixed.Sub(b, new(uint256.Int).Mul(in, fixed.New(FeeBps)))
}
