// Package dex is the StakeDex matching engine: makers pool notional at
// discrete prices, takers consume the cheapest levels first, and every maker
// position settles lazily against the checkpoints of its level.
package dex

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/stakedex/pkg/app/core/asset"
	"github.com/uhyunpark/stakedex/pkg/app/core/fixed"
	"github.com/uhyunpark/stakedex/pkg/app/core/market"
	"github.com/uhyunpark/stakedex/pkg/app/core/orderbook"
	"github.com/uhyunpark/stakedex/pkg/app/core/position"
	"github.com/uhyunpark/stakedex/pkg/app/core/state"
)

var (
	ErrZeroAmount               = errors.New("dex: zero amount")
	ErrZeroPrice                = errors.New("dex: zero price")
	ErrPositionNotEmpty         = errors.New("dex: position not empty")
	ErrNoLiquidity              = errors.New("dex: no liquidity")
	ErrInsufficientInputAmount  = errors.New("dex: insufficient input amount")
	ErrInsufficientOutputAmount = errors.New("dex: insufficient output amount")
	ErrInvalidValue             = errors.New("dex: native value mismatch")
	ErrInvalidConfig            = errors.New("dex: invalid config")
)

// Config holds the engine's numeric parameters.
type Config struct {
	// Scale is the fixed-point price scale.
	Scale *uint256.Int
	// TakerFeeBps is charged on the taker's input leg.
	TakerFeeBps uint64
	// ProtocolFeeShareBps of every taker fee goes to FeeRecipient; the rest to makers.
	ProtocolFeeShareBps uint64
	FeeRecipient        common.Address
}

// DefaultConfig is a 1e10 price scale with a 20 bps taker fee, all to makers.
func DefaultConfig() Config {
	return Config{
		Scale:       fixed.New(fixed.DefaultScale),
		TakerFeeBps: 20,
	}
}

func (c Config) Validate() error {
	if c.Scale == nil || c.Scale.IsZero() {
		return fmt.Errorf("%w: zero scale", ErrInvalidConfig)
	}
	if c.TakerFeeBps >= fixed.BpsDenominator {
		return fmt.Errorf("%w: taker fee %d bps", ErrInvalidConfig, c.TakerFeeBps)
	}
	if c.ProtocolFeeShareBps > fixed.BpsDenominator {
		return fmt.Errorf("%w: protocol share %d bps", ErrInvalidConfig, c.ProtocolFeeShareBps)
	}
	return nil
}

// Engine is the StakeDex book. It holds maker custody at its own address and
// tracks how much of each token it accounts for so that tokens delivered
// ahead of a swap can be measured as a balance delta.
type Engine struct {
	j         *state.Journal
	cfg       Config
	addr      common.Address
	ledger    *asset.Ledger
	weth      *asset.WETH
	pairs     *market.PairRegistry
	levels    *orderbook.Ledger
	positions *position.Store
	accounted map[common.Address]*uint256.Int
	events    []Event
	log       *zap.Logger
}

// New creates an engine with custody at addr.
func New(j *state.Journal, ledger *asset.Ledger, weth *asset.WETH, addr common.Address, cfg Config, log *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		j:         j,
		cfg:       cfg,
		addr:      addr,
		ledger:    ledger,
		weth:      weth,
		pairs:     market.NewPairRegistry(j),
		levels:    orderbook.NewLedger(j),
		positions: position.NewStore(j),
		accounted: make(map[common.Address]*uint256.Int),
		log:       log,
	}, nil
}

func (e *Engine) Address() common.Address     { return e.addr }
func (e *Engine) Config() Config              { return e.cfg }
func (e *Engine) Pairs() *market.PairRegistry { return e.pairs }
func (e *Engine) Levels() *orderbook.Ledger   { return e.levels }
func (e *Engine) Positions() *position.Store  { return e.positions }
func (e *Engine) Accounted(token common.Address) *uint256.Int {
	if v, ok := e.accounted[token]; ok {
		return v.Clone()
	}
	return fixed.Zero()
}

// RestoreAccounted loads custody bookkeeping outside any journal snapshot.
func (e *Engine) RestoreAccounted(token common.Address, v *uint256.Int) {
	e.accounted[token] = v.Clone()
}

// AccountedTokens lists every token the engine holds custody of.
func (e *Engine) AccountedTokens() []common.Address {
	out := make([]common.Address, 0, len(e.accounted))
	for t := range e.accounted {
		out = append(out, t)
	}
	return out
}

// CreatePair registers the pair and its two books.
func (e *Engine) CreatePair(tokenA, tokenB common.Address) (market.Pair, error) {
	var p market.Pair
	err := e.j.Atomic(func() error {
		var err error
		p, err = e.createPair(tokenA, tokenB)
		return err
	})
	return p, err
}

func (e *Engine) createPair(tokenA, tokenB common.Address) (market.Pair, error) {
	p, err := e.pairs.CreatePair(tokenA, tokenB)
	if err != nil {
		return market.Pair{}, err
	}
	e.emit(Event{Kind: EventPairCreated, TokenIn: p.Token0, TokenOut: p.Token1, BookID: p.BookID(p.Token0)})
	e.log.Info("pair_created",
		zap.Uint64("pair", p.Index),
		zap.String("token0", p.Token0.Hex()),
		zap.String("token1", p.Token1.Hex()))
	return p, nil
}

// GetPairID returns the book of makers selling tokenIn for tokenOut.
func (e *Engine) GetPairID(tokenIn, tokenOut common.Address) (uint64, error) {
	return e.pairs.GetPairID(tokenIn, tokenOut)
}

func (e *Engine) credit(token common.Address, amount *uint256.Int) error {
	v, err := fixed.Add(e.Accounted(token), amount)
	if err != nil {
		return err
	}
	state.Set(e.j, e.accounted, token, v)
	return nil
}

// pull moves amount of token from owner into custody and returns what
// arrived. Native input must match value exactly and is wrapped first.
func (e *Engine) pull(owner common.Address, token asset.Token, amount, value *uint256.Int) (*uint256.Int, error) {
	if token.IsNative() {
		if !value.Eq(amount) {
			return nil, fmt.Errorf("%w: value %s amount %s", ErrInvalidValue, value.Dec(), amount.Dec())
		}
		if err := e.weth.Deposit(owner, amount); err != nil {
			return nil, err
		}
		if _, err := e.ledger.Transfer(e.weth.Address(), owner, e.addr, amount); err != nil {
			return nil, err
		}
		return amount.Clone(), e.credit(e.weth.Address(), amount)
	}
	if !value.IsZero() {
		return nil, fmt.Errorf("%w: value %s sent with token input", ErrInvalidValue, value.Dec())
	}
	received, err := e.ledger.TransferFrom(token.Address, e.addr, owner, e.addr, amount)
	if err != nil {
		return nil, err
	}
	if received.IsZero() {
		return nil, ErrZeroAmount
	}
	return received, e.credit(token.Address, received)
}

// pay releases up to amount of token from custody. Amounts above what the
// engine accounts for are clamped; the difference is settlement dust.
func (e *Engine) pay(to, token common.Address, amount *uint256.Int, unwrap bool) (*uint256.Int, error) {
	held := e.Accounted(token)
	amt := fixed.Min(amount, held)
	if amt.IsZero() {
		return amt, nil
	}
	state.Set(e.j, e.accounted, token, new(uint256.Int).Sub(held, amt))
	if unwrap && e.weth != nil && token == e.weth.Address() {
		if err := e.weth.Withdraw(e.addr, amt); err != nil {
			return nil, err
		}
		return amt, e.ledger.TransferNative(e.addr, to, amt)
	}
	if _, err := e.ledger.Transfer(token, e.addr, to, amt); err != nil {
		return nil, err
	}
	return amt, nil
}
