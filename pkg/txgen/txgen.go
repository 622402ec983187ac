// Package txgen produces signed exchange traffic for local load testing. An
// admin key funds a set of simulated traders; the traders then mint, swap
// against the book and route through the pool at random.
package txgen

import (
	"context"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/stakedex/pkg/app/core/asset"
	"github.com/uhyunpark/stakedex/pkg/app/core/transaction"
	"github.com/uhyunpark/stakedex/pkg/crypto"
)

// Pusher accepts raw signed actions.
type Pusher interface {
	PushTx(raw []byte) (transaction.Class, error)
}

type Config struct {
	ChainID     uint64
	Dex         common.Address
	Router      common.Address
	Tokens      [2]common.Address
	NumAccounts int
	BatchSize   int
	Interval    time.Duration
	Seed        int64
}

// DefaultConfig targets roughly 100 actions per second.
func DefaultConfig(chainID uint64, dex, router common.Address) Config {
	return Config{
		ChainID:     chainID,
		Dex:         dex,
		Router:      router,
		Tokens:      [2]common.Address{common.HexToAddress("0x0000000000000000000000000000000000001001"), common.HexToAddress("0x0000000000000000000000000000000000001002")},
		NumAccounts: 50,
		BatchSize:   10,
		Interval:    100 * time.Millisecond,
		Seed:        time.Now().UnixNano(),
	}
}

var unit = uint256.NewInt(1_000_000_000_000_000_000)

func units(n int) string {
	return new(uint256.Int).Mul(uint256.NewInt(uint64(n)), unit).Dec()
}

type Generator struct {
	cfg     Config
	admin   *crypto.Signer
	signers []*crypto.Signer
	nonces  map[common.Address]uint64
	rng     *rand.Rand
	eip712  *crypto.EIP712Signer
}

func NewGenerator(cfg Config, admin *crypto.Signer) (*Generator, error) {
	g := &Generator{
		cfg:    cfg,
		admin:  admin,
		nonces: make(map[common.Address]uint64),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		eip712: crypto.NewEIP712Signer(crypto.DefaultDomain(cfg.ChainID)),
	}
	for i := 0; i < cfg.NumAccounts; i++ {
		s, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		g.signers = append(g.signers, s)
	}
	return g, nil
}

// SetNonce seeds the admin's nonce when the chain already has history.
func (g *Generator) SetNonce(addr common.Address, n uint64) { g.nonces[addr] = n }

func (g *Generator) Signers() []*crypto.Signer { return g.signers }

func (g *Generator) sign(s *crypto.Signer, kind transaction.Kind, payload any) []byte {
	g.nonces[s.Address()]++
	tx, err := transaction.Sign(g.eip712, s, kind, g.nonces[s.Address()], 0, payload)
	if err != nil {
		return nil
	}
	raw, err := tx.Serialize()
	if err != nil {
		return nil
	}
	return raw
}

// Bootstrap registers the tokens, funds every trader, grants allowances and
// seeds the pool from the first trader.
func (g *Generator) Bootstrap() [][]byte {
	a, b := g.cfg.Tokens[0], g.cfg.Tokens[1]
	out := [][]byte{
		g.sign(g.admin, transaction.KindRegisterToken, transaction.RegisterTokenPayload{Token: a, Name: "Load A", Symbol: "LDA", Decimals: 18}),
		g.sign(g.admin, transaction.KindRegisterToken, transaction.RegisterTokenPayload{Token: b, Name: "Load B", Symbol: "LDB", Decimals: 18}),
	}
	for _, s := range g.signers {
		for _, tok := range []common.Address{a, b, asset.NativeAddress} {
			out = append(out, g.sign(g.admin, transaction.KindFaucet, transaction.FaucetPayload{Token: tok, To: s.Address(), Amount: units(1_000_000)}))
		}
	}
	for _, s := range g.signers {
		for _, tok := range g.cfg.Tokens {
			for _, spender := range []common.Address{g.cfg.Dex, g.cfg.Router} {
				out = append(out, g.sign(s, transaction.KindApprove, transaction.ApprovePayload{Token: tok, Spender: spender, Amount: "max"}))
			}
		}
	}
	if len(g.signers) > 0 {
		lp := g.signers[0]
		out = append(out, g.sign(lp, transaction.KindAddLiquidity, transaction.AddLiquidityPayload{
			TokenA: a, TokenB: b,
			AmountADesired: units(10_000), AmountBDesired: units(10_000),
			To: lp.Address(),
		}))
	}
	return out
}

// Next returns one random trader action: half are mints within 5% of parity,
// the rest swaps against the book or through the router.
func (g *Generator) Next() []byte {
	s := g.signers[g.rng.Intn(len(g.signers))]
	in, out := g.cfg.Tokens[0], g.cfg.Tokens[1]
	if g.rng.Intn(2) == 1 {
		in, out = out, in
	}
	amount := g.rng.Intn(100) + 1

	switch r := g.rng.Intn(100); {
	case r < 50:
		amountIn := uint256.MustFromDecimal(units(amount))
		amountOut := new(uint256.Int).Mul(amountIn, uint256.NewInt(uint64(95+g.rng.Intn(11))))
		amountOut.Div(amountOut, uint256.NewInt(100))
		return g.sign(s, transaction.KindMint, transaction.MintPayload{TokenIn: in, TokenOut: out, AmountIn: amountIn.Dec(), AmountOut: amountOut.Dec()})
	case r < 85:
		return g.sign(s, transaction.KindBookSwap, transaction.BookSwapPayload{TokenIn: in, TokenOut: out, AmountIn: units(amount), To: s.Address()})
	default:
		return g.sign(s, transaction.KindSwapExactIn, transaction.SwapExactInPayload{
			Path: []common.Address{in, out}, AmountIn: units(amount), AmountOutMin: "1", To: s.Address(),
		})
	}
}

func (g *Generator) Batch(n int) [][]byte {
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		if raw := g.Next(); raw != nil {
			out = append(out, raw)
		}
	}
	return out
}

// Run pushes the bootstrap actions, then a batch every interval until ctx is
// done.
func Run(ctx context.Context, p Pusher, g *Generator, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	push := func(txs [][]byte) int {
		n := 0
		for _, raw := range txs {
			if _, err := p.PushTx(raw); err != nil {
				log.Debug("txgen_push", zap.Error(err))
				continue
			}
			n++
		}
		return n
	}

	start := time.Now()
	total := push(g.Bootstrap())
	log.Info("txgen_started",
		zap.Int("accounts", len(g.signers)),
		zap.Int("batch", g.cfg.BatchSize),
		zap.Duration("interval", g.cfg.Interval))

	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()
	stats := time.NewTicker(10 * time.Second)
	defer stats.Stop()
	for {
		select {
		case <-ctx.Done():
			elapsed := time.Since(start)
			log.Info("txgen_stopped", zap.Int("total", total), zap.Float64("rate", float64(total)/elapsed.Seconds()))
			return
		case <-ticker.C:
			total += push(g.Batch(g.cfg.BatchSize))
		case <-stats.C:
			elapsed := time.Since(start)
			log.Info("txgen_stats", zap.Int("total", total), zap.Float64("rate", float64(total)/elapsed.Seconds()))
		}
	}
}
