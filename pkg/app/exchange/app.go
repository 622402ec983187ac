// Package exchange is the block application of the node: it verifies signed
// actions, executes them against the book, the pools and the router, and
// produces receipts, a state hash and snapshots per block.
package exchange

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/uhyunpark/stakedex/params"
	"github.com/uhyunpark/stakedex/pkg/abci"
	"github.com/uhyunpark/stakedex/pkg/app/core/amm"
	"github.com/uhyunpark/stakedex/pkg/app/core/asset"
	"github.com/uhyunpark/stakedex/pkg/app/core/dex"
	"github.com/uhyunpark/stakedex/pkg/app/core/fixed"
	"github.com/uhyunpark/stakedex/pkg/app/core/mempool"
	"github.com/uhyunpark/stakedex/pkg/app/core/state"
	"github.com/uhyunpark/stakedex/pkg/app/core/transaction"
	"github.com/uhyunpark/stakedex/pkg/app/router"
	"github.com/uhyunpark/stakedex/pkg/crypto"
	"github.com/uhyunpark/stakedex/pkg/metrics"
	"github.com/uhyunpark/stakedex/pkg/util"
)

// Deployer is the account the built-in contract addresses are derived from.
var Deployer = common.BytesToAddress(ethCrypto.Keccak256([]byte("stakedex/deployer"))[12:])

// Contracts are the addresses of the built-in components.
type Contracts struct {
	WETH    common.Address `json:"weth"`
	Dex     common.Address `json:"dex"`
	Factory common.Address `json:"factory"`
	Router  common.Address `json:"router"`
}

// DefaultContracts derives the component addresses from Deployer the way
// consecutive contract creations would.
func DefaultContracts() Contracts {
	return Contracts{
		WETH:    ethCrypto.CreateAddress(Deployer, 0),
		Dex:     ethCrypto.CreateAddress(Deployer, 1),
		Factory: ethCrypto.CreateAddress(Deployer, 2),
		Router:  ethCrypto.CreateAddress(Deployer, 3),
	}
}

type Config struct {
	ChainID    uint64
	Admin      common.Address
	Dex        dex.Config
	MaxPending int
	MaxTxBytes int
}

func ConfigFrom(p params.Config) Config {
	return Config{
		ChainID: p.Node.ChainID,
		Admin:   p.Node.Admin,
		Dex: dex.Config{
			Scale:               fixed.New(p.Exchange.PriceScale),
			TakerFeeBps:         p.Exchange.TakerFeeBps,
			ProtocolFeeShareBps: p.Exchange.ProtocolFeeShareBps,
			FeeRecipient:        p.Exchange.FeeRecipient,
		},
		MaxPending: 100_000,
		MaxTxBytes: p.Node.MaxTxBytes,
	}
}

// Store persists what a committed block produced.
type Store interface {
	SaveSnapshot(height int64, v any) error
	SaveBlock(height int64, v any) error
	Block(height int64, v any) error
	PutReceipt(id string, v any) error
	GetReceipt(id string, v any) error
}

// WAL receives every receipt in commit order.
type WAL interface {
	Append(v any) error
}

// BlockResult is handed to OnBlock after a block is committed.
type BlockResult struct {
	Height    int64     `json:"height"`
	Timestamp int64     `json:"timestamp"`
	AppHash   string    `json:"appHash"`
	Receipts  []Receipt `json:"receipts"`
}

// BlockRecord is the persisted header of a committed block.
type BlockRecord struct {
	Height    int64    `json:"height"`
	Timestamp int64    `json:"timestamp"`
	AppHash   string   `json:"appHash"`
	Receipts  []string `json:"receipts"`
}

const recentReceipts = 4096

type App struct {
	cfg       Config
	contracts Contracts
	host      *state.Host
	j         *state.Journal
	ledger    *asset.Ledger
	weth      *asset.WETH
	dex       *dex.Engine
	factory   *amm.Factory
	router    *router.Router
	clock     *util.ManualClock
	mempool   *mempool.Mempool
	verifier  *transaction.Verifier
	nonces    map[common.Address]uint64
	log       *zap.Logger
	metrics   *metrics.SequencerMetrics

	// block being finalized
	height    int64
	timestamp int64
	appHash   abci.Hash
	pending   []Receipt

	recentMu sync.RWMutex
	recent   map[string]Receipt
	byTx     map[common.Hash]string
	order    []string

	Store   Store
	WAL     WAL
	OnBlock func(BlockResult)
}

func New(cfg Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Dex.Validate(); err != nil {
		return nil, err
	}
	host := state.NewHost()
	j := host.Journal()
	c := DefaultContracts()
	ledger := asset.NewLedger(j)
	weth, err := asset.NewWETH(ledger, c.WETH)
	if err != nil {
		return nil, fmt.Errorf("exchange: weth: %w", err)
	}
	d, err := dex.New(j, ledger, weth, c.Dex, cfg.Dex, log.Named("dex"))
	if err != nil {
		return nil, err
	}
	f := amm.NewFactory(j, ledger, c.Factory, cfg.Admin, log.Named("amm"))
	clock := util.NewManualClock(time.Unix(0, 0))
	r := router.New(j, ledger, weth, d, f, c.Router, clock, log.Named("router"))

	return &App{
		cfg:       cfg,
		contracts: c,
		host:      host,
		j:         j,
		ledger:    ledger,
		weth:      weth,
		dex:       d,
		factory:   f,
		router:    r,
		clock:     clock,
		mempool:   mempool.NewMempool(cfg.MaxPending, cfg.MaxTxBytes),
		verifier:  transaction.NewVerifier(crypto.DefaultDomain(cfg.ChainID)),
		nonces:    make(map[common.Address]uint64),
		log:       log,
		recent:    make(map[string]Receipt),
		byTx:      make(map[common.Hash]string),
	}, nil
}

// SetMetrics attaches the sequencer collectors; nil disables them.
func (a *App) SetMetrics(m *metrics.SequencerMetrics) { a.metrics = m }

func (a *App) Contracts() Contracts               { return a.contracts }
func (a *App) Config() Config                     { return a.cfg }
func (a *App) Verifier() *transaction.Verifier    { return a.verifier }
func (a *App) Mempool() *mempool.Mempool          { return a.mempool }
func (a *App) Pending() map[transaction.Class]int { return a.mempool.Pending() }

// CheckTx verifies an envelope before it is queued. Execution verifies again.
func (a *App) CheckTx(raw []byte) (*transaction.SignedTransaction, common.Address, error) {
	tx, err := transaction.Deserialize(raw)
	if err != nil {
		return nil, common.Address{}, err
	}
	sender, err := a.verifier.Verify(tx)
	if err != nil {
		return tx, common.Address{}, err
	}
	if tx.Class() == transaction.ClassAdmin && sender != a.cfg.Admin {
		return tx, sender, ErrUnauthorized
	}
	return tx, sender, nil
}

// PushTx queues a raw envelope.
func (a *App) PushTx(raw []byte) (transaction.Class, error) {
	c, err := a.mempool.PushRaw(raw)
	if err == nil {
		a.metrics.SetPending(c.String(), a.mempool.Pending()[c])
	}
	return c, err
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	txs := a.mempool.SelectForProposal(req.MaxTxBytes)
	for c, n := range a.mempool.Pending() {
		a.metrics.SetPending(c.String(), n)
	}
	return abci.ResponsePrepareProposal{Txs: txs}
}

func (a *App) ProcessProposal(_ abci.RequestProcessProposal) abci.ResponseProcessProposal {
	return abci.ResponseProcessProposal{Accept: true}
}

// FinalizeBlock executes txs in order at the block timestamp. Every action
// runs in its own atomic call; a failing action leaves no trace besides its
// consumed nonce and its receipt.
func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) abci.ResponseFinalizeBlock {
	a.clock.Set(time.Unix(req.Timestamp, 0))
	a.pending = make([]Receipt, 0, len(req.Txs))
	results := make([]abci.TxResult, 0, len(req.Txs))
	fills := 0
	for i, raw := range req.Txs {
		r := a.applyTx(raw, req.Height, req.Timestamp, i)
		for _, ev := range r.Events {
			if ev.Kind == string(dex.EventFill) {
				fills++
			}
		}
		a.pending = append(a.pending, r)
		results = append(results, abci.TxResult{Code: r.Code, Kind: r.Kind, Log: r.Error})
	}

	var hash abci.Hash
	_ = a.host.Atomic(func() error {
		hash = a.computeStateHash(req.Height, req.Timestamp)
		a.height, a.timestamp, a.appHash = req.Height, req.Timestamp, hash
		return nil
	})

	a.log.Info("finalize_block",
		zap.Int64("height", req.Height),
		zap.Int("txs", len(req.Txs)),
		zap.Int("fills", fills),
		zap.String("app_hash", hash.Hex()))
	return abci.ResponseFinalizeBlock{TxResults: results, AppHash: hash}
}

// Commit persists the finalized block: snapshot, receipts, WAL. Hooks run last.
func (a *App) Commit(req abci.RequestCommit) (abci.ResponseCommit, error) {
	receipts := a.pending
	a.pending = nil
	if a.Store != nil {
		snap, err := a.Export()
		if err != nil {
			return abci.ResponseCommit{}, err
		}
		if err := a.Store.SaveSnapshot(req.Height, snap); err != nil {
			return abci.ResponseCommit{}, fmt.Errorf("exchange: save snapshot %d: %w", req.Height, err)
		}
		rec := BlockRecord{Height: req.Height, Timestamp: snap.Timestamp, AppHash: snap.AppHash}
		for _, r := range receipts {
			if err := a.Store.PutReceipt(r.ID, r); err != nil {
				return abci.ResponseCommit{}, fmt.Errorf("exchange: put receipt %s: %w", r.ID, err)
			}
			rec.Receipts = append(rec.Receipts, r.ID)
		}
		if err := a.Store.SaveBlock(req.Height, rec); err != nil {
			return abci.ResponseCommit{}, fmt.Errorf("exchange: save block %d: %w", req.Height, err)
		}
	}
	if a.WAL != nil {
		for _, r := range receipts {
			if err := a.WAL.Append(r); err != nil {
				a.log.Warn("wal_append_failed", zap.String("receipt", r.ID), zap.Error(err))
			}
		}
	}
	a.remember(receipts)
	if a.OnBlock != nil {
		a.OnBlock(BlockResult{Height: req.Height, Timestamp: a.timestampAt(), AppHash: a.AppHash().Hex(), Receipts: receipts})
	}
	return abci.ResponseCommit{}, nil
}

func (a *App) remember(rs []Receipt) {
	a.recentMu.Lock()
	defer a.recentMu.Unlock()
	for _, r := range rs {
		a.recent[r.ID] = r
		a.byTx[r.TxHash] = r.ID
		a.order = append(a.order, r.ID)
	}
	for len(a.order) > recentReceipts {
		old := a.recent[a.order[0]]
		if a.byTx[old.TxHash] == old.ID {
			delete(a.byTx, old.TxHash)
		}
		delete(a.recent, a.order[0])
		a.order = a.order[1:]
	}
}
