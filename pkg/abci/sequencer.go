package abci

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/stakedex/pkg/metrics"
	"github.com/uhyunpark/stakedex/pkg/util"
)

// Block summarizes one committed block.
type Block struct {
	Height    int64
	Timestamp int64
	Txs       int
	Results   []TxResult
	AppHash   Hash
}

// Sequencer is the single block producer: every interval it drains the
// application mempool into a block, executes it and commits. Intervals with
// no pending actions produce no block.
type Sequencer struct {
	App        Application
	Clock      util.Clock
	Interval   time.Duration
	MaxTxBytes int64
	Logger     *zap.SugaredLogger
	Metrics    *metrics.SequencerMetrics

	// OnCommit runs after every committed block.
	OnCommit func(Block)

	height int64
}

// NewSequencer resumes after height, usually the restored snapshot height.
func NewSequencer(app Application, clock util.Clock, interval time.Duration, maxTxBytes int64, height int64, logger *zap.SugaredLogger) *Sequencer {
	if clock == nil {
		clock = util.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Sequencer{
		App:        app,
		Clock:      clock,
		Interval:   interval,
		MaxTxBytes: maxTxBytes,
		Logger:     logger,
		height:     height,
	}
}

func (s *Sequencer) Height() int64 { return s.height }

// Run produces blocks until ctx is cancelled.
func (s *Sequencer) Run(ctx context.Context) error {
	s.Logger.Infow("sequencer_starting", "height", s.height, "interval_ms", s.Interval.Milliseconds())
	for {
		select {
		case <-ctx.Done():
			s.Logger.Infow("sequencer_stopped", "height", s.height)
			return ctx.Err()
		case <-s.Clock.After(s.Interval):
			if _, _, err := s.Step(); err != nil {
				return err
			}
		}
	}
}

// Step produces at most one block. It reports whether a block was committed.
func (s *Sequencer) Step() (Block, bool, error) {
	next := s.height + 1
	prep := s.App.PrepareProposal(RequestPrepareProposal{Height: next, MaxTxBytes: s.MaxTxBytes})
	if len(prep.Txs) == 0 {
		return Block{}, false, nil
	}
	if proc := s.App.ProcessProposal(RequestProcessProposal{Height: next, Txs: prep.Txs}); !proc.Accept {
		s.Logger.Warnw("proposal_rejected", "height", next, "txs", len(prep.Txs))
		return Block{}, false, nil
	}

	start := time.Now()
	ts := s.Clock.Now().Unix()
	fin := s.App.FinalizeBlock(RequestFinalizeBlock{Height: next, Timestamp: ts, Txs: prep.Txs})
	if _, err := s.App.Commit(RequestCommit{Height: next}); err != nil {
		return Block{}, false, fmt.Errorf("commit height %d: %w", next, err)
	}
	s.height = next

	failed := 0
	for _, r := range fin.TxResults {
		s.Metrics.ObserveAction(r.Kind, r.Code)
		if r.Code != 0 {
			failed++
		}
	}
	took := time.Since(start)
	s.Metrics.ObserveBlock(next, len(prep.Txs), took)

	b := Block{Height: next, Timestamp: ts, Txs: len(prep.Txs), Results: fin.TxResults, AppHash: fin.AppHash}
	s.Logger.Infow("block_committed",
		"height", next,
		"txs", len(prep.Txs),
		"failed", failed,
		"app_hash", fin.AppHash.Hex(),
		"took_ms", took.Milliseconds())
	if s.OnCommit != nil {
		s.OnCommit(b)
	}
	return b, true, nil
}
