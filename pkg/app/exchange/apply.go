package exchange

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/uhyunpark/stakedex/pkg/app/core/dex"
	"github.com/uhyunpark/stakedex/pkg/app/core/state"
	"github.com/uhyunpark/stakedex/pkg/app/core/transaction"
)

// applyTx verifies and executes one raw action. The nonce is consumed once the
// signature checks out and the action is not expired, even if execution fails.
func (a *App) applyTx(raw []byte, height, timestamp int64, index int) Receipt {
	r := newReceipt(ethCrypto.Keccak256Hash(raw), height, index)

	tx, err := transaction.Deserialize(raw)
	if err != nil {
		return r.fail(CodeMalformed, err)
	}
	r.Kind = string(tx.Kind)
	r.Sender = tx.Sender
	sender, err := a.verifier.Verify(tx)
	if err != nil {
		if errors.Is(err, transaction.ErrMalformed) || errors.Is(err, transaction.ErrUnknownKind) {
			return r.fail(CodeMalformed, err)
		}
		return r.fail(CodeBadSignature, err)
	}
	nonce, _ := tx.NonceValue()
	r.Nonce = nonce

	if deadline, _ := tx.DeadlineValue(); deadline != 0 && uint64(timestamp) > deadline {
		return r.fail(CodeExpired, fmt.Errorf("%w: block time %d deadline %d", ErrExpired, timestamp, deadline))
	}
	if tx.Class() == transaction.ClassAdmin && sender != a.cfg.Admin {
		return r.fail(CodeUnauthorized, fmt.Errorf("%w: %s", ErrUnauthorized, sender.Hex()))
	}

	var (
		result  any
		execErr error
		events  []dex.Event
	)
	err = a.host.Atomic(func() error {
		if last := a.nonces[sender]; nonce <= last {
			return fmt.Errorf("%w: got %d, last %d", ErrNonce, nonce, last)
		}
		state.Set(a.j, a.nonces, sender, nonce)
		execErr = a.j.Atomic(func() error {
			var err error
			result, err = a.dispatch(sender, tx)
			return err
		})
		events = a.dex.DrainEvents()
		return nil
	})
	if err != nil {
		return r.fail(CodeNonce, err)
	}
	if execErr != nil {
		a.log.Debug("action_rejected",
			zap.String("kind", r.Kind),
			zap.String("sender", sender.Hex()),
			zap.Uint64("nonce", nonce),
			zap.Error(execErr))
		return r.fail(CodeRejected, execErr)
	}
	r.Result = result
	r.Events = eventsFrom(events)
	return r
}

// Nonce is the last nonce consumed by account.
func (a *App) Nonce(account common.Address) uint64 {
	var n uint64
	_ = a.host.View(func() error {
		n = a.nonces[account]
		return nil
	})
	return n
}
