package asset

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// WETH wraps native balance 1:1 into a ledger token held at its own address.
type WETH struct {
	ledger *Ledger
	addr   common.Address
}

// NewWETH registers the wrapped token at addr.
func NewWETH(ledger *Ledger, addr common.Address) (*WETH, error) {
	if err := ledger.Register(addr, Meta{Name: "Wrapped Ether", Symbol: "WETH", Decimals: 18}); err != nil {
		return nil, err
	}
	return &WETH{ledger: ledger, addr: addr}, nil
}

func (w *WETH) Address() common.Address { return w.addr }

// Deposit moves native balance from account into the wrapper and mints the same
// amount of wrapped token to account.
func (w *WETH) Deposit(account common.Address, amount *uint256.Int) error {
	if err := w.ledger.TransferNative(account, w.addr, amount); err != nil {
		return fmt.Errorf("weth deposit: %w", err)
	}
	return w.ledger.Mint(w.addr, account, amount)
}

// Withdraw burns wrapped token held by account and releases native balance to it.
func (w *WETH) Withdraw(account common.Address, amount *uint256.Int) error {
	if err := w.ledger.Burn(w.addr, account, amount); err != nil {
		return fmt.Errorf("weth withdraw: %w", err)
	}
	return w.ledger.TransferNative(w.addr, account, amount)
}
