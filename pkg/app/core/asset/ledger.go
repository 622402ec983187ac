package asset

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/stakedex/pkg/app/core/fixed"
	"github.com/uhyunpark/stakedex/pkg/app/core/state"
)

var (
	ErrUnknownToken          = errors.New("asset: unknown token")
	ErrTokenExists           = errors.New("asset: token already registered")
	ErrInsufficientBalance   = errors.New("asset: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("asset: transfer amount exceeds allowance")
	ErrZeroAddress           = errors.New("asset: zero address")
)

// Meta describes a registered token. TransferFeeBps > 0 makes it a
// fee-on-transfer token: that share of every transfer is burned.
type Meta struct {
	Name           string `json:"name"`
	Symbol         string `json:"symbol"`
	Decimals       uint8  `json:"decimals"`
	TransferFeeBps uint64 `json:"transferFeeBps"`
}

type holding struct {
	token common.Address
	owner common.Address
}

type grant struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

// Ledger keeps balances, allowances and supplies for every token and the
// native balance of every account. Stored amounts are never mutated in place.
type Ledger struct {
	j          *state.Journal
	meta       map[common.Address]Meta
	balances   map[holding]*uint256.Int
	allowances map[grant]*uint256.Int
	supply     map[common.Address]*uint256.Int
	native     map[common.Address]*uint256.Int
}

func NewLedger(j *state.Journal) *Ledger {
	return &Ledger{
		j:          j,
		meta:       make(map[common.Address]Meta),
		balances:   make(map[holding]*uint256.Int),
		allowances: make(map[grant]*uint256.Int),
		supply:     make(map[common.Address]*uint256.Int),
		native:     make(map[common.Address]*uint256.Int),
	}
}

func (l *Ledger) Register(token common.Address, m Meta) error {
	if token == (common.Address{}) {
		return ErrZeroAddress
	}
	if _, ok := l.meta[token]; ok {
		return fmt.Errorf("%w: %s", ErrTokenExists, token.Hex())
	}
	state.Set(l.j, l.meta, token, m)
	return nil
}

func (l *Ledger) Meta(token common.Address) (Meta, bool) {
	m, ok := l.meta[token]
	return m, ok
}

// Tokens returns every registered token address.
func (l *Ledger) Tokens() []common.Address {
	out := make([]common.Address, 0, len(l.meta))
	for a := range l.meta {
		out = append(out, a)
	}
	return out
}

func (l *Ledger) BalanceOf(token, owner common.Address) *uint256.Int {
	if v, ok := l.balances[holding{token, owner}]; ok {
		return v.Clone()
	}
	return fixed.Zero()
}

func (l *Ledger) TotalSupply(token common.Address) *uint256.Int {
	if v, ok := l.supply[token]; ok {
		return v.Clone()
	}
	return fixed.Zero()
}

func (l *Ledger) Allowance(token, owner, spender common.Address) *uint256.Int {
	if v, ok := l.allowances[grant{token, owner, spender}]; ok {
		return v.Clone()
	}
	return fixed.Zero()
}

func (l *Ledger) Approve(token, owner, spender common.Address, amount *uint256.Int) error {
	if _, ok := l.meta[token]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	state.Set(l.j, l.allowances, grant{token, owner, spender}, amount.Clone())
	return nil
}

// Mint credits amount of token to to.
func (l *Ledger) Mint(token, to common.Address, amount *uint256.Int) error {
	if _, ok := l.meta[token]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	supply, err := fixed.Add(l.TotalSupply(token), amount)
	if err != nil {
		return fmt.Errorf("mint %s: %w", token.Hex(), err)
	}
	bal, err := fixed.Add(l.BalanceOf(token, to), amount)
	if err != nil {
		return fmt.Errorf("mint %s: %w", token.Hex(), err)
	}
	state.Set(l.j, l.supply, token, supply)
	l.setBalance(token, to, bal)
	return nil
}

// Burn destroys amount of token held by from.
func (l *Ledger) Burn(token, from common.Address, amount *uint256.Int) error {
	if err := l.debit(token, from, amount); err != nil {
		return err
	}
	supply, _ := fixed.Sub(l.TotalSupply(token), amount)
	state.Set(l.j, l.supply, token, supply)
	return nil
}

// Transfer moves amount from from to to and returns what to received, which
// is less than amount for fee-on-transfer tokens.
func (l *Ledger) Transfer(token, from, to common.Address, amount *uint256.Int) (*uint256.Int, error) {
	m, ok := l.meta[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	if to == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if err := l.debit(token, from, amount); err != nil {
		return nil, err
	}
	fee := fixed.Bps(amount, m.TransferFeeBps)
	received := new(uint256.Int).Sub(amount, fee)
	if !fee.IsZero() {
		supply, _ := fixed.Sub(l.TotalSupply(token), fee)
		state.Set(l.j, l.supply, token, supply)
	}
	bal, err := fixed.Add(l.BalanceOf(token, to), received)
	if err != nil {
		return nil, err
	}
	l.setBalance(token, to, bal)
	return received, nil
}

// TransferFrom is Transfer spending spender's allowance over from. An
// allowance of 2^256-1 is never decremented.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if spender != from {
		allowed := l.Allowance(token, from, spender)
		if allowed.Lt(amount) {
			return nil, fmt.Errorf("%w: %s", ErrInsufficientAllowance, token.Hex())
		}
		if !isMax(allowed) {
			state.Set(l.j, l.allowances, grant{token, from, spender}, new(uint256.Int).Sub(allowed, amount))
		}
	}
	return l.Transfer(token, from, to, amount)
}

func (l *Ledger) NativeBalance(owner common.Address) *uint256.Int {
	if v, ok := l.native[owner]; ok {
		return v.Clone()
	}
	return fixed.Zero()
}

// MintNative credits native balance; used by genesis allocation and faucets.
func (l *Ledger) MintNative(to common.Address, amount *uint256.Int) error {
	bal, err := fixed.Add(l.NativeBalance(to), amount)
	if err != nil {
		return err
	}
	state.Set(l.j, l.native, to, bal)
	return nil
}

func (l *Ledger) TransferNative(from, to common.Address, amount *uint256.Int) error {
	have := l.NativeBalance(from)
	if have.Lt(amount) {
		return fmt.Errorf("%w: native", ErrInsufficientBalance)
	}
	state.Set(l.j, l.native, from, new(uint256.Int).Sub(have, amount))
	bal, err := fixed.Add(l.NativeBalance(to), amount)
	if err != nil {
		return err
	}
	state.Set(l.j, l.native, to, bal)
	return nil
}

func (l *Ledger) debit(token, from common.Address, amount *uint256.Int) error {
	if _, ok := l.meta[token]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	have := l.BalanceOf(token, from)
	if have.Lt(amount) {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, token.Hex())
	}
	l.setBalance(token, from, new(uint256.Int).Sub(have, amount))
	return nil
}

func (l *Ledger) setBalance(token, owner common.Address, v *uint256.Int) {
	k := holding{token, owner}
	if v.IsZero() {
		state.Delete(l.j, l.balances, k)
		return
	}
	state.Set(l.j, l.balances, k, v)
}

// Holding is one non-zero balance, used for snapshots.
type Holding struct {
	Token  common.Address
	Owner  common.Address
	Amount *uint256.Int
}

// Holdings lists every non-zero token balance.
func (l *Ledger) Holdings() []Holding {
	out := make([]Holding, 0, len(l.balances))
	for k, v := range l.balances {
		out = append(out, Holding{Token: k.token, Owner: k.owner, Amount: v.Clone()})
	}
	return out
}

// NativeHoldings lists every non-zero native balance.
func (l *Ledger) NativeHoldings() []Holding {
	out := make([]Holding, 0, len(l.native))
	for owner, v := range l.native {
		if v.IsZero() {
			continue
		}
		out = append(out, Holding{Token: NativeAddress, Owner: owner, Amount: v.Clone()})
	}
	return out
}

// Restore loads a balance without touching supply bookkeeping; supply is
// restored separately through RestoreSupply.
func (l *Ledger) Restore(h Holding) {
	if h.Token == NativeAddress {
		l.native[h.Owner] = h.Amount.Clone()
		return
	}
	l.balances[holding{h.Token, h.Owner}] = h.Amount.Clone()
}

func (l *Ledger) RestoreSupply(token common.Address, amount *uint256.Int) {
	l.supply[token] = amount.Clone()
}

// Grant is one non-zero allowance, used for snapshots.
type Grant struct {
	Token   common.Address
	Owner   common.Address
	Spender common.Address
	Amount  *uint256.Int
}

func (l *Ledger) Grants() []Grant {
	out := make([]Grant, 0, len(l.allowances))
	for k, v := range l.allowances {
		if v.IsZero() {
			continue
		}
		out = append(out, Grant{Token: k.token, Owner: k.owner, Spender: k.spender, Amount: v.Clone()})
	}
	return out
}

func (l *Ledger) RestoreGrant(g Grant) {
	l.allowances[grant{g.Token, g.Owner, g.Spender}] = g.Amount.Clone()
}

// RestoreMeta registers a token outside any journal snapshot, keeping an
// existing registration.
func (l *Ledger) RestoreMeta(token common.Address, m Meta) {
	if _, ok := l.meta[token]; !ok {
		l.meta[token] = m
	}
}

func isMax(v *uint256.Int) bool {
	return v.Eq(new(uint256.Int).SetAllOne())
}
