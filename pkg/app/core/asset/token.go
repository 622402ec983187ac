// Package asset implements the fungible token ledger the exchange settles
// against, including the wrapped native asset.
package asset

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAddress is the sentinel address callers use to name the native asset.
var NativeAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

type Kind uint8

const (
	KindERC20 Kind = iota
	KindNative
)

func (k Kind) String() string {
	if k == KindNative {
		return "native"
	}
	return "erc20"
}

// Token names either a ledger token or the native asset.
type Token struct {
	Kind    Kind
	Address common.Address
}

func ERC20(addr common.Address) Token { return Token{Kind: KindERC20, Address: addr} }

func Native() Token { return Token{Kind: KindNative, Address: NativeAddress} }

// ParseToken maps the sentinel address to Native and anything else to ERC20.
func ParseToken(addr common.Address) Token {
	if addr == NativeAddress {
		return Native()
	}
	return ERC20(addr)
}

func (t Token) IsNative() bool { return t.Kind == KindNative }

// Resolve returns the ledger address settlement uses: the wrapped token for native.
func (t Token) Resolve(weth common.Address) common.Address {
	if t.IsNative() {
		return weth
	}
	return t.Address
}

func (t Token) String() string {
	if t.IsNative() {
		return "native"
	}
	return t.Address.Hex()
}

func (t Token) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Address.Hex())
}

func (t *Token) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("token: %w", err)
	}
	if !common.IsHexAddress(s) {
		return fmt.Errorf("token: invalid address %q", s)
	}
	*t = ParseToken(common.HexToAddress(s))
	return nil
}

// Less orders addresses by their bytes, the canonical pair order.
func Less(a, b common.Address) bool {
	return bytes.Compare(a.Bytes(), b.Bytes()) < 0
}
