package transaction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Amounts travel as base-10 strings; "" means zero.

type RegisterTokenPayload struct {
	Token          common.Address `json:"token"`
	Name           string         `json:"name"`
	Symbol         string         `json:"symbol"`
	Decimals       uint8          `json:"decimals"`
	TransferFeeBps uint64         `json:"transferFeeBps,omitempty"`
}

// FaucetPayload credits Amount of Token to To. The native sentinel credits
// native balance.
type FaucetPayload struct {
	Token  common.Address `json:"token"`
	To     common.Address `json:"to"`
	Amount string         `json:"amount"`
}

type SetFeeToPayload struct {
	FeeTo common.Address `json:"feeTo"`
}

type CreatePairPayload struct {
	TokenA common.Address `json:"tokenA"`
	TokenB common.Address `json:"tokenB"`
}

type MintPayload struct {
	TokenIn   common.Address `json:"tokenIn"`
	TokenOut  common.Address `json:"tokenOut"`
	AmountIn  string         `json:"amountIn"`
	AmountOut string         `json:"amountOut"`
	Value     string         `json:"value,omitempty"`
}

type IncreasePositionPayload struct {
	Position uint64 `json:"position"`
	AmountIn string `json:"amountIn"`
	Value    string `json:"value,omitempty"`
}

type DecreasePositionPayload struct {
	Position uint64 `json:"position"`
	AmountIn string `json:"amountIn"`
}

// PositionPayload is shared by burn and redeem.
type PositionPayload struct {
	Position uint64 `json:"position"`
}

type TransferPositionPayload struct {
	Position uint64         `json:"position"`
	To       common.Address `json:"to"`
}

// BookSwapPayload delivers AmountIn to the book and swaps it there only.
type BookSwapPayload struct {
	TokenIn  common.Address `json:"tokenIn"`
	TokenOut common.Address `json:"tokenOut"`
	AmountIn string         `json:"amountIn"`
	To       common.Address `json:"to"`
	Unwrap   bool           `json:"unwrap,omitempty"`
}

type SwapExactInPayload struct {
	Path         []common.Address `json:"path"`
	AmountIn     string           `json:"amountIn"`
	AmountOutMin string           `json:"amountOutMin"`
	Value        string           `json:"value,omitempty"`
	To           common.Address   `json:"to"`
}

// SwapExactOutPayload is used by both exact-output kinds.
type SwapExactOutPayload struct {
	Path        []common.Address `json:"path"`
	AmountOut   string           `json:"amountOut"`
	AmountInMax string           `json:"amountInMax"`
	Value       string           `json:"value,omitempty"`
	To          common.Address   `json:"to"`
}

type AddLiquidityPayload struct {
	TokenA         common.Address `json:"tokenA"`
	TokenB         common.Address `json:"tokenB"`
	AmountADesired string         `json:"amountADesired"`
	AmountBDesired string         `json:"amountBDesired"`
	AmountAMin     string         `json:"amountAMin"`
	AmountBMin     string         `json:"amountBMin"`
	Value          string         `json:"value,omitempty"`
	To             common.Address `json:"to"`
}

type RemoveLiquidityPayload struct {
	TokenA        common.Address `json:"tokenA"`
	TokenB        common.Address `json:"tokenB"`
	Liquidity     string         `json:"liquidity"`
	AmountAMin    string         `json:"amountAMin"`
	AmountBMin    string         `json:"amountBMin"`
	To            common.Address `json:"to"`
	ReceiveNative bool           `json:"receiveNative,omitempty"`
}

type FastAddLiquidityPayload struct {
	TokenIn    common.Address `json:"tokenIn"`
	TokenOther common.Address `json:"tokenOther"`
	AmountIn   string         `json:"amountIn"`
	Value      string         `json:"value,omitempty"`
	To         common.Address `json:"to"`
}

type FastRemoveLiquidityPayload struct {
	TokenOut   common.Address `json:"tokenOut"`
	TokenOther common.Address `json:"tokenOther"`
	Liquidity  string         `json:"liquidity"`
	To         common.Address `json:"to"`
}

type ApprovePayload struct {
	Token   common.Address `json:"token"`
	Spender common.Address `json:"spender"`
	Amount  string         `json:"amount"`
}

type TransferPayload struct {
	Token  common.Address `json:"token"`
	To     common.Address `json:"to"`
	Amount string         `json:"amount"`
}

// WrapPayload is shared by wrap and unwrap.
type WrapPayload struct {
	Amount string `json:"amount"`
}

// Amount parses a base-10 amount. The literal "max" is 2^256-1, which the
// ledger treats as an infinite allowance.
func Amount(field, s string) (*uint256.Int, error) {
	switch s {
	case "":
		return new(uint256.Int), nil
	case "max":
		return new(uint256.Int).SetAllOne(), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrMalformed, field, s, err)
	}
	return v, nil
}

// Amounts parses pairs of (field, value) in order.
func Amounts(fields ...string) ([]*uint256.Int, error) {
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("%w: odd amount list", ErrMalformed)
	}
	out := make([]*uint256.Int, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		v, err := Amount(fields[i], fields[i+1])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
