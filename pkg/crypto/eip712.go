package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains/contracts
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// ActionEIP712 is what a wallet signs for every exchange call. The call
// arguments themselves travel as a JSON payload committed to by PayloadHash.
type ActionEIP712 struct {
	Kind        string
	PayloadHash common.Hash
	Nonce       *big.Int
	Deadline    *big.Int // unix seconds, 0 = no expiry
	Sender      common.Address
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var actionType = []apitypes.Type{
	{Name: "kind", Type: "string"},
	{Name: "payloadHash", Type: "bytes32"},
	{Name: "nonce", Type: "uint256"},
	{Name: "deadline", Type: "uint256"},
	{Name: "sender", Type: "address"},
}

// EIP712Signer hashes and checks actions under one domain.
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// DefaultDomain is the off-chain StakeDex domain for chainID.
func DefaultDomain(chainID uint64) EIP712Domain {
	return EIP712Domain{
		Name:    "StakeDex",
		Version: "1",
		ChainID: new(big.Int).SetUint64(chainID),
	}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func (e *EIP712Signer) typedData(a *ActionEIP712) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			"Action":       actionType,
		},
		PrimaryType: "Action",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"kind":        a.Kind,
			"payloadHash": a.PayloadHash.Hex(),
			"nonce":       bigString(a.Nonce),
			"deadline":    bigString(a.Deadline),
			"sender":      a.Sender.Hex(),
		},
	}
}

// HashAction returns the digest keccak256("\x19\x01" || domainSeparator || structHash).
func (e *EIP712Signer) HashAction(a *ActionEIP712) ([]byte, error) {
	td := e.typedData(a)
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}
	raw := make([]byte, 0, 2+len(domainSeparator)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

func (e *EIP712Signer) SignAction(signer *Signer, a *ActionEIP712) ([]byte, error) {
	hash, err := e.HashAction(a)
	if err != nil {
		return nil, fmt.Errorf("failed to hash action: %w", err)
	}
	return signer.Sign(hash)
}

// VerifyActionSignature reports whether signature was made by a.Sender.
func (e *EIP712Signer) VerifyActionSignature(a *ActionEIP712, signature []byte) (bool, error) {
	recovered, err := e.RecoverActionSigner(a, signature)
	if err != nil {
		return false, err
	}
	return recovered == a.Sender, nil
}

func (e *EIP712Signer) RecoverActionSigner(a *ActionEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashAction(a)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash action: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// ActionToJSON renders the typed data in the eth_signTypedData_v4 shape.
func (e *EIP712Signer) ActionToJSON(a *ActionEIP712) (string, error) {
	td := e.typedData(a)
	out, err := json.MarshalIndent(td, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(out), nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
