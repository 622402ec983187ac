package transaction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stakedex/pkg/crypto"
)

// Verifier handles transaction signature verification
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

func (v *Verifier) Signer() *crypto.EIP712Signer { return v.eip712Signer }

// Verify checks structure and signature and returns the sender.
func (v *Verifier) Verify(tx *SignedTransaction) (common.Address, error) {
	if err := tx.Validate(); err != nil {
		return common.Address{}, err
	}
	signer, err := v.RecoverSigner(tx)
	if err != nil {
		return common.Address{}, err
	}
	if signer != tx.Sender {
		return common.Address{}, fmt.Errorf("%w: recovered %s, sender %s", ErrSenderMismatch, signer.Hex(), tx.Sender.Hex())
	}
	return tx.Sender, nil
}

// RecoverSigner recovers the address that signed a transaction
func (v *Verifier) RecoverSigner(tx *SignedTransaction) (common.Address, error) {
	action, err := tx.ToEIP712Action()
	if err != nil {
		return common.Address{}, err
	}
	sig, err := crypto.DecodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	addr, err := v.eip712Signer.RecoverActionSigner(action, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return addr, nil
}
