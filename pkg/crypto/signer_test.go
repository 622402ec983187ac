package crypto

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

// well-known hardhat account #0
const hardhatKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestFromPrivateKeyHex(t *testing.T) {
	want := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	for _, key := range []string{hardhatKey, "0x" + hardhatKey} {
		s, err := FromPrivateKeyHex(key)
		if err != nil {
			t.Fatalf("load %q: %v", key[:6], err)
		}
		if s.Address() != want {
			t.Errorf("address = %s, want %s", s.Address().Hex(), want.Hex())
		}
		if s.PrivateKeyHex() != hardhatKey {
			t.Errorf("private key mismatch after reload")
		}
	}
	if _, err := FromPrivateKeyHex("zz"); err == nil {
		t.Error("expected parse error")
	}
}

func TestSignAndRecover(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	message := []byte("stakedex")
	sig, err := signer.SignMessage(message)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(sig) != SignatureLength {
		t.Fatalf("signature length = %d", len(sig))
	}
	if v := sig[64]; v != 27 && v != 28 {
		t.Errorf("v = %d, want 27 or 28", v)
	}

	hash := eth_crypto.Keccak256(message)
	if !VerifySignature(signer.Address(), hash, sig) {
		t.Error("signature verification failed")
	}
	if VerifySignature(common.HexToAddress("0x01"), hash, sig) {
		t.Error("signature should not verify with wrong address")
	}

	// raw recovery ids are accepted too
	raw := common.CopyBytes(sig)
	raw[64] -= 27
	got, err := RecoverAddress(hash, raw)
	if err != nil || got != signer.Address() {
		t.Errorf("recover with raw v: %s, %v", got.Hex(), err)
	}
}

func TestRecoverRejectsMalformed(t *testing.T) {
	hash := common.BytesToHash([]byte("test")).Bytes()
	tests := []struct {
		name string
		hash []byte
		sig  []byte
	}{
		{"short signature", hash, []byte{1, 2, 3}},
		{"short hash", []byte("short"), make([]byte, 65)},
		{"bad recovery id", hash, append(make([]byte, 64), 5)},
	}
	for _, tt := range tests {
		if _, err := RecoverAddress(tt.hash, tt.sig); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestDecodeSignature(t *testing.T) {
	sig := make([]byte, 65)
	sig[64] = 28
	enc := EncodeSignature(sig)
	for _, s := range []string{enc, strings.TrimPrefix(enc, "0x")} {
		got, err := DecodeSignature(s)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got[64] != 28 {
			t.Errorf("v = %d", got[64])
		}
	}
	if _, err := DecodeSignature("0x1234"); err == nil {
		t.Error("expected length error")
	}
	if _, err := DecodeSignature("0xzz"); err == nil {
		t.Error("expected hex error")
	}
}

func TestActionSignature(t *testing.T) {
	signer, _ := FromPrivateKeyHex(hardhatKey)
	e := NewEIP712Signer(DefaultDomain(31337))
	action := &ActionEIP712{
		Kind:        "swap_exact_in",
		PayloadHash: eth_crypto.Keccak256Hash([]byte(`{"amountIn":"1"}`)),
		Nonce:       big.NewInt(1),
		Deadline:    big.NewInt(1_700_000_000),
		Sender:      signer.Address(),
	}
	sig, err := e.SignAction(signer, action)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	ok, err := e.VerifyActionSignature(action, sig)
	if err != nil || !ok {
		t.Fatalf("verify: %v %v", ok, err)
	}

	tampered := *action
	tampered.Nonce = big.NewInt(2)
	if ok, _ := e.VerifyActionSignature(&tampered, sig); ok {
		t.Error("signature verified for a different nonce")
	}

	other := NewEIP712Signer(DefaultDomain(1))
	if ok, _ := other.VerifyActionSignature(action, sig); ok {
		t.Error("signature verified under another chain id")
	}

	js, err := e.ActionToJSON(action)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if !strings.Contains(js, `"primaryType": "Action"`) {
		t.Errorf("typed data json missing primary type: %s", js)
	}
}

func TestHashActionDeterministic(t *testing.T) {
	e := NewEIP712Signer(DefaultDomain(31337))
	a := &ActionEIP712{Kind: "mint", Sender: common.HexToAddress("0x02")}
	h1, err := e.HashAction(a)
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := e.HashAction(a)
	if common.BytesToHash(h1) != common.BytesToHash(h2) {
		t.Error("hash not deterministic")
	}
	b := *a
	b.Kind = "burn"
	h3, _ := e.HashAction(&b)
	if common.BytesToHash(h1) == common.BytesToHash(h3) {
		t.Error("kind not bound into hash")
	}
}
