package transaction

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stakedex/pkg/crypto"
)

const testKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func newSigned(t *testing.T, kind Kind, payload any) (*SignedTransaction, *Verifier) {
	t.Helper()
	signer, err := crypto.FromPrivateKeyHex(testKey)
	if err != nil {
		t.Fatal(err)
	}
	v := NewVerifier(crypto.DefaultDomain(31337))
	tx, err := Sign(v.Signer(), signer, kind, 1, 0, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx, v
}

func TestSignVerifyRoundTrip(t *testing.T) {
	tx, v := newSigned(t, KindSwapExactIn, SwapExactInPayload{
		Path:         []common.Address{common.HexToAddress("0x01"), common.HexToAddress("0x02")},
		AmountIn:     "1000",
		AmountOutMin: "1",
		To:           common.HexToAddress("0x03"),
	})
	raw, err := tx.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	back, err := Deserialize(raw)
	if err != nil {
		t.Fatal(err)
	}
	sender, err := v.Verify(back)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sender != tx.Sender {
		t.Errorf("sender = %s, want %s", sender.Hex(), tx.Sender.Hex())
	}

	var p SwapExactInPayload
	if err := back.Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.AmountIn != "1000" || len(p.Path) != 2 {
		t.Errorf("payload = %+v", p)
	}
}

func TestVerifyRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SignedTransaction)
		want   error
	}{
		{"payload changed", func(tx *SignedTransaction) { tx.Payload = json.RawMessage(`{"amount":"2"}`) }, ErrSenderMismatch},
		{"nonce changed", func(tx *SignedTransaction) { tx.Nonce = "2" }, ErrSenderMismatch},
		{"sender changed", func(tx *SignedTransaction) { tx.Sender = common.HexToAddress("0x09") }, ErrSenderMismatch},
		{"unknown kind", func(tx *SignedTransaction) { tx.Kind = "liquidate" }, ErrUnknownKind},
		{"bad nonce", func(tx *SignedTransaction) { tx.Nonce = "-1" }, ErrMalformed},
		{"missing signature", func(tx *SignedTransaction) { tx.Signature = "" }, ErrMalformed},
		{"short signature", func(tx *SignedTransaction) { tx.Signature = "0x1234" }, ErrBadSignature},
	}
	for _, tt := range tests {
		tx, v := newSigned(t, KindWrap, WrapPayload{Amount: "1"})
		tt.mutate(tx)
		if _, err := v.Verify(tx); !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestDecodeStrict(t *testing.T) {
	tx := &SignedTransaction{Kind: KindWrap, Payload: json.RawMessage(`{"amount":"1","extra":true}`)}
	var p WrapPayload
	if err := tx.Decode(&p); !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestClassOf(t *testing.T) {
	tests := []struct {
		kind Kind
		want Class
	}{
		{KindFaucet, ClassAdmin},
		{KindRegisterToken, ClassAdmin},
		{KindMint, ClassMaker},
		{KindApprove, ClassMaker},
		{KindSwapExactIn, ClassTaker},
		{KindBookSwap, ClassTaker},
	}
	for _, tt := range tests {
		got, ok := ClassOf(tt.kind)
		if !ok || got != tt.want {
			t.Errorf("ClassOf(%s) = %v, %v; want %v", tt.kind, got, ok, tt.want)
		}
	}
	if _, ok := ClassOf("nope"); ok {
		t.Error("unknown kind classified")
	}
}

func TestAmount(t *testing.T) {
	v, err := Amount("x", "")
	if err != nil || !v.IsZero() {
		t.Errorf("empty amount = %v, %v", v, err)
	}
	v, err = Amount("x", "max")
	if err != nil || v.Cmp(v.Clone().SetAllOne()) != 0 {
		t.Errorf("max amount = %v, %v", v, err)
	}
	if _, err := Amount("x", "1e18"); !errors.Is(err, ErrMalformed) {
		t.Errorf("scientific notation accepted: %v", err)
	}
	got, err := Amounts("a", "1", "b", "2")
	if err != nil || got[0].Uint64() != 1 || got[1].Uint64() != 2 {
		t.Errorf("amounts = %v, %v", got, err)
	}
}

func TestRouterDeadline(t *testing.T) {
	tx := &SignedTransaction{Deadline: "0"}
	if tx.RouterDeadline() != math.MaxInt64 {
		t.Errorf("zero deadline = %d", tx.RouterDeadline())
	}
	tx.Deadline = "1700000000"
	if tx.RouterDeadline() != 1_700_000_000 {
		t.Errorf("deadline = %d", tx.RouterDeadline())
	}
}
