package mollie

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/VictorAvelar/mollie-api-go/v4/mollie"
	"github.com/shopspring/decimal"
)

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"tr_123"}`)
	good := sign("whsec", payload)

	if !VerifySignature("whsec", payload, good) {
		t.Fatal("expected valid signature")
	}
	if VerifySignature("whsec", payload, sign("other", payload)) {
		t.Fatal("expected signature with wrong secret to fail")
	}
	if VerifySignature("whsec", []byte(`{"id":"tr_999"}`), good) {
		t.Fatal("expected signature over different body to fail")
	}
	if VerifySignature("", payload, good) {
		t.Fatal("expected verification without secret to fail")
	}
	if VerifySignature("whsec", payload, "") {
		t.Fatal("expected missing signature to fail")
	}
}

func TestEventID(t *testing.T) {
	if got := EventID("tr_1", "Paid"); got != "payment:tr_1:paid" {
		t.Fatalf("unexpected event id %q", got)
	}
}

func TestAmountRoundTrip(t *testing.T) {
	a := Amount(decimal.RequireFromString("10.5"), "eur")
	if a.Value != "10.50" || a.Currency != "EUR" {
		t.Fatalf("unexpected amount %+v", a)
	}

	value, currency, err := ParseAmount(a)
	if err != nil {
		t.Fatalf("ParseAmount: %v", err)
	}
	if !value.Equal(decimal.RequireFromString("10.50")) || currency != "eur" {
		t.Fatalf("unexpected parse %s %s", value, currency)
	}

	if _, _, err := ParseAmount(&mollie.Amount{Value: "abc", Currency: "EUR"}); err == nil {
		t.Fatal("expected invalid amount error")
	}
}

func TestMetadataString(t *testing.T) {
	if got := MetadataString(map[string]interface{}{"user_id": "u1"}, "user_id"); got != "u1" {
		t.Fatalf("map: got %q", got)
	}
	if got := MetadataString(`{"subscription_id":"s1"}`, "subscription_id"); got != "s1" {
		t.Fatalf("string: got %q", got)
	}
	if got := MetadataString(nil, "user_id"); got != "" {
		t.Fatalf("nil: got %q", got)
	}
}
