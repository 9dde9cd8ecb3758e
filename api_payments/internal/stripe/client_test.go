package stripe

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82"
)

func TestExtractSubscriptionInfo(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	sub := &stripe.Subscription{
		ID:                "sub_123",
		Status:            stripe.SubscriptionStatusPastDue,
		Customer:          &stripe.Customer{ID: "cus_123"},
		CancelAtPeriodEnd: true,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				CurrentPeriodStart: start.Unix(),
				CurrentPeriodEnd:   end.Unix(),
				Price:              &stripe.Price{ID: "price_pro"},
			}},
		},
		Metadata: map[string]string{"user_id": "u1", "plan_id": "p1"},
	}

	info := ExtractSubscriptionInfo(sub)
	if info.SubscriptionID != "sub_123" || info.CustomerID != "cus_123" || info.Status != "past_due" {
		t.Fatalf("unexpected ids/status: %+v", info)
	}
	if info.CurrentPeriodStart == nil || !info.CurrentPeriodStart.Equal(start) {
		t.Fatalf("unexpected period start: %v", info.CurrentPeriodStart)
	}
	if info.CurrentPeriodEnd == nil || !info.CurrentPeriodEnd.Equal(end) {
		t.Fatalf("unexpected period end: %v", info.CurrentPeriodEnd)
	}
	if info.TrialEnd != nil {
		t.Fatalf("expected no trial end, got %v", info.TrialEnd)
	}
	if !info.CancelAtPeriodEnd || info.PriceID != "price_pro" || info.UserID != "u1" || info.PlanID != "p1" {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestParseEvent(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{"id":"in_1","object":"invoice","amount_paid":1999,"currency":"usd"}}}`)

	event, err := ParseEvent(body)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if event.ID != "evt_1" || event.Type != "invoice.paid" {
		t.Fatalf("unexpected event: %s %s", event.ID, event.Type)
	}

	inv, err := InvoiceFromEvent(event)
	if err != nil {
		t.Fatalf("InvoiceFromEvent: %v", err)
	}
	if inv.ID != "in_1" || inv.AmountPaid != 1999 {
		t.Fatalf("unexpected invoice: %+v", inv)
	}

	if _, err := SubscriptionFromEvent(event); err == nil {
		t.Fatal("expected error extracting subscription from invoice event")
	}
}

func TestParseEventRejectsIncompleteBody(t *testing.T) {
	for _, body := range []string{`not json`, `{"id":"evt_1"}`, `{"type":"invoice.paid","data":{"object":{}}}`} {
		if _, err := ParseEvent([]byte(body)); err == nil {
			t.Fatalf("expected error for %s", body)
		}
	}
}

func TestInvoiceSubscriptionID(t *testing.T) {
	var inv stripe.Invoice
	raw := `{"id":"in_1","parent":{"type":"subscription_details","subscription_details":{"subscription":"sub_9"}}}`
	if err := json.Unmarshal([]byte(raw), &inv); err != nil {
		t.Fatalf("unmarshal invoice: %v", err)
	}
	if got := InvoiceSubscriptionID(&inv); got != "sub_9" {
		t.Fatalf("expected sub_9, got %q", got)
	}
	if got := InvoiceSubscriptionID(&stripe.Invoice{}); got != "" {
		t.Fatalf("expected empty subscription id, got %q", got)
	}
}
