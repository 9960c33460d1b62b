//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestLoyalty_SeededBalance(t *testing.T) {
	resp := doGet(t, "/api/loyalty/bob/balance")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	b := decodeJSON[balanceResponse](t, resp)
	if b.Points != 120 {
		t.Errorf("points: got %d, want 120", b.Points)
	}
	if b.Value != 12 {
		t.Errorf("value: got %v, want 12", b.Value)
	}
}

func TestLoyalty_UnknownCustomerHasZero(t *testing.T) {
	if got := balanceOf(t, newCustomer(t)); got != 0 {
		t.Errorf("balance: got %d, want 0", got)
	}
}

func TestLoyalty_RedeemAndAccrue(t *testing.T) {
	customer := newCustomer(t)
	giveLoyaltyPoints(t, customer, 80)

	resp := doPostWithAuth(t, "/api/loyalty/redeem", map[string]any{"customerId": customer, "points": 30}, testAPIKey)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("redeem: expected 200, got %d", resp.StatusCode)
	}
	if got := decodeJSON[balanceResponse](t, resp).Balance; got != 50 {
		t.Errorf("balance after redeem: got %d, want 50", got)
	}

	over := doPostWithAuth(t, "/api/loyalty/redeem", map[string]any{"customerId": customer, "points": 51}, testAPIKey)
	defer over.Body.Close()
	if over.StatusCode != http.StatusConflict {
		t.Fatalf("over-redeem: expected 409, got %d", over.StatusCode)
	}
	if got := balanceOf(t, customer); got != 50 {
		t.Errorf("balance after failed redeem: got %d, want 50", got)
	}
}

func TestLoyalty_Calculate(t *testing.T) {
	items := []orderItem{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 1}, {ProductID: 3, Quantity: 1}}
	got := expectedPoints(t, 30, items)

	// Quantity and variety bonuses always apply here; January doubles on top.
	if got != 90 && got != 180 {
		t.Errorf("points: got %d, want 90 or 180", got)
	}
}

func TestLoyalty_Rules(t *testing.T) {
	resp := doGet(t, "/api/loyalty/rules")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeJSON[struct {
		Rules []struct {
			Name string `json:"name"`
		} `json:"rules"`
	}](t, resp)
	if len(body.Rules) == 0 || body.Rules[0].Name != "base" {
		t.Errorf("rules: got %+v, want base first", body.Rules)
	}
}
