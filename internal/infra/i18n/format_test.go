//go:build !integration

package i18n

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"course-checkout/internal/domain"
)

func TestAmount(t *testing.T) {
	cases := []struct {
		minor    int64
		currency string
		want     string
	}{
		{129900, "USD", "1299.00 USD"},
		{5, "EUR", "0.05 EUR"},
		{-250, "", "-2.50"},
	}
	for _, c := range cases {
		if got := Amount(c.minor, c.currency); got != c.want {
			t.Errorf("Amount(%d, %q) = %q, want %q", c.minor, c.currency, got, c.want)
		}
	}
}

func TestCountdown(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{-time.Second, "00:00"},
		{0, "00:00"},
		{65 * time.Second, "01:05"},
		{14*time.Minute + 59*time.Second, "14:59"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, c := range cases {
		if got := Countdown(c.d); got != c.want {
			t.Errorf("Countdown(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}

func TestTranslator_Error(t *testing.T) {
	tr, err := NewTranslator(LocalesFS, "en")
	if err != nil {
		t.Fatal(err)
	}

	declined := &domain.GatewayError{Kind: domain.KindDeclined, Op: "confirm", StatusCode: 402, Message: "insufficient funds"}
	pending := &domain.GatewayError{Kind: domain.KindConflict, Op: "create", StatusCode: 409, Err: domain.ErrPendingPurchaseExists}

	cases := []struct {
		name string
		err  error
		key  string
	}{
		{"declined", declined, "error.declined"},
		{"pending conflict", pending, "error.pending_exists"},
		{"wrapped pending", fmt.Errorf("%w: p-1", domain.ErrPendingPurchaseExists), "error.pending_exists"},
		{"terminal", &domain.GatewayError{Kind: domain.KindConflict, Op: "cancel", StatusCode: 409}, "error.terminal"},
		{"validation", &domain.ValidationError{Fields: domain.FieldErrors{"cvv": "validation.cvv.invalid"}}, "error.invalid"},
		{"session", &domain.GatewayError{Kind: domain.KindSession, Op: "get"}, "error.session_expired"},
		{"not found", &domain.GatewayError{Kind: domain.KindNotFound, Op: "get", StatusCode: 404}, "error.not_found"},
		{"network", &domain.GatewayError{Kind: domain.KindNetwork, Op: "get", Err: errors.New("dial tcp")}, "error.upstream"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ErrorKey(c.err); got != c.key {
				t.Errorf("ErrorKey = %q, want %q", got, c.key)
			}
		})
	}

	if got, want := tr.Error(declined), "Your payment was declined: insufficient funds"; got != want {
		t.Errorf("Error(declined) = %q, want %q", got, want)
	}
}
