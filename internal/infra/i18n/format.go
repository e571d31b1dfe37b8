package i18n

import (
	"errors"
	"fmt"
	"time"

	"course-checkout/internal/domain"
)

// Amount renders minor units with two decimals, e.g. 129900 IRR -> "1299.00 IRR".
func Amount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	s := fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
	if currency == "" {
		return s
	}
	return s + " " + currency
}

// Countdown renders a remaining duration as mm:ss, or h:mm:ss past an hour.
func Countdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d.Round(time.Second) / time.Second)
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// ErrorKey maps an operation error to its message key.
func ErrorKey(err error) string {
	var ve *domain.ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "error.invalid"
	case errors.Is(err, domain.ErrSessionExpired):
		return "error.session_expired"
	case errors.Is(err, domain.ErrPendingPurchaseExists):
		return "error.pending_exists"
	case errors.Is(err, domain.ErrPurchaseTerminal), domain.IsConflict(err):
		return "error.terminal"
	case errors.Is(err, domain.ErrPaymentDeclined):
		return "error.declined"
	case errors.Is(err, domain.ErrNotFound):
		return "error.not_found"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "error.invalid"
	}
	return "error.upstream"
}

// Error renders err for the user. Declines carry the server's reason.
func (t *Translator) Error(err error) string {
	key := ErrorKey(err)
	if key != "error.declined" {
		return t.T(key)
	}
	reason := ""
	var ge *domain.GatewayError
	if errors.As(err, &ge) {
		reason = ge.Message
	}
	return t.T(key, reason)
}
