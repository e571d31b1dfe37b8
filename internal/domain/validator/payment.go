// Package validator holds the pure checks and formatters behind the payment forms.
// Nothing here performs I/O; callers render the returned error keys through i18n.
package validator

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"course-checkout/internal/domain"
	"course-checkout/internal/domain/model"
)

// Form field names used as FieldErrors keys.
const (
	FieldMethod         = "paymentMethod"
	FieldCardNumber     = "cardNumber"
	FieldExpiry         = "expiryDate"
	FieldCVV            = "cvv"
	FieldCardholderName = "cardholderName"
	FieldBankCode       = "bankCode"
	FieldAccountNumber  = "accountNumber"
	FieldAccountName    = "accountName"
)

// Error keys, resolved by the i18n translator.
const (
	KeyMethodInvalid         = "validation.payment_method.invalid"
	KeyCardNumberRequired    = "validation.card_number.required"
	KeyCardNumberInvalid     = "validation.card_number.invalid"
	KeyExpiryRequired        = "validation.expiry.required"
	KeyExpiryInvalid         = "validation.expiry.invalid"
	KeyExpiryPast            = "validation.expiry.expired"
	KeyCVVInvalid            = "validation.cvv.invalid"
	KeyCardholderRequired    = "validation.cardholder_name.required"
	KeyBankCodeInvalid       = "validation.bank_code.invalid"
	KeyAccountNumberInvalid  = "validation.account_number.invalid"
	KeyAccountNameRequired   = "validation.account_name.required"
	KeyPaymentDetailsMissing = "validation.payment_details.required"
)

const (
	cardNumberLen = 16
	expiryDigits  = 4
)

// ValidateCardNumber strips whitespace and accepts exactly 16 digits passing Luhn.
//
// Digits at even indices (left to right) are doubled. For a fixed 16-digit
// length that is the same set the right-to-left formulation doubles; changing
// the parity accepts a different set of numbers.
func ValidateCardNumber(input string) bool {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, input)
	if len(s) != cardNumberLen {
		return false
	}
	sum := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if i%2 == 0 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}

// FormatCardNumber keeps the first 16 digits and groups them in blocks of four.
func FormatCardNumber(input string) string {
	digits := truncate(onlyDigits(input), cardNumberLen)
	var b strings.Builder
	for i := 0; i < len(digits); i++ {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteByte(digits[i])
	}
	return b.String()
}

// FormatExpiryDate builds MM/YY progressively as the user types.
func FormatExpiryDate(input string) string {
	digits := truncate(onlyDigits(input), expiryDigits)
	if len(digits) >= 2 {
		return digits[:2] + "/" + digits[2:]
	}
	return digits
}

// IsExpired parses MM/YY (year offset by 2000) and reports whether the first
// moment of that month is already behind now. Unparseable input counts as expired.
func IsExpired(expiry string, now time.Time) bool {
	month, year, ok := parseExpiry(expiry)
	if !ok {
		return true
	}
	start := time.Date(2000+year, time.Month(month), 1, 0, 0, 0, 0, now.Location())
	return start.Before(now)
}

// MaskCardNumber hides all but the last four digits.
func MaskCardNumber(input string) string {
	digits := onlyDigits(input)
	if len(digits) <= 4 {
		return digits
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}

// ValidateCard checks every card field and returns nil when submission may proceed.
func ValidateCard(c model.CardDetails, now time.Time) domain.FieldErrors {
	errs := domain.FieldErrors{}

	switch {
	case strings.TrimSpace(c.Number) == "":
		errs[FieldCardNumber] = KeyCardNumberRequired
	case !ValidateCardNumber(c.Number):
		errs[FieldCardNumber] = KeyCardNumberInvalid
	}

	switch {
	case strings.TrimSpace(c.Expiry) == "":
		errs[FieldExpiry] = KeyExpiryRequired
	case !expiryShape(c.Expiry):
		errs[FieldExpiry] = KeyExpiryInvalid
	case IsExpired(c.Expiry, now):
		errs[FieldExpiry] = KeyExpiryPast
	}

	if n := len(c.CVV); n < 3 || n > 4 || onlyDigits(c.CVV) != c.CVV {
		errs[FieldCVV] = KeyCVVInvalid
	}
	if strings.TrimSpace(c.CardholderName) == "" {
		errs[FieldCardholderName] = KeyCardholderRequired
	}
	return orNil(errs)
}

// ValidateBankTransfer checks the bank-transfer form.
func ValidateBankTransfer(b model.BankDetails) domain.FieldErrors {
	errs := domain.FieldErrors{}

	code := strings.TrimSpace(b.BankCode)
	if len(code) != 3 || onlyDigits(code) != code {
		errs[FieldBankCode] = KeyBankCodeInvalid
	}
	acct := strings.TrimSpace(b.AccountNumber)
	if n := len(acct); n < 10 || n > 16 || onlyDigits(acct) != acct {
		errs[FieldAccountNumber] = KeyAccountNumberInvalid
	}
	if strings.TrimSpace(b.AccountName) == "" {
		errs[FieldAccountName] = KeyAccountNameRequired
	}
	return orNil(errs)
}

// Validate dispatches on the selected payment method.
func Validate(d model.PaymentDetails, now time.Time) domain.FieldErrors {
	switch d.Method {
	case model.PaymentMethodCreditCard:
		if d.Card == nil {
			return domain.FieldErrors{FieldCardNumber: KeyPaymentDetailsMissing}
		}
		return ValidateCard(*d.Card, now)
	case model.PaymentMethodBankTransfer:
		if d.Bank == nil {
			return domain.FieldErrors{FieldBankCode: KeyPaymentDetailsMissing}
		}
		return ValidateBankTransfer(*d.Bank)
	}
	return domain.FieldErrors{FieldMethod: KeyMethodInvalid}
}

// parseExpiry splits MM/YY. Only a missing or non-numeric part fails; the
// month range is checked by ValidateCard.
func parseExpiry(s string) (month, year int, ok bool) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return 0, 0, false
	}
	if onlyDigits(parts[0]) != parts[0] || onlyDigits(parts[1]) != parts[1] {
		return 0, 0, false
	}
	m, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	y, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return m, y, true
}

// expiryShape accepts MM/YY with a month in 01..12.
func expiryShape(s string) bool {
	if len(s) != 5 || s[2] != '/' || onlyDigits(s) != s[:2]+s[3:] {
		return false
	}
	m, _ := strconv.Atoi(s[:2])
	return m >= 1 && m <= 12
}

func onlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func orNil(errs domain.FieldErrors) domain.FieldErrors {
	if len(errs) == 0 {
		return nil
	}
	return errs
}
