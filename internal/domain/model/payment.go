package model

// CardDetails is what a user types into the card form. It is sent to the
// purchase API only after client-side validation passes.
type CardDetails struct {
	Number         string `json:"cardNumber"`
	Expiry         string `json:"expiryDate"` // MM/YY
	CVV            string `json:"cvv"`
	CardholderName string `json:"cardholderName"`
}

// BankDetails is the bank-transfer form.
type BankDetails struct {
	BankCode      string `json:"bankCode"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
}

// PaymentDetails is the confirm-call body; exactly one of Card or Bank is set,
// matching the purchase's payment method.
type PaymentDetails struct {
	Method PaymentMethod `json:"paymentMethod"`
	Card   *CardDetails  `json:"card,omitempty"`
	Bank   *BankDetails  `json:"bank,omitempty"`
}
