package dto

// PaymentInfoRequest sets a client's IBAN. An empty value clears it.
type PaymentInfoRequest struct {
	IBAN string `json:"iban"`
}

// PaymentInfoResponse is the masked view of a client's payment info.
type PaymentInfoResponse struct {
	ClientID int64  `json:"client_id"`
	IBAN     string `json:"iban,omitempty"`
	HasIBAN  bool   `json:"has_iban"`
}
