package invoice

import (
	"encoding/hex"
	"strings"

	"lukechampine.com/blake3"
)

const shortInvoiceLen = 26

// PaymentRequest is a decoded invoice as delivered by the node. It is
// immutable once received.
type PaymentRequest struct {
	Invoice     string `json:"invoice"`
	AmountSat   int64  `json:"amountSat"`
	Description string `json:"description"`
	PaymentHash string `json:"paymentHash,omitempty"`
	Destination string `json:"destination,omitempty"`
	NodeAlias   string `json:"nodeAlias,omitempty"`
}

// Fingerprint returns a stable digest of the encoded invoice suitable for logs
// and audit rows where the invoice itself must not appear.
func (r PaymentRequest) Fingerprint() string {
	sum := blake3.Sum256([]byte(strings.TrimSpace(r.Invoice)))
	return hex.EncodeToString(sum[:16])
}

// ShortInvoice returns the lower-cased invoice prefix used when displaying
// the request.
func (r PaymentRequest) ShortInvoice() string {
	inv := strings.ToLower(strings.TrimSpace(r.Invoice))
	if len(inv) > shortInvoiceLen {
		inv = inv[:shortInvoiceLen]
	}
	return inv + "..."
}

// Recipient returns the payer-facing name embedded in the description, if any.
func (r PaymentRequest) Recipient() string {
	name, _ := ExtractDescription(r.Description)
	return name
}

// Message returns the description with any embedded recipient name removed.
func (r PaymentRequest) Message() string {
	_, desc := ExtractDescription(r.Description)
	return desc
}

// ExtractDescription splits a raw invoice description into an optional
// recipient name and the remaining message. Two conventions are recognised:
// "[Name] message" and "Name: message". Names are single-line and at most 64
// characters long; anything else is returned untouched as the message.
func ExtractDescription(raw string) (name, description string) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "[") {
		if end := strings.Index(trimmed, "]"); end > 1 {
			if candidate := strings.TrimSpace(trimmed[1:end]); validName(candidate) {
				return candidate, strings.TrimSpace(trimmed[end+1:])
			}
		}
	}
	if idx := strings.Index(trimmed, ": "); idx > 0 {
		if candidate := strings.TrimSpace(trimmed[:idx]); validName(candidate) {
			return candidate, strings.TrimSpace(trimmed[idx+2:])
		}
	}
	return "", trimmed
}

func validName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	return !strings.ContainsAny(name, "\r\n:[]")
}
