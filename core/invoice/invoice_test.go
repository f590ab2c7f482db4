package invoice

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractDescription(t *testing.T) {
	cases := []struct {
		raw, name, desc string
	}{
		{"[Alice] coffee", "Alice", "coffee"},
		{"Bob's Shop: two sandwiches", "Bob's Shop", "two sandwiches"},
		{"plain donation", "", "plain donation"},
		{"  ", "", ""},
		{"[] empty name", "", "[] empty name"},
		{"a\nb: split", "", "a\nb: split"},
		{"http://example.com/x", "", "http://example.com/x"},
	}
	for _, tc := range cases {
		name, desc := ExtractDescription(tc.raw)
		require.Equal(t, tc.name, name, tc.raw)
		require.Equal(t, tc.desc, desc, tc.raw)
	}
}

func TestShortInvoice(t *testing.T) {
	req := PaymentRequest{Invoice: "LNBC2500U1PVJLUEZSP5ZYG3ZYG3ZYG3ZYG3ZYG3ZYG3ZYG3"}
	require.Equal(t, "lnbc2500u1pvjluezsp5zyg3zy...", req.ShortInvoice())
	require.Equal(t, "lnbc1...", PaymentRequest{Invoice: "lnbc1"}.ShortInvoice())
}

func TestFingerprintIsStableAndOpaque(t *testing.T) {
	a := PaymentRequest{Invoice: "lnbc1abc"}
	b := PaymentRequest{Invoice: " lnbc1abc "}
	require.Equal(t, a.Fingerprint(), b.Fingerprint())
	require.Len(t, a.Fingerprint(), 32)
	require.NotContains(t, a.Fingerprint(), "lnbc")
	require.NotEqual(t, a.Fingerprint(), PaymentRequest{Invoice: "lnbc1abd"}.Fingerprint())
}

func TestRecipientAndMessage(t *testing.T) {
	req := PaymentRequest{Description: "[Carol] rent"}
	require.Equal(t, "Carol", req.Recipient())
	require.Equal(t, "rent", req.Message())
}
