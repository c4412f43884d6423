// Package gateway talks to the payment provider.
package gateway

// Gateway builds payment redirects and authenticates provider callbacks.
type Gateway interface {
	// CreateRedirect returns the URL the payer's browser is sent to.
	CreateRedirect(subject, orderID string, amountCents int64) (string, error)
	// VerifySignature reports whether sign is the provider's signature over params.
	VerifySignature(params map[string]string, sign string) bool
}
