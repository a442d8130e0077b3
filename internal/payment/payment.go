// Package payment attaches payment credentials to outgoing upstream calls.
// Two concrete strategies, wallet (x402) and clawcredit (custodial), sit
// behind one interface and are selected once at startup from config.
package payment

import (
	"context"
	"strings"
)

// UpstreamRequest is the outgoing call a Backend attaches payment to (or,
// for clawcredit, wraps inside a pay-call envelope).
type UpstreamRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
}

// Response is the effective upstream response, after payment attachment —
// for clawcredit this is the unwrapped merchant_response, not the pay
// endpoint's own envelope.
type Response struct {
	StatusCode int
	Body       []byte
}

// Backend attaches payment credentials to one upstream call and returns the
// effective upstream response. preAuthMicroUSD is the estimated cost of the
// call, expressed in micro-USD (1 USD = 1,000,000).
type Backend interface {
	// Invoke performs the (payment-attached) upstream call.
	Invoke(ctx context.Context, req UpstreamRequest, preAuthMicroUSD int64) (*Response, error)
	// Mode identifies the backend variant, for logging/stats.
	Mode() string
}

// PaymentFailedMarker is the literal token that, anywhere in a response
// body, signals a wrapped payment failure regardless of HTTP status.
const PaymentFailedMarker = "x402_payment_failed"

// IsWrappedPaymentFailure scans body for the wrapped-failure marker. It must
// not rely on the HTTP status, which is why it takes the body independent
// of status code.
func IsWrappedPaymentFailure(statusCode int, body []byte) bool {
	if statusCode == 402 {
		return true
	}
	return strings.Contains(string(body), PaymentFailedMarker)
}
