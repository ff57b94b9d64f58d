package payments

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCurrency indicates the requested cryptocurrency is not accepted.
	ErrInvalidCurrency = errors.New("invalid cryptocurrency")
	// ErrInvalidPaymentID indicates a payment id that cannot be a gateway id.
	ErrInvalidPaymentID = errors.New("invalid payment id")
	// ErrGatewayUnreachable indicates a network failure talking to the gateway.
	ErrGatewayUnreachable = errors.New("payment gateway unreachable")
	// ErrGatewayRejected indicates the gateway answered with a non-success status.
	ErrGatewayRejected = errors.New("payment gateway rejected the request")
	// ErrUpstreamTimeout indicates the gateway did not answer within the deadline.
	ErrUpstreamTimeout = errors.New("payment gateway timed out")
	// ErrPaymentNotFound indicates the payment is unknown to the gateway or ledger.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrMalformedNotification indicates a notification without a resolvable user.
	ErrMalformedNotification = errors.New("malformed payment notification")
	// ErrInvalidSignature indicates a notification whose signature did not verify.
	ErrInvalidSignature = errors.New("invalid notification signature")
	// ErrDuplicatePayment indicates a payment id was recorded twice.
	ErrDuplicatePayment = errors.New("payment already recorded")
	// ErrUnknownStatus indicates a gateway status outside the tracked set.
	ErrUnknownStatus = errors.New("unknown payment status")
)

// GatewayError carries the status code and message of a rejected gateway call.
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("payment gateway returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("payment gateway returned status %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets errors.Is match ErrGatewayRejected.
func (e *GatewayError) Unwrap() error {
	return ErrGatewayRejected
}
