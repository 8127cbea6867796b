// Package gateway holds the client contracts for the three downstream
// services and their HTTP adapters.
package gateway

import (
	"context"
	"errors"
)

// ErrPaymentNotFound signals the lookup index has no owning gateway for a
// payment ID. Callers must not retry it.
var ErrPaymentNotFound = errors.New("payment not found in lookup index")

// LookupClient resolves a payment ID to its owning gateway name.
type LookupClient interface {
	LookupGateway(ctx context.Context, paymentID string) (string, error)
}

// NotifierClient announces a chunk of payment IDs to the downstream notifier
// before their statuses are checked.
type NotifierClient interface {
	Notify(ctx context.Context, gateway string, paymentIDs []string) error
}

// StatusCheckClient fetches the definitive status of one payment from its
// gateway.
type StatusCheckClient interface {
	CheckStatus(ctx context.Context, gateway, paymentID string) (string, error)
}
