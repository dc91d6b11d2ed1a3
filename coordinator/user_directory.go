package coordinator

import "context"

// UserDirectory resolves a user id to the address Notifier should send
// status updates to. Notifier implementations that need an address (e.g.
// the Postmark-backed one) depend on this instead of embedding their own
// user lookup.
type UserDirectory interface {
	Email(ctx context.Context, userID int64) (string, error)
}
