package adapter

import "context"

// SessionRefresher renews the cookie session. A non-nil error means the
// session cannot be renewed and the user has to sign in again.
type SessionRefresher interface {
	Refresh(ctx context.Context) error
}
