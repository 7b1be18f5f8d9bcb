package thread

import "errors"

// Error taxonomy for thread synchronization. All errors returned by this
// package wrap one of these sentinels so callers can branch with errors.Is.
var (
	// ErrFetch marks a failed historical load. Recoverable: re-invoking the
	// load retries it, and the previously loaded state stays valid.
	ErrFetch = errors.New("thread: history fetch failed")

	// ErrSend marks a failed message send. The caller keeps the composed
	// body so the user can retry.
	ErrSend = errors.New("thread: message send failed")

	// ErrSubscription marks a real-time channel failure that persisted
	// through automatic resubscription attempts.
	ErrSubscription = errors.New("thread: subscription failed")
)
