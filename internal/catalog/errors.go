package catalog

import "errors"

// Error taxonomy shared by the traversal and harvest layers. Per-URL and
// per-node failures wrapping these sentinels are absorbed and logged by the
// engine; only ErrNoTargets and ErrSinkDelivery propagate to the caller.
var (
	// ErrBlocked marks a navigation that landed on a block or challenge page.
	ErrBlocked = errors.New("page blocked")

	// ErrNavigationTimeout marks a navigation that never reached the
	// readiness marker within its bounded wait.
	ErrNavigationTimeout = errors.New("navigation timed out")

	// ErrNoTargets aborts a run whose target resolution yielded nothing.
	ErrNoTargets = errors.New("no crawl targets resolved")

	// ErrSinkDelivery marks harvested data that failed to persist.
	ErrSinkDelivery = errors.New("sink delivery failed")
)
