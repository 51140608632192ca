package models

import "errors"

// Sync error taxonomy. Record-level errors never abort a run, kind-level
// errors abort only that kind's section, credential-level errors abort the
// entire run.
var (
	// ErrNotConnected means no credential exists for the tenant/provider.
	ErrNotConnected = errors.New("provider not connected")

	// ErrAuthExpired indicates the provider rejected the access token.
	// The orchestrator refreshes once and retries once, then converts this
	// to ErrReconnectRequired.
	ErrAuthExpired = errors.New("provider credential expired")

	// ErrReconnectRequired is terminal for a sync run: the credential could
	// not be refreshed and the tenant must re-authorize.
	ErrReconnectRequired = errors.New("provider reconnect required")

	// ErrSyncInProgress is returned when a run is requested for a tenant
	// that already has one executing.
	ErrSyncInProgress = errors.New("sync already in progress for tenant")

	// ErrRateLimited surfaces a 429 that persisted through backoff.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrMalformedRecord marks a single record that could not be parsed;
	// callers log and skip it.
	ErrMalformedRecord = errors.New("malformed provider record")

	// ErrKindUnavailable aborts one object kind's section for the run.
	ErrKindUnavailable = errors.New("object kind unavailable")

	// ErrStoreConflict is surfaced after a conflicting write was retried
	// once and still failed.
	ErrStoreConflict = errors.New("store conflict")
)
