package migration

import "errors"

var (
	// ErrNotLicensed is returned when VM management is not licensed.
	ErrNotLicensed = errors.New("vm migration is not licensed")

	// ErrUnknownPolicy is returned when a policy has no registered strategy.
	ErrUnknownPolicy = errors.New("no strategy registered for policy")

	// ErrSnapshotFailed is returned when the usage snapshot cannot be computed.
	ErrSnapshotFailed = errors.New("failed to compute usage snapshot")

	// ErrNoCandidates is returned when no node candidate list can be built.
	ErrNoCandidates = errors.New("no node candidates")

	// ErrDuplicateDecision is returned when a VM is queued twice in one pass.
	ErrDuplicateDecision = errors.New("vm already has a queued migration decision")
)
