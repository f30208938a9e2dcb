package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoBackend means every storage tier failed, including the embedded one.
	ErrNoBackend = errors.New("no database connection available")
	// ErrTableMissing means the REST facade has no table to write to. The
	// table is provisioned outside this program.
	ErrTableMissing = errors.New("table missing: create it in the database behind the REST facade before saving")
)

// TierAttempt records one failed step of backend resolution.
type TierAttempt struct {
	Tier string
	Err  error
}

// ResolveError lists every tier Resolve tried and why each one failed.
type ResolveError struct {
	Attempts []TierAttempt
}

func (e *ResolveError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Tier, a.Err))
	}
	return fmt.Sprintf("%v (tried %s)", ErrNoBackend, strings.Join(parts, "; "))
}

func (e *ResolveError) Unwrap() error { return ErrNoBackend }
