// Package vl1err defines the sentinel error kinds shared across the VL1
// packages (spec.md §7). It follows the teacher's error-handling
// convention exactly: plain sentinels checked with errors.Is, wrapped at
// each layer boundary with fmt.Errorf("...: %w", err) rather than a custom
// error-struct hierarchy (ntor/ntor.go and link/link.go both do this).
package vl1err

import "errors"

var (
	// InvalidFormat: string/binary parsing failed (identity, endpoint,
	// inet address).
	InvalidFormat = errors.New("vl1: invalid format")

	// OutOfBounds: a buffer append/read would overflow. Append/read never
	// silently truncates; this is returned instead.
	OutOfBounds = errors.New("vl1: out of bounds")

	// InvalidData: parsed structurally but failed validation (bad length,
	// unknown tag, failed signature).
	InvalidData = errors.New("vl1: invalid data")

	// AuthenticationFailed: AEAD tag mismatch, wrong session, or replayed
	// counter. Per §7, callers must drop silently on this error rather
	// than generate any peer-visible response.
	AuthenticationFailed = errors.New("vl1: authentication failed")

	// IdentityWeak: the PoW predicate or a self-signature does not hold
	// after parsing an identity.
	IdentityWeak = errors.New("vl1: identity weak")

	// Io: wraps disk/socket failures from the glue layers (datadir, the
	// application's wire I/O).
	Io = errors.New("vl1: io")

	// NotReady: a background dependency (e.g. the controller database)
	// returned an error; the caller should retry later rather than treat
	// this as a terminal failure.
	NotReady = errors.New("vl1: not ready")

	// NotFound: a lookup by id (session, peer, pending handshake) found
	// nothing, distinct from InvalidData's "found something malformed".
	NotFound = errors.New("vl1: not found")
)
