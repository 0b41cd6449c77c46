package sentinel

import "errors"

// Sentinel errors for storage and transport facts. Token stores return these
// (optionally wrapped) and the session manager translates them into domain
// errors or state transitions.
//
//   - ErrNotFound: the store holds no token pair
//   - ErrExpired: a token's expiry claim is at or before now
//   - ErrInvalidState: persisted data exists but cannot be read back (corrupt file, wrong passphrase)
//   - ErrUnavailable: the backing facility (redis, postgres, backend) cannot be reached
var (
	ErrNotFound     = errors.New("not found")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
