package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Version errors
	ErrInvalidVersion      = errors.New("version is not major.minor.patch")
	ErrMalformedIdentifier = errors.New("swarm identifier has no version after prefix")

	// Invitation errors
	ErrNoInvitation       = errors.New("peer did not issue an invitation")
	ErrFetchInvitation    = errors.New("invitation request failed")
	ErrInvalidInvitation  = errors.New("invitation code is malformed")
	ErrOwnInvitation      = errors.New("invitation was issued by this pub")
	ErrInvitationNotFound = errors.New("invitation not found")
	ErrInvitationUsed     = errors.New("invitation has no uses left")

	// Discovery errors
	ErrDiscoveryDisabled = errors.New("discovery is disabled")
	ErrTransportClosed   = errors.New("discovery transport is closed")
	ErrNotListening      = errors.New("discovery transport is not listening")
	ErrHandshake         = errors.New("swarm handshake failed")

	// Trust store errors
	ErrPeerNotFound = errors.New("federated peer not found")
)
