package hdcp1x

import "errors"

// Error taxonomy per spec.md §7. Transport errors are a port read/write
// returning a non-positive count; protocol errors are a cryptographic
// check failing (Ro/Ri mismatch, invalid KSV, revoked KSV, BInfo
// exceeding MAX_DEVS/MAX_CASCADE, V'/V mismatch); capability errors mean
// the downstream device is not HDCP-capable.
var (
	ErrTransport  = errors.New("hdcp1x: transport failure")
	ErrProtocol   = errors.New("hdcp1x: protocol validation failure")
	ErrCapability = errors.New("hdcp1x: downstream not HDCP capable")

	// ErrNilConfig and ErrNilInstance surface programming errors at the
	// API boundary; the FSM has no recovery path for either.
	ErrNilConfig   = errors.New("hdcp1x: nil config")
	ErrNilInstance = errors.New("hdcp1x: nil instance")
)
