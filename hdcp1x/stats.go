package hdcp1x

// Stats are monotonically increasing counters, cleared on Enable.
type Stats struct {
	AuthPassed      uint64
	AuthFailed      uint64
	ReauthRequested uint64
	LinkCheckPassed uint64
	LinkCheckFailed uint64
	ReadFailures    uint64
}
