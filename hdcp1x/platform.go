package hdcp1x

// Platform is the narrow capability surface the FSM uses for time and for
// KSV revocation queries. Only ValidateRx (100ms) and WaitForReady (5s)
// arm a timer; two additional suspension points (a 5ms busy-wait around
// encryption toggles, and a bounded busy-wait for Rng completion inside
// GenerateAn) are the only blocking calls the FSM makes.
type Platform interface {
	// TimerStart arms a one-shot timer; when it fires, the platform is
	// responsible for calling TxInstance.HandleTimeout.
	TimerStart(ms uint32)

	// TimerStop idempotently cancels any pending timer.
	TimerStop()

	// TimerBusyWait blocks the calling goroutine for ms milliseconds.
	TimerBusyWait(ms uint32)

	// IsKSVRevoked consults a revocation list (SRM) for the given KSV.
	IsKSVRevoked(ksv uint64) bool
}
