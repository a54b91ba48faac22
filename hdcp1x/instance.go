package hdcp1x

import (
	"fmt"
	"log"
	"sync"
)

const (
	tmo5ms   = 5
	tmo100ms = 100
	tmo5sec  = 5000
)

// TxInstance drives the HDCP 1.x transmitter authentication state machine
// over a caller-supplied Cipher, Port and Platform. All exported methods
// are safe for concurrent use; the FSM itself runs single-threaded inside
// Poll, serialized by mu.
type TxInstance struct {
	mu sync.Mutex

	config *Config

	cipher   Cipher
	port     Port
	platform Platform
	logger   *log.Logger

	currentState  State
	previousState State
	pending       eventSet

	// flags mirror the reference driver's FLAG_PHY_UP / FLAG_IS_REPEATER.
	phyUp      bool
	isRepeater bool

	// stateHelper is scratch storage reused by a couple of states: An is
	// stashed here between ExchangeKsvs and Computations, and the
	// 12-bit RepeaterInfo word is stashed here between WaitForReady and
	// ReadKsvList.
	stateHelper uint64

	// encryptionMap is the bitmap of logical streams the caller has
	// asked to be encrypted; it is the target the FSM converges
	// Cipher's actual encryption state towards whenever authenticated.
	encryptionMap uint64

	stats Stats

	onTransition func(from, to State)
}

// NewTxInstance constructs a TxInstance. logger may be nil, in which case
// log.Default() is used. The instance starts in StateDisabled with no
// pending events, matching CfgInitialize/Init in the reference driver.
func NewTxInstance(config *Config, cipher Cipher, port Port, platform Platform, logger *log.Logger) (*TxInstance, error) {
	if config == nil {
		return nil, ErrNilConfig
	}
	if cipher == nil || port == nil || platform == nil {
		return nil, fmt.Errorf("hdcp1x: nil cipher, port or platform")
	}
	if logger == nil {
		logger = log.Default()
	}

	tx := &TxInstance{
		config:        config,
		cipher:        cipher,
		port:          port,
		platform:      platform,
		logger:        logger,
		currentState:  StateDisabled,
		previousState: StateDisabled,
	}

	cipher.OnRiUpdate(func() { tx.postEvent(EventCheck) })
	port.OnAuthenticateRequest(func() {
		tx.mu.Lock()
		tx.stats.ReauthRequested++
		tx.mu.Unlock()
		tx.postEvent(EventAuthenticate)
	})

	tx.mu.Lock()
	tx.enterState(StateDisabled)
	tx.mu.Unlock()

	return tx, nil
}

// OnTransition registers a callback invoked after every completed state
// transition, from inside Poll. cb must not block and must not call back
// into tx.
func (tx *TxInstance) OnTransition(cb func(from, to State)) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.onTransition = cb
}

// postEvent posts e to the pending set, applying the reference driver's
// coalescing rules: Disable clears a pending Enable, and PhyDown clears a
// pending PhyUp (an Enable or PhyUp that has not yet been acted on is
// moot once the device is being torn down).
func (tx *TxInstance) postEvent(e Event) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.postEventLocked(e)
}

func (tx *TxInstance) postEventLocked(e Event) {
	switch e {
	case EventDisable:
		tx.pending.clear(EventEnable)
	case EventPhyDown:
		tx.pending.clear(EventPhyUp)
	}
	tx.pending.post(e)
}

// Enable arms the state machine: the port is enabled and the instance will
// transition out of Disabled the next time Poll drains the event.
func (tx *TxInstance) Enable() {
	tx.postEvent(EventEnable)
}

// Disable tears the state machine down to StateDisabled.
func (tx *TxInstance) Disable() {
	tx.postEvent(EventDisable)
}

// Reset posts Disable followed by Enable, both of which take effect on
// the same Poll call since Disable does not clear itself.
func (tx *TxInstance) Reset() {
	tx.mu.Lock()
	tx.postEventLocked(EventDisable)
	tx.postEventLocked(EventEnable)
	tx.mu.Unlock()
}

// SetPhysicalState reports the sideband physical layer's link state. A
// transition to down always posts PhyDown; a transition to up always
// posts PhyUp.
func (tx *TxInstance) SetPhysicalState(up bool) {
	if up {
		tx.postEvent(EventPhyUp)
	} else {
		tx.postEvent(EventPhyDown)
	}
}

// SetLaneCount forwards the DisplayPort lane count to the cipher, if it
// implements LaneCounter. Returns ErrCapability if it does not.
func (tx *TxInstance) SetLaneCount(n int) error {
	lc, ok := tx.cipher.(LaneCounter)
	if !ok {
		return fmt.Errorf("%w: cipher has no lane count support", ErrCapability)
	}
	return lc.SetLaneCount(n)
}

// Authenticate requests a full (re-)authentication cycle.
func (tx *TxInstance) Authenticate() {
	tx.postEvent(EventAuthenticate)
}

// Rekey forces the cipher to reload its key schedule without a full
// re-authentication. Supplemental to the reference driver's public API,
// exercising Cipher.Request(RequestRekey) directly.
func (tx *TxInstance) Rekey() error {
	return tx.cipher.Request(RequestRekey)
}

// IsInProgress reports whether an authentication attempt is underway:
// true whenever the current state is neither a steady state nor
// PhyDown.
func (tx *TxInstance) IsInProgress() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.currentState == StatePhyDown {
		return false
	}
	return !tx.currentState.isSteady()
}

// IsAuthenticated reports whether the current state is Authenticated or
// LinkIntegrityCheck.
func (tx *TxInstance) IsAuthenticated() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.currentState.isAuthenticated()
}

// State returns the current FSM state.
func (tx *TxInstance) State() State {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.currentState
}

// Stats returns a snapshot of the instance's counters.
func (tx *TxInstance) Stats() Stats {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.stats
}

// EnableEncryption adds streamMap to the set of streams the FSM will
// encrypt. If already authenticated, encryption is engaged immediately
// (subject to the cipher settling delay); otherwise it takes effect as
// soon as authentication completes.
func (tx *TxInstance) EnableEncryption(streamMap uint64) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.encryptionMap |= streamMap
	if tx.currentState.isAuthenticated() {
		tx.applyEncryption()
	}
	return nil
}

// DisableEncryption removes streamMap from the set of streams the FSM
// encrypts, disabling it on the cipher immediately.
func (tx *TxInstance) DisableEncryption(streamMap uint64) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.cipher.DisableEncryption(streamMap); err != nil {
		return fmt.Errorf("hdcp1x: disable encryption: %w", err)
	}
	tx.encryptionMap &^= streamMap
	return nil
}

// GetEncryption returns the cipher's actual encryption stream map.
func (tx *TxInstance) GetEncryption() (uint64, error) {
	return tx.cipher.Encryption()
}

// HandleTimeout posts a Timeout event; called by Platform when a timer
// armed via Platform.TimerStart fires.
func (tx *TxInstance) HandleTimeout() {
	tx.postEvent(EventTimeout)
}

// Poll drains all pending events in ascending Event order, running each
// to a stable state (following any chain of entry-action-triggered
// transitions) before moving to the next pending event, then
// unconditionally dispatches a Poll event, matching
// ProcessPending/DoTheState in the reference driver. The caller is
// expected to call Poll periodically; it is how the FSM makes progress
// through states that await an in-flight hardware operation
// (Computations, WaitForReady, LinkIntegrityCheck, TestForRepeater).
func (tx *TxInstance) Poll() {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if !tx.pending.empty() {
		pending := tx.pending
		tx.pending = 0

		for e, ok := pending.next(); ok; {
			pending.clear(e)
			tx.runToStable(e)
			e, ok = pending.next()
		}
	}

	tx.runToStable(EventPoll)
}

// applyEncryption converges the cipher's actual encryption stream map
// towards encryptionMap, if they differ, with a settling delay first.
// Mirrors the reference driver's EnableEncryption.
func (tx *TxInstance) applyEncryption() {
	if tx.encryptionMap == 0 {
		return
	}
	actual, err := tx.cipher.Encryption()
	if err != nil {
		tx.logger.Printf("hdcp1x: read encryption: %v", err)
		return
	}
	if actual == tx.encryptionMap {
		return
	}
	tx.platform.TimerBusyWait(tmo5ms)
	if err := tx.cipher.EnableEncryption(tx.encryptionMap); err != nil {
		tx.logger.Printf("hdcp1x: enable encryption: %v", err)
	}
}

// disableEncryption turns off whatever encryption is currently active on
// the cipher, with a settling delay afterwards. Mirrors the reference
// driver's DisableEncryption. It does not touch encryptionMap: that is
// the caller's requested target, independent of what is momentarily
// active on the wire.
func (tx *TxInstance) disableEncryption() {
	actual, err := tx.cipher.Encryption()
	if err != nil {
		tx.logger.Printf("hdcp1x: read encryption: %v", err)
		return
	}
	if actual == 0 {
		return
	}
	if err := tx.cipher.DisableEncryption(^uint64(0)); err != nil {
		tx.logger.Printf("hdcp1x: disable encryption: %v", err)
	}
	tx.platform.TimerBusyWait(tmo5ms)
}

// setCheckLinkEnabled toggles the HDMI Ri-update interrupt. DisplayPort
// configurations have no per-frame Ri-update interrupt, so this is a
// no-op when Config.IsHDMI is false.
func (tx *TxInstance) setCheckLinkEnabled(enabled bool) {
	if !tx.config.IsHDMI {
		return
	}
	if err := tx.cipher.SetRiUpdateEnabled(enabled); err != nil {
		tx.logger.Printf("hdcp1x: set ri update: %v", err)
	}
}

// disable is the Disabled state's entry action: tear everything down.
func (tx *TxInstance) disable() {
	if err := tx.port.Disable(); err != nil {
		tx.logger.Printf("hdcp1x: port disable: %v", err)
	}
	if err := tx.cipher.Disable(); err != nil {
		tx.logger.Printf("hdcp1x: cipher disable: %v", err)
	}
	tx.platform.TimerStop()
	tx.isRepeater = false
	tx.stateHelper = 0
	tx.encryptionMap = 0
}

// enable is the Disabled state's exit action: bring the port and cipher
// back up and reset the accumulated statistics.
func (tx *TxInstance) enable() {
	tx.stats = Stats{}
	if err := tx.cipher.Enable(); err != nil {
		tx.logger.Printf("hdcp1x: cipher enable: %v", err)
	}
	if err := tx.port.Enable(); err != nil {
		tx.logger.Printf("hdcp1x: port enable: %v", err)
	}
}

// runToStable dispatches e against the current state's handler, then, as
// long as the handler (or a subsequent entry action) requested a state
// change, exits the old state and enters the new one. Entry actions may
// themselves drive further transitions synchronously (e.g.
// DetermineRxCapable's entry immediately evaluates CheckRxCapable).
func (tx *TxInstance) runToStable(e Event) {
	next := tx.dispatch(tx.currentState, e)
	for next != tx.currentState {
		tx.exitState(tx.currentState)
		from := tx.currentState
		tx.previousState = from
		tx.currentState = next
		next = tx.enterState(tx.currentState)
		if tx.onTransition != nil {
			tx.onTransition(from, tx.currentState)
		}
	}
}
