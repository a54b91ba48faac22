package hdcp1x

// dispatch runs the current state's event handler and returns the state
// the FSM should move to; equal to state itself when the handler does not
// request a transition.
func (tx *TxInstance) dispatch(state State, e Event) State {
	switch state {
	case StateDisabled:
		return tx.runDisabled(e)
	case StateDetermineRxCapable:
		return tx.runDetermineRxCapable(e)
	case StateExchangeKsvs:
		return tx.runExchangeKsvs(e)
	case StateComputations:
		return tx.runComputations(e)
	case StateValidateRx:
		return tx.runValidateRx(e)
	case StateAuthenticated:
		return tx.runAuthenticated(e)
	case StateLinkIntegrityCheck:
		return tx.runLinkIntegrityCheck(e)
	case StateTestForRepeater:
		return tx.runTestForRepeater(e)
	case StateWaitForReady:
		return tx.runWaitForReady(e)
	case StateReadKsvList:
		return tx.runReadKsvList(e)
	case StateUnauthenticated:
		return tx.runUnauthenticated(e)
	case StatePhyDown:
		return tx.runPhyDown(e)
	default:
		return state
	}
}

func (tx *TxInstance) runDisabled(e Event) State {
	switch e {
	case EventEnable:
		if !tx.phyUp {
			return StatePhyDown
		}
		return StateUnauthenticated
	case EventPhyDown:
		tx.phyUp = false
	case EventPhyUp:
		tx.phyUp = true
	}
	return StateDisabled
}

func (tx *TxInstance) runDetermineRxCapable(e Event) State {
	switch e {
	case EventDisable:
		return StateDisabled
	case EventPhyDown:
		return StatePhyDown
	}
	return StateDetermineRxCapable
}

func (tx *TxInstance) runExchangeKsvs(e Event) State {
	switch e {
	case EventDisable:
		return StateDisabled
	case EventPhyDown:
		return StatePhyDown
	}
	return StateExchangeKsvs
}

func (tx *TxInstance) runComputations(e Event) State {
	switch e {
	case EventAuthenticate:
		return StateDetermineRxCapable
	case EventDisable:
		return StateDisabled
	case EventPhyDown:
		return StatePhyDown
	case EventPoll:
		return tx.pollForComputations()
	}
	return StateComputations
}

func (tx *TxInstance) runValidateRx(e Event) State {
	switch e {
	case EventAuthenticate:
		return StateDetermineRxCapable
	case EventDisable:
		return StateDisabled
	case EventPhyDown:
		return StatePhyDown
	case EventTimeout:
		tx.logger.Printf("hdcp1x: validate-rx timeout")
		return tx.validateRx()
	}
	return StateValidateRx
}

func (tx *TxInstance) runAuthenticated(e Event) State {
	switch e {
	case EventAuthenticate:
		return StateDetermineRxCapable
	case EventCheck:
		return StateLinkIntegrityCheck
	case EventDisable:
		return StateDisabled
	case EventPhyDown:
		return StatePhyDown
	}
	return StateAuthenticated
}

func (tx *TxInstance) runLinkIntegrityCheck(e Event) State {
	switch e {
	case EventAuthenticate:
		return StateDetermineRxCapable
	case EventDisable:
		return StateDisabled
	case EventPhyDown:
		return StatePhyDown
	case EventPoll:
		return tx.checkLinkIntegrity()
	}
	return StateLinkIntegrityCheck
}

func (tx *TxInstance) runTestForRepeater(e Event) State {
	switch e {
	case EventAuthenticate:
		return StateDetermineRxCapable
	case EventDisable:
		return StateDisabled
	case EventPhyDown:
		return StatePhyDown
	case EventPoll:
		return tx.testForRepeater()
	}
	return StateTestForRepeater
}

func (tx *TxInstance) runWaitForReady(e Event) State {
	switch e {
	case EventAuthenticate:
		return StateDetermineRxCapable
	case EventDisable:
		return StateDisabled
	case EventPhyDown:
		return StatePhyDown
	case EventPoll:
		return tx.pollForWaitForReady()
	case EventTimeout:
		tx.logger.Printf("hdcp1x: wait-for-ready timeout")
		next := tx.pollForWaitForReady()
		if next == StateWaitForReady {
			return StateUnauthenticated
		}
		return next
	}
	return StateWaitForReady
}

func (tx *TxInstance) runReadKsvList(e Event) State {
	switch e {
	case EventAuthenticate:
		return StateDetermineRxCapable
	case EventDisable:
		return StateDisabled
	case EventPhyDown:
		return StatePhyDown
	}
	return StateReadKsvList
}

func (tx *TxInstance) runUnauthenticated(e Event) State {
	switch e {
	case EventAuthenticate:
		return StateDetermineRxCapable
	case EventDisable:
		return StateDisabled
	case EventPhyDown:
		return StatePhyDown
	}
	return StateUnauthenticated
}

func (tx *TxInstance) runPhyDown(e Event) State {
	switch e {
	case EventDisable:
		return StateDisabled
	case EventPhyUp:
		if tx.encryptionMap != 0 {
			tx.postEventLocked(EventAuthenticate)
		}
		return StateUnauthenticated
	}
	return StatePhyDown
}

// enterState runs state's entry action and returns the state the FSM
// should move to next: equal to state itself unless the entry action
// (CheckRxCapable, ExchangeKsvs, ReadKsvList, ...) immediately determines
// a further transition is required.
func (tx *TxInstance) enterState(state State) State {
	next := state

	switch state {
	case StateDisabled:
		tx.disable()
	case StateDetermineRxCapable:
		tx.phyUp = true
		tx.setCheckLinkEnabled(false)
		tx.disableEncryption()
		next = tx.checkRxCapable()
	case StateExchangeKsvs:
		tx.stateHelper = 0
		next = tx.exchangeKsvs()
	case StateComputations:
		tx.startComputations()
	case StateValidateRx:
		tx.stateHelper = 0
		tx.platform.TimerStart(tmo100ms)
	case StateWaitForReady:
		tx.stateHelper = 0
		tx.platform.TimerStart(tmo5sec)
	case StateReadKsvList:
		next = tx.readKsvList()
	case StateAuthenticated:
		tx.stateHelper = 0
		tx.applyEncryption()
		if tx.previousState != StateLinkIntegrityCheck {
			tx.stats.AuthPassed++
			tx.setCheckLinkEnabled(true)
			tx.logger.Printf("hdcp1x: authenticated")
		}
	case StateLinkIntegrityCheck:
		next = tx.checkLinkIntegrity()
	case StateUnauthenticated:
		tx.isRepeater = false
		tx.phyUp = true
		tx.disableEncryption()
	case StatePhyDown:
		tx.phyUp = false
		tx.disableEncryption()
		if err := tx.cipher.Disable(); err != nil {
			tx.logger.Printf("hdcp1x: cipher disable: %v", err)
		}
	}

	return next
}

// exitState runs state's exit action.
func (tx *TxInstance) exitState(state State) {
	switch state {
	case StateDisabled:
		tx.enable()
	case StateComputations:
		tx.stateHelper = 0
	case StateValidateRx:
		tx.platform.TimerStop()
	case StateWaitForReady:
		tx.platform.TimerStop()
	case StateReadKsvList:
		tx.stateHelper = 0
	case StatePhyDown:
		if err := tx.cipher.Enable(); err != nil {
			tx.logger.Printf("hdcp1x: cipher enable: %v", err)
		}
	}
}

// checkRxCapable is DetermineRxCapable's entry action: does the
// downstream device advertise HDCP capability at all.
func (tx *TxInstance) checkRxCapable() State {
	capable, err := tx.port.IsCapable()
	if err != nil {
		tx.logger.Printf("hdcp1x: is capable: %v", err)
		return StateUnauthenticated
	}
	if !capable {
		tx.logger.Printf("hdcp1x: rx not capable")
		return StateUnauthenticated
	}
	tx.logger.Printf("hdcp1x: rx hdcp capable")
	return StateExchangeKsvs
}

// exchangeKsvs is ExchangeKsvs' entry action: read and validate BKSV,
// generate An, load the cipher and write An/AKSV to the downstream
// device.
func (tx *TxInstance) exchangeKsvs() State {
	buf := make([]byte, BKSVLen)
	n, err := tx.port.Read(RegBKSV, buf)
	if err != nil || n <= 0 {
		tx.stats.ReadFailures++
		return StateUnauthenticated
	}

	remoteKSV := uintFromLE(buf[:n])
	if !IsKSVValid(remoteKSV) {
		tx.logger.Printf("hdcp1x: bksv invalid")
		return StateUnauthenticated
	}
	if tx.platform.IsKSVRevoked(remoteKSV) {
		tx.logger.Printf("hdcp1x: bksv is revoked")
		return StateUnauthenticated
	}

	isRepeater, err := tx.port.IsRepeater()
	if err != nil {
		tx.logger.Printf("hdcp1x: is repeater: %v", err)
		return StateUnauthenticated
	}
	tx.isRepeater = isRepeater

	an, err := GenerateAn(tx.cipher)
	if err != nil {
		tx.logger.Printf("hdcp1x: generate an: %v", err)
		return StateUnauthenticated
	}
	tx.stateHelper = an

	localKSV, err := tx.cipher.LocalKSV()
	if err != nil {
		tx.logger.Printf("hdcp1x: local ksv: %v", err)
		return StateUnauthenticated
	}

	if err := tx.cipher.SetRemoteKSV(remoteKSV); err != nil {
		tx.logger.Printf("hdcp1x: set remote ksv: %v", err)
		return StateUnauthenticated
	}

	anBuf := make([]byte, ANLen)
	uintToLE(anBuf, an)
	if err := tx.port.Write(RegAN, anBuf); err != nil {
		tx.logger.Printf("hdcp1x: write an: %v", err)
	}

	aksvBuf := make([]byte, AKSVLen)
	uintToLE(aksvBuf, localKSV)
	if err := tx.port.Write(RegAKSV, aksvBuf); err != nil {
		tx.logger.Printf("hdcp1x: write aksv: %v", err)
	}

	return StateComputations
}

// startComputations is Computations' entry action: seed the cipher's B
// registers with An (and the repeater flag) and kick off the block
// computation.
func (tx *TxInstance) startComputations() {
	tx.logger.Printf("hdcp1x: starting computations")

	x, y, z := splitAn(tx.stateHelper, tx.isRepeater)
	if err := tx.cipher.SetB(x, y, z); err != nil {
		tx.logger.Printf("hdcp1x: set b: %v", err)
		return
	}
	if err := tx.cipher.Request(RequestBlock); err != nil {
		tx.logger.Printf("hdcp1x: request block: %v", err)
	}
}

// pollForComputations is Computations' Poll handler.
func (tx *TxInstance) pollForComputations() State {
	done, err := tx.cipher.RequestComplete()
	if err != nil {
		tx.logger.Printf("hdcp1x: poll computations: %v", err)
		return StateComputations
	}
	if done {
		tx.logger.Printf("hdcp1x: computations complete")
		return StateValidateRx
	}
	return StateComputations
}

// validateRxAttempts is the retry budget for a Ro/Ro' comparison and for
// a link-integrity Ri/Ri' comparison, matching the reference driver's
// three-try loops.
const validateRxAttempts = 3

// validateRx is ValidateRx's Timeout handler: compare the locally
// computed Ro against the remote Ro', retrying reads up to three times
// before giving up.
func (tx *TxInstance) validateRx() State {
	for attempt := validateRxAttempts; attempt > 0; attempt-- {
		buf := make([]byte, ROLen)
		n, err := tx.port.Read(RegRO, buf)
		if err != nil || n <= 0 {
			tx.logger.Printf("hdcp1x: ro' read failure")
			tx.stats.ReadFailures++
			continue
		}

		remoteRo := uint16(uintFromLE(buf[:n]))
		localRo, err := tx.cipher.Ro()
		if err != nil {
			tx.logger.Printf("hdcp1x: read ro: %v", err)
			continue
		}

		if localRo == remoteRo {
			tx.logger.Printf("hdcp1x: rx valid ro/ro' (%04x)", localRo)
			return StateTestForRepeater
		}

		tx.logger.Printf("hdcp1x: ro/ro' mismatch (%04x/%04x)", localRo, remoteRo)
		if attempt == 1 {
			tx.stats.AuthFailed++
		}
	}
	return StateUnauthenticated
}

// checkLinkIntegrity is LinkIntegrityCheck's Poll handler: compare the
// locally tracked Ri against the remote Ri', retrying up to three times.
func (tx *TxInstance) checkLinkIntegrity() State {
	next := StateDetermineRxCapable

	for attempt := validateRxAttempts; attempt > 0; attempt-- {
		buf := make([]byte, ROLen)
		n, err := tx.port.Read(RegRO, buf)
		if err != nil || n <= 0 {
			tx.logger.Printf("hdcp1x: ri' read failure")
			tx.stats.ReadFailures++
			continue
		}

		remoteRi := uint16(uintFromLE(buf[:n]))
		localRi, err := tx.cipher.Ri()
		if err != nil {
			tx.logger.Printf("hdcp1x: read ri: %v", err)
			continue
		}

		if localRi == remoteRi {
			tx.logger.Printf("hdcp1x: link check passed ri/ri' (%04x)", localRi)
			next = StateAuthenticated
			break
		}
		if attempt == 1 {
			tx.logger.Printf("hdcp1x: link check failed ri/ri' (%04x/%04x)", localRi, remoteRi)
		}
	}

	if next == StateAuthenticated {
		tx.stats.LinkCheckPassed++
	} else {
		tx.stats.LinkCheckFailed++
	}
	return next
}

// EnableEncryptionBeforeRepeaterAuth preserves the original driver's
// choice to engage encryption as soon as a repeater is detected, ahead
// of the KSV-list exchange that follows, rather than waiting for the
// full chain to validate. Required to pass the Unigraf compliance test
// suite; not otherwise mandated by the HDCP spec. A const rather than a
// build tag since there is exactly one supported value.
const EnableEncryptionBeforeRepeaterAuth = true

// testForRepeater is TestForRepeater's Poll handler.
func (tx *TxInstance) testForRepeater() State {
	isRepeater, err := tx.port.IsRepeater()
	if err != nil {
		tx.logger.Printf("hdcp1x: is repeater: %v", err)
		tx.isRepeater = false
		return StateAuthenticated
	}

	if !isRepeater {
		tx.isRepeater = false
		return StateAuthenticated
	}

	tx.isRepeater = true
	if err := tx.port.Write(RegAINFO, make([]byte, AINFOLen)); err != nil {
		tx.logger.Printf("hdcp1x: clear ainfo: %v", err)
	}
	tx.logger.Printf("hdcp1x: repeater detected")
	if EnableEncryptionBeforeRepeaterAuth {
		tx.applyEncryption()
	}
	return StateWaitForReady
}

// repeaterInfoCascadeOrDevsExceeded and repeaterInfoCascadeExceeded
// mirror the reference driver's 0x0880/0x0800 bitmasks: bit 7 is
// MAX_DEVS_EXCEEDED, bit 11 is MAX_CASCADE_EXCEEDED.
const (
	repeaterInfoCascadeOrDevsExceeded = BInfoMaxDevsExceeded | BInfoMaxCascadeExceeded
	repeaterInfoCascadeExceeded       = BInfoMaxCascadeExceeded
)

// pollForWaitForReady is WaitForReady's Poll (and Timeout) handler: if
// BInfo reports MAX_DEVS_EXCEEDED or MAX_CASCADE_EXCEEDED it moves to
// Unauthenticated; if it reports no attached devices it moves to
// Authenticated; otherwise it stashes BInfo and moves on to read the KSV
// list. It stays in WaitForReady only when BInfo cannot be read.
func (tx *TxInstance) pollForWaitForReady() State {
	binfo, err := tx.port.RepeaterInfo()
	if err != nil {
		tx.logger.Printf("hdcp1x: repeater info: %v", err)
		return StateWaitForReady
	}

	if binfo&repeaterInfoCascadeOrDevsExceeded != 0 {
		if binfo&repeaterInfoCascadeExceeded != 0 {
			tx.logger.Printf("hdcp1x: max cascade exceeded")
		} else {
			tx.logger.Printf("hdcp1x: max devices exceeded")
		}
		return StateUnauthenticated
	}

	if binfo&BInfoDeviceCountMask == 0 {
		tx.logger.Printf("hdcp1x: no attached devices")
		return StateAuthenticated
	}

	tx.stateHelper = uint64(binfo & 0x0FFF)
	tx.logger.Printf("hdcp1x: devices attached: ksv list ready")
	return StateReadKsvList
}

// readKsvListAttempts is the retry budget for validating the downstream
// KSV list, matching the reference driver's three-attempt loop.
const readKsvListAttempts = 3

// readKsvList is ReadKsvList's entry action: validate the downstream KSV
// list's SHA-1 digest against VH0..VH4, retrying up to three times.
func (tx *TxInstance) readKsvList() State {
	binfo := uint16(tx.stateHelper)

	valid := false
	for attempt := 0; attempt < readKsvListAttempts && !valid; attempt++ {
		ok, err := validateKSVList(tx.port, tx.cipher, binfo)
		if err != nil {
			tx.logger.Printf("hdcp1x: validate ksv list: %v", err)
			tx.stats.ReadFailures++
			continue
		}
		valid = ok
	}

	if valid {
		tx.logger.Printf("hdcp1x: ksv list validated")
		return StateAuthenticated
	}
	tx.logger.Printf("hdcp1x: ksv list invalid")
	return StateUnauthenticated
}
