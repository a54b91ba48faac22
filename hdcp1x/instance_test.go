package hdcp1x_test

import (
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbarmory/hdcp1x/hdcp1x"
	"github.com/usbarmory/hdcp1x/sim"
)

// txKSV and rxKSV are fixed 40-bit values with a popcount of 20, valid
// under hdcp1x.IsKSVValid.
const (
	txKSV uint64 = 0x5555555555
	rxKSV uint64 = 0x99999999C3
)

func newPair(t *testing.T) (*hdcp1x.TxInstance, *sim.Cipher, *sim.Receiver, *sim.Platform) {
	t.Helper()

	txCipher := &sim.Cipher{OwnKSV: txKSV}
	rxCipher := &sim.Cipher{OwnKSV: rxKSV}

	receiver := sim.NewReceiver(rxCipher)
	receiver.BKSV = rxKSV
	receiver.Capable = true

	var tx *hdcp1x.TxInstance
	platform := sim.NewPlatform(func() {
		if tx != nil {
			tx.HandleTimeout()
		}
	})

	config := &hdcp1x.Config{DeviceId: 1, IsHDMI: true}
	logger := log.New(testWriter{t}, "", 0)

	var err error
	tx, err = hdcp1x.NewTxInstance(config, txCipher, receiver, platform, logger)
	require.NoError(t, err)

	// The physical link starts out down, which would send Enable to
	// PhyDown; report it up while still Disabled. Authenticate is ignored
	// while Disabled, so the tests below let Enable drain before posting it.
	tx.SetPhysicalState(true)
	tx.Poll()

	return tx, txCipher, receiver, platform
}

// testWriter adapts *testing.T into an io.Writer for the logger, so
// driver log output surfaces under `go test -v` instead of being lost.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// pollUntil repeatedly polls tx until cond is satisfied or the deadline
// elapses, returning whether cond became true in time.
func pollUntil(tx *hdcp1x.TxInstance, cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		tx.Poll()
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestAuthenticateHappyPathNonRepeater(t *testing.T) {
	tx, _, _, _ := newPair(t)

	tx.Enable()
	tx.Poll()
	tx.Authenticate()

	ok := pollUntil(tx, tx.IsAuthenticated, 2*time.Second)
	require.True(t, ok, "expected authentication to complete, got state %s", tx.State())

	assert.Equal(t, hdcp1x.StateAuthenticated, tx.State())
	assert.EqualValues(t, 1, tx.Stats().AuthPassed)
}

func TestAuthenticateFailsWhenReceiverNotCapable(t *testing.T) {
	tx, _, receiver, _ := newPair(t)
	receiver.Capable = false

	tx.Enable()
	tx.Poll()
	tx.Authenticate()

	ok := pollUntil(tx, func() bool { return tx.State() == hdcp1x.StateUnauthenticated }, time.Second)
	require.True(t, ok)
	assert.False(t, tx.IsAuthenticated())
}

func TestAuthenticateFailsOnRevokedBKSV(t *testing.T) {
	tx, _, receiver, platform := newPair(t)
	platform.Revoke(receiver.BKSV)

	tx.Enable()
	tx.Poll()
	tx.Authenticate()

	ok := pollUntil(tx, func() bool { return tx.State() == hdcp1x.StateUnauthenticated }, time.Second)
	require.True(t, ok)
	assert.False(t, tx.IsAuthenticated())
}

func TestAuthenticateFailsOnRoMismatch(t *testing.T) {
	tx, _, receiver, _ := newPair(t)
	badRo := uint16(0xDEAD)
	receiver.RiOverride = &badRo

	tx.Enable()
	tx.Poll()
	tx.Authenticate()

	ok := pollUntil(tx, func() bool { return tx.State() == hdcp1x.StateUnauthenticated }, 2*time.Second)
	require.True(t, ok, "expected Ro mismatch to land in Unauthenticated, got %s", tx.State())

	assert.EqualValues(t, 1, tx.Stats().AuthFailed)
	assert.Zero(t, tx.Stats().AuthPassed)
}

func TestAuthenticateRepeaterMaxCascadeExceeded(t *testing.T) {
	tx, _, receiver, _ := newPair(t)
	receiver.Repeater = true
	receiver.MaxCascadeExceeded = true

	tx.Enable()
	tx.Poll()
	tx.Authenticate()

	ok := pollUntil(tx, func() bool { return tx.State() == hdcp1x.StateUnauthenticated }, 2*time.Second)
	require.True(t, ok, "expected cascade-exceeded repeater to land in Unauthenticated, got %s", tx.State())
	assert.False(t, tx.IsAuthenticated())
}

func TestAuthenticateRepeaterWithValidKSVList(t *testing.T) {
	tx, _, receiver, _ := newPair(t)
	receiver.Repeater = true
	receiver.Downstream = []uint64{
		0xFFFFF00000, // popcount 20
		0x00000FFFFF, // popcount 20
	}

	tx.Enable()
	tx.Poll()
	tx.Authenticate()

	ok := pollUntil(tx, tx.IsAuthenticated, 3*time.Second)
	require.True(t, ok, "expected repeater with valid KSV list to authenticate, got %s", tx.State())
	assert.Equal(t, hdcp1x.StateAuthenticated, tx.State())
}

func TestLinkIntegrityDriftReauthenticatesViaRiUpdate(t *testing.T) {
	tx, txCipher, receiver, _ := newPair(t)

	tx.Enable()
	tx.Poll()
	tx.Authenticate()
	require.True(t, pollUntil(tx, tx.IsAuthenticated, 2*time.Second))

	badRi := uint16(0xBAD1)
	receiver.RiOverride = &badRi

	txCipher.FireRiUpdate()
	ok := pollUntil(tx, func() bool { return tx.State() == hdcp1x.StateLinkIntegrityCheck || tx.Stats().LinkCheckFailed > 0 }, 2*time.Second)
	require.True(t, ok)

	assert.EqualValues(t, 1, tx.Stats().LinkCheckFailed)
	assert.False(t, tx.IsAuthenticated())
}

func TestPollIsIdempotentWhenNothingPending(t *testing.T) {
	tx, _, _, _ := newPair(t)

	before := tx.State()
	tx.Poll()
	tx.Poll()
	assert.Equal(t, before, tx.State())
}

func TestResetReturnsToUnauthenticatedAfterAuthentication(t *testing.T) {
	tx, _, _, _ := newPair(t)

	tx.Enable()
	tx.Poll()
	tx.Authenticate()
	require.True(t, pollUntil(tx, tx.IsAuthenticated, 2*time.Second))

	tx.Reset()
	ok := pollUntil(tx, func() bool { return tx.State() == hdcp1x.StateUnauthenticated }, time.Second)
	require.True(t, ok)
}

func TestIsInProgressDuringHandshake(t *testing.T) {
	tx, _, _, _ := newPair(t)

	tx.Enable()
	require.True(t, pollUntil(tx, func() bool { return tx.State() == hdcp1x.StateUnauthenticated }, time.Second))
	assert.False(t, tx.IsInProgress())

	tx.Authenticate()
	tx.Poll() // drains Authenticate and runs on to ValidateRx, which awaits its timer
	assert.True(t, tx.IsInProgress())
}

func TestEnableEncryptionDeferredUntilAuthenticated(t *testing.T) {
	tx, txCipher, _, _ := newPair(t)

	require.NoError(t, tx.EnableEncryption(0x1))
	enc, err := txCipher.Encryption()
	require.NoError(t, err)
	assert.Zero(t, enc, "encryption must not engage before authentication")

	tx.Enable()
	tx.Poll()
	tx.Authenticate()
	require.True(t, pollUntil(tx, tx.IsAuthenticated, 2*time.Second))

	enc, err = tx.GetEncryption()
	require.NoError(t, err)
	assert.EqualValues(t, 0x1, enc)
}
