package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbarmory/hdcp1x/hdcp1x"
)

func TestOpenCreatesBucketAndRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")

	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	ev := Event{
		From:  hdcp1x.StateDetermineRxCapable.String(),
		To:    hdcp1x.StateExchangeKsvs.String(),
		Stats: hdcp1x.Stats{AuthPassed: 1},
	}
	ev.Time = ev.Time.UTC()

	assert.NoError(t, l.Record(ev))
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()
}

func TestTransitionsRecordsCallbackWiring(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")

	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	config := &hdcp1x.Config{DeviceId: 0}
	tx, err := hdcp1x.NewTxInstance(config, noopCipher{}, noopPort{}, noopPlatform{}, nil)
	require.NoError(t, err)

	cb := l.Transitions(tx)
	assert.NotPanics(t, func() {
		cb(hdcp1x.StateDisabled, hdcp1x.StateUnauthenticated)
	})
}

// noopCipher, noopPort and noopPlatform satisfy the narrow interfaces
// NewTxInstance requires, with no behavior beyond that: this test only
// exercises the audit callback wiring, not the FSM itself.
type noopCipher struct{}

func (noopCipher) Enable() error                    { return nil }
func (noopCipher) Disable() error                   { return nil }
func (noopCipher) SetRemoteKSV(uint64) error         { return nil }
func (noopCipher) LocalKSV() (uint64, error)         { return 0, nil }
func (noopCipher) SetB(uint32, uint32, uint32) error { return nil }
func (noopCipher) Request(hdcp1x.RequestKind) error  { return nil }
func (noopCipher) RequestComplete() (bool, error)    { return false, nil }
func (noopCipher) Mi() (uint64, error)               { return 0, nil }
func (noopCipher) Ri() (uint16, error)               { return 0, nil }
func (noopCipher) Mo() (uint64, error)                { return 0, nil }
func (noopCipher) Ro() (uint16, error)               { return 0, nil }
func (noopCipher) EnableEncryption(uint64) error     { return nil }
func (noopCipher) DisableEncryption(uint64) error    { return nil }
func (noopCipher) Encryption() (uint64, error)       { return 0, nil }
func (noopCipher) SetRiUpdateEnabled(bool) error     { return nil }
func (noopCipher) OnRiUpdate(func())                 {}

type noopPort struct{}

func (noopPort) Enable() error                                     { return nil }
func (noopPort) Disable() error                                    { return nil }
func (noopPort) Read(hdcp1x.RegisterOffset, []byte) (int, error)   { return 0, nil }
func (noopPort) Write(hdcp1x.RegisterOffset, []byte) error         { return nil }
func (noopPort) IsCapable() (bool, error)                          { return false, nil }
func (noopPort) IsRepeater() (bool, error)                         { return false, nil }
func (noopPort) RepeaterInfo() (uint16, error)                     { return 0, nil }
func (noopPort) OnAuthenticateRequest(func())                      {}

type noopPlatform struct{}

func (noopPlatform) TimerStart(uint32)         {}
func (noopPlatform) TimerStop()                {}
func (noopPlatform) TimerBusyWait(uint32)      {}
func (noopPlatform) IsKSVRevoked(uint64) bool  { return false }
