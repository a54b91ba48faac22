package sim

import (
	"fmt"
	"sync"

	"github.com/usbarmory/hdcp1x/hdcp1x"
)

// Receiver is a software stand-in for the downstream HDCP device and its
// sideband register space. It is configured with a fixed BKSV and
// capability/repeater advertisement, captures An/AKSV as the transmitter
// writes them, and serves KSVFIFO/VH0..VH4 from a caller-supplied device
// list for repeater scenarios.
type Receiver struct {
	sync.Mutex

	// BKSV is this receiver's 40-bit Key Selection Vector.
	BKSV uint64

	// Capable advertises HDCP capability; when false, CheckRxCapable
	// fails the handshake before it starts.
	Capable bool

	// Repeater advertises BCAPS repeater support.
	Repeater bool

	// Downstream, when Repeater is true, is the KSV list the simulated
	// repeater reports, each entry a 40-bit KSV. BInfo's device count
	// is derived from len(Downstream); set MaxDevsExceeded or
	// MaxCascadeExceeded to simulate those failure conditions instead.
	Downstream         []uint64
	MaxDevsExceeded    bool
	MaxCascadeExceeded bool

	// RiOverride, when non-nil, is returned from RegRO in place of the
	// derived value, letting a test simulate an Ro' mismatch or link drift
	// independent of the transmitter's Cipher.
	RiOverride *uint16

	enabled    bool
	an         uint64
	akSV       uint64
	ainfo      byte
	reauth     func()
	linkCipher *Cipher
}

var _ hdcp1x.Port = (*Receiver)(nil)

// NewReceiver constructs a Receiver linked to cipher; cipher only has to
// be non-nil. The Receiver derives Ro' and Mo from the AKSV and An the
// transmitter writes and its own BKSV, so once ExchangeKsvs completes it
// agrees with the transmitter's Cipher on Ro and on V'. Ri' is not
// modelled: RegRO always serves the derived Ro', which differs from the
// value Cipher.Ri returns.
func NewReceiver(cipher *Cipher) *Receiver {
	return &Receiver{linkCipher: cipher}
}

func (r *Receiver) Enable() error {
	r.Lock()
	defer r.Unlock()
	r.enabled = true
	return nil
}

func (r *Receiver) Disable() error {
	r.Lock()
	defer r.Unlock()
	r.enabled = false
	return nil
}

func (r *Receiver) Read(offset hdcp1x.RegisterOffset, buf []byte) (int, error) {
	r.Lock()
	defer r.Unlock()

	switch offset {
	case hdcp1x.RegBKSV:
		return putLE(buf, r.BKSV), nil
	case hdcp1x.RegRO:
		var ro uint16
		if r.RiOverride != nil {
			ro = *r.RiOverride
		} else if r.linkCipher != nil {
			ro, _, _, _ = deriveLink(r.akSV, r.BKSV, r.an)
		}
		return putLE(buf, uint64(ro)), nil
	case hdcp1x.RegKSVFIFO:
		return r.readKSVFIFO(buf)
	case hdcp1x.RegVH0, hdcp1x.RegVH1, hdcp1x.RegVH2, hdcp1x.RegVH3, hdcp1x.RegVH4:
		return r.readVH(offset, buf)
	default:
		return 0, fmt.Errorf("hdcp1x/sim: unsupported read offset %d", offset)
	}
}

func (r *Receiver) readKSVFIFO(buf []byte) (int, error) {
	n := copy(buf, r.ksvFIFOBytes())
	return n, nil
}

// ksvFIFOBytes flattens Downstream into its little-endian wire form. A
// package-level cache is unnecessary: this runs once per ReadKsvList
// attempt and the lists involved are tiny.
func (r *Receiver) ksvFIFOBytes() []byte {
	buf := make([]byte, 0, len(r.Downstream)*hdcp1x.KSVEntryLen)
	for _, ksv := range r.Downstream {
		entry := make([]byte, hdcp1x.KSVEntryLen)
		for i := range entry {
			entry[i] = byte(ksv)
			ksv >>= 8
		}
		buf = append(buf, entry...)
	}
	return buf
}

func (r *Receiver) readVH(offset hdcp1x.RegisterOffset, buf []byte) (int, error) {
	v, err := r.computeV()
	if err != nil {
		return 0, err
	}
	idx := int(offset - hdcp1x.RegVH0)
	n := copy(buf, v[idx*4:idx*4+4])
	return n, nil
}

func (r *Receiver) Write(offset hdcp1x.RegisterOffset, buf []byte) error {
	r.Lock()
	defer r.Unlock()

	switch offset {
	case hdcp1x.RegAN:
		r.an = leToUint(buf)
	case hdcp1x.RegAKSV:
		r.akSV = leToUint(buf)
	case hdcp1x.RegAINFO:
		if len(buf) > 0 {
			r.ainfo = buf[0]
		}
	default:
		return fmt.Errorf("hdcp1x/sim: unsupported write offset %d", offset)
	}
	return nil
}

func (r *Receiver) IsCapable() (bool, error) {
	r.Lock()
	defer r.Unlock()
	return r.Capable, nil
}

func (r *Receiver) IsRepeater() (bool, error) {
	r.Lock()
	defer r.Unlock()
	return r.Repeater, nil
}

func (r *Receiver) RepeaterInfo() (uint16, error) {
	r.Lock()
	defer r.Unlock()

	info := uint16(len(r.Downstream)) & hdcp1x.BInfoDeviceCountMask
	if r.MaxDevsExceeded {
		info |= hdcp1x.BInfoMaxDevsExceeded
	}
	if r.MaxCascadeExceeded {
		info |= hdcp1x.BInfoMaxCascadeExceeded
	}
	return info, nil
}

func (r *Receiver) OnAuthenticateRequest(cb func()) {
	r.Lock()
	defer r.Unlock()
	r.reauth = cb
}

// RequestReauthentication simulates a downstream CP_IRQ / re-auth
// request (e.g. a DisplayPort hot-plug or an HDMI Ri mismatch detected
// by the sink). Test-only; real adapters drive this from hardware.
func (r *Receiver) RequestReauthentication() {
	r.Lock()
	cb := r.reauth
	r.Unlock()
	if cb != nil {
		cb()
	}
}

// computeV reproduces the V' digest the transmitter expects: SHA-1 over
// the KSV list bytes, BInfo (little-endian), and Mo (big-endian), using
// the Mo deriveLink yields for the captured AKSV, BKSV and An (the same Mo
// the transmitter's Cipher computes) so that a correctly configured pair
// always validates. Called with r locked, from Read.
func (r *Receiver) computeV() ([20]byte, error) {
	if r.linkCipher == nil {
		return [20]byte{}, fmt.Errorf("hdcp1x/sim: receiver has no linked cipher")
	}
	binfo := uint16(len(r.Downstream)) & hdcp1x.BInfoDeviceCountMask
	if r.MaxDevsExceeded {
		binfo |= hdcp1x.BInfoMaxDevsExceeded
	}
	if r.MaxCascadeExceeded {
		binfo |= hdcp1x.BInfoMaxCascadeExceeded
	}
	_, _, _, mo := deriveLink(r.akSV, r.BKSV, r.an)
	return sha1VPrime(r.ksvFIFOBytes(), binfo, mo), nil
}

func putLE(buf []byte, v uint64) int {
	n := 0
	for i := range buf {
		buf[i] = byte(v)
		v >>= 8
		n++
	}
	return n
}

func leToUint(buf []byte) uint64 {
	var v uint64
	for i := len(buf) - 1; i >= 0; i-- {
		v = (v << 8) | uint64(buf[i])
	}
	return v
}
