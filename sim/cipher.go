package sim

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/usbarmory/hdcp1x/hdcp1x"
	"github.com/usbarmory/hdcp1x/internal/bitfield"
)

// Cipher is a software stand-in for the hardware cipher block. It tracks
// enable state, the loaded KSVs and An, and a simulated request/complete
// cycle; Ro/Ri/Mi/Mo are derived via deriveLink rather than the real
// (proprietary, out of scope) HDCP key schedule.
type Cipher struct {
	sync.Mutex

	// OwnKSV is this cipher's fixed 40-bit Key Selection Vector,
	// returned from LocalKSV.
	OwnKSV uint64

	// RoOverride and RiOverride, when non-nil, are returned from Ro/Ri
	// in place of the derived value, letting a test force a specific
	// mismatch without hand-computing a colliding digest.
	RoOverride *uint16
	RiOverride *uint16

	enabled       bool
	remoteKSV     uint64
	an            uint64
	isRepeater    bool
	laneCount     int
	pendingReq    hdcp1x.RequestKind
	reqPending    bool
	mi            uint64
	encryptionMap uint64
	riUpdate      bool
	onRiUpdate    func()
}

var _ hdcp1x.Cipher = (*Cipher)(nil)
var _ hdcp1x.LaneCounter = (*Cipher)(nil)

func (c *Cipher) Enable() error {
	c.Lock()
	defer c.Unlock()
	c.enabled = true
	return nil
}

func (c *Cipher) Disable() error {
	c.Lock()
	defer c.Unlock()
	c.enabled = false
	c.encryptionMap = 0
	return nil
}

func (c *Cipher) SetRemoteKSV(ksv uint64) error {
	c.Lock()
	defer c.Unlock()
	c.remoteKSV = ksv
	return nil
}

func (c *Cipher) LocalKSV() (uint64, error) {
	return c.OwnKSV, nil
}

func (c *Cipher) SetB(x, y, z uint32) error {
	c.Lock()
	defer c.Unlock()
	var an uint64
	bitfield.SetN64(&an, 0, 0x0FFFFFFF, uint64(x))
	bitfield.SetN64(&an, 28, 0x0FFFFFFF, uint64(y))
	bitfield.SetN64(&an, 56, 0xFF, uint64(z))
	c.an = an
	c.isRepeater = bitfield.Get(&z, 8, 1) != 0
	return nil
}

func (c *Cipher) Request(kind hdcp1x.RequestKind) error {
	c.Lock()
	defer c.Unlock()
	if !c.enabled {
		return fmt.Errorf("hdcp1x/sim: cipher disabled")
	}
	c.pendingReq = kind
	c.reqPending = true
	if kind == hdcp1x.RequestRng {
		c.mi = rand.Uint64()
	}
	return nil
}

func (c *Cipher) RequestComplete() (bool, error) {
	c.Lock()
	defer c.Unlock()
	if !c.reqPending {
		return false, nil
	}
	c.reqPending = false
	return true, nil
}

func (c *Cipher) Mi() (uint64, error) {
	c.Lock()
	defer c.Unlock()
	return c.mi, nil
}

func (c *Cipher) Ri() (uint16, error) {
	c.Lock()
	defer c.Unlock()
	if c.RiOverride != nil {
		return *c.RiOverride, nil
	}
	_, ri, _, _ := deriveLink(c.OwnKSV, c.remoteKSV, c.an)
	return ri, nil
}

func (c *Cipher) Mo() (uint64, error) {
	c.Lock()
	defer c.Unlock()
	_, _, _, mo := deriveLink(c.OwnKSV, c.remoteKSV, c.an)
	return mo, nil
}

func (c *Cipher) Ro() (uint16, error) {
	c.Lock()
	defer c.Unlock()
	if c.RoOverride != nil {
		return *c.RoOverride, nil
	}
	ro, _, _, _ := deriveLink(c.OwnKSV, c.remoteKSV, c.an)
	return ro, nil
}

func (c *Cipher) EnableEncryption(streamMap uint64) error {
	c.Lock()
	defer c.Unlock()
	c.encryptionMap |= streamMap
	return nil
}

func (c *Cipher) DisableEncryption(streamMap uint64) error {
	c.Lock()
	defer c.Unlock()
	c.encryptionMap &^= streamMap
	return nil
}

func (c *Cipher) Encryption() (uint64, error) {
	c.Lock()
	defer c.Unlock()
	return c.encryptionMap, nil
}

func (c *Cipher) SetRiUpdateEnabled(enabled bool) error {
	c.Lock()
	defer c.Unlock()
	c.riUpdate = enabled
	return nil
}

func (c *Cipher) OnRiUpdate(cb func()) {
	c.Lock()
	defer c.Unlock()
	c.onRiUpdate = cb
}

func (c *Cipher) SetLaneCount(n int) error {
	c.Lock()
	defer c.Unlock()
	c.laneCount = n
	return nil
}

func (c *Cipher) LaneCount() (int, error) {
	c.Lock()
	defer c.Unlock()
	return c.laneCount, nil
}

// FireRiUpdate invokes the registered Ri-update callback, simulating the
// cipher's every-128-frames interrupt. Test-only convenience; real
// adapters drive this from hardware.
func (c *Cipher) FireRiUpdate() {
	c.Lock()
	cb := c.onRiUpdate
	riUpdate := c.riUpdate
	c.Unlock()
	if riUpdate && cb != nil {
		cb()
	}
}
