// Package ddc implements an hdcp1x.Port over the DDC (Display Data
// Channel) I2C sideband used by HDMI, via periph.io/x/conn's i2c bus
// registry.
package ddc

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/usbarmory/hdcp1x/hdcp1x"
)

// hdcpSlaveAddr is the fixed 7-bit I2C address of the HDCP register
// block on the DDC bus, per the HDCP 1.x specification.
const hdcpSlaveAddr = 0x3a

// registerBase maps a RegisterOffset onto its byte offset within the
// HDCP DDC register block.
var registerBase = map[hdcp1x.RegisterOffset]byte{
	hdcp1x.RegBKSV:    0x00,
	hdcp1x.RegRO:      0x08,
	hdcp1x.RegAN:      0x18,
	hdcp1x.RegAKSV:    0x10,
	hdcp1x.RegAINFO:   0x15,
	hdcp1x.RegKSVFIFO: 0x43,
	hdcp1x.RegVH0:     0x20,
	hdcp1x.RegVH1:     0x24,
	hdcp1x.RegVH2:     0x28,
	hdcp1x.RegVH3:     0x2c,
	hdcp1x.RegVH4:     0x30,
}

// Port drives a downstream HDMI device's HDCP DDC registers over an I2C
// bus found via periph.io's bus registry.
type Port struct {
	mu     sync.Mutex
	bus    i2c.BusCloser
	conn   i2c.Dev
	reauth func()
}

var _ hdcp1x.Port = (*Port)(nil)

// Open finds and connects to the named I2C bus (empty string selects the
// first available bus, as with periph.io's other *reg.Open helpers) and
// binds to the fixed HDCP DDC slave address.
func Open(name string) (*Port, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("ddc: %w", err)
	}

	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("ddc: %w", err)
	}

	return &Port{
		bus:  bus,
		conn: i2c.Dev{Bus: bus, Addr: hdcpSlaveAddr},
	}, nil
}

// Close releases the underlying I2C bus.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bus.Close()
}

func (p *Port) Enable() error  { return nil }
func (p *Port) Disable() error { return nil }

func (p *Port) Read(offset hdcp1x.RegisterOffset, buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	base, ok := registerBase[offset]
	if !ok {
		return 0, fmt.Errorf("ddc: unsupported register %d", offset)
	}
	if err := p.conn.Tx([]byte{base}, buf); err != nil {
		return 0, fmt.Errorf("%w: ddc read: %v", hdcp1x.ErrTransport, err)
	}
	return len(buf), nil
}

func (p *Port) Write(offset hdcp1x.RegisterOffset, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	base, ok := registerBase[offset]
	if !ok {
		return fmt.Errorf("ddc: unsupported register %d", offset)
	}
	frame := append([]byte{base}, buf...)
	if err := p.conn.Tx(frame, nil); err != nil {
		return fmt.Errorf("%w: ddc write: %v", hdcp1x.ErrTransport, err)
	}
	return nil
}

// bcapsOffset and bstatusOffset are the two repeater-status registers;
// not part of registerBase since RepeaterInfo/IsCapable/IsRepeater read
// them directly rather than through the generic Read path.
const (
	bcapsOffset   = 0x40
	bstatusOffset = 0x41
)

func (p *Port) IsCapable() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var buf [1]byte
	if err := p.conn.Tx([]byte{bcapsOffset}, buf[:]); err != nil {
		return false, fmt.Errorf("%w: read bcaps: %v", hdcp1x.ErrTransport, err)
	}
	return buf[0]&(1<<1) != 0, nil
}

func (p *Port) IsRepeater() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var buf [1]byte
	if err := p.conn.Tx([]byte{bcapsOffset}, buf[:]); err != nil {
		return false, fmt.Errorf("%w: read bcaps: %v", hdcp1x.ErrTransport, err)
	}
	return buf[0]&(1<<6) != 0, nil
}

func (p *Port) RepeaterInfo() (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var buf [2]byte
	if err := p.conn.Tx([]byte{bstatusOffset}, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: read bstatus: %v", hdcp1x.ErrTransport, err)
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

// OnAuthenticateRequest registers cb, invoked externally when the
// platform's interrupt handling observes a DDC-side re-authentication
// request; this package has no interrupt source of its own since DDC is
// polled, not IRQ-driven, unlike DisplayPort's AUX CP_IRQ.
func (p *Port) OnAuthenticateRequest(cb func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reauth = cb
}
