// Package usbddc implements an hdcp1x.Port that bridges DDC/AUX register
// access through a USB-attached compliance tester, such as the Unigraf
// units referenced by the HDCP 1.x specification's repeater test suite,
// using google/gousb for direct USB access.
package usbddc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"

	"github.com/usbarmory/hdcp1x/hdcp1x"
)

// Endpoint addresses and the single bulk-transfer request/response frame
// format the tester exposes: a one-byte opcode, a one-byte register
// offset, and up to 16 bytes of payload.
const (
	endpointOut = 0x01
	endpointIn  = 0x81

	opRead  = 0x01
	opWrite = 0x02

	defaultTimeout = 500 * time.Millisecond
)

// Port drives HDCP registers through a USB HDCP/DDC-AUX bridge.
type Port struct {
	ctx    *gousb.Context
	device *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	epOut  *gousb.OutEndpoint
	epIn   *gousb.InEndpoint
	reauth func()
}

var _ hdcp1x.Port = (*Port)(nil)

// Open opens the first USB device matching vid/pid and claims the fixed
// bulk DDC-bridge interface.
func Open(vid, pid gousb.ID) (*Port, error) {
	ctx := gousb.NewContext()

	device, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("usbddc: open device: %w", err)
	}
	if device == nil {
		ctx.Close()
		return nil, fmt.Errorf("usbddc: device not found (VID:%s PID:%s)", vid, pid)
	}

	config, err := device.Config(1)
	if err != nil {
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbddc: set config: %w", err)
	}

	intf, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbddc: claim interface: %w", err)
	}

	epOut, err := intf.OutEndpoint(endpointOut)
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbddc: open out endpoint: %w", err)
	}

	epIn, err := intf.InEndpoint(endpointIn)
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbddc: open in endpoint: %w", err)
	}

	return &Port{
		ctx:    ctx,
		device: device,
		config: config,
		intf:   intf,
		epOut:  epOut,
		epIn:   epIn,
	}, nil
}

// Close releases the USB interface, configuration, device and context.
func (p *Port) Close() error {
	p.intf.Close()
	p.config.Close()
	p.device.Close()
	p.ctx.Close()
	return nil
}

func (p *Port) Enable() error  { return nil }
func (p *Port) Disable() error { return nil }

func (p *Port) transact(op byte, offset hdcp1x.RegisterOffset, payload []byte) ([]byte, error) {
	frame := append([]byte{op, byte(offset)}, payload...)
	if _, err := p.epOut.Write(frame); err != nil {
		return nil, fmt.Errorf("%w: usb write: %v", hdcp1x.ErrTransport, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	buf := make([]byte, 64)
	n, err := p.epIn.ReadContext(ctx, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: usb read: %v", hdcp1x.ErrTransport, err)
	}
	return buf[:n], nil
}

func (p *Port) Read(offset hdcp1x.RegisterOffset, buf []byte) (int, error) {
	resp, err := p.transact(opRead, offset, []byte{byte(len(buf))})
	if err != nil {
		return 0, err
	}
	n := copy(buf, resp)
	return n, nil
}

func (p *Port) Write(offset hdcp1x.RegisterOffset, buf []byte) error {
	_, err := p.transact(opWrite, offset, buf)
	return err
}

// bcapsOffset mirrors ddc's; the tester exposes the same register layout
// over its bridge protocol.
const bcapsOffset = hdcp1x.RegisterOffset(0x40)

func (p *Port) IsCapable() (bool, error) {
	var buf [1]byte
	if _, err := p.Read(bcapsOffset, buf[:]); err != nil {
		return false, err
	}
	return buf[0]&(1<<1) != 0, nil
}

func (p *Port) IsRepeater() (bool, error) {
	var buf [1]byte
	if _, err := p.Read(bcapsOffset, buf[:]); err != nil {
		return false, err
	}
	return buf[0]&(1<<6) != 0, nil
}

const bstatusOffset = hdcp1x.RegisterOffset(0x41)

func (p *Port) RepeaterInfo() (uint16, error) {
	var buf [2]byte
	if _, err := p.Read(bstatusOffset, buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

// OnAuthenticateRequest registers cb. The tester's bridge protocol has no
// asynchronous CP_IRQ notification of its own; a caller driving a
// compliance test script invokes this indirectly by polling and calling
// the callback itself, or simply posts TxInstance.Authenticate directly.
func (p *Port) OnAuthenticateRequest(cb func()) {
	p.reauth = cb
}
