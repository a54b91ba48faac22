package sim

import (
	"sync"
	"time"

	"github.com/usbarmory/hdcp1x/hdcp1x"
)

// Platform is a software stand-in for the platform timer and SRM
// revocation list. Timers are backed by time.AfterFunc; TimerBusyWait
// really sleeps, since there is no hardware busy-loop to emulate.
type Platform struct {
	mu        sync.Mutex
	onTimeout func()
	timer     *time.Timer
	revoked   map[uint64]bool
}

var _ hdcp1x.Platform = (*Platform)(nil)

// NewPlatform constructs a Platform whose timers invoke onTimeout (wired
// by the caller to TxInstance.HandleTimeout).
func NewPlatform(onTimeout func()) *Platform {
	return &Platform{onTimeout: onTimeout, revoked: make(map[uint64]bool)}
}

func (p *Platform) TimerStart(ms uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
		if p.onTimeout != nil {
			p.onTimeout()
		}
	})
}

func (p *Platform) TimerStop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Platform) TimerBusyWait(ms uint32) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// Revoke adds ksv to the simulated SRM revocation list.
func (p *Platform) Revoke(ksv uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked[ksv] = true
}

func (p *Platform) IsKSVRevoked(ksv uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revoked[ksv]
}
