package hdcp1x

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventSetOrdering(t *testing.T) {
	var s eventSet
	s.post(EventTimeout)
	s.post(EventDisable)
	s.post(EventCheck)

	var order []Event
	for {
		e, ok := s.next()
		if !ok {
			break
		}
		order = append(order, e)
		s.clear(e)
	}

	assert.Equal(t, []Event{EventCheck, EventDisable, EventTimeout}, order)
}

func TestEventSetEmpty(t *testing.T) {
	var s eventSet
	assert.True(t, s.empty())
	s.post(EventPoll)
	assert.False(t, s.empty())
	s.clear(EventPoll)
	assert.True(t, s.empty())
}

func TestPostEventCoalescesDisableWithEnable(t *testing.T) {
	tx := &TxInstance{}
	tx.postEventLocked(EventEnable)
	tx.postEventLocked(EventDisable)

	assert.False(t, tx.pending.has(EventEnable), "Disable must clear a pending Enable")
	assert.True(t, tx.pending.has(EventDisable))
}

func TestPostEventCoalescesPhyDownWithPhyUp(t *testing.T) {
	tx := &TxInstance{}
	tx.postEventLocked(EventPhyUp)
	tx.postEventLocked(EventPhyDown)

	assert.False(t, tx.pending.has(EventPhyUp), "PhyDown must clear a pending PhyUp")
	assert.True(t, tx.pending.has(EventPhyDown))
}

func TestPostEventDoesNotCoalesceUnrelatedEvents(t *testing.T) {
	tx := &TxInstance{}
	tx.postEventLocked(EventEnable)
	tx.postEventLocked(EventAuthenticate)

	assert.True(t, tx.pending.has(EventEnable))
	assert.True(t, tx.pending.has(EventAuthenticate))
}
