package hdcp1x

// RequestKind enumerates the hardware operations the FSM can ask the
// cipher block to perform.
type RequestKind int

const (
	// RequestBlock performs the An/BKSV -> Ro/Ri block computation used
	// during KSV exchange.
	RequestBlock RequestKind = iota
	// RequestRekey forces the cipher to reload its key schedule without
	// a full re-authentication.
	RequestRekey
	// RequestRng produces a fresh pseudo-random value, read back via Mi.
	RequestRng
)

func (k RequestKind) String() string {
	switch k {
	case RequestBlock:
		return "Block"
	case RequestRekey:
		return "Rekey"
	case RequestRng:
		return "Rng"
	default:
		return "Unknown"
	}
}

// Cipher is the narrow capability surface the FSM uses to drive the
// hardware cipher block: enable/disable, remote KSV load, An/repeater-bit
// seeding, request/poll of {Block, Rekey, Rng}, and readback of Ri/Ro/Mi/Mo
// and the local KSV. The cipher block itself, its register map, and its
// internal key-generation computation are out of scope; implementations
// live in sibling packages (sim, or a real hardware binding).
//
// All methods are synchronous from the FSM's point of view: Request begins
// a hardware operation and RequestComplete is polled non-blockingly by the
// FSM until it reports true. The adapter itself does not block.
type Cipher interface {
	Enable() error
	Disable() error

	// SetRemoteKSV loads the received BKSV into the cipher's key-select
	// unit.
	SetRemoteKSV(ksv uint64) error

	// LocalKSV reads AKSV, the local 40-bit key selection vector.
	LocalKSV() (uint64, error)

	// SetB loads the 64-bit An plus repeater flag into the cipher as
	// three register-sized pieces, per the FSM's bit-layout split (see
	// internal/bitfield and Computations' entry action).
	SetB(x, y, z uint32) error

	// Request initiates a hardware operation of the given kind.
	Request(kind RequestKind) error

	// RequestComplete is a non-blocking poll of the in-flight request.
	RequestComplete() (bool, error)

	Mi() (uint64, error)
	Ri() (uint16, error)
	Mo() (uint64, error)
	Ro() (uint16, error)

	EnableEncryption(streamMap uint64) error
	DisableEncryption(streamMap uint64) error
	Encryption() (uint64, error)

	// SetRiUpdateEnabled toggles the HDMI Ri-update interrupt: the
	// cipher emits an interrupt every 128 frames when a fresh Ri is
	// ready. DisplayPort adapters may treat this as a no-op.
	SetRiUpdateEnabled(enabled bool) error

	// OnRiUpdate registers the callback invoked from the Ri-update
	// interrupt context. Implementations must treat the registered
	// callback as a non-owning reference: the caller (TxInstance)
	// outlives its Cipher.
	OnRiUpdate(cb func())
}

// LaneCounter is an optional extension a Cipher may implement to track
// DisplayPort lane count, mirroring the original driver's
// XHdcp1x_CipherSetNumLanes/GetNumLanes. Not part of the narrow Cipher
// contract because HDMI ciphers have no notion of lanes.
type LaneCounter interface {
	SetLaneCount(n int) error
	LaneCount() (int, error)
}
