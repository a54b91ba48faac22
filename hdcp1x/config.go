package hdcp1x

// Config is the immutable device configuration a TxInstance is bound to.
// It is never mutated by the FSM after NewTxInstance.
type Config struct {
	// DeviceId identifies the logical HDCP instance, e.g. for
	// per-device-id configuration lookups performed outside this
	// package.
	DeviceId uint32

	// IsHDMI is true for HDMI, false for DisplayPort. Governs whether
	// the Ri-update interrupt is meaningful (HDMI only).
	IsHDMI bool

	// BaseAddress is the hardware base address the device-discovery /
	// config-table lookup (out of scope here) bound this instance to.
	// Carried for diagnostic purposes only; the FSM never dereferences
	// it directly, it only matters to the Cipher/Port adapters supplied
	// at construction.
	BaseAddress uint32
}
