// Package sim provides software-only Cipher, Port and Platform
// implementations of the hdcp1x interfaces, for use in tests and demo
// binaries where no real cipher silicon or sideband transport is
// available.
//
// None of this models the actual HDCP cipher algorithm, which is
// proprietary and out of scope for both the transmitter driver and this
// package. Instead, Receiver and Cipher agree on a shared, deterministic
// derivation of Ro/Ri/Mi/Mo from the KSVs and An they both observe, so
// that a correctly-behaving pair authenticates, and a test can flip a
// single input (a wrong BKSV, a stale Ri) to exercise a specific failure
// path.
package sim

import (
	"crypto/sha1"
	"encoding/binary"
)

// sha1VPrime computes the V' digest exactly as hdcp1x's validateKSVList
// does: SHA-1 over the raw KSV list bytes, the two BInfo bytes
// (little-endian), then Mo as 8 bytes big-endian.
func sha1VPrime(ksvListBytes []byte, binfo uint16, mo uint64) [20]byte {
	h := sha1.New()
	h.Write(ksvListBytes)
	h.Write([]byte{byte(binfo), byte(binfo >> 8)})
	var moBuf [8]byte
	binary.BigEndian.PutUint64(moBuf[:], mo)
	h.Write(moBuf[:])

	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// deriveLink computes the four simulated cipher outputs from the two
// KSVs and An. Ro and Ri are taken from disjoint 2-byte slices of digest A;
// Mi and Mo are taken from digest B, so that Mi/Mo legitimately differ
// from the Ro/Ri material as in the real protocol.
func deriveLink(localKSV, remoteKSV, an uint64) (ro, ri uint16, mi, mo uint64) {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], localKSV)
	binary.BigEndian.PutUint64(buf[8:16], remoteKSV)
	binary.BigEndian.PutUint64(buf[16:24], an)

	a := sha1.Sum(buf[:])
	ro = binary.BigEndian.Uint16(a[0:2])
	ri = binary.BigEndian.Uint16(a[2:4])

	buf[0] ^= 0xff
	b := sha1.Sum(buf[:])
	mi = binary.BigEndian.Uint64(b[0:8])
	mo = binary.BigEndian.Uint64(b[8:16])

	return
}
