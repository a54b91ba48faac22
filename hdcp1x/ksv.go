package hdcp1x

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"

	"github.com/usbarmory/hdcp1x/internal/bitfield"
)

// anFallback is substituted when the cipher's RNG yields zero.
const anFallback uint64 = 0x0351F7175406A74D

// maxRngPollAttempts bounds the busy loop awaiting Rng completion inside
// GenerateAn. The cipher is expected to complete well within this in any
// real deployment; the bound exists only to keep a stalled adapter from
// hanging the caller forever.
const maxRngPollAttempts = 1 << 20

// maxKSVListDevices bounds how many KSVFIFO entries we will read per
// ValidateKSVList call; it is not the retry count (that is the FSM's
// concern in ReadKsvList), it is a sanity ceiling on N from BInfo.
const maxKSVListDevices = 0x7F

// ksvFifoChunkSize is the implementation-defined chunk size used when
// draining KSVFIFO: three 5-byte KSV entries per port read.
const ksvFifoChunkSize = 3 * KSVEntryLen

// IsKSVValid reports whether a 40-bit value is a well-formed Key
// Selection Vector: exactly 20 of its low 40 bits set.
func IsKSVValid(v uint64) bool {
	return bits.OnesCount64(v&0xFFFFFFFFFF) == 20
}

// GenerateAn produces the 64-bit An session nonce by requesting an Rng
// cycle from the cipher, busy-polling for completion, and reading Mi. If
// the result is zero, the fixed non-zero fallback constant is substituted.
func GenerateAn(cipher Cipher) (uint64, error) {
	if err := cipher.Request(RequestRng); err != nil {
		return 0, fmt.Errorf("hdcp1x: rng request: %w", err)
	}

	done := false
	for i := 0; i < maxRngPollAttempts; i++ {
		ok, err := cipher.RequestComplete()
		if err != nil {
			return 0, fmt.Errorf("hdcp1x: rng poll: %w", err)
		}
		if ok {
			done = true
			break
		}
	}
	if !done {
		return 0, fmt.Errorf("%w: rng request never completed", ErrTransport)
	}

	an, err := cipher.Mi()
	if err != nil {
		return 0, fmt.Errorf("hdcp1x: read mi: %w", err)
	}
	if an == 0 {
		an = anFallback
	}
	return an, nil
}

// splitAn splits a 64-bit An plus the repeater flag into the three
// register-sized pieces the cipher's SetB expects: low 28 bits of An into
// X, next 28 bits into Y, high 8 bits of An into the low 8 bits of Z, and
// the repeater flag into bit 8 of Z.
func splitAn(an uint64, isRepeater bool) (x, y, z uint32) {
	x = uint32(bitfield.Get64(&an, 0, 0x0FFFFFFF))
	y = uint32(bitfield.Get64(&an, 28, 0x0FFFFFFF))
	z = uint32(bitfield.Get64(&an, 56, 0xFF))
	if isRepeater {
		bitfield.Set(&z, 8)
	}
	return
}

// uintFromLE reassembles a little-endian byte slice (buf[0] is the LSB)
// into a uint64, as used for BKSV, AKSV, AN and Ro on the wire.
func uintFromLE(buf []byte) uint64 {
	var v uint64
	for i := len(buf) - 1; i >= 0; i-- {
		v = (v << 8) | uint64(buf[i])
	}
	return v
}

// uintToLE writes the low 8*len(buf) bits of v into buf little-endian
// (buf[0] gets the LSB).
func uintToLE(buf []byte, v uint64) {
	for i := range buf {
		buf[i] = byte(v)
		v >>= 8
	}
}

// readKSVFIFO drains n*KSVEntryLen bytes from the port's KSVFIFO register
// in bounded chunks, writing each chunk into h in order. Any short read is
// a transport failure.
func readKSVFIFO(port Port, h io.Writer, n int) error {
	remaining := n * KSVEntryLen
	buf := make([]byte, ksvFifoChunkSize)

	for remaining > 0 {
		want := ksvFifoChunkSize
		if want > remaining {
			want = remaining
		}
		nread, err := port.Read(RegKSVFIFO, buf[:want])
		if err != nil || nread != want {
			return fmt.Errorf("%w: ksvfifo read", ErrTransport)
		}
		if _, werr := h.Write(buf[:nread]); werr != nil {
			return fmt.Errorf("hdcp1x: sha1 write: %w", werr)
		}
		remaining -= nread
	}
	return nil
}

// readVPrime reads the five 32-bit VH0..VH4 words, each reassembled from
// the 4 bytes read in port order as big-endian (high byte first).
func readVPrime(port Port) ([20]byte, error) {
	var vprime [20]byte
	regs := [5]RegisterOffset{RegVH0, RegVH1, RegVH2, RegVH3, RegVH4}

	for i, reg := range regs {
		buf := make([]byte, VHWordLen)
		n, err := port.Read(reg, buf)
		if err != nil || n != VHWordLen {
			return vprime, fmt.Errorf("%w: vh%d read", ErrTransport, i)
		}
		copy(vprime[i*4:i*4+4], buf)
	}
	return vprime, nil
}

// validateKSVList implements the repeater V' check of spec.md §4.5: SHA-1
// over the downstream KSV list, the two BInfo bytes (little-endian), and
// Mo (big-endian, 8 bytes); compared word-for-word against VH0..VH4.
func validateKSVList(port Port, cipher Cipher, binfo uint16) (bool, error) {
	n := int(binfo & BInfoDeviceCountMask)
	if n < 0 || n > maxKSVListDevices {
		return false, fmt.Errorf("%w: implausible device count %d", ErrProtocol, n)
	}

	h := sha1.New()

	if err := readKSVFIFO(port, h, n); err != nil {
		return false, err
	}

	binfoBytes := []byte{byte(binfo), byte(binfo >> 8)}
	if _, err := h.Write(binfoBytes); err != nil {
		return false, fmt.Errorf("hdcp1x: sha1 write binfo: %w", err)
	}

	mo, err := cipher.Mo()
	if err != nil {
		return false, fmt.Errorf("hdcp1x: read mo: %w", err)
	}
	moBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(moBytes, mo)
	if _, err := h.Write(moBytes); err != nil {
		return false, fmt.Errorf("hdcp1x: sha1 write mo: %w", err)
	}

	v := h.Sum(nil)

	vprime, err := readVPrime(port)
	if err != nil {
		return false, err
	}

	for i := 0; i < 20; i += 4 {
		word := binary.BigEndian.Uint32(vprime[i : i+4])
		expected := binary.BigEndian.Uint32(v[i : i+4])
		if word != expected {
			return false, nil
		}
	}
	return true, nil
}
