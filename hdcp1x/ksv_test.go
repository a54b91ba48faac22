package hdcp1x

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// sha1Sum reproduces validateKSVList's expected digest framing for test
// fixtures: KSV list bytes, then BInfo little-endian, then Mo big-endian.
func sha1Sum(ksvList []byte, binfo uint16, mo uint64) [20]byte {
	h := sha1.New()
	h.Write(ksvList)
	h.Write([]byte{byte(binfo), byte(binfo >> 8)})
	moBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(moBytes, mo)
	h.Write(moBytes)
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

func TestIsKSVValid(t *testing.T) {
	cases := []struct {
		name  string
		ksv   uint64
		valid bool
	}{
		{"popcount 20 alternating", 0x5555555555, true},
		{"popcount 20 high bits", 0xFFFFF00000, true},
		{"popcount 19", 0x5555555554, false},
		{"popcount 21", 0x5555555575, false},
		{"zero", 0, false},
		{"high bits above bit 40 ignored", 0xFF5555555555, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.valid, IsKSVValid(c.ksv))
		})
	}
}

func TestUintLERoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 0x0102030405, 0xFFFFFFFFFFFFFFFF, 0x0351F7175406A74D} {
		buf := make([]byte, 8)
		uintToLE(buf, v)
		assert.Equal(t, v, uintFromLE(buf))
	}
}

func TestUintFromLEByteOrder(t *testing.T) {
	// buf[0] is the LSB.
	buf := []byte{0x01, 0x02, 0x03}
	assert.Equal(t, uint64(0x030201), uintFromLE(buf))
}

func TestSplitAnRoundTrip(t *testing.T) {
	an := uint64(0x0123456789ABCDEF)

	for _, repeater := range []bool{false, true} {
		x, y, z := splitAn(an, repeater)

		got := uint64(x&0x0FFFFFFF) | uint64(y&0x0FFFFFFF)<<28 | uint64(z&0xFF)<<56
		assert.Equal(t, an, got, "repeater=%v", repeater)

		if repeater {
			assert.NotZero(t, z&(1<<8))
		} else {
			assert.Zero(t, z & (1 << 8))
		}
	}
}

// fakeRngCipher is a minimal Cipher stub exercising only GenerateAn's
// request/poll/read sequence, with Mi() pinned to a chosen value.
type fakeRngCipher struct {
	Cipher
	mi          uint64
	requested   RequestKind
	completions int
}

func (f *fakeRngCipher) Request(kind RequestKind) error {
	f.requested = kind
	return nil
}

func (f *fakeRngCipher) RequestComplete() (bool, error) {
	f.completions++
	return true, nil
}

func (f *fakeRngCipher) Mi() (uint64, error) {
	return f.mi, nil
}

func TestGenerateAnFallsBackWhenMiIsZero(t *testing.T) {
	c := &fakeRngCipher{mi: 0}
	an, err := GenerateAn(c)

	assert.NoError(t, err)
	assert.Equal(t, anFallback, an)
	assert.Equal(t, RequestRng, c.requested)
}

func TestGenerateAnUsesMiWhenNonZero(t *testing.T) {
	c := &fakeRngCipher{mi: 0xDEADBEEFCAFEF00D}
	an, err := GenerateAn(c)

	assert.NoError(t, err)
	assert.Equal(t, c.mi, an)
}

// fakePort backs validateKSVList's read path with an in-memory register
// file, letting the V' framing be tested without a full sim.Receiver.
type fakePort struct {
	Port
	ksvFIFO []byte
	vprime  [20]byte
}

func (p *fakePort) Read(offset RegisterOffset, buf []byte) (int, error) {
	switch offset {
	case RegKSVFIFO:
		n := copy(buf, p.ksvFIFO)
		p.ksvFIFO = p.ksvFIFO[n:]
		return n, nil
	case RegVH0, RegVH1, RegVH2, RegVH3, RegVH4:
		idx := int(offset - RegVH0)
		n := copy(buf, p.vprime[idx*4:idx*4+4])
		return n, nil
	default:
		return 0, fmt.Errorf("fakePort: unsupported offset %d", offset)
	}
}

type fakeMoCipher struct {
	Cipher
	mo uint64
}

func (f *fakeMoCipher) Mo() (uint64, error) { return f.mo, nil }

func TestValidateKSVListRoundTrip(t *testing.T) {
	ksvList := []byte{
		0x01, 0x02, 0x03, 0x04, 0x05,
		0x11, 0x12, 0x13, 0x14, 0x15,
	}
	binfo := uint16(2)
	mo := uint64(0x0123456789ABCDEF)

	h := sha1Sum(ksvList, binfo, mo)

	port := &fakePort{ksvFIFO: append([]byte{}, ksvList...), vprime: h}
	cipher := &fakeMoCipher{mo: mo}

	ok, err := validateKSVList(port, cipher, binfo)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestValidateKSVListRejectsMismatch(t *testing.T) {
	ksvList := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	binfo := uint16(1)
	mo := uint64(0x1111111111111111)

	h := sha1Sum(ksvList, binfo, mo)
	h[0] ^= 0xFF

	port := &fakePort{ksvFIFO: append([]byte{}, ksvList...), vprime: h}
	cipher := &fakeMoCipher{mo: mo}

	ok, err := validateKSVList(port, cipher, binfo)
	assert.NoError(t, err)
	assert.False(t, ok)
}
