// Package audio holds the hot-path audio primitives for the bridge: the
// G.711 mu-law codec used on the telephony leg and the output pacer that
// feeds frames to the caller at the transport cadence.
package audio

// G.711 mu-law constants. BIAS and CLIP follow the reference algorithm; the
// codec must stay bit-exact because both the telephony provider and the AI
// endpoint declare g711_ulaw on the wire.
const (
	ulawBias = 0x84
	ulawClip = 32635
)

// ulawSegEnds are the top-of-segment thresholds for the biased magnitude.
var ulawSegEnds = [8]int32{0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF, 0x1FFF, 0x3FFF, 0x7FFF}

// ulawToLinear maps every mu-law byte to its 16-bit linear sample. Built once
// at init so the per-byte decode in the media loop is a single table load.
var ulawToLinear [256]int16

func init() {
	for i := 0; i < 256; i++ {
		u := ^byte(i)
		exponent := (u >> 4) & 0x07
		mantissa := u & 0x0F
		sample := ((int32(mantissa) << 3) + ulawBias) << exponent
		sample -= ulawBias
		if u&0x80 != 0 {
			sample = -sample
		}
		ulawToLinear[byte(i)] = int16(sample)
	}
}

// EncodeULawSample converts one 16-bit linear sample to its mu-law byte.
func EncodeULawSample(s int16) byte {
	pcm := int32(s)
	var sign byte
	if pcm < 0 {
		pcm = -pcm
		sign = 0x80
	}
	if pcm > ulawClip {
		pcm = ulawClip
	}
	pcm += ulawBias

	seg := int32(7)
	for i, end := range ulawSegEnds {
		if pcm <= end {
			seg = int32(i)
			break
		}
	}
	uval := byte(seg<<4) | byte((pcm>>(seg+3))&0x0F)
	return ^(sign | uval)
}

// DecodeULawSample converts one mu-law byte to its 16-bit linear sample.
// There is no error path: any byte decodes to some sample, so a corrupt
// frame degrades to wrong audio instead of killing the call.
func DecodeULawSample(u byte) int16 {
	return ulawToLinear[u]
}

// EncodeULaw converts a block of linear samples to mu-law bytes.
func EncodeULaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = EncodeULawSample(s)
	}
	return out
}

// DecodeULaw converts a block of mu-law bytes to linear samples.
func DecodeULaw(frame []byte) []int16 {
	out := make([]int16, len(frame))
	for i, u := range frame {
		out[i] = ulawToLinear[u]
	}
	return out
}
