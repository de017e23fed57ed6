package protocol

import "errors"

var (
	ErrInvalidVLQ     = errors.New("invalid VLQ encoding")
	ErrBufferTooSmall = errors.New("buffer too small for VLQ")
)

// vlqLimits are the ranges representable in 1..4 bytes. A value outside
// limit i needs one more leading byte. Negative numbers use the 0x60 sign
// pattern of the first byte, so the ranges are skewed.
var vlqLimits = [...]struct{ lo, hi int32 }{
	{-(1 << 26), 3 << 26},
	{-(1 << 19), 3 << 19},
	{-(1 << 12), 3 << 12},
	{-(1 << 5), 3 << 5},
}

// EncodeVLQInt writes v most significant group first, seven bits a byte,
// with the high bit set on every byte but the last.
func EncodeVLQInt(output OutputBuffer, v int32) {
	var tmp [5]byte
	n := 0
	for i, l := range vlqLimits {
		if v < l.lo || v >= l.hi {
			shift := 7 * uint(len(vlqLimits)-i)
			tmp[n] = byte(v>>shift)&0x7f | 0x80
			n++
		}
	}
	tmp[n] = byte(v) & 0x7f
	output.Output(tmp[:n+1])
}

func EncodeVLQUint(output OutputBuffer, v uint32) {
	EncodeVLQInt(output, int32(v))
}

// DecodeVLQInt consumes one value from the front of *data.
func DecodeVLQInt(data *[]byte) (int32, error) {
	d := *data
	if len(d) == 0 {
		return 0, ErrBufferTooSmall
	}
	c := uint32(d[0])
	v := c & 0x7f
	if c&0x60 == 0x60 {
		v |= ^uint32(0x1f)
	}
	i := 1
	for ; c&0x80 != 0; i++ {
		if i == len(d) {
			return 0, ErrBufferTooSmall
		}
		if i > 4 {
			return 0, ErrInvalidVLQ
		}
		c = uint32(d[i])
		v = v<<7 | c&0x7f
	}
	*data = d[i:]
	return int32(v), nil
}

func DecodeVLQUint(data *[]byte) (uint32, error) {
	v, err := DecodeVLQInt(data)
	return uint32(v), err
}

// EncodeVLQBytes writes a length-prefixed byte string.
func EncodeVLQBytes(output OutputBuffer, data []byte) {
	EncodeVLQUint(output, uint32(len(data)))
	output.Output(data)
}

// DecodeVLQBytes consumes a length-prefixed byte string. The result aliases
// *data.
func DecodeVLQBytes(data *[]byte) ([]byte, error) {
	n, err := DecodeVLQUint(data)
	if err != nil {
		return nil, err
	}
	if uint32(len(*data)) < n {
		return nil, ErrBufferTooSmall
	}
	b := (*data)[:n:n]
	*data = (*data)[n:]
	return b, nil
}

func EncodeVLQString(output OutputBuffer, s string) {
	EncodeVLQBytes(output, []byte(s))
}

func DecodeVLQString(data *[]byte) (string, error) {
	b, err := DecodeVLQBytes(data)
	return string(b), err
}
