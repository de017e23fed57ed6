package protocol

import "testing"

func TestCRC16(t *testing.T) {
	tests := []struct {
		data []byte
		want uint16
	}{
		{[]byte{}, 0xffff},
		{[]byte{0x00}, 0x0f87},
		{[]byte{0xff}, 0x00ff},
		{[]byte{5, MessageDest}, 0x9e81},
		{[]byte{1, 2, 3, 4, 5}, 0xdd13},
		{[]byte("123456789"), 0x6f91},
	}
	for _, tc := range tests {
		if got := CRC16(tc.data); got != tc.want {
			t.Errorf("CRC16(%v) = 0x%04x, want 0x%04x", tc.data, got, tc.want)
		}
	}
}

func TestCRC16Different(t *testing.T) {
	if CRC16([]byte{1, 2, 3}) == CRC16([]byte{1, 2, 4}) {
		t.Error("single-bit change not detected")
	}
}
