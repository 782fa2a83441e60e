//go:build linux

package netconfig

import (
	"encoding/binary"
	"testing"
)

func TestRtaAlign(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 0}, {1, 4}, {2, 4}, {3, 4}, {4, 4}, {5, 8}, {8, 8},
	}
	for _, tt := range tests {
		if got := rtaAlign(tt.in); got != tt.want {
			t.Errorf("rtaAlign(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRtattrBytesPadding(t *testing.T) {
	attr := rtattrBytes(1, []byte{0xAA})
	// header(4) + 1 byte value, padded to 4-byte boundary => 8 bytes total
	if len(attr) != 8 {
		t.Fatalf("rtattr length = %d, want 8", len(attr))
	}
	gotLen := binary.LittleEndian.Uint16(attr[0:2])
	if gotLen != 5 {
		t.Fatalf("encoded rta_len = %d, want 5", gotLen)
	}
	gotType := binary.LittleEndian.Uint16(attr[2:4])
	if gotType != 1 {
		t.Fatalf("encoded rta_type = %d, want 1", gotType)
	}
	if attr[4] != 0xAA {
		t.Fatalf("value byte = %x, want 0xAA", attr[4])
	}
}

func TestRtattrU32(t *testing.T) {
	attr := rtattrU32(2, 1500)
	if len(attr) != 8 {
		t.Fatalf("rtattr length = %d, want 8", len(attr))
	}
	if got := binary.LittleEndian.Uint32(attr[4:8]); got != 1500 {
		t.Fatalf("value = %d, want 1500", got)
	}
}
