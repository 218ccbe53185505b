package msicfb

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestParseFILETIME(t *testing.T) {
	tests := []struct {
		name string
		b    [8]byte
		want time.Time
	}{
		{
			name: "all-zero FILETIME decodes to the zero Time",
			b:    [8]byte{},
			want: time.Time{},
		},
		{
			name: "exactly the epoch offset decodes to the Unix epoch",
			b:    filetimeBytes(filetimeEpochOffset),
			want: time.Unix(0, 0).UTC(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseFILETIME(tt.b); !got.Equal(tt.want) {
				t.Errorf("ParseFILETIME() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEncodeFILETIME(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
	}{
		{name: "zero Time round-trips to all-zero FILETIME", t: time.Time{}},
		{name: "2009-07-25 23:00:00 UTC round-trips", t: time.Date(2009, 7, 25, 23, 0, 0, 0, time.UTC)},
		{name: "sub-second precision is lost below 100ns but round-trips at 100ns granularity",
			t: time.Date(2020, 1, 2, 3, 4, 5, 100, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := EncodeFILETIME(tt.t)
			got := ParseFILETIME(b)
			if !got.Equal(tt.t) {
				t.Errorf("round-trip through EncodeFILETIME/ParseFILETIME = %v, want %v", got, tt.t)
			}
		})
	}
}

func filetimeBytes(ticks uint64) [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], ticks)
	return b
}

func TestEncodeFILETIME_zeroIsAllZeroBytes(t *testing.T) {
	b := EncodeFILETIME(time.Time{})
	for i, v := range b {
		if v != 0 {
			t.Errorf("EncodeFILETIME(zero Time)[%d] = %#x, want 0", i, v)
		}
	}
}
