package msicfb

import (
	"bytes"
	"io"
	"testing"
)

func TestBuffer_WriteAppends(t *testing.T) {
	b := NewBuffer()
	if _, err := b.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := b.Write([]byte(" world")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := string(b.Bytes()); got != "hello world" {
		t.Errorf("Bytes() = %q, want %q", got, "hello world")
	}
}

func TestBuffer_SeekBackAndOverwrite(t *testing.T) {
	b := NewBuffer()
	b.Write([]byte("AAAAA"))
	if _, err := b.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	b.Write([]byte("BB"))
	if got := string(b.Bytes()); got != "BBAAA" {
		t.Errorf("Bytes() after seek-and-overwrite = %q, want %q", got, "BBAAA")
	}
}

func TestBuffer_SeekPastEndLeavesZeroGap(t *testing.T) {
	b := NewBuffer()
	if _, err := b.Seek(4, io.SeekStart); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	b.Write([]byte("X"))
	want := []byte{0, 0, 0, 0, 'X'}
	if !bytes.Equal(b.Bytes(), want) {
		t.Errorf("Bytes() = %v, want %v", b.Bytes(), want)
	}
}

func TestBuffer_Seek(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Buffer)
		offset  int64
		whence  int
		want    int64
		wantErr bool
	}{
		{
			name:   "SeekCurrent adds to current position",
			setup:  func(b *Buffer) { b.Write([]byte("1234")) },
			offset: -2,
			whence: io.SeekCurrent,
			want:   2,
		},
		{
			name:   "SeekEnd is relative to length",
			setup:  func(b *Buffer) { b.Write([]byte("1234")) },
			offset: -1,
			whence: io.SeekEnd,
			want:   3,
		},
		{
			name:    "negative absolute offset errors",
			setup:   func(b *Buffer) {},
			offset:  -1,
			whence:  io.SeekStart,
			wantErr: true,
		},
		{
			name:    "unknown whence errors",
			setup:   func(b *Buffer) {},
			offset:  0,
			whence:  99,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer()
			tt.setup(b)
			got, err := b.Seek(tt.offset, tt.whence)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Seek() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("Seek() = %d, want %d", got, tt.want)
			}
		})
	}
}
