package msicfb

import (
	"errors"
	"testing"
)

func TestOpen_rejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{name: "empty input", buf: nil},
		{name: "shorter than header", buf: make([]byte, 10)},
		{name: "bad signature", buf: func() []byte {
			b := make([]byte, HeaderLen*3)
			return b
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(tt.buf); err == nil {
				t.Error("Open() = nil error, want error")
			}
		})
	}
}

func TestOpen_rejectsFewerThanThreeSectors(t *testing.T) {
	buf := make([]byte, 512*2)
	copy(buf[offHeaderSignature:], Signature[:])
	buf[offHeaderMajorVersion] = 3
	if _, err := Open(buf); err == nil {
		t.Error("Open() with fewer than 3 sectors = nil error, want error")
	}
}

func TestOpen_picksSectorSizeFromMajorVersion(t *testing.T) {
	tests := []struct {
		name       string
		major      uint16
		wantSector uint32
	}{
		{name: "version 3 uses 512-byte sectors", major: 3, wantSector: 512},
		{name: "version 4 uses 4096-byte sectors", major: 4, wantSector: 4096},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sectorSize := uint32(512)
			if tt.major == 4 {
				sectorSize = 4096
			}
			buf := make([]byte, sectorSize*3)
			copy(buf[offHeaderSignature:], Signature[:])
			buf[offHeaderMajorVersion] = byte(tt.major)
			buf[offHeaderFirstDirSect] = 1 // directory lives in regular sector 1

			root := RawDirEntry{Type: ObjTypeRoot, LeftSiblingID: NoStream, RightSiblingID: NoStream, ChildID: NoStream, StartSectorLoc: EndOfChain}
			copy(buf[sectorSize*2:], encodeDirEntry(&root))

			img, err := Open(buf)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if img.SectorSize() != tt.wantSector {
				t.Errorf("SectorSize() = %d, want %d", img.SectorSize(), tt.wantSector)
			}
		})
	}
}

func TestImage_entryAt_rejectsNoStream(t *testing.T) {
	buf := buildMinimalImage(t)
	img, err := Open(buf)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	_, err = img.entryAt(NoStream)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("entryAt(NOSTREAM) error = %v, want wrapping ErrInvalidArgument", err)
	}
}

func TestImage_sectorAt_rejectsOutOfRange(t *testing.T) {
	buf := buildMinimalImage(t)
	img, err := Open(buf)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	tests := []struct {
		name   string
		sector uint32
		offset int
		k      int
	}{
		{name: "sector at MAXREGSECT is out of range", sector: MaxRegSect, offset: 0, k: 1},
		{name: "negative offset is out of range", sector: 0, offset: -1, k: 1},
		{name: "offset beyond sector size is out of range", sector: 0, offset: 512, k: 1},
		{name: "read past end of image is out of range", sector: 0, offset: 0, k: 1 << 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := img.sectorAt(tt.sector, tt.offset, tt.k); err == nil {
				t.Error("sectorAt() = nil error, want error")
			}
		})
	}
}

func TestImage_Header(t *testing.T) {
	buf := buildMinimalImage(t)
	img, err := Open(buf)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	h := img.Header()
	if h.Signature != Signature {
		t.Errorf("Header().Signature = %x, want %x", h.Signature, Signature)
	}
	if h.MajorVersion != 3 {
		t.Errorf("Header().MajorVersion = %d, want 3", h.MajorVersion)
	}
}
