package msicfb

import (
	"encoding/binary"
)

// Image is a parsed, immutable view over an in-memory CFB byte image. It
// owns no copy of the bytes — the backing slice must outlive the Image and
// any Entry/Node derived from it.
type Image struct {
	buf             []byte
	header          Header
	sectorSize      uint32
	miniSectorSize  uint32
	miniStreamStart uint32
}

// Open validates the magic, picks the sector size from the major version,
// requires at least 3 sectors and parses the root entry to recover the
// mini-stream's starting sector. It does not materialize the tree — call
// BuildTree for that.
func Open(buf []byte) (*Image, error) {
	if len(buf) == 0 {
		return nil, invalidArgument("empty input")
	}
	if len(buf) < HeaderLen {
		return nil, malformed("image shorter than header (%d bytes)", len(buf))
	}

	img := &Image{buf: buf}
	if err := img.parseHeader(); err != nil {
		return nil, err
	}

	if uint64(len(buf)) < uint64(img.sectorSize)*3 {
		return nil, malformed("image must contain at least 3 sectors")
	}

	root, err := img.entryAt(0)
	if err != nil {
		return nil, malformed("failed to read root entry: %w", err)
	}
	img.miniStreamStart = root.StartSectorLoc

	return img, nil
}

func (img *Image) parseHeader() error {
	b := img.buf
	var sig [8]byte
	copy(sig[:], b[offHeaderSignature:offHeaderSignature+8])
	if sig != Signature {
		return malformed("bad CFB signature")
	}
	h := &img.header
	h.Signature = sig
	copy(h.CLSID[:], b[offHeaderCLSID:offHeaderCLSID+16])
	h.MinorVersion = le16(b, offHeaderMinorVersion)
	h.MajorVersion = le16(b, offHeaderMajorVersion)
	h.ByteOrder = le16(b, offHeaderByteOrder)
	h.SectorShift = le16(b, offHeaderSectorShift)
	h.MiniSectorShift = le16(b, offHeaderMiniSecShift)
	copy(h.Reserved[:], b[offHeaderReserved:offHeaderReserved+6])
	h.NumDirSectors = le32(b, offHeaderNumDirSectors)
	h.NumFATSectors = le32(b, offHeaderNumFATSectors)
	h.FirstDirSectorLoc = le32(b, offHeaderFirstDirSect)
	h.TransactionSignature = le32(b, offHeaderTransaction)
	h.MiniStreamCutoffSize = le32(b, offHeaderMiniCutoff)
	h.FirstMiniFATSectLoc = le32(b, offHeaderFirstMiniFAT)
	h.NumMiniFATSectors = le32(b, offHeaderNumMiniFAT)
	h.FirstDIFATSectLoc = le32(b, offHeaderFirstDIFAT)
	h.NumDIFATSectors = le32(b, offHeaderNumDIFAT)
	for i := 0; i < NumDIFATEntriesInHeader; i++ {
		h.DIFAT[i] = le32(b, offHeaderDIFAT+4*i)
	}

	// Sector size follows the major version exactly, as the reference parser
	// does — it does not trust the header's SectorShift for this decision.
	if h.MajorVersion == 3 {
		img.sectorSize = 512
	} else {
		img.sectorSize = 4096
	}
	img.miniSectorSize = MiniSectorSize
	return nil
}

func le16(b []byte, off int) uint16 { return binary.LittleEndian.Uint16(b[off:]) }
func le32(b []byte, off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }

// sectorAt returns the k-byte slice at (sector, offset) within the regular
// sector region, or an error if the address is out of bounds. Sector 0 is
// the first sector after the header.
func (img *Image) sectorAt(sector uint32, offset, k int) ([]byte, error) {
	if sector >= MaxRegSect || offset < 0 || uint32(offset) >= img.sectorSize {
		return nil, malformed("sector address out of range (sector=%d offset=%d)", sector, offset)
	}
	start := uint64(img.sectorSize) + uint64(img.sectorSize)*uint64(sector) + uint64(offset)
	end := start + uint64(k)
	if end > uint64(len(img.buf)) {
		return nil, malformed("sector slice exceeds image length (sector=%d offset=%d len=%d)", sector, offset, k)
	}
	return img.buf[start:end], nil
}

// miniSectorAt resolves a (mini-sector, offset) pair to a regular-sector
// address by walking the FAT chain rooted at the mini-stream's first sector.
func (img *Image) miniSectorAt(sector uint32, offset, k int) ([]byte, error) {
	if sector >= MaxRegSect || offset < 0 || uint32(offset) >= img.miniSectorSize {
		return nil, malformed("mini-sector address out of range (sector=%d offset=%d)", sector, offset)
	}
	pos := uint64(sector)*uint64(img.miniSectorSize) + uint64(offset)
	finalSector, finalOffset, err := img.locateFinalSector(img.miniStreamStart, pos)
	if err != nil {
		return nil, err
	}
	return img.sectorAt(finalSector, finalOffset, k)
}

// locateFinalSector walks the FAT chain starting at sector, consuming whole
// sectors out of offset until the residual offset fits within one sector.
func (img *Image) locateFinalSector(sector uint32, offset uint64) (uint32, int, error) {
	for offset >= uint64(img.sectorSize) {
		offset -= uint64(img.sectorSize)
		next, err := img.nextSector(sector)
		if err != nil {
			return 0, 0, err
		}
		sector = next
	}
	return sector, int(offset), nil
}

func (img *Image) locateFinalMiniSector(sector uint32, offset uint64) (uint32, int, error) {
	for offset >= uint64(img.miniSectorSize) {
		offset -= uint64(img.miniSectorSize)
		next, err := img.nextMiniSector(sector)
		if err != nil {
			return 0, 0, err
		}
		sector = next
	}
	return sector, int(offset), nil
}

// fatSectorLocation resolves the n-th FAT sector's location: the first 109
// come straight from the header DIFAT, further ones chain through DIFAT
// sectors (this module does not write DIFAT sectors, but must still be able
// to read images that have them).
func (img *Image) fatSectorLocation(n uint32) (uint32, error) {
	if n < NumDIFATEntriesInHeader {
		return img.header.DIFAT[n], nil
	}
	n -= NumDIFATEntriesInHeader
	entriesPerSector := img.sectorSize/4 - 1
	difatSector := img.header.FirstDIFATSectLoc
	for n >= entriesPerSector {
		n -= entriesPerSector
		b, err := img.sectorAt(difatSector, int(img.sectorSize)-4, 4)
		if err != nil {
			return 0, err
		}
		difatSector = binary.LittleEndian.Uint32(b)
	}
	b, err := img.sectorAt(difatSector, int(n*4), 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// nextSector follows the FAT for one hop.
func (img *Image) nextSector(sector uint32) (uint32, error) {
	entriesPerSector := img.sectorSize / 4
	fatSectorNumber := sector / entriesPerSector
	fatSectorLoc, err := img.fatSectorLocation(fatSectorNumber)
	if err != nil {
		return 0, err
	}
	b, err := img.sectorAt(fatSectorLoc, int(sector%entriesPerSector)*4, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// nextMiniSector follows the mini-FAT for one hop. The mini-FAT is itself a
// regular stream, so it is walked through the FAT.
func (img *Image) nextMiniSector(miniSector uint32) (uint32, error) {
	sector, offset, err := img.locateFinalSector(img.header.FirstMiniFATSectLoc, uint64(miniSector)*4)
	if err != nil {
		return 0, err
	}
	b, err := img.sectorAt(sector, offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// read produces exactly len(out) bytes starting at (sector, offset),
// choosing the mini-stream or the regular stream region by comparing the
// requested length against the mini-stream cutoff — not the entry's
// declared size. This mirrors the reference reader exactly (spec §4.3,
// §9 open question (b)): callers rely on length-based routing, so a request
// for fewer than MiniStreamCutoff bytes from a large stream still walks the
// mini-FAT, and vice versa.
func (img *Image) read(sector uint32, offset int, out []byte) error {
	if len(out) < MiniStreamCutoff {
		return img.readMiniStream(sector, offset, out)
	}
	return img.readStream(sector, offset, out)
}

func (img *Image) readStream(sector uint32, offset int, out []byte) error {
	sector, offset, err := img.locateFinalSector(sector, uint64(offset))
	if err != nil {
		return err
	}
	remaining := out
	for len(remaining) > 0 {
		copyLen := len(remaining)
		if max := int(img.sectorSize) - offset; copyLen > max {
			copyLen = max
		}
		b, err := img.sectorAt(sector, offset, copyLen)
		if err != nil {
			return readFailed("stream read out of bounds: %w", err)
		}
		copy(remaining, b)
		remaining = remaining[copyLen:]
		if len(remaining) == 0 {
			break
		}
		sector, err = img.nextSector(sector)
		if err != nil {
			return err
		}
		offset = 0
	}
	return nil
}

func (img *Image) readMiniStream(sector uint32, offset int, out []byte) error {
	sector, offset, err := img.locateFinalMiniSector(sector, uint64(offset))
	if err != nil {
		return err
	}
	remaining := out
	for len(remaining) > 0 {
		copyLen := len(remaining)
		if max := int(img.miniSectorSize) - offset; copyLen > max {
			copyLen = max
		}
		b, err := img.miniSectorAt(sector, offset, copyLen)
		if err != nil {
			return readFailed("mini-stream read out of bounds: %w", err)
		}
		copy(remaining, b)
		remaining = remaining[copyLen:]
		if len(remaining) == 0 {
			break
		}
		sector, err = img.nextMiniSector(sector)
		if err != nil {
			return err
		}
		offset = 0
	}
	return nil
}

// Read copies exactly length bytes from entry's stream starting at offset
// into a freshly allocated slice, or returns an error if it cannot. The
// mini-vs-regular decision is made on length, per
// the exposed Read operation in spec §6.
func (img *Image) Read(entry *RawDirEntry, offset, length int) ([]byte, error) {
	out := make([]byte, length)
	if err := img.read(entry.StartSectorLoc, offset, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SectorSize reports the sector size chosen for this image (512 or 4096).
func (img *Image) SectorSize() uint32 { return img.sectorSize }

// Header exposes a copy of the parsed header record.
func (img *Image) Header() Header { return img.header }

// entryAt locates and parses the directory entry with the given ID. ID 0 is
// always the root. NOSTREAM is refused as an invalid argument, matching the
// "terminator, not a real entry" role it plays in sibling/child links.
func (img *Image) entryAt(id uint32) (*RawDirEntry, error) {
	if id == NoStream {
		return nil, invalidArgument("NOSTREAM passed to entry lookup")
	}
	sector, offset, err := img.locateFinalSector(img.header.FirstDirSectorLoc, uint64(id)*DirEntryLen)
	if err != nil {
		return nil, err
	}
	b, err := img.sectorAt(sector, offset, DirEntryLen)
	if err != nil {
		return nil, malformed("directory entry %d out of bounds: %w", id, err)
	}
	return parseDirEntry(b), nil
}
