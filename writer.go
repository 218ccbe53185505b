package msicfb

import (
	"encoding/binary"
	"io"
	"sort"
)

// These two limits are lifted verbatim from the reference implementation's
// msiout_set: they are measured against the *projected* total output size
// (original image length plus the padded signature payload sizes), not
// against a fixed file-size threshold computed from first principles.
const (
	sectorSize3Budget = 7143936   // bytes; beyond this, switch to 4096-byte sectors
	sectorSize4Budget = 457183232 // bytes; beyond this, DIFAT sectors would be required
)

// direntCmpTree orders children for the on-disk red-black-tree-turned-chain
// the writer emits: shorter names sort first; equal-length names compare
// UTF-16 code units pairwise. This is NOT the same ordering direntCmpHash
// uses (spec §9 Design Notes, "Dual ordering") — do not conflate the two.
func direntCmpTree(a, b *Node) bool {
	if a.Entry.NameLen != b.Entry.NameLen {
		return a.Entry.NameLen < b.Entry.NameLen
	}
	// The reference implementation has an off-by-one here: its loop bound is
	// `i < nameLen-2`, skipping the last code unit of an odd-length name
	// comparison. Per spec §9 Open Question (a), this corrected form compares
	// every code unit of the (equal-length) names.
	n := a.Entry.NameLen
	for i := uint16(0); i+1 < n; i += 2 {
		ca := binary.LittleEndian.Uint16(a.Entry.Name[i:])
		cb := binary.LittleEndian.Uint16(b.Entry.Name[i:])
		if ca != cb {
			return ca < cb
		}
	}
	return false
}

func sortedChildrenByTree(children []*Node) []*Node {
	sorted := make([]*Node, len(children))
	copy(sorted, children)
	sort.SliceStable(sorted, func(i, j int) bool {
		return direntCmpTree(sorted[i], sorted[j])
	})
	return sorted
}

// outState accumulates the growable buffers and cursors the writer needs
// across its multiple passes, mirroring the reference implementation's
// MSI_OUT struct. sectorNum/miniSectorNum track the next free regular or
// mini sector; fat/miniFAT/miniStream are built up in memory and flushed to
// the sink by their respective *Save passes.
type outState struct {
	sectorSize uint32

	header [HeaderLen]byte

	miniStream []byte
	miniFAT    []byte
	fat        []byte

	miniSectorNum uint32
	sectorNum     uint32

	fatSectorsCount     uint32
	minifatSectorsCount uint32
	dirtreeSectorsCount uint32
	dirtreeLen          uint32
}

func (o *outState) appendFAT(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	o.fat = append(o.fat, b[:]...)
}

func (o *outState) appendMiniFAT(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	o.miniFAT = append(o.miniFAT, b[:]...)
}

// Write rewrites the container rooted at tree, replacing (or removing) the
// two signature streams at the root when pMsi is non-empty, and reassembles
// a fresh, valid CFB image into sink. img supplies the bytes of every stream not synthesized
// from pMsi/pMsiEx. tree is mutated in place (spec §3 Lifecycles).
func Write(img *Image, tree *Node, pMsi, pMsiEx []byte, sink io.WriteSeeker) error {
	out := &outState{}
	if err := out.chooseSectorSize(img, len(pMsi), len(pMsiEx)); err != nil {
		return err
	}
	out.initHeaderTemplate()

	if _, err := sink.Seek(int64(out.sectorSize), io.SeekStart); err != nil {
		return err
	}

	if err := streamHandle(img, tree, pMsi, pMsiEx, sink, out, true); err != nil {
		return err
	}
	if err := ministreamSave(tree, sink, out); err != nil {
		return err
	}
	if err := minifatSave(sink, out); err != nil {
		return err
	}
	if err := dirtreeSave(tree, sink, out); err != nil {
		return err
	}
	if err := fatSave(sink, out); err != nil {
		return err
	}
	return headerSave(sink, out)
}

// chooseSectorSize implements spec §4.6 step 1: project the total output
// size and pick 512 or 4096-byte sectors, failing if even 4096-byte sectors
// would require DIFAT sectors.
func (o *outState) chooseSectorSize(img *Image, lenMsi, lenMsiEx int) error {
	miniSize := img.miniSectorSize
	sectorSize := img.sectorSize

	var msiSize int
	if lenMsi <= MiniStreamCutoff {
		msiSize = roundUp(lenMsi, int(miniSize))
	} else {
		msiSize = roundUp(lenMsi, int(sectorSize))
	}
	msiExSize := roundUp(lenMsiEx, int(miniSize))

	o.sectorSize = sectorSize
	projected := len(img.buf) + msiSize + msiExSize
	if projected > sectorSize3Budget {
		o.sectorSize = 4096
	}
	if projected > sectorSize4Budget {
		return unsupported("projected output of %d bytes requires DIFAT sectors", projected)
	}
	return nil
}

func roundUp(n, unit int) int {
	if unit <= 0 {
		return n
	}
	return (n + unit - 1) / unit * unit
}

// initHeaderTemplate builds the new-header template of spec §4.6
// ("header_new"): signature, zero CLSID, version/sector-shift pair matching
// the chosen sector size, fixed mini-stream cutoff, no DIFAT, and
// placeholder 0xDEADF00D values for the fields the later passes overwrite.
func (o *outState) initHeaderTemplate() {
	h := o.header[:]
	copy(h[offHeaderSignature:], Signature[:])
	// CLSID already zero.
	binary.LittleEndian.PutUint16(h[offHeaderMinorVersion:], 0x003E)
	if o.sectorSize == 4096 {
		binary.LittleEndian.PutUint16(h[offHeaderMajorVersion:], 4)
		binary.LittleEndian.PutUint16(h[offHeaderSectorShift:], 12)
	} else {
		binary.LittleEndian.PutUint16(h[offHeaderMajorVersion:], 3)
		binary.LittleEndian.PutUint16(h[offHeaderSectorShift:], 9)
	}
	binary.LittleEndian.PutUint16(h[offHeaderByteOrder:], 0xFFFE)
	binary.LittleEndian.PutUint16(h[offHeaderMiniSecShift:], 6)

	deadFood := []byte{0xDE, 0xAD, 0xF0, 0x0D}
	copy(h[offHeaderNumDirSectors:], []byte{0, 0, 0, 0}) // unused for version 3
	copy(h[offHeaderNumFATSectors:], deadFood)
	copy(h[offHeaderFirstDirSect:], deadFood)
	binary.LittleEndian.PutUint32(h[offHeaderMiniCutoff:], MiniStreamCutoff)
	copy(h[offHeaderFirstMiniFAT:], deadFood)
	copy(h[offHeaderNumMiniFAT:], deadFood)
	binary.LittleEndian.PutUint32(h[offHeaderFirstDIFAT:], EndOfChain)
	// NumDIFATSectors already zero.
	copy(h[offHeaderDIFAT:], deadFood)
	for i := 1; i < NumDIFATEntriesInHeader; i++ {
		off := offHeaderDIFAT + 4*i
		h[off] = 0xFF
		h[off+1] = 0xFF
		h[off+2] = 0xFF
		h[off+3] = 0xFF
	}
}

// insertSignatures replaces (or removes) the root's DigitalSignature and
// MsiDigitalSignatureEx children. Their actual content is resolved later, by
// streamBytes recognizing the same two names at the root.
func insertSignatures(root *Node, pMsiEx []byte) error {
	if len(pMsiEx) > 0 {
		if err := replaceChildStream(root, DigitalSignatureExName); err != nil {
			return err
		}
	} else {
		if err := deleteChildStream(root, DigitalSignatureExName); err != nil {
			return err
		}
	}
	return replaceChildStream(root, DigitalSignatureName)
}

// deleteChildStream removes a child matching name if present. It refuses
// (spec §7 InvalidArgument) if the match is a storage, matching the
// reference's "can't delete or replace storages" guard.
func deleteChildStream(parent *Node, name []byte) error {
	kept := parent.Children[:0:0]
	for _, child := range parent.Children {
		if !nameMatchesExact(child, name) {
			kept = append(kept, child)
			continue
		}
		if !child.IsStream() {
			return invalidArgument("cannot delete or replace a storage through signature insertion")
		}
	}
	parent.Children = kept
	return nil
}

func nameMatchesExact(child *Node, name []byte) bool {
	childName := child.Entry.Name[:child.Entry.NameLen]
	n := len(childName)
	if len(name) < n {
		n = len(name)
	}
	for i := 0; i < n; i++ {
		if childName[i] != name[i] {
			return false
		}
	}
	return true
}

// replaceChildStream deletes any existing child named name, then appends a
// freshly synthesized stream node: zero CLSID/state/times, black color,
// NOSTREAM links — exactly the "newly inserted stream nodes" lifecycle of
// spec §3.
func replaceChildStream(parent *Node, name []byte) error {
	if err := deleteChildStream(parent, name); err != nil {
		return err
	}
	entry := RawDirEntry{
		NameLen:        uint16(len(name)),
		Type:           ObjTypeStream,
		Color:          ColorBlack,
		LeftSiblingID:  NoStream,
		RightSiblingID: NoStream,
		ChildID:        NoStream,
		StartSectorLoc: NoStream,
	}
	copy(entry.Name[:], name)
	parent.Children = append(parent.Children, &Node{Entry: entry})
	return nil
}

// streamHandle is the stream pass of spec §4.6 step 3: a pre-order traversal
// that, at the root and when pMsi is non-empty, performs signature
// insertion, then for each stream child materializes its bytes and allocates
// them into the mini-stream or the regular FAT region, recording
// startSectorLoc and the final size. Storage children are recursed into at
// their place in the child list.
func streamHandle(img *Image, dirent *Node, pMsi, pMsiEx []byte, outdata io.Writer, out *outState, isRoot bool) error {
	if isRoot && len(pMsi) > 0 {
		if err := insertSignatures(dirent, pMsiEx); err != nil {
			return err
		}
	}
	for _, child := range dirent.Children {
		if child.IsStorage() {
			if err := streamHandle(img, child, nil, nil, outdata, out, false); err != nil {
				return err
			}
			continue
		}
		data, err := streamBytes(img, child, pMsi, pMsiEx, isRoot)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			continue
		}
		child.Entry.Size = uint64(len(data))
		if len(data) < MiniStreamCutoff {
			allocateMiniStream(out, child, data)
		} else {
			if err := allocateRegularStream(outdata, out, child, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// streamBytes resolves a stream child's payload: the caller-supplied
// signature buffers for the two root-level signature names, otherwise the
// bytes read from the source image at the entry's previously declared size.
func streamBytes(img *Image, child *Node, pMsi, pMsiEx []byte, isRoot bool) ([]byte, error) {
	if isRoot && nameMatchesExact(child, DigitalSignatureName) {
		return pMsi, nil
	}
	if isRoot && nameMatchesExact(child, DigitalSignatureExName) {
		return pMsiEx, nil
	}
	size := uint32(child.Entry.Size)
	if size == 0 {
		return nil, nil
	}
	return img.Read(&child.Entry, 0, int(size))
}

func allocateMiniStream(out *outState, child *Node, data []byte) {
	child.Entry.StartSectorLoc = out.miniSectorNum
	out.miniStream = append(out.miniStream, data...)
	if rem := len(data) % MiniSectorSize; rem != 0 {
		out.miniStream = append(out.miniStream, make([]byte, MiniSectorSize-rem)...)
	}
	remaining := len(data)
	for remaining > MiniSectorSize {
		out.miniSectorNum++
		out.appendMiniFAT(out.miniSectorNum)
		remaining -= MiniSectorSize
	}
	out.appendMiniFAT(EndOfChain)
	out.miniSectorNum++
}

func allocateRegularStream(outdata io.Writer, out *outState, child *Node, data []byte) error {
	child.Entry.StartSectorLoc = out.sectorNum
	if _, err := outdata.Write(data); err != nil {
		return err
	}
	if rem := len(data) % int(out.sectorSize); rem != 0 {
		pad := make([]byte, int(out.sectorSize)-rem)
		if _, err := outdata.Write(pad); err != nil {
			return err
		}
	}
	remaining := len(data)
	for remaining > int(out.sectorSize) {
		out.sectorNum++
		out.appendFAT(out.sectorNum)
		remaining -= int(out.sectorSize)
	}
	out.appendFAT(EndOfChain)
	out.sectorNum++
	return nil
}

// ministreamSave is spec §4.6 step 4: the root's startSectorLoc becomes
// wherever the mini-stream lands as an ordinary stream, the accumulated
// mini-stream buffer is flushed there, and a FAT chain covers it.
func ministreamSave(root *Node, outdata io.Writer, out *outState) error {
	sectorsCount := (len(out.miniStream) + int(out.sectorSize) - 1) / int(out.sectorSize)

	root.Entry.StartSectorLoc = out.sectorNum
	if _, err := outdata.Write(out.miniStream); err != nil {
		return err
	}
	if rem := len(out.miniStream) % int(out.sectorSize); rem != 0 {
		pad := make([]byte, int(out.sectorSize)-rem)
		if _, err := outdata.Write(pad); err != nil {
			return err
		}
	}
	for i := 1; i < sectorsCount; i++ {
		out.appendFAT(out.sectorNum + uint32(i))
	}
	out.appendFAT(EndOfChain)
	out.sectorNum += uint32(sectorsCount)
	return nil
}

// minifatSave is spec §4.6 step 5: the mini-FAT built up during the stream
// pass is flushed as its own ordinary stream, its starting sector recorded
// in the header, padded to a sector boundary with FREESECT filler (not
// zero — an unused mini-FAT slot must read back as free, not as a pointer to
// mini-sector 0), and covered by its own FAT chain.
func minifatSave(outdata io.Writer, out *outState) error {
	if len(out.miniFAT) == 0 {
		binary.LittleEndian.PutUint32(out.header[offHeaderFirstMiniFAT:], EndOfChain)
		return nil
	}

	binary.LittleEndian.PutUint32(out.header[offHeaderFirstMiniFAT:], out.sectorNum)
	if _, err := outdata.Write(out.miniFAT); err != nil {
		return err
	}
	var end [4]byte
	binary.LittleEndian.PutUint32(end[:], EndOfChain)
	if _, err := outdata.Write(end[:]); err != nil {
		return err
	}
	minifatLen := len(out.miniFAT) + 4
	if rem := minifatLen % int(out.sectorSize); rem != 0 {
		pad := make([]byte, int(out.sectorSize)-rem)
		for i := range pad {
			pad[i] = 0xFF
		}
		if _, err := outdata.Write(pad); err != nil {
			return err
		}
	}

	out.minifatSectorsCount = uint32((minifatLen + int(out.sectorSize) - 1) / int(out.sectorSize))
	for i := uint32(1); i < out.minifatSectorsCount; i++ {
		out.appendFAT(out.sectorNum + i)
	}
	out.appendFAT(EndOfChain)
	out.sectorNum += out.minifatSectorsCount
	return nil
}

// dirtreeSave is spec §4.6 step 6: records the directory start sector in the
// header, sets the root's size to the mini-stream length, linearizes the
// tree via dirEntsSave, pads the last sector with unused entries, and
// covers the directory sectors with a FAT chain.
func dirtreeSave(root *Node, outdata io.Writer, out *outState) error {
	binary.LittleEndian.PutUint32(out.header[offHeaderFirstDirSect:], out.sectorNum)
	root.Entry.Size = uint64(len(out.miniStream))

	streamID := uint32(0)
	if _, err := dirEntsSave(root, outdata, out, &streamID, 0, false, true); err != nil {
		return err
	}

	if rem := out.dirtreeLen % out.sectorSize; rem != 0 {
		unused := unusedDirEntry()
		for left := out.sectorSize - rem; left > 0; left -= DirEntryLen {
			if _, err := outdata.Write(unused); err != nil {
				return err
			}
			out.dirtreeLen += DirEntryLen
		}
	}

	out.dirtreeSectorsCount = (out.dirtreeLen + out.sectorSize - 1) / out.sectorSize
	for i := uint32(1); i < out.dirtreeSectorsCount; i++ {
		out.appendFAT(out.sectorNum + i)
	}
	out.appendFAT(EndOfChain)
	out.sectorNum += out.dirtreeSectorsCount
	return nil
}

// dirEntsSave linearizes dirent's subtree into the right-linked chain of
// spec §4.6: children are sorted by direntCmpTree, every node is colored
// black with leftSiblingID always NOSTREAM, rightSiblingID chains to the
// next sibling (or NOSTREAM for the last), and a storage's childID points
// at the ID assigned to its first child. A non-last storage's descendants
// are numbered between it and its next sibling, so its rightSiblingID is its
// own ID plus its descendant count plus one. count is threaded through the
// recursion and returned; no sibling or child ID depends on it. isRootNode
// distinguishes the root (whose own rightSibling is always NOSTREAM,
// matching DIR_ROOT in the reference) from an ordinary storage.
func dirEntsSave(dirent *Node, outdata io.Writer, out *outState, streamID *uint32, count uint32, last bool, isRootNode bool) (uint32, error) {
	children := sortedChildrenByTree(dirent.Children)

	dirent.Entry.Color = ColorBlack
	dirent.Entry.LeftSiblingID = NoStream
	if isRootNode {
		dirent.Entry.RightSiblingID = NoStream
	} else if last {
		dirent.Entry.RightSiblingID = NoStream
	} else {
		descendants := uint32(0)
		pending := append([]*Node(nil), dirent.Children...)
		for len(pending) > 0 {
			n := pending[len(pending)-1]
			pending = pending[:len(pending)-1]
			descendants++
			pending = append(pending, n.Children...)
		}
		dirent.Entry.RightSiblingID = *streamID + descendants + 1
	}
	dirent.Entry.ChildID = *streamID + 1

	if err := writeDirEntry(outdata, &dirent.Entry, out); err != nil {
		return 0, err
	}

	for i, child := range children {
		childLast := i == len(children)-1
		*streamID++
		if child.IsStorage() {
			sub, err := dirEntsSave(child, outdata, out, streamID, count, childLast, false)
			if err != nil {
				return 0, err
			}
			count += sub
		} else {
			count = 0
			child.Entry.Color = ColorBlack
			child.Entry.LeftSiblingID = NoStream
			if childLast {
				child.Entry.RightSiblingID = NoStream
			} else {
				child.Entry.RightSiblingID = *streamID + 1
			}
			if err := writeDirEntry(outdata, &child.Entry, out); err != nil {
				return 0, err
			}
		}
	}
	return count, nil
}

func writeDirEntry(outdata io.Writer, e *RawDirEntry, out *outState) error {
	if _, err := outdata.Write(encodeDirEntry(e)); err != nil {
		return err
	}
	out.dirtreeLen += DirEntryLen
	return nil
}

// fatSave is spec §4.6 step 7: appends FATSECT markers describing the FAT's
// own sectors, records up to 109 of those sector locations into the
// header's DIFAT table, fails if more than 109 FAT sectors would be needed
// (would require DIFAT sectors, which this writer never emits), pads the
// tail with FREESECT filler, and flushes the completed FAT buffer.
func fatSave(outdata io.Writer, out *outState) error {
	estimate := (uint32(len(out.fat)) + out.sectorSize - 1) / out.sectorSize
	out.fatSectorsCount = (uint32(len(out.fat)) + estimate*4 + out.sectorSize - 1) / out.sectorSize

	for i := uint32(0); i < out.fatSectorsCount; i++ {
		out.appendFAT(FatSect)
	}

	limit := out.fatSectorsCount
	if limit > NumDIFATEntriesInHeader {
		limit = NumDIFATEntriesInHeader
	}
	for i := uint32(0); i < limit; i++ {
		binary.LittleEndian.PutUint32(out.header[offHeaderDIFAT+4*int(i):], out.sectorNum+i)
	}
	out.sectorNum += out.fatSectorsCount

	if out.fatSectorsCount > NumDIFATEntriesInHeader {
		return unsupported("output would require %d FAT sectors, exceeding the 109 header DIFAT slots", out.fatSectorsCount)
	}

	if rem := uint32(len(out.fat)) % out.sectorSize; rem != 0 {
		pad := make([]byte, out.sectorSize-rem)
		for i := range pad {
			pad[i] = 0xFF
		}
		out.fat = append(out.fat, pad...)
	}

	_, err := outdata.Write(out.fat)
	return err
}

// headerSave is spec §4.6 step 8: patches the sector counts computed by the
// earlier passes into the header template and writes it at the start of the
// sink, padding out to a full sector.
func headerSave(outdata io.Writer, out *outState) error {
	binary.LittleEndian.PutUint32(out.header[offHeaderNumFATSectors:], out.fatSectorsCount)
	binary.LittleEndian.PutUint32(out.header[offHeaderNumMiniFAT:], out.minifatSectorsCount)
	if out.sectorSize == 4096 {
		binary.LittleEndian.PutUint32(out.header[offHeaderNumDirSectors:], out.dirtreeSectorsCount)
	}

	seeker, ok := outdata.(io.Seeker)
	if ok {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return err
		}
	}
	if _, err := outdata.Write(out.header[:]); err != nil {
		return err
	}
	pad := make([]byte, out.sectorSize-HeaderLen)
	_, err := outdata.Write(pad)
	return err
}
