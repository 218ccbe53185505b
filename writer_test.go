package msicfb

import (
	"bytes"
	"testing"
)

func TestDirentCmpTree(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{name: "shorter name sorts first", a: "A", b: "AB", want: true},
		{name: "longer name does not sort first", a: "AB", b: "A", want: false},
		{name: "equal length compares code units", a: "AA", b: "AB", want: true},
		{name: "equal names are not less", a: "S", b: "S", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := nodeNamed(tt.a, ObjTypeStream), nodeNamed(tt.b, ObjTypeStream)
			if got := direntCmpTree(a, b); got != tt.want {
				t.Errorf("direntCmpTree(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSortedChildrenByTree(t *testing.T) {
	children := []*Node{
		nodeNamed("ABC", ObjTypeStream),
		nodeNamed("A", ObjTypeStream),
		nodeNamed("AB", ObjTypeStream),
	}
	sorted := sortedChildrenByTree(children)
	var got []string
	for _, n := range sorted {
		got = append(got, n.Name())
	}
	want := []string{"A", "AB", "ABC"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sortedChildrenByTree() = %v, want %v", got, want)
			break
		}
	}
}

// TestDirEntsSave_rightSiblingSkipsNestedDescendants: when three adjacent
// non-last storage siblings each wrap a nested storage holding one stream,
// IDs run Root=0, StorageA=1..3, StorageB=4..6, StorageC=7..9,
// ZZZLeafExtra=10, so each storage's rightSiblingID must skip exactly its
// own two descendants and name the next sibling.
func TestDirEntsSave_rightSiblingSkipsNestedDescendants(t *testing.T) {
	makeBranch := func(storageName, innerName, leafName string) *Node {
		storage := nodeNamed(storageName, ObjTypeStorage)
		inner := nodeNamed(innerName, ObjTypeStorage)
		inner.Children = append(inner.Children, nodeNamed(leafName, ObjTypeStream))
		storage.Children = append(storage.Children, inner)
		return storage
	}

	storageA := makeBranch("StorageA", "InnerA", "LeafA")
	storageB := makeBranch("StorageB", "InnerB", "LeafB")
	storageC := makeBranch("StorageC", "InnerC", "LeafC")
	leafD := nodeNamed("ZZZLeafExtra", ObjTypeStream)

	root := nodeNamed("Root", ObjTypeRoot)
	root.Children = append(root.Children, storageA, storageB, storageC, leafD)

	out := &outState{sectorSize: 512}
	streamID := uint32(0)
	var buf bytes.Buffer
	if _, err := dirEntsSave(root, &buf, out, &streamID, 0, false, true); err != nil {
		t.Fatalf("dirEntsSave() error = %v", err)
	}

	if got, want := storageC.Entry.RightSiblingID, uint32(10); got != want {
		t.Errorf("storageC.RightSiblingID = %d, want %d (the ID of ZZZLeafExtra)", got, want)
	}
	if got, want := storageB.Entry.RightSiblingID, uint32(7); got != want {
		t.Errorf("storageB.RightSiblingID = %d, want %d", got, want)
	}
}

func TestRoundUp(t *testing.T) {
	tests := []struct {
		name    string
		n, unit int
		want    int
	}{
		{name: "exact multiple stays put", n: 64, unit: 64, want: 64},
		{name: "remainder rounds up to next unit", n: 65, unit: 64, want: 128},
		{name: "zero rounds to zero", n: 0, unit: 64, want: 0},
		{name: "zero unit is a no-op", n: 7, unit: 0, want: 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := roundUp(tt.n, tt.unit); got != tt.want {
				t.Errorf("roundUp(%d, %d) = %d, want %d", tt.n, tt.unit, got, tt.want)
			}
		})
	}
}

func TestDeleteChildStream_refusesStorage(t *testing.T) {
	storage := nodeNamed("S", ObjTypeStorage)
	parent := &Node{Children: []*Node{storage}}
	copy(storage.Entry.Name[:], DigitalSignatureName)
	storage.Entry.NameLen = uint16(len(DigitalSignatureName))

	err := deleteChildStream(parent, DigitalSignatureName)
	if err == nil {
		t.Fatal("deleteChildStream() on a storage = nil error, want error")
	}
}

func TestReplaceChildStream_replacesExistingAndAppendsNew(t *testing.T) {
	existing := &Node{Entry: RawDirEntry{Type: ObjTypeStream}}
	copy(existing.Entry.Name[:], DigitalSignatureName)
	existing.Entry.NameLen = uint16(len(DigitalSignatureName))
	other := nodeNamed("S", ObjTypeStream)

	parent := &Node{Children: []*Node{existing, other}}
	if err := replaceChildStream(parent, DigitalSignatureName); err != nil {
		t.Fatalf("replaceChildStream() error = %v", err)
	}

	if len(parent.Children) != 2 {
		t.Fatalf("parent.Children = %d entries, want 2 (unrelated + fresh replacement)", len(parent.Children))
	}
	foundFresh := false
	for _, c := range parent.Children {
		if c == existing {
			t.Error("replaceChildStream() kept the original node instead of a fresh one")
		}
		if nameMatchesExact(c, DigitalSignatureName) {
			foundFresh = true
			if c.Entry.LeftSiblingID != NoStream || c.Entry.RightSiblingID != NoStream || c.Entry.ChildID != NoStream {
				t.Error("replaceChildStream() fresh node should have NOSTREAM links")
			}
		}
	}
	if !foundFresh {
		t.Error("replaceChildStream() did not append a replacement node")
	}
}

func TestInsertSignatures_deletesDigitalSignatureExWhenNoPayload(t *testing.T) {
	existingEx := &Node{Entry: RawDirEntry{Type: ObjTypeStream}}
	copy(existingEx.Entry.Name[:], DigitalSignatureExName)
	existingEx.Entry.NameLen = uint16(len(DigitalSignatureExName))

	root := &Node{Children: []*Node{existingEx}}
	if err := insertSignatures(root, nil); err != nil {
		t.Fatalf("insertSignatures() error = %v", err)
	}

	for _, c := range root.Children {
		if nameMatchesExact(c, DigitalSignatureExName) {
			t.Error("insertSignatures() with no pMsiEx should have deleted MsiDigitalSignatureEx")
		}
	}

	foundSig := false
	for _, c := range root.Children {
		if nameMatchesExact(c, DigitalSignatureName) {
			foundSig = true
		}
	}
	if !foundSig {
		t.Error("insertSignatures() should always insert DigitalSignature")
	}
}

func TestOutState_chooseSectorSize(t *testing.T) {
	tests := []struct {
		name           string
		bufLen         int
		lenMsi         int
		lenMsiEx       int
		wantSectorSize uint32
		wantErr        bool
	}{
		{name: "small image stays at 512-byte sectors", bufLen: 1024, lenMsi: 100, lenMsiEx: 0, wantSectorSize: 512},
		{name: "large projected size switches to 4096-byte sectors", bufLen: sectorSize3Budget + 1, lenMsi: 0, lenMsiEx: 0, wantSectorSize: 4096},
		{name: "beyond the 4096 budget is unsupported", bufLen: sectorSize4Budget + 1, lenMsi: 0, lenMsiEx: 0, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := &Image{
				buf:            make([]byte, tt.bufLen),
				sectorSize:     512,
				miniSectorSize: MiniSectorSize,
			}
			out := &outState{}
			err := out.chooseSectorSize(img, tt.lenMsi, tt.lenMsiEx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("chooseSectorSize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if out.sectorSize != tt.wantSectorSize {
				t.Errorf("chooseSectorSize() sectorSize = %d, want %d", out.sectorSize, tt.wantSectorSize)
			}
		})
	}
}

// buildMinimalImage assembles the smallest valid 3-sector, 512-byte-sector
// CFB image: an empty root storage, one FAT sector, one directory sector and
// no mini-FAT.
func buildMinimalImage(t *testing.T) []byte {
	t.Helper()
	const sectorSize = 512
	buf := make([]byte, sectorSize*3)

	copy(buf[offHeaderSignature:], Signature[:])
	putU16 := func(off int, v uint16) { buf[off] = byte(v); buf[off+1] = byte(v >> 8) }
	putU32 := func(off int, v uint32) {
		buf[off] = byte(v)
		buf[off+1] = byte(v >> 8)
		buf[off+2] = byte(v >> 16)
		buf[off+3] = byte(v >> 24)
	}
	putU16(offHeaderMinorVersion, 0x003E)
	putU16(offHeaderMajorVersion, 3)
	putU16(offHeaderByteOrder, 0xFFFE)
	putU16(offHeaderSectorShift, 9)
	putU16(offHeaderMiniSecShift, 6)
	putU32(offHeaderNumFATSectors, 1)
	putU32(offHeaderFirstDirSect, 1)
	putU32(offHeaderMiniCutoff, MiniStreamCutoff)
	putU32(offHeaderFirstMiniFAT, EndOfChain)
	putU32(offHeaderFirstDIFAT, EndOfChain)
	putU32(offHeaderDIFAT, 0) // FAT sector 0 is regular sector 0

	// Regular sector 0 (FAT): entry 0 marks itself FATSECT, entry 1 (the
	// single-sector directory chain) terminates with ENDOFCHAIN, the rest
	// are unallocated FREESECT.
	fatSector := sectorSize // regular sector 0 starts right after the header
	putU32(fatSector+0, FatSect)
	putU32(fatSector+4, EndOfChain)
	for i := 2; i < sectorSize/4; i++ {
		putU32(fatSector+i*4, FreeSect)
	}

	// Regular sector 1 (directory): a single root entry, ENDOFCHAIN start
	// sector loc (empty mini-stream), NOSTREAM links, zero everything else.
	dirSector := sectorSize * 2
	root := RawDirEntry{
		NameLen:        uint16(len(utf16LEName("Root Entry"))),
		Type:           ObjTypeRoot,
		Color:          ColorBlack,
		LeftSiblingID:  NoStream,
		RightSiblingID: NoStream,
		ChildID:        NoStream,
		StartSectorLoc: EndOfChain,
	}
	copy(root.Name[:], utf16LEName("Root Entry"))
	copy(buf[dirSector:dirSector+DirEntryLen], encodeDirEntry(&root))
	// Remaining 3 directory-entry slots in this sector: unused padding.
	for i := 1; i < sectorSize/DirEntryLen; i++ {
		copy(buf[dirSector+i*DirEntryLen:], unusedDirEntry())
	}

	return buf
}

func TestWrite_insertsSignatureIntoMinimalImage(t *testing.T) {
	buf := buildMinimalImage(t)
	img, root, err := Root(buf)
	if err != nil {
		t.Fatalf("Root() error = %v", err)
	}

	payload := []byte{0x30, 0x82, 0x01, 0x02, 0x03}
	out := NewBuffer()
	if err := Write(img, root, payload, nil, out); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	outImg, outRoot, err := Root(out.Bytes())
	if err != nil {
		t.Fatalf("Root() on written output error = %v", err)
	}

	sig, sigEx := FindSignatures(outRoot)
	if sig == nil {
		t.Fatal("written image has no DigitalSignature stream")
	}
	if sigEx != nil {
		t.Error("written image has a MsiDigitalSignatureEx stream, want none (no pMsiEx given)")
	}
	got, err := outImg.Read(&sig.Entry, 0, int(sig.Entry.Size))
	if err != nil {
		t.Fatalf("reading back DigitalSignature content: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("DigitalSignature content = %x, want %x", got, payload)
	}
}

func TestWrite_replacesSignatureOnSecondCall(t *testing.T) {
	buf := buildMinimalImage(t)
	img, root, err := Root(buf)
	if err != nil {
		t.Fatalf("Root() error = %v", err)
	}

	first := NewBuffer()
	if err := Write(img, root, []byte{1, 2, 3}, nil, first); err != nil {
		t.Fatalf("first Write() error = %v", err)
	}

	img2, root2, err := Root(first.Bytes())
	if err != nil {
		t.Fatalf("Root() on first output error = %v", err)
	}

	secondPayload := bytes.Repeat([]byte{0xAB}, 200)
	second := NewBuffer()
	if err := Write(img2, root2, secondPayload, nil, second); err != nil {
		t.Fatalf("second Write() error = %v", err)
	}

	finalImg, finalRoot, err := Root(second.Bytes())
	if err != nil {
		t.Fatalf("Root() on second output error = %v", err)
	}

	count := 0
	var sig *Node
	for _, c := range finalRoot.Children {
		if nameMatchesExact(c, DigitalSignatureName) {
			count++
			sig = c
		}
	}
	if count != 1 {
		t.Fatalf("final tree has %d DigitalSignature children, want exactly 1", count)
	}
	got, err := finalImg.Read(&sig.Entry, 0, int(sig.Entry.Size))
	if err != nil {
		t.Fatalf("reading back replaced DigitalSignature content: %v", err)
	}
	if !bytes.Equal(got, secondPayload) {
		t.Errorf("replaced DigitalSignature content = %x, want %x", got, secondPayload)
	}
}
