package msicfb

import (
	"encoding/binary"
	"unicode/utf16"
)

// parseDirEntry decodes one 128-byte on-disk directory entry record.
func parseDirEntry(b []byte) *RawDirEntry {
	e := &RawDirEntry{}
	copy(e.Name[:], b[offDirName:offDirName+MaxNameBytes])
	e.NameLen = binary.LittleEndian.Uint16(b[offDirNameLen:])
	e.Type = b[offDirType]
	e.Color = b[offDirColor]
	e.LeftSiblingID = binary.LittleEndian.Uint32(b[offDirLeftSibling:])
	e.RightSiblingID = binary.LittleEndian.Uint32(b[offDirRightSibling:])
	e.ChildID = binary.LittleEndian.Uint32(b[offDirChild:])
	copy(e.CLSID[:], b[offDirCLSID:offDirCLSID+16])
	copy(e.StateBits[:], b[offDirStateBits:offDirStateBits+4])
	copy(e.CreationTime[:], b[offDirCreationTime:offDirCreationTime+8])
	copy(e.ModifiedTime[:], b[offDirModifiedTime:offDirModifiedTime+8])
	e.StartSectorLoc = binary.LittleEndian.Uint32(b[offDirStartSector:])
	e.Size = binary.LittleEndian.Uint64(b[offDirSize:])
	return e
}

// encodeDirEntry serializes a RawDirEntry back into its 128-byte on-disk
// form. Only the low 32 bits of Size are significant on disk (spec §3).
func encodeDirEntry(e *RawDirEntry) []byte {
	b := make([]byte, DirEntryLen)
	copy(b[offDirName:], e.Name[:])
	binary.LittleEndian.PutUint16(b[offDirNameLen:], e.NameLen)
	b[offDirType] = e.Type
	b[offDirColor] = e.Color
	binary.LittleEndian.PutUint32(b[offDirLeftSibling:], e.LeftSiblingID)
	binary.LittleEndian.PutUint32(b[offDirRightSibling:], e.RightSiblingID)
	binary.LittleEndian.PutUint32(b[offDirChild:], e.ChildID)
	copy(b[offDirCLSID:], e.CLSID[:])
	copy(b[offDirStateBits:], e.StateBits[:])
	copy(b[offDirCreationTime:], e.CreationTime[:])
	copy(b[offDirModifiedTime:], e.ModifiedTime[:])
	binary.LittleEndian.PutUint32(b[offDirStartSector:], e.StartSectorLoc)
	binary.LittleEndian.PutUint32(b[offDirSize:], uint32(e.Size))
	return b
}

// unusedDirEntry is the padding record written to fill out the last
// directory sector: all-zero except the three link fields, which must read
// back as NOSTREAM rather than a bogus entry ID 0.
func unusedDirEntry() []byte {
	b := make([]byte, DirEntryLen)
	binary.LittleEndian.PutUint32(b[offDirLeftSibling:], NoStream)
	binary.LittleEndian.PutUint32(b[offDirRightSibling:], NoStream)
	binary.LittleEndian.PutUint32(b[offDirChild:], NoStream)
	return b
}

// Node is one materialized node of the logical directory tree: a copy of
// its on-disk entry plus its children in the order build order produced
// them. That order carries no meaning — both the hashing and writing passes
// re-sort it with their own comparator (spec §4.4).
type Node struct {
	Entry    RawDirEntry
	Children []*Node
}

// Name decodes the node's UTF-16LE name buffer into a Go string.
func (n *Node) Name() string {
	return decodeUTF16LE(n.Entry.Name[:nameRuneBytes(n.Entry.NameLen)])
}

func nameRuneBytes(nameLen uint16) uint16 {
	if nameLen < 2 {
		return 0
	}
	return nameLen - 2
}

func decodeUTF16LE(b []byte) string {
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(units))
}

// IsStorage reports whether the node is a storage or the root (both may
// hold children); IsStream reports whether it's a plain stream.
func (n *Node) IsStorage() bool {
	return n.Entry.Type == ObjTypeStorage || n.Entry.Type == ObjTypeRoot
}

func (n *Node) IsStream() bool { return n.Entry.Type == ObjTypeStream }

// BuildTree materializes the on-disk red-black tree rooted at the root
// directory entry (ID 0) into a Node tree of children lists. Unlike the
// reference implementation, it tracks visited directory IDs and refuses to
// revisit one, so a maliciously cyclic link graph fails closed instead of
// recursing forever (spec §9 Design Notes).
func BuildTree(img *Image) (*Node, error) {
	visited := make(map[uint32]bool)
	root, err := buildDirentFromLookup(img.entryAt, 0, nil, visited)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, malformed("root directory entry missing")
	}
	return root, nil
}

// direntLookup resolves a directory entry ID to its raw record. It mainly
// exists so buildDirentFromLookup can be exercised against a hand-built
// entry table in tests instead of a real Image.
type direntLookup func(id uint32) (*RawDirEntry, error)

// buildDirentFromLookup parses entry id and, if parentChildren is non-nil,
// appends it there. It then recurses on the entry's left and right siblings
// with the *same* parentChildren slot — the on-disk red-black tree collapses
// into a flat children list this way — and, if the entry is a storage or
// root, on its own child pointer with its own freshly built Children slot.
// The returned Node is always the one built for id itself, letting the
// top-level call (parentChildren == nil) recover the root.
func buildDirentFromLookup(lookup direntLookup, id uint32, parentChildren *[]*Node, visited map[uint32]bool) (*Node, error) {
	if id == NoStream {
		return nil, nil
	}
	if visited[id] {
		return nil, malformed("directory entry %d revisited (cyclic sibling/child graph)", id)
	}
	visited[id] = true

	raw, err := lookup(id)
	if err != nil {
		return nil, err
	}
	node := &Node{Entry: *raw}
	if parentChildren != nil {
		*parentChildren = append(*parentChildren, node)
	}

	if _, err := buildDirentFromLookup(lookup, raw.LeftSiblingID, parentChildren, visited); err != nil {
		return nil, err
	}
	if _, err := buildDirentFromLookup(lookup, raw.RightSiblingID, parentChildren, visited); err != nil {
		return nil, err
	}
	if node.IsStorage() {
		if _, err := buildDirentFromLookup(lookup, raw.ChildID, &node.Children, visited); err != nil {
			return nil, err
		}
	}

	return node, nil
}
