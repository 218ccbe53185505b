package msicfb

import (
	"encoding/binary"
	"hash"
	"io"
	"sort"
)

// Hasher is the digest sink this package feeds bytes to. crypto.Hash.New()
// (sha1.New, sha256.New, ...) satisfies it, matching the "MD provides
// init/update/final" collaborator spec §1 leaves external.
type Hasher interface {
	io.Writer
}

// direntCmpHash orders two children for content hashing and metadata
// pre-hashing: a byte-wise comparison of the raw UTF-16LE name bytes
// (without the terminating NUL) up to the shorter length, with the *longer*
// name winning a tie on the shared prefix. This is deliberately not the same
// ordering dirent_cmp_tree uses for writing (spec §9 Design Notes, "Dual
// ordering").
func direntCmpHash(a, b *Node) bool {
	an := a.Entry.Name[:nameRuneBytes(a.Entry.NameLen)]
	bn := b.Entry.Name[:nameRuneBytes(b.Entry.NameLen)]
	n := len(an)
	if len(bn) < n {
		n = len(bn)
	}
	for i := 0; i < n; i++ {
		if an[i] != bn[i] {
			return an[i] < bn[i]
		}
	}
	if len(an) == len(bn) {
		return false
	}
	// apparently the longer wins
	return len(an) > len(bn)
}

func sortedChildrenByHash(children []*Node) []*Node {
	sorted := make([]*Node, len(children))
	copy(sorted, children)
	sort.SliceStable(sorted, func(i, j int) bool {
		return direntCmpHash(sorted[i], sorted[j])
	})
	return sorted
}

// isSignatureName reports whether child's name matches one of the two
// signature stream names, compared over min(childLen, constLen) the same
// way the reference implementation's memcmp-based match does.
func isSignatureName(child *Node) bool {
	return nameMatches(child, DigitalSignatureName) || nameMatches(child, DigitalSignatureExName)
}

func nameMatches(child *Node, constName []byte) bool {
	childName := child.Entry.Name[:child.Entry.NameLen]
	n := len(childName)
	if len(constName) < n {
		n = len(constName)
	}
	for i := 0; i < n; i++ {
		if childName[i] != constName[i] {
			return false
		}
	}
	return true
}

// ContentHash performs the recursive content-hash traversal of spec §4.5:
// at each storage, children are visited in dirent_cmp_hash order (skipping
// the two root-level signature streams), streams contribute their raw
// bytes, storages recurse, and the storage's own CLSID is emitted last.
func ContentHash(img *Image, node *Node, sink Hasher, isRoot bool) error {
	for _, child := range sortedChildrenByHash(node.Children) {
		if isRoot && isSignatureName(child) {
			continue
		}
		if child.IsStream() {
			size := uint32(child.Entry.Size)
			if size == 0 {
				continue
			}
			data, err := img.Read(&child.Entry, 0, int(size))
			if err != nil {
				return err
			}
			if _, err := sink.Write(data); err != nil {
				return err
			}
		} else if child.IsStorage() {
			if err := ContentHash(img, child, sink, false); err != nil {
				return err
			}
		}
	}
	_, err := sink.Write(node.Entry.CLSID[:])
	return err
}

// MetadataPrehash performs the recursive metadata pre-hash traversal of
// spec §4.5, used to compute the MsiDigitalSignatureEx payload.
func MetadataPrehash(node *Node, sink Hasher, isRoot bool) error {
	if err := writePrehashMetadata(&node.Entry, sink, isRoot); err != nil {
		return err
	}
	for _, child := range sortedChildrenByHash(node.Children) {
		if isRoot && isSignatureName(child) {
			continue
		}
		if child.IsStream() {
			if err := writePrehashMetadata(&child.Entry, sink, false); err != nil {
				return err
			}
		} else if child.IsStorage() {
			if err := MetadataPrehash(child, sink, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// writePrehashMetadata emits one entry's metadata fields in the order spec
// §4.5 defines: name (root excluded), CLSID or low 4 bytes of size, state
// bits always, then creation/modified time (root excluded).
func writePrehashMetadata(e *RawDirEntry, sink Hasher, isRoot bool) error {
	if !isRoot {
		nameBytes := nameRuneBytes(e.NameLen)
		if _, err := sink.Write(e.Name[:nameBytes]); err != nil {
			return err
		}
	}
	if e.Type == ObjTypeStorage || e.Type == ObjTypeRoot {
		if _, err := sink.Write(e.CLSID[:]); err != nil {
			return err
		}
	} else {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(e.Size))
		if _, err := sink.Write(buf[:]); err != nil {
			return err
		}
	}
	if _, err := sink.Write(e.StateBits[:]); err != nil {
		return err
	}
	if !isRoot {
		if _, err := sink.Write(e.CreationTime[:]); err != nil {
			return err
		}
		if _, err := sink.Write(e.ModifiedTime[:]); err != nil {
			return err
		}
	}
	return nil
}

// FileDigest computes a chunked digest over the raw image bytes, used for
// the outer Authenticode-style imprint that covers the whole file rather
// than just the CFB content hash. Chunk size matches the reference
// implementation's 16 MiB.
func FileDigest(data []byte, md hash.Hash) []byte {
	const chunk = 16 * 1024 * 1024
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		md.Write(data[off:end])
	}
	return md.Sum(nil)
}
