package msicfb

import "hash"

// Root opens buf as a CFB image and materializes its logical directory
// tree, in one call. It's the entry point most callers want; Open and
// BuildTree remain available separately for callers that need the Image
// (e.g. to Read a stream) alongside the tree.
func Root(buf []byte) (*Image, *Node, error) {
	img, err := Open(buf)
	if err != nil {
		return nil, nil, err
	}
	root, err := BuildTree(img)
	if err != nil {
		return nil, nil, err
	}
	return img, root, nil
}

// FindSignatures linearly scans root's children for the two Authenticode
// signature streams, returning whichever are present (spec §6).
func FindSignatures(root *Node) (digitalSignature, digitalSignatureEx *Node) {
	for _, child := range root.Children {
		if !child.IsStream() {
			continue
		}
		switch {
		case nameMatchesExact(child, DigitalSignatureName):
			digitalSignature = child
		case nameMatchesExact(child, DigitalSignatureExName):
			digitalSignatureEx = child
		}
	}
	return digitalSignature, digitalSignatureEx
}

// ContentDigest computes the content hash of spec §4.5 over the whole tree
// and returns the finalized digest from md.
func ContentDigest(img *Image, root *Node, md hash.Hash) ([]byte, error) {
	if err := ContentHash(img, root, md, true); err != nil {
		return nil, err
	}
	return md.Sum(nil), nil
}

// MetadataDigest computes the metadata pre-hash of spec §4.5 over the whole
// tree — the payload that becomes the MsiDigitalSignatureEx stream content
// — and returns the finalized digest from md.
func MetadataDigest(root *Node, md hash.Hash) ([]byte, error) {
	if err := MetadataPrehash(root, md, true); err != nil {
		return nil, err
	}
	return md.Sum(nil), nil
}
