// File model contains the structs which mirror the on-disk layout of a CFB
// header record and directory entry record.

package msicfb

// Header is the 512-byte CFB header record (MS-CFB 2.2).
type Header struct {
	Signature            [8]byte
	CLSID                [16]byte
	MinorVersion         uint16
	MajorVersion         uint16
	ByteOrder            uint16
	SectorShift          uint16
	MiniSectorShift      uint16
	Reserved             [6]byte
	NumDirSectors        uint32
	NumFATSectors        uint32
	FirstDirSectorLoc    uint32
	TransactionSignature uint32
	MiniStreamCutoffSize uint32
	FirstMiniFATSectLoc  uint32
	NumMiniFATSectors    uint32
	FirstDIFATSectLoc    uint32
	NumDIFATSectors      uint32
	DIFAT                [NumDIFATEntriesInHeader]uint32
}

// RawDirEntry is the 128-byte on-disk directory entry record (MS-CFB 2.6.1),
// decoded field-by-field but kept in its on-disk shape (fixed name buffer,
// full 8-byte size even though only the low 32 bits are meaningful here) so
// parsing and serialization stay exact inverses of each other.
type RawDirEntry struct {
	Name           [MaxNameBytes]byte
	NameLen        uint16
	Type           uint8
	Color          uint8
	LeftSiblingID  uint32
	RightSiblingID uint32
	ChildID        uint32
	CLSID          [16]byte
	StateBits      [4]byte
	CreationTime   [8]byte
	ModifiedTime   [8]byte
	StartSectorLoc uint32
	Size           uint64
}
