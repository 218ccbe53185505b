package msicfb

import (
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Fs exposes a parsed CFB image's logical tree as a read-only afero.Fs: the
// root storage is "/", storages are directories, streams are files. Mutating
// operations are not supported — this core only ever rewrites a whole
// container via Write, never a single named entry in place.
type Fs struct {
	img  *Image
	root *Node
}

// New parses buf as a CFB image and wraps its logical tree as an afero.Fs.
func New(buf []byte) (afero.Fs, error) {
	img, root, err := Root(buf)
	if err != nil {
		return nil, err
	}
	return &Fs{img: img, root: root}, nil
}

func (fs *Fs) readStreamAt(node *Node, offset, size int64) ([]byte, error) {
	avail := int64(node.Entry.Size) - offset
	if avail < 0 {
		avail = 0
	}
	if size > avail {
		size = avail
	}
	if size <= 0 {
		return nil, nil
	}
	return fs.img.Read(&node.Entry, int(offset), int(size))
}

// lookup resolves a "/"-separated path to its Node, walking storage
// children by decoded name.
func (fs *Fs) lookup(name string) (*Node, string, error) {
	clean := strings.Trim(path.Clean("/"+name), "/")
	if clean == "" || clean == "." {
		return fs.root, "", nil
	}

	node := fs.root
	for _, part := range strings.Split(clean, "/") {
		if !node.IsStorage() {
			return nil, "", invalidArgument("%q: not a storage", name)
		}
		var next *Node
		for _, child := range node.Children {
			if child.Name() == part {
				next = child
				break
			}
		}
		if next == nil {
			return nil, "", invalidArgument("%q: no such stream or storage", name)
		}
		node = next
	}
	return node, clean, nil
}

func (fs *Fs) Open(name string) (afero.File, error) {
	node, clean, err := fs.lookup(name)
	if err != nil {
		return nil, err
	}
	return &File{fs: fs, path: clean, node: node}, nil
}

func (fs *Fs) Stat(name string) (os.FileInfo, error) {
	node, _, err := fs.lookup(name)
	if err != nil {
		return nil, err
	}
	return node.FileInfo(), nil
}

func (fs *Fs) Name() string {
	return "msicfb"
}

func (fs *Fs) Create(name string) (afero.File, error) {
	panic("implement me")
}

func (fs *Fs) Mkdir(name string, perm os.FileMode) error {
	panic("implement me")
}

func (fs *Fs) MkdirAll(path string, perm os.FileMode) error {
	panic("implement me")
}

func (fs *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	panic("implement me")
}

func (fs *Fs) Remove(name string) error {
	panic("implement me")
}

func (fs *Fs) RemoveAll(path string) error {
	panic("implement me")
}

func (fs *Fs) Rename(oldname, newname string) error {
	panic("implement me")
}

func (fs *Fs) Chmod(name string, mode os.FileMode) error {
	panic("implement me")
}

func (fs *Fs) Chown(name string, uid, gid int) error {
	panic("implement me")
}

func (fs *Fs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	panic("implement me")
}
