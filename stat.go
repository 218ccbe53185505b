package msicfb

import (
	"os"
	"time"
)

// FileInfo adapts a Node to os.FileInfo, letting the fs.go/go-fs.go views
// expose the logical tree through the standard filesystem interfaces.
func (n *Node) FileInfo() os.FileInfo {
	return nodeFileInfo{n}
}

type nodeFileInfo struct {
	node *Node
}

func (n nodeFileInfo) Name() string {
	return n.node.Name()
}

func (n nodeFileInfo) Size() int64 {
	return int64(n.node.Entry.Size)
}

func (n nodeFileInfo) Mode() os.FileMode {
	if n.IsDir() {
		return os.ModeDir | 0555
	}
	return 0444
}

func (n nodeFileInfo) ModTime() time.Time {
	return ParseFILETIME(n.node.Entry.ModifiedTime)
}

func (n nodeFileInfo) IsDir() bool {
	return n.node.IsStorage()
}

func (n nodeFileInfo) Sys() interface{} {
	return n.node
}
