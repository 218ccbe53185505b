package msicfb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/aligator/msicfb/checkpoint"
	"github.com/spf13/afero"
)

// These errors may occur while reading through a File.
var (
	ErrReadFile = errors.New("could not read stream completely")
	ErrSeekFile = errors.New("could not seek inside of the stream")
	ErrReadDir  = errors.New("could not read the storage")
)

// treeFileFs provides the one method File needs from its owning Fs. It
// mainly exists to be able to mock the Fs in tests.
// Generated mock using mockgen:
//
//	mockgen -source=file.go -destination=file_mock.go -package msicfb
type treeFileFs interface {
	readStreamAt(node *Node, offset, size int64) ([]byte, error)
}

// File adapts a Node to afero.File. It is read-only: Write/WriteAt/Truncate
// panic, matching the teacher's treatment of not-yet-supported mutation on
// this kind of view.
type File struct {
	fs   treeFileFs
	path string
	node *Node

	offset int64
}

func (f *File) Close() error {
	f.fs = nil
	f.path = ""
	f.node = nil
	f.offset = 0
	return nil
}

func (f *File) Read(p []byte) (n int, err error) {
	if p == nil {
		return 0, nil
	}

	if int64(f.node.Entry.Size) <= f.offset {
		return 0, io.EOF
	}

	offset := f.offset
	data, err := f.fs.readStreamAt(f.node, offset, int64(len(p)))

	if data != nil {
		copy(p, data)
	}

	// Seek even if an error occurred; errors from reading still matter even
	// if the seek itself also errors.
	_, seekErr := f.Seek(int64(len(data)), io.SeekCurrent)

	if err != nil {
		return len(data), checkpoint.Wrap(err, ErrReadFile)
	}
	if seekErr != nil {
		return len(data), checkpoint.Wrap(seekErr, ErrReadFile)
	}
	return len(data), nil
}

func (f *File) ReadAt(p []byte, off int64) (n int, err error) {
	if p == nil {
		return 0, nil
	}
	if int64(f.node.Entry.Size) <= off {
		return 0, io.EOF
	}

	size := len(p)
	data, err := f.fs.readStreamAt(f.node, off, int64(size))
	if data != nil {
		copy(p, data)
	}

	if err != nil {
		return len(data), checkpoint.Wrap(err, ErrReadFile)
	}
	if len(data) < size {
		return len(data), checkpoint.Wrap(io.ErrUnexpectedEOF, ErrReadFile)
	}
	return len(data), nil
}

// Seek jumps to a specific offset in the stream. This affects Read but not
// ReadAt. May return a syscall.EINVAL error if whence is invalid, or an
// afero.ErrOutOfRange error if the resulting offset is out of range.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset = f.offset + offset
	case io.SeekEnd:
		offset = int64(f.node.Entry.Size) + offset
	default:
		return 0, checkpoint.Wrap(ErrSeekFile, fmt.Errorf("%w, offset: %v, whence: %v", syscall.EINVAL, offset, whence))
	}

	if offset < 0 || offset > int64(f.node.Entry.Size) {
		return 0, checkpoint.Wrap(afero.ErrOutOfRange, fmt.Errorf("%w, offset: %v, whence: %v", ErrSeekFile, offset, whence))
	}

	f.offset = offset
	return offset, nil
}

func (f *File) Write(p []byte) (n int, err error) {
	panic("implement me")
}

func (f *File) WriteAt(p []byte, off int64) (n int, err error) {
	panic("implement me")
}

func (f *File) Name() string {
	return f.node.Name()
}

// Readdir lists the storage's children. May return syscall.ENOTDIR if the
// File is not a storage.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	if !f.node.IsStorage() {
		return nil, checkpoint.Wrap(syscall.ENOTDIR, ErrReadDir)
	}

	content := f.node.Children
	end := len(content)
	var err error

	if int64(len(content)) < f.offset+int64(count) {
		count = len(content) - int(f.offset)
		err = io.EOF
	}
	if count >= 0 {
		end = int(f.offset) + count
	}

	content = content[f.offset:end]

	if count > 0 {
		f.offset += int64(count)
	} else if count < 0 {
		f.offset = int64(end)
	}

	result := make([]os.FileInfo, len(content))
	for i, child := range content {
		result[i] = child.FileInfo()
	}
	return result, err
}

func (f *File) Readdirnames(count int) ([]string, error) {
	content, err := f.Readdir(count)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrReadDir)
	}

	names := make([]string, len(content))
	for i, entry := range content {
		names[i] = entry.Name()
	}
	return names, nil
}

func (f *File) Stat() (os.FileInfo, error) {
	return f.node.FileInfo(), nil
}

func (f *File) Sync() error {
	panic("implement me")
}

func (f *File) Truncate(size int64) error {
	panic("implement me")
}

func (f *File) WriteString(s string) (ret int, err error) {
	return f.Write([]byte(s))
}
