package gitsource

import (
	"errors"
	"os"
	"sync/atomic"

	billy "github.com/go-git/go-billy/v5"
)

// ErrLimitExceeded is returned when a clone grows past the configured
// file-count or total-size bound.
var ErrLimitExceeded = errors.New("filesystem limit exceeded")

// LimitedFs is a billy.Filesystem decorator that caps the number of
// files and the total bytes written through it. It protects the
// in-memory clone storage from unbounded upstream repositories.
type LimitedFs struct {
	Fs            billy.Filesystem
	MaxFiles      int64
	TotalFileSize int64

	fileCount  atomic.Int64
	totalBytes atomic.Int64
}

var _ billy.Filesystem = (*LimitedFs)(nil)

func (l *LimitedFs) trackFile() error {
	if l.MaxFiles > 0 && l.fileCount.Add(1) > l.MaxFiles {
		return ErrLimitExceeded
	}
	return nil
}

func (l *LimitedFs) trackBytes(n int) error {
	if l.TotalFileSize > 0 && l.totalBytes.Add(int64(n)) > l.TotalFileSize {
		return ErrLimitExceeded
	}
	return nil
}

// Create implements billy.Basic.
func (l *LimitedFs) Create(filename string) (billy.File, error) {
	if err := l.trackFile(); err != nil {
		return nil, err
	}
	f, err := l.Fs.Create(filename)
	if err != nil {
		return nil, err
	}
	return &limitedFile{File: f, fs: l}, nil
}

// Open implements billy.Basic.
func (l *LimitedFs) Open(filename string) (billy.File, error) {
	return l.Fs.Open(filename)
}

// OpenFile implements billy.Basic.
func (l *LimitedFs) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	if flag&os.O_CREATE != 0 {
		if err := l.trackFile(); err != nil {
			return nil, err
		}
	}
	f, err := l.Fs.OpenFile(filename, flag, perm)
	if err != nil {
		return nil, err
	}
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return &limitedFile{File: f, fs: l}, nil
	}
	return f, nil
}

// Stat implements billy.Basic.
func (l *LimitedFs) Stat(filename string) (os.FileInfo, error) {
	return l.Fs.Stat(filename)
}

// Rename implements billy.Basic.
func (l *LimitedFs) Rename(oldpath, newpath string) error {
	return l.Fs.Rename(oldpath, newpath)
}

// Remove implements billy.Basic.
func (l *LimitedFs) Remove(filename string) error {
	return l.Fs.Remove(filename)
}

// Join implements billy.Basic.
func (l *LimitedFs) Join(elem ...string) string {
	return l.Fs.Join(elem...)
}

// TempFile implements billy.TempFile.
func (l *LimitedFs) TempFile(dir, prefix string) (billy.File, error) {
	if err := l.trackFile(); err != nil {
		return nil, err
	}
	f, err := l.Fs.TempFile(dir, prefix)
	if err != nil {
		return nil, err
	}
	return &limitedFile{File: f, fs: l}, nil
}

// ReadDir implements billy.Dir.
func (l *LimitedFs) ReadDir(path string) ([]os.FileInfo, error) {
	return l.Fs.ReadDir(path)
}

// MkdirAll implements billy.Dir.
func (l *LimitedFs) MkdirAll(filename string, perm os.FileMode) error {
	return l.Fs.MkdirAll(filename, perm)
}

// Lstat implements billy.Symlink.
func (l *LimitedFs) Lstat(filename string) (os.FileInfo, error) {
	return l.Fs.Lstat(filename)
}

// Symlink implements billy.Symlink.
func (l *LimitedFs) Symlink(target, link string) error {
	if err := l.trackFile(); err != nil {
		return err
	}
	return l.Fs.Symlink(target, link)
}

// Readlink implements billy.Symlink.
func (l *LimitedFs) Readlink(link string) (string, error) {
	return l.Fs.Readlink(link)
}

// Chroot implements billy.Chroot. The chrooted filesystem shares the
// parent's counters, so limits hold across the whole tree.
func (l *LimitedFs) Chroot(path string) (billy.Filesystem, error) {
	fs, err := l.Fs.Chroot(path)
	if err != nil {
		return nil, err
	}
	return &chrootedFs{Filesystem: fs, parent: l}, nil
}

// Root implements billy.Chroot.
func (l *LimitedFs) Root() string {
	return l.Fs.Root()
}

// limitedFile tracks written bytes against the owning filesystem.
type limitedFile struct {
	billy.File
	fs *LimitedFs
}

func (f *limitedFile) Write(p []byte) (int, error) {
	if err := f.fs.trackBytes(len(p)); err != nil {
		return 0, err
	}
	return f.File.Write(p)
}

// chrootedFs keeps the parent's accounting for files created below a
// chroot point.
type chrootedFs struct {
	billy.Filesystem
	parent *LimitedFs
}

func (c *chrootedFs) Create(filename string) (billy.File, error) {
	if err := c.parent.trackFile(); err != nil {
		return nil, err
	}
	f, err := c.Filesystem.Create(filename)
	if err != nil {
		return nil, err
	}
	return &limitedFile{File: f, fs: c.parent}, nil
}

func (c *chrootedFs) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	if flag&os.O_CREATE != 0 {
		if err := c.parent.trackFile(); err != nil {
			return nil, err
		}
	}
	f, err := c.Filesystem.OpenFile(filename, flag, perm)
	if err != nil {
		return nil, err
	}
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return &limitedFile{File: f, fs: c.parent}, nil
	}
	return f, nil
}
