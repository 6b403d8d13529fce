package backend

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/cuemby/artstore/pkg/errdefs"
)

// LocalDriver stores objects on the local filesystem under a base path.
// Directory layout and naming are decided by the caller; the driver only
// guarantees atomicity of individual writes.
type LocalDriver struct {
	basePath string

	// dirLocks fences concurrent first-file creation of the same
	// directory. Locks are scoped: acquire returns a release func that
	// the caller defers.
	dirLocks sync.Map // map[string]*sync.Mutex
}

// NewLocalDriver creates a local filesystem driver rooted at basePath
func NewLocalDriver(basePath string) (*LocalDriver, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalDriver{basePath: basePath}, nil
}

// BasePath returns the root directory of the driver
func (d *LocalDriver) BasePath() string {
	return d.basePath
}

// lockDir acquires the creation fence for dir and returns its release
func (d *LocalDriver) lockDir(dir string) func() {
	v, _ := d.dirLocks.LoadOrStore(dir, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (d *LocalDriver) abs(path string) string {
	return filepath.Join(d.basePath, filepath.FromSlash(path))
}

func (d *LocalDriver) ensureDir(path string) error {
	dir := filepath.Dir(d.abs(path))
	release := d.lockDir(dir)
	defer release()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to create directory", err)
	}
	return nil
}

// WriteObject streams r to a temp file in the final directory, fsyncs,
// and renames into place. SHA-256 and MD5 are computed incrementally.
func (d *LocalDriver) WriteObject(ctx context.Context, path string, r io.Reader, maxBytes int64) (*WriteResult, error) {
	if err := d.ensureDir(path); err != nil {
		return nil, err
	}

	final := d.abs(path)
	tmp, err := os.CreateTemp(filepath.Dir(final), ".upload-*")
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to create temp file", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	sha := sha256.New()
	md := md5.New()
	written := int64(0)
	buf := make([]byte, 256<<10)
	for {
		if err := ctx.Err(); err != nil {
			cleanup()
			return nil, err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			written += int64(n)
			if maxBytes > 0 && written > maxBytes {
				cleanup()
				return nil, errdefs.Newf(errdefs.KindFileTooLarge, "object exceeds maximum size of %d bytes", maxBytes)
			}
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				cleanup()
				return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to write object bytes", werr)
			}
			sha.Write(buf[:n])
			md.Write(buf[:n])
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			cleanup()
			return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to read upload stream", rerr)
		}
	}

	if err := tmp.Sync(); err != nil {
		cleanup()
		return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to fsync object", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to close object", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to promote object", err)
	}

	return &WriteResult{
		SizeBytes: written,
		SHA256:    hex.EncodeToString(sha.Sum(nil)),
		MD5:       hex.EncodeToString(md.Sum(nil)),
	}, nil
}

// ReadObject opens the object at offset; length < 0 reads to the end
func (d *LocalDriver) ReadObject(ctx context.Context, path string, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(d.abs(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.Newf(errdefs.KindNotFound, "object not found: %s", path)
		}
		return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to open object", err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to seek object", err)
		}
	}
	if length < 0 {
		return f, nil
	}
	return &limitReadCloser{Reader: io.LimitReader(f, length), closer: f}, nil
}

type limitReadCloser struct {
	io.Reader
	closer io.Closer
}

func (l *limitReadCloser) Close() error {
	return l.closer.Close()
}

// StatObject returns metadata for the object
func (d *LocalDriver) StatObject(ctx context.Context, path string) (*ObjectInfo, error) {
	info, err := os.Stat(d.abs(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.Newf(errdefs.KindNotFound, "object not found: %s", path)
		}
		return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to stat object", err)
	}
	return &ObjectInfo{Path: path, SizeBytes: info.Size(), ModTime: info.ModTime().UTC()}, nil
}

// DeleteObject removes the object; missing objects are not an error
func (d *LocalDriver) DeleteObject(ctx context.Context, path string) error {
	if err := os.Remove(d.abs(path)); err != nil && !os.IsNotExist(err) {
		return errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to delete object", err)
	}
	return nil
}

// WriteSidecar atomically replaces the sidecar via temp + fsync + rename
func (d *LocalDriver) WriteSidecar(ctx context.Context, path string, data []byte) error {
	if err := d.ensureDir(path); err != nil {
		return err
	}
	final := d.abs(path)
	tmp, err := os.CreateTemp(filepath.Dir(final), ".attr-*")
	if err != nil {
		return errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to create temp sidecar", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to write sidecar", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to fsync sidecar", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to close sidecar", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to promote sidecar", err)
	}
	return nil
}

// ReadSidecar returns the sidecar bytes
func (d *LocalDriver) ReadSidecar(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(d.abs(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.Newf(errdefs.KindNotFound, "sidecar not found: %s", path)
		}
		return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to read sidecar", err)
	}
	return data, nil
}

// Walk visits every regular file under prefix, skipping temp files
func (d *LocalDriver) Walk(ctx context.Context, prefix string, fn func(ObjectInfo) error) error {
	root := d.abs(prefix)
	return filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if strings.HasPrefix(entry.Name(), ".upload-") || strings.HasPrefix(entry.Name(), ".attr-") {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(d.basePath, p)
		if err != nil {
			return nil
		}
		return fn(ObjectInfo{
			Path:      filepath.ToSlash(rel),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime().UTC(),
		})
	})
}

// Capacity measures the filesystem holding the base path
func (d *LocalDriver) Capacity(ctx context.Context) (*Capacity, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(d.basePath, &st); err != nil {
		return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to statfs base path", err)
	}
	bsize := int64(st.Bsize)
	total := int64(st.Blocks) * bsize
	free := int64(st.Bavail) * bsize
	return &Capacity{
		TotalBytes: total,
		UsedBytes:  total - free,
		FreeBytes:  free,
	}, nil
}

// FileCount counts sidecars on disk
func (d *LocalDriver) FileCount(ctx context.Context) (int64, error) {
	var count int64
	err := d.Walk(ctx, "", func(info ObjectInfo) error {
		if strings.HasSuffix(info.Path, SidecarSuffix) {
			count++
		}
		return nil
	})
	return count, err
}
