// Package archive is the local cache of retrieved DICOM objects. Every
// object lives at <root>/<subPath>/<objectID>.dcm as a Part 10 file; an
// entry is never evicted and only replaced on request.
package archive

import (
	"bytes"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	dicomerrors "github.com/caio-sobreiro/dicomfetch/errors"
	"github.com/caio-sobreiro/dicomfetch/dicom"
)

// Extension of archived files.
const Extension = ".dcm"

var (
	// ErrInvalidObjectID is returned for identifiers that cannot name a file.
	ErrInvalidObjectID = errors.New("invalid object identifier")
	// ErrInvalidSubPath is returned for sub paths escaping the archive root.
	ErrInvalidSubPath = errors.New("sub path escapes the archive root")
)

// Object is one DICOM instance with its dataset encoded in TransferSyntaxUID.
type Object struct {
	SOPClassUID       string
	SOPInstanceUID    string
	TransferSyntaxUID string
	Dataset           []byte
}

// Entry describes the outcome of Store.
type Entry struct {
	Path string
	// Written is false when an existing entry was kept.
	Written bool
	Size    int64
	// Digest is the hex BLAKE3 digest of the file, empty when not written.
	Digest string
}

// Option configures an Archive.
type Option func(*Archive)

// WithLogger overrides the logger of the archive.
func WithLogger(logger *log.Entry) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// WithFileMode sets the permissions of archived files.
func WithFileMode(mode os.FileMode) Option {
	return func(a *Archive) {
		a.fileMode = mode
	}
}

// Archive is a filesystem-backed object cache.
type Archive struct {
	root     string
	fileMode os.FileMode
	logger   *log.Entry

	// mu makes the exists-then-write sequence of Store atomic.
	mu sync.Mutex
}

// New opens the archive at root, creating the directory when missing.
func New(root string, opts ...Option) (*Archive, error) {
	if root == "" {
		return nil, dicomerrors.NewConfigurationError("Archive.Root", 0, "archive root is required", nil)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving archive root %s", root)
	}
	a := &Archive{
		root:     abs,
		fileMode: 0644,
		logger:   log.WithField("component", "archive"),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := os.MkdirAll(abs, 0775); err != nil {
		return nil, errors.Wrapf(err, "creating archive root %s", abs)
	}
	probe, err := os.CreateTemp(abs, ".probe-*")
	if err != nil {
		return nil, errors.Wrapf(err, "archive root %s is not writable", abs)
	}
	probe.Close()
	_ = os.Remove(probe.Name())

	return a, nil
}

// Root returns the absolute archive root.
func (a *Archive) Root() string {
	return a.root
}

// Path returns the file an object is stored at.
func (a *Archive) Path(id, subPath string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", errors.Wrapf(ErrInvalidObjectID, "%q", id)
	}
	dir := filepath.Join(a.root, filepath.FromSlash(subPath))
	if dir != a.root && !strings.HasPrefix(dir, a.root+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrInvalidSubPath, "%q", subPath)
	}
	return filepath.Join(dir, id+Extension), nil
}

// Has reports whether an object is archived and where.
func (a *Archive) Has(id, subPath string) (bool, string) {
	path, err := a.Path(id, subPath)
	if err != nil {
		return false, ""
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false, path
	}
	return true, path
}

// Load reads an archived object. It returns nil and no error when the
// object is not archived.
func (a *Archive) Load(id, subPath string) (*Object, error) {
	path, err := a.Path(id, subPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		a.logger.WithError(err).WithField("path", path).Warn("Failed to open archived object")
		return nil, err
	}
	defer f.Close()

	meta, dataset, err := dicom.ReadPart10(f)
	if err != nil {
		a.logger.WithError(err).WithField("path", path).Warn("Failed to read archived object")
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return &Object{
		SOPClassUID:       meta.MediaStorageSOPClassUID,
		SOPInstanceUID:    meta.MediaStorageSOPInstanceUID,
		TransferSyntaxUID: meta.TransferSyntaxUID,
		Dataset:           dataset,
	}, nil
}

// Store archives obj unless it is already present and override is false.
// Files are written to a temporary name and renamed into place. Failures are
// returned as *errors.StorageError.
func (a *Archive) Store(id, subPath string, obj *Object, override bool) (Entry, error) {
	path, err := a.Path(id, subPath)
	if err != nil {
		return Entry{}, dicomerrors.NewStorageError(id, path, err)
	}
	entry := Entry{Path: path}
	if obj == nil {
		return entry, dicomerrors.NewStorageError(id, path, errors.New("nothing to store"))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if exists, _ := a.Has(id, subPath); exists && !override {
		a.logger.WithField("path", path).Debug("Object already archived")
		return entry, nil
	}

	var buf bytes.Buffer
	meta := dicom.FileMeta{
		MediaStorageSOPClassUID:    obj.SOPClassUID,
		MediaStorageSOPInstanceUID: obj.SOPInstanceUID,
		TransferSyntaxUID:          obj.TransferSyntaxUID,
	}
	if err := dicom.WritePart10(&buf, meta, obj.Dataset); err != nil {
		return entry, dicomerrors.NewStorageError(id, path, err)
	}

	size, digest, err := a.writeFile(path, buf.Bytes())
	if err != nil {
		a.logger.WithError(err).WithField("path", path).Warn("Failed to archive object")
		return entry, dicomerrors.NewStorageError(id, path, err)
	}

	entry.Written = true
	entry.Size = size
	entry.Digest = digest
	a.logger.WithFields(log.Fields{
		"path":     path,
		"size":     size,
		"override": override,
	}).Debug("Object archived")
	return entry, nil
}

func (a *Archive) writeFile(path string, data []byte) (int64, string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return 0, "", err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, "", err
	}
	defer os.Remove(tmp.Name())

	hasher := blake3.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), bytes.NewReader(data))
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, "", err
	}
	if err := os.Chmod(tmp.Name(), a.fileMode); err != nil {
		return 0, "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, "", err
	}
	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

// Delete removes an archived object and returns its path. Deleting an
// object that is not archived is not an error and returns an empty path.
func (a *Archive) Delete(id, subPath string) (string, error) {
	path, err := a.Path(id, subPath)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Wrapf(err, "deleting %s", path)
	}
	a.logger.WithField("path", path).Info("Archived object deleted")
	return path, nil
}
