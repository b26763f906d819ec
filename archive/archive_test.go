package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dicomerrors "github.com/caio-sobreiro/dicomfetch/errors"
	"github.com/caio-sobreiro/dicomfetch/dicom"
	"github.com/caio-sobreiro/dicomfetch/types"
)

func sampleObject(t *testing.T, sopUID, modality string) *Object {
	t.Helper()
	ds := dicom.NewDataset()
	ds.SetString(dicom.TagSOPClassUID, types.RTImageStorage)
	ds.SetString(dicom.TagSOPInstanceUID, sopUID)
	ds.SetString(dicom.TagModality, modality)
	encoded, err := dicom.EncodeDatasetWithTransferSyntax(ds, types.ExplicitVRLittleEndian)
	require.NoError(t, err)
	return &Object{
		SOPClassUID:       types.RTImageStorage,
		SOPInstanceUID:    sopUID,
		TransferSyntaxUID: types.ExplicitVRLittleEndian,
		Dataset:           encoded,
	}
}

func newArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := New(filepath.Join(t.TempDir(), "dicom"))
	require.NoError(t, err)
	return a
}

func TestStoreAndLoad(t *testing.T) {
	a := newArchive(t)

	exists, path := a.Has("1.2.3", "2024")
	assert.False(t, exists)
	assert.Equal(t, filepath.Join(a.Root(), "2024", "1.2.3.dcm"), path)

	entry, err := a.Store("1.2.3", "2024", sampleObject(t, "1.2.3", "RTIMAGE"), false)
	require.NoError(t, err)
	assert.True(t, entry.Written)
	assert.Equal(t, path, entry.Path)
	assert.Len(t, entry.Digest, 64)

	exists, _ = a.Has("1.2.3", "2024")
	assert.True(t, exists)

	obj, err := a.Load("1.2.3", "2024")
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Equal(t, "1.2.3", obj.SOPInstanceUID)
	assert.Equal(t, types.ExplicitVRLittleEndian, obj.TransferSyntaxUID)

	ds, err := dicom.ParseDatasetWithTransferSyntax(obj.Dataset, obj.TransferSyntaxUID)
	require.NoError(t, err)
	assert.Equal(t, "RTIMAGE", ds.GetString(dicom.TagModality))
}

func TestFileMode(t *testing.T) {
	a, err := New(filepath.Join(t.TempDir(), "dicom"), WithFileMode(0o600))
	require.NoError(t, err)

	entry, err := a.Store("1.2.3", "", sampleObject(t, "1.2.3", "RTIMAGE"), false)
	require.NoError(t, err)
	info, err := os.Stat(entry.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entry, err = newArchive(t).Store("1.2.3", "", sampleObject(t, "1.2.3", "RTIMAGE"), false)
	require.NoError(t, err)
	info, err = os.Stat(entry.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestStoreKeepsExistingWithoutOverride(t *testing.T) {
	a := newArchive(t)
	_, err := a.Store("1.2.3", "", sampleObject(t, "1.2.3", "RTIMAGE"), false)
	require.NoError(t, err)

	entry, err := a.Store("1.2.3", "", sampleObject(t, "1.2.3", "CT"), false)
	require.NoError(t, err)
	assert.False(t, entry.Written)

	obj, err := a.Load("1.2.3", "")
	require.NoError(t, err)
	ds, err := dicom.ParseDataset(obj.Dataset)
	require.NoError(t, err)
	assert.Equal(t, "RTIMAGE", ds.GetString(dicom.TagModality))
}

func TestStoreOverride(t *testing.T) {
	a := newArchive(t)
	first, err := a.Store("1.2.3", "", sampleObject(t, "1.2.3", "RTIMAGE"), false)
	require.NoError(t, err)

	second, err := a.Store("1.2.3", "", sampleObject(t, "1.2.3", "CT"), true)
	require.NoError(t, err)
	assert.True(t, second.Written)
	assert.NotEqual(t, first.Digest, second.Digest)

	obj, err := a.Load("1.2.3", "")
	require.NoError(t, err)
	ds, err := dicom.ParseDataset(obj.Dataset)
	require.NoError(t, err)
	assert.Equal(t, "CT", ds.GetString(dicom.TagModality))

	leftovers, err := filepath.Glob(filepath.Join(a.Root(), ".1.2.3.dcm.*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestStoreIOError(t *testing.T) {
	a := newArchive(t)
	require.NoError(t, os.WriteFile(filepath.Join(a.Root(), "blocked"), []byte("x"), 0644))

	_, err := a.Store("1.2.3", "blocked", sampleObject(t, "1.2.3", "RTIMAGE"), false)
	var storageErr *dicomerrors.StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, types.StatusStoreIOError, storageErr.Status)
}

func TestStoreSaveError(t *testing.T) {
	a := newArchive(t)
	obj := sampleObject(t, "1.2.3", "RTIMAGE")
	obj.TransferSyntaxUID = ""

	_, err := a.Store("1.2.3", "", obj, false)
	var storageErr *dicomerrors.StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, types.StatusStoreSaveError, storageErr.Status)

	exists, _ := a.Has("1.2.3", "")
	assert.False(t, exists)
}

func TestLoadMissing(t *testing.T) {
	a := newArchive(t)
	obj, err := a.Load("9.9.9", "none")
	assert.NoError(t, err)
	assert.Nil(t, obj)
}

func TestLoadCorrupt(t *testing.T) {
	a := newArchive(t)
	path, err := a.Path("1.2.3", "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("not dicom"), 0644))

	obj, err := a.Load("1.2.3", "")
	assert.Error(t, err)
	assert.Nil(t, obj)
}

func TestPathValidation(t *testing.T) {
	a := newArchive(t)

	_, err := a.Path("../evil", "")
	assert.True(t, errors.Is(err, ErrInvalidObjectID))
	_, err = a.Path("1.2.3", "../../outside")
	assert.True(t, errors.Is(err, ErrInvalidSubPath))

	exists, path := a.Has("", "")
	assert.False(t, exists)
	assert.Empty(t, path)
}

func TestDelete(t *testing.T) {
	a := newArchive(t)
	_, err := a.Store("1.2.3", "2024", sampleObject(t, "1.2.3", "RTIMAGE"), false)
	require.NoError(t, err)

	path, err := a.Delete("1.2.3", "2024")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(a.Root(), "2024", "1.2.3.dcm"), path)

	exists, _ := a.Has("1.2.3", "2024")
	assert.False(t, exists)

	path, err = a.Delete("1.2.3", "2024")
	assert.NoError(t, err)
	assert.Empty(t, path)
}

func TestNewRequiresRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
