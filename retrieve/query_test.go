package retrieve

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomfetch/dicom"
	"github.com/caio-sobreiro/dicomfetch/types"
)

func TestQueryIdentifier(t *testing.T) {
	ds, err := QueryIdentifier(types.QueryLevelSeries, map[string]string{"PatientID": "P1", "Modality": "RTIMAGE"})
	require.NoError(t, err)

	assert.Equal(t, "SERIES", ds.GetString(dicom.TagQueryRetrieveLevel))
	assert.Equal(t, "P1", ds.GetString(dicom.TagPatientID))
	assert.Equal(t, "RTIMAGE", ds.GetString(dicom.TagModality))
	// Return keys of the levels above are requested too.
	assert.True(t, ds.Has(dicom.TagPatientName))
	assert.True(t, ds.Has(dicom.TagStudyInstanceUID))
	assert.True(t, ds.Has(dicom.TagSeriesNumber))
	assert.False(t, ds.Has(dicom.TagSOPInstanceUID))

	ds, err = QueryIdentifier(types.QueryLevelPatient, nil)
	require.NoError(t, err)
	assert.Equal(t, "*", ds.GetString(dicom.TagPatientID))
	assert.False(t, ds.Has(dicom.TagStudyInstanceUID))

	_, err = QueryIdentifier(types.QueryLevel("FRAME"), nil)
	assert.Error(t, err)
	_, err = QueryIdentifier(types.QueryLevelImage, map[string]string{"NoSuchKeyword": "x"})
	assert.Error(t, err)
}

func TestQueryKeyIsOrderIndependent(t *testing.T) {
	a := queryKey(types.QueryLevelStudy, map[string]string{"PatientID": "P1", "StudyDate": "2024"})
	b := queryKey(types.QueryLevelStudy, map[string]string{"StudyDate": "2024", "PatientID": "P1"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, queryKey(types.QueryLevelSeries, map[string]string{"PatientID": "P1", "StudyDate": "2024"}))
}

func TestQuery(t *testing.T) {
	tk := &fakeToolkit{t: t}
	tk.find = func(req FindRequest, fn func(FindResponse)) (FindResponse, error) {
		assert.Equal(t, types.PatientRootQueryRetrieveInformationModelFind, req.Model)
		assert.Equal(t, "P1", req.Identifier.GetString(dicom.TagPatientID))
		for _, uid := range []string{"1.2.1", "1.2.2"} {
			match := dicom.NewDataset()
			match.SetString(dicom.TagPatientID, "P1")
			match.SetString(dicom.TagStudyInstanceUID, uid)
			fn(FindResponse{Status: types.StatusPending, Identifier: match})
		}
		final := FindResponse{Status: types.StatusSuccess}
		fn(final)
		return final, nil
	}
	r := newTestRetriever(t, tk, newTestArchive(t))

	results, status := r.Query(context.Background(), types.QueryLevelStudy, map[string]string{"PatientID": "P1"})
	assert.Equal(t, types.StatusSuccess, status)
	require.Len(t, results, 2)
	assert.Equal(t, "1.2.2", results[1].GetString(dicom.TagStudyInstanceUID))

	// Served from the cache.
	results, status = r.Query(context.Background(), types.QueryLevelStudy, map[string]string{"PatientID": "P1"})
	assert.Equal(t, types.StatusSuccess, status)
	assert.Len(t, results, 2)
	tk.mu.Lock()
	assert.Equal(t, 1, tk.finds)
	tk.mu.Unlock()

	_, status = r.Query(context.Background(), types.QueryLevelSeries, map[string]string{"PatientID": "P1"})
	assert.Equal(t, types.StatusSuccess, status)
	tk.mu.Lock()
	assert.Equal(t, 2, tk.finds)
	tk.mu.Unlock()
}

func TestQueryWithoutKeys(t *testing.T) {
	tk := &fakeToolkit{t: t}
	r := newTestRetriever(t, tk, newTestArchive(t))

	results, status := r.Query(context.Background(), types.QueryLevelPatient, nil)
	assert.Nil(t, results)
	assert.Equal(t, types.StatusFindMissingIdentifier, status)

	associations, _ := tk.counts()
	assert.Zero(t, associations)
}

func TestQueryConnectFailure(t *testing.T) {
	tk := &fakeToolkit{t: t, associateErr: errRefused}
	r := newTestRetriever(t, tk, newTestArchive(t))

	_, status := r.Query(context.Background(), types.QueryLevelPatient, map[string]string{"PatientID": "P1"})
	assert.Equal(t, types.StatusConnectFailed, status)
}

func TestCancelledQueryIsNotShared(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	tk := &fakeToolkit{t: t}
	tk.find = func(req FindRequest, fn func(FindResponse)) (FindResponse, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
			return FindResponse{}, context.Canceled
		}
		final := FindResponse{Status: types.StatusSuccess}
		fn(final)
		return final, nil
	}
	r := newTestRetriever(t, tk, newTestArchive(t))
	keys := map[string]string{"PatientID": "P1"}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan uint16, 1)
	go func() {
		_, status := r.Query(ctx, types.QueryLevelPatient, keys)
		first <- status
	}()
	<-started

	second := make(chan uint16, 1)
	go func() {
		_, status := r.Query(context.Background(), types.QueryLevelPatient, keys)
		second <- status
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(release)

	assert.Equal(t, types.StatusCancel, <-first)
	assert.Equal(t, types.StatusSuccess, <-second)

	// The successful answer is cached, the cancelled one was not.
	_, status := r.Query(context.Background(), types.QueryLevelPatient, keys)
	assert.Equal(t, types.StatusSuccess, status)
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}
