package retrieve

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomfetch/archive"
	"github.com/caio-sobreiro/dicomfetch/dicom"
	"github.com/caio-sobreiro/dicomfetch/simulator"
	"github.com/caio-sobreiro/dicomfetch/types"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

type loopback struct {
	sim       *simulator.Simulator
	archive   *archive.Archive
	retriever *Retriever
	logs      *test.Hook
}

// startLoopback runs a simulator holding two RT images of one series and a
// retriever fetching from it over TCP.
func startLoopback(t *testing.T, timeout time.Duration, opts ...simulator.Option) *loopback {
	t.Helper()
	sim := simulator.New("PACS", opts...)
	for _, uid := range []string{"1.2.840.9.1.1.1", "1.2.840.9.1.1.2"} {
		_, err := sim.Generate("P1", "1.2.840.9", "1.2.840.9.1", uid)
		require.NoError(t, err)
	}
	require.NoError(t, sim.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = sim.Shutdown() })

	listenPort := freePort(t)
	sim.AddDestination("QA", net.JoinHostPort("127.0.0.1", strconv.Itoa(listenPort)))

	host, portText, err := net.SplitHostPort(sim.Addr())
	require.NoError(t, err)
	peerPort, err := strconv.Atoi(portText)
	require.NoError(t, err)

	arch := newTestArchive(t)
	logger, logs := test.NewNullLogger()
	toolkit := NewDicomnetToolkit(WithListenHost("127.0.0.1"), WithToolkitLogger(logger.WithField("test", t.Name())))
	r := New(toolkit, arch, Config{
		Peer: Peer{
			Host:           host,
			Port:           peerPort,
			AETitle:        "PACS",
			LocalAETitle:   "QA",
			ConnectTimeout: 2 * time.Second,
			ReadTimeout:    5 * time.Second,
		},
		ListenPort: listenPort,
		Timeout:    timeout,
		Settle:     DefaultSettle,
		Modality:   DefaultModality,
	})
	t.Cleanup(r.Close)
	return &loopback{sim: sim, archive: arch, retriever: r, logs: logs}
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func TestLoopbackRetrieveThenArchiveHit(t *testing.T) {
	lb := startLoopback(t, 5*time.Second)
	criteria := Criteria{PatientID: "P1", SOPUID: "1.2.840.9.1.1.1", SubPath: "2024", Override: true}

	outcome := lb.retriever.Retrieve(context.Background(), criteria)

	assert.Equal(t, []string{"1.2.840.9.1.1.1"}, outcome.ObjectIDs)
	names := kinds(outcome.Events)
	require.NotEmpty(t, names)
	assert.Contains(t, names, "PENDING")
	assert.Equal(t, "DONE", names[len(names)-1])
	assert.Less(t, indexOf(names, "OBJECT_RECEIVED"), indexOf(names, "DONE"))
	assert.NotEqual(t, -1, indexOf(names, "OBJECT_RECEIVED"))

	obj, err := lb.archive.Load("1.2.840.9.1.1.1", "2024")
	require.NoError(t, err)
	require.NotNil(t, obj)

	var messages []string
	for _, entry := range lb.logs.AllEntries() {
		messages = append(messages, entry.Message)
	}
	assert.Contains(t, messages, "DICOM association established")
	assert.Contains(t, messages, "DICOM server listening")
	assert.Equal(t, types.RTImageStorage, obj.SOPClassUID)

	info := lb.retriever.Info()
	assert.True(t, info.AssociationAlive)
	assert.True(t, info.ListenerAlive)
	assert.Equal(t, uint16(1), info.MessageID)

	criteria.Override = false
	outcome = lb.retriever.Retrieve(context.Background(), criteria)
	assert.Equal(t, []string{"ARCHIVE_HIT"}, kinds(outcome.Events))
	assert.Equal(t, uint16(1), lb.retriever.Info().MessageID)
}

func TestLoopbackSeries(t *testing.T) {
	lb := startLoopback(t, 5*time.Second)

	outcome := lb.retriever.Retrieve(context.Background(), Criteria{PatientID: "P1", SeriesUID: "1.2.840.9.1"})
	assert.Equal(t, "done", outcome.Result())
	assert.ElementsMatch(t, []string{"1.2.840.9.1.1.1", "1.2.840.9.1.1.2"}, outcome.ObjectIDs)

	outcome = lb.retriever.Retrieve(context.Background(), Criteria{PatientID: "P1", SeriesUID: "1.2.840.9.1"})
	assert.Equal(t, "done", outcome.Result())
	assert.Equal(t, uint16(2), lb.retriever.Info().MessageID)
}

func TestLoopbackStorageFailureKeepsBatch(t *testing.T) {
	lb := startLoopback(t, 5*time.Second)
	// A directory where the first image belongs makes its rename fail.
	blocked, err := lb.archive.Path("1.2.840.9.1.1.1", "")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(blocked, "x"), 0755))

	outcome := lb.retriever.Retrieve(context.Background(), Criteria{PatientID: "P1", SeriesUID: "1.2.840.9.1"})

	assert.Equal(t, []string{"1.2.840.9.1.1.2"}, outcome.ObjectIDs)
	var storageErrors []Event
	for _, e := range outcome.Events {
		if e.Kind == KindStorageError {
			storageErrors = append(storageErrors, e)
		}
	}
	require.Len(t, storageErrors, 1)
	assert.Equal(t, types.StatusStoreIOError, storageErrors[0].Status)
	assert.Equal(t, "1.2.840.9.1.1.1", storageErrors[0].ObjectID)

	final, ok := outcome.Final()
	require.True(t, ok)
	assert.Equal(t, KindTerminal, final.Kind)
	assert.Equal(t, types.StatusWarningSubOps, final.Status)
}

func TestLoopbackTimeoutCancelsMove(t *testing.T) {
	lb := startLoopback(t, 200*time.Millisecond, simulator.WithStoreDelay(3*time.Second))

	start := time.Now()
	outcome := lb.retriever.Retrieve(context.Background(), Criteria{PatientID: "P1", StudyUID: "1.2.840.9"})

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, outcome.TimedOut)
	assert.Empty(t, outcome.ObjectIDs)

	// C-CANCEL ends the move well before the store delay elapses.
	assert.Eventually(t, func() bool {
		return lb.retriever.manager.Session().CallID == ""
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLoopbackQueryAndEcho(t *testing.T) {
	lb := startLoopback(t, 5*time.Second)

	assert.Equal(t, types.StatusSuccess, lb.retriever.Echo(context.Background()))

	results, status := lb.retriever.Query(context.Background(), types.QueryLevelImage, map[string]string{"PatientID": "P1"})
	assert.Equal(t, types.StatusSuccess, status)
	require.Len(t, results, 2)
	assert.Equal(t, "RTIMAGE", results[0].GetString(dicom.TagModality))
	assert.NotEmpty(t, results[0].GetString(dicom.TagSOPInstanceUID))
}

func TestLoopbackPeerDown(t *testing.T) {
	lb := startLoopback(t, 5*time.Second)
	require.NoError(t, lb.sim.Shutdown())

	outcome := lb.retriever.Retrieve(context.Background(), Criteria{PatientID: "P1", SOPUID: "1.2.840.9.1.1.1"})
	require.Len(t, outcome.Events, 1)
	assert.Equal(t, KindTerminal, outcome.Events[0].Kind)
	assert.Equal(t, types.StatusConnectFailed, outcome.Events[0].Status)
}
