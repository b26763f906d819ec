package retrieve

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/caio-sobreiro/dicomfetch/archive"
	"github.com/caio-sobreiro/dicomfetch/dicom"
	"github.com/caio-sobreiro/dicomfetch/services"
	"github.com/caio-sobreiro/dicomfetch/types"
)

type moveFunc func(ctx context.Context, tk *fakeToolkit, a *fakeAssociation, req MoveRequest, fn func(MoveResponse)) (MoveResponse, error)

// fakeToolkit scripts the peer side of the orchestrator.
type fakeToolkit struct {
	t *testing.T

	associateErr error
	listenErr    error
	move         moveFunc
	find         func(req FindRequest, fn func(FindResponse)) (FindResponse, error)

	mu           sync.Mutex
	associations int
	servers      int
	handler      services.StoreHandler
	moveIDs      []uint16
	finds        int
	echoes       int
	teardown     []string
	current      *fakeAssociation
}

func (tk *fakeToolkit) Associate(ctx context.Context, peer Peer) (Association, error) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	tk.associations++
	if tk.associateErr != nil {
		return nil, tk.associateErr
	}
	a := &fakeAssociation{tk: tk}
	a.alive.Store(true)
	tk.current = a
	return a, nil
}

func (tk *fakeToolkit) StartServer(port int, aeTitle string, handler services.StoreHandler) (Listener, error) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if tk.listenErr != nil {
		return nil, tk.listenErr
	}
	tk.servers++
	tk.handler = handler
	return &fakeListener{tk: tk, port: port}, nil
}

func (tk *fakeToolkit) Shutdown() error {
	tk.record("toolkit")
	return nil
}

func (tk *fakeToolkit) record(step string) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	tk.teardown = append(tk.teardown, step)
}

// push delivers one object to the storage handler the way the listener
// would.
func (tk *fakeToolkit) push(sopUID, modality, transferSyntax string) uint16 {
	tk.mu.Lock()
	handler := tk.handler
	tk.mu.Unlock()
	require.NotNil(tk.t, handler, "no storage listener")

	return handler.HandleStore(context.Background(), &services.StoreRequest{
		SOPClassUID:       types.RTImageStorage,
		SOPInstanceUID:    sopUID,
		TransferSyntaxUID: transferSyntax,
		Data:              encodeObject(tk.t, sopUID, modality),
		CallingAETitle:    "PACS",
	})
}

func (tk *fakeToolkit) counts() (associations, servers int) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.associations, tk.servers
}

type fakeListener struct {
	tk   *fakeToolkit
	port int
}

func (l *fakeListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: l.port}
}

func (l *fakeListener) Shutdown() error {
	l.tk.record("listener")
	return nil
}

type fakeAssociation struct {
	tk    *fakeToolkit
	alive atomic.Bool
}

func (a *fakeAssociation) Alive() bool {
	return a.alive.Load()
}

func (a *fakeAssociation) SendEcho(ctx context.Context, messageID uint16) (uint16, error) {
	a.tk.mu.Lock()
	a.tk.echoes++
	a.tk.mu.Unlock()
	return types.StatusSuccess, nil
}

func (a *fakeAssociation) SendFind(ctx context.Context, req FindRequest, fn func(FindResponse)) (FindResponse, error) {
	a.tk.mu.Lock()
	a.tk.finds++
	find := a.tk.find
	a.tk.mu.Unlock()
	if find == nil {
		final := FindResponse{Status: types.StatusSuccess}
		fn(final)
		return final, nil
	}
	return find(req, fn)
}

func (a *fakeAssociation) SendMove(ctx context.Context, req MoveRequest, fn func(MoveResponse)) (MoveResponse, error) {
	a.tk.mu.Lock()
	a.tk.moveIDs = append(a.tk.moveIDs, req.MessageID)
	move := a.tk.move
	a.tk.mu.Unlock()
	if move == nil {
		final := MoveResponse{Status: types.StatusSuccess}
		fn(final)
		return final, nil
	}
	return move(ctx, a.tk, a, req, fn)
}

func (a *fakeAssociation) Release() error {
	a.alive.Store(false)
	a.tk.record("association")
	return nil
}

func encodeObject(t *testing.T, sopUID, modality string) []byte {
	t.Helper()
	ds := dicom.NewDataset()
	ds.SetString(dicom.TagSOPClassUID, types.RTImageStorage)
	ds.SetString(dicom.TagSOPInstanceUID, sopUID)
	ds.SetString(dicom.TagModality, modality)
	data, err := dicom.EncodeDatasetWithTransferSyntax(ds, types.ExplicitVRLittleEndian)
	require.NoError(t, err)
	return data
}

func newTestArchive(t *testing.T) *archive.Archive {
	t.Helper()
	arch, err := archive.New(filepath.Join(t.TempDir(), "dicom"))
	require.NoError(t, err)
	return arch
}

func archiveObject(t *testing.T, arch *archive.Archive, sopUID, subPath, modality string) {
	t.Helper()
	_, err := arch.Store(sopUID, subPath, &archive.Object{
		SOPClassUID:       types.RTImageStorage,
		SOPInstanceUID:    sopUID,
		TransferSyntaxUID: types.ExplicitVRLittleEndian,
		Dataset:           encodeObject(t, sopUID, modality),
	}, false)
	require.NoError(t, err)
}

func archivedModality(t *testing.T, arch *archive.Archive, sopUID, subPath string) string {
	t.Helper()
	obj, err := arch.Load(sopUID, subPath)
	require.NoError(t, err)
	require.NotNil(t, obj)
	ds, err := dicom.ParseDatasetWithTransferSyntax(obj.Dataset, obj.TransferSyntaxUID)
	require.NoError(t, err)
	return ds.GetString(dicom.TagModality)
}

func newTestRetriever(t *testing.T, tk *fakeToolkit, arch *archive.Archive, opts ...Option) *Retriever {
	t.Helper()
	r := New(tk, arch, Config{
		Peer: Peer{
			Host:         "127.0.0.1",
			Port:         104,
			AETitle:      "PACS",
			LocalAETitle: "QA",
		},
		ListenPort: 11113,
		Timeout:    2 * time.Second,
		Settle:     250 * time.Millisecond,
		Modality:   DefaultModality,
	}, opts...)
	t.Cleanup(r.Close)
	return r
}

func kinds(events []Event) []string {
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Kind.String()
	}
	return names
}

var errRefused = errors.New("connection refused")
