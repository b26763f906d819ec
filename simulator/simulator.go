// Package simulator is an in-process DICOM archive. It answers C-ECHO,
// C-FIND and C-MOVE, pushing matched instances to registered move
// destinations with C-STORE, and is used by tests and cmd/sample_server.
package simulator

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/caio-sobreiro/dicomfetch/client"
	"github.com/caio-sobreiro/dicomfetch/dicom"
	"github.com/caio-sobreiro/dicomfetch/server"
	"github.com/caio-sobreiro/dicomfetch/services"
	"github.com/caio-sobreiro/dicomfetch/types"
)

// Instance is one object held by the simulator.
type Instance struct {
	SOPClassUID    string
	SOPInstanceUID string
	PatientID      string
	StudyUID       string
	SeriesUID      string
	Modality       string
	TransferSyntax string
	Dataset        *dicom.Dataset
	// Data is Dataset encoded in TransferSyntax.
	Data []byte
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithLogger overrides the logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Simulator) {
		s.logger = logger
	}
}

// WithStoreDelay pauses before every C-STORE sub-operation.
func WithStoreDelay(delay time.Duration) Option {
	return func(s *Simulator) {
		s.storeDelay = delay
	}
}

// WithMoveFailure ends every C-MOVE with status once its sub-operations ran.
func WithMoveFailure(status uint16) Option {
	return func(s *Simulator) {
		s.moveFailure = status
	}
}

// Simulator is a minimal archive SCP.
type Simulator struct {
	aeTitle     string
	logger      *log.Entry
	storeDelay  time.Duration
	moveFailure uint16

	mu           sync.RWMutex
	instances    map[string]*Instance
	destinations map[string]string

	listener *server.Listener
}

var (
	_ services.Finder = (*Simulator)(nil)
	_ services.Mover  = (*Simulator)(nil)
)

// New creates an empty simulator answering as aeTitle.
func New(aeTitle string, opts ...Option) *Simulator {
	s := &Simulator{
		aeTitle:      aeTitle,
		logger:       log.WithField("component", "simulator"),
		instances:    make(map[string]*Instance),
		destinations: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("ae_title", aeTitle)
	return s
}

// AETitle returns the AE title the simulator answers as.
func (s *Simulator) AETitle() string {
	return s.aeTitle
}

// AddDestination registers where C-MOVE pushes objects for aeTitle.
func (s *Simulator) AddDestination(aeTitle, address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destinations[aeTitle] = address
}

// Add stores an instance given its encoded dataset.
func (s *Simulator) Add(data []byte, transferSyntax string) (*Instance, error) {
	ds, err := dicom.ParseDatasetWithTransferSyntax(data, transferSyntax)
	if err != nil {
		return nil, errors.Wrap(err, "parsing dataset")
	}
	instance := &Instance{
		SOPClassUID:    ds.GetString(dicom.TagSOPClassUID),
		SOPInstanceUID: ds.GetString(dicom.TagSOPInstanceUID),
		PatientID:      ds.GetString(dicom.TagPatientID),
		StudyUID:       ds.GetString(dicom.TagStudyInstanceUID),
		SeriesUID:      ds.GetString(dicom.TagSeriesInstanceUID),
		Modality:       ds.GetString(dicom.TagModality),
		TransferSyntax: transferSyntax,
		Dataset:        ds,
		Data:           data,
	}
	if instance.SOPClassUID == "" || instance.SOPInstanceUID == "" {
		return nil, errors.New("dataset has no SOP class or instance UID")
	}

	s.mu.Lock()
	s.instances[instance.SOPInstanceUID] = instance
	s.mu.Unlock()

	s.logger.WithFields(log.Fields{
		"sop_class":       instance.SOPClassUID,
		"sop_instance":    instance.SOPInstanceUID,
		"study_uid":       instance.StudyUID,
		"series_uid":      instance.SeriesUID,
		"transfer_syntax": transferSyntax,
		"size_bytes":      len(data),
	}).Debug("Loaded DICOM instance")
	return instance, nil
}

// LoadFile adds a Part 10 file.
func (s *Simulator) LoadFile(name string) (*Instance, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	meta, data, err := dicom.ReadPart10(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", name)
	}
	return s.Add(data, meta.TransferSyntaxUID)
}

// LoadDir adds every Part 10 file below dir and returns how many were
// loaded. Files that are not DICOM are skipped.
func (s *Simulator) LoadDir(dir string) (int, error) {
	loaded := 0
	err := filepath.WalkDir(dir, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, err := s.LoadFile(name); err != nil {
			s.logger.WithError(err).WithField("file", name).Debug("Skipping file")
			return nil
		}
		loaded++
		return nil
	})
	return loaded, err
}

// Generate adds a synthetic RT image.
func (s *Simulator) Generate(patientID, studyUID, seriesUID, sopUID string) (*Instance, error) {
	ds := dicom.NewDataset()
	ds.SetString(dicom.TagSOPClassUID, types.RTImageStorage)
	ds.SetString(dicom.TagSOPInstanceUID, sopUID)
	ds.SetString(dicom.TagContentDate, time.Now().Format("20060102"))
	ds.SetString(dicom.TagContentTime, "120000")
	ds.SetString(dicom.TagModality, "RTIMAGE")
	ds.SetString(dicom.TagPatientName, "TEST^PATIENT")
	ds.SetString(dicom.TagPatientID, patientID)
	ds.SetString(dicom.TagStudyInstanceUID, studyUID)
	ds.SetString(dicom.TagSeriesInstanceUID, seriesUID)
	ds.SetString(dicom.TagInstanceNumber, "1")
	ds.SetString(dicom.TagRTImageLabel, "MV")

	data, err := dicom.EncodeDatasetWithTransferSyntax(ds, types.ImplicitVRLittleEndian)
	if err != nil {
		return nil, err
	}
	return s.Add(data, types.ImplicitVRLittleEndian)
}

// Len returns the number of instances held.
func (s *Simulator) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// Handler returns the service registry answering C-ECHO, C-FIND and C-MOVE.
func (s *Simulator) Handler() *services.Registry {
	registry := services.NewRegistry()
	registry.RegisterHandler(types.CEchoRQ, services.NewEchoService())
	registry.RegisterHandler(types.CFindRQ, services.NewFindService(s))
	registry.RegisterHandler(types.CMoveRQ, services.NewMoveService(s))
	return registry
}

// Start serves on address in the background.
func (s *Simulator) Start(address string) error {
	listener, err := server.Start(address, s.aeTitle, s.Handler(), server.WithLogger(s.logger))
	if err != nil {
		return err
	}
	s.listener = listener
	s.logger.WithField("addr", listener.Addr().String()).Info("Simulator listening")
	return nil
}

// Addr returns the address Start bound.
func (s *Simulator) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the listener started by Start.
func (s *Simulator) Shutdown() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Shutdown()
}

// Find matches identifier at its query level and returns one dataset per
// distinct entity with the requested keys filled in.
func (s *Simulator) Find(ctx context.Context, model string, identifier *dicom.Dataset) ([]*dicom.Dataset, error) {
	level := types.QueryLevel(identifier.GetString(dicom.TagQueryRetrieveLevel))
	if !level.Valid() {
		return nil, errors.Errorf("invalid query level %q", level)
	}

	seen := make(map[string]bool)
	var results []*dicom.Dataset
	for _, instance := range s.match(identifier) {
		key := instance.keyAt(level)
		if seen[key] {
			continue
		}
		seen[key] = true

		result := dicom.NewDataset()
		for _, tag := range identifier.Tags() {
			if element, ok := instance.Dataset.GetElement(tag); ok {
				result.AddElement(tag, element.VR, element.Value)
				continue
			}
			requested, _ := identifier.GetElement(tag)
			result.AddElement(tag, requested.VR, "")
		}
		result.SetString(dicom.TagQueryRetrieveLevel, string(level))
		result.SetString(dicom.TagRetrieveAETitle, s.aeTitle)
		results = append(results, result)
	}
	s.logger.WithFields(log.Fields{
		"level":   level,
		"matches": len(results),
	}).Debug("C-FIND matched")
	return results, nil
}

// Move pushes every matching instance to the destination registered for
// req.Destination.
func (s *Simulator) Move(ctx context.Context, req *services.MoveRequest, report func(services.MoveProgress)) (services.MoveProgress, uint16, error) {
	var progress services.MoveProgress

	s.mu.RLock()
	address, ok := s.destinations[req.Destination]
	s.mu.RUnlock()
	if !ok {
		s.logger.WithField("destination", req.Destination).Warn("Unknown move destination")
		return progress, types.StatusMoveDestinationUnknown, nil
	}

	matches := s.match(req.Identifier)
	if len(matches) == 0 {
		return progress, s.moveFailure, nil
	}

	assoc, err := client.Connect(ctx, address, client.Config{
		CallingAETitle:            s.aeTitle,
		CalledAETitle:             req.Destination,
		AbstractSyntaxes:          sopClasses(matches),
		PreferredTransferSyntaxes: transferSyntaxList(matches[0].TransferSyntax),
		Logger:                    s.logger,
	})
	if err != nil {
		s.logger.WithError(err).WithField("destination", address).Warn("Failed to reach move destination")
		progress.Failed = uint16(len(matches))
		return progress, types.StatusMoveOutOfResources, nil
	}
	defer assoc.Close()

	for i, instance := range matches {
		progress.Remaining = uint16(len(matches) - i)
		report(progress)

		if s.storeDelay > 0 {
			select {
			case <-time.After(s.storeDelay):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			return progress, types.StatusCancel, nil
		}

		if err := s.store(ctx, assoc, instance, req.MessageID, req.CallingAETitle); err != nil {
			s.logger.WithError(err).WithField("sop_instance", instance.SOPInstanceUID).Warn("C-STORE sub-operation failed")
			progress.Failed++
			continue
		}
		progress.Completed++
	}
	progress.Remaining = 0
	return progress, s.moveFailure, nil
}

func (s *Simulator) store(ctx context.Context, assoc *client.Association, instance *Instance, moveID uint16, originator string) error {
	ts, err := assoc.TransferSyntaxFor(instance.SOPClassUID)
	if err != nil {
		return err
	}
	data := instance.Data
	if ts != instance.TransferSyntax {
		if data, err = dicom.EncodeDatasetWithTransferSyntax(instance.Dataset, ts); err != nil {
			return errors.Wrapf(err, "transcoding to %s", ts)
		}
	}

	rsp, err := assoc.SendCStore(ctx, &client.CStoreRequest{
		SOPClassUID:             instance.SOPClassUID,
		SOPInstanceUID:          instance.SOPInstanceUID,
		Data:                    data,
		MessageID:               moveID,
		MoveOriginatorAETitle:   originator,
		MoveOriginatorMessageID: moveID,
	})
	if err != nil {
		return err
	}
	if rsp.Status != types.StatusSuccess {
		return errors.Errorf("C-STORE returned status %s", types.StatusString(rsp.Status))
	}
	return nil
}

// match returns the instances matching every key of identifier, sorted by
// SOP instance UID.
func (s *Simulator) match(identifier *dicom.Dataset) []*Instance {
	keys := map[dicom.Tag]func(*Instance) string{
		dicom.TagPatientID:         func(i *Instance) string { return i.PatientID },
		dicom.TagStudyInstanceUID:  func(i *Instance) string { return i.StudyUID },
		dicom.TagSeriesInstanceUID: func(i *Instance) string { return i.SeriesUID },
		dicom.TagSOPInstanceUID:    func(i *Instance) string { return i.SOPInstanceUID },
		dicom.TagModality:          func(i *Instance) string { return i.Modality },
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*Instance
	for _, instance := range s.instances {
		ok := true
		for tag, value := range keys {
			if !matchValue(identifier.GetString(tag), value(instance)) {
				ok = false
				break
			}
		}
		if ok {
			matches = append(matches, instance)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].SOPInstanceUID < matches[j].SOPInstanceUID
	})
	return matches
}

func (i *Instance) keyAt(level types.QueryLevel) string {
	switch level {
	case types.QueryLevelPatient:
		return i.PatientID
	case types.QueryLevelStudy:
		return i.StudyUID
	case types.QueryLevelSeries:
		return i.SeriesUID
	}
	return i.SOPInstanceUID
}

// matchValue applies DICOM single value and wildcard matching; an empty
// key matches everything.
func matchValue(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if ok, err := path.Match(pattern, value); err == nil && ok {
		return true
	}
	return pattern == value
}

func sopClasses(instances []*Instance) []string {
	seen := make(map[string]bool)
	var classes []string
	for _, instance := range instances {
		if !seen[instance.SOPClassUID] {
			seen[instance.SOPClassUID] = true
			classes = append(classes, instance.SOPClassUID)
		}
	}
	return classes
}

// transferSyntaxList proposes the native syntax first, then the
// uncompressed ones the simulator can transcode to.
func transferSyntaxList(native string) []string {
	syntaxes := []string{native}
	for _, ts := range []string{types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian} {
		if ts != native {
			syntaxes = append(syntaxes, ts)
		}
	}
	return syntaxes
}
