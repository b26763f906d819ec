// Package errors provides DICOM-specific error types and the retrieval
// error taxonomy. Every retrieval error carries the DIMSE status code that
// is reported to callers in place of the error itself.
package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// Common errors
var (
	ErrConnectionClosed    = stderrors.New("dicom: connection closed")
	ErrAssociationRejected = stderrors.New("dicom: association rejected")
	ErrInvalidPDU          = stderrors.New("dicom: invalid PDU")
	ErrNoPresentationCtx   = stderrors.New("dicom: no suitable presentation context")
	ErrInvalidMessage      = stderrors.New("dicom: invalid DIMSE message")
	ErrOperationCanceled   = stderrors.New("dicom: operation canceled")
)

// Status codes carried by the taxonomy. They mirror the values in the types
// package, which this package cannot import.
const (
	statusFailure       uint16 = 0xC000
	statusConnectFailed uint16 = 0xC0FF
	statusStoreIOError  uint16 = 0xC511
	statusStoreSave     uint16 = 0xC512
)

// AssociationError represents an association-level error
type AssociationError struct {
	Reason AssociationRejectReason
	Source AssociationRejectSource
	Msg    string
}

func (e *AssociationError) Error() string {
	return fmt.Sprintf("association rejected: %s (source: %s, reason: %s)",
		e.Msg, e.Source, e.Reason)
}

// Is lets errors.Is match ErrAssociationRejected.
func (e *AssociationError) Is(target error) bool {
	return target == ErrAssociationRejected
}

// AssociationRejectReason represents why an association was rejected
type AssociationRejectReason byte

const (
	RejectReasonUnknown                        AssociationRejectReason = 0x00
	RejectReasonNoReasonGiven                  AssociationRejectReason = 0x01
	RejectReasonApplicationContextNotSupported AssociationRejectReason = 0x02
	RejectReasonCallingAETitleNotRecognized    AssociationRejectReason = 0x03
	RejectReasonCalledAETitleNotRecognized     AssociationRejectReason = 0x07
)

func (r AssociationRejectReason) String() string {
	switch r {
	case RejectReasonNoReasonGiven:
		return "no-reason-given"
	case RejectReasonApplicationContextNotSupported:
		return "application-context-not-supported"
	case RejectReasonCallingAETitleNotRecognized:
		return "calling-ae-title-not-recognized"
	case RejectReasonCalledAETitleNotRecognized:
		return "called-ae-title-not-recognized"
	default:
		return "unknown"
	}
}

// AssociationRejectSource represents who rejected the association
type AssociationRejectSource byte

const (
	RejectSourceUnknown         AssociationRejectSource = 0x00
	RejectSourceServiceUser     AssociationRejectSource = 0x01
	RejectSourceServiceProvider AssociationRejectSource = 0x02
)

func (s AssociationRejectSource) String() string {
	switch s {
	case RejectSourceServiceUser:
		return "service-user"
	case RejectSourceServiceProvider:
		return "service-provider"
	default:
		return "unknown"
	}
}

// NewAssociationError creates a new association error
func NewAssociationError(source AssociationRejectSource, reason AssociationRejectReason, msg string) *AssociationError {
	return &AssociationError{
		Source: source,
		Reason: reason,
		Msg:    msg,
	}
}

// AbortError represents an A-ABORT PDU received
type AbortError struct {
	Source byte
	Reason byte
}

func (e *AbortError) Error() string {
	sourceStr := "unknown"
	if e.Source == 0x00 {
		sourceStr = "service-user"
	} else if e.Source == 0x02 {
		sourceStr = "service-provider"
	}

	return fmt.Sprintf("connection aborted by %s (reason: 0x%02X)", sourceStr, e.Reason)
}

// Is lets errors.Is match ErrConnectionClosed.
func (e *AbortError) Is(target error) bool {
	return target == ErrConnectionClosed
}

// NewAbortError creates a new abort error
func NewAbortError(source, reason byte) *AbortError {
	return &AbortError{
		Source: source,
		Reason: reason,
	}
}

// ConnectionError means no association could be established with the peer.
type ConnectionError struct {
	Peer   string
	Status uint16
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed (status: 0x%04X): %v", e.Peer, e.Status, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NewConnectionError creates a connection error with status 0xC0FF.
func NewConnectionError(peer string, err error) *ConnectionError {
	return &ConnectionError{Peer: peer, Status: statusConnectFailed, Err: err}
}

// ProtocolError represents a DIMSE operation that finished with a status
// the caller did not expect.
type ProtocolError struct {
	Operation string
	Status    uint16
	Msg       string
	Err       error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("DIMSE %s failed: %s (status: 0x%04X): %v", e.Operation, e.Msg, e.Status, e.Err)
	}
	return fmt.Sprintf("DIMSE %s failed: %s (status: 0x%04X)", e.Operation, e.Msg, e.Status)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a new protocol error
func NewProtocolError(operation string, status uint16, msg string) *ProtocolError {
	return &ProtocolError{
		Operation: operation,
		Status:    status,
		Msg:       msg,
	}
}

// IsWarning returns true if the DIMSE status indicates a warning
func (e *ProtocolError) IsWarning() bool {
	return (e.Status&0xFF00) == 0x0100 || (e.Status&0xF000) == 0xB000
}

// IsFailure returns true if the DIMSE status indicates failure
func (e *ProtocolError) IsFailure() bool {
	return (e.Status&0xF000) == 0xC000 || (e.Status&0xF000) == 0xA000
}

// StorageError means one object could not be persisted to the archive.
type StorageError struct {
	ObjectID string
	Path     string
	Status   uint16
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storing %s at %s failed (status: 0x%04X): %v", e.ObjectID, e.Path, e.Status, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError classifies err: filesystem failures get 0xC511, anything
// else 0xC512.
func NewStorageError(objectID, path string, err error) *StorageError {
	status := statusStoreSave
	if IsIOError(err) {
		status = statusStoreIOError
	}
	return &StorageError{ObjectID: objectID, Path: path, Status: status, Err: err}
}

// ConfigurationError means the request or the local setup is unusable:
// missing identifiers, or a listener port that cannot be bound.
type ConfigurationError struct {
	Field  string
	Status uint16
	Msg    string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error on %s: %s (status: 0x%04X): %v", e.Field, e.Msg, e.Status, e.Err)
	}
	return fmt.Sprintf("configuration error on %s: %s (status: 0x%04X)", e.Field, e.Msg, e.Status)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates a configuration error with the given status.
func NewConfigurationError(field string, status uint16, msg string, err error) *ConfigurationError {
	return &ConfigurationError{Field: field, Status: status, Msg: msg, Err: err}
}

// TimeoutError represents a timeout error
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s exceeded %s", e.Operation, e.Duration)
}

func (e *TimeoutError) Timeout() bool {
	return true
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		Operation: operation,
		Duration:  duration,
	}
}

// StatusOf extracts the DIMSE status carried by err. The boolean is false
// when no error in the chain carries one.
func StatusOf(err error) (uint16, bool) {
	if err == nil {
		return 0x0000, true
	}
	var connErr *ConnectionError
	if stderrors.As(err, &connErr) {
		return connErr.Status, true
	}
	var protoErr *ProtocolError
	if stderrors.As(err, &protoErr) {
		return protoErr.Status, true
	}
	var storeErr *StorageError
	if stderrors.As(err, &storeErr) {
		return storeErr.Status, true
	}
	var cfgErr *ConfigurationError
	if stderrors.As(err, &cfgErr) {
		return cfgErr.Status, true
	}
	return statusFailure, false
}

// IsIOError reports whether err originates from the filesystem or the
// operating system rather than from encoding.
func IsIOError(err error) bool {
	var pathErr *fs.PathError
	if stderrors.As(err, &pathErr) {
		return true
	}
	var linkErr *os.LinkError
	if stderrors.As(err, &linkErr) {
		return true
	}
	var sysErr *os.SyscallError
	return stderrors.As(err, &sysErr)
}
