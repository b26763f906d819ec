package types

import "fmt"

// DIMSE Command types
const (
	CStoreRQ  uint16 = 0x0001
	CStoreRSP uint16 = 0x8001
	CFindRQ   uint16 = 0x0020
	CFindRSP  uint16 = 0x8020
	CMoveRQ   uint16 = 0x0021
	CMoveRSP  uint16 = 0x8021
	CEchoRQ   uint16 = 0x0030
	CEchoRSP  uint16 = 0x8030
	CCancelRQ uint16 = 0x0FFF
)

// CommandDataSetType values (0000,0800)
const (
	DataSetPresent   uint16 = 0x0000
	NoDataSetPresent uint16 = 0x0101
)

// DIMSE status codes returned by peers.
const (
	StatusSuccess         uint16 = 0x0000
	StatusPending         uint16 = 0xFF00
	StatusPendingWarning  uint16 = 0xFF01
	StatusCancel          uint16 = 0xFE00
	StatusFailure         uint16 = 0xC000
	StatusWarningSubOps   uint16 = 0xB000
	StatusUnableToProcess uint16 = 0xC001
)

// Local status codes raised by the retrieval orchestrator. They live in the
// failure ranges of the services they belong to, so callers can treat them
// like any other DIMSE status.
const (
	// StatusConnectFailed signals that no association could be established.
	StatusConnectFailed uint16 = 0xC0FF
	// StatusFindMissingIdentifier signals a C-FIND without any identifying key.
	StatusFindMissingIdentifier uint16 = 0xC3F1
	// StatusMoveMissingIdentifier signals a C-MOVE without any identifying key.
	StatusMoveMissingIdentifier uint16 = 0xC5F1
	// StatusStoreIOError signals that a received object could not be written.
	StatusStoreIOError uint16 = 0xC511
	// StatusStoreSaveError signals any other failure while saving an object.
	StatusStoreSaveError uint16 = 0xC512
	// StatusListenerBusy signals that the storage listener port is unavailable.
	StatusListenerBusy uint16 = 0xC515
)

// C-MOVE refusals raised by a move SCP.
const (
	StatusMoveOutOfResources     uint16 = 0xA702
	StatusMoveDestinationUnknown uint16 = 0xA801
)

// Message represents a parsed DIMSE command
type Message struct {
	CommandField              uint16
	MessageID                 uint16
	AffectedSOPClassUID       string
	AffectedSOPInstanceUID    string
	RequestedSOPClassUID      string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16
	ErrorComment              string
	MessageIDBeingRespondedTo uint16
	MoveDestination           string // For C-MOVE-RQ: the AE title of the move destination
	MoveOriginatorAETitle     string // For C-STORE sub-operations of a C-MOVE
	MoveOriginatorMessageID   uint16
	TransferSyntaxUID         string // Negotiated transfer syntax for associated dataset

	// C-MOVE response counters
	NumberOfRemainingSuboperations *uint16
	NumberOfCompletedSuboperations *uint16
	NumberOfFailedSuboperations    *uint16
	NumberOfWarningSuboperations   *uint16
}

// IsResponse reports whether the command field has the response bit set.
func (m *Message) IsResponse() bool {
	return m.CommandField&0x8000 != 0
}

// HasDataSet reports whether a dataset follows the command.
func (m *Message) HasDataSet() bool {
	return m.CommandDataSetType != NoDataSetPresent
}

// ResponseCommandFor maps a DIMSE request command to its corresponding response command.
func ResponseCommandFor(request uint16) uint16 {
	switch request {
	case CStoreRQ:
		return CStoreRSP
	case CFindRQ:
		return CFindRSP
	case CMoveRQ:
		return CMoveRSP
	case CEchoRQ:
		return CEchoRSP
	default:
		return request | 0x8000
	}
}

// IsPendingStatus reports whether status keeps a multi-response operation open.
func IsPendingStatus(status uint16) bool {
	return status == StatusPending || status == StatusPendingWarning
}

// StatusString formats a status code the way logs and events print it.
func StatusString(status uint16) string {
	return fmt.Sprintf("0x%04X", status)
}
