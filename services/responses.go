package services

import (
	"github.com/caio-sobreiro/dicomfetch/types"
)

// ResponseBuilder creates DIMSE responses that echo the identifying fields
// of a request.
type ResponseBuilder struct {
	request *types.Message
}

// NewResponseBuilder creates a new response builder for the given request message.
func NewResponseBuilder(request *types.Message) *ResponseBuilder {
	return &ResponseBuilder{request: request}
}

// CEchoResponse creates a C-ECHO-RSP message.
func (b *ResponseBuilder) CEchoResponse(status uint16) *types.Message {
	return &types.Message{
		CommandField:              types.CEchoRSP,
		MessageIDBeingRespondedTo: b.request.MessageID,
		AffectedSOPClassUID:       types.VerificationSOPClass,
		CommandDataSetType:        types.NoDataSetPresent,
		Status:                    status,
	}
}

// CFindResponse creates a C-FIND-RSP message. Pending responses carry a
// matching identifier, the final one does not.
func (b *ResponseBuilder) CFindResponse(status uint16, hasDataset bool) *types.Message {
	datasetType := types.NoDataSetPresent
	if hasDataset {
		datasetType = types.DataSetPresent
	}

	return &types.Message{
		CommandField:              types.CFindRSP,
		MessageIDBeingRespondedTo: b.request.MessageID,
		AffectedSOPClassUID:       b.request.AffectedSOPClassUID,
		CommandDataSetType:        datasetType,
		Status:                    status,
	}
}

// CMoveResponse creates a C-MOVE-RSP message with sub-operation counts.
// Nil counters are omitted from the command.
func (b *ResponseBuilder) CMoveResponse(status uint16, completed, failed, warning, remaining *uint16) *types.Message {
	return &types.Message{
		CommandField:                   types.CMoveRSP,
		MessageIDBeingRespondedTo:      b.request.MessageID,
		AffectedSOPClassUID:            b.request.AffectedSOPClassUID,
		CommandDataSetType:             types.NoDataSetPresent,
		Status:                         status,
		NumberOfCompletedSuboperations: completed,
		NumberOfFailedSuboperations:    failed,
		NumberOfWarningSuboperations:   warning,
		NumberOfRemainingSuboperations: remaining,
	}
}

// CStoreResponse creates a C-STORE-RSP message.
func (b *ResponseBuilder) CStoreResponse(status uint16) *types.Message {
	return &types.Message{
		CommandField:              types.CStoreRSP,
		MessageIDBeingRespondedTo: b.request.MessageID,
		AffectedSOPClassUID:       b.request.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    b.request.AffectedSOPInstanceUID,
		CommandDataSetType:        types.NoDataSetPresent,
		Status:                    status,
	}
}

// NewCEchoResponse creates a C-ECHO-RSP message from a request.
func NewCEchoResponse(request *types.Message, status uint16) *types.Message {
	return NewResponseBuilder(request).CEchoResponse(status)
}

// NewCFindPendingResponse creates a pending C-FIND-RSP message (with dataset).
func NewCFindPendingResponse(request *types.Message) *types.Message {
	return NewResponseBuilder(request).CFindResponse(types.StatusPending, true)
}

// NewCFindSuccessResponse creates a final success C-FIND-RSP message (no dataset).
func NewCFindSuccessResponse(request *types.Message) *types.Message {
	return NewResponseBuilder(request).CFindResponse(types.StatusSuccess, false)
}

// NewCFindErrorResponse creates an error C-FIND-RSP message.
func NewCFindErrorResponse(request *types.Message, status uint16) *types.Message {
	return NewResponseBuilder(request).CFindResponse(status, false)
}

// NewCMovePendingResponse creates a pending C-MOVE-RSP message with sub-operation counts.
func NewCMovePendingResponse(request *types.Message, progress MoveProgress) *types.Message {
	return NewResponseBuilder(request).CMoveResponse(types.StatusPending,
		&progress.Completed, &progress.Failed, &progress.Warning, &progress.Remaining)
}

// NewCMoveFinalResponse creates the last C-MOVE-RSP of an operation. The
// status is success unless some sub-operation failed or warned.
func NewCMoveFinalResponse(request *types.Message, progress MoveProgress) *types.Message {
	status := types.StatusSuccess
	if progress.Failed > 0 || progress.Warning > 0 {
		status = types.StatusWarningSubOps
	}
	remaining := uint16(0)
	return NewResponseBuilder(request).CMoveResponse(status,
		&progress.Completed, &progress.Failed, &progress.Warning, &remaining)
}

// NewCMoveErrorResponse creates an error C-MOVE-RSP message.
func NewCMoveErrorResponse(request *types.Message, status uint16) *types.Message {
	return NewResponseBuilder(request).CMoveResponse(status, nil, nil, nil, nil)
}

// NewCStoreResponse creates a C-STORE-RSP message.
func NewCStoreResponse(request *types.Message, status uint16) *types.Message {
	return NewResponseBuilder(request).CStoreResponse(status)
}
