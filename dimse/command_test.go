package dimse

import (
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dicomerrors "github.com/caio-sobreiro/dicomfetch/errors"
	"github.com/caio-sobreiro/dicomfetch/types"
)

func counter(v uint16) *uint16 { return &v }

func TestEncodeDecodeMoveRequest(t *testing.T) {
	req := &types.Message{
		CommandField:        types.CMoveRQ,
		MessageID:           7,
		AffectedSOPClassUID: types.StudyRootQueryRetrieveInformationModelMove,
		MoveDestination:     "LOCAL_AE",
		CommandDataSetType:  types.DataSetPresent,
	}

	data, err := EncodeCommand(req)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(data)-12), binary.LittleEndian.Uint32(data[8:12]), "group length")

	got, err := DecodeCommand(data)
	require.NoError(t, err)
	assert.Equal(t, types.CMoveRQ, got.CommandField)
	assert.Equal(t, uint16(7), got.MessageID)
	assert.Equal(t, "LOCAL_AE", got.MoveDestination)
	assert.Equal(t, PriorityMedium, got.Priority)
	assert.Equal(t, types.StudyRootQueryRetrieveInformationModelMove, got.AffectedSOPClassUID)
	assert.True(t, got.HasDataSet())
}

func TestEncodeDecodeMoveResponseCounters(t *testing.T) {
	rsp := &types.Message{
		CommandField:                   types.CMoveRSP,
		MessageIDBeingRespondedTo:      3,
		Status:                         types.StatusPending,
		CommandDataSetType:             types.NoDataSetPresent,
		NumberOfRemainingSuboperations: counter(2),
		NumberOfCompletedSuboperations: counter(1),
		NumberOfFailedSuboperations:    counter(0),
		NumberOfWarningSuboperations:   counter(0),
	}

	data, err := EncodeCommand(rsp)
	require.NoError(t, err)
	got, err := DecodeCommand(data)
	require.NoError(t, err)

	assert.Equal(t, uint16(3), got.MessageIDBeingRespondedTo)
	assert.Equal(t, types.StatusPending, got.Status)
	require.NotNil(t, got.NumberOfRemainingSuboperations)
	assert.Equal(t, uint16(2), *got.NumberOfRemainingSuboperations)
	assert.Equal(t, uint16(1), *got.NumberOfCompletedSuboperations)
	assert.Equal(t, uint16(0), *got.NumberOfFailedSuboperations)
	assert.False(t, got.HasDataSet())
}

func TestEncodeSuccessResponseCarriesStatus(t *testing.T) {
	data, err := EncodeCommand(&types.Message{
		CommandField:              types.CEchoRSP,
		MessageIDBeingRespondedTo: 1,
		CommandDataSetType:        types.NoDataSetPresent,
	})
	require.NoError(t, err)

	got, err := DecodeCommand(data)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, got.Status)
	assert.Equal(t, uint16(1), got.MessageIDBeingRespondedTo)
}

func TestEncodeStoreRequestOriginator(t *testing.T) {
	data, err := EncodeCommand(&types.Message{
		CommandField:            types.CStoreRQ,
		MessageID:               9,
		AffectedSOPClassUID:     types.RTImageStorage,
		AffectedSOPInstanceUID:  "1.2.3.4.5",
		CommandDataSetType:      types.DataSetPresent,
		MoveOriginatorAETitle:   "SCU",
		MoveOriginatorMessageID: 4,
	})
	require.NoError(t, err)

	got, err := DecodeCommand(data)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4.5", got.AffectedSOPInstanceUID, "odd-length UID padding is stripped")
	assert.Equal(t, "SCU", got.MoveOriginatorAETitle)
	assert.Equal(t, uint16(4), got.MoveOriginatorMessageID)
}

func TestEncodeCancelRequest(t *testing.T) {
	data, err := EncodeCommand(&types.Message{
		CommandField:              types.CCancelRQ,
		MessageIDBeingRespondedTo: 12,
		CommandDataSetType:        types.NoDataSetPresent,
	})
	require.NoError(t, err)

	got, err := DecodeCommand(data)
	require.NoError(t, err)
	assert.Equal(t, types.CCancelRQ, got.CommandField)
	assert.Equal(t, uint16(12), got.MessageIDBeingRespondedTo)
}

func TestEncodeTruncatesErrorComment(t *testing.T) {
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'x'
	}
	data, err := EncodeCommand(&types.Message{
		CommandField:       types.CStoreRSP,
		Status:             types.StatusStoreIOError,
		ErrorComment:       string(long),
		CommandDataSetType: types.NoDataSetPresent,
	})
	require.NoError(t, err)

	got, err := DecodeCommand(data)
	require.NoError(t, err)
	assert.Len(t, got.ErrorComment, 64)
}

func TestEncodeCommandErrors(t *testing.T) {
	_, err := EncodeCommand(nil)
	assert.True(t, errors.Is(err, dicomerrors.ErrInvalidMessage))

	_, err = EncodeCommand(&types.Message{})
	assert.True(t, errors.Is(err, dicomerrors.ErrInvalidMessage))
}

func TestDecodeCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte{0x00, 0x00, 0x00}},
		{"overrun", AppendImplicitElement(nil, 0x0000, elemCommandField, []byte{0x30, 0x00})[:9]},
		{"missing command field", AppendImplicitElement(nil, 0x0000, elemMessageID, uint16Value(1))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCommand(tt.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, dicomerrors.ErrInvalidMessage))
		})
	}
}

func TestDecodeIgnoresOtherGroups(t *testing.T) {
	data := AppendImplicitElement(nil, 0x0000, elemCommandField, uint16Value(types.CEchoRQ))
	data = AppendImplicitElement(data, 0x0008, 0x0016, []byte("1.2"))
	data = AppendImplicitElement(data, 0x0000, elemMessageID, uint16Value(5))

	got, err := DecodeCommand(data)
	require.NoError(t, err)
	assert.Equal(t, types.CEchoRQ, got.CommandField)
	assert.Equal(t, uint16(5), got.MessageID)
}
