package pdu

import (
	"bytes"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dicomerrors "github.com/caio-sobreiro/dicomfetch/errors"
	"github.com/caio-sobreiro/dicomfetch/types"
)

func TestWriteReadPDU(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, TypeReleaseRQ, make([]byte, 4)))
	assert.Equal(t, []byte{0x05, 0x00, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00}, buf.Bytes())

	pdu, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, byte(TypeReleaseRQ), pdu.Type)
	assert.Equal(t, uint32(4), pdu.Length)
}

func TestReadRejectsOversizedPDU(t *testing.T) {
	data := []byte{TypePDataTF, 0x00, 0xFF, 0xFF, 0xFF, 0xFF}
	_, err := Read(bytes.NewReader(data))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, dicomerrors.ErrInvalidPDU))
}

func TestWritePDataFragments(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 50)

	var buf bytes.Buffer
	require.NoError(t, WritePData(&buf, 3, 26, payload, false))

	var fragments []PDV
	for buf.Len() > 0 {
		pdu, err := Read(&buf)
		require.NoError(t, err)
		require.Equal(t, byte(TypePDataTF), pdu.Type)
		assert.LessOrEqual(t, pdu.Length, uint32(26))
		pdvs, err := ParsePData(pdu.Data)
		require.NoError(t, err)
		fragments = append(fragments, pdvs...)
	}

	require.Len(t, fragments, 3)
	var joined []byte
	for i, pdv := range fragments {
		assert.Equal(t, byte(3), pdv.ContextID)
		assert.False(t, pdv.Command)
		assert.Equal(t, i == len(fragments)-1, pdv.Last)
		joined = append(joined, pdv.Data...)
	}
	assert.Equal(t, payload, joined)
}

func TestWritePDataEmptyCommand(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePData(&buf, 1, 0, nil, true))

	pdu, err := Read(&buf)
	require.NoError(t, err)
	pdvs, err := ParsePData(pdu.Data)
	require.NoError(t, err)
	require.Len(t, pdvs, 1)
	assert.True(t, pdvs[0].Command)
	assert.True(t, pdvs[0].Last)
}

func TestParsePDataMalformed(t *testing.T) {
	_, err := ParsePData([]byte{0x00, 0x00, 0x00, 0x10, 0x01, 0x03})
	assert.Error(t, err)
}

func TestParseAbort(t *testing.T) {
	err := ParseAbort([]byte{0x00, 0x00, 0x02, 0x06})
	var abortErr *dicomerrors.AbortError
	require.True(t, stderrors.As(err, &abortErr))
	assert.Equal(t, byte(0x02), abortErr.Source)
	assert.Equal(t, byte(0x06), abortErr.Reason)
}

func TestAssociateRQRoundTrip(t *testing.T) {
	rq := &AssociateRQ{
		CalledAETitle:  "PACS",
		CallingAETitle: "DICOMFETCH",
		MaxPDULength:   32768,
		PresentationContexts: []*PresentationContext{
			{ID: 1, AbstractSyntax: types.VerificationSOPClass, TransferSyntaxes: []string{types.ImplicitVRLittleEndian}},
			{ID: 3, AbstractSyntax: types.StudyRootQueryRetrieveInformationModelMove, TransferSyntaxes: types.GetCommonTransferSyntaxes()},
		},
	}

	decoded, err := DecodeAssociateRQ(rq.Encode())
	require.NoError(t, err)
	assert.Equal(t, "PACS", decoded.CalledAETitle)
	assert.Equal(t, "DICOMFETCH", decoded.CallingAETitle)
	assert.Equal(t, uint32(32768), decoded.MaxPDULength)
	assert.Equal(t, ImplementationClassUID, decoded.ImplementationClassUID)
	assert.Equal(t, ImplementationVersionName, decoded.ImplementationVersionName)
	require.Len(t, decoded.PresentationContexts, 2)
	assert.Equal(t, types.StudyRootQueryRetrieveInformationModelMove, decoded.PresentationContexts[1].AbstractSyntax)
	assert.Equal(t, types.GetCommonTransferSyntaxes(), decoded.PresentationContexts[1].TransferSyntaxes)
}

func TestAssociateACSkipsRejectedContexts(t *testing.T) {
	ac := &AssociateAC{
		CalledAETitle:  "PACS",
		CallingAETitle: "DICOMFETCH",
		PresentationContexts: []*PresentationContext{
			{ID: 3, Result: ResultAcceptance, TransferSyntax: types.ExplicitVRLittleEndian},
			{ID: 1, Result: ResultAbstractSyntaxRejected},
			{ID: 5, Result: ResultAcceptance, TransferSyntax: types.ImplicitVRLittleEndian},
		},
	}

	decoded, err := DecodeAssociateAC(ac.Encode())
	require.NoError(t, err)
	require.Len(t, decoded.PresentationContexts, 2)
	assert.Equal(t, byte(3), decoded.PresentationContexts[0].ID)
	assert.Equal(t, types.ExplicitVRLittleEndian, decoded.PresentationContexts[0].TransferSyntax)
	assert.True(t, decoded.PresentationContexts[1].Accepted())
	assert.Equal(t, DefaultMaxPDULength, decoded.MaxPDULength)
}

func TestAssociateRJ(t *testing.T) {
	rj := &AssociateRJ{Result: 0x01, Source: 0x01, Reason: 0x07}
	decoded, err := DecodeAssociateRJ(rj.Encode())
	require.NoError(t, err)
	assert.Equal(t, rj, decoded)

	err = decoded.Err()
	assert.True(t, stderrors.Is(err, dicomerrors.ErrAssociationRejected))
	assert.Equal(t, dicomerrors.RejectReasonCalledAETitleNotRecognized, decoded.Err().Reason)
}

func TestDecodeAssociateRQTooShort(t *testing.T) {
	_, err := DecodeAssociateRQ(make([]byte, 10))
	assert.True(t, stderrors.Is(err, dicomerrors.ErrInvalidPDU))
}
