package dimse

import (
	"io"

	"github.com/pkg/errors"

	dicomerrors "github.com/caio-sobreiro/dicomfetch/errors"
	"github.com/caio-sobreiro/dicomfetch/pdu"
	"github.com/caio-sobreiro/dicomfetch/types"
)

// Connection interface for sending/receiving DICOM data
type Connection interface {
	io.ReadWriter
}

// SendDIMSEMessage sends a DIMSE message with optional dataset
func SendDIMSEMessage(conn Connection, presContextID byte, maxPDULength uint32, commandData []byte, datasetData []byte) error {
	if err := SendPDataTF(conn, presContextID, maxPDULength, commandData, true); err != nil {
		return err
	}
	if len(datasetData) > 0 {
		if err := SendPDataTF(conn, presContextID, maxPDULength, datasetData, false); err != nil {
			return err
		}
	}
	return nil
}

// SendPDataTF sends data as one or more P-DATA-TF PDUs
func SendPDataTF(conn Connection, presContextID byte, maxPDULength uint32, data []byte, isCommand bool) error {
	return pdu.WritePData(conn, presContextID, maxPDULength, data, isCommand)
}

// ReceiveDIMSEMessage reads a complete DIMSE message (command and optional dataset).
// An A-ABORT from the peer is returned as *errors.AbortError and an
// A-RELEASE-RQ as errors.ErrConnectionClosed.
func ReceiveDIMSEMessage(conn Connection) (*types.Message, []byte, error) {
	msg, _, data, err := ReceiveDIMSEMessageWithContext(conn)
	return msg, data, err
}

// ReceiveDIMSEMessageWithContext is ReceiveDIMSEMessage that also returns
// the presentation context the command arrived on.
func ReceiveDIMSEMessageWithContext(conn Connection) (*types.Message, byte, []byte, error) {
	var (
		commandData []byte
		datasetData []byte
		currentMsg  *types.Message
		contextID   byte
		datasetDone bool
	)

	for {
		p, err := pdu.Read(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, 0, nil, errors.Wrap(dicomerrors.ErrConnectionClosed, err.Error())
			}
			return nil, 0, nil, errors.Wrap(err, "failed to read PDU")
		}

		switch p.Type {
		case pdu.TypePDataTF:
			pdvs, err := pdu.ParsePData(p.Data)
			if err != nil {
				return nil, 0, nil, err
			}
			for _, pdv := range pdvs {
				if pdv.Command {
					contextID = pdv.ContextID
					commandData = append(commandData, pdv.Data...)
					if pdv.Last {
						currentMsg, err = DecodeCommand(commandData)
						if err != nil {
							return nil, 0, nil, errors.Wrap(err, "failed to decode command")
						}
					}
					continue
				}
				datasetData = append(datasetData, pdv.Data...)
				if pdv.Last {
					datasetDone = true
				}
			}
		case pdu.TypeAbort:
			return nil, 0, nil, pdu.ParseAbort(p.Data)
		case pdu.TypeReleaseRQ:
			_ = pdu.WriteReleaseRP(conn)
			return nil, 0, nil, errors.Wrap(dicomerrors.ErrConnectionClosed, "peer requested release")
		default:
			return nil, 0, nil, errors.Wrapf(dicomerrors.ErrInvalidPDU, "unexpected PDU type: 0x%02x", p.Type)
		}

		if currentMsg != nil && (!currentMsg.HasDataSet() || datasetDone) {
			return currentMsg, contextID, datasetData, nil
		}
	}
}
