package pdu

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	dicomerrors "github.com/caio-sobreiro/dicomfetch/errors"
	"github.com/caio-sobreiro/dicomfetch/types"
)

// Item types of A-ASSOCIATE-RQ/AC variable fields
const (
	itemApplicationContext  = 0x10
	itemPresentationContext = 0x20
	itemPresentationResult  = 0x21
	itemAbstractSyntax      = 0x30
	itemTransferSyntax      = 0x40
	itemUserInformation     = 0x50
	itemMaxLength           = 0x51
	itemImplementationClass = 0x52
	itemImplementationVer   = 0x55

	associateFixedFieldsSize = 68
)

// Presentation context results
const (
	ResultAcceptance             byte = 0x00
	ResultUserRejection          byte = 0x01
	ResultNoReason               byte = 0x02
	ResultAbstractSyntaxRejected byte = 0x03
	ResultTransferSyntaxRejected byte = 0x04
)

const (
	// ImplementationClassUID is announced in user information.
	ImplementationClassUID = "1.2.826.0.1.3680043.10.1447.1"
	// ImplementationVersionName is announced in user information.
	ImplementationVersionName = "DICOMFETCH_1"
)

// PresentationContext represents a proposed or negotiated presentation context
type PresentationContext struct {
	ID               byte
	Result           byte
	AbstractSyntax   string
	TransferSyntax   string
	TransferSyntaxes []string
}

// Accepted reports whether the acceptor accepted the context.
func (pc *PresentationContext) Accepted() bool {
	return pc.Result == ResultAcceptance && pc.TransferSyntax != ""
}

// AssociateRQ is the decoded form of an A-ASSOCIATE-RQ.
type AssociateRQ struct {
	CalledAETitle             string
	CallingAETitle            string
	PresentationContexts      []*PresentationContext
	MaxPDULength              uint32
	ImplementationClassUID    string
	ImplementationVersionName string
}

// AssociateAC is the decoded form of an A-ASSOCIATE-AC.
type AssociateAC struct {
	CalledAETitle             string
	CallingAETitle            string
	PresentationContexts      []*PresentationContext
	MaxPDULength              uint32
	ImplementationClassUID    string
	ImplementationVersionName string
}

// AssociateRJ is the decoded form of an A-ASSOCIATE-RJ.
type AssociateRJ struct {
	Result byte
	Source byte
	Reason byte
}

// Err converts the rejection to an AssociationError.
func (rj *AssociateRJ) Err() *dicomerrors.AssociationError {
	return dicomerrors.NewAssociationError(
		dicomerrors.AssociationRejectSource(rj.Source),
		dicomerrors.AssociationRejectReason(rj.Reason),
		fmt.Sprintf("result %d", rj.Result),
	)
}

func normalizeUID(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}

func normalizeAETitle(raw []byte) string {
	value := string(raw)
	if idx := strings.IndexByte(value, 0); idx != -1 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

func appendAETitle(buf []byte, title string) []byte {
	if len(title) > 16 {
		title = title[:16]
	}
	return append(buf, fmt.Sprintf("%-16s", title)...)
}

func appendItem(buf []byte, itemType byte, value []byte) []byte {
	buf = append(buf, itemType, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(value)))
	return append(buf, value...)
}

func fixedFields(called, calling string) []byte {
	buf := make([]byte, 0, associateFixedFieldsSize)
	buf = append(buf, 0x00, 0x01, 0x00, 0x00)
	buf = appendAETitle(buf, called)
	buf = appendAETitle(buf, calling)
	return append(buf, make([]byte, 32)...)
}

func userInformation(maxPDULength uint32, classUID, versionName string) []byte {
	if maxPDULength == 0 {
		maxPDULength = DefaultMaxPDULength
	}
	if classUID == "" {
		classUID = ImplementationClassUID
		versionName = ImplementationVersionName
	}
	var value []byte
	value = appendItem(value, itemMaxLength, binary.BigEndian.AppendUint32(nil, maxPDULength))
	value = appendItem(value, itemImplementationClass, []byte(classUID))
	if versionName != "" {
		value = appendItem(value, itemImplementationVer, []byte(versionName))
	}
	return value
}

// Encode returns the PDU payload of the request.
func (rq *AssociateRQ) Encode() []byte {
	buf := fixedFields(rq.CalledAETitle, rq.CallingAETitle)
	buf = appendItem(buf, itemApplicationContext, []byte(types.ApplicationContextUID))

	for _, pc := range rq.PresentationContexts {
		value := []byte{pc.ID, 0x00, 0x00, 0x00}
		value = appendItem(value, itemAbstractSyntax, []byte(pc.AbstractSyntax))
		for _, ts := range pc.TransferSyntaxes {
			value = appendItem(value, itemTransferSyntax, []byte(ts))
		}
		buf = appendItem(buf, itemPresentationContext, value)
	}

	return appendItem(buf, itemUserInformation,
		userInformation(rq.MaxPDULength, rq.ImplementationClassUID, rq.ImplementationVersionName))
}

// Encode returns the PDU payload of the accept. Only accepted contexts are
// written: some peers (DCMTK, Orthanc) refuse an AC listing rejections.
func (ac *AssociateAC) Encode() []byte {
	buf := fixedFields(ac.CalledAETitle, ac.CallingAETitle)
	buf = appendItem(buf, itemApplicationContext, []byte(types.ApplicationContextUID))

	contexts := append([]*PresentationContext(nil), ac.PresentationContexts...)
	sort.Slice(contexts, func(i, j int) bool { return contexts[i].ID < contexts[j].ID })

	for _, pc := range contexts {
		if !pc.Accepted() {
			continue
		}
		value := []byte{pc.ID, 0x00, pc.Result, 0x00}
		value = appendItem(value, itemTransferSyntax, []byte(pc.TransferSyntax))
		buf = appendItem(buf, itemPresentationResult, value)
	}

	return appendItem(buf, itemUserInformation,
		userInformation(ac.MaxPDULength, ac.ImplementationClassUID, ac.ImplementationVersionName))
}

// Encode returns the PDU payload of the rejection.
func (rj *AssociateRJ) Encode() []byte {
	return []byte{0x00, rj.Result, rj.Source, rj.Reason}
}

type variableItem struct {
	itemType byte
	value    []byte
}

func splitItems(data []byte) ([]variableItem, error) {
	var items []variableItem
	offset := 0
	for offset+4 <= len(data) {
		itemType := data[offset]
		length := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		end := offset + 4 + length
		if end > len(data) {
			return nil, errors.Wrapf(dicomerrors.ErrInvalidPDU, "item 0x%02x exceeds PDU length", itemType)
		}
		items = append(items, variableItem{itemType: itemType, value: data[offset+4 : end]})
		offset = end
	}
	return items, nil
}

func parseUserInformation(data []byte) (maxPDULength uint32, classUID, versionName string, err error) {
	items, err := splitItems(data)
	if err != nil {
		return 0, "", "", errors.Wrap(err, "user information")
	}
	for _, item := range items {
		switch item.itemType {
		case itemMaxLength:
			if len(item.value) == 4 {
				maxPDULength = binary.BigEndian.Uint32(item.value)
			}
		case itemImplementationClass:
			classUID = normalizeUID(item.value)
		case itemImplementationVer:
			versionName = normalizeAETitle(item.value)
		}
	}
	return maxPDULength, classUID, versionName, nil
}

func parseProposedContext(data []byte) (*PresentationContext, error) {
	if len(data) < 4 {
		return nil, errors.Errorf("presentation context too short: %d", len(data))
	}
	pc := &PresentationContext{ID: data[0]}
	items, err := splitItems(data[4:])
	if err != nil {
		return nil, errors.Wrapf(err, "presentation context %d", pc.ID)
	}
	for _, item := range items {
		switch item.itemType {
		case itemAbstractSyntax:
			pc.AbstractSyntax = normalizeUID(item.value)
		case itemTransferSyntax:
			pc.TransferSyntaxes = append(pc.TransferSyntaxes, normalizeUID(item.value))
		}
	}
	if pc.AbstractSyntax == "" {
		return nil, errors.Errorf("presentation context %d missing abstract syntax", pc.ID)
	}
	return pc, nil
}

func parseContextResult(data []byte) (*PresentationContext, error) {
	if len(data) < 4 {
		return nil, errors.Errorf("presentation context result too short: %d", len(data))
	}
	pc := &PresentationContext{ID: data[0], Result: data[2]}
	items, err := splitItems(data[4:])
	if err != nil {
		return nil, errors.Wrapf(err, "presentation context %d", pc.ID)
	}
	for _, item := range items {
		if item.itemType == itemTransferSyntax && len(item.value) > 0 {
			pc.TransferSyntax = normalizeUID(item.value)
		}
	}
	return pc, nil
}

// DecodeAssociateRQ parses the payload of an A-ASSOCIATE-RQ.
func DecodeAssociateRQ(data []byte) (*AssociateRQ, error) {
	if len(data) < associateFixedFieldsSize {
		return nil, errors.Wrap(dicomerrors.ErrInvalidPDU, "association request too short")
	}
	rq := &AssociateRQ{
		CalledAETitle:  normalizeAETitle(data[4:20]),
		CallingAETitle: normalizeAETitle(data[20:36]),
	}
	items, err := splitItems(data[associateFixedFieldsSize:])
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		switch item.itemType {
		case itemPresentationContext:
			pc, err := parseProposedContext(item.value)
			if err != nil {
				return nil, err
			}
			rq.PresentationContexts = append(rq.PresentationContexts, pc)
		case itemUserInformation:
			rq.MaxPDULength, rq.ImplementationClassUID, rq.ImplementationVersionName, err = parseUserInformation(item.value)
			if err != nil {
				return nil, err
			}
		}
	}
	return rq, nil
}

// DecodeAssociateAC parses the payload of an A-ASSOCIATE-AC.
func DecodeAssociateAC(data []byte) (*AssociateAC, error) {
	if len(data) < associateFixedFieldsSize {
		return nil, errors.Wrap(dicomerrors.ErrInvalidPDU, "association accept too short")
	}
	ac := &AssociateAC{
		CalledAETitle:  normalizeAETitle(data[4:20]),
		CallingAETitle: normalizeAETitle(data[20:36]),
	}
	items, err := splitItems(data[associateFixedFieldsSize:])
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		switch item.itemType {
		case itemPresentationResult:
			pc, err := parseContextResult(item.value)
			if err != nil {
				return nil, err
			}
			ac.PresentationContexts = append(ac.PresentationContexts, pc)
		case itemUserInformation:
			ac.MaxPDULength, ac.ImplementationClassUID, ac.ImplementationVersionName, err = parseUserInformation(item.value)
			if err != nil {
				return nil, err
			}
		}
	}
	return ac, nil
}

// DecodeAssociateRJ parses the payload of an A-ASSOCIATE-RJ.
func DecodeAssociateRJ(data []byte) (*AssociateRJ, error) {
	if len(data) < 4 {
		return nil, errors.Wrap(dicomerrors.ErrInvalidPDU, "association reject too short")
	}
	return &AssociateRJ{Result: data[1], Source: data[2], Reason: data[3]}, nil
}
