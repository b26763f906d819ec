package types

import "testing"

func TestResponseCommandFor(t *testing.T) {
	tests := []struct {
		request  uint16
		expected uint16
	}{
		{CStoreRQ, CStoreRSP},
		{CFindRQ, CFindRSP},
		{CMoveRQ, CMoveRSP},
		{CEchoRQ, CEchoRSP},
		{0x0010, 0x8010},
	}

	for _, tt := range tests {
		if got := ResponseCommandFor(tt.request); got != tt.expected {
			t.Errorf("ResponseCommandFor(0x%04X) = 0x%04X, want 0x%04X", tt.request, got, tt.expected)
		}
	}
}

func TestIsPendingStatus(t *testing.T) {
	tests := []struct {
		status  uint16
		pending bool
	}{
		{StatusPending, true},
		{StatusPendingWarning, true},
		{StatusSuccess, false},
		{StatusCancel, false},
		{StatusConnectFailed, false},
	}

	for _, tt := range tests {
		if got := IsPendingStatus(tt.status); got != tt.pending {
			t.Errorf("IsPendingStatus(%s) = %v, want %v", StatusString(tt.status), got, tt.pending)
		}
	}
}

func TestStatusString(t *testing.T) {
	if got := StatusString(StatusListenerBusy); got != "0xC515" {
		t.Errorf("StatusString = %q, want 0xC515", got)
	}
}

func TestMessageHasDataSet(t *testing.T) {
	msg := &Message{CommandDataSetType: NoDataSetPresent}
	if msg.HasDataSet() {
		t.Error("expected no dataset")
	}
	msg.CommandDataSetType = DataSetPresent
	if !msg.HasDataSet() {
		t.Error("expected dataset")
	}
}

func TestQueryLevelDepth(t *testing.T) {
	for i, level := range QueryLevels {
		if !level.Valid() {
			t.Errorf("%s should be valid", level)
		}
		if level.Depth() != i {
			t.Errorf("%s depth = %d, want %d", level, level.Depth(), i)
		}
	}
	if QueryLevel("FRAME").Valid() {
		t.Error("FRAME should not be a valid level")
	}
	if QueryLevel("FRAME").Depth() != -1 {
		t.Error("unknown level should have depth -1")
	}
}

func TestSOPClassCategories(t *testing.T) {
	tests := []struct {
		uid      string
		storage  bool
		retrieve bool
	}{
		{RTImageStorage, true, false},
		{RTDoseStorage, true, false},
		{CTImageStorage, true, false},
		{StudyRootQueryRetrieveInformationModelMove, false, true},
		{PatientRootQueryRetrieveInformationModelFind, false, true},
		{VerificationSOPClass, false, false},
		{"1.2.3.4", false, false},
	}

	for _, tt := range tests {
		if got := IsStorageSOPClass(tt.uid); got != tt.storage {
			t.Errorf("IsStorageSOPClass(%s) = %v, want %v", tt.uid, got, tt.storage)
		}
		if got := IsQueryRetrieveSOPClass(tt.uid); got != tt.retrieve {
			t.Errorf("IsQueryRetrieveSOPClass(%s) = %v, want %v", tt.uid, got, tt.retrieve)
		}
	}
}

func TestStorageSOPClassesAreRegistered(t *testing.T) {
	classes := StorageSOPClasses()
	if len(classes) == 0 {
		t.Fatal("expected storage classes")
	}
	if classes[0] != RTImageStorage {
		t.Errorf("first storage class = %s, want RT Image Storage", classes[0])
	}
	for _, uid := range classes {
		if !IsStorageSOPClass(uid) {
			t.Errorf("%s is listed but not registered as storage", uid)
		}
	}
	classes[0] = "mutated"
	if StorageSOPClasses()[0] != RTImageStorage {
		t.Error("StorageSOPClasses should return a copy")
	}
}

func TestTransferSyntaxInfo(t *testing.T) {
	if !IsImplicitVR(ImplicitVRLittleEndian) {
		t.Error("implicit VR little endian should be implicit")
	}
	if IsImplicitVR(ExplicitVRLittleEndian) {
		t.Error("explicit VR little endian should be explicit")
	}
	if !IsCompressed(JPEG2000Lossless) {
		t.Error("JPEG 2000 should be compressed")
	}
	info := GetTransferSyntaxInfo("9.9.9")
	if info.Name != "Unknown" || !info.IsExplicitVR {
		t.Errorf("unexpected info for unknown syntax: %+v", info)
	}
	if common := GetCommonTransferSyntaxes(); common[0] != ExplicitVRLittleEndian {
		t.Errorf("preferred syntax = %s", common[0])
	}
}
