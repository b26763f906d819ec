package errors

import (
	stderrors "errors"
	"io/fs"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
)

func TestAssociationError(t *testing.T) {
	err := NewAssociationError(
		RejectSourceServiceUser,
		RejectReasonCalledAETitleNotRecognized,
		"AE title mismatch",
	)

	if err.Source != RejectSourceServiceUser {
		t.Errorf("Source = %v, want %v", err.Source, RejectSourceServiceUser)
	}
	if err.Reason != RejectReasonCalledAETitleNotRecognized {
		t.Errorf("Reason = %v, want %v", err.Reason, RejectReasonCalledAETitleNotRecognized)
	}
	if !stderrors.Is(err, ErrAssociationRejected) {
		t.Error("association error should match ErrAssociationRejected")
	}
}

func TestProtocolErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    uint16
		isWarning bool
		isFailure bool
	}{
		{"Success", 0x0000, false, false},
		{"Pending", 0xFF00, false, false},
		{"Warning", 0x0107, true, false},
		{"SubOperationsWarning", 0xB000, true, false},
		{"Failure", 0xC000, false, true},
		{"MoveDestinationUnknown", 0xA801, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewProtocolError("C-MOVE", tt.status, "test error")

			if err.IsWarning() != tt.isWarning {
				t.Errorf("IsWarning() = %v, want %v", err.IsWarning(), tt.isWarning)
			}
			if err.IsFailure() != tt.isFailure {
				t.Errorf("IsFailure() = %v, want %v", err.IsFailure(), tt.isFailure)
			}
		})
	}
}

func TestStorageErrorStatus(t *testing.T) {
	ioErr := NewStorageError("1.2.3", "/archive/1.2.3.dcm", &fs.PathError{Op: "open", Path: "/archive", Err: fs.ErrPermission})
	if ioErr.Status != 0xC511 {
		t.Errorf("path error status = 0x%04X, want 0xC511", ioErr.Status)
	}

	saveErr := NewStorageError("1.2.3", "/archive/1.2.3.dcm", stderrors.New("element too large"))
	if saveErr.Status != 0xC512 {
		t.Errorf("encoding error status = 0x%04X, want 0xC512", saveErr.Status)
	}

	wrapped := pkgerrors.Wrap(&fs.PathError{Op: "rename", Path: "x", Err: fs.ErrExist}, "committing")
	if NewStorageError("1.2.3", "x", wrapped).Status != 0xC511 {
		t.Error("wrapped path error should still be an I/O error")
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status uint16
		ok     bool
	}{
		{"nil", nil, 0x0000, true},
		{"connection", NewConnectionError("pacs:104", stderrors.New("refused")), 0xC0FF, true},
		{"protocol", NewProtocolError("C-MOVE", 0xA702, "out of resources"), 0xA702, true},
		{"configuration", NewConfigurationError("port", 0xC515, "bind failed", nil), 0xC515, true},
		{"wrapped", pkgerrors.Wrap(NewConfigurationError("keys", 0xC5F1, "missing", nil), "retrieve"), 0xC5F1, true},
		{"plain", stderrors.New("boom"), 0xC000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, ok := StatusOf(tt.err)
			if status != tt.status || ok != tt.ok {
				t.Errorf("StatusOf() = (0x%04X, %v), want (0x%04X, %v)", status, ok, tt.status, tt.ok)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("dial tcp: refused")
	err := NewConnectionError("pacs:104", cause)
	if !stderrors.Is(err, cause) {
		t.Error("connection error should unwrap to its cause")
	}
	if pkgerrors.Cause(pkgerrors.Wrap(cause, "associate")) != cause {
		t.Error("pkg/errors cause should reach the original error")
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("retrieve", 10*time.Second)
	if !err.Timeout() {
		t.Error("Timeout() should be true")
	}
	if err.Error() != "timeout: retrieve exceeded 10s" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestAbortError(t *testing.T) {
	err := NewAbortError(0x02, 0x01)
	if !stderrors.Is(err, ErrConnectionClosed) {
		t.Error("abort should match ErrConnectionClosed")
	}
	if err.Error() != "connection aborted by service-provider (reason: 0x01)" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
