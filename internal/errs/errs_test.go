package errs

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestClassification(t *testing.T) {
	storage := Storage("flush", "s1", io.ErrShortWrite)
	dispatch := &DispatchError{Session: "s1", First: 1, Last: 3, Err: errors.New("503")}
	usage := Usage("start", "worker already started")

	tests := []struct {
		name      string
		err       error
		isStorage bool
		isDisp    bool
		isUsage   bool
	}{
		{"storage", storage, true, false, false},
		{"wrapped storage", fmt.Errorf("close: %w", storage), true, false, false},
		{"dispatch", dispatch, false, true, false},
		{"usage", usage, false, false, true},
		{"plain", io.EOF, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if IsStorage(tt.err) != tt.isStorage || IsDispatch(tt.err) != tt.isDisp || IsUsage(tt.err) != tt.isUsage {
				t.Fatalf("classification mismatch for %v", tt.err)
			}
		})
	}

	if !errors.Is(storage, io.ErrShortWrite) {
		t.Fatalf("storage error must unwrap to cause")
	}
}

func TestStorageDoesNotDoubleWrap(t *testing.T) {
	inner := Storage("put", "s1", io.ErrUnexpectedEOF)
	outer := Storage("flush", "s1", inner)
	if outer != inner {
		t.Fatalf("expected existing StorageError to pass through")
	}
	if Storage("noop", "", nil) != nil {
		t.Fatalf("nil in, nil out")
	}
}
