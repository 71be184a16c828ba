package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveCapture is reported when a session has nothing to export.
	ErrNoActiveCapture = errors.New("no-active-capture")
	// ErrInvalidSessionID rejects identifiers that cannot name a capture file.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrNoInterface rejects a start request without an interface.
	ErrNoInterface = errors.New("interface is required")
	// ErrProcessStuck means a capture process survived both terminate and kill.
	ErrProcessStuck = errors.New("capture process did not exit")
	// ErrShutdown rejects new captures once the engine is shutting down.
	ErrShutdown = errors.New("engine is shut down")
)

// ExportError reports a failed export. Reason is what the client is told.
type ExportError struct {
	Session string
	Format  string
	Err     error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export %s of session %s: %v", e.Format, e.Session, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// Reason returns the short cause sent to clients.
func (e *ExportError) Reason() string {
	if errors.Is(e.Err, ErrNoActiveCapture) {
		return ErrNoActiveCapture.Error()
	}
	return e.Err.Error()
}
