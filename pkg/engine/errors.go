package engine

import "fmt"

// Code is the exit-code taxonomy spec.md §6/§7 requires every
// embedder-facing failure to map to, mirrored here as a Go error
// (SPEC_FULL.md §4.12) rather than spec.md's bare integer: one Error
// type tagged with a Code, instead of one package-level sentinel per
// failure as in pkg/wal/errors.go.
type Code int

const (
	CodeInvalidParameter Code = iota + 1
	CodeIOError
	CodeOutOfMemory
	CodeKeyNotFound
	CodeDuplicateKey
	CodeIntegrityViolated
	CodeEnvAlreadyOpen
	CodeDatabaseAlreadyOpen
	CodeDatabaseNotFound
	CodeLimitsReached
	CodeTxnConflict
	CodeCursorStillOpen
	CodeKeyErasedInTxn
	CodeNotReady
	CodeAlreadyInitialized
	CodeInvalidKeysize
	CodeReadOnly
)

func (c Code) String() string {
	switch c {
	case CodeInvalidParameter:
		return "INV_PARAMETER"
	case CodeIOError:
		return "IO_ERROR"
	case CodeOutOfMemory:
		return "OUT_OF_MEMORY"
	case CodeKeyNotFound:
		return "KEY_NOT_FOUND"
	case CodeDuplicateKey:
		return "DUPLICATE_KEY"
	case CodeIntegrityViolated:
		return "INTEGRITY_VIOLATED"
	case CodeEnvAlreadyOpen:
		return "ENV_ALREADY_OPEN"
	case CodeDatabaseAlreadyOpen:
		return "DATABASE_ALREADY_OPEN"
	case CodeDatabaseNotFound:
		return "DATABASE_NOT_FOUND"
	case CodeLimitsReached:
		return "LIMITS_REACHED"
	case CodeTxnConflict:
		return "TXN_CONFLICT"
	case CodeCursorStillOpen:
		return "CURSOR_STILL_OPEN"
	case CodeKeyErasedInTxn:
		return "KEY_ERASED_IN_TXN"
	case CodeNotReady:
		return "NOT_READY"
	case CodeAlreadyInitialized:
		return "ALREADY_INITIALIZED"
	case CodeInvalidKeysize:
		return "INV_KEYSIZE"
	case CodeReadOnly:
		return "READ_ONLY"
	default:
		return "UNKNOWN"
	}
}

// Error is the error type every engine-level call returns on failure.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("embedkv: %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("embedkv: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}
