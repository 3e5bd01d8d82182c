package common

import (
	"fmt"
	"io"
	"secure-ledger/logger"

	"github.com/sirupsen/logrus"
)

// Kind classifies an AppError for propagation and operator reporting.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuth
	KindAuthorizationDenied
	KindDecryption
	KindPersistence
	KindKeyUnavailable
	KindNotFound
	KindInsufficientFunds
	KindJustificationRequired
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindAuthorizationDenied:
		return "authorization_denied"
	case KindDecryption:
		return "decryption"
	case KindPersistence:
		return "persistence"
	case KindKeyUnavailable:
		return "key_unavailable"
	case KindNotFound:
		return "not_found"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindJustificationRequired:
		return "justification_required"
	default:
		return "unknown"
	}
}

// Security reports whether errors of this kind must reach the audit trail.
func (k Kind) Security() bool {
	switch k {
	case KindAuth, KindAuthorizationDenied, KindDecryption, KindKeyUnavailable:
		return true
	}
	return false
}

type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError of the same kind, so errors.Is(err, ErrValidation)
// holds for every validation failure regardless of message.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func NewAppError(kind Kind, message string, err error) *AppError {
	return &AppError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Kind-only sentinels for errors.Is.
var (
	ErrValidation            = &AppError{Kind: KindValidation}
	ErrAuth                  = &AppError{Kind: KindAuth}
	ErrAuthorizationDenied   = &AppError{Kind: KindAuthorizationDenied}
	ErrDecryption            = &AppError{Kind: KindDecryption}
	ErrPersistence           = &AppError{Kind: KindPersistence}
	ErrKeyUnavailable        = &AppError{Kind: KindKeyUnavailable}
	ErrNotFound              = &AppError{Kind: KindNotFound}
	ErrInsufficientFunds     = &AppError{Kind: KindInsufficientFunds}
	ErrJustificationRequired = &AppError{Kind: KindJustificationRequired}
)

func NewValidationError(message string, err error) *AppError {
	return NewAppError(KindValidation, message, err)
}

func NewDecryptionError(message string, err error) *AppError {
	return NewAppError(KindDecryption, message, err)
}

func NewPersistenceError(message string, err error) *AppError {
	return NewAppError(KindPersistence, message, err)
}

func NewKeyUnavailableError(message string, err error) *AppError {
	return NewAppError(KindKeyUnavailable, message, err)
}

// Report logs the internal cause and writes the operator-facing message.
func (e *AppError) Report(w io.Writer) {
	if e.Err != nil {
		logger.Log.WithFields(logrus.Fields{
			"kind":           e.Kind.String(),
			"internal_error": e.Err.Error(),
		}).Error(e.Message)
	}
	fmt.Fprintf(w, "Denied: %s.\n", e.Message)
}
