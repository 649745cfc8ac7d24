package errorx

import (
	"context"
	"errors"

	"github.com/amoylab/gameroom/internal/session"
)

// Classify maps any error to its APIError template. The returned value is a
// copy whose Message carries err's text for caller-visible categories.
func Classify(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, session.ErrInvalidTransition):
		// rules engine reasons are surfaced verbatim
		return ErrInvalidTransition.WithMessage(err.Error())
	case errors.Is(err, session.ErrUnauthorized):
		return ErrUnauthorized.WithMessage(err.Error())
	case errors.Is(err, session.ErrInvalidInput), errors.Is(err, session.ErrInvalidRole):
		return ErrInvalidInput.WithMessage(err.Error())
	case errors.Is(err, session.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return ErrStoreUnavailable.WithMessage(ErrStoreUnavailable.Message)
	case errors.Is(err, session.ErrConflict):
		return ErrConcurrentModification.WithMessage(ErrConcurrentModification.Message)
	case errors.Is(err, session.ErrActiveExists):
		return ErrActiveSessionExists.WithMessage(ErrActiveSessionExists.Message)
	case errors.Is(err, session.ErrSeatTaken):
		return ErrSeatTaken.WithMessage(ErrSeatTaken.Message)
	case errors.Is(err, session.ErrClosed):
		return ErrSessionClosed.WithMessage(ErrSessionClosed.Message)
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionNotFound.WithMessage(err.Error())
	default:
		return ErrInternalServer.WithMessage(ErrInternalServer.Message)
	}
}

// IsTransient reports whether the operation behind err may succeed on retry.
func IsTransient(err error) bool {
	return err != nil && Classify(err).Transient
}
