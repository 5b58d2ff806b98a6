package orchestrator

import (
	"context"
	"errors"

	"github.com/coinchat/backend/internal/model/ui"
	chatsvc "github.com/coinchat/backend/internal/service/chat"
	"github.com/coinchat/backend/internal/service/market"
	"github.com/coinchat/backend/internal/service/tools"
)

// Classify maps a turn error to the kind shown to the user. Anything
// unrecognised, stream.ErrStreamClosed included, is internal.
func Classify(err error) ui.ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ui.ErrorCancelled
	case errors.Is(err, chatsvc.ErrSessionNotFound):
		return ui.ErrorState
	case errors.Is(err, chatsvc.ErrSessionBusy):
		return ui.ErrorBusy
	case errors.Is(err, tools.ErrSchemaValidation), errors.Is(err, ErrEmptyMessage):
		return ui.ErrorSchema
	case errors.Is(err, market.ErrDataProvider):
		return ui.ErrorProvider
	case errors.Is(err, ErrModel), errors.Is(err, ErrEmptyResponse):
		return ui.ErrorModel
	default:
		return ui.ErrorInternal
	}
}

// Describe returns the user-facing text for an error kind.
func Describe(kind ui.ErrorKind) string {
	switch kind {
	case ui.ErrorState:
		return "this conversation no longer exists"
	case ui.ErrorBusy:
		return "still working on your previous message"
	case ui.ErrorSchema:
		return "i could not run that request, try rephrasing it"
	case ui.ErrorProvider:
		return "market data is unavailable right now, try again shortly"
	case ui.ErrorModel:
		return "i could not come up with a reply, please try again"
	case ui.ErrorCancelled:
		return "the request was cancelled"
	default:
		return "something went wrong"
	}
}
