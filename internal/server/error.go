package server

import (
	"errors"
	"github.com/RyanW02/eventstamp/pkg/pipeline"
	"net/http"
)

type HttpError struct {
	error
	ResponseCode int
}

var _ error = (*HttpError)(nil)

func NewHttpError(responseCode int, message string) *HttpError {
	return &HttpError{
		error:        errors.New(message),
		ResponseCode: responseCode,
	}
}

const (
	messageLogged            = "Event logged on the blockchain"
	messageEventDataRequired = "Event data is required"
	messageInvalidEvent      = "Invalid event"
	messageLogFailed         = "Failed to log event on the blockchain"
	messageInsufficientFunds = "Insufficient funds to log event, please top up the server wallet"
)

// commitError maps a pipeline failure to the response the caller sees. Details stay in the server logs.
func commitError(kind pipeline.ErrorKind) *HttpError {
	switch kind {
	case pipeline.KindValidation:
		return NewHttpError(http.StatusBadRequest, messageInvalidEvent)
	case pipeline.KindInsufficientFunds:
		return NewHttpError(http.StatusInternalServerError, messageInsufficientFunds)
	default:
		return NewHttpError(http.StatusInternalServerError, messageLogFailed)
	}
}
