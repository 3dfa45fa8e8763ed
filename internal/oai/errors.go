package oai

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// ErrorCode is an OAI-PMH error code.
type ErrorCode string

const (
	CodeBadVerb                 ErrorCode = "badVerb"
	CodeBadArgument             ErrorCode = "badArgument"
	CodeIDDoesNotExist          ErrorCode = "idDoesNotExist"
	CodeCannotDisseminateFormat ErrorCode = "cannotDisseminateFormat"
	CodeNoSetHierarchy          ErrorCode = "noSetHierarchy"
	CodeBadResumptionToken      ErrorCode = "badResumptionToken"
	CodeNoRecordsMatch          ErrorCode = "noRecordsMatch"
	CodeNoMetadataFormats       ErrorCode = "noMetadataFormats"
)

// ProtocolError is an error reported to the harvester inside the response
// document. Anything else returned by a verb handler is an internal failure.
type ProtocolError struct {
	Code    ErrorCode
	Message string
}

func (e *ProtocolError) Error() string {
	return string(e.Code) + ": " + e.Message
}

func protocolErrorf(code ErrorCode, format string, args ...any) error {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// splitErrors separates the protocol errors combined in err. If any part of
// err is not a protocol error it is returned as the internal error.
func splitErrors(err error) ([]*ProtocolError, error) {
	if err == nil {
		return nil, nil
	}

	var protocol []*ProtocolError
	for _, e := range multierr.Errors(err) {
		var pe *ProtocolError
		if !errors.As(e, &pe) {
			return nil, e
		}
		protocol = append(protocol, pe)
	}
	return protocol, nil
}
