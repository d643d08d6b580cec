package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func unknownForm(key string) *DomainError {
	return domainError(http.StatusNotFound, "UNKNOWN_FORM", fmt.Sprintf("unknown form %q", key), nil)
}

func invalidPayload(err error) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "INVALID_PAYLOAD", "payload does not match the form", err.Error())
}
