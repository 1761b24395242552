package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrBodyTooLarge is returned when the request body exceeds the server limit
var ErrBodyTooLarge = errors.New("request body too large")

// ErrEmptyBody is returned when a JSON body was required but none was sent
var ErrEmptyBody = errors.New("request body is empty")

// ParseJSON decodes a single JSON value from the request body into dest
func ParseJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return ErrEmptyBody
	}
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return ErrBodyTooLarge
		case errors.Is(err, io.EOF):
			return ErrEmptyBody
		default:
			return fmt.Errorf("invalid JSON: %w", err)
		}
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes a 400 (or 413) on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	err := ParseJSON(r, dest)
	if err == nil {
		return true
	}
	WriteParseError(w, err)
	return false
}

// ParseOptionalJSONOrError is ParseJSONOrError but leaves dest untouched
// when no body was sent
func ParseOptionalJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	err := ParseJSON(r, dest)
	if err == nil || errors.Is(err, ErrEmptyBody) {
		return true
	}
	WriteParseError(w, err)
	return false
}

// WriteParseError maps a ParseJSON or ReadBody error to a 400 or 413
func WriteParseError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrBodyTooLarge) {
		WriteError(w, http.StatusRequestEntityTooLarge, CodeBodyTooLarge, err.Error())
		return
	}
	WriteBadRequest(w, CodeBadRequest, err.Error())
}

// ReadBody reads the whole request body, honouring any MaxBytesReader limit
func ReadBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, ErrEmptyBody
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, ErrBodyTooLarge
		}
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}
