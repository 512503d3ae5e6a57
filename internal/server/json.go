package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// responseMeta rides along with every response body for request
// correlation, matching the envelope convention every handler uses.
type responseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

type apiResponse struct {
	Data any          `json:"data"`
	Meta responseMeta `json:"meta"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiError struct {
	Error errorDetail  `json:"error"`
	Meta  responseMeta `json:"meta"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := apiResponse{
		Data: data,
		Meta: responseMeta{RequestID: RequestIDFromContext(r.Context()), Timestamp: time.Now().UTC()},
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("server: failed to encode json response", "error", err, "request_id", RequestIDFromContext(r.Context()))
	}
}

const (
	errCodeBadRequest   = "bad_request"
	errCodeUnauthorized = "unauthorized"
	errCodeForbidden    = "forbidden"
	errCodeNotFound     = "not_found"
	errCodeConflict     = "conflict"
	errCodeInternal     = "internal_error"
)

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := apiError{
		Error: errorDetail{Code: code, Message: message},
		Meta:  responseMeta{RequestID: RequestIDFromContext(r.Context()), Timestamp: time.Now().UTC()},
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("server: failed to encode json error response", "error", err, "request_id", RequestIDFromContext(r.Context()))
	}
}

// decodeJSON decodes the request body into target, rejecting unknown
// fields and bodies past maxBytes, then runs struct-tag validation on the
// result. The returned error message is safe to echo to the caller.
func decodeJSON(r *http.Request, target any, maxBytes int64) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return errors.New("invalid request body")
	}
	return validateStruct(target)
}

var validate = newValidator()

// newValidator builds the shared request validator, reporting fields by
// their json tag rather than the Go struct field, since the json name is
// what the caller actually sent.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateStruct(target any) error {
	err := validate.Struct(target)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.New("invalid request body")
	}
	fe := fieldErrs[0]
	if fe.Tag() == "required" {
		return fmt.Errorf("%s is required", fe.Field())
	}
	return fmt.Errorf("%s is invalid (%s)", fe.Field(), fe.Tag())
}
