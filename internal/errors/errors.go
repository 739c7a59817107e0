// Package errors defines the store error types used throughout imgmeta and
// extracts the status code each store SDK reports for a failed call.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/aws/smithy-go"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Param is one named parameter of a failed store call, echoed back to the
// client so the call can be reproduced.
type Param struct {
	Name  string
	Value string
}

// P is shorthand for building a Param.
func P(name, value string) Param {
	return Param{Name: name, Value: value}
}

// StoreError represents a failed call into the metadata store or the object
// store. Status is the status code reported by the store itself.
type StoreError struct {
	// Op names the failed call, e.g. "metadata.GetRecord".
	Op string
	// Params are the call parameters in call order.
	Params []Param
	// Status is the HTTP-style status code to pass through to the client.
	Status int
	// Err is the error returned by the store.
	Err error
}

// NewStoreError wraps err as a StoreError, taking the status from err.
func NewStoreError(op string, err error, params ...Param) *StoreError {
	return &StoreError{
		Op:     op,
		Params: params,
		Status: HTTPStatus(err),
		Err:    err,
	}
}

// Call renders the failed call as "op(name: value, ...)".
func (e *StoreError) Call() string {
	parts := make([]string, 0, len(e.Params))
	for _, p := range e.Params {
		parts = append(parts, p.Name+": "+p.Value)
	}
	return e.Op + "(" + strings.Join(parts, ", ") + ")"
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("failed at '%s': %v", e.Call(), e.Err)
}

// Unwrap returns the underlying store error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Detail is the diagnostic description of a store error embedded in
// failure responses.
type Detail struct {
	Operation  string `json:"operation"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// Detail describes the underlying store error.
func (e *StoreError) Detail() Detail {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return Detail{
		Operation:  e.Op,
		Code:       Code(e.Err),
		Message:    msg,
		StatusCode: e.Status,
	}
}

// StatusError is an error carrying an explicit status. Engines without an
// SDK status (memory, local, sqlite) and the catalog itself use it.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// HTTPStatusCode reports the carried status.
func (e *StatusError) HTTPStatusCode() int {
	return e.Status
}

// ErrorCode reports the carried code.
func (e *StatusError) ErrorCode() string {
	return e.Code
}

// NotFound builds a 404 StatusError.
func NotFound(format string, args ...any) *StatusError {
	return &StatusError{Status: http.StatusNotFound, Code: "NotFound", Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument builds a 400 StatusError.
func InvalidArgument(format string, args ...any) *StatusError {
	return &StatusError{Status: http.StatusBadRequest, Code: "InvalidArgument", Message: fmt.Sprintf(format, args...)}
}

// HTTPStatus returns the status code the store reported for err. It
// understands the AWS (smithy) response errors, Azure azcore response
// errors, Google API errors, Cloud Storage sentinels, gRPC statuses
// (Firestore) and StatusError. Anything else maps to 500.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var withStatus interface{ HTTPStatusCode() int }
	if stderrors.As(err, &withStatus) {
		if code := withStatus.HTTPStatusCode(); code != 0 {
			return code
		}
	}

	var azErr *azcore.ResponseError
	if stderrors.As(err, &azErr) && azErr.StatusCode != 0 {
		return azErr.StatusCode
	}

	var gErr *googleapi.Error
	if stderrors.As(err, &gErr) && gErr.Code != 0 {
		return gErr.Code
	}

	if stderrors.Is(err, gcs.ErrObjectNotExist) || stderrors.Is(err, gcs.ErrBucketNotExist) {
		return http.StatusNotFound
	}

	if s, ok := status.FromError(err); ok {
		return grpcToHTTP(s.Code())
	}

	return http.StatusInternalServerError
}

// Code returns a machine-readable error code for err.
func Code(err error) string {
	if err == nil {
		return ""
	}

	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}

	var withCode interface{ ErrorCode() string }
	if stderrors.As(err, &withCode) {
		return withCode.ErrorCode()
	}

	var azErr *azcore.ResponseError
	if stderrors.As(err, &azErr) && azErr.ErrorCode != "" {
		return azErr.ErrorCode
	}

	var gErr *googleapi.Error
	if stderrors.As(err, &gErr) {
		if len(gErr.Errors) > 0 && gErr.Errors[0].Reason != "" {
			return gErr.Errors[0].Reason
		}
		return http.StatusText(gErr.Code)
	}

	if stderrors.Is(err, gcs.ErrObjectNotExist) || stderrors.Is(err, gcs.ErrBucketNotExist) {
		return "NotFound"
	}

	if s, ok := status.FromError(err); ok {
		return s.Code().String()
	}

	return "InternalError"
}

func grpcToHTTP(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Canceled:
		return 499
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
