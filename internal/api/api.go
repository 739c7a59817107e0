// Package api renders catalog results as transport-neutral responses: a
// status code, a header map and a body. The HTTP handlers and the Lambda
// adapters both write these out unchanged.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/imgmeta/imgmeta/internal/catalog"
	storeerr "github.com/imgmeta/imgmeta/internal/errors"
	"github.com/imgmeta/imgmeta/internal/metadata"
)

// SuccessMessage is the message of every successful JSON response.
const SuccessMessage = "SUCCESS"

const (
	contentTypeJSON = "application/json"
	contentTypePNG  = "image/png"
)

// Response is a rendered result.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
	// Binary marks Body as raw object bytes rather than JSON text.
	Binary bool
}

// Envelope is the JSON body shape shared by every non-binary response.
// Errors is set only on failures.
type Envelope struct {
	Message string           `json:"message"`
	Data    any              `json:"data"`
	Errors  *storeerr.Detail `json:"errors,omitempty"`
}

// emptyData renders as {}.
type emptyData struct{}

// FailureMessage names the failed store call.
func FailureMessage(call string) string {
	return fmt.Sprintf("FAILED at '%s'", call)
}

// Lookup renders a MetadataLookup result. A nil record with a nil error is
// the absent-record case under the lenient policy and renders as data {}.
func Lookup(rec *metadata.Record, err error) Response {
	if err != nil {
		return Failure(err)
	}
	if rec == nil {
		return JSON(http.StatusOK, Envelope{Message: SuccessMessage, Data: emptyData{}})
	}
	return JSON(http.StatusOK, Envelope{Message: SuccessMessage, Data: rec})
}

// Download renders an ObjectDownload result. The success response carries
// the raw object bytes; transports that need a text body encode them.
func Download(d *catalog.Download, err error) Response {
	if err != nil {
		return Failure(err)
	}
	return Response{
		Status: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":        contentTypePNG,
			"Content-Length":      strconv.FormatInt(d.ContentLength, 10),
			"Content-Disposition": "attachment; filename=" + d.Filename,
		},
		Body:   d.Body,
		Binary: true,
	}
}

// Stats renders a CollectionStats result.
func Stats(s *catalog.Stats, err error) Response {
	if err != nil {
		return Failure(err)
	}
	return JSON(http.StatusOK, Envelope{Message: SuccessMessage, Data: s})
}

// IngestAccepted is the data of an ingest acknowledgement.
type IngestAccepted struct {
	Received int `json:"received"`
}

// Ingest acknowledges a processed notification batch. Write failures are
// never reported to the sender.
func Ingest(report catalog.IngestReport) Response {
	return JSON(http.StatusAccepted, Envelope{
		Message: SuccessMessage,
		Data:    IngestAccepted{Received: report.Received},
	})
}

// Failure renders err with the failure shape. The status is the one the
// store reported. Object-fetch failures echo the record that was read.
func Failure(err error) Response {
	var serr *storeerr.StoreError
	if !errors.As(err, &serr) {
		serr = &storeerr.StoreError{Op: "unknown", Status: storeerr.HTTPStatus(err), Err: err}
	}

	var data any = emptyData{}
	var objErr *catalog.ObjectError
	if errors.As(err, &objErr) {
		data = objErr.Record
	}

	detail := serr.Detail()
	return JSON(serr.Status, Envelope{
		Message: FailureMessage(serr.Call()),
		Data:    data,
		Errors:  &detail,
	})
}

// BadRequest renders a request that never reached a store, such as an
// undecodable event body.
func BadRequest(op string, err error) Response {
	return Failure(storeerr.NewStoreError(op, &storeerr.StatusError{
		Status:  http.StatusBadRequest,
		Code:    "InvalidRequest",
		Message: err.Error(),
	}))
}

// JSON renders v as a JSON response.
func JSON(status int, v any) Response {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"message":"FAILED at 'json.Marshal'","data":{}}`)
	}
	return Response{
		Status:  status,
		Headers: map[string]string{"Content-Type": contentTypeJSON},
		Body:    body,
	}
}

// Write sends resp on an HTTP response writer.
func Write(w http.ResponseWriter, resp Response) {
	h := w.Header()
	for k, v := range resp.Headers {
		h.Set(k, v)
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}
