// Package handlers implements the control plane's REST handlers: peer
// bootstrap CRUD, the control-verb endpoints backed by pkg/service, and the
// schema/health probes the CLI and orchestrators poll.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
)

// Envelope wraps health-probe responses; the control-verb endpoints return
// their resource bodies directly instead, per the RFC 7807/plain-JSON split
// below.
type Envelope struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func healthyEnvelope(data any) Envelope {
	return Envelope{Status: "healthy", Timestamp: time.Now().UTC(), Data: data}
}

func unhealthyEnvelope(errMsg string) Envelope {
	return Envelope{Status: "unhealthy", Timestamp: time.Now().UTC(), Error: errMsg}
}

// Problem is an RFC 7807 "problem details" response body.
type Problem struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

const contentTypeProblemJSON = "application/problem+json"

// WriteProblem writes an RFC 7807 problem response.
func WriteProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", contentTypeProblemJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{Type: "about:blank", Title: title, Status: status, Detail: detail})
}

func BadRequest(w http.ResponseWriter, detail string)    { WriteProblem(w, http.StatusBadRequest, "Bad Request", detail) }
func Unauthorized(w http.ResponseWriter, detail string)  { WriteProblem(w, http.StatusUnauthorized, "Unauthorized", detail) }
func Forbidden(w http.ResponseWriter, detail string)     { WriteProblem(w, http.StatusForbidden, "Forbidden", detail) }
func NotFound(w http.ResponseWriter, detail string)      { WriteProblem(w, http.StatusNotFound, "Not Found", detail) }
func Conflict(w http.ResponseWriter, detail string)      { WriteProblem(w, http.StatusConflict, "Conflict", detail) }
func InternalServerError(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", detail)
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func WriteJSONOK(w http.ResponseWriter, data any)      { WriteJSON(w, http.StatusOK, data) }
func WriteJSONCreated(w http.ResponseWriter, data any) { WriteJSON(w, http.StatusCreated, data) }
func WriteNoContent(w http.ResponseWriter)             { w.WriteHeader(http.StatusNoContent) }

// decodeJSONBody decodes r's body into v, writing a 400 problem response and
// returning false if the body is missing or malformed.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		BadRequest(w, "request body is required")
		return false
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		BadRequest(w, "malformed request body: "+err.Error())
		return false
	}
	return true
}

// writeBridgeError translates a bridgeerr.Code into the matching HTTP
// problem response, so every handler that calls into pkg/service shares one
// mapping instead of re-deriving it per verb.
func writeBridgeError(w http.ResponseWriter, err error) {
	var be *bridgeerr.Error
	if !errors.As(err, &be) {
		InternalServerError(w, err.Error())
		return
	}
	switch be.Code {
	case bridgeerr.NotFound:
		NotFound(w, be.Error())
	case bridgeerr.Invalid, bridgeerr.BadArg:
		BadRequest(w, be.Error())
	case bridgeerr.PeerDown:
		WriteProblem(w, http.StatusBadGateway, "Peer Unreachable", be.Error())
	case bridgeerr.Timeout:
		WriteProblem(w, http.StatusGatewayTimeout, "Timeout", be.Error())
	case bridgeerr.Exhausted:
		WriteProblem(w, http.StatusInsufficientStorage, "Handle Space Exhausted", be.Error())
	case bridgeerr.StillReferenced:
		Conflict(w, be.Error())
	default:
		InternalServerError(w, be.Error())
	}
}
