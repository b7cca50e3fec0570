package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hyperbridge/dmabridge/pkg/controlplane/api/middleware"
	"github.com/hyperbridge/dmabridge/pkg/handle"
	"github.com/hyperbridge/dmabridge/pkg/service"
)

// ExportHandler drives the control surface's ExportRemote/Unexport/Query
// verbs from REST. fd is accepted as a plain integer: the caller is expected
// to have already handed the daemon the underlying dma-buf out of band (a
// local open(2) against the same process, not something a JSON body can
// carry) and is naming it by descriptor number, the same way the ioctl this
// mirrors does.
type ExportHandler struct {
	svc *service.Service
}

// NewExportHandler builds an ExportHandler over svc.
func NewExportHandler(svc *service.Service) *ExportHandler {
	return &ExportHandler{svc: svc}
}

// CreateExportRequest is the request body for POST /v1/exports.
type CreateExportRequest struct {
	FD     int    `json:"fd"`
	PeerVM uint32 `json:"peer_vm"`
	Priv   []byte `json:"priv,omitempty"`
}

// ExportResponse is the response body for POST /v1/exports.
type ExportResponse struct {
	Handle string `json:"handle"`
}

// Create handles POST /v1/exports.
func (h *ExportHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateExportRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if len(req.Priv) > service.MaxPrivBytes {
		BadRequest(w, "priv exceeds maximum size")
		return
	}

	claims := middleware.ClaimsFromContext(r.Context())
	sessionID := ""
	if claims != nil {
		sessionID = claims.Subject
	}

	hdl, err := h.svc.ExportRemote(r.Context(), req.FD, req.PeerVM, req.Priv, sessionID)
	if err != nil {
		writeBridgeError(w, err)
		return
	}

	WriteJSONCreated(w, ExportResponse{Handle: hdl.String()})
}

// Delete handles DELETE /v1/exports/{handle}. ?delay_ms= defers teardown the
// same way a DELAYED_UNEXPORT call would on the ioctl surface.
func (h *ExportHandler) Delete(w http.ResponseWriter, r *http.Request) {
	hdl, ok := parseHandleParam(w, r)
	if !ok {
		return
	}

	delayMs := 0
	if raw := r.URL.Query().Get("delay_ms"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			BadRequest(w, "delay_ms must be a non-negative integer")
			return
		}
		delayMs = v
	}

	if err := h.svc.Unexport(hdl, delayMs); err != nil {
		writeBridgeError(w, err)
		return
	}
	WriteNoContent(w)
}

// queryItemsByName maps the REST query string's ?item= value to the verb's
// QueryItem enum, so a caller can ask "size" instead of memorizing ordinals.
var queryItemsByName = map[string]service.QueryItem{
	"type":               service.QueryType,
	"exporter":           service.QueryExporter,
	"importer":           service.QueryImporter,
	"size":               service.QuerySize,
	"busy":               service.QueryBusy,
	"unexported":         service.QueryUnexported,
	"delayed_unexported": service.QueryDelayedUnexported,
	"priv_size":          service.QueryPrivSize,
	"priv_copy":          service.QueryPrivCopy,
	"peer_vm":            service.QueryPeerVM,
	"last_ref":           service.QueryLastRef,
}

// QueryResponse is the response body for GET /v1/exports/{handle}.
type QueryResponse struct {
	Item  string `json:"item"`
	Value any    `json:"value"`
}

// Get handles GET /v1/exports/{handle}?item=size.
func (h *ExportHandler) Get(w http.ResponseWriter, r *http.Request) {
	hdl, ok := parseHandleParam(w, r)
	if !ok {
		return
	}

	itemName := r.URL.Query().Get("item")
	if itemName == "" {
		itemName = "type"
	}
	item, ok := queryItemsByName[itemName]
	if !ok {
		BadRequest(w, "unknown item "+itemName)
		return
	}

	val, err := h.svc.Query(hdl, item)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	WriteJSONOK(w, QueryResponse{Item: itemName, Value: val})
}

func parseHandleParam(w http.ResponseWriter, r *http.Request) (handle.Handle, bool) {
	raw := chi.URLParam(r, "handle")
	hdl, err := handle.ParseString(raw)
	if err != nil {
		BadRequest(w, "malformed handle")
		return handle.Handle{}, false
	}
	return hdl, true
}
