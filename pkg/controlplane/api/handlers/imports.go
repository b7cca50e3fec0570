package handlers

import (
	"net/http"
	"strconv"

	"github.com/hyperbridge/dmabridge/pkg/service"
)

// ImportHandler drives ExportFd: resolving an already-imported handle to a
// local shadow buffer. REST can't hand the caller back a real file
// descriptor (that needs SCM_RIGHTS over a local socket, not JSON-over-HTTP)
// so the response reports the shadow's layout instead; the daemon serves no
// other interface that hands the fd itself back.
type ImportHandler struct {
	svc *service.Service
}

// NewImportHandler builds an ImportHandler over svc.
func NewImportHandler(svc *service.Service) *ImportHandler {
	return &ImportHandler{svc: svc}
}

// ExportFdResponse is the response body for POST /v1/imports/{handle}/fd.
type ExportFdResponse struct {
	Handle string `json:"handle"`
	Nents  uint32 `json:"nents"`
}

// ExportFd handles POST /v1/imports/{handle}/fd?peer_vm=.
func (h *ImportHandler) ExportFd(w http.ResponseWriter, r *http.Request) {
	hdl, ok := parseHandleParam(w, r)
	if !ok {
		return
	}

	peerVMRaw := r.URL.Query().Get("peer_vm")
	peerVM64, err := strconv.ParseUint(peerVMRaw, 10, 32)
	if err != nil {
		BadRequest(w, "peer_vm query parameter is required")
		return
	}

	buf, err := h.svc.ExportFd(r.Context(), uint32(peerVM64), hdl)
	if err != nil {
		writeBridgeError(w, err)
		return
	}

	WriteJSONOK(w, ExportFdResponse{Handle: hdl.String(), Nents: buf.Layout().Nents})
}
