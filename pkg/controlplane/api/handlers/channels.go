package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hyperbridge/dmabridge/pkg/service"
)

// ChannelHandler drives TxChSetup/RxChSetup, the two verbs that stand up a
// peer's ring. Both converge on the same Link, so the handlers differ only
// in which verb they call, matching the asymmetry of the original ioctl pair.
type ChannelHandler struct {
	svc *service.Service
}

// NewChannelHandler builds a ChannelHandler over svc.
func NewChannelHandler(svc *service.Service) *ChannelHandler {
	return &ChannelHandler{svc: svc}
}

func parsePeerVMParam(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	raw := chi.URLParam(r, "peer_vm")
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		BadRequest(w, "peer_vm must be a 32-bit integer")
		return 0, false
	}
	return uint32(v), true
}

// SetupTx handles POST /v1/channels/{peer_vm}/tx.
func (h *ChannelHandler) SetupTx(w http.ResponseWriter, r *http.Request) {
	peerVM, ok := parsePeerVMParam(w, r)
	if !ok {
		return
	}
	if err := h.svc.TxChSetup(peerVM); err != nil {
		writeBridgeError(w, err)
		return
	}
	WriteNoContent(w)
}

// SetupRx handles POST /v1/channels/{peer_vm}/rx.
func (h *ChannelHandler) SetupRx(w http.ResponseWriter, r *http.Request) {
	peerVM, ok := parsePeerVMParam(w, r)
	if !ok {
		return
	}
	if err := h.svc.RxChSetup(peerVM); err != nil {
		writeBridgeError(w, err)
		return
	}
	WriteNoContent(w)
}
