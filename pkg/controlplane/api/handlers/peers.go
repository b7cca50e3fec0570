package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyperbridge/dmabridge/pkg/controlplane/models"
	"github.com/hyperbridge/dmabridge/pkg/controlplane/store"
)

// PeerHandler manages the peer bootstrap list (component A's operator-facing
// half — the ring transport still learns grant_ref/event_port live via
// pkg/directory, not through this API).
type PeerHandler struct {
	store store.PeerStore
}

// NewPeerHandler builds a PeerHandler over store.
func NewPeerHandler(store store.PeerStore) *PeerHandler {
	return &PeerHandler{store: store}
}

// CreatePeerRequest is the request body for POST /v1/peers.
type CreatePeerRequest struct {
	VMID          uint32 `json:"vm_id"`
	Name          string `json:"name"`
	TransportAddr string `json:"transport_addr"`
}

// UpdatePeerRequest is the request body for PUT /v1/peers/{vm_id}.
type UpdatePeerRequest struct {
	Name          *string `json:"name,omitempty"`
	TransportAddr *string `json:"transport_addr,omitempty"`
	Enabled       *bool   `json:"enabled,omitempty"`
}

// PeerResponse is the response body for peer endpoints.
type PeerResponse struct {
	VMID          uint32    `json:"vm_id"`
	Name          string    `json:"name"`
	TransportAddr string    `json:"transport_addr"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func peerToResponse(p *models.Peer) PeerResponse {
	return PeerResponse{
		VMID:          p.VMID,
		Name:          p.Name,
		TransportAddr: p.TransportAddr,
		Enabled:       p.Enabled,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func parseVMID(r *http.Request) (uint32, bool) {
	raw := chi.URLParam(r, "vm_id")
	v, err := strconv.ParseUint(raw, 10, 32)
	return uint32(v), err == nil
}

// Create handles POST /v1/peers.
func (h *PeerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePeerRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.TransportAddr == "" {
		BadRequest(w, "transport_addr is required")
		return
	}

	peer := &models.Peer{
		VMID:          req.VMID,
		Name:          req.Name,
		TransportAddr: req.TransportAddr,
		Enabled:       true,
	}
	if err := h.store.CreatePeer(r.Context(), peer); err != nil {
		if errors.Is(err, models.ErrDuplicatePeer) {
			Conflict(w, "peer already registered")
			return
		}
		InternalServerError(w, "failed to create peer")
		return
	}

	WriteJSONCreated(w, peerToResponse(peer))
}

// List handles GET /v1/peers.
func (h *PeerHandler) List(w http.ResponseWriter, r *http.Request) {
	peers, err := h.store.ListPeers(r.Context())
	if err != nil {
		InternalServerError(w, "failed to list peers")
		return
	}
	resp := make([]PeerResponse, len(peers))
	for i, p := range peers {
		resp[i] = peerToResponse(p)
	}
	WriteJSONOK(w, resp)
}

// Get handles GET /v1/peers/{vm_id}.
func (h *PeerHandler) Get(w http.ResponseWriter, r *http.Request) {
	vmID, ok := parseVMID(r)
	if !ok {
		BadRequest(w, "vm_id must be a 32-bit integer")
		return
	}
	peer, err := h.store.GetPeer(r.Context(), vmID)
	if err != nil {
		if errors.Is(err, models.ErrPeerNotFound) {
			NotFound(w, "peer not found")
			return
		}
		InternalServerError(w, "failed to get peer")
		return
	}
	WriteJSONOK(w, peerToResponse(peer))
}

// Update handles PUT /v1/peers/{vm_id}.
func (h *PeerHandler) Update(w http.ResponseWriter, r *http.Request) {
	vmID, ok := parseVMID(r)
	if !ok {
		BadRequest(w, "vm_id must be a 32-bit integer")
		return
	}
	var req UpdatePeerRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	peer, err := h.store.GetPeer(r.Context(), vmID)
	if err != nil {
		if errors.Is(err, models.ErrPeerNotFound) {
			NotFound(w, "peer not found")
			return
		}
		InternalServerError(w, "failed to get peer")
		return
	}

	if req.Name != nil {
		peer.Name = *req.Name
	}
	if req.TransportAddr != nil {
		peer.TransportAddr = *req.TransportAddr
	}
	if req.Enabled != nil {
		peer.Enabled = *req.Enabled
	}

	if err := h.store.UpdatePeer(r.Context(), peer); err != nil {
		InternalServerError(w, "failed to update peer")
		return
	}
	WriteJSONOK(w, peerToResponse(peer))
}

// Delete handles DELETE /v1/peers/{vm_id}.
func (h *PeerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	vmID, ok := parseVMID(r)
	if !ok {
		BadRequest(w, "vm_id must be a 32-bit integer")
		return
	}
	if err := h.store.DeletePeer(r.Context(), vmID); err != nil {
		if errors.Is(err, models.ErrPeerNotFound) {
			NotFound(w, "peer not found")
			return
		}
		InternalServerError(w, "failed to delete peer")
		return
	}
	WriteNoContent(w)
}
