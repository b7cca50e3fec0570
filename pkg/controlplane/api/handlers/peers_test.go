package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperbridge/dmabridge/pkg/controlplane/models"
)

// fakePeerStore is an in-memory store.PeerStore for handler tests, mirroring
// only the contract the handler depends on.
type fakePeerStore struct {
	peers map[uint32]*models.Peer
}

func newFakePeerStore() *fakePeerStore {
	return &fakePeerStore{peers: make(map[uint32]*models.Peer)}
}

func (s *fakePeerStore) GetPeer(ctx context.Context, vmID uint32) (*models.Peer, error) {
	p, ok := s.peers[vmID]
	if !ok {
		return nil, models.ErrPeerNotFound
	}
	return p, nil
}

func (s *fakePeerStore) ListPeers(ctx context.Context) ([]*models.Peer, error) {
	out := make([]*models.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakePeerStore) CreatePeer(ctx context.Context, peer *models.Peer) error {
	if _, ok := s.peers[peer.VMID]; ok {
		return models.ErrDuplicatePeer
	}
	s.peers[peer.VMID] = peer
	return nil
}

func (s *fakePeerStore) UpdatePeer(ctx context.Context, peer *models.Peer) error {
	if _, ok := s.peers[peer.VMID]; !ok {
		return models.ErrPeerNotFound
	}
	s.peers[peer.VMID] = peer
	return nil
}

func (s *fakePeerStore) DeletePeer(ctx context.Context, vmID uint32) error {
	if _, ok := s.peers[vmID]; !ok {
		return models.ErrPeerNotFound
	}
	delete(s.peers, vmID)
	return nil
}

func withVMIDParam(r *http.Request, vmID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("vm_id", vmID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestPeerHandlerCreateAndGet(t *testing.T) {
	h := NewPeerHandler(newFakePeerStore())

	body := `{"vm_id": 7, "name": "guest-7", "transport_addr": "vsock:7:5000"}`
	r := httptest.NewRequest(http.MethodPost, "/v1/peers", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Create(w, r)
	require.Equal(t, http.StatusCreated, w.Code)

	var created PeerResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.Equal(t, uint32(7), created.VMID)
	assert.True(t, created.Enabled)

	getReq := withVMIDParam(httptest.NewRequest(http.MethodGet, "/v1/peers/7", nil), "7")
	getW := httptest.NewRecorder()
	h.Get(getW, getReq)
	assert.Equal(t, http.StatusOK, getW.Code)
}

func TestPeerHandlerCreateDuplicateConflicts(t *testing.T) {
	store := newFakePeerStore()
	store.peers[7] = &models.Peer{VMID: 7, TransportAddr: "vsock:7:5000", Enabled: true}
	h := NewPeerHandler(store)

	body := `{"vm_id": 7, "transport_addr": "vsock:7:5001"}`
	r := httptest.NewRequest(http.MethodPost, "/v1/peers", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Create(w, r)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPeerHandlerGetMissingReturns404(t *testing.T) {
	h := NewPeerHandler(newFakePeerStore())
	r := withVMIDParam(httptest.NewRequest(http.MethodGet, "/v1/peers/99", nil), "99")
	w := httptest.NewRecorder()
	h.Get(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPeerHandlerUpdateAppliesPartialFields(t *testing.T) {
	store := newFakePeerStore()
	store.peers[3] = &models.Peer{VMID: 3, Name: "old", TransportAddr: "vsock:3:5000", Enabled: true}
	h := NewPeerHandler(store)

	body := `{"name": "new-name"}`
	r := withVMIDParam(httptest.NewRequest(http.MethodPut, "/v1/peers/3", strings.NewReader(body)), "3")
	w := httptest.NewRecorder()
	h.Update(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "new-name", store.peers[3].Name)
	assert.Equal(t, "vsock:3:5000", store.peers[3].TransportAddr)
}

func TestPeerHandlerDelete(t *testing.T) {
	store := newFakePeerStore()
	store.peers[3] = &models.Peer{VMID: 3, TransportAddr: "vsock:3:5000", Enabled: true}
	h := NewPeerHandler(store)

	r := withVMIDParam(httptest.NewRequest(http.MethodDelete, "/v1/peers/3", nil), "3")
	w := httptest.NewRecorder()
	h.Delete(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	_, ok := store.peers[3]
	assert.False(t, ok)
}
