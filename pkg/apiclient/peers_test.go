package apiclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPeers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/peers", r.URL.Path)

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode([]Peer{
			{VMID: 1, Name: "vm1", TransportAddr: "10.0.0.1:9000", Enabled: true},
			{VMID: 2, Name: "vm2", TransportAddr: "10.0.0.2:9000", Enabled: true},
		})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	peers, err := client.ListPeers()

	require.NoError(t, err)
	assert.Len(t, peers, 2)
	assert.Equal(t, "vm1", peers[0].Name)
	assert.Equal(t, uint32(2), peers[1].VMID)
}

func TestGetPeer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/peers/7", r.URL.Path)

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(Peer{VMID: 7, Name: "vm7", Enabled: true})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	peer, err := client.GetPeer(7)

	require.NoError(t, err)
	assert.Equal(t, uint32(7), peer.VMID)
	assert.Equal(t, "vm7", peer.Name)
}

func TestGetPeer_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(Problem{Title: "peer not found", Status: http.StatusNotFound})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	peer, err := client.GetPeer(99)

	assert.Nil(t, peer)
	require.Error(t, err)

	problem, ok := err.(*Problem)
	require.True(t, ok)
	assert.True(t, problem.IsNotFound())
}

func TestCreatePeer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/peers", r.URL.Path)

		var req CreatePeerRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, uint32(5), req.VMID)
		assert.Equal(t, "vm5", req.Name)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Peer{VMID: req.VMID, Name: req.Name, TransportAddr: req.TransportAddr, Enabled: true})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	peer, err := client.CreatePeer(CreatePeerRequest{VMID: 5, Name: "vm5", TransportAddr: "10.0.0.5:9000"})

	require.NoError(t, err)
	assert.Equal(t, uint32(5), peer.VMID)
	assert.True(t, peer.Enabled)
}

func TestCreatePeer_Conflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(Problem{Title: "peer already registered", Status: http.StatusConflict})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	peer, err := client.CreatePeer(CreatePeerRequest{VMID: 5})

	assert.Nil(t, peer)
	require.Error(t, err)
	problem, ok := err.(*Problem)
	require.True(t, ok)
	assert.True(t, problem.IsConflict())
}

func TestUpdatePeer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/peers/5", r.URL.Path)

		var req UpdatePeerRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.Name)
		assert.Equal(t, "renamed", *req.Name)

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(Peer{VMID: 5, Name: "renamed", Enabled: true})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	newName := "renamed"
	peer, err := client.UpdatePeer(5, UpdatePeerRequest{Name: &newName})

	require.NoError(t, err)
	assert.Equal(t, "renamed", peer.Name)
}

func TestDeletePeer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v1/peers/5", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	err := client.DeletePeer(5)

	require.NoError(t, err)
}
