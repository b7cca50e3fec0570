package apiclient

import (
	"fmt"
	"time"
)

// Peer mirrors handlers.PeerResponse.
type Peer struct {
	VMID          uint32    `json:"vm_id"`
	Name          string    `json:"name"`
	TransportAddr string    `json:"transport_addr"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CreatePeerRequest mirrors handlers.CreatePeerRequest.
type CreatePeerRequest struct {
	VMID          uint32 `json:"vm_id"`
	Name          string `json:"name"`
	TransportAddr string `json:"transport_addr"`
}

// UpdatePeerRequest mirrors handlers.UpdatePeerRequest.
type UpdatePeerRequest struct {
	Name          *string `json:"name,omitempty"`
	TransportAddr *string `json:"transport_addr,omitempty"`
	Enabled       *bool   `json:"enabled,omitempty"`
}

// CreatePeer registers a peer.
func (c *Client) CreatePeer(req CreatePeerRequest) (*Peer, error) {
	var peer Peer
	if err := c.post("/v1/peers", req, &peer); err != nil {
		return nil, err
	}
	return &peer, nil
}

// ListPeers lists every registered peer.
func (c *Client) ListPeers() ([]Peer, error) {
	var peers []Peer
	if err := c.get("/v1/peers", &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

// GetPeer fetches one peer by VM id.
func (c *Client) GetPeer(vmID uint32) (*Peer, error) {
	var peer Peer
	if err := c.get(fmt.Sprintf("/v1/peers/%d", vmID), &peer); err != nil {
		return nil, err
	}
	return &peer, nil
}

// UpdatePeer updates a peer's name/address/enabled fields.
func (c *Client) UpdatePeer(vmID uint32, req UpdatePeerRequest) (*Peer, error) {
	var peer Peer
	if err := c.put(fmt.Sprintf("/v1/peers/%d", vmID), req, &peer); err != nil {
		return nil, err
	}
	return &peer, nil
}

// DeletePeer removes a peer from the bootstrap list.
func (c *Client) DeletePeer(vmID uint32) error {
	return c.delete(fmt.Sprintf("/v1/peers/%d", vmID), nil)
}
