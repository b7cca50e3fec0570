package apiclient

import (
	"encoding/base64"
	"time"
)

// CreateSessionRequest mirrors handlers.CreateSessionRequest.
type CreateSessionRequest struct {
	AuthToken string `json:"auth_token,omitempty"`
	OwnerVM   uint32 `json:"owner_vm,omitempty"`
}

// SessionResponse mirrors handlers.SessionResponse.
type SessionResponse struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	OwnerVM   uint32    `json:"owner_vm"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateSession exchanges ownerVM (the anonymous dev path, no configured
// AuthProvider) for a session Bearer token.
func (c *Client) CreateSession(ownerVM uint32) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.post("/v1/sessions", CreateSessionRequest{OwnerVM: ownerVM}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateSessionWithToken exchanges a raw mechanism-specific token (e.g. a
// SPNEGO blob) for a session Bearer token, base64-encoding it for the wire.
func (c *Client) CreateSessionWithToken(rawToken []byte) (*SessionResponse, error) {
	var resp SessionResponse
	req := CreateSessionRequest{AuthToken: base64.StdEncoding.EncodeToString(rawToken)}
	if err := c.post("/v1/sessions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
