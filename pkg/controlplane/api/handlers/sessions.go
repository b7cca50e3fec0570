package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/hyperbridge/dmabridge/pkg/auth"
	"github.com/hyperbridge/dmabridge/pkg/session"
)

// SessionHandler turns a mechanism-specific auth token (Kerberos ticket,
// or a raw owner_vm on the anonymous path) into a signed session
// token the rest of the control surface accepts as a Bearer credential.
type SessionHandler struct {
	authenticator *auth.Authenticator
	minter        *session.Minter
}

// NewSessionHandler builds a SessionHandler. authenticator may be nil, in
// which case Create only accepts the anonymous dev path (a bare owner_vm,
// no auth_token) — wiring a real provider is what turns that path off.
func NewSessionHandler(authenticator *auth.Authenticator, minter *session.Minter) *SessionHandler {
	return &SessionHandler{authenticator: authenticator, minter: minter}
}

// CreateSessionRequest is the request body for POST /v1/sessions.
type CreateSessionRequest struct {
	// AuthToken is the base64-encoded mechanism-specific token (e.g. a
	// SPNEGO blob). Omit it, with OwnerVM set instead, on a daemon running
	// without an Authenticator configured.
	AuthToken string `json:"auth_token,omitempty"`
	OwnerVM   uint32 `json:"owner_vm,omitempty"`
}

// SessionResponse is the response body for POST /v1/sessions.
type SessionResponse struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	OwnerVM   uint32    `json:"owner_vm"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Create handles POST /v1/sessions.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	ownerVM := req.OwnerVM
	if req.AuthToken != "" {
		if h.authenticator == nil {
			Forbidden(w, "token authentication is not configured on this daemon")
			return
		}
		raw, err := base64.StdEncoding.DecodeString(req.AuthToken)
		if err != nil {
			BadRequest(w, "auth_token must be base64-encoded")
			return
		}
		result, err := h.authenticator.Authenticate(r.Context(), raw)
		if err != nil {
			if errors.Is(err, auth.ErrUnsupportedMechanism) {
				Unauthorized(w, "no configured provider accepts this token")
				return
			}
			Unauthorized(w, "authentication failed")
			return
		}
		if result == nil || !result.Authenticated {
			Unauthorized(w, "authentication failed")
			return
		}
		ownerVM = result.Identity.OwnerVM
	} else if h.authenticator != nil {
		BadRequest(w, "auth_token is required")
		return
	}

	ref, err := h.minter.Mint(ownerVM)
	if err != nil {
		InternalServerError(w, "failed to mint session token")
		return
	}

	WriteJSONCreated(w, SessionResponse{
		Token:     ref.Token,
		SessionID: ref.SessionID,
		OwnerVM:   ref.OwnerVM,
		ExpiresAt: ref.ExpiresAt,
	})
}
