package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
)

func TestWriteBridgeErrorMapsCodes(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", bridgeerr.New(bridgeerr.NotFound, "no such handle"), http.StatusNotFound},
		{"invalid", bridgeerr.New(bridgeerr.Invalid, "unexported"), http.StatusBadRequest},
		{"bad arg", bridgeerr.New(bridgeerr.BadArg, "malformed"), http.StatusBadRequest},
		{"peer down", bridgeerr.New(bridgeerr.PeerDown, "no ring"), http.StatusBadGateway},
		{"timeout", bridgeerr.New(bridgeerr.Timeout, "deadline"), http.StatusGatewayTimeout},
		{"exhausted", bridgeerr.New(bridgeerr.Exhausted, "no slots"), http.StatusInsufficientStorage},
		{"still referenced", bridgeerr.New(bridgeerr.StillReferenced, "mapped"), http.StatusConflict},
		{"untyped", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeBridgeError(w, tt.err)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, contentTypeProblemJSON, w.Header().Get("Content-Type"))
		})
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"vm_id": 1, "bogus": true}`))
	w := httptest.NewRecorder()

	var req CreatePeerRequest
	ok := decodeJSONBody(w, r, &req)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
