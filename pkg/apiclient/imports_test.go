package apiclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportFd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/imports/hdbuf-1/fd", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("peer_vm"))

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(ExportFdResponse{Handle: "hdbuf-1", Nents: 2})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	resp, err := client.ExportFd("hdbuf-1", 3)

	require.NoError(t, err)
	assert.Equal(t, "hdbuf-1", resp.Handle)
	assert.Equal(t, uint32(2), resp.Nents)
}
