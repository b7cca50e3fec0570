package apiclient

import "fmt"

// CreateExportRequest mirrors handlers.CreateExportRequest.
type CreateExportRequest struct {
	FD     int    `json:"fd"`
	PeerVM uint32 `json:"peer_vm"`
	Priv   []byte `json:"priv,omitempty"`
}

// ExportResponse mirrors handlers.ExportResponse.
type ExportResponse struct {
	Handle string `json:"handle"`
}

// QueryResponse mirrors handlers.QueryResponse.
type QueryResponse struct {
	Item  string `json:"item"`
	Value any    `json:"value"`
}

// CreateExport calls ExportRemote via POST /v1/exports.
func (c *Client) CreateExport(req CreateExportRequest) (*ExportResponse, error) {
	var resp ExportResponse
	if err := c.post("/v1/exports", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueryExport calls Query via GET /v1/exports/{handle}?item=.
func (c *Client) QueryExport(handle, item string) (*QueryResponse, error) {
	var resp QueryResponse
	path := fmt.Sprintf("/v1/exports/%s", handle)
	if item != "" {
		path += "?item=" + item
	}
	if err := c.get(path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Unexport calls Unexport via DELETE /v1/exports/{handle}?delay_ms=.
func (c *Client) Unexport(handle string, delayMs int) error {
	path := fmt.Sprintf("/v1/exports/%s", handle)
	if delayMs > 0 {
		path += fmt.Sprintf("?delay_ms=%d", delayMs)
	}
	return c.delete(path, nil)
}
