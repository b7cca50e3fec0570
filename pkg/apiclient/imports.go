package apiclient

import "fmt"

// ExportFdResponse mirrors handlers.ExportFdResponse.
type ExportFdResponse struct {
	Handle string `json:"handle"`
	Nents  uint32 `json:"nents"`
}

// ExportFd calls ExportFd via POST /v1/imports/{handle}/fd?peer_vm=.
func (c *Client) ExportFd(handle string, peerVM uint32) (*ExportFdResponse, error) {
	var resp ExportFdResponse
	path := fmt.Sprintf("/v1/imports/%s/fd?peer_vm=%d", handle, peerVM)
	if err := c.post(path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
