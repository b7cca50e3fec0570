package apiclient

import "fmt"

// SetupTx calls TxChSetup via POST /v1/channels/{peer_vm}/tx.
func (c *Client) SetupTx(peerVM uint32) error {
	return c.post(fmt.Sprintf("/v1/channels/%d/tx", peerVM), nil, nil)
}

// SetupRx calls RxChSetup via POST /v1/channels/{peer_vm}/rx.
func (c *Client) SetupRx(peerVM uint32) error {
	return c.post(fmt.Sprintf("/v1/channels/%d/rx", peerVM), nil, nil)
}
