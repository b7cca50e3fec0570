package service

import "github.com/hyperbridge/dmabridge/internal/logger"

// TxChSetup and RxChSetup establish, idempotently, the bidirectional ring
// this VM uses to talk to peerVM. The original ioctl pair configures a
// producer ring and a consumer ring as two separate steps; pkg/transport
// models both directions as a single Link, so both verbs converge on the
// same AddPeer call and differ only in which half of the handshake a caller
// is being asked to complete.
func (s *Service) TxChSetup(peerVM uint32) error {
	s.transport.EnsurePeer(peerVM)
	logger.Info("service: tx channel established", logger.PeerVM(peerVM))
	return nil
}

func (s *Service) RxChSetup(peerVM uint32) error {
	s.transport.EnsurePeer(peerVM)
	logger.Info("service: rx channel established", logger.PeerVM(peerVM))
	return nil
}
