package store

import (
	"context"

	"github.com/hyperbridge/dmabridge/pkg/controlplane/models"
)

func (s *GORMStore) GetPeer(ctx context.Context, vmID uint32) (*models.Peer, error) {
	return getByField[models.Peer](s.db, ctx, "vm_id", vmID, models.ErrPeerNotFound)
}

func (s *GORMStore) ListPeers(ctx context.Context) ([]*models.Peer, error) {
	return listAll[models.Peer](s.db, ctx, "vm_id", 0)
}

func (s *GORMStore) CreatePeer(ctx context.Context, peer *models.Peer) error {
	return create(s.db, ctx, peer, models.ErrDuplicatePeer)
}

func (s *GORMStore) UpdatePeer(ctx context.Context, peer *models.Peer) error {
	var existing models.Peer
	if err := s.db.WithContext(ctx).Where("vm_id = ?", peer.VMID).First(&existing).Error; err != nil {
		return convertNotFoundError(err, models.ErrPeerNotFound)
	}
	return s.db.WithContext(ctx).
		Model(&existing).
		Select("Name", "TransportAddr", "Enabled").
		Updates(peer).Error
}

func (s *GORMStore) DeletePeer(ctx context.Context, vmID uint32) error {
	return deleteByField[models.Peer](s.db, ctx, "vm_id", vmID, models.ErrPeerNotFound)
}
