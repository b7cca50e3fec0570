package store

import (
	"context"

	"github.com/hyperbridge/dmabridge/pkg/controlplane/models"
)

func (s *GORMStore) RecordAuditEntry(ctx context.Context, entry *models.ExportAuditEntry) error {
	entry.ID = generateID(entry.ID)
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *GORMStore) ListAuditEntriesForHandle(ctx context.Context, handle string) ([]*models.ExportAuditEntry, error) {
	var results []*models.ExportAuditEntry
	if err := s.db.WithContext(ctx).
		Where("handle = ?", handle).
		Order("created_at asc").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *GORMStore) ListRecentAuditEntries(ctx context.Context, limit int) ([]*models.ExportAuditEntry, error) {
	return listAll[models.ExportAuditEntry](s.db, ctx, "created_at desc", limit)
}
