package service

import (
	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
	"github.com/hyperbridge/dmabridge/pkg/handle"
	"github.com/hyperbridge/dmabridge/pkg/pages"
	"github.com/hyperbridge/dmabridge/pkg/registry"
)

// QueryItem names a single queryable fact about a handle, exported or
// imported. PeerVM and LastRef have no counterpart in the original ioctl's
// item enum; they round out what a control-plane caller (and the REST API
// built on top of Service) needs to show a human without re-deriving it
// from Exporter/Importer plus Busy.
type QueryItem int

const (
	QueryType QueryItem = iota
	QueryExporter
	QueryImporter
	QuerySize
	QueryBusy
	QueryUnexported
	QueryDelayedUnexported
	QueryPrivSize
	QueryPrivCopy
	QueryPeerVM
	QueryLastRef
)

func (q QueryItem) String() string {
	switch q {
	case QueryType:
		return "TYPE"
	case QueryExporter:
		return "EXPORTER"
	case QueryImporter:
		return "IMPORTER"
	case QuerySize:
		return "SIZE"
	case QueryBusy:
		return "BUSY"
	case QueryUnexported:
		return "UNEXPORTED"
	case QueryDelayedUnexported:
		return "DELAYED_UNEXPORTED"
	case QueryPrivSize:
		return "PRIV_SIZE"
	case QueryPrivCopy:
		return "PRIV_COPY"
	case QueryPeerVM:
		return "PEER_VM"
	case QueryLastRef:
		return "LAST_REF"
	default:
		return "UNKNOWN"
	}
}

// Query answers item for hdl, checking the Exported Registry first and
// falling back to the Imported Registry: a handle can never be in both at
// once, since exported handles are minted by this VM's allocator and carry
// its id in their top bits, while imported ones are minted by the exporter.
func (s *Service) Query(hdl handle.Handle, item QueryItem) (any, error) {
	if s.metrics != nil {
		s.metrics.RecordQuery(item.String())
	}
	if entry, ok := s.exported.Find(hdl); ok {
		return s.queryExported(entry, item)
	}
	if entry, ok := s.imported.Find(hdl); ok {
		return s.queryImported(entry, item)
	}
	return nil, bridgeerr.New(bridgeerr.NotFound, "unknown handle")
}

func (s *Service) queryExported(entry *registry.ExportedEntry, item QueryItem) (any, error) {
	entry.Lock()
	defer entry.Unlock()

	switch item {
	case QueryType:
		return "exported", nil
	case QueryExporter:
		return s.selfVM, nil
	case QueryImporter, QueryPeerVM:
		return entry.PeerVM, nil
	case QuerySize:
		return sizeBytes(entry.PageLayout), nil
	case QueryBusy:
		return entry.ImporterExportedCount > 0 || !entry.Activity.Empty(), nil
	case QueryUnexported:
		return !entry.Valid, nil
	case QueryDelayedUnexported:
		return entry.Unexport.Scheduled, nil
	case QueryPrivSize:
		return len(entry.Priv), nil
	case QueryPrivCopy:
		out := make([]byte, len(entry.Priv))
		copy(out, entry.Priv)
		return out, nil
	case QueryLastRef:
		// The bottom attachment and mapping pushed at export time stay until
		// teardown, so only activity above them counts as an outstanding ref.
		a := &entry.Activity
		return entry.ImporterExportedCount <= 1 && a.Attachments.Len() <= 1 && a.Mappings.Len() <= 1 &&
			a.Kmaps.Len() == 0 && a.Vmaps.Len() == 0, nil
	default:
		return nil, bridgeerr.New(bridgeerr.BadArg, "unknown query item")
	}
}

func (s *Service) queryImported(entry *registry.ImportedEntry, item QueryItem) (any, error) {
	entry.Lock()
	defer entry.Unlock()

	switch item {
	case QueryType:
		return "imported", nil
	case QueryExporter, QueryPeerVM:
		return entry.Handle.OriginVM(), nil
	case QueryImporter:
		return s.selfVM, nil
	case QuerySize:
		return sizeBytes(entry.PageLayout), nil
	case QueryBusy:
		return entry.LocalImporters > 0, nil
	case QueryUnexported:
		return !entry.Valid, nil
	case QueryDelayedUnexported:
		return false, nil
	case QueryPrivSize:
		return len(entry.Priv), nil
	case QueryPrivCopy:
		out := make([]byte, len(entry.Priv))
		copy(out, entry.Priv)
		return out, nil
	case QueryLastRef:
		return entry.LocalImporters <= 1, nil
	default:
		return nil, bridgeerr.New(bridgeerr.BadArg, "unknown query item")
	}
}

// sizeBytes recovers the buffer's byte length from its page layout:
// Nents-1 full/leading pages plus the tail, minus whatever the first page's
// leading offset excludes.
func sizeBytes(layout pages.Layout) uint64 {
	if layout.Nents == 0 {
		return 0
	}
	if layout.Nents == 1 {
		return uint64(layout.LastLength) - uint64(layout.FirstOffset)
	}
	return uint64(pages.PageSize-int(layout.FirstOffset)) + uint64(layout.Nents-2)*pages.PageSize + uint64(layout.LastLength)
}
