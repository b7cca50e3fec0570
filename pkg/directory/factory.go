package directory

import (
	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
	"github.com/hyperbridge/dmabridge/pkg/config"
)

// New builds the Directory backend selected by cfg (pkg/config.DirectoryConfig).
func New(cfg config.DirectoryConfig) (Directory, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryDirectory(), nil
	case "fsnotify":
		return NewFileDirectory(cfg.Path)
	case "badger":
		return OpenBadgerDirectory(cfg.Path)
	default:
		return nil, bridgeerr.Newf(bridgeerr.BadArg, "unknown directory backend %q", cfg.Backend)
	}
}
