package loader

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ormasoftchile/stepscript/pkg/audit"
	"github.com/ormasoftchile/stepscript/pkg/config"
	"github.com/ormasoftchile/stepscript/pkg/repair"
	"github.com/ormasoftchile/stepscript/pkg/storage"
)

// Components holds a Loader built from configuration and the resources it
// owns. Both binaries construct their document pipeline through it.
type Components struct {
	Store  storage.Store
	Audit  *audit.Writer
	Loader *Loader

	logger *zap.Logger
}

// NewComponents opens the configured store and audit trail and wires a
// Loader over them. On error nothing is left open.
func NewComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Components{logger: logger}

	switch cfg.Storage.Backend {
	case "bolt":
		s, err := storage.NewBoltStore(cfg.Storage.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		c.Store = s
	default:
		c.Store = storage.NewFileStore("")
	}

	if cfg.Audit.Enabled {
		w, err := audit.NewFileWriter(cfg.Audit.Path)
		if err != nil {
			c.Store.Close()
			return nil, fmt.Errorf("open audit trail: %w", err)
		}
		c.Audit = w
	}

	ropts := []repair.Option{repair.WithLogger(logger)}
	if cfg.Repair.Platform != "" {
		ropts = append(ropts, repair.WithPlatform(cfg.Repair.Platform))
	}
	opts := []Option{
		WithLogger(logger),
		WithRepairer(repair.New(ropts...)),
		WithAudit(c.Audit),
	}
	if cfg.Assets.Check {
		opts = append(opts, WithAssets(storage.DirAssets{Root: cfg.Assets.Root}))
	}
	c.Loader = New(c.Store, opts...)
	return c, nil
}

// Shutdown closes the audit trail, then the store. Failures are logged.
func (c *Components) Shutdown() {
	if err := c.Audit.Close(); err != nil {
		c.logger.Warn("close audit", zap.Error(err))
	}
	if err := c.Store.Close(); err != nil {
		c.logger.Warn("close store", zap.Error(err))
	}
}
