package debug

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cloudwego/eino-ext/devops"

	"github.com/dyike/CareMesh/config"
	"github.com/dyike/CareMesh/internal/observability"
)

// EinoDebugger exposes the oracle chains to the Eino visual debugger when
// enabled in config.
type EinoDebugger struct {
	enabled bool
	port    int
	init    func(ctx context.Context, port int) error
}

func NewEinoDebugger(cfg config.Config) *EinoDebugger {
	return &EinoDebugger{
		enabled: cfg.EinoDebugEnabled,
		port:    cfg.EinoDebugPort,
		init: func(ctx context.Context, port int) error {
			return devops.Init(ctx, devops.WithDevServerPort(strconv.Itoa(port)))
		},
	}
}

func (d *EinoDebugger) Initialize(ctx context.Context) error {
	if !d.enabled {
		return nil
	}
	log := observability.Logger()
	log.Info("initializing eino debug plugin", "port", d.port)

	if err := d.init(ctx, d.port); err != nil {
		return fmt.Errorf("failed to initialize Eino debug plugin: %w", err)
	}
	log.Info("eino debug server ready", "url", d.URL())
	return nil
}

func (d *EinoDebugger) IsEnabled() bool {
	return d.enabled
}

func (d *EinoDebugger) URL() string {
	if !d.enabled {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", d.port)
}
