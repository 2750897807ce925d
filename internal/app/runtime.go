package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyike/CareMesh/config"
	"github.com/dyike/CareMesh/internal/negotiation"
	"github.com/dyike/CareMesh/internal/observability"
)

type EngineBuilder func(config.Config, *negotiation.Sessions) (*Engine, error)

type Option func(*Runtime)

func WithBuilder(builder EngineBuilder) Option {
	return func(r *Runtime) {
		if builder != nil {
			r.builder = builder
		}
	}
}

func WithNotifier(fn func(topic, payload string)) Option {
	return func(r *Runtime) {
		r.notify = fn
	}
}

// Runtime keeps an Engine in step with the config file. Sessions outlive
// engine rebuilds; a replaced engine stays open until the runtime closes
// so that sessions started on it can finish.
type Runtime struct {
	cfgMgr   *config.Manager
	engine   atomic.Pointer[Engine]
	sessions *negotiation.Sessions

	builder EngineBuilder
	notify  func(string, string)
	cancel  context.CancelFunc

	mu      sync.Mutex
	retired []*Engine
}

func NewRuntime(cfgMgr *config.Manager, opts ...Option) (*Runtime, error) {
	if cfgMgr == nil {
		return nil, fmt.Errorf("config manager is required")
	}

	rt := &Runtime{
		cfgMgr:   cfgMgr,
		sessions: negotiation.NewSessions(),
		builder:  BuildEngine,
	}

	for _, opt := range opts {
		opt(rt)
	}

	if err := rt.reload(cfgMgr.Get()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	if err := cfgMgr.Watch(ctx, func(cfg config.Config) {
		if err := rt.reload(cfg); err != nil {
			observability.Logger().Error("engine reload failed", "error", err)
		}
	}); err != nil {
		cancel()
		_ = rt.Engine().Close()
		return nil, err
	}

	return rt, nil
}

func (r *Runtime) Engine() *Engine {
	return r.engine.Load()
}

func (r *Runtime) Orchestrator() *negotiation.Orchestrator {
	return r.Engine().Orchestrator
}

func (r *Runtime) Config() config.Config {
	return r.cfgMgr.Get()
}

func (r *Runtime) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Lock()
	engines := append(r.retired, r.engine.Swap(nil))
	r.retired = nil
	r.mu.Unlock()

	var firstErr error
	for _, e := range engines {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Runtime) UpdateConfigJSON(jsonStr string) error {
	return r.cfgMgr.UpdateFromJSON(jsonStr)
}

func (r *Runtime) reload(cfg config.Config) error {
	engine, err := r.builder(cfg, r.sessions)
	if err != nil {
		r.notifyFailure(err)
		return err
	}
	if old := r.engine.Swap(engine); old != nil {
		r.mu.Lock()
		r.retired = append(r.retired, old)
		r.mu.Unlock()
	}
	r.notifySuccess(engine)
	return nil
}

func (r *Runtime) notifySuccess(engine *Engine) {
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"version":  engine.Version,
		"built_at": engine.BuiltAt.UTC().Format(time.RFC3339),
	})
	r.notify("engine.reloaded", string(payload))
}

func (r *Runtime) notifyFailure(err error) {
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"error": err.Error(),
	})
	r.notify("engine.reload_failed", string(payload))
}
