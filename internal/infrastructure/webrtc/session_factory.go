package webrtc

import (
	"sync"

	"callnet/internal/core/domain"
	"callnet/internal/core/ports"

	"go.uber.org/zap"
)

// SessionFactory builds the media engine once and hands out one PeerManager per call.
type SessionFactory struct {
	cfg    Config
	build  EngineBuilder
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	engine Engine
}

// NewSessionFactory uses the pion engine when build is nil.
func NewSessionFactory(cfg Config, build EngineBuilder, logger *zap.SugaredLogger) *SessionFactory {
	if build == nil {
		build = NewPionEngine
	}
	return &SessionFactory{
		cfg:    cfg,
		build:  build,
		logger: logger,
	}
}

// Initialize builds the engine on a background goroutine and reports the outcome via done.
// A later call after a failure retries; after success it reports nil immediately.
func (f *SessionFactory) Initialize(done func(error)) {
	if f.Ready() {
		done(nil)
		return
	}

	go func() {
		engine, err := f.build(f.cfg)
		if err != nil {
			f.logger.Errorw("media engine initialization failed", "error", err)
			done(err)
			return
		}

		f.mu.Lock()
		if f.engine == nil {
			f.engine = engine
		}
		f.mu.Unlock()

		f.logger.Infow("media engine initialized", "ice_servers", len(f.cfg.ICEServers))
		done(nil)
	}()
}

// Ready reports whether Initialize has succeeded.
func (f *SessionFactory) Ready() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.engine != nil
}

func (f *SessionFactory) NewSession(callID domain.CallID) (ports.PeerSession, error) {
	f.mu.RLock()
	engine := f.engine
	f.mu.RUnlock()

	if engine == nil {
		return nil, domain.ErrEngineNotReady
	}
	return NewPeerManager(callID, engine, f.cfg.ICEServers, f.logger), nil
}
