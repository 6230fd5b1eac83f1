// Package service provides the classical-inheritance-style
// start/stop/wait lifecycle that events.Bus and financeindex.Service
// embed.
package service

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/veritaschain/consensus-core/internal/log"
)

var (
	// ErrAlreadyStarted is returned when somebody tries to start an already
	// running service.
	ErrAlreadyStarted = errors.New("already started")
	// ErrAlreadyStopped is returned when somebody tries to stop an already
	// stopped service (without resetting it).
	ErrAlreadyStopped = errors.New("already stopped")
	// ErrNotStarted is returned when somebody tries to stop a not running
	// service.
	ErrNotStarted = errors.New("not started")
)

// Service defines a component that can be started, stopped, and waited on.
type Service interface {
	Start(context.Context) error
	IsRunning() bool
	String() string
	Wait()
}

// Implementation describes the type that BaseService wraps.
type Implementation interface {
	Service

	OnStart(context.Context) error
	OnStop()
}

// BaseService implements the common Start/Stop/Wait bookkeeping so
// that OnStart/OnStop only need to describe what is specific to a
// given component. The caller must ensure Start and Stop are not
// called concurrently. It is fine to call Stop without Start.
type BaseService struct {
	logger  log.Logger
	name    string
	started uint32 // atomic
	stopped uint32 // atomic
	quit    chan struct{}

	impl Implementation
}

// NewBaseService creates a new BaseService.
func NewBaseService(logger log.Logger, name string, impl Implementation) *BaseService {
	return &BaseService{
		logger: logger,
		name:   name,
		quit:   make(chan struct{}),
		impl:   impl,
	}
}

// Start starts the service and calls its OnStart method. An error is
// returned if the service is already running or has already stopped;
// a stopped service cannot be restarted.
func (bs *BaseService) Start(ctx context.Context) error {
	if atomic.CompareAndSwapUint32(&bs.started, 0, 1) {
		if atomic.LoadUint32(&bs.stopped) == 1 {
			bs.logger.Error("not starting service; already stopped", "service", bs.name, "impl", bs.impl.String())
			atomic.StoreUint32(&bs.started, 0)
			return ErrAlreadyStopped
		}

		bs.logger.Info("starting service", "service", bs.name, "impl", bs.impl.String())

		if err := bs.impl.OnStart(ctx); err != nil {
			atomic.StoreUint32(&bs.started, 0)
			return err
		}

		go func(ctx context.Context) {
			select {
			case <-bs.quit:
				return
			case <-ctx.Done():
				if !bs.impl.IsRunning() {
					return
				}
				if err := bs.Stop(); err != nil {
					bs.logger.Error("stopped service", "err", err.Error(), "service", bs.name, "impl", bs.impl.String())
				}
				bs.logger.Info("stopped service", "service", bs.name, "impl", bs.impl.String())
			}
		}(ctx)

		return nil
	}

	return ErrAlreadyStarted
}

// Stop calls OnStop and closes the quit channel. An error is returned
// if the service is already stopped.
func (bs *BaseService) Stop() error {
	if atomic.CompareAndSwapUint32(&bs.stopped, 0, 1) {
		if atomic.LoadUint32(&bs.started) == 0 {
			bs.logger.Error("not stopping service; not started yet", "service", bs.name, "impl", bs.impl.String())
			atomic.StoreUint32(&bs.stopped, 0)
			return ErrNotStarted
		}

		bs.logger.Info("stopping service", "service", bs.name, "impl", bs.impl.String())
		bs.impl.OnStop()
		close(bs.quit)

		return nil
	}

	return ErrAlreadyStopped
}

// IsRunning reports whether the service has started and not yet stopped.
func (bs *BaseService) IsRunning() bool {
	return atomic.LoadUint32(&bs.started) == 1 && atomic.LoadUint32(&bs.stopped) == 0
}

// Wait blocks until the service is stopped.
func (bs *BaseService) Wait() { <-bs.quit }

// String returns the service's name.
func (bs *BaseService) String() string { return bs.name }
