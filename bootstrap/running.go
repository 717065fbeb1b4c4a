package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"explorviz/api"
	"explorviz/metrics"
	"explorviz/rpc"
	"explorviz/util/goroutine"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunningService is the handle to a started service. It owns the bound
// surfaces and the clients they use until Shutdown returns.
type RunningService struct {
	bootstrap   *Bootstrap
	gracePeriod time.Duration
	rest        *api.API
	rpc         *rpc.Server
	resources   []closer
	logger      *zap.SugaredLogger

	serving sync.WaitGroup

	mu       sync.Mutex
	stopping bool
	err      error

	doneOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

// RESTAddr returns the bound REST address, or "" when REST is disabled.
func (rs *RunningService) RESTAddr() string {
	if rs.rest == nil {
		return ""
	}
	return rs.rest.Addr()
}

// RPCAddr returns the bound gRPC address, or "" when gRPC is disabled.
func (rs *RunningService) RPCAddr() string {
	if rs.rpc == nil {
		return ""
	}
	return rs.rpc.Addr()
}

// Done is closed when the service stops serving, either because Shutdown
// ran or because a surface failed.
func (rs *RunningService) Done() <-chan struct{} {
	return rs.done
}

// Err returns the error that made a surface stop serving, if any.
func (rs *RunningService) Err() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.err
}

func (rs *RunningService) closeDone() {
	rs.doneOnce.Do(func() { close(rs.done) })
}

// serve runs fn until its surface stops. An unexpected error is recorded and
// closes Done so the owner can shut down.
func (rs *RunningService) serve(name string, fn func() error) {
	goroutine.Go(&rs.serving, name+" server", rs.logger, func() {
		if err := fn(); err != nil {
			rs.logger.Errorw("Surface stopped serving", "surface", name, "error", err)
			rs.mu.Lock()
			if rs.err == nil {
				rs.err = fmt.Errorf("%s: %w", name, err)
			}
			rs.mu.Unlock()
			rs.closeDone()
		}
	})
}

// Shutdown stops admission on every surface, waits for in-flight work until
// shutdown.grace_period or ctx ends, then releases all clients. Work still
// running at that point is cut off and an *Error of KindShutdownTimeout is
// returned. Clients are released on every path.
//
// Only the first call does the work. Later or concurrent calls wait until
// the service has stopped and return nil, or return ctx's error if it ends
// first.
func (rs *RunningService) Shutdown(ctx context.Context) error {
	rs.mu.Lock()
	if rs.stopping {
		rs.mu.Unlock()
		select {
		case <-rs.stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	rs.stopping = true
	rs.mu.Unlock()
	defer close(rs.stopped)

	rs.logger.Infow("Shutting down", "grace_period", rs.gracePeriod)
	start := time.Now()

	graceCtx, cancel := context.WithTimeout(ctx, rs.gracePeriod)
	defer cancel()

	var surfaces errgroup.Group
	if rs.rest != nil {
		surfaces.Go(func() error { return rs.rest.Stop(graceCtx) })
	}
	if rs.rpc != nil {
		surfaces.Go(func() error { return rs.rpc.Stop(graceCtx) })
	}
	stopErr := surfaces.Wait()
	rs.serving.Wait()

	releaseCtx, cancelRelease := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancelRelease()
	releaseErr := closeAll(releaseCtx, rs.resources, rs.logger)

	metrics.ServiceRunning.Set(0)
	rs.bootstrap.markStopped()
	rs.closeDone()

	if stopErr != nil {
		if errors.Is(stopErr, context.DeadlineExceeded) || errors.Is(stopErr, context.Canceled) {
			rs.logger.Warnw("Grace period expired, in-flight work was cut off", "elapsed", time.Since(start))
			return newError(KindShutdownTimeout, "shutdown", stopErr)
		}
		return errors.Join(stopErr, releaseErr)
	}
	if releaseErr != nil {
		return releaseErr
	}

	rs.logger.Infow("Shutdown complete", "elapsed", time.Since(start))
	return nil
}
