package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"explorviz/api"
	"explorviz/config"
	"explorviz/core"
	"explorviz/metrics"
	"explorviz/rpc"
	"explorviz/storage"
	"explorviz/telemetry"
	"go.uber.org/zap"
)

// releaseTimeout bounds closing clients after the surfaces have stopped.
const releaseTimeout = 5 * time.Second

// State is the lifecycle state of a Bootstrap.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// GraphConnector opens the graph store and proves it is reachable. It must
// honour ctx, which carries persistence.connect_timeout.
type GraphConnector func(ctx context.Context, opts storage.Neo4jOptions, logger *zap.SugaredLogger) (storage.GraphStore, error)

// SecretResolver resolves credential references.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Option customises a Bootstrap.
type Option func(*Bootstrap)

// WithGraphConnector replaces the Neo4j connector.
func WithGraphConnector(c GraphConnector) Option {
	return func(b *Bootstrap) { b.connect = c }
}

// WithSecretResolver replaces the resolver built from the secrets config.
func WithSecretResolver(r SecretResolver) Option {
	return func(b *Bootstrap) { b.secrets = r }
}

// Bootstrap starts the service described by a Config. At most one service
// runs per Bootstrap at a time.
type Bootstrap struct {
	logger  *zap.SugaredLogger
	connect GraphConnector
	secrets SecretResolver

	mu       sync.Mutex
	state    State
	starting bool
}

func New(logger *zap.SugaredLogger, opts ...Option) *Bootstrap {
	b := &Bootstrap{
		logger:  logger,
		connect: connectNeo4j,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func connectNeo4j(ctx context.Context, opts storage.Neo4jOptions, logger *zap.SugaredLogger) (storage.GraphStore, error) {
	store, err := storage.OpenNeo4jStore(ctx, opts, logger)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// State reports whether a service started by b is running.
func (b *Bootstrap) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bootstrap) markStopped() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateStopped
}

// closer releases one resource opened during Start.
type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// closeAll runs closers in reverse order of registration.
func closeAll(ctx context.Context, closers []closer, logger *zap.SugaredLogger) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(ctx); err != nil {
			logger.Warnw("Failed to release resource", "resource", c.name, "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

// phase runs fn and records its duration.
func (b *Bootstrap) phase(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.BootstrapPhaseDuration.WithLabelValues(name, outcome).Observe(time.Since(start).Seconds())
	if err == nil {
		b.logger.Debugw("Bootstrap phase complete", "phase", name, "duration", time.Since(start))
	}
	return err
}

// Start validates cfg, connects every declared dependency, binds the enabled
// surfaces and starts serving. On failure every resource opened so far is
// closed before the error is returned, and the returned error is an *Error.
func (b *Bootstrap) Start(ctx context.Context, cfg *config.Config) (rs *RunningService, err error) {
	b.mu.Lock()
	if b.state == StateRunning || b.starting {
		b.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	b.starting = true
	b.mu.Unlock()

	var opened []closer
	defer func() {
		b.mu.Lock()
		b.starting = false
		if err == nil {
			b.state = StateRunning
		}
		b.mu.Unlock()

		if err != nil {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			defer cancel()
			_ = closeAll(releaseCtx, opened, b.logger)
			b.logger.Errorw("Service start failed", "error", err)
		}
	}()

	if cfg == nil {
		return nil, newError(KindConfigInvalid, "config", errors.New("no configuration"))
	}

	err = b.phase("validate", func() error {
		if verr := cfg.Validate(); verr != nil {
			return newError(KindConfigInvalid, "config", verr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.logger.Infow("Starting service",
		"service", cfg.Service.Name,
		"environment", cfg.Service.Environment,
		"rest_enabled", cfg.REST.Enabled,
		"grpc_enabled", cfg.GRPC.Enabled)

	var graphPassword, redisPassword string
	err = b.phase("secrets", func() error {
		resolver := b.secrets
		if resolver == nil {
			resolver = config.NewSecretResolver(cfg.Secrets)
		}
		secretCtx, cancel := context.WithTimeout(ctx, cfg.Persistence.ConnectTimeout)
		defer cancel()

		var rerr error
		if graphPassword, rerr = resolver.Resolve(secretCtx, cfg.Persistence.CredentialsRef); rerr != nil {
			return classifySecretError("persistence.credentials_ref", rerr)
		}
		if cfg.Redis.Enabled {
			if redisPassword, rerr = resolver.Resolve(secretCtx, cfg.Redis.PasswordRef); rerr != nil {
				return classifySecretError("redis.password_ref", rerr)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var shutdownTracer telemetry.ShutdownFunc
	err = b.phase("tracing", func() error {
		var terr error
		shutdownTracer, terr = telemetry.Setup(ctx, cfg.Tracing, cfg.Service)
		if terr != nil {
			return newError(KindConfigInvalid, "tracing", terr)
		}
		opened = append(opened, closer{name: "tracer provider", fn: shutdownTracer})
		return nil
	})
	if err != nil {
		return nil, err
	}

	var store storage.GraphStore
	err = b.phase("persistence", func() error {
		var cerr error
		store, cerr = b.connectGraph(ctx, cfg.Persistence, graphPassword)
		if cerr != nil {
			return cerr
		}
		if cfg.Persistence.Cache.Enabled && cfg.Persistence.Cache.Size > 0 {
			store = storage.NewCachedStore(store, cfg.Persistence.Cache.Size, cfg.Persistence.Cache.TTL)
		}
		opened = append(opened, closer{name: "graph store", fn: store.Close})
		return nil
	})
	if err != nil {
		return nil, err
	}

	var redis *core.RedisCache
	if cfg.Redis.Enabled {
		err = b.phase("redis", func() error {
			redis = core.NewRedisCache(cfg.Redis.Addr, redisPassword, cfg.Redis.DB, cfg.Redis.PoolSize, b.logger)
			opened = append(opened, closer{name: "redis", fn: func(context.Context) error { return redis.Close() }})

			pingCtx, cancel := context.WithTimeout(ctx, cfg.Persistence.ConnectTimeout)
			defer cancel()
			if perr := redis.Ping(pingCtx); perr != nil {
				b.logger.Errorw(ClassifyConnectionError(perr, "redis", cfg.Redis.Addr))
				return newError(KindDependencyUnreachable, "redis", perr)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	var restAPI *api.API
	if cfg.REST.Enabled {
		err = b.phase("rest", func() error {
			restAPI = api.NewAPI(store, cfg.REST, redis, b.logger)
			opened = append(opened, closer{name: "rest surface", fn: restAPI.Stop})
			if lerr := restAPI.Listen(); lerr != nil {
				return newError(KindBindFailure, "rest", lerr)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	var rpcServer *rpc.Server
	if cfg.GRPC.Enabled {
		err = b.phase("grpc", func() error {
			rpcServer = rpc.NewServer(cfg.GRPC, rpc.Services(rpc.NewService(store, b.logger)), b.logger)
			opened = append(opened, closer{name: "grpc surface", fn: rpcServer.Stop})
			if lerr := rpcServer.Listen(); lerr != nil {
				return newError(KindBindFailure, "grpc", lerr)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	rs = &RunningService{
		bootstrap:   b,
		gracePeriod: cfg.Shutdown.GracePeriod,
		rest:        restAPI,
		rpc:         rpcServer,
		logger:      b.logger,
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	// surfaces are stopped by Shutdown itself, only clients are released here
	rs.resources = append(rs.resources,
		closer{name: "tracer provider", fn: shutdownTracer},
		closer{name: "graph store", fn: store.Close},
	)
	if redis != nil {
		rs.resources = append(rs.resources, closer{name: "redis", fn: func(context.Context) error { return redis.Close() }})
	}

	if restAPI != nil {
		rs.serve("rest", restAPI.Serve)
	}
	if rpcServer != nil {
		rs.serve("grpc", rpcServer.Serve)
	}

	metrics.ServiceRunning.Set(1)
	b.logger.Infow("Service started", "rest_addr", rs.RESTAddr(), "grpc_addr", rs.RPCAddr())
	return rs, nil
}

// connectGraph opens the graph store, failing once persistence.connect_timeout
// elapses even if the connector does not return.
func (b *Bootstrap) connectGraph(ctx context.Context, cfg config.PersistenceConfig, password string) (storage.GraphStore, error) {
	opts := storage.Neo4jOptions{
		URI:                   cfg.URI,
		Username:              cfg.Username,
		Password:              password,
		Database:              cfg.Database,
		MaxConnectionPoolSize: cfg.MaxConnectionPoolSize,
		ConnectTimeout:        cfg.ConnectTimeout,
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	type result struct {
		store storage.GraphStore
		err   error
	}
	results := make(chan result, 1)
	go func() {
		store, err := b.connect(connectCtx, opts, b.logger)
		results <- result{store: store, err: err}
	}()

	select {
	case r := <-results:
		if r.err != nil {
			b.logger.Errorw(ClassifyConnectionError(r.err, "persistence", cfg.URI))
			return nil, newError(KindDependencyUnreachable, "persistence", r.err)
		}
		return r.store, nil
	case <-connectCtx.Done():
		// a late connection must not outlive the failed start
		go func() {
			if r := <-results; r.store != nil {
				_ = r.store.Close(context.Background())
			}
		}()
		err := fmt.Errorf("no answer from %s within %s: %w", cfg.URI, cfg.ConnectTimeout, connectCtx.Err())
		b.logger.Errorw(ClassifyConnectionError(connectCtx.Err(), "persistence", cfg.URI))
		return nil, newError(KindDependencyUnreachable, "persistence", err)
	}
}

// classifySecretError maps a credential resolution failure onto a Kind:
// a bad or dangling reference is a config error, an unreachable secret
// store is a dependency error.
func classifySecretError(field string, err error) error {
	if errors.Is(err, config.ErrSecretBackend) || errors.Is(err, context.DeadlineExceeded) {
		return newError(KindDependencyUnreachable, field, err)
	}
	return newError(KindConfigInvalid, field, err)
}
