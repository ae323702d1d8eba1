package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/BragerSync/internal/api/rest"
	"github.com/KevinKickass/BragerSync/internal/api/websocket"
	"github.com/KevinKickass/BragerSync/internal/auth"
	"github.com/KevinKickass/BragerSync/internal/bragerone"
	"github.com/KevinKickass/BragerSync/internal/command"
	"github.com/KevinKickass/BragerSync/internal/config"
	"github.com/KevinKickass/BragerSync/internal/devices"
	"github.com/KevinKickass/BragerSync/internal/interfaces"
	"github.com/KevinKickass/BragerSync/internal/metrics"
	"github.com/KevinKickass/BragerSync/internal/mqtt"
	"github.com/KevinKickass/BragerSync/internal/params"
	"github.com/KevinKickass/BragerSync/internal/pipeline"
	"github.com/KevinKickass/BragerSync/internal/service"
	"github.com/KevinKickass/BragerSync/internal/session"
	"github.com/KevinKickass/BragerSync/internal/state"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name that follows the session.
const HealthService = "bragerone.session"

type LifecycleManager struct {
	config  *config.Config
	logger  *zap.Logger
	version string

	registry *params.Registry
	store    *state.Store
	client   *bragerone.Client
	session  *session.Manager
	service  *service.Service
	metrics  *metrics.Metrics
	hub      *websocket.Hub
	bridge   *mqtt.Bridge

	restServer *rest.Server
	grpcServer *grpc.Server
	health     *health.Server

	stateMu      sync.RWMutex
	currentState SystemState
	startedAt    time.Time

	cancel       context.CancelFunc
	group        *errgroup.Group
	shutdownOnce sync.Once
}

// NewLifecycleManager loads the device profile and wires the sync core
// with its outer surfaces. tokens may be nil for in-memory tokens.
func NewLifecycleManager(cfg *config.Config, tokens bragerone.TokenStore, version string, logger *zap.Logger) (*LifecycleManager, error) {
	loader, err := devices.NewProfileLoader(cfg.Devices.SearchPaths)
	if err != nil {
		return nil, err
	}
	def, err := loader.Load(cfg.Devices.Profile)
	if err != nil {
		return nil, fmt.Errorf("failed to load device profile: %w", err)
	}
	registry, err := params.NewRegistry(def)
	if err != nil {
		return nil, fmt.Errorf("invalid device profile %s: %w", cfg.Devices.Profile, err)
	}

	summary := registry.Summary()
	logger.Info("Device profile loaded",
		zap.String("profile", def.DeviceProfile.ID),
		zap.Strings("modules", registry.Modules()),
		zap.Int("parameters", summary.Total),
		zap.Int("writable", summary.Writable))

	store := state.NewStore(registry, component(logger, "store"))
	client := bragerone.NewClient(bragerone.Config{
		APIURL:         cfg.Backend.APIURL,
		WSURL:          cfg.Backend.WSURL,
		Email:          cfg.Backend.Email,
		Password:       cfg.Backend.Password(),
		Modules:        registry.Modules(),
		RequestTimeout: cfg.Backend.RequestTimeout,
	}, tokens, registry, component(logger, "bragerone"))

	m := metrics.New()
	journal := pipeline.NewJournal(cfg.Diagnostics.RecentWrites)
	writes := pipeline.New(registry, command.NewRouter(), client, cfg.Backend.WriteTimeout, component(logger, "pipeline"), journal, m)

	manager := session.NewManager(client, store, session.Config{
		InitialBackoff: cfg.Session.InitialBackoff,
		MaxBackoff:     cfg.Session.MaxBackoff,
		StableAfter:    cfg.Session.StableAfter,
	}, component(logger, "session"))

	svc := service.New(registry, store, writes, manager, journal, logger)

	apiLogger := component(logger, "api")
	hub := websocket.NewHub(svc, apiLogger)
	hub.SetSnapshotProvider(func() any { return svc.Parameters() })

	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		version:      version,
		registry:     registry,
		store:        store,
		client:       client,
		session:      manager,
		service:      svc,
		metrics:      m,
		hub:          hub,
		health:       health.NewServer(),
		currentState: StateInitializing,
	}

	manager.AddListener(m)
	manager.AddListener(hub)
	manager.AddListener(lm.healthListener())
	manager.AddListener(session.ListenerFuncs{
		Update: func(state.Update) { m.SetKnownValues(store.Len()) },
	})

	if cfg.MQTT.Enabled {
		lm.bridge = mqtt.NewBridge(cfg.MQTT, svc, svc, logger)
		manager.AddListener(lm.bridge)
	}

	lm.restServer = rest.NewServer(cfg, lm, apiLogger, hub, auth.NewKeyAuth(cfg.API.TokenHash, apiLogger), m.Handler())

	return lm, nil
}

// Start brings up the servers and the backend session.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting BragerSync", zap.String("version", lm.version))

	if err := lm.startGRPCServer(); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to start gRPC: %w", err)
	}

	if err := lm.restServer.Start(); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	lm.group = g

	g.Go(func() error {
		lm.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return lm.session.Run(gctx)
	})
	if lm.bridge != nil {
		g.Go(func() error {
			// the broker is optional; a dead broker must not stop the session
			if err := lm.bridge.Run(gctx); err != nil {
				lm.logger.Error("MQTT bridge failed", zap.Error(err))
			}
			return nil
		})
	}

	lm.stateMu.Lock()
	lm.startedAt = time.Now()
	lm.stateMu.Unlock()
	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("mqtt_enabled", lm.bridge != nil))

	return nil
}

// Shutdown stops the session first, then the servers.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		if shutdownErr != nil {
			lm.setState(StateError)
		}
		lm.setState(StateStopped)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs []error

	if lm.cancel != nil {
		lm.cancel()
		done := make(chan error, 1)
		go func() { done <- lm.group.Wait() }()
		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("background task failed: %w", err))
			}
		case <-ctx.Done():
			return errors.New("shutdown timeout exceeded")
		}
	}

	if err := lm.restServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("rest api shutdown failed: %w", err))
	}

	if lm.grpcServer != nil {
		lm.health.Shutdown()
		lm.grpcServer.GracefulStop()
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	lm.logger.Info("Graceful shutdown completed")
	return nil
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(lm.grpcServer, lm.health)
	lm.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.Int("port", lm.config.Server.GRPCPort),
			zap.String("services", HealthService))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

// healthListener reports SERVING only while the session is live.
func (lm *LifecycleManager) healthListener() session.Listener {
	return session.ListenerFuncs{
		Live: func() {
			lm.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
		},
		Disconnected: func(error) {
			lm.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
		},
	}
}

func (lm *LifecycleManager) setState(next SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if err := ValidateTransition(lm.currentState, next); err != nil {
		lm.logger.Warn("Ignoring system state change", zap.Error(err))
		return
	}
	lm.currentState = next
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// Service implements interfaces.LifecycleManager.
func (lm *LifecycleManager) Service() interfaces.SyncService {
	return lm.service
}

// GetCurrentStatus implements interfaces.LifecycleManager.
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	status := interfaces.SystemStatus{
		State:     lm.currentState.String(),
		Session:   lm.session.State().String(),
		Profile:   lm.registry.Profile().ID,
		Version:   lm.version,
		StartedAt: lm.startedAt,
	}
	if !lm.startedAt.IsZero() {
		status.Uptime = time.Since(lm.startedAt)
	}
	return status
}

func component(logger *zap.Logger, name string) *zap.Logger {
	return logger.With(zap.String("component", name))
}
