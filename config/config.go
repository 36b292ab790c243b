// Package config assembles the whole coordination layer from environment
// driven settings: storage adapter, resilience policies, session manager,
// event log, interceptor, admission controller and the HTTP middleware.
package config

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/viant/mcpsession/admission"
	"github.com/viant/mcpsession/eventlog"
	"github.com/viant/mcpsession/intercept"
	"github.com/viant/mcpsession/manager"
	"github.com/viant/mcpsession/metrics"
	"github.com/viant/mcpsession/store"
	"github.com/viant/mcpsession/store/memory"
	"github.com/viant/mcpsession/store/redis"
	"github.com/viant/mcpsession/store/resilience"
	"github.com/viant/mcpsession/transport"
	"go.uber.org/zap"
)

// Backends accepted by StoreBackend.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config carries every tunable of the coordination layer. Zero values fall
// back to the per-component defaults.
type Config struct {
	StoreBackend string `env:"MCPSESSION_STORE_BACKEND" envDefault:"memory"`
	StoreURL     string `env:"MCPSESSION_STORE_URL"`
	StorePrefix  string `env:"MCPSESSION_STORE_PREFIX" envDefault:"mcp"`

	SessionTTL   time.Duration `env:"MCPSESSION_SESSION_TTL"`
	StreamMaxLen int64         `env:"MCPSESSION_STREAM_MAXLEN" envDefault:"1000"`

	UseLocalCache   bool          `env:"MCPSESSION_USE_LOCAL_CACHE" envDefault:"true"`
	CacheMaxEntries int           `env:"MCPSESSION_CACHE_MAX_ENTRIES" envDefault:"1024"`
	CacheTTL        time.Duration `env:"MCPSESSION_CACHE_TTL" envDefault:"5s"`

	RetryMaxAttempts int           `env:"MCPSESSION_RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay   time.Duration `env:"MCPSESSION_RETRY_BASE_DELAY" envDefault:"50ms"`
	RetryCapDelay    time.Duration `env:"MCPSESSION_RETRY_CAP_DELAY" envDefault:"2s"`
	BreakerThreshold int           `env:"MCPSESSION_BREAKER_THRESHOLD" envDefault:"5"`
	BreakerCooldown  time.Duration `env:"MCPSESSION_BREAKER_COOLDOWN" envDefault:"10s"`
	StoreOpTimeout   time.Duration `env:"MCPSESSION_STORE_OP_TIMEOUT" envDefault:"2s"`

	AdmitLockTTL  time.Duration `env:"MCPSESSION_ADMIT_LOCK_TTL" envDefault:"2s"`
	AdmitLockWait time.Duration `env:"MCPSESSION_ADMIT_LOCK_WAIT" envDefault:"500ms"`

	UnknownSessionStatus int   `env:"MCPSESSION_UNKNOWN_SESSION_STATUS" envDefault:"404"`
	MaxBodyBytes         int64 `env:"MCPSESSION_MAX_BODY_BYTES" envDefault:"1048576"`

	InstanceID string `env:"MCPSESSION_INSTANCE_ID"`
}

// FromEnv parses the configuration from process environment.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// Service is the assembled coordination layer.
type Service struct {
	cfg         *Config
	adapter     store.Adapter
	resilient   *resilience.Store
	Sessions    *manager.Manager
	Events      *eventlog.Store
	Interceptor *intercept.Interceptor
	Admission   *admission.Controller
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// ServiceOption customizes service assembly.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// WithLogger sets the logger shared by all components.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegisterer enables Prometheus instrumentation on the given registerer.
func WithRegisterer(registerer prometheus.Registerer) ServiceOption {
	return func(o *serviceOptions) { o.registerer = registerer }
}

// New builds the full stack over the configured backend. The upstream argument
// is the slice of the MCP SDK used for admission.
func New(cfg *Config, upstream admission.Upstream, options ...ServiceOption) (*Service, error) {
	opts := &serviceOptions{logger: zap.NewNop()}
	for _, option := range options {
		option(opts)
	}
	var instruments *metrics.Metrics
	if opts.registerer != nil {
		instruments = metrics.New(opts.registerer)
	}

	adapter, err := newAdapter(cfg)
	if err != nil {
		return nil, err
	}
	resilient := resilience.New(adapter,
		resilience.WithMaxAttempts(cfg.RetryMaxAttempts),
		resilience.WithBackoff(cfg.RetryBaseDelay, cfg.RetryCapDelay),
		resilience.WithFailureThreshold(cfg.BreakerThreshold),
		resilience.WithCooldown(cfg.BreakerCooldown),
		resilience.WithOpTimeout(cfg.StoreOpTimeout),
		resilience.WithLogger(opts.logger),
		resilience.WithMetrics(instruments))

	managerOptions := []manager.Option{
		manager.WithCache(cfg.CacheMaxEntries, cfg.CacheTTL),
		manager.WithLogger(opts.logger),
		manager.WithMetrics(instruments),
	}
	if !cfg.UseLocalCache {
		managerOptions = append(managerOptions, manager.WithCacheDisabled())
	}
	if cfg.InstanceID != "" {
		managerOptions = append(managerOptions, manager.WithInstanceID(cfg.InstanceID))
	}
	sessions := manager.New(resilient, managerOptions...)
	events := eventlog.New(resilient,
		eventlog.WithLogger(opts.logger),
		eventlog.WithMetrics(instruments))
	interceptor := intercept.New(sessions, events, intercept.WithLogger(opts.logger))
	controller := admission.New(resilient, upstream,
		admission.WithLockTTL(cfg.AdmitLockTTL),
		admission.WithLockWait(cfg.AdmitLockWait),
		admission.WithHolderID(sessions.InstanceID()),
		admission.WithLogger(opts.logger))

	return &Service{
		cfg:         cfg,
		adapter:     adapter,
		resilient:   resilient,
		Sessions:    sessions,
		Events:      events,
		Interceptor: interceptor,
		Admission:   controller,
		logger:      opts.logger,
		metrics:     instruments,
	}, nil
}

// Wrap fronts the upstream Streamable HTTP handler with the session layer.
func (s *Service) Wrap(next http.Handler) http.Handler {
	return transport.New(next, s.Admission, s.Interceptor,
		transport.WithMaxBodyBytes(s.cfg.MaxBodyBytes),
		transport.WithUnknownSessionStatus(s.cfg.UnknownSessionStatus),
		transport.WithLogger(s.logger),
		transport.WithMetrics(s.metrics))
}

// Ping verifies backend reachability.
func (s *Service) Ping(ctx context.Context) error {
	return s.resilient.Ping(ctx)
}

// Close releases the backend connection and drops local caches.
func (s *Service) Close() error {
	s.Sessions.Purge()
	return s.resilient.Close()
}

func newAdapter(cfg *Config) (store.Adapter, error) {
	switch strings.ToLower(cfg.StoreBackend) {
	case BackendMemory, "":
		return memory.New(), nil
	case BackendRedis:
		if cfg.StoreURL == "" {
			return nil, fmt.Errorf("redis backend requires MCPSESSION_STORE_URL")
		}
		return redis.NewFromURL(cfg.StoreURL,
			redis.WithPrefix(cfg.StorePrefix),
			redis.WithSessionTTL(cfg.SessionTTL),
			redis.WithStreamMaxLen(cfg.StreamMaxLen))
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.StoreBackend)
	}
}
