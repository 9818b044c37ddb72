package addrlease

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"pkt.systems/pslog"

	"pkt.systems/addrlease/internal/allocator"
	"pkt.systems/addrlease/internal/clock"
	"pkt.systems/addrlease/internal/shell"
	"pkt.systems/addrlease/internal/svcfields"
)

// ErrServiceClosed is returned by Start after Shutdown.
var ErrServiceClosed = errors.New("addrlease: service closed")

// Service wires the allocator to its background sweeper and telemetry.
type Service struct {
	cfg       Config
	logger    pslog.Logger
	clock     clock.Clock
	alloc     *allocator.Allocator
	telemetry *telemetryBundle

	mu          sync.Mutex
	started     bool
	shutdown    bool
	sweeperStop chan struct{}
	sweeperDone sync.WaitGroup
}

// Option configures a Service.
type Option func(*options)

type options struct {
	Logger pslog.Logger
	Clock  clock.Clock
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithClock injects a custom clock implementation.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.Clock = c
	}
}

// NewService validates cfg and builds an idle service. Call Start to launch
// telemetry and the sweeper; the allocator is usable immediately.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	logger := svcfields.EnsureLogger(o.Logger)
	alloc := allocator.New(allocator.Options{
		LeaseDuration: cfg.LeaseDuration,
		ScanLimit:     cfg.ScanLimit,
		Clock:         o.Clock,
		Logger:        logger,
	})
	return &Service{
		cfg:    cfg,
		logger: logger,
		clock:  o.Clock,
		alloc:  alloc,
	}, nil
}

// Config returns the validated configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Allocator returns the lease allocator owned by the service.
func (s *Service) Allocator() *allocator.Allocator {
	return s.alloc
}

// NewShell returns a shell bound to the service allocator, prompting when
// the configuration asks for it.
func (s *Service) NewShell(in io.Reader, out io.Writer) *shell.Shell {
	prompt := ""
	if s.cfg.Prompt {
		prompt = shell.DefaultPrompt
	}
	return shell.New(s.alloc, in, out,
		shell.WithPrompt(prompt),
		shell.WithLogger(s.logger),
	)
}

// Start launches telemetry listeners and, when configured, the sweeper.
// Calling Start on a running service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return ErrServiceClosed
	}
	if s.started {
		return nil
	}
	bundle, err := setupTelemetry(ctx, telemetryOptions{
		OTLPEndpoint:           s.cfg.OTLPEndpoint,
		MetricsListen:          s.cfg.MetricsListen,
		PprofListen:            s.cfg.PprofListen,
		EnableProfilingMetrics: s.cfg.EnableProfilingMetrics,
	}, svcfields.WithSubsystem(s.logger, "telemetry"))
	if err != nil {
		return err
	}
	s.telemetry = bundle
	s.startSweeperLocked()
	s.started = true
	svcfields.WithSubsystem(s.logger, "service.lifecycle").Info("service.started",
		"lease_duration", s.cfg.LeaseDuration,
		"scan_limit", s.cfg.ScanLimit,
		"sweeper_interval", s.cfg.SweeperInterval,
	)
	return nil
}

// Shutdown stops the sweeper and flushes telemetry. It is safe to call more
// than once.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	stopCh := s.sweeperStop
	s.sweeperStop = nil
	bundle := s.telemetry
	s.telemetry = nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		s.sweeperDone.Wait()
	}
	err := errors.Join(s.alloc.Close(), bundle.Shutdown(ctx))
	svcfields.WithSubsystem(s.logger, "service.lifecycle").Info("service.stopped", "entries", s.alloc.Len())
	return err
}

// MetricsAddr returns the bound Prometheus listener address, or nil.
func (s *Service) MetricsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telemetry.MetricsAddr()
}

func (s *Service) startSweeperLocked() {
	if s.cfg.SweeperInterval <= 0 || s.sweeperStop != nil {
		return
	}
	stopCh := make(chan struct{})
	s.sweeperStop = stopCh
	interval := s.cfg.SweeperInterval
	logger := svcfields.WithSubsystem(s.logger, "service.sweeper")
	s.sweeperDone.Add(1)
	go func() {
		defer s.sweeperDone.Done()
		ctx := context.Background()
		for {
			select {
			case <-stopCh:
				return
			case <-s.clock.After(interval):
				if removed := s.alloc.Sweep(ctx); removed > 0 {
					logger.Debug("sweeper.iteration", "removed", removed)
				}
			}
		}
	}()
}
