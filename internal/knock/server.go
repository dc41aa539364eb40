package knock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"grimm.is/knockd/internal/clock"
	"grimm.is/knockd/internal/events"
	"grimm.is/knockd/internal/firewall"
	"grimm.is/knockd/internal/logging"
	"grimm.is/knockd/internal/metrics"
	"grimm.is/knockd/internal/ratelimit"
	"grimm.is/knockd/internal/scheduler"
	"grimm.is/knockd/internal/services"
)

const (
	eventBuffer      = 256
	activateTimeout  = 30 * time.Second
	retentionMargin  = 30 * time.Second
	knockLogLimit    = 10 // knock log lines per source per knockLogInterval
	knockLogInterval = time.Minute
)

// Option configures a Server.
type Option func(*Server)

// WithClock sets the time source for knock timestamps and grant timers.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithHub publishes lifecycle events on h.
func WithHub(h *events.Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithMetrics records metrics in m.
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Server) { s.metrics = m }
}

// WithListeners supplies already bound sentinel listeners keyed by the
// sequence port they stand for. Start then skips binding.
func WithListeners(lns map[int]net.Listener) Option {
	return func(s *Server) { s.prebound = lns }
}

// WithAuditPruner registers a periodic audit retention task.
func WithAuditPruner(fn func(ctx context.Context) (int64, error)) Option {
	return func(s *Server) { s.pruneAudit = fn }
}

// Server wires sentinel listeners, the tracker, and the access scheduler.
type Server struct {
	settings Settings
	backend  firewall.Backend
	clock    clock.Clock
	logger   *logging.Logger
	hub      *events.Hub
	metrics  *metrics.Registry

	tracker *Tracker
	access  *AccessScheduler
	limiter *ratelimit.Limiter
	tasks   *scheduler.Scheduler

	prebound   map[int]net.Listener
	pruneAudit func(ctx context.Context) (int64, error)

	mu        sync.Mutex
	running   bool
	stopped   bool
	lastErr   error
	listeners []*Listener
	cancel    context.CancelFunc
	loopDone  chan struct{}
	serveErr  error

	activations sync.WaitGroup
}

var _ services.Service = (*Server)(nil)

// New validates settings and builds a server around backend.
func New(settings Settings, backend firewall.Backend, opts ...Option) (*Server, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid knock settings: %w", err)
	}
	if backend == nil {
		return nil, errors.New("firewall backend is required")
	}

	s := &Server{settings: settings, backend: backend}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = clock.OrDefault(s.clock)
	s.logger = logging.OrDefault(s.logger)

	retention := settings.GrantTTL + settings.Window + retentionMargin
	s.tracker = NewTracker(settings.Sequence, settings.Window, retention)
	s.access = NewAccessScheduler(backend, s.tracker, settings.GrantTTL, s.clock, s.logger, s.hub, s.metrics)
	s.limiter = ratelimit.NewLimiter(knockLogLimit, knockLogInterval, s.clock)
	s.tasks = scheduler.New(s.logger, s.clock)
	s.registerTasks()

	return s, nil
}

func (s *Server) registerTasks() {
	registry := &scheduler.TaskRegistry{
		Now:            s.clock.Now,
		SweepTracker:   s.tracker.Sweep,
		CleanupLimiter: func() int { return s.limiter.CleanupExpired(2 * knockLogInterval) },
		PruneAudit:     s.pruneAudit,
		RefreshMetrics: s.refreshMetrics,
	}

	sweepEvery := s.settings.Window
	if sweepEvery < 10*time.Second {
		sweepEvery = 10 * time.Second
	}
	tasks := []*scheduler.Task{
		scheduler.NewTrackerSweepTask(registry, sweepEvery),
		scheduler.NewLimiterCleanupTask(registry, knockLogInterval),
		scheduler.NewMetricsRefreshTask(registry, 5*time.Second),
	}
	if s.pruneAudit != nil {
		tasks = append(tasks, scheduler.NewAuditPruneTask(registry, 24*time.Hour))
	}
	for _, t := range tasks {
		if err := s.tasks.AddTask(t); err != nil {
			s.logger.Warn("failed to register task", "task", t.ID, "error", err)
		}
	}
}

// Name returns the service name.
func (s *Server) Name() string { return "knock-server" }

// Start installs the default-drop rule, binds every sentinel port, and
// begins processing knocks. It returns once the server is accepting.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("server already running")
	}
	if s.stopped {
		return errors.New("server cannot be restarted after Stop")
	}

	log := s.logger.WithComponent("server")

	if err := s.backend.Setup(ctx); err != nil {
		s.lastErr = err
		return fmt.Errorf("firewall setup: %w", err)
	}

	lns, err := s.bind(ctx)
	if err != nil {
		s.lastErr = err
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.listeners = s.listeners[:0]
	for _, port := range s.settings.Sequence {
		s.listeners = append(s.listeners, NewListener(lns[port], port, s.clock, s.logger))
	}

	knocks := make(chan Event, eventBuffer)
	g, gctx := errgroup.WithContext(runCtx)
	for _, l := range s.listeners {
		g.Go(func() error { return l.Serve(gctx, knocks) })
	}

	s.loopDone = make(chan struct{})
	processed := make(chan struct{})
	go func() {
		defer close(processed)
		for evt := range knocks {
			s.Handle(evt)
		}
	}()
	go func() {
		err := g.Wait()
		if err != nil {
			log.Error("knock listeners stopped", "error", err)
		}
		close(knocks)
		<-processed
		s.mu.Lock()
		s.serveErr = err
		if err != nil {
			s.lastErr = err
		}
		s.mu.Unlock()
		close(s.loopDone)
	}()

	s.tasks.Start(runCtx)
	s.running = true
	s.lastErr = nil
	if s.metrics != nil {
		s.metrics.ListenersUp.Set(float64(len(s.listeners)))
	}

	s.banner(log)
	return nil
}

// bind returns one listener per sequence port, either pre-bound or freshly
// bound. Nothing is left open on failure.
func (s *Server) bind(ctx context.Context) (map[int]net.Listener, error) {
	if s.prebound == nil {
		lns, err := Bind(ctx, s.settings.ListenAddress, s.settings.Sequence)
		if err != nil {
			return nil, fmt.Errorf("bind sentinel ports: %w", err)
		}
		return lns, nil
	}

	for _, port := range s.settings.Sequence {
		if s.prebound[port] == nil {
			return nil, fmt.Errorf("bind sentinel ports: no listener for port %d", port)
		}
	}
	lns := s.prebound
	s.prebound = nil // listeners are single use
	return lns, nil
}

func (s *Server) banner(log *logging.Logger) {
	log.Info("port knocking server started",
		"sequence", fmt.Sprint(s.settings.Sequence),
		"protected_port", s.settings.ProtectedPort,
		"window", s.settings.Window,
		"grant_ttl", s.settings.GrantTTL)
	for _, l := range s.listeners {
		log.Info("listening on knock port", "port", l.Port(), "addr", l.Addr().String())
	}
}

// Handle runs one knock through the tracker and, on a completed sequence,
// dispatches the grant. Listeners call it from the event loop; it is
// exported so the protocol can be driven without sockets.
func (s *Server) Handle(evt Event) {
	if s.metrics != nil {
		s.metrics.RecordKnock(evt.Port)
	}

	d := s.tracker.RecordKnock(evt.Source, evt.Port, evt.ObservedAt)

	if s.limiter.Allow(evt.Source) {
		s.logger.WithComponent("tracker").Info("knock received",
			"address", evt.Source, "port", evt.Port, "position", d.Position)
	}
	s.hub.Publish(events.Event{
		Type:      events.EventKnock,
		Timestamp: evt.ObservedAt,
		Source:    "listener",
		Data:      events.KnockData{Address: evt.Source, Port: evt.Port, Position: d.Position},
	})

	if d.Reset != ResetNone {
		if s.metrics != nil {
			s.metrics.SequenceResets.WithLabelValues(string(d.Reset)).Inc()
		}
		s.logger.WithComponent("tracker").Debug("sequence reset",
			"address", evt.Source, "port", evt.Port, "expected", d.Expected, "reason", string(d.Reset))
		s.hub.Publish(events.Event{
			Type:      events.EventReset,
			Timestamp: evt.ObservedAt,
			Source:    "tracker",
			Data:      events.ResetData{Address: evt.Source, Port: evt.Port, Reason: string(d.Reset)},
		})
	}

	if !d.Granted {
		return
	}

	grant := Grant{
		ID:         uuid.NewString(),
		Source:     evt.Source,
		Port:       s.settings.ProtectedPort,
		Generation: d.Generation,
		GrantedAt:  evt.ObservedAt,
		ExpiresAt:  evt.ObservedAt.Add(s.settings.GrantTTL),
	}
	s.logger.WithComponent("tracker").Info("correct sequence received",
		"address", grant.Source, "grant_id", grant.ID, "generation", grant.Generation)

	s.activations.Add(1)
	go func() {
		defer s.activations.Done()
		ctx, cancel := context.WithTimeout(context.Background(), activateTimeout)
		defer cancel()
		// Errors are logged and published by the scheduler.
		_ = s.access.Activate(ctx, grant)
	}()
}

// Stop closes the listeners, waits for in-flight knocks and grants, and
// revokes every grant still active.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.stopped = true
	cancel, loopDone := s.cancel, s.loopDone
	s.mu.Unlock()

	log := s.logger.WithComponent("server")
	log.Info("shutting down port knocking server")

	cancel()
	var result *multierror.Error

	select {
	case <-loopDone:
	case <-ctx.Done():
		result = multierror.Append(result, fmt.Errorf("waiting for listeners: %w", ctx.Err()))
	}

	activated := make(chan struct{})
	go func() {
		s.activations.Wait()
		close(activated)
	}()
	select {
	case <-activated:
	case <-ctx.Done():
		result = multierror.Append(result, fmt.Errorf("waiting for grants: %w", ctx.Err()))
	}

	s.tasks.Stop()

	if err := s.access.RevokeAll(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.backend.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close backend: %w", err))
	}

	s.mu.Lock()
	if s.serveErr != nil {
		result = multierror.Append(result, s.serveErr)
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ListenersUp.Set(0)
		s.metrics.ActiveGrants.Set(0)
	}

	err := result.ErrorOrNil()
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	log.Info("server stopped")
	return err
}

// Status reports whether the server is accepting knocks.
func (s *Server) Status() services.ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := services.ServiceStatus{Name: s.Name(), Running: s.running}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}

// Addrs returns the bound address of each sentinel port.
func (s *Server) Addrs() map[int]net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]net.Addr, len(s.listeners))
	for _, l := range s.listeners {
		out[l.Port()] = l.Addr()
	}
	return out
}

// Tracker returns the sequence tracker.
func (s *Server) Tracker() *Tracker { return s.tracker }

// Access returns the access scheduler.
func (s *Server) Access() *AccessScheduler { return s.access }

// Settings returns the protocol settings.
func (s *Server) Settings() Settings { return s.settings }

// TaskStatus returns the maintenance task status.
func (s *Server) TaskStatus() []scheduler.TaskStatus { return s.tasks.GetStatus() }

func (s *Server) refreshMetrics() {
	if s.metrics == nil {
		return
	}
	s.metrics.TrackedSources.Set(float64(s.tracker.Tracked()))
	s.metrics.ActiveGrants.Set(float64(len(s.access.Active())))
}
