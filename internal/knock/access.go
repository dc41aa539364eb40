package knock

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"grimm.is/knockd/internal/clock"
	"grimm.is/knockd/internal/events"
	"grimm.is/knockd/internal/firewall"
	"grimm.is/knockd/internal/logging"
	"grimm.is/knockd/internal/metrics"
)

// ErrSchedulerClosed is returned by Activate after RevokeAll.
var ErrSchedulerClosed = errors.New("access scheduler closed")

// revokeTimeout bounds a single timer-driven Revoke.
const revokeTimeout = 10 * time.Second

// GenerationSource reports the current grant generation for an address.
type GenerationSource interface {
	Generation(addr string) uint64
}

// AccessScheduler applies grants to the firewall and revokes them after the
// TTL unless a newer grant for the same address has superseded them.
//
// Backend calls for one address are serialized under a per-address lock, so a
// revoke decided for generation N can never land after the grant for N+1.
type AccessScheduler struct {
	backend firewall.Backend
	gens    GenerationSource
	clock   clock.Clock
	ttl     time.Duration
	logger  *logging.Logger
	hub     *events.Hub
	metrics *metrics.Registry

	locks [shardCount]sync.Mutex

	mu     sync.Mutex
	active map[string]Grant // newest successful grant per address
	closed bool
}

// NewAccessScheduler creates a scheduler. hub and m may be nil.
func NewAccessScheduler(backend firewall.Backend, gens GenerationSource, ttl time.Duration,
	clk clock.Clock, logger *logging.Logger, hub *events.Hub, m *metrics.Registry) *AccessScheduler {
	return &AccessScheduler{
		backend: backend,
		gens:    gens,
		clock:   clock.OrDefault(clk),
		ttl:     ttl,
		logger:  logging.OrDefault(logger).WithComponent("access"),
		hub:     hub,
		metrics: m,
		active:  make(map[string]Grant),
	}
}

func (a *AccessScheduler) lockFor(addr string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(addr))
	return &a.locks[h.Sum32()%shardCount]
}

// Activate installs grant in the firewall and schedules its revocation.
// The revocation is scheduled even when Grant fails so a partially applied
// rule is still cleaned up.
func (a *AccessScheduler) Activate(ctx context.Context, grant Grant) error {
	l := a.lockFor(grant.Source)
	l.Lock()
	defer l.Unlock()

	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return ErrSchedulerClosed
	}

	if grant.ExpiresAt.IsZero() {
		grant.ExpiresAt = grant.GrantedAt.Add(a.ttl)
	}

	err := a.backend.Grant(ctx, grant.Source, grant.Port)
	a.Schedule(grant, a.ttl)

	if err != nil {
		a.logger.Error("failed to grant access", "address", grant.Source, "port", grant.Port,
			"grant_id", grant.ID, "error", err)
		a.publish(events.EventFailure, grant, err)
		return fmt.Errorf("grant %s: %w", grant, err)
	}

	a.mu.Lock()
	if cur, ok := a.active[grant.Source]; !ok || cur.Generation <= grant.Generation {
		a.active[grant.Source] = grant
	}
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.GrantsTotal.Inc()
	}
	a.logger.Audit("grant", grant.Source, map[string]any{
		"port":       grant.Port,
		"grant_id":   grant.ID,
		"generation": grant.Generation,
		"expires_at": grant.ExpiresAt.Format(time.RFC3339),
	})
	a.publish(events.EventGrant, grant, nil)
	return nil
}

// Schedule arranges for grant to be revoked after ttl if its generation is
// still current then. The timer is never cancelled.
func (a *AccessScheduler) Schedule(grant Grant, ttl time.Duration) {
	a.clock.AfterFunc(ttl, func() { a.expire(grant) })
}

func (a *AccessScheduler) expire(grant Grant) {
	l := a.lockFor(grant.Source)
	l.Lock()
	defer l.Unlock()

	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return
	}

	if current := a.gens.Generation(grant.Source); current != grant.Generation {
		a.logger.Debug("grant superseded, skipping revoke", "address", grant.Source,
			"grant_id", grant.ID, "generation", grant.Generation, "current", current)
		if a.metrics != nil {
			a.metrics.RevokesTotal.WithLabelValues("stale").Inc()
		}
		a.publish(events.EventStale, grant, nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), revokeTimeout)
	defer cancel()

	a.mu.Lock()
	if cur, ok := a.active[grant.Source]; ok && cur.Generation == grant.Generation {
		delete(a.active, grant.Source)
	}
	a.mu.Unlock()

	if err := a.backend.Revoke(ctx, grant.Source, grant.Port); err != nil {
		a.logger.Error("failed to revoke access", "address", grant.Source, "port", grant.Port,
			"grant_id", grant.ID, "error", err)
		if a.metrics != nil {
			a.metrics.RevokesTotal.WithLabelValues("failed").Inc()
		}
		a.publish(events.EventFailure, grant, err)
		return
	}

	if a.metrics != nil {
		a.metrics.RevokesTotal.WithLabelValues("revoked").Inc()
	}
	a.logger.Audit("revoke", grant.Source, map[string]any{
		"port":       grant.Port,
		"grant_id":   grant.ID,
		"generation": grant.Generation,
	})
	a.publish(events.EventRevoke, grant, nil)
}

// Active returns the grants whose revocation timer has not fired yet,
// oldest first.
func (a *AccessScheduler) Active() []Grant {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Grant, 0, len(a.active))
	for _, g := range a.active {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GrantedAt.Equal(out[j].GrantedAt) {
			return out[i].Source < out[j].Source
		}
		return out[i].GrantedAt.Before(out[j].GrantedAt)
	})
	return out
}

// RevokeAll revokes every active grant and stops the scheduler from
// accepting new ones. Pending timers become no-ops.
func (a *AccessScheduler) RevokeAll(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	grants := make([]Grant, 0, len(a.active))
	for _, g := range a.active {
		grants = append(grants, g)
	}
	a.active = make(map[string]Grant)
	a.mu.Unlock()

	var result *multierror.Error
	for _, g := range grants {
		l := a.lockFor(g.Source)
		l.Lock()
		err := a.backend.Revoke(ctx, g.Source, g.Port)
		l.Unlock()

		if err != nil {
			result = multierror.Append(result, fmt.Errorf("revoke %s: %w", g, err))
			a.publish(events.EventFailure, g, err)
			continue
		}
		if a.metrics != nil {
			a.metrics.RevokesTotal.WithLabelValues("shutdown").Inc()
		}
		a.logger.Audit("revoke", g.Source, map[string]any{
			"port":     g.Port,
			"grant_id": g.ID,
			"reason":   "shutdown",
		})
		a.publish(events.EventRevoke, g, nil)
	}
	return result.ErrorOrNil()
}

func (a *AccessScheduler) publish(t events.EventType, g Grant, err error) {
	data := events.AccessData{
		GrantID:    g.ID,
		Address:    g.Source,
		Port:       g.Port,
		Generation: g.Generation,
		ExpiresAt:  g.ExpiresAt,
	}
	if err != nil {
		data.Error = err.Error()
	}
	a.hub.Publish(events.Event{
		Type:      t,
		Timestamp: a.clock.Now(),
		Source:    "access",
		Data:      data,
	})
}
