package audit

import (
	"context"

	"grimm.is/knockd/internal/events"
	"grimm.is/knockd/internal/logging"
)

// Writer is the part of Store the subscriber needs.
type Writer interface {
	Write(ctx context.Context, rec Record) error
}

// Subscriber copies access lifecycle events from a hub into the audit trail.
type Subscriber struct {
	hub    *events.Hub
	store  Writer
	logger *logging.Logger
	ch     <-chan events.Event
	done   chan struct{}
}

// NewSubscriber subscribes to grant, revoke, stale and failure events on hub.
func NewSubscriber(hub *events.Hub, store Writer, logger *logging.Logger) *Subscriber {
	return &Subscriber{
		hub:    hub,
		store:  store,
		logger: logging.OrDefault(logger).WithComponent("audit"),
		ch:     hub.Subscribe(1024, events.EventGrant, events.EventRevoke, events.EventStale, events.EventFailure),
		done:   make(chan struct{}),
	}
}

// Run writes events until ctx is cancelled or the subscription is closed.
func (s *Subscriber) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case evt, ok := <-s.ch:
			if !ok {
				return
			}
			s.handle(context.WithoutCancel(ctx), evt)
		}
	}
}

// Close unsubscribes from the hub and waits for Run to return.
func (s *Subscriber) Close() {
	s.hub.Unsubscribe(s.ch)
	<-s.done
}

// drain writes whatever is already buffered so shutdown revocations are kept.
func (s *Subscriber) drain() {
	for {
		select {
		case evt, ok := <-s.ch:
			if !ok {
				return
			}
			s.handle(context.Background(), evt)
		default:
			return
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, evt events.Event) {
	rec, ok := RecordFromEvent(evt)
	if !ok {
		return
	}
	if err := s.store.Write(ctx, rec); err != nil {
		s.logger.Warn("failed to write audit record", "action", rec.Action, "address", rec.Address, "error", err)
	}
}

// RecordFromEvent converts an access event into an audit record.
func RecordFromEvent(evt events.Event) (Record, bool) {
	data, ok := evt.Data.(events.AccessData)
	if !ok {
		return Record{}, false
	}

	var action string
	switch evt.Type {
	case events.EventGrant:
		action = ActionGrant
	case events.EventRevoke:
		action = ActionRevoke
	case events.EventStale:
		action = ActionStale
	case events.EventFailure:
		action = ActionFailure
	default:
		return Record{}, false
	}

	rec := Record{
		Timestamp:  evt.Timestamp,
		Action:     action,
		GrantID:    data.GrantID,
		Address:    data.Address,
		Port:       data.Port,
		Generation: data.Generation,
		Error:      data.Error,
	}
	if !data.ExpiresAt.IsZero() {
		rec.Details = map[string]any{"expires_at": data.ExpiresAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")}
	}
	return rec, true
}
