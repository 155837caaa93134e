// Package pgnotify bridges PostgreSQL NOTIFY/LISTEN into the in-process event
// bus. A single long-lived listener owns the connection and reconnects with
// bounded backoff; notifications raised while disconnected are lost, so
// consumers re-fetch after a reconnect.
package pgnotify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/flowforge/platform/pkg/logger"
)

const (
	minReconnect = 10 * time.Second
	maxReconnect = time.Minute
	pingInterval = 90 * time.Second
)

// Notification is the decoded payload of one pg_notify event.
type Notification struct {
	Channel string
	Payload json.RawMessage
}

// Handler is called for every notification received on a subscribed channel.
type Handler func(ctx context.Context, n Notification)

// Listener wraps a pq.Listener with channel handlers and lifecycle management.
type Listener struct {
	dsn string
	log *logger.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler

	listener *pq.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
}

// New creates a listener for the given DSN. Start must be called before
// notifications are delivered.
func New(dsn string, log *logger.Logger) *Listener {
	if log == nil {
		log = logger.NewDefault("pgnotify")
	}
	return &Listener{
		dsn:      dsn,
		log:      log,
		handlers: make(map[string][]Handler),
	}
}

// Subscribe registers a handler for a channel. Must be called before Start.
func (l *Listener) Subscribe(channel string, handler Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[channel] = append(l.handlers[channel], handler)
}

// Name implements system.Service.
func (l *Listener) Name() string { return "pgnotify-listener" }

// Start opens the LISTEN connection and begins dispatching.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			l.log.WithError(err).Warn("pgnotify listener connection event")
		}
	}
	l.listener = pq.NewListener(l.dsn, minReconnect, maxReconnect, reportProblem)
	for channel := range l.handlers {
		if err := l.listener.Listen(channel); err != nil {
			l.listener.Close()
			l.listener = nil
			l.mu.Unlock()
			return err
		}
	}
	runCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.running = true
	listener := l.listener
	l.mu.Unlock()

	l.wg.Add(1)
	go l.loop(runCtx, listener)

	l.log.Info("pgnotify listener started")
	return nil
}

// Stop closes the connection and waits for the dispatch loop to exit.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	cancel := l.cancel
	listener := l.listener
	l.running = false
	l.cancel = nil
	l.listener = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if listener != nil {
		_ = listener.Close()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		l.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	l.log.Info("pgnotify listener stopped")
	return nil
}

func (l *Listener) loop(ctx context.Context, listener *pq.Listener) {
	defer l.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case notification := <-listener.Notify:
			if notification == nil {
				// Connection lost; pq.Listener reconnects on its own.
				// Notifications raised meanwhile were missed.
				l.log.Warn("pgnotify connection reset; subscribers should re-fetch")
				continue
			}
			l.dispatch(ctx, Notification{
				Channel: notification.Channel,
				Payload: json.RawMessage(notification.Extra),
			})

		case <-time.After(pingInterval):
			if err := listener.Ping(); err != nil {
				l.log.WithError(err).Warn("pgnotify ping failed")
			}
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, n Notification) {
	l.mu.RLock()
	handlers := make([]Handler, len(l.handlers[n.Channel]))
	copy(handlers, l.handlers[n.Channel])
	l.mu.RUnlock()

	for _, handler := range handlers {
		handler(ctx, n)
	}
}
