package kafka

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// Notifier publishes lifecycle events in the background. Callers never
// wait on delivery and delivery failures never reach them; they are logged.
type Notifier struct {
	publisher          Publisher
	bookingTopic       string
	notificationsTopic string
	timeout            time.Duration
	logger             *slog.Logger
	wg                 sync.WaitGroup
}

type NotifierOption func(*Notifier)

func WithPublishTimeout(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

func WithNotifierLogger(logger *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

func NewNotifier(publisher Publisher, bookingTopic, notificationsTopic string, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		publisher:          publisher,
		bookingTopic:       bookingTopic,
		notificationsTopic: notificationsTopic,
		timeout:            5 * time.Second,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Notifier) Notify(ctx context.Context, event Event) {
	if n.publisher == nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()

		for _, topic := range []string{n.bookingTopic, n.notificationsTopic} {
			if topic == "" {
				continue
			}
			if err := n.publisher.Publish(pubCtx, topic, event.Reference, event); err != nil {
				n.logger.Warn("event not delivered",
					"type", event.Type, "reference", event.Reference, "topic", topic, "error", err)
			}
		}
	}()
}

// Wait blocks until every event handed to Notify has been attempted.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
