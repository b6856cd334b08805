package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tbourn/go-portfolio-backend/internal/observability"
)

// ErrClosed is returned by Watch on a closed feed.
var ErrClosed = errors.New("realtime: feed closed")

// Snapshot is one delivery of a live query: the full result or the error the
// query returned.
type Snapshot[T any] struct {
	Value T
	Err   error
}

// QueryFunc produces the current result of a live query.
type QueryFunc[T any] func(ctx context.Context) (T, error)

// Subscription is a running live query. Receive snapshots from C until it
// is closed.
type Subscription[T any] struct {
	topic  string
	out    chan Snapshot[T]
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Watch subscribes to topic and starts delivering query results. The first
// snapshot is produced immediately; each later notification on topic re-runs
// query. Notifications that arrive while a query is running are coalesced
// into one re-run, and a consumer that falls behind only ever sees the
// latest snapshot.
func Watch[T any](f *Feed, topic string, query QueryFunc[T]) (*Subscription[T], error) {
	ctx, cancel := context.WithCancel(context.Background())

	// Subscribe before the first query so no change can slip in between.
	msgs, err := f.subscribe(ctx, topic)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &Subscription[T]{
		topic:  topic,
		out:    make(chan Snapshot[T], 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	observability.Subscriptions.Inc()
	go s.run(ctx, msgs, query)
	return s, nil
}

// C returns the snapshot channel. It is closed once the subscription stops.
func (s *Subscription[T]) C() <-chan Snapshot[T] { return s.out }

// Topic is the topic the subscription listens on.
func (s *Subscription[T]) Topic() string { return s.topic }

// Close stops the subscription and waits for its goroutine. No snapshot is
// delivered after Close returns. Close is idempotent.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		observability.Subscriptions.Dec()
	})
}

func (s *Subscription[T]) run(ctx context.Context, msgs <-chan *message.Message, query QueryFunc[T]) {
	defer close(s.done)
	defer func() {
		// Drop an unread snapshot so nothing is observed after Close.
		select {
		case <-s.out:
		default:
		}
		close(s.out)
	}()

	if !s.refresh(ctx, query) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			msg.Ack()
			drain(msgs)
			if !s.refresh(ctx, query) {
				return
			}
		}
	}
}

// refresh runs query and publishes the result. It reports false once the
// subscription is shutting down.
func (s *Subscription[T]) refresh(ctx context.Context, query QueryFunc[T]) bool {
	v, err := query(ctx)
	if ctx.Err() != nil {
		return false
	}
	snap := Snapshot[T]{Value: v, Err: err}

	// Replace an unread snapshot with the newer one.
	select {
	case <-s.out:
	default:
	}
	s.out <- snap
	return true
}

func drain(msgs <-chan *message.Message) {
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			msg.Ack()
		default:
			return
		}
	}
}
