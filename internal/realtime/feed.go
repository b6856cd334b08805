// Package realtime turns a change feed into live queries.
//
// Writers call Feed.Notify(topic) after a successful write. Readers call
// Watch with a topic and a query; the returned Subscription delivers the
// query's result right away and again after every notification on the topic.
// Every snapshot is a full result, never a patch.
package realtime

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Feed is an in-process change feed. It is safe for concurrent use.
type Feed struct {
	ps     *gochannel.GoChannel
	log    zerolog.Logger
	closed atomic.Bool
}

// NewFeed creates an open feed.
func NewFeed() *Feed {
	l := log.With().Str("component", "realtime").Logger()
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 16,
	}, zerologAdapter{l: l})
	return &Feed{ps: ps, log: l}
}

// Notify signals that data behind topic changed. Failures are logged; a
// missed notification only delays a live query until the next one.
func (f *Feed) Notify(ctx context.Context, topic string) {
	msg := message.NewMessage(uuid.NewString(), nil)
	msg.SetContext(ctx)
	if err := f.ps.Publish(topic, msg); err != nil {
		f.log.Warn().Err(err).Str("topic", topic).Msg("change notification dropped")
	}
}

// Close stops the feed. Open subscriptions see their channels closed.
func (f *Feed) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := f.ps.Close(); err != nil {
		return fmt.Errorf("close feed: %w", err)
	}
	return nil
}

func (f *Feed) subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if f.closed.Load() {
		return nil, ErrClosed
	}
	return f.ps.Subscribe(ctx, topic)
}

// zerologAdapter routes watermill's logging to zerolog.
type zerologAdapter struct {
	l zerolog.Logger
}

func (a zerologAdapter) event(e *zerolog.Event, msg string, fields watermill.LogFields) {
	e.Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.event(a.l.Error().Err(err), msg, fields)
}

func (a zerologAdapter) Info(msg string, fields watermill.LogFields) {
	a.event(a.l.Debug(), msg, fields)
}

func (a zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	a.event(a.l.Trace(), msg, fields)
}

func (a zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	a.event(a.l.Trace(), msg, fields)
}

func (a zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return zerologAdapter{l: a.l.With().Fields(map[string]interface{}(fields)).Logger()}
}
