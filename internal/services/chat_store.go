package services

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/go-portfolio-backend/internal/domain"
	"github.com/tbourn/go-portfolio-backend/internal/realtime"
	"github.com/tbourn/go-portfolio-backend/internal/repo"
)

// codeQueryFailed is the error event code of a failed live query.
const codeQueryFailed = "query_failed"

// ChatStore is the document store the chat sessions write to and watch;
// *docstore.Store implements it.
type ChatStore interface {
	EnsureChat(ctx context.Context, chatID, visitorUID, visitorName string) error
	MergeChat(ctx context.Context, chatID string, patch repo.ChatPatch) error
	AddMessage(ctx context.Context, chatID, sender, text string) (*domain.Message, error)
	GetChat(ctx context.Context, chatID string) (*domain.Chat, error)
	WatchChats(limit int) (*realtime.Subscription[[]domain.Chat], error)
	WatchMessages(chatID string, limit int) (*realtime.Subscription[[]domain.Message], error)
}

// normalizeText trims s and puts it in NFC form so visually identical input
// compares and counts the same.
func normalizeText(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

func tooLong(s string, max int) bool {
	return max > 0 && utf8.RuneCountInString(s) > max
}

// forwarder pumps one subscription into a session's event stream.
type forwarder struct {
	close func()
	quit  chan struct{}
	done  chan struct{}
}

// forward starts delivering sub's snapshots to deliver. deliver receives a
// quit channel it must honour when blocking.
func forward[T any](wg *sync.WaitGroup, sub *realtime.Subscription[T], deliver func(snap realtime.Snapshot[T], quit <-chan struct{})) *forwarder {
	f := &forwarder{close: sub.Close, quit: make(chan struct{}), done: make(chan struct{})}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(f.done)
		for snap := range sub.C() {
			select {
			case <-f.quit:
				return
			default:
			}
			deliver(snap, f.quit)
		}
	}()
	return f
}

// stop closes the subscription and waits until nothing more is delivered.
func (f *forwarder) stop() {
	if f == nil {
		return
	}
	close(f.quit)
	f.close()
	<-f.done
}
