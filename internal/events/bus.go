// Package events carries the domain events the hosting environment observes:
// account bound (cancellable) and account unbound (tagged with a cause).
package events

import (
	"context"
	"sync"

	"github.com/lunaris-team/bindery/internal/models"
)

type AccountBound struct {
	TelegramID int64
	PlayerName string
}

type AccountUnbound struct {
	TelegramID int64
	PlayerName string
	Cause      models.UnbindCause
}

// BoundHandler observes a freshly confirmed binding. Returning an error
// vetoes the binding: the caller rolls the permanent record back and reports
// the confirmation as failed.
type BoundHandler func(ctx context.Context, ev AccountBound) error

type UnboundHandler func(ctx context.Context, ev AccountUnbound)

// Bus is a small synchronous in-process dispatcher. Handlers run on the
// caller's goroutine in subscription order.
type Bus struct {
	mu        sync.RWMutex
	onBound   []BoundHandler
	onUnbound []UnboundHandler
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) SubscribeBound(h BoundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onBound = append(b.onBound, h)
}

func (b *Bus) SubscribeUnbound(h UnboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onUnbound = append(b.onUnbound, h)
}

// PublishBound runs bound handlers until the first veto, whose error is
// returned to the publisher.
func (b *Bus) PublishBound(ctx context.Context, ev AccountBound) error {
	b.mu.RLock()
	handlers := b.onBound
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) PublishUnbound(ctx context.Context, ev AccountUnbound) {
	b.mu.RLock()
	handlers := b.onUnbound
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}
