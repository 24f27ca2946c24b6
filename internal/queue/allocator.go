package queue

import (
	"context"
	"errors"
	"fmt"

	"qrfood/order-service/internal/store"
)

var ErrAllocation = errors.New("queue number allocation failed")

// Allocator hands out queue numbers from the shared counter. Numbers that
// were allocated for an order that then failed to persist are skipped, not
// reissued.
type Allocator struct {
	counter store.CounterStore
}

func NewAllocator(counter store.CounterStore) *Allocator {
	return &Allocator{counter: counter}
}

func (a *Allocator) Next(ctx context.Context) (int, error) {
	n, err := a.counter.IncrementAndGet(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAllocation, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: counter returned %d", ErrAllocation, n)
	}
	return n, nil
}

// Reset restarts numbering so the next allocation returns 1.
func (a *Allocator) Reset(ctx context.Context) error {
	if err := a.counter.Reset(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrAllocation, err)
	}
	return nil
}
