package state

import (
	"context"
	"sync"
	"time"
)

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// PricePoint is one sampled oracle price.
type PricePoint struct {
	Symbol string
	Time   time.Time
	Price  float64
}

// PriceStore keeps the locally sampled price history used for on-chain
// realized volatility.
type PriceStore interface {
	AppendPrice(ctx context.Context, p PricePoint) error
	PriceHistory(ctx context.Context, symbol string, since time.Time) ([]PricePoint, error)
	PrunePrices(ctx context.Context, before time.Time) (int64, error)
}

// Memory is a process-local Store.
type Memory struct {
	mu    sync.Mutex
	items map[string]string
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]string)}
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
