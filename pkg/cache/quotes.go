package cache

import (
	"hash/fnv"
	"sync"
	"time"

	binance "pairs-trading-core/pkg/market/binance"
)

const numShards = 16

// Quote is the top of book last seen for a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Mid       float64   `json:"mid"`
	Spread    float64   `json:"spread"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Quotes is a sharded last-quote cache keyed by symbol. Writers are the feed
// goroutine; readers are the API handlers.
type Quotes struct {
	shards [numShards]*quoteShard
	now    func() time.Time
}

type quoteShard struct {
	mu    sync.RWMutex
	items map[string]Quote
}

// NewQuotes creates an empty cache.
func NewQuotes() *Quotes {
	c := &Quotes{now: time.Now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &quoteShard{items: make(map[string]Quote)}
	}
	return c
}

func (c *Quotes) shard(symbol string) *quoteShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return c.shards[h.Sum32()%numShards]
}

// Put records u's best levels. Books with an empty side are ignored and
// reported as false.
func (c *Quotes) Put(u binance.Update) bool {
	mid, ok := u.MidPrice()
	if !ok {
		return false
	}
	q := Quote{
		Symbol:    u.Symbol,
		Bid:       u.Bids[0].Price,
		Ask:       u.Asks[0].Price,
		Mid:       mid,
		Spread:    u.Asks[0].Price - u.Bids[0].Price,
		UpdatedAt: c.now(),
	}
	s := c.shard(u.Symbol)
	s.mu.Lock()
	s.items[u.Symbol] = q
	s.mu.Unlock()
	return true
}

// Get returns the last quote for symbol.
func (c *Quotes) Get(symbol string) (Quote, bool) {
	s := c.shard(symbol)
	s.mu.RLock()
	q, ok := s.items[symbol]
	s.mu.RUnlock()
	return q, ok
}

// Mid returns the last mid price for symbol.
func (c *Quotes) Mid(symbol string) (float64, bool) {
	q, ok := c.Get(symbol)
	return q.Mid, ok
}

// Len returns total items across all shards.
func (c *Quotes) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// All returns a copy of every cached quote.
func (c *Quotes) All() map[string]Quote {
	out := make(map[string]Quote)
	for _, s := range c.shards {
		s.mu.RLock()
		for sym, q := range s.items {
			out[sym] = q
		}
		s.mu.RUnlock()
	}
	return out
}

// Prune removes quotes older than maxAge and returns how many were dropped.
func (c *Quotes) Prune(maxAge time.Duration) int {
	removed := 0
	cutoff := c.now().Add(-maxAge)
	for _, s := range c.shards {
		s.mu.Lock()
		for sym, q := range s.items {
			if q.UpdatedAt.Before(cutoff) {
				delete(s.items, sym)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
