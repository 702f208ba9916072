// Package cache stores the latest result of every polled backend read.
//
// Each key has its own fetch function, staleness window and refresh interval.
// Concurrent fetches of one key share a single request. Results are applied
// in request order: a response that arrives after a newer request already
// resolved is discarded, and responses to requests issued before an
// invalidation are discarded too. Mutations never write values; they call
// Invalidate and the next read or poll tick refetches.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Fetcher reads one resource from the backend.
type Fetcher func(ctx context.Context) (any, error)

// Policy controls how a key is refreshed.
type Policy struct {
	// Interval between poll ticks; zero means the key is only fetched on
	// demand.
	Interval time.Duration
	// Stale is how long a fetched value is served without a new request.
	Stale time.Duration
	// RefetchOnFocus allows Focus to refresh the key.
	RefetchOnFocus bool
}

// Entry is a snapshot of one key.
type Entry struct {
	Key         string
	Value       any
	Err         error
	FetchedAt   time.Time
	Invalidated bool
	Policy      Policy
}

// Fetched reports whether a value was ever applied.
func (e Entry) Fetched() bool { return !e.FetchedAt.IsZero() }

type entry struct {
	policy      Policy
	fetch       Fetcher
	value       any
	err         error
	fetchedAt   time.Time
	invalidated bool
	// issued counts requests started for the key; applied is the sequence
	// number of the newest request whose result may no longer be replaced by
	// an older one.
	issued  uint64
	applied uint64
}

type signalKind int

const (
	signalRegistered signalKind = iota
	signalInvalidated
)

type signal struct {
	key  string
	kind signalKind
}

type Cache struct {
	Now    func() time.Time
	Logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	group   singleflight.Group
	subs    []chan string
	signals chan signal
}

func New() *Cache {
	return &Cache{
		entries: map[string]*entry{},
		signals: make(chan signal, 256),
	}
}

// Register adds key. Registering a key twice is an error.
func (c *Cache) Register(key string, policy Policy, fetch Fetcher) error {
	if fetch == nil {
		return fmt.Errorf("cache: nil fetcher for %q", key)
	}
	c.mu.Lock()
	if _, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return fmt.Errorf("cache: key %q already registered", key)
	}
	c.entries[key] = &entry{policy: policy, fetch: fetch}
	c.mu.Unlock()
	c.signal(signal{key: key, kind: signalRegistered})
	return nil
}

// Ensure registers key unless it exists. Parameterized keys such as
// "missions/{id}" are created this way on first use.
func (c *Cache) Ensure(key string, policy Policy, fetch Fetcher) {
	c.mu.Lock()
	_, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return
	}
	if err := c.Register(key, policy, fetch); err != nil {
		c.logger().Debug("cache key registered concurrently", "key", key)
	}
}

// Get returns the cached value when it is fresh and fetches it otherwise.
// A failed refetch does not clear a fresh value; the error is kept on the
// entry.
func (c *Cache) Get(ctx context.Context, key string) (any, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("cache: unknown key %q", key)
	}
	if c.freshLocked(e) {
		v := e.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()
	return c.Fetch(ctx, key)
}

// Fetch requests key from the backend, joining a request already in flight.
func (c *Cache) Fetch(ctx context.Context, key string) (any, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("cache: unknown key %q", key)
	}
	// A shared request must not fail because the first caller went away;
	// the fetchers carry their own timeouts.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.run(shared, key, e)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) run(ctx context.Context, key string, e *entry) (any, error) {
	c.mu.Lock()
	e.issued++
	seq := e.issued
	fetch := e.fetch
	c.mu.Unlock()

	val, err := fetch(ctx)

	c.mu.Lock()
	apply := seq > e.applied
	if apply {
		e.applied = seq
		e.err = err
		if err == nil {
			e.value = val
			e.fetchedAt = c.now()
			e.invalidated = false
		}
	}
	c.mu.Unlock()
	if !apply {
		c.logger().Debug("discarded superseded result", "key", key, "seq", seq)
		return val, err
	}
	if err != nil {
		c.logger().Warn("cache fetch failed", "key", key, "err", err)
	}
	c.publish(key)
	return val, err
}

// Peek returns the current entry without fetching.
func (c *Cache) Peek(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return c.snapshotLocked(key, e), true
}

// Fresh reports whether key would be served from the cache.
func (c *Cache) Fresh(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && c.freshLocked(e)
}

// Keys returns all registered keys in sorted order.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Match reports whether key is selected by prefix: the key itself or any
// key below it ("missions" selects "missions/42").
func Match(key, prefix string) bool {
	return key == prefix || strings.HasPrefix(key, prefix+"/")
}

// Invalidate marks every key selected by prefixes stale, drops requests
// in flight for them and asks the poller to refetch. It returns the keys
// that were invalidated.
func (c *Cache) Invalidate(prefixes ...string) []string {
	var keys []string
	c.mu.Lock()
	for key, e := range c.entries {
		for _, p := range prefixes {
			if !Match(key, p) {
				continue
			}
			e.invalidated = true
			e.applied = e.issued
			keys = append(keys, key)
			break
		}
	}
	c.mu.Unlock()
	sort.Strings(keys)
	for _, key := range keys {
		c.group.Forget(key)
		c.signal(signal{key: key, kind: signalInvalidated})
		c.publish(key)
	}
	return keys
}

// Focus refetches the stale keys whose policy allows it, concurrently. Keys
// never read are skipped. It returns the refetched keys.
func (c *Cache) Focus(ctx context.Context) []string {
	var keys []string
	c.mu.Lock()
	for key, e := range c.entries {
		if !e.policy.RefetchOnFocus || c.freshLocked(e) {
			continue
		}
		if e.issued == 0 {
			continue
		}
		keys = append(keys, key)
	}
	c.mu.Unlock()
	sort.Strings(keys)
	var g errgroup.Group
	for _, key := range keys {
		g.Go(func() error {
			_, _ = c.Fetch(ctx, key)
			return nil
		})
	}
	_ = g.Wait()
	return keys
}

// Subscribe returns a channel receiving keys whose entry changed. Slow
// subscribers miss updates rather than blocking the cache.
func (c *Cache) Subscribe() <-chan string {
	ch := make(chan string, 64)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

func (c *Cache) publish(key string) {
	c.mu.Lock()
	subs := c.subs
	c.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- key:
		default:
		}
	}
}

func (c *Cache) signal(s signal) {
	select {
	case c.signals <- s:
	default:
		c.logger().Debug("poller signal dropped", "key", s.key)
	}
}

func (c *Cache) policy(key string) (Policy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Policy{}, false
	}
	return e.policy, true
}

func (c *Cache) freshLocked(e *entry) bool {
	if e.invalidated || e.fetchedAt.IsZero() {
		return false
	}
	return c.now().Sub(e.fetchedAt) < e.policy.Stale
}

func (c *Cache) snapshotLocked(key string, e *entry) Entry {
	return Entry{
		Key:         key,
		Value:       e.value,
		Err:         e.err,
		FetchedAt:   e.fetchedAt,
		Invalidated: e.invalidated,
		Policy:      e.policy,
	}
}

func (c *Cache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Cache) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Read fetches key through Get and asserts its type. A key that has never
// produced a value yields the zero T.
func Read[T any](ctx context.Context, c *Cache, key string) (T, error) {
	var zero T
	v, err := c.Get(ctx, key)
	if err != nil {
		if typed, ok := v.(T); ok {
			return typed, err
		}
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache: key %q holds %T", key, v)
	}
	return typed, nil
}

// Cached returns the last applied value of key without fetching.
func Cached[T any](c *Cache, key string) (T, bool) {
	var zero T
	e, ok := c.Peek(key)
	if !ok || e.Value == nil {
		return zero, false
	}
	typed, ok := e.Value.(T)
	return typed, ok
}
