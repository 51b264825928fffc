package telemetry

import (
	"container/list"
	"sync"
	"time"
)

// Defaults matching the device configuration defaults.
const (
	DefaultTTL      = 120 * time.Second
	DefaultCapacity = 256
)

// Reading field names shared by the hardware group, the telemetry
// message and the emergency stop.
const (
	FieldPresentSpeed       = "present_speed"
	FieldPresentPosition    = "present_position"
	FieldPresentLoad        = "present_load"
	FieldGoalPosition       = "goal_position"
	FieldMoving             = "moving"
	FieldPresentTemperature = "present_temperature"
	FieldTorqueLimit        = "torque_limit"
)

type key struct {
	actuator string
	field    string
}

type entry struct {
	key       key
	value     any
	writtenAt time.Time
}

// Cache is a TTL and capacity bounded store of actuator readings.
type Cache struct {
	ttl      time.Duration
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	entries map[key]*list.Element
	// order holds entries by last write, oldest at the front.
	order *list.List
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now. Tests use it to step time deterministically.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates a cache whose entries live for ttl after their last
// write and which holds at most capacity entries. Non-positive values
// select the defaults.
func NewCache(ttl time.Duration, capacity int, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
		entries:  make(map[key]*list.Element),
		order:    list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put stores value for (actuator, field) and restarts its TTL.
// When the cache is full, expired entries are dropped first and then the
// oldest-written entry is evicted.
func (c *Cache) Put(actuator, field string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	k := key{actuator: actuator, field: field}

	if el, ok := c.entries[k]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.writtenAt = now
		c.order.MoveToBack(el)
		return
	}

	if len(c.entries) >= c.capacity {
		c.purgeExpired(now)
	}
	for len(c.entries) >= c.capacity {
		c.remove(c.order.Front())
	}

	c.entries[k] = c.order.PushBack(&entry{key: k, value: value, writtenAt: now})
}

// Get returns the value for (actuator, field). ok is false when the entry
// was never written, was evicted, or is older than the TTL.
func (c *Cache) Get(actuator, field string) (value any, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.entries[key{actuator: actuator, field: field}]
	if !found {
		return nil, false
	}
	e := el.Value.(*entry)
	if c.expired(e, c.now()) {
		c.remove(el)
		return nil, false
	}
	return e.value, true
}

// GetInt is Get for integer registers. A present value of another type
// is reported as absent.
func (c *Cache) GetInt(actuator, field string) (int, bool) {
	v, ok := c.Get(actuator, field)
	if !ok {
		return 0, false
	}
	n, ok := v.(int)
	return n, ok
}

// Len returns the number of stored entries, including any that have
// expired but not yet been purged.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) expired(e *entry, now time.Time) bool {
	return !now.Before(e.writtenAt.Add(c.ttl))
}

// purgeExpired drops expired entries. Entries are ordered by write time,
// so it stops at the first live one.
func (c *Cache) purgeExpired(now time.Time) {
	for el := c.order.Front(); el != nil; {
		if !c.expired(el.Value.(*entry), now) {
			return
		}
		next := el.Next()
		c.remove(el)
		el = next
	}
}

func (c *Cache) remove(el *list.Element) {
	e := c.order.Remove(el).(*entry)
	delete(c.entries, e.key)
}
