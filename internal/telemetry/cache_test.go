package telemetry

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2017, 6, 8, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestCache_TTLBoundary(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(120*time.Second, 32, WithClock(clock.Now))

	c.Put("base", FieldPresentPosition, 512)

	clock.Advance(119 * time.Second)
	if v, ok := c.Get("base", FieldPresentPosition); !ok || v != 512 {
		t.Errorf("Get() at t=119 = (%v, %v), want (512, true)", v, ok)
	}

	clock.Advance(2 * time.Second)
	if v, ok := c.Get("base", FieldPresentPosition); ok {
		t.Errorf("Get() at t=121 = (%v, true), want absent", v)
	}
}

func TestCache_PutRefreshesTTL(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(120*time.Second, 32, WithClock(clock.Now))

	c.Put("bone", FieldPresentSpeed, 100)
	clock.Advance(100 * time.Second)
	c.Put("bone", FieldPresentSpeed, 200)
	clock.Advance(100 * time.Second)

	if v, ok := c.Get("bone", FieldPresentSpeed); !ok || v != 200 {
		t.Errorf("Get() = (%v, %v), want (200, true)", v, ok)
	}
}

func TestCache_KeyedPerActuator(t *testing.T) {
	c := NewCache(time.Minute, 32)

	c.Put("base", FieldPresentPosition, 100)
	c.Put("tibia", FieldPresentPosition, 900)

	if v, _ := c.GetInt("base", FieldPresentPosition); v != 100 {
		t.Errorf("base present_position = %d, want 100", v)
	}
	if v, _ := c.GetInt("tibia", FieldPresentPosition); v != 900 {
		t.Errorf("tibia present_position = %d, want 900", v)
	}
	if _, ok := c.Get("femur01", FieldPresentPosition); ok {
		t.Error("unwritten actuator reported a value")
	}
}

func TestCache_CapacityEvictsOldest(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(time.Hour, 3, WithClock(clock.Now))

	for i := 0; i < 4; i++ {
		c.Put(fmt.Sprintf("servo%d", i), FieldMoving, true)
		clock.Advance(time.Second)
	}

	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
	if _, ok := c.Get("servo0", FieldMoving); ok {
		t.Error("oldest entry survived eviction")
	}
	for i := 1; i < 4; i++ {
		if _, ok := c.Get(fmt.Sprintf("servo%d", i), FieldMoving); !ok {
			t.Errorf("servo%d evicted, want kept", i)
		}
	}
}

func TestCache_CapacityPrefersExpired(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(10*time.Second, 2, WithClock(clock.Now))

	c.Put("a", FieldMoving, true)
	c.Put("b", FieldMoving, true)
	clock.Advance(11 * time.Second)
	c.Put("b", FieldMoving, false) // refresh b, a is now expired
	c.Put("c", FieldMoving, true)

	if _, ok := c.Get("b", FieldMoving); !ok {
		t.Error("live entry b evicted while expired entry was available")
	}
	if _, ok := c.Get("c", FieldMoving); !ok {
		t.Error("new entry c missing")
	}
}

func TestCache_GetIntTypeMismatch(t *testing.T) {
	c := NewCache(0, 0)
	c.Put("base", FieldMoving, true)

	if _, ok := c.GetInt("base", FieldMoving); ok {
		t.Error("GetInt() on bool value reported ok")
	}
	if c.TTL() != DefaultTTL {
		t.Errorf("TTL() = %v, want default %v", c.TTL(), DefaultTTL)
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := NewCache(time.Minute, 64)
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				actuator := fmt.Sprintf("servo%d", i%8)
				c.Put(actuator, FieldPresentLoad, w*i)
				c.Get(actuator, FieldPresentLoad)
			}
		}(w)
	}
	wg.Wait()

	if c.Len() > 64 {
		t.Errorf("Len() = %d exceeds capacity", c.Len())
	}
}
