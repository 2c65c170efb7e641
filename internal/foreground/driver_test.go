package foreground

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/db"
	"github.com/lalithlochan/vigil/internal/delivery"
	"github.com/lalithlochan/vigil/internal/redis"
)

type fakeEngine struct {
	mu     sync.Mutex
	next   time.Time
	has    bool
	sweeps int
	panics int
	onSwp  func(f *fakeEngine)
	swept  chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{swept: make(chan struct{}, 100)}
}

func (f *fakeEngine) Sweep(context.Context) (delivery.SweepResult, error) {
	f.mu.Lock()
	f.sweeps++
	if f.panics > 0 {
		f.panics--
		f.mu.Unlock()
		f.swept <- struct{}{}
		panic("bad entry")
	}
	if f.onSwp != nil {
		f.onSwp(f)
	}
	f.mu.Unlock()
	f.swept <- struct{}{}
	return delivery.SweepResult{}, nil
}

func (f *fakeEngine) NextDue(context.Context) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next, f.has, nil
}

func (f *fakeEngine) Now() time.Time { return time.Now() }

func (f *fakeEngine) setNext(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next, f.has = t, true
}

func (f *fakeEngine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

func waitSweep(t *testing.T, f *fakeEngine, timeout time.Duration) {
	t.Helper()
	select {
	case <-f.swept:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for sweep")
	}
}

func start(t *testing.T, d *Driver) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestDriver_SweepsWhenSoonestEntryIsDue(t *testing.T) {
	f := newFakeEngine()
	f.setNext(time.Now().Add(30 * time.Millisecond))
	f.onSwp = func(f *fakeEngine) { f.has = false }

	d := New(f, Config{MaxSleep: time.Hour}, zap.NewNop())
	start(t, d)

	waitSweep(t, f, time.Second)
	if n := f.count(); n != 1 {
		t.Fatalf("expected 1 sweep, got %d", n)
	}
}

func TestDriver_RescheduleRearmsTimer(t *testing.T) {
	f := newFakeEngine()
	f.onSwp = func(f *fakeEngine) { f.has = false }
	d := New(f, Config{MaxSleep: time.Hour}, zap.NewNop())
	start(t, d)

	select {
	case <-f.swept:
		t.Fatal("nothing is pending, no sweep expected")
	case <-time.After(50 * time.Millisecond):
	}

	f.setNext(time.Now())
	d.Reschedule()

	waitSweep(t, f, time.Second)
}

func TestDriver_MaxSleepPicksUpForeignWrites(t *testing.T) {
	f := newFakeEngine()
	f.onSwp = func(f *fakeEngine) { f.has = false }
	d := New(f, Config{MaxSleep: 40 * time.Millisecond}, zap.NewNop())
	start(t, d)

	// written by the other process; no Reschedule
	f.setNext(time.Now())

	waitSweep(t, f, time.Second)
}

func TestDriver_StillDueEntryWaitsRetryDelay(t *testing.T) {
	f := newFakeEngine()
	f.setNext(time.Now().Add(-time.Second))

	d := New(f, Config{MaxSleep: time.Hour, RetryDelay: 50 * time.Millisecond}, zap.NewNop())
	start(t, d)

	time.Sleep(180 * time.Millisecond)
	n := f.count()
	if n < 2 || n > 10 {
		t.Fatalf("expected a few retries, got %d sweeps", n)
	}
}

func TestDriver_RecoversFromPanic(t *testing.T) {
	f := newFakeEngine()
	f.panics = 1
	f.setNext(time.Now())

	d := New(f, Config{MaxSleep: time.Hour, RetryDelay: 10 * time.Millisecond}, zap.NewNop())
	start(t, d)

	waitSweep(t, f, time.Second) // panics
	waitSweep(t, f, time.Second) // driver is still alive
}

func TestDriver_RescheduleNeverBlocks(t *testing.T) {
	d := New(newFakeEngine(), Config{}, zap.NewNop())
	for i := 0; i < 100; i++ {
		d.Reschedule()
	}
}

type countingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (c *countingNotifier) Notify(_ context.Context, d delivery.Display) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, d.ID)
	return nil
}

func (c *countingNotifier) Supports(db.NotificationType) bool { return true }

func (c *countingNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

func TestDriver_DeliversThroughEngine(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	store := redis.NewStore(redis.NewFromClient(rdb, "", zap.NewNop()), zap.NewNop())

	now := time.Now()
	entry := &db.ScheduledNotification{
		ID:           "custom-1",
		Type:         db.TypeCustom,
		Title:        "Cell meeting",
		Body:         "Starts soon",
		ScheduleTime: now.Add(80 * time.Millisecond),
		CreatedAt:    now,
	}
	if err := store.Put(context.Background(), entry); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	notifier := &countingNotifier{}
	engine := delivery.New(store, notifier, delivery.NewPermissionGate(delivery.PermissionGranted), delivery.Config{}, zap.NewNop())
	start(t, New(engine, Config{MaxSleep: time.Hour}, zap.NewNop()))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pending, err := store.GetPending(context.Background())
		if err == nil && len(pending) == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	pending, _ := store.GetPending(context.Background())
	if len(pending) != 0 {
		t.Fatalf("entry should be sent, %d still pending", len(pending))
	}
	if notifier.count() != 1 {
		t.Fatalf("expected 1 display, got %d", notifier.count())
	}
}
