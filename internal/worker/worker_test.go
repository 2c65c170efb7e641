package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/cleanup"
	"github.com/lalithlochan/vigil/internal/control"
	"github.com/lalithlochan/vigil/internal/db"
	"github.com/lalithlochan/vigil/internal/delivery"
	"github.com/lalithlochan/vigil/internal/redis"
)

type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingNotifier) Notify(_ context.Context, d delivery.Display) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, d.ID)
	return nil
}

func (r *recordingNotifier) Supports(db.NotificationType) bool { return true }

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

type fixture struct {
	store    *redis.Store
	notifier *recordingNotifier
	worker   *Worker
}

func setup(t *testing.T) *fixture {
	t.Helper()
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
	notifier := &recordingNotifier{}
	engine := delivery.New(store, notifier, delivery.NewPermissionGate(delivery.PermissionGranted), delivery.Config{Driver: "background"}, zap.NewNop())
	w := New(store, engine, cleanup.New(store, zap.NewNop()), Config{WakeInterval: time.Hour}, zap.NewNop())

	return &fixture{store: store, notifier: notifier, worker: w}
}

func entry(id string, at time.Time) *db.ScheduledNotification {
	return &db.ScheduledNotification{
		ID:           id,
		Type:         db.TypeMissionDeadline,
		Title:        "Mission ends tonight",
		Body:         "Finish your reading plan",
		ScheduleTime: at,
		Tag:          "mission-deadline",
		CreatedAt:    at.Add(-time.Hour),
	}
}

func TestWake_SweepsAndCleans(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	now := time.Now()

	old := entry("old", now.Add(-10*24*time.Hour))
	old.MarkSent(now.Add(-10 * 24 * time.Hour))
	for _, e := range []*db.ScheduledNotification{entry("due", now.Add(-time.Minute)), entry("future", now.Add(time.Hour)), old} {
		if err := f.store.Put(ctx, e); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	res, err := f.worker.Wake(ctx, ReasonPush)
	if err != nil {
		t.Fatalf("wake failed: %v", err)
	}
	if res.Reason != ReasonPush || res.Sweep.Displayed != 1 || res.Cleaned != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	pending, _ := f.store.GetPending(ctx)
	if len(pending) != 1 || pending[0].ID != "future" {
		t.Fatalf("only the future entry should stay pending, got %+v", pending)
	}
}

func TestWake_StorageFailure(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	store := redis.NewStore(redis.NewFromClient(rdb, "", zap.NewNop()), zap.NewNop())
	mr.Close()

	engine := delivery.New(store, &recordingNotifier{}, delivery.NewPermissionGate(delivery.PermissionGranted), delivery.Config{}, zap.NewNop())
	w := New(store, engine, cleanup.New(store, zap.NewNop()), Config{}, zap.NewNop())

	if _, err := w.Wake(context.Background(), ReasonSync); !errors.Is(err, db.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

type slowEngine struct {
	active  int32
	overlap int32
}

func (s *slowEngine) Sweep(context.Context) (delivery.SweepResult, error) {
	if atomic.AddInt32(&s.active, 1) > 1 {
		atomic.StoreInt32(&s.overlap, 1)
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&s.active, -1)
	return delivery.SweepResult{}, nil
}

type noopCleaner struct{}

func (noopCleaner) CleanupOldNotifications(context.Context, time.Duration) (int, error) {
	return 0, nil
}

func TestWake_IsSequential(t *testing.T) {
	engine := &slowEngine{}
	w := New(nil, engine, noopCleaner{}, Config{}, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Wake(context.Background(), ReasonPush)
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&engine.overlap) != 0 {
		t.Fatal("wakes overlapped")
	}
}

type panickingEngine struct{}

func (panickingEngine) Sweep(context.Context) (delivery.SweepResult, error) {
	panic("corrupt entry")
}

func TestWake_RecoversPanic(t *testing.T) {
	w := New(nil, panickingEngine{}, noopCleaner{}, Config{}, zap.NewNop())
	if _, err := w.Wake(context.Background(), ReasonPeriodic); err == nil {
		t.Fatal("expected panic to surface as an error")
	}
	// the mutex must have been released
	if _, err := w.Wake(context.Background(), ReasonPeriodic); err == nil {
		t.Fatal("expected second panic to surface as an error")
	}
}

type failingCleaner struct{}

func (failingCleaner) CleanupOldNotifications(context.Context, time.Duration) (int, error) {
	return 0, db.StorageError("get all", errors.New("timeout"))
}

func TestWake_CleanupFailureDoesNotFailWake(t *testing.T) {
	w := New(nil, &slowEngine{}, failingCleaner{}, Config{}, zap.NewNop())
	if _, err := w.Wake(context.Background(), ReasonSync); err != nil {
		t.Fatalf("cleanup failure should be logged only, got %v", err)
	}
}

func TestHandleMessage_ScheduleSweepsStoredEntry(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// the foreground persists before it announces
	due := entry("mission-1", time.Now().Add(-time.Second))
	if err := f.store.Put(ctx, due); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := f.worker.HandleMessage(ctx, control.ScheduleNotification(due)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	if f.notifier.count() != 1 {
		t.Fatalf("due entry should be displayed immediately, got %d", f.notifier.count())
	}
	all, _ := f.store.GetAll(ctx)
	if len(all) != 1 || !all[0].Sent {
		t.Fatalf("entry should be stored and sent, got %+v", all)
	}
}

func TestHandleMessage_ScheduleDropsEntryMissingFromStore(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	gone := entry("mission-1", time.Now().Add(-time.Second))
	if err := f.worker.HandleMessage(ctx, control.ScheduleNotification(gone)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if f.notifier.count() != 0 {
		t.Fatal("cancelled entry displayed")
	}
	all, _ := f.store.GetAll(ctx)
	if len(all) != 0 {
		t.Fatalf("message must not write the entry back, got %+v", all)
	}
}

func TestHandleMessage_ScheduleDoesNotResurrectSentEntry(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	stale := entry("mission-1", time.Now().Add(-time.Minute))
	sent := *stale
	sent.MarkSent(time.Now())
	if err := f.store.Put(ctx, &sent); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	if err := f.worker.HandleMessage(ctx, control.ScheduleNotification(stale)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if f.notifier.count() != 0 {
		t.Fatal("sent entry displayed again")
	}
	all, _ := f.store.GetAll(ctx)
	if len(all) != 1 || !all[0].Sent {
		t.Fatalf("sent flag must stay terminal, got %+v", all)
	}
}

func TestHandleMessage_Cancel(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	now := time.Now()

	daily := entry("daily-1", now.Add(time.Hour))
	daily.Type = db.TypeDailyReminder
	for _, e := range []*db.ScheduledNotification{daily, entry("mission-1", now.Add(time.Hour))} {
		if err := f.store.Put(ctx, e); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	if err := f.worker.HandleMessage(ctx, control.CancelNotifications(db.TypeDailyReminder)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	left, _ := f.store.GetByType(ctx, db.TypeDailyReminder)
	if len(left) != 0 {
		t.Fatalf("daily reminders should be gone, got %d", len(left))
	}
	other, _ := f.store.GetByType(ctx, db.TypeMissionDeadline)
	if len(other) != 1 {
		t.Fatal("other types must survive")
	}
}

func TestHandleMessage_TriggerBackgroundCheck(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	if err := f.store.Put(ctx, entry("due", time.Now().Add(-time.Second))); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	if err := f.worker.HandleMessage(ctx, control.TriggerBackgroundCheck()); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if f.notifier.count() != 1 {
		t.Fatalf("expected immediate sweep, got %d displays", f.notifier.count())
	}
}

func TestHandleMessage_Unknown(t *testing.T) {
	f := setup(t)
	err := f.worker.HandleMessage(context.Background(), control.Message{Kind: "NOPE"})
	if !errors.Is(err, control.ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestStart_WakesOnStartupAndStops(t *testing.T) {
	f := setup(t)
	if err := f.store.Put(context.Background(), entry("due", time.Now().Add(-time.Second))); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.worker.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.notifier.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	if f.notifier.count() != 1 {
		t.Fatalf("startup wake should display the due entry, got %d", f.notifier.count())
	}
}

func TestControlBusDrivesWorker(t *testing.T) {
	f := setup(t)
	bus := control.NewBus(8, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx, f.worker)

	due := entry("m-1", time.Now().Add(-time.Second))
	if err := f.store.Put(ctx, due); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := bus.Publish(ctx, control.ScheduleNotification(due)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.notifier.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if f.notifier.count() != 1 {
		t.Fatalf("expected the worker to display the scheduled entry, got %d", f.notifier.count())
	}
}
