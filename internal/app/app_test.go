package app

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/config"
	"github.com/lalithlochan/vigil/internal/db"
	"github.com/lalithlochan/vigil/internal/delivery"
)

func TestNotifiers(t *testing.T) {
	tests := []struct {
		name         string
		cfg          config.Config
		wantBreakers []string
	}{
		{"log only", config.Config{}, nil},
		{"webhook", config.Config{WebhookURL: "http://device.local/notify", WebhookTimeout: 5}, []string{"webhook"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, breakers := Notifiers(context.Background(), &tt.cfg, zap.NewNop())
			if len(breakers) != len(tt.wantBreakers) {
				t.Fatalf("breakers = %d, want %d", len(breakers), len(tt.wantBreakers))
			}
			for i, cb := range breakers {
				if cb.Name() != tt.wantBreakers[i] {
					t.Errorf("breaker %d = %s, want %s", i, cb.Name(), tt.wantBreakers[i])
				}
			}
			for _, typ := range []db.NotificationType{db.TypeDailyReminder, db.TypeMissionDeadline, db.TypeAdminTest, db.TypeCustom} {
				if !n.Supports(typ) {
					t.Errorf("no backend for %s", typ)
				}
			}
		})
	}
}

func openRedis(t *testing.T, mr *miniredis.Miniredis, process, permission string) (*Resources, *config.Config) {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("bad miniredis port: %v", err)
	}
	cfg := &config.Config{
		StoreBackend:           config.StoreRedis,
		RedisHost:              mr.Host(),
		RedisPort:              port,
		NotificationPermission: permission,
	}
	res, err := Open(context.Background(), cfg, process, zap.NewNop())
	if err != nil {
		t.Fatalf("open %s failed: %v", process, err)
	}
	t.Cleanup(res.Close)
	return res, cfg
}

func TestPermission_SharedAcrossProcesses(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	ctx := context.Background()

	fgRes, fgCfg := openRedis(t, mr, "foreground", "default")
	wkRes, wkCfg := openRedis(t, mr, "worker", "granted")

	foreground, err := Permission(ctx, fgCfg, fgRes.Permissions)
	if err != nil {
		t.Fatalf("foreground gate: %v", err)
	}
	worker, err := Permission(ctx, wkCfg, wkRes.Permissions)
	if err != nil {
		t.Fatalf("worker gate: %v", err)
	}

	// the first process to start seeds the state; the second does not override it
	if p, err := worker.Permission(ctx); err != nil || p != delivery.PermissionDefault {
		t.Fatalf("worker sees %s (err=%v), want default", p, err)
	}

	for _, want := range []delivery.Permission{delivery.PermissionGranted, delivery.PermissionDenied} {
		if err := foreground.Set(ctx, want); err != nil {
			t.Fatalf("set %s: %v", want, err)
		}
		if p, err := worker.Permission(ctx); err != nil || p != want {
			t.Fatalf("worker sees %s (err=%v), want %s", p, err, want)
		}
	}
}

func TestPermission_Invalid(t *testing.T) {
	_, err := Permission(context.Background(), &config.Config{NotificationPermission: "sometimes"}, nil)
	if err == nil {
		t.Fatal("invalid permission should fail")
	}
}

func TestOpen_RedisBackend(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	res, _ := openRedis(t, mr, "test", "")
	if res.Redis == nil {
		t.Fatal("redis client should be set")
	}
	if res.Permissions == nil {
		t.Fatal("permission store should be set")
	}
	if err := res.Store.Put(context.Background(), &db.ScheduledNotification{ID: "x", Type: db.TypeCustom}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
}

func TestOpen_RedisBackendUnavailable(t *testing.T) {
	cfg := &config.Config{StoreBackend: config.StoreRedis, RedisHost: "127.0.0.1", RedisPort: 1}
	if _, err := Open(context.Background(), cfg, "test", zap.NewNop()); err == nil {
		t.Fatal("redis store without redis should fail")
	}
}
