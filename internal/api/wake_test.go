package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/db"
	"github.com/lalithlochan/vigil/internal/delivery"
	"github.com/lalithlochan/vigil/internal/worker"
)

type fakeWaker struct {
	reasons []string
	err     error
}

func (f *fakeWaker) Wake(_ context.Context, reason string) (worker.WakeResult, error) {
	f.reasons = append(f.reasons, reason)
	if f.err != nil {
		return worker.WakeResult{}, f.err
	}
	return worker.WakeResult{Reason: reason, Sweep: delivery.SweepResult{Displayed: 1}}, nil
}

func TestWakeHandler(t *testing.T) {
	tests := []struct {
		name           string
		event          string
		err            error
		expectedStatus int
	}{
		{"push", "push", nil, http.StatusOK},
		{"sync", "sync", nil, http.StatusOK},
		{"periodic", "periodic", nil, http.StatusOK},
		{"unknown event", "reboot", nil, http.StatusBadRequest},
		{"storage failure", "push", db.StorageError("get pending", errors.New("timeout")), http.StatusServiceUnavailable},
		{"other failure", "sync", errors.New("sweep panicked"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			waker := &fakeWaker{err: tt.err}
			srv := NewWorkerRouter(zap.NewNop(), NewWakeHandler(zap.NewNop(), waker), nil)

			rec := do(t, srv, http.MethodPost, "/wake/"+tt.event, nil)
			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}

			if tt.expectedStatus == http.StatusBadRequest {
				if len(waker.reasons) != 0 {
					t.Error("unknown event must not wake the worker")
				}
				return
			}
			if len(waker.reasons) != 1 || waker.reasons[0] != tt.event {
				t.Fatalf("reasons = %v", waker.reasons)
			}
			if rec.Code == http.StatusOK {
				var res worker.WakeResult
				if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if res.Reason != tt.event || res.Sweep.Displayed != 1 {
					t.Errorf("unexpected result: %+v", res)
				}
			}
		})
	}
}
