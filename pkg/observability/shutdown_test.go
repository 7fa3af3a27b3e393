package observability

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestShutdownManager_ReverseOrder(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	sm := NewShutdownManager(logger, time.Second)

	var order []string
	for _, name := range []string{"primary-db", "audit-db", "cron"} {
		sm.RegisterShutdownFunc(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := "cron,audit-db,primary-db"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("Expected order %s, got %s", want, got)
	}
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	sm := NewShutdownManager(logger, time.Second)

	ran := false
	sm.RegisterShutdownFunc("first", func(context.Context) error {
		ran = true
		return nil
	})
	sm.RegisterShutdownFunc("broken", func(context.Context) error {
		return errors.New("close failed")
	})

	err := sm.Shutdown(context.Background())
	if err == nil || !strings.Contains(err.Error(), "broken: close failed") {
		t.Errorf("Expected joined error, got %v", err)
	}
	if !ran {
		t.Error("Expected remaining functions to run after a failure")
	}
	if len(hook.AllEntries()) == 0 {
		t.Error("Expected the failure to be logged")
	}
}

func TestShutdownManager_Timeout(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	sm := NewShutdownManager(logger, time.Second)

	sm.RegisterShutdownFunc("never", func(context.Context) error {
		t.Error("Expected no function to run after the deadline")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sm.Shutdown(ctx); err == nil {
		t.Error("Expected a timeout error")
	}
}

func TestShutdownManager_Server(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	sm := NewShutdownManager(logger, 0)
	if sm.timeout != 30*time.Second {
		t.Errorf("Expected default timeout, got %v", sm.timeout)
	}

	server := &http.Server{Addr: "127.0.0.1:0"}
	sm.RegisterServer(server)

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("Expected server to be closed, got %v", err)
	}
}

func TestShutdownManager_WaitForShutdown(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	sm := NewShutdownManager(logger, time.Second)

	done := make(chan struct{})
	sm.RegisterShutdownFunc("flag", func(context.Context) error {
		close(done)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sm.WaitForShutdown(ctx) }()

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForShutdown did not return")
	}

	select {
	case <-done:
	default:
		t.Error("Expected shutdown function to run")
	}
}
