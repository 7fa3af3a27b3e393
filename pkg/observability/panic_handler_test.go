package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestRecoverPanic(t *testing.T) {
	logger, hook := logtest.NewNullLogger()

	func() {
		defer RecoverPanic(logger, "retention job")
		panic("boom")
	}()

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("Expected panic to be logged")
	}
	if entry.Level != logrus.ErrorLevel {
		t.Errorf("Expected error level, got %v", entry.Level)
	}
	if entry.Data["panic"] != "boom" || entry.Data["context"] != "retention job" {
		t.Errorf("Unexpected fields: %v", entry.Data)
	}
}

func TestMustRecover(t *testing.T) {
	if err := MustRecover(nil); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
	if err := MustRecover("bad"); err == nil || err.Error() != "panic: bad" {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	logger, hook := logtest.NewNullLogger()

	handler := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	}))

	req := httptest.NewRequest("GET", "/customers", nil)
	req = req.WithContext(WithLogger(context.Background(), logger))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rr.Code)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Data["context"] != "GET /customers" {
		t.Errorf("Expected panic entry for GET /customers, got %v", entry)
	}
}
