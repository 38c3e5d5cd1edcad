package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Fullex26/autowatch/pkg/models"
)

type recordingListener struct {
	mu     sync.Mutex
	events []models.IssueEvent
	err    error
}

func (r *recordingListener) HandleEvent(_ context.Context, e models.IssueEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingListener) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func factoryFor(l Listener) Factory {
	return func(map[string]string) (Listener, error) { return l, nil }
}

func TestNew(t *testing.T) {
	bus := New()
	if bus == nil {
		t.Fatal("New() returned nil")
	}
	if len(bus.Listeners()) != 0 {
		t.Error("new bus should have no listeners")
	}
}

func TestCreateListener_And_Publish(t *testing.T) {
	bus := New()
	rec := &recordingListener{}
	bus.RegisterFactory("rec", factoryFor(rec))

	if err := bus.CreateListener("Recorder", "rec"); err != nil {
		t.Fatalf("CreateListener: %v", err)
	}
	if !bus.ListenerExists("Recorder") {
		t.Fatal("listener should exist after creation")
	}

	want := models.IssueEvent{ID: "test-1", Kind: models.KindCommented, Issue: models.Issue{Key: "PROD-1"}}
	bus.Publish(context.Background(), want)

	if rec.count() != 1 {
		t.Fatalf("listener received %d events, want 1", rec.count())
	}
	got := rec.events[0]
	if got.ID != want.ID || got.Kind != want.Kind || got.Issue.Key != want.Issue.Key {
		t.Errorf("received event = %+v, want %+v", got, want)
	}
}

func TestCreateListener_PassesParams(t *testing.T) {
	bus := New()
	var gotParams map[string]string
	bus.RegisterFactory("rec", func(p map[string]string) (Listener, error) {
		gotParams = p
		return &recordingListener{}, nil
	})
	bus.SetParams("Recorder", map[string]string{"k": "v"})

	if err := bus.CreateListener("Recorder", "rec"); err != nil {
		t.Fatalf("CreateListener: %v", err)
	}
	if gotParams["k"] != "v" {
		t.Errorf("factory params = %v, want k=v", gotParams)
	}
}

func TestCreateListener_Errors(t *testing.T) {
	bus := New()
	bus.RegisterFactory("rec", factoryFor(&recordingListener{}))
	bus.RegisterFactory("broken", func(map[string]string) (Listener, error) {
		return nil, errors.New("bad params")
	})

	if err := bus.CreateListener("X", "missing"); !errors.Is(err, ErrUnknownImplementation) {
		t.Errorf("unknown impl: err = %v", err)
	}
	if err := bus.CreateListener("Y", "broken"); err == nil {
		t.Error("expected factory error")
	}
	if bus.ListenerExists("Y") {
		t.Error("failed creation should not register")
	}
	if err := bus.CreateListener("Z", "rec"); err != nil {
		t.Fatalf("CreateListener: %v", err)
	}
	if err := bus.CreateListener("Z", "rec"); !errors.Is(err, ErrListenerExists) {
		t.Errorf("duplicate: err = %v", err)
	}
}

func TestCreateListener_NilListenerRejected(t *testing.T) {
	bus := New()
	bus.RegisterFactory("empty", func(map[string]string) (Listener, error) {
		return nil, nil
	})

	if err := bus.CreateListener("N", "empty"); err == nil {
		t.Fatal("expected error for a factory that returns no listener")
	}
	if bus.ListenerExists("N") {
		t.Error("nil listener should not be registered")
	}
	// nothing registered, so publishing must not touch a nil listener
	bus.Publish(context.Background(), models.IssueEvent{Kind: models.KindCreated})
}

func TestDeleteListener(t *testing.T) {
	bus := New()
	rec := &recordingListener{}
	bus.RegisterFactory("rec", factoryFor(rec))
	bus.CreateListener("Recorder", "rec")

	if err := bus.DeleteListener("Recorder", "other"); err == nil {
		t.Error("impl mismatch should fail")
	}
	if err := bus.DeleteListener("Recorder", "rec"); err != nil {
		t.Fatalf("DeleteListener: %v", err)
	}
	if bus.ListenerExists("Recorder") {
		t.Error("listener should be gone after delete")
	}
	if err := bus.DeleteListener("Recorder", "rec"); !errors.Is(err, ErrListenerNotFound) {
		t.Errorf("second delete: err = %v", err)
	}

	bus.Publish(context.Background(), models.IssueEvent{ID: "after-delete"})
	if rec.count() != 0 {
		t.Error("deleted listener should not receive events")
	}
}

func TestPublish_MultipleListeners_FailureIsolated(t *testing.T) {
	bus := New()
	failing := &recordingListener{err: errors.New("boom")}
	ok := &recordingListener{}
	bus.RegisterFactory("failing", factoryFor(failing))
	bus.RegisterFactory("ok", factoryFor(ok))
	bus.CreateListener("A", "failing")
	bus.CreateListener("B", "ok")

	bus.Publish(context.Background(), models.IssueEvent{ID: "multi"})

	if failing.count() != 1 || ok.count() != 1 {
		t.Errorf("deliveries = %d, %d; want 1, 1", failing.count(), ok.count())
	}
}

func TestPublish_NoListeners(t *testing.T) {
	bus := New()
	// Should not panic
	bus.Publish(context.Background(), models.IssueEvent{ID: "no-subs"})
}

func TestListeners_Sorted(t *testing.T) {
	bus := New()
	bus.RegisterFactory("rec", factoryFor(&recordingListener{}))
	for _, n := range []string{"c", "a", "b"} {
		bus.CreateListener(n, "rec")
	}
	got := bus.Listeners()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Listeners() = %v", got)
	}
}

func TestBus_ConcurrentSafety(t *testing.T) {
	bus := New()
	bus.RegisterFactory("rec", factoryFor(&recordingListener{}))
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := string(rune('a' + id))
			bus.CreateListener(name, "rec")
			bus.Publish(context.Background(), models.IssueEvent{ID: "concurrent"})
			bus.ListenerExists(name)
		}(i)
	}

	wg.Wait()
}
