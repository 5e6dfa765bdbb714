package aicode

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeProvider struct {
	name  string
	reply string
	delay time.Duration
	err   error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ChatResponse{}, ctx.Err()
		}
	}
	if p.err != nil {
		return ChatResponse{}, p.err
	}
	return ChatResponse{Content: p.reply}, nil
}

func (p *fakeProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamEvent) (ChatResponse, error) {
	close(ch)
	return p.Chat(ctx, req)
}

func TestTaskManagerSpawnSuccess(t *testing.T) {
	provider := &fakeProvider{name: "fake", reply: "all done"}
	task := NewTask("t1", "say hi", provider, nil, nil)
	mgr := NewTaskManager()

	h := mgr.Spawn(context.Background(), task)
	<-h.Done()

	if err := h.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Task().State() != TaskCompleted {
		t.Errorf("state = %v, want %v", h.Task().State(), TaskCompleted)
	}
}

func TestTaskManagerSpawnFailure(t *testing.T) {
	wantErr := errors.New("provider exploded")
	provider := &fakeProvider{name: "fake", err: wantErr}
	task := NewTask("t2", "say hi", provider, nil, nil)
	mgr := NewTaskManager()

	h := mgr.Spawn(context.Background(), task)
	<-h.Done()

	if !errors.Is(h.Err(), wantErr) {
		t.Errorf("err = %v, want wrapping %v", h.Err(), wantErr)
	}
	if h.Task().State() != TaskFailed {
		t.Errorf("state = %v, want %v", h.Task().State(), TaskFailed)
	}
}

func TestTaskManagerCancel(t *testing.T) {
	provider := &fakeProvider{name: "fake", reply: "ok", delay: time.Second}
	task := NewTask("t3", "say hi", provider, nil, nil)
	mgr := NewTaskManager()

	h := mgr.Spawn(context.Background(), task)
	h.Cancel()
	<-h.Done()

	if h.Task().State() == TaskRunning {
		t.Error("expected state to leave Running after cancel")
	}
}

func TestTaskManagerGetAndRemove(t *testing.T) {
	provider := &fakeProvider{name: "fake", reply: "ok"}
	task := NewTask("t4", "say hi", provider, nil, nil)
	mgr := NewTaskManager()

	h := mgr.Spawn(context.Background(), task)
	if _, ok := mgr.Get("t4"); !ok {
		t.Fatal("expected handle to be registered")
	}
	if err := mgr.Remove("t4"); err == nil {
		t.Error("expected Remove to fail while task is still running")
	}

	<-h.Done()
	if err := mgr.Remove("t4"); err != nil {
		t.Errorf("unexpected error removing finished task: %v", err)
	}
	if _, ok := mgr.Get("t4"); ok {
		t.Error("expected handle to be gone after Remove")
	}
}

func TestTaskManagerList(t *testing.T) {
	provider := &fakeProvider{name: "fake", reply: "ok"}
	mgr := NewTaskManager()
	h1 := mgr.Spawn(context.Background(), NewTask("a", "x", provider, nil, nil))
	h2 := mgr.Spawn(context.Background(), NewTask("b", "y", provider, nil, nil))
	<-h1.Done()
	<-h2.Done()

	ids := mgr.List()
	if len(ids) != 2 {
		t.Fatalf("expected 2 tracked tasks, got %d", len(ids))
	}
}

func TestTaskManagerBoundsConcurrency(t *testing.T) {
	const limit = 2
	mgr := NewTaskManagerWithConcurrency(limit)

	var mu sync.Mutex
	running, maxRunning := 0, 0
	provider := &trackingProvider{
		before: func() {
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()
		},
		after: func() {
			mu.Lock()
			running--
			mu.Unlock()
		},
		delay: 20 * time.Millisecond,
	}

	handles := make([]*TaskHandle, 6)
	for i := range handles {
		task := NewTask(string(rune('a'+i)), "go", provider, nil, nil)
		handles[i] = mgr.Spawn(context.Background(), task)
	}
	for _, h := range handles {
		<-h.Done()
	}

	if maxRunning > limit {
		t.Errorf("observed %d tasks running concurrently, want at most %d", maxRunning, limit)
	}
}

type trackingProvider struct {
	before, after func()
	delay         time.Duration
}

func (p *trackingProvider) Name() string { return "tracking" }

func (p *trackingProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	p.before()
	defer p.after()
	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
		return ChatResponse{}, ctx.Err()
	}
	return ChatResponse{Content: "ok"}, nil
}

func (p *trackingProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamEvent) (ChatResponse, error) {
	close(ch)
	return p.Chat(ctx, req)
}
