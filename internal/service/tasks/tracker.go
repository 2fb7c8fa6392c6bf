package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
)

// 会话内的任务标签。
const (
	LabelAudio              = "audio"
	LabelPublisherBootstrap = "publisherBootstrap"
)

// State 表示任务的生命周期阶段。
type State int

const (
	StateRunning State = iota
	StateSucceeded
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Task 是一个被追踪的后台任务句柄。
type Task struct {
	label  string
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state State
	err   error
}

// Label 返回任务标签。
func (t *Task) Label() string { return t.label }

// Cancel 请求取消任务，不等待退出。
func (t *Task) Cancel() { t.cancel() }

// Done 在任务结束后关闭。
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait 等待任务结束或 ctx 到期。
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State 返回当前状态。
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err 返回任务失败原因；取消与成功时为 nil。
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Task) finish(state State, err error) {
	t.mu.Lock()
	t.state = state
	t.err = err
	t.mu.Unlock()
	close(t.done)
}

// Tracker 负责一个会话的全部后台任务：每个标签保留一个"当前"任务，
// 所有任务（包括被替换的）都会在结束时记录日志，Shutdown 取消并等待全部任务。
type Tracker struct {
	room   string
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	current map[string]*Task
	wg      sync.WaitGroup
	closed  bool
}

// ErrTrackerClosed 表示 Tracker 已关闭，不再接受新任务。
var ErrTrackerClosed = errors.New("task tracker closed")

// NewTracker 创建一个绑定到 parent 的 Tracker；parent 取消时所有任务随之取消。
func NewTracker(parent context.Context, room string) *Tracker {
	ctx, cancel := context.WithCancel(parent)
	return &Tracker{
		room:    room,
		ctx:     ctx,
		cancel:  cancel,
		current: make(map[string]*Task),
	}
}

// Go 启动一个后台任务并把它设为该标签的当前任务。
// fn 的错误与 panic 只记录日志，不向调用方传播。
func (tr *Tracker) Go(label string, fn func(ctx context.Context) error) (*Task, error) {
	tr.mu.Lock()
	if tr.closed {
		tr.mu.Unlock()
		return nil, ErrTrackerClosed
	}

	ctx, cancel := context.WithCancel(tr.ctx)
	task := &Task{label: label, cancel: cancel, done: make(chan struct{})}
	tr.current[label] = task
	tr.wg.Add(1)
	tr.mu.Unlock()

	go tr.run(ctx, task, fn)
	return task, nil
}

func (tr *Tracker) run(ctx context.Context, task *Task, fn func(ctx context.Context) error) {
	defer tr.wg.Done()
	defer task.cancel()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				log.Printf("[tasks] room=%s task=%s panic: %v\n%s", tr.room, task.label, r, debug.Stack())
			}
		}()
		err = fn(ctx)
	}()

	switch {
	case err == nil:
		task.finish(StateSucceeded, nil)
	case errors.Is(err, context.Canceled) || ctx.Err() != nil && errors.Is(err, ctx.Err()):
		log.Printf("[tasks] room=%s task=%s cancelled", tr.room, task.label)
		task.finish(StateCancelled, nil)
	default:
		log.Printf("[tasks] room=%s task=%s failed: %v", tr.room, task.label, err)
		task.finish(StateFailed, err)
	}

	tr.mu.Lock()
	if tr.current[task.label] == task {
		delete(tr.current, task.label)
	}
	tr.mu.Unlock()
}

// Current 返回标签对应的当前任务（若仍在运行）。
func (tr *Tracker) Current(label string) *Task {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.current[label]
}

// CancelAndWait 取消标签的当前任务并等待其结束。
func (tr *Tracker) CancelAndWait(ctx context.Context, label string) error {
	task := tr.Current(label)
	if task == nil {
		return nil
	}
	task.Cancel()
	return task.Wait(ctx)
}

// Shutdown 取消所有任务并等待退出；之后 Go 返回 ErrTrackerClosed。
func (tr *Tracker) Shutdown(ctx context.Context) error {
	tr.mu.Lock()
	tr.closed = true
	tr.mu.Unlock()

	tr.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("await tasks for room %s: %w", tr.room, ctx.Err())
	}
}
