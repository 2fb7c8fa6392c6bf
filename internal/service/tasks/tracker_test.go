package tasks

import (
	"context"
	"errors"
	"testing"
	"time"
)

func waitDone(t *testing.T, task *Task) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := task.Wait(ctx); err != nil {
		t.Fatalf("task %s did not finish: %v", task.Label(), err)
	}
}

func TestTrackerCancelledTaskIsAbsorbed(t *testing.T) {
	tr := NewTracker(context.Background(), "r1")

	started := make(chan struct{})
	task, err := tr.Go(LabelAudio, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("Go err: %v", err)
	}

	<-started
	task.Cancel()
	waitDone(t, task)

	if task.State() != StateCancelled {
		t.Fatalf("expected cancelled, got %s", task.State())
	}
	if task.Err() != nil {
		t.Fatalf("cancelled task should not carry an error: %v", task.Err())
	}
}

func TestTrackerFailureAndPanicAreContained(t *testing.T) {
	tr := NewTracker(context.Background(), "r1")
	boom := errors.New("tts failed")

	failed, _ := tr.Go(LabelAudio, func(context.Context) error { return boom })
	waitDone(t, failed)
	if failed.State() != StateFailed || !errors.Is(failed.Err(), boom) {
		t.Fatalf("unexpected state %s err %v", failed.State(), failed.Err())
	}

	panicked, _ := tr.Go(LabelPublisherBootstrap, func(context.Context) error { panic("bad publisher") })
	waitDone(t, panicked)
	if panicked.State() != StateFailed {
		t.Fatalf("expected panic to be recorded as failure, got %s", panicked.State())
	}
}

func TestTrackerSupersedesCurrentSlot(t *testing.T) {
	tr := NewTracker(context.Background(), "r1")

	release := make(chan struct{})
	first, _ := tr.Go(LabelAudio, func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	second, _ := tr.Go(LabelAudio, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if tr.Current(LabelAudio) != second {
		t.Fatal("expected second task to occupy the current slot")
	}

	close(release)
	waitDone(t, first)
	if first.State() != StateSucceeded {
		t.Fatalf("superseded task should still complete normally, got %s", first.State())
	}
	if tr.Current(LabelAudio) != second {
		t.Fatal("completion of superseded task must not clear the current slot")
	}

	if err := tr.CancelAndWait(context.Background(), LabelAudio); err != nil {
		t.Fatalf("CancelAndWait err: %v", err)
	}
	if second.State() != StateCancelled {
		t.Fatalf("expected second task cancelled, got %s", second.State())
	}
}

func TestTrackerShutdownCancelsAndAwaits(t *testing.T) {
	tr := NewTracker(context.Background(), "r1")

	var tasks []*Task
	for _, label := range []string{LabelAudio, LabelPublisherBootstrap} {
		task, _ := tr.Go(label, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		tasks = append(tasks, task)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown err: %v", err)
	}

	for _, task := range tasks {
		select {
		case <-task.Done():
		default:
			t.Fatalf("task %s still running after shutdown", task.Label())
		}
	}

	if _, err := tr.Go(LabelAudio, func(context.Context) error { return nil }); !errors.Is(err, ErrTrackerClosed) {
		t.Fatalf("expected ErrTrackerClosed, got %v", err)
	}
}
