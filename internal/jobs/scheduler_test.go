package jobs

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddRejectsBadSpecAndDuplicates(t *testing.T) {
	s := New(time.Second)
	defer s.Stop()

	noop := func(context.Context) error { return nil }
	if err := s.Add("reindex", "not a cron", noop); err == nil {
		t.Fatal("expected invalid spec error")
	}
	if err := s.Add("reindex", "@every 1h", noop); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := s.Add("reindex", "@every 1h", noop); err == nil {
		t.Fatal("expected duplicate job error")
	}
	if err := s.Add("sweep", "", noop); err != nil {
		t.Fatalf("disabled job should register: %v", err)
	}
	if got := s.Names(); !reflect.DeepEqual(got, []string{"reindex", "sweep"}) {
		t.Fatalf("Names() = %v", got)
	}
}

func TestRunNowAppliesTimeout(t *testing.T) {
	s := New(20 * time.Millisecond)
	defer s.Stop()

	if err := s.Add("slow", "", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := s.RunNow(context.Background(), "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Fatal("expected unknown job error")
	}
}

func TestScheduledJobRuns(t *testing.T) {
	s := New(time.Second)

	var runs atomic.Int32
	done := make(chan struct{}, 1)
	if err := s.Add("tick", "@every 1s", func(context.Context) error {
		if runs.Add(1) == 1 {
			done <- struct{}{}
		}
		return nil
	}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	s.Start()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job did not run")
	}
	s.Stop()
}
