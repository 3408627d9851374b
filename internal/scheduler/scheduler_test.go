package scheduler

import (
	"testing"
	"time"
)

func TestAddJobInvalidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("AddJob accepted an invalid cron expression")
	}
	// 6-field (seconds) expressions are rejected by the 5-field parser.
	if err := s.AddJob("* * * * * *", func() {}); err == nil {
		t.Error("AddJob accepted a 6-field expression")
	}
}

func TestAddJobValidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	for _, expr := range []string{"30 3 * * *", "* * * * *", "0 0 1 1 0"} {
		if err := s.AddJob(expr, func() {}); err != nil {
			t.Errorf("AddJob(%q) failed: %v", expr, err)
		}
	}
}

func TestStopIsIdempotentWithPendingJobs(t *testing.T) {
	s := NewScheduler()
	if err := s.AddJob("* * * * *", func() { time.Sleep(time.Millisecond) }); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	s.Stop()
	s.Stop()
}
