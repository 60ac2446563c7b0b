//go:build !windows

package pipeline

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"
)

func processGone(pid int) bool {
	err := syscall.Kill(pid, 0)
	return errors.Is(err, syscall.ESRCH)
}

func TestEarlyExitingConsumerStopsProducer(t *testing.T) {
	requireBinaries(t, "yes", "head")

	res, err := newTestExecutor(5*time.Second).Run(context.Background(), "yes | head -n 1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Output() != "y" {
		t.Errorf("Output = %q, want %q", res.Output(), "y")
	}
	for _, pid := range res.PIDs {
		if !processGone(pid) {
			t.Errorf("process %d still present after Run returned", pid)
		}
	}
}

func TestTimeoutKillsFinalStage(t *testing.T) {
	requireBinaries(t, "echo", "sleep")

	_, err := newTestExecutor(200*time.Millisecond).Run(context.Background(), "echo hi | sleep 5")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestLingeringProducerKilledAtDeadline(t *testing.T) {
	requireBinaries(t, "sleep", "true")

	start := time.Now()
	res, err := newTestExecutor(time.Second).Run(context.Background(), "sleep 30 | true")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %v", elapsed)
	}
	if len(res.PIDs) != 2 {
		t.Fatalf("PIDs = %v, want 2 stages", res.PIDs)
	}
	for _, pid := range res.PIDs {
		if !processGone(pid) {
			t.Errorf("process %d still present after Run returned", pid)
		}
	}
}
