//go:build linux

package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReadMeminfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meminfo")
	data := "MemTotal:        2048000 kB\nMemFree:          100000 kB\nMemAvailable:    1024000 kB\nBuffers:           1000 kB\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	total, avail, err := readMeminfo(path)
	if err != nil {
		t.Fatalf("readMeminfo: %v", err)
	}
	if total != 2048000 || avail != 1024000 {
		t.Errorf("total=%d avail=%d", total, avail)
	}
}

func TestReadMeminfoWithoutAvailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meminfo")
	data := "MemTotal: 1000 kB\nMemFree: 100 kB\nBuffers: 50 kB\nCached: 250 kB\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	_, avail, err := readMeminfo(path)
	if err != nil {
		t.Fatal(err)
	}
	if avail != 400 {
		t.Errorf("avail = %d, want 400", avail)
	}
}

func TestReadCPUTimes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stat")
	data := "cpu  100 0 50 800 50 0 0 0 0 0\ncpu0 50 0 25 400 25 0 0 0 0 0\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	idle, total, err := readCPUTimes(path)
	if err != nil {
		t.Fatal(err)
	}
	if idle != 850 || total != 1000 {
		t.Errorf("idle=%d total=%d", idle, total)
	}
}

func TestReadResourcesLive(t *testing.T) {
	if _, err := os.Stat(procStat); err != nil {
		t.Skip("no /proc")
	}
	r, err := ReadResources(context.Background(), t.TempDir(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadResources: %v", err)
	}
	if r.MemoryTotalMB == 0 {
		t.Error("memory total is zero")
	}
	if r.CPUPercent < 0 || r.CPUPercent > 100 {
		t.Errorf("cpu = %f", r.CPUPercent)
	}
}
