//go:build linux

package monitor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	procStat    = "/proc/stat"
	procMeminfo = "/proc/meminfo"
)

func readResources(ctx context.Context, path string, interval time.Duration) (Resources, error) {
	var r Resources

	cpu, err := sampleCPU(ctx, interval)
	if err != nil {
		return r, err
	}
	r.CPUPercent = cpu

	total, avail, err := readMeminfo(procMeminfo)
	if err != nil {
		return r, err
	}
	used := total - avail
	r.MemoryTotalMB = total / 1024
	r.MemoryUsedMB = used / 1024
	r.MemoryPercent = percent(used, total)

	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return r, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	diskTotal := st.Blocks * bsize
	diskFree := st.Bavail * bsize
	diskUsed := diskTotal - st.Bfree*bsize
	// Match df: used / (used + available to unprivileged users).
	r.DiskPercent = percent(diskUsed, diskUsed+diskFree)
	r.DiskFreeGB = diskFree >> 30
	return r, nil
}

func sampleCPU(ctx context.Context, interval time.Duration) (float64, error) {
	idle0, total0, err := readCPUTimes(procStat)
	if err != nil {
		return 0, err
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(interval):
	}
	idle1, total1, err := readCPUTimes(procStat)
	if err != nil {
		return 0, err
	}
	dt := total1 - total0
	if dt == 0 {
		return 0, nil
	}
	return float64(dt-(idle1-idle0)) * 100 / float64(dt), nil
}

// readCPUTimes returns idle (idle+iowait) and total jiffies from the
// aggregate cpu line.
func readCPUTimes(path string) (idle, total uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		for i, field := range fields[1:] {
			v, err := strconv.ParseUint(field, 10, 64)
			if err != nil {
				return 0, 0, fmt.Errorf("parse %s: %w", path, err)
			}
			total += v
			if i == 3 || i == 4 {
				idle += v
			}
		}
		return idle, total, nil
	}
	if err := sc.Err(); err != nil {
		return 0, 0, fmt.Errorf("read %s: %w", path, err)
	}
	return 0, 0, fmt.Errorf("%s: no aggregate cpu line", path)
}

// readMeminfo returns MemTotal and MemAvailable in kB.
func readMeminfo(path string) (total, avail uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var free, buffers, cached uint64
	haveAvail := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			avail = v
			haveAvail = true
		case "MemFree:":
			free = v
		case "Buffers:":
			buffers = v
		case "Cached:":
			cached = v
		}
	}
	if err := sc.Err(); err != nil {
		return 0, 0, fmt.Errorf("read %s: %w", path, err)
	}
	if total == 0 {
		return 0, 0, fmt.Errorf("%s: MemTotal missing", path)
	}
	if !haveAvail {
		// Kernels before 3.14.
		avail = free + buffers + cached
	}
	if avail > total {
		avail = total
	}
	return total, avail, nil
}
