// Package conditions checks host state (cpu, memory, load, free disk, custom script) before a job runs.
// Pipeline jobs writing FITS products can be skipped or postponed while the data disk is nearly full.
package conditions

import (
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/go-pkgz/syncs"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

const defaultMaxConcurrent = 10

// Config defines execution conditions of a job. Nil fields are not checked.
type Config struct {
	CPUBelow      *int           `yaml:"cpu_below,omitempty" json:"cpu_below,omitempty" jsonschema:"minimum=1,maximum=100,description=run only if cpu usage (percent) is below"`
	MemoryBelow   *int           `yaml:"memory_below,omitempty" json:"memory_below,omitempty" jsonschema:"minimum=1,maximum=100,description=run only if memory usage (percent) is below"`
	LoadAvgBelow  *float64       `yaml:"load_avg_below,omitempty" json:"load_avg_below,omitempty" jsonschema:"description=run only if 1m load average is below"`
	DiskFreeAbove *int           `yaml:"disk_free_above,omitempty" json:"disk_free_above,omitempty" jsonschema:"minimum=0,maximum=100,description=run only if free disk (percent) is above"`
	DiskFreePath  string         `yaml:"disk_free_path,omitempty" json:"disk_free_path,omitempty" jsonschema:"description=path used for disk_free_above (/ by default)"`
	Custom        string         `yaml:"custom,omitempty" json:"custom,omitempty" jsonschema:"description=shell command which must exit with 0"`
	MaxPostpone   *time.Duration `yaml:"max_postpone,omitempty" json:"max_postpone,omitempty" jsonschema:"type=string,description=wait for conditions up to this duration and run anyway after"`
	CheckInterval *time.Duration `yaml:"check_interval,omitempty" json:"check_interval,omitempty" jsonschema:"type=string,description=recheck interval while postponed (30s by default)"`
}

// Checker verifies conditions, limiting the number of concurrent checks. CPU sampling blocks for a second.
type Checker struct {
	maxConcurrent int
	sema          sync.Locker
}

// NewChecker makes Checker with up to maxConcurrent simultaneous checks, 0 means default (10)
func NewChecker(maxConcurrent int) *Checker {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &Checker{maxConcurrent: maxConcurrent, sema: syncs.NewSemaphore(maxConcurrent)}
}

// Check verifies all conditions. Returns true if satisfied, false with the reason otherwise.
func (c *Checker) Check(cfg Config) (bool, string) {
	c.sema.Lock()
	defer c.sema.Unlock()

	if cfg.CPUBelow != nil {
		if ok, reason := checkCPU(*cfg.CPUBelow); !ok {
			return false, reason
		}
	}

	if cfg.MemoryBelow != nil {
		if ok, reason := checkMemory(*cfg.MemoryBelow); !ok {
			return false, reason
		}
	}

	if cfg.LoadAvgBelow != nil {
		if ok, reason := checkLoadAvg(*cfg.LoadAvgBelow); !ok {
			return false, reason
		}
	}

	if cfg.DiskFreeAbove != nil {
		path := cfg.DiskFreePath
		if path == "" {
			path = "/"
		}
		if ok, reason := checkDiskFree(*cfg.DiskFreeAbove, path); !ok {
			return false, reason
		}
	}

	if cfg.Custom != "" {
		if ok, reason := checkCustom(cfg.Custom); !ok {
			return false, reason
		}
	}

	return true, ""
}

func checkCPU(threshold int) (bool, string) {
	cpuPercent, err := cpu.Percent(time.Second, false)
	if err != nil {
		return false, fmt.Sprintf("failed to get cpu: %v", err)
	}
	if len(cpuPercent) == 0 {
		return false, "no cpu data available"
	}
	current := int(cpuPercent[0])
	if current >= threshold {
		return false, fmt.Sprintf("cpu at %d%%, threshold %d%%", current, threshold)
	}
	return true, ""
}

func checkMemory(threshold int) (bool, string) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return false, fmt.Sprintf("failed to get memory: %v", err)
	}
	current := int(v.UsedPercent)
	if current >= threshold {
		return false, fmt.Sprintf("memory at %d%%, threshold %d%%", current, threshold)
	}
	return true, ""
}

func checkLoadAvg(threshold float64) (bool, string) {
	loads, err := load.Avg()
	if err != nil {
		return false, fmt.Sprintf("failed to get load average: %v", err)
	}
	if loads.Load1 >= threshold {
		return false, fmt.Sprintf("load at %.2f, threshold %.2f", loads.Load1, threshold)
	}
	return true, ""
}

func checkDiskFree(minFreePercent int, path string) (bool, string) {
	usage, err := disk.Usage(path)
	if err != nil {
		return false, fmt.Sprintf("failed to get disk usage for %s: %v", path, err)
	}
	freePercent := 100 - int(usage.UsedPercent)
	if freePercent < minFreePercent {
		return false, fmt.Sprintf("disk free at %d%%, need %d%% on %s", freePercent, minFreePercent, path)
	}
	return true, ""
}

func checkCustom(script string) (bool, string) {
	cmd := exec.Command("sh", "-c", script) //nolint:gosec // script comes from the job table
	if err := cmd.Run(); err != nil {
		return false, fmt.Sprintf("custom check %q failed: %v", script, err)
	}
	return true, ""
}
