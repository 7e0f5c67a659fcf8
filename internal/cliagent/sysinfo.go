package cliagent

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

const mib = 1024 * 1024

// SystemInfo describes the server process and its host.
type SystemInfo struct {
	Platform         string      `json:"platform"`
	Arch             string      `json:"arch"`
	GoVersion        string      `json:"goVersion"`
	Uptime           float64     `json:"uptime"`
	Memory           MemoryUsage `json:"memory"`
	CPU              CPUUsage    `json:"cpu"`
	WorkingDirectory string      `json:"workingDirectory"`
	Environment      string      `json:"environment"`
	Host             HostInfo    `json:"host"`
}

// MemoryUsage is the Go heap in MiB.
type MemoryUsage struct {
	Used     uint64 `json:"used"`
	Total    uint64 `json:"total"`
	External uint64 `json:"external"`
}

// CPUUsage is the process CPU time in microseconds.
type CPUUsage struct {
	User   int64 `json:"user"`
	System int64 `json:"system"`
}

// HostInfo is best effort; fields the host does not report stay zero.
type HostInfo struct {
	Hostname        string  `json:"hostname"`
	OS              string  `json:"os"`
	Platform        string  `json:"platform"`
	PlatformVersion string  `json:"platformVersion"`
	KernelVersion   string  `json:"kernelVersion"`
	Uptime          uint64  `json:"uptime"`
	CPUCount        int     `json:"cpuCount"`
	TotalMemoryMB   uint64  `json:"totalMemoryMB"`
	UsedMemoryPct   float64 `json:"usedMemoryPercent"`
}

// CollectSystemInfo gathers process and host facts. Host lookups that fail
// are logged at debug level and left empty.
func CollectSystemInfo(ctx context.Context, workdir, environment string, started time.Time, logger *slog.Logger) SystemInfo {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	info := SystemInfo{
		Platform:  runtime.GOOS,
		Arch:      runtime.GOARCH,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(started).Seconds(),
		Memory: MemoryUsage{
			Used:     ms.HeapAlloc / mib,
			Total:    ms.HeapSys / mib,
			External: (ms.Sys - ms.HeapSys) / mib,
		},
		WorkingDirectory: workdir,
		Environment:      environment,
	}

	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if t, err := p.TimesWithContext(ctx); err == nil {
			info.CPU = CPUUsage{
				User:   int64(t.User * 1e6),
				System: int64(t.System * 1e6),
			}
		} else {
			logger.Debug("process cpu times unavailable", "err", err)
		}
	}

	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Host.Hostname = h.Hostname
		info.Host.OS = h.OS
		info.Host.Platform = h.Platform
		info.Host.PlatformVersion = h.PlatformVersion
		info.Host.KernelVersion = h.KernelVersion
		info.Host.Uptime = h.Uptime
	} else {
		logger.Debug("host info unavailable", "err", err)
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.Host.CPUCount = n
	} else {
		info.Host.CPUCount = runtime.NumCPU()
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.Host.TotalMemoryMB = vm.Total / mib
		info.Host.UsedMemoryPct = vm.UsedPercent
	} else {
		logger.Debug("host memory unavailable", "err", err)
	}

	return info
}
