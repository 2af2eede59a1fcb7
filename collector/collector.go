package collector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"go.uber.org/zap"
)

// Sampler is the public contract any metric source must satisfy.
type Sampler interface {
	// Sample queries the host once for the given category. It never
	// retries; a failure is returned as a *CollectionError.
	Sample(ctx context.Context, c Category) (Sample, error)
}

// CollectionError is returned when a category cannot be sampled, either
// because the OS query failed or because it returned data of an
// unexpected shape.
type CollectionError struct {
	Category Category
	Err      error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collect %s: %v", e.Category, e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }

var (
	errNoCPU      = errors.New("cpu query returned no values")
	errNoCounters = errors.New("network query returned no aggregate counters")
	errNilStats   = errors.New("query returned no statistics")
)

// HostSource is the OS metrics collaborator. Each method is a read-only
// query; values are passed through exactly as the OS reports them.
type HostSource interface {
	CPUPercent(ctx context.Context) ([]float64, error)
	VirtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error)
	DiskUsage(ctx context.Context) (*disk.UsageStat, error)
	NetCounters(ctx context.Context) ([]net.IOCountersStat, error)
}

// HostSampler turns HostSource answers into typed samples.
type HostSampler struct {
	Source HostSource
	Log    *zap.Logger
}

// NewHostSampler returns a ready-to-use sampler.
func NewHostSampler(src HostSource, log *zap.Logger) *HostSampler {
	if log == nil {
		log = zap.NewNop()
	}
	return &HostSampler{Source: src, Log: log}
}

// Sample implements the Sampler interface.
func (h *HostSampler) Sample(ctx context.Context, c Category) (Sample, error) {
	s, err := h.sample(ctx, c)
	if err != nil {
		return nil, &CollectionError{Category: c, Err: err}
	}
	h.Log.Debug("sampled", zap.Stringer("category", c))
	return s, nil
}

func (h *HostSampler) sample(ctx context.Context, c Category) (Sample, error) {
	switch c {
	case CPU:
		pcts, err := h.Source.CPUPercent(ctx)
		if err != nil {
			return nil, err
		}
		if len(pcts) == 0 {
			return nil, errNoCPU
		}
		p := pcts[0]
		if math.IsNaN(p) || p < 0 || p > 100 {
			return nil, fmt.Errorf("cpu percent %v out of range", p)
		}
		return CPUSample{Percent: p}, nil

	case Memory:
		vm, err := h.Source.VirtualMemory(ctx)
		if err != nil {
			return nil, err
		}
		if vm == nil {
			return nil, errNilStats
		}
		return MemorySample{
			Total:     vm.Total,
			Available: vm.Available,
			Used:      vm.Used,
			Free:      vm.Free,
			Percent:   vm.UsedPercent,
		}, nil

	case Disk:
		du, err := h.Source.DiskUsage(ctx)
		if err != nil {
			return nil, err
		}
		if du == nil {
			return nil, errNilStats
		}
		return DiskSample{
			Total:   du.Total,
			Used:    du.Used,
			Free:    du.Free,
			Percent: du.UsedPercent,
		}, nil

	case Network:
		counters, err := h.Source.NetCounters(ctx)
		if err != nil {
			return nil, err
		}
		if len(counters) == 0 {
			return nil, errNoCounters
		}
		n := counters[0]
		return NetSample{
			BytesSent:   n.BytesSent,
			BytesRecv:   n.BytesRecv,
			PacketsSent: n.PacketsSent,
			PacketsRecv: n.PacketsRecv,
		}, nil
	}
	return nil, fmt.Errorf("unknown category %d", int(c))
}

// GopsutilSource reads host statistics through gopsutil.
type GopsutilSource struct {
	CPUWindow time.Duration // measurement window for the CPU busy percentage
	DiskPath  string        // filesystem whose usage is reported, usually "/"
}

// NewGopsutilSource returns a source with the given CPU window and disk path.
func NewGopsutilSource(cpuWindow time.Duration, diskPath string) *GopsutilSource {
	if diskPath == "" {
		diskPath = "/"
	}
	return &GopsutilSource{CPUWindow: cpuWindow, DiskPath: diskPath}
}

func (g *GopsutilSource) CPUPercent(ctx context.Context) ([]float64, error) {
	return cpu.PercentWithContext(ctx, g.CPUWindow, false)
}

func (g *GopsutilSource) VirtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error) {
	return mem.VirtualMemoryWithContext(ctx)
}

func (g *GopsutilSource) DiskUsage(ctx context.Context) (*disk.UsageStat, error) {
	return disk.UsageWithContext(ctx, g.DiskPath)
}

// NetCounters returns the counters summed over all interfaces (a single
// entry named "all").
func (g *GopsutilSource) NetCounters(ctx context.Context) ([]net.IOCountersStat, error) {
	return net.IOCountersWithContext(ctx, false)
}
