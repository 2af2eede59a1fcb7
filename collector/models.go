package collector

import "fmt"

// Category is one metric kind collected and persisted independently each cycle.
type Category int

const (
	CPU Category = iota
	Memory
	Disk
	Network
)

// Categories returns every category in collection order.
func Categories() []Category {
	return []Category{CPU, Memory, Disk, Network}
}

// Name is the short label used in diagnostics and metric labels.
func (c Category) Name() string {
	switch c {
	case CPU:
		return "cpu"
	case Memory:
		return "memory"
	case Disk:
		return "disk"
	case Network:
		return "network"
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// Table is the relational table the category is inserted into. It is also
// the stem of the category's daily log file.
func (c Category) Table() string {
	switch c {
	case CPU:
		return "cpu_percent"
	case Memory:
		return "virtual_mem"
	case Disk:
		return "disk"
	case Network:
		return "net_usage"
	}
	return ""
}

func (c Category) String() string { return c.Name() }

// Valid reports whether c is one of the four known categories.
func (c Category) Valid() bool { return c >= CPU && c <= Network }

// Sample is a point-in-time snapshot of one category. The set of
// implementations is closed: CPUSample, MemorySample, DiskSample, NetSample.
type Sample interface {
	Category() Category
	sample()
}

// CPUSample holds the host-wide CPU busy percentage (0-100).
type CPUSample struct {
	Percent float64
}

// MemorySample holds virtual memory figures in bytes.
type MemorySample struct {
	Total     uint64
	Available uint64
	Used      uint64
	Free      uint64
	Percent   float64
}

// DiskSample holds usage of the monitored filesystem in bytes.
type DiskSample struct {
	Total   uint64
	Used    uint64
	Free    uint64
	Percent float64
}

// NetSample holds cumulative network counters since boot, summed over all
// interfaces. They are raw counters, not rates.
type NetSample struct {
	BytesSent   uint64
	BytesRecv   uint64
	PacketsSent uint64
	PacketsRecv uint64
}

func (CPUSample) Category() Category    { return CPU }
func (MemorySample) Category() Category { return Memory }
func (DiskSample) Category() Category   { return Disk }
func (NetSample) Category() Category    { return Network }

func (CPUSample) sample()    {}
func (MemorySample) sample() {}
func (DiskSample) sample()   {}
func (NetSample) sample()    {}
