package model

// RawCounters is one read of the host: cumulative counters and instantaneous
// figures before any differencing. Sub-metrics a platform cannot supply are
// left empty.
type RawCounters struct {
	CPUPerCore []float64

	MemoryTotal     uint64
	MemoryAvailable uint64
	SwapTotal       uint64
	SwapFree        uint64

	Load1  float64
	Load5  float64
	Load15 float64

	Interfaces []RawInterface
	Volumes    []RawVolume
	Processes  []RawProcess // read order

	Sensors     []Sensor
	Batteries   []Battery
	GPUs        []GPU
	Connections []Connection
	Containers  []Container

	Host Host
}

// RawInterface is the cumulative counter set of one network interface.
type RawInterface struct {
	Name      string
	RxBytes   uint64
	TxBytes   uint64
	RxPackets uint64
	TxPackets uint64
	RxErrors  uint64
	TxErrors  uint64
}

// RawVolume is a mounted filesystem with its block device IO counters.
type RawVolume struct {
	Device     string
	MountPoint string
	FSType     string
	Total      uint64
	Free       uint64
	ReadBytes  uint64
	WriteBytes uint64
}

// RawProcess is one entry of the flat process list.
type RawProcess struct {
	PID         int32
	ParentPID   *int32 // nil when unknown
	Name        string
	CPUPercent  float64
	MemoryBytes uint64
	Status      string
}
