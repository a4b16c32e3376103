package research

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// smiCommandContext allows tests to stub nvidia-smi.
var smiCommandContext = exec.CommandContext

// GPU describes one device as reported by nvidia-smi.
type GPU struct {
	Index       int
	Name        string
	MemoryTotal int // MB
	MemoryUsed  int // MB
	MemoryFree  int // MB
	Utilization int // %
}

// MemoryFreeGB reports free memory in gigabytes.
func (g GPU) MemoryFreeGB() float64 {
	return float64(g.MemoryFree) / 1024.0
}

func (g GPU) String() string {
	return fmt.Sprintf("GPU %d: %s (%.1fGB free)", g.Index, g.Name, g.MemoryFreeGB())
}

// DetectGPUs queries nvidia-smi for the installed devices. A missing binary
// or any query failure yields an empty slice; experiments then run without
// GPU pinning.
func DetectGPUs(ctx context.Context) []GPU {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := smiCommandContext(ctx, "nvidia-smi",
		"--query-gpu=index,name,memory.total,memory.used,memory.free,utilization.gpu",
		"--format=csv,noheader,nounits")
	out, err := cmd.Output()
	if err != nil {
		return nil
	}
	return parseSMIOutput(string(out))
}

func parseSMIOutput(out string) []GPU {
	var gpus []GPU
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.Split(line, ",")
		if len(parts) < 6 {
			continue
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		index, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		total, _ := strconv.Atoi(parts[2])
		used, _ := strconv.Atoi(parts[3])
		free, _ := strconv.Atoi(parts[4])
		util, _ := strconv.Atoi(parts[5])
		gpus = append(gpus, GPU{
			Index:       index,
			Name:        parts[1],
			MemoryTotal: total,
			MemoryUsed:  used,
			MemoryFree:  free,
			Utilization: util,
		})
	}
	return gpus
}

// SelectAvailableGPUs filters devices by free memory and utilization.
// Zero thresholds disable the respective check (except utilization, which
// defaults to 30%).
func SelectAvailableGPUs(gpus []GPU, minFreeMB, maxUtilization int) []int {
	if maxUtilization <= 0 {
		maxUtilization = 30
	}

	var available []int
	for _, g := range gpus {
		if minFreeMB > 0 && g.MemoryFree < minFreeMB {
			continue
		}
		if g.Utilization > maxUtilization {
			continue
		}
		available = append(available, g.Index)
	}
	return available
}

// FormatCUDAVisibleDevices renders indices for the CUDA_VISIBLE_DEVICES
// environment variable.
func FormatCUDAVisibleDevices(indices []int) string {
	strs := make([]string, 0, len(indices))
	for _, i := range indices {
		strs = append(strs, strconv.Itoa(i))
	}
	return strings.Join(strs, ",")
}

// LogGPUStatus prints the detected devices.
func LogGPUStatus(ctx context.Context) {
	gpus := DetectGPUs(ctx)
	if len(gpus) == 0 {
		log.Printf("[GPU] No GPUs detected; experiments will use the default device")
		return
	}
	for _, g := range gpus {
		log.Printf("[GPU] %d: %s | %.1fGB free | %d%% util", g.Index, g.Name, g.MemoryFreeGB(), g.Utilization)
	}
}

// GPUSlots hands out exclusive claims on device indices so parallel
// experiments do not pile onto the same card. Acquire is non-blocking;
// Release is safe to call for a slot that was never acquired.
type GPUSlots struct {
	slots sync.Map // map[int]chan struct{}
}

// TryAcquire claims a device, returning false when it is already held.
func (s *GPUSlots) TryAcquire(index int) bool {
	actual, _ := s.slots.LoadOrStore(index, make(chan struct{}, 1))
	ch := actual.(chan struct{})

	select {
	case ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a previously claimed device.
func (s *GPUSlots) Release(index int) {
	actual, ok := s.slots.Load(index)
	if !ok {
		return
	}
	ch := actual.(chan struct{})
	select {
	case <-ch:
	default:
	}
}

// AcquireAny claims the first free device among the candidates, polling
// until one is released or the context ends. Returns -1 when candidates is
// empty, meaning the caller runs on the default device.
func (s *GPUSlots) AcquireAny(ctx context.Context, candidates []int) (int, error) {
	if len(candidates) == 0 {
		return -1, nil
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, idx := range candidates {
			if s.TryAcquire(idx) {
				return idx, nil
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}
}
