package monitor

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/kinga-app/kinga/internal/errors"
)

// Sampler reads current usage percentages.
type Sampler interface {
	CPUPercent(ctx context.Context) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
	DiskPercent(ctx context.Context, path string) (float64, error)
}

// hostSampler reads the local host through gopsutil.
type hostSampler struct{}

func (hostSampler) CPUPercent(ctx context.Context) (float64, error) {
	// 0 interval compares against the previous call instead of blocking
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, sampleError(err, ResourceCPU, "")
	}
	if len(pct) == 0 {
		return 0, sampleError(errors.NewStd("no cpu samples"), ResourceCPU, "")
	}
	return pct[0], nil
}

func (hostSampler) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, sampleError(err, ResourceMemory, "")
	}
	return vm.UsedPercent, nil
}

func (hostSampler) DiskPercent(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, sampleError(err, ResourceDisk, path)
	}
	return usage.UsedPercent, nil
}

func sampleError(err error, resource ResourceType, path string) error {
	b := errors.New(err).
		Component("monitor").
		Category(errors.CategorySystem).
		Context("resource", string(resource))
	if path != "" {
		b = b.Context("path", path)
	}
	return b.Build()
}
