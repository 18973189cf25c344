package crawlers

import (
	"errors"
	"runtime"
	"testing"
)

const mb = 1024 * 1024

func monitorWith(availableMB uint64) *ResourceMonitor {
	return NewResourceMonitor(ResourceMonitorConfig{
		MemorySource: func() (uint64, error) { return availableMB * mb, nil },
	})
}

func TestResourceMonitor_Pressure(t *testing.T) {
	tests := []struct {
		name      string
		available uint64
		want      Pressure
		keep      int
		every     int
	}{
		{"内存充足", 4096, PressureNormal, 10, 5},
		{"警告", 400, PressureWarning, 5, 1},
		{"严重", 250, PressureCritical, 2, 1},
		{"紧急", 100, PressureEmergency, 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm := monitorWith(tt.available)
			if got := rm.Pressure(); got != tt.want {
				t.Errorf("Pressure() = %s, 期望 %s", got, tt.want)
			}
			if got := rm.PruneKeep(10); got != tt.keep {
				t.Errorf("PruneKeep(10) = %d, 期望 %d", got, tt.keep)
			}
			if got := rm.PruneEvery(5); got != tt.every {
				t.Errorf("PruneEvery(5) = %d, 期望 %d", got, tt.every)
			}
		})
	}
}

func TestResourceMonitor_Workers(t *testing.T) {
	if got := monitorWith(100).Workers(8); got != 1 {
		t.Errorf("紧急状态协程数 = %d, 期望 1", got)
	}

	// 600MB可用内存按每协程30MB最多20个
	got := monitorWith(600).Workers(32)
	limit := 20
	if n := runtime.NumCPU(); n < limit {
		limit = n
	}
	if got < 1 || got > limit {
		t.Errorf("Workers(32) = %d, 应在 1-%d 之间", got, limit)
	}

	if got := monitorWith(4096).Workers(0); got != 1 {
		t.Errorf("Workers(0) = %d, 期望 1", got)
	}
}

func TestResourceMonitor_SourceError(t *testing.T) {
	rm := NewResourceMonitor(ResourceMonitorConfig{
		MemorySource: func() (uint64, error) { return 0, errors.New("no /proc") },
	})
	if rm.Pressure() != PressureNormal {
		t.Errorf("采样失败时不应误报内存压力: %s", rm.Pressure())
	}
}
