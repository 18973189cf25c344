package crawlers

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Pressure 内存压力等级
type Pressure string

const (
	PressureNormal    Pressure = "normal"
	PressureWarning   Pressure = "warning"
	PressureCritical  Pressure = "critical"
	PressureEmergency Pressure = "emergency"
)

// ResourceMonitor 系统资源监控器
// 职责: 采样可用内存和CPU,据此收紧DOM修剪与解析协程数量
type ResourceMonitor struct {
	config ResourceMonitorConfig

	mu        sync.RWMutex
	available uint64  // 最近一次采样的可用内存(字节)
	cpuUsage  float64 // 最近一次采样的CPU使用率(%)

	cancelFunc context.CancelFunc
	isRunning  bool
}

// ResourceMonitorConfig 资源监控器配置
type ResourceMonitorConfig struct {
	WarningMB         uint64 // 低于该值视为warning
	CriticalMB        uint64
	EmergencyMB       uint64
	WorkerMemoryUsage uint64 // 单个解析协程预估内存(字节)
	CPULoadThreshold  float64

	// MemorySource 可用内存来源,为nil时使用gopsutil
	MemorySource func() (uint64, error)
}

// DefaultResourceMonitorConfig 默认阈值
func DefaultResourceMonitorConfig() ResourceMonitorConfig {
	return ResourceMonitorConfig{
		WarningMB:         500,
		CriticalMB:        300,
		EmergencyMB:       200,
		WorkerMemoryUsage: 30 * 1024 * 1024,
		CPULoadThreshold:  90,
	}
}

// NewResourceMonitor 创建资源监控器并立即采样一次
func NewResourceMonitor(config ResourceMonitorConfig) *ResourceMonitor {
	def := DefaultResourceMonitorConfig()
	if config.WarningMB == 0 {
		config.WarningMB = def.WarningMB
	}
	if config.CriticalMB == 0 {
		config.CriticalMB = def.CriticalMB
	}
	if config.EmergencyMB == 0 {
		config.EmergencyMB = def.EmergencyMB
	}
	if config.WorkerMemoryUsage == 0 {
		config.WorkerMemoryUsage = def.WorkerMemoryUsage
	}
	if config.CPULoadThreshold == 0 {
		config.CPULoadThreshold = def.CPULoadThreshold
	}
	if config.MemorySource == nil {
		config.MemorySource = systemAvailableMemory
	}

	rm := &ResourceMonitor{config: config}
	rm.sampleMemory()

	rm.mu.RLock()
	log.Debug().Msgf("可用内存: %.2f GB", float64(rm.available)/(1024*1024*1024))
	rm.mu.RUnlock()
	return rm
}

func systemAvailableMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// StartMonitoring 启动后台采样,重复调用无副作用
func (rm *ResourceMonitor) StartMonitoring(interval time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.isRunning {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	rm.cancelFunc = cancel
	rm.isRunning = true

	go rm.monitoringLoop(ctx, interval)
}

func (rm *ResourceMonitor) monitoringLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rm.sampleMemory()
			usage := cpuUsage()
			rm.mu.Lock()
			rm.cpuUsage = usage
			rm.mu.Unlock()
		}
	}
}

func (rm *ResourceMonitor) sampleMemory() {
	available, err := rm.config.MemorySource()
	if err != nil {
		log.Warn().Err(err).Msg("获取系统内存失败,按4GB可用计算")
		available = 4 * 1024 * 1024 * 1024
	}
	rm.mu.Lock()
	rm.available = available
	rm.mu.Unlock()
}

// cpuUsage 100毫秒采样的整机CPU使用率
func cpuUsage() float64 {
	percentages, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(percentages) == 0 {
		log.Debug().Err(err).Msg("获取CPU使用率失败")
		return 0
	}
	return percentages[0]
}

// StopMonitoring 停止后台采样
func (rm *ResourceMonitor) StopMonitoring() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.isRunning && rm.cancelFunc != nil {
		rm.cancelFunc()
		rm.isRunning = false
		rm.cancelFunc = nil
	}
}

// Pressure 当前内存压力等级
func (rm *ResourceMonitor) Pressure() Pressure {
	rm.mu.RLock()
	availableMB := rm.available / (1024 * 1024)
	rm.mu.RUnlock()

	switch {
	case availableMB < rm.config.EmergencyMB:
		return PressureEmergency
	case availableMB < rm.config.CriticalMB:
		return PressureCritical
	case availableMB < rm.config.WarningMB:
		return PressureWarning
	default:
		return PressureNormal
	}
}

// PruneKeep 修剪时保留的文章数,内存紧张时保留更少
func (rm *ResourceMonitor) PruneKeep(base int) int {
	var keep int
	switch rm.Pressure() {
	case PressureEmergency, PressureCritical:
		keep = 2
	case PressureWarning:
		keep = base / 2
	default:
		return base
	}
	if keep > base {
		keep = base
	}
	if keep < 1 && base > 0 {
		keep = 1
	}
	log.Debug().Int("keep", keep).Str("pressure", string(rm.Pressure())).Msg("内存紧张,收紧DOM修剪")
	return keep
}

// PruneEvery 修剪间隔,内存紧张时每条都修剪
func (rm *ResourceMonitor) PruneEvery(base int) int {
	if rm.Pressure() == PressureNormal || base <= 1 {
		return base
	}
	return 1
}

// Workers 根据内存与CPU计算解析协程数量,不超过requested
func (rm *ResourceMonitor) Workers(requested int) int {
	if requested < 1 {
		requested = 1
	}

	rm.mu.RLock()
	available := rm.available
	load := rm.cpuUsage
	rm.mu.RUnlock()

	result := requested
	switch rm.Pressure() {
	case PressureEmergency:
		log.Error().Msg("内存紧急状态,解析协程缩减至1个")
		return 1
	case PressureCritical:
		result = requested / 2
	}

	if byMemory := int(available / rm.config.WorkerMemoryUsage); byMemory < result {
		result = byMemory
	}
	if n := runtime.NumCPU(); n < result {
		result = n
	}
	if load > rm.config.CPULoadThreshold && result > 1 {
		log.Warn().Msgf("CPU负载过高(当前%.1f%%),解析协程减半", load)
		result /= 2
	}
	if result < 1 {
		result = 1
	}
	return result
}
