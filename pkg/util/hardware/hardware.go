package hardware

import (
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/lk2023060901/zeus-amfx/pkg/log"
)

var (
	cpuNumOnce sync.Once
	cpuNum     int
)

// GetCPUNum 返回可用的逻辑 CPU 数。
// 取 gopsutil 探测值与 GOMAXPROCS 中较小者，容器内运行时 GOMAXPROCS 已由 automaxprocs 按配额调整。
func GetCPUNum() int {
	cpuNumOnce.Do(func() {
		procs := runtime.GOMAXPROCS(0)
		n, err := cpu.Counts(true)
		if err != nil || n <= 0 {
			log.Warn("failed to detect cpu count, fallback to GOMAXPROCS", zap.Error(err))
			cpuNum = procs
			return
		}
		cpuNum = min(n, procs)
	})
	return cpuNum
}

// GetMemoryCount 返回物理内存总量，单位字节；探测失败返回 0。
func GetMemoryCount() uint64 {
	stats, err := mem.VirtualMemory()
	if err != nil {
		log.Warn("failed to detect memory", zap.Error(err))
		return 0
	}
	return stats.Total
}
