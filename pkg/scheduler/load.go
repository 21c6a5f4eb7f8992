package scheduler

import(
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// systemLoad reads machine-wide CPU and memory pressure. The zero
// interval makes cpu.Percent report usage since its previous call, so
// the first sample of a run reads low; by the second check the window
// covers real tile work.
func systemLoad() (float64, float64, error) {
	pcts, err := cpu.Percent(0, false)
	if err != nil {
		return 0, 0, err
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}

	cpuPct := 0.0
	if len(pcts) > 0 {
		cpuPct = pcts[0]
	}
	return cpuPct, vm.UsedPercent, nil
}
