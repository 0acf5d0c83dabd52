package sched

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
)

// FairnessReport summarises how evenly the fair-share class shares the CPU.
type FairnessReport struct {
	Processes      int     `json:"processes"`
	MeanVRuntime   float64 `json:"mean_vruntime"`
	StdDevVRuntime float64 `json:"stddev_vruntime"`
	// JainIndex is Jain's fairness index over weight-normalised CPU time:
	// 1 is perfectly fair, 1/n is one process taking everything.
	JainIndex float64 `json:"jain_index"`
}

// Fairness computes a report over every live fair-share process except idle.
func (s *Scheduler) Fairness() FairnessReport {
	var vruntimes, shares []float64
	s.table.Each(func(p *proc.Process) bool {
		if p.PID == proc.IdlePID || p.Realtime || !p.State.Alive() {
			return true
		}
		vruntimes = append(vruntimes, float64(p.VRuntime))
		shares = append(shares, float64(p.SumExecRuntime)/float64(p.Weight))
		return true
	})

	report := FairnessReport{Processes: len(vruntimes)}
	if len(vruntimes) == 0 {
		return report
	}
	if len(vruntimes) == 1 {
		report.MeanVRuntime = vruntimes[0]
		report.JainIndex = 1
		return report
	}
	report.MeanVRuntime, report.StdDevVRuntime = stat.MeanStdDev(vruntimes, nil)

	sum := floats.Sum(shares)
	sq := floats.Dot(shares, shares)
	if sq > 0 {
		report.JainIndex = sum * sum / (float64(len(shares)) * sq)
	}
	return report
}
