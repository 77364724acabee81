package guard

import (
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// osProcs talks to the real process table.
type osProcs struct{}

// descendants lists the process tree below pid, deepest first.
func descendants(pid int) []int {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	children, err := p.Children()
	if err != nil {
		return nil
	}
	var out []int
	for _, c := range children {
		out = append(out, descendants(int(c.Pid))...)
		out = append(out, int(c.Pid))
	}
	return out
}

// waitGone polls until every pid is dead or the deadline passes.
func waitGone(alive func(int) bool, pids []int, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for {
		left := false
		for _, p := range pids {
			if alive(p) {
				left = true
				break
			}
		}
		if !left {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}
