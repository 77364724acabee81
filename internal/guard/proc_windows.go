//go:build windows

package guard

import (
	"errors"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

func (osProcs) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}

// KillTree terminates descendants first, then pid itself.
func (o osProcs) KillTree(pid int, wait time.Duration) error {
	if pid <= 0 {
		return nil
	}
	tree := append(descendants(pid), pid)
	for _, p := range tree {
		if proc, err := gopsproc.NewProcess(int32(p)); err == nil {
			_ = proc.Terminate()
		}
	}
	if waitGone(o.Alive, tree, wait) {
		return nil
	}
	for _, p := range tree {
		if proc, err := gopsproc.NewProcess(int32(p)); err == nil {
			_ = proc.Kill()
		}
	}
	if !waitGone(o.Alive, tree, 500*time.Millisecond) {
		return errors.New("process tree survived kill")
	}
	return nil
}

func (osProcs) StartUnix(pid int) int64 {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}
