// Package proc inspects the local process table and manages the daemon's pid
// file.
package proc

import (
	"path/filepath"
	"strings"

	"github.com/prometheus/procfs"
)

// DefaultRoot is where the process table is mounted.
const DefaultRoot = procfs.DefaultMountPoint

// Process is one row of the process table.
type Process struct {
	PID     int
	PPID    int
	Comm    string
	Cmdline []string
}

// runs reports whether the process is one of bins, by the base name of any
// argv word or by comm. Interpreted agents show up as `node /path/to/bin`.
func (p Process) runs(bins []string) bool {
	for _, bin := range bins {
		if bin == "" {
			continue
		}
		bin = strings.ToLower(bin)
		if strings.ToLower(p.Comm) == bin {
			return true
		}
		for _, arg := range p.Cmdline {
			if strings.ToLower(filepath.Base(arg)) == bin {
				return true
			}
		}
	}
	return false
}

// Snapshot is a point-in-time process tree.
type Snapshot struct {
	procs    map[int]Process
	children map[int][]int
}

func TakeSnapshot() *Snapshot {
	return TakeSnapshotFrom(DefaultRoot)
}

// TakeSnapshotFrom reads a procfs tree rooted at root. An unreadable root
// yields an empty snapshot.
func TakeSnapshotFrom(root string) *Snapshot {
	s := &Snapshot{procs: make(map[int]Process), children: make(map[int][]int)}

	fs, err := procfs.NewFS(root)
	if err != nil {
		return s
	}
	all, err := fs.AllProcs()
	if err != nil {
		return s
	}
	for _, p := range all {
		stat, err := p.Stat()
		if err != nil {
			// exited since the listing
			continue
		}
		cmdline, _ := p.CmdLine()
		s.procs[p.PID] = Process{PID: p.PID, PPID: stat.PPID, Comm: stat.Comm, Cmdline: cmdline}
		s.children[stat.PPID] = append(s.children[stat.PPID], p.PID)
	}
	return s
}

func (s *Snapshot) Get(pid int) (Process, bool) {
	if s == nil {
		return Process{}, false
	}
	p, ok := s.procs[pid]
	return p, ok
}

// FindAgent searches pid and its descendants, breadth first, for a process
// running one of bins.
func (s *Snapshot) FindAgent(pid int, bins ...string) (Process, bool) {
	if s == nil || pid <= 0 {
		return Process{}, false
	}
	queue := []int{pid}
	visited := make(map[int]bool)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true

		if p, ok := s.procs[current]; ok && p.runs(bins) {
			return p, true
		}
		queue = append(queue, s.children[current]...)
	}
	return Process{}, false
}
