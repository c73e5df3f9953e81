package monitor

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/procfs"
)

// ProcReader reads gauges from /proc. With a pattern it covers only the
// processes whose comm or command line matches; without one, the whole host.
type ProcReader struct {
	fs      procfs.FS
	pattern *regexp.Regexp
}

// NewProcReader creates a reader over the default /proc mount point.
func NewProcReader(processPattern string) (*ProcReader, error) {
	fs, err := procfs.NewFS(procfs.DefaultMountPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs: %w", err)
	}

	r := &ProcReader{fs: fs}
	if processPattern != "" {
		r.pattern, err = regexp.Compile(processPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid process-pattern %q: %w", processPattern, err)
		}
	}
	return r, nil
}

// Read implements Reader. Per-process read failures are skipped: processes
// exit between the directory listing and the stat read.
func (r *ProcReader) Read() (Gauges, error) {
	procs, err := r.fs.AllProcs()
	if err != nil {
		return Gauges{}, fmt.Errorf("failed to list processes: %w", err)
	}

	gauges := Gauges{SampledAt: time.Now()}
	for _, proc := range procs {
		if r.pattern != nil && !r.matches(proc) {
			continue
		}
		gauges.Processes++

		if fds, err := proc.FileDescriptorsLen(); err == nil {
			gauges.FileDescriptors += fds
		}
		if stat, err := proc.Stat(); err == nil {
			gauges.ResidentBytes += uint64(stat.ResidentMemory())
		}
	}
	return gauges, nil
}

func (r *ProcReader) matches(proc procfs.Proc) bool {
	if comm, err := proc.Comm(); err == nil && r.pattern.MatchString(comm) {
		return true
	}
	if cmdline, err := proc.CmdLine(); err == nil && r.pattern.MatchString(strings.Join(cmdline, " ")) {
		return true
	}
	return false
}
