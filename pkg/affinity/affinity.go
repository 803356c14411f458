package affinity

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// Pinner pins the calling process to a designated CPU. Failure is always
// non-fatal to the caller (spec §4.5 step 1: "failure is logged but
// non-fatal").
type Pinner interface {
	Pin(ctx context.Context, cpu int) error
}

// tasksetPinner shells out to taskset against the current process, the
// same os/exec pattern the health checker uses for its exec probes.
type tasksetPinner struct {
	timeout time.Duration
}

// NewTasksetPinner returns the production Pinner.
func NewTasksetPinner() Pinner {
	return &tasksetPinner{timeout: 5 * time.Second}
}

func (p *tasksetPinner) Pin(ctx context.Context, cpu int) error {
	if cpu < 0 {
		return fmt.Errorf("affinity: negative cpu index %d", cpu)
	}

	execCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	pid := strconv.Itoa(os.Getpid())
	cmd := exec.CommandContext(execCtx, "taskset", "-cp", strconv.Itoa(cpu), pid)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("affinity: taskset -cp %d %s: %w (%s)", cpu, pid, err, stderr.String())
	}
	return nil
}
