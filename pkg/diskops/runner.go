package diskops

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/lipingxue/docker-volume-vsphere/pkg/log"
)

// Runner executes an external tool and returns its combined output. A
// non-zero exit returns the output together with an error; the captured
// text rides along in failure reports.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs tools on the host with a per-command timeout.
type ExecRunner struct {
	// Timeout bounds a single command execution (default: 5 minutes; eager
	// zeroing of large disks is slow).
	Timeout time.Duration
}

// NewExecRunner creates a runner with the default timeout.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Timeout: 5 * time.Minute}
}

// Run executes the command, capturing stdout and stderr interleaved.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	logger := log.WithComponent("diskops")
	logger.Debug().Str("cmd", name).Strs("args", args).Msg("running command")

	cmd := exec.CommandContext(runCtx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return out.Bytes(), fmt.Errorf("%s timed out after %s", name, r.Timeout)
	}
	if err != nil {
		return out.Bytes(), fmt.Errorf("%s failed: %w", name, err)
	}
	return out.Bytes(), nil
}
