package stage

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/docqa/indexer/internal/logger"
)

// tailLimit bounds the diagnostic output kept from a failed engine run.
const tailLimit = 30

// Inputs carries everything a stage needs to run.
type Inputs struct {
	// Files are the job's original input documents.
	Files []string
	// InputDir holds the previous stage's text output, when relevant.
	InputDir string
	// OutputDir is the job output directory the stage writes under.
	OutputDir string
}

// Result is what a completed stage hands back to the orchestrator.
type Result struct {
	Stats     map[string]interface{}
	Artifacts []string
}

// Runner executes one pipeline stage. Implementations drive external
// engines in child processes so that engine GPU memory is fully released
// when the stage ends.
type Runner interface {
	Run(ctx context.Context, in Inputs) (*Result, error)
}

type execOutput struct {
	stdout   string
	exitCode int
}

// runCommand runs argv to completion, capturing stdout for the caller and
// keeping only a bounded tail of the combined output for diagnostics.
func runCommand(ctx context.Context, argv []string, workDir string, extraEnv []string, timeout time.Duration, log *logger.Logger) (*execOutput, []string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workDir
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.WithField("command", strings.Join(argv, " ")).Debug("Running engine")
	err := cmd.Run()

	tail := lastLines(stderr.String(), tailLimit)
	if len(tail) == 0 {
		tail = lastLines(stdout.String(), tailLimit)
	}
	for _, line := range tail {
		log.WithField("engine", argv[0]).Debug(line)
	}

	out := &execOutput{stdout: stdout.String()}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			out.exitCode = exitErr.ExitCode()
		} else {
			out.exitCode = -1
		}
		return out, tail, err
	}
	return out, tail, nil
}

func lastLines(s string, n int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
