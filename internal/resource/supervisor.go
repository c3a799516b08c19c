package resource

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/docqa/indexer/internal/logger"
)

// Supervisor abstracts the process-lifecycle facility of the deployment
// environment. A full implementation actually stops and starts tenant
// processes, which is the only way to release GPU memory; when no such
// facility exists the controller degrades to sleep/wake.
type Supervisor interface {
	// Available reports whether true process lifecycle control works here.
	Available() bool
	// Start launches the named container.
	Start(ctx context.Context, container string) error
	// Stop halts the named container within the configured grace period.
	Stop(ctx context.Context, container string) error
}

// dockerSupervisor drives tenant containers through the docker CLI.
type dockerSupervisor struct {
	dockerPath  string
	stopTimeout time.Duration
}

// NewDockerSupervisor returns a docker-backed supervisor. When the docker
// binary is not on PATH the returned supervisor reports unavailable and the
// controller falls back to sleep/wake.
func NewDockerSupervisor(stopTimeout time.Duration) Supervisor {
	path, err := exec.LookPath("docker")
	if err != nil {
		logger.Default().WithField(logger.FieldComponent, "resource").
			Warn("docker not found on PATH, container stop/start disabled")
		return unavailableSupervisor{}
	}
	return &dockerSupervisor{dockerPath: path, stopTimeout: stopTimeout}
}

func (d *dockerSupervisor) Available() bool {
	return true
}

func (d *dockerSupervisor) Start(ctx context.Context, container string) error {
	out, err := exec.CommandContext(ctx, d.dockerPath, "start", container).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker start %s: %w: %s", container, err, out)
	}
	return nil
}

func (d *dockerSupervisor) Stop(ctx context.Context, container string) error {
	grace := int(d.stopTimeout.Seconds())
	if grace <= 0 {
		grace = 10
	}
	out, err := exec.CommandContext(ctx, d.dockerPath, "stop", "-t", strconv.Itoa(grace), container).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker stop %s: %w: %s", container, err, out)
	}
	return nil
}

// unavailableSupervisor is the sleep-only fallback marker.
type unavailableSupervisor struct{}

func (unavailableSupervisor) Available() bool { return false }

func (unavailableSupervisor) Start(ctx context.Context, container string) error {
	return fmt.Errorf("no process supervisor available")
}

func (unavailableSupervisor) Stop(ctx context.Context, container string) error {
	return fmt.Errorf("no process supervisor available")
}
