// Package sandbox executes shell commands for the agent, either inside
// a locked-down Docker container or directly on the host.
package sandbox

import (
	"context"
	"log"
	"os/exec"
	"time"
)

// Mode selects the execution backend.
type Mode string

const (
	// ModeDocker requires a container; host fallback only when the
	// daemon is unreachable.
	ModeDocker Mode = "docker"
	// ModeHost runs directly on the host with no isolation.
	ModeHost Mode = "host"
	// ModeAuto picks Docker when a daemon answers, host otherwise.
	ModeAuto Mode = "auto"
)

const defaultCmdTimeout = 2 * time.Minute

// Result captures the outcome of one command.
type Result struct {
	Stdout   string
	Stderr   string
	Code     int
	TimedOut bool
}

// Runner executes a shell command inside the given directory.
type Runner interface {
	// Run executes command with /bin/sh -c in dir. A timeout <= 0 uses
	// the runner's default.
	Run(ctx context.Context, dir, command string, timeout time.Duration) (Result, error)
}

// Config tunes the Docker backend.
type Config struct {
	// Image overrides the per-project default container image.
	Image string
	// CPU and Memory cap container resources, e.g. "2" and "1g".
	CPU    string
	Memory string
	// Timeout is the default command deadline.
	Timeout time.Duration
}

// DefaultConfig returns the resource caps used when the caller does not
// override them.
func DefaultConfig() Config {
	return Config{
		CPU:     "2",
		Memory:  "1g",
		Timeout: defaultCmdTimeout,
	}
}

// New selects a runner for the requested mode, falling back to the host
// with a logged warning when Docker cannot be used.
func New(mode Mode, cfg Config) Runner {
	switch mode {
	case ModeDocker, ModeAuto:
		if !dockerAvailable(context.Background()) {
			if mode == ModeDocker {
				log.Printf("WARNING: docker sandbox requested but no daemon is reachable, running on the host")
			} else {
				log.Printf("WARNING: no docker daemon, commands run on the host without isolation")
			}
			return &HostRunner{cfg: cfg}
		}
		runner, err := NewDockerRunner(cfg)
		if err != nil {
			log.Printf("WARNING: docker runner unavailable (%v), running on the host", err)
			return &HostRunner{cfg: cfg}
		}
		return runner
	case ModeHost:
		return &HostRunner{cfg: cfg}
	default:
		log.Printf("WARNING: unknown sandbox mode %q, running on the host", mode)
		return &HostRunner{cfg: cfg}
	}
}

// dockerAvailable reports whether a docker daemon answers.
func dockerAvailable(ctx context.Context) bool {
	probe, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return exec.CommandContext(probe, "docker", "ps", "-q").Run() == nil
}
