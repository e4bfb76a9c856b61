// Package health implements the liveness marker other processes use to
// tell whether the agent's run loop is still making progress: a plain file
// touched on every heartbeat and removed on a clean exit.
package health

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Checker owns the health marker file path and the heartbeat/die/check
// operations against it.
type Checker struct {
	path string
}

// New returns a Checker whose marker lives at filepath.Join(stateDir, "healthy").
func New(stateDir string) *Checker {
	return &Checker{path: filepath.Join(stateDir, "healthy")}
}

// Heartbeat marks the agent as healthy. Safe to call repeatedly.
func (c *Checker) Heartbeat() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("creating health marker directory: %w", err)
	}
	now := time.Now()
	if err := os.Chtimes(c.path, now, now); err != nil {
		if os.IsNotExist(err) {
			f, createErr := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY, 0644)
			if createErr != nil {
				return fmt.Errorf("creating health marker: %w", createErr)
			}
			return f.Close()
		}
		return fmt.Errorf("touching health marker: %w", err)
	}
	return nil
}

// Die marks the agent as dead. Safe to call repeatedly, including when no
// marker exists.
func (c *Checker) Die() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing health marker: %w", err)
	}
	return nil
}

// Check reports whether the agent was healthy as of the last heartbeat,
// and consumes the marker: a subsequent Check without an intervening
// Heartbeat reports unhealthy. Intended for an external process (a
// liveness probe) to poll.
func (c *Checker) Check() (healthy bool, err error) {
	_, statErr := os.Stat(c.path)
	healthy = statErr == nil
	if statErr != nil && !os.IsNotExist(statErr) {
		return false, fmt.Errorf("checking health marker: %w", statErr)
	}
	if removeErr := os.Remove(c.path); removeErr != nil && !os.IsNotExist(removeErr) {
		return healthy, fmt.Errorf("consuming health marker: %w", removeErr)
	}
	return healthy, nil
}
