package engine

import (
	"os/exec"

	"github.com/trawler-io/trawler/internal/model"
)

// Test hooks for the external test package.

// ForceTerminal walks the job along a valid lifecycle path into the given
// terminal status, as if its worker had run and exited.
func (j *Job) ForceTerminal(status string, exitCode *int) error {
	switch status {
	case model.StatusCompleted, model.StatusFailed:
		if err := j.transition(model.StatusRunning); err != nil {
			return err
		}
	case model.StatusStopped:
		if err := j.transition(model.StatusRunning); err != nil {
			return err
		}
		if err := j.transition(model.StatusStopping); err != nil {
			return err
		}
	}
	return j.finish(status, exitCode)
}

func (j *Job) AttachProcess(cmd *exec.Cmd) { j.attachProcess(cmd) }
