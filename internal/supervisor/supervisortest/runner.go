// Package supervisortest provides a scripted process runner for tests that
// exercise supervised ffmpeg runs without ffmpeg.
package supervisortest

import (
	"context"
	"sync"

	"github.com/jmylchreest/segmentarr/internal/ffmpeg"
	"github.com/jmylchreest/segmentarr/internal/supervisor"
)

// Behavior scripts one launched process.
type Behavior struct {
	// StartErr makes the launch fail.
	StartErr error
	// ExitCode is reported once the process exits.
	ExitCode int
	// Polls is how many Exited checks report "still running" first.
	Polls int
	// Hold keeps the process running until it is killed.
	Hold bool
	// OnStart runs synchronously after a successful launch.
	OnStart func(cmd *ffmpeg.Command)
}

// Runner records every command and answers with scripted behavior.
type Runner struct {
	// Decide picks the behavior of each command; nil means exit 0 at once.
	Decide func(cmd *ffmpeg.Command) Behavior

	mu        sync.Mutex
	commands  []*ffmpeg.Command
	processes []*Process
	nextPid   int
}

var _ supervisor.Runner = (*Runner)(nil)

// Start implements supervisor.Runner.
func (r *Runner) Start(_ context.Context, cmd *ffmpeg.Command) (supervisor.Process, error) {
	var b Behavior
	if r.Decide != nil {
		b = r.Decide(cmd)
	}

	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	if b.StartErr != nil {
		r.mu.Unlock()
		return nil, b.StartErr
	}
	r.nextPid++
	p := &Process{pid: 10000 + r.nextPid, code: b.ExitCode, polls: b.Polls, hold: b.Hold}
	r.processes = append(r.processes, p)
	r.mu.Unlock()

	if b.OnStart != nil {
		b.OnStart(cmd)
	}
	return p, nil
}

// Commands returns every command seen, in launch order.
func (r *Runner) Commands() []*ffmpeg.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*ffmpeg.Command(nil), r.commands...)
}

// Processes returns every launched process, in launch order.
func (r *Runner) Processes() []*Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Process(nil), r.processes...)
}

// Process is a scripted process.
type Process struct {
	mu     sync.Mutex
	pid    int
	code   int
	polls  int
	hold   bool
	killed bool
}

// Pid implements supervisor.Process.
func (p *Process) Pid() int { return p.pid }

// Exited implements supervisor.Process.
func (p *Process) Exited() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.killed:
		return -1, true
	case p.hold:
		return 0, false
	case p.polls > 0:
		p.polls--
		return 0, false
	default:
		return p.code, true
	}
}

// Kill implements supervisor.Process.
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	return nil
}

// Killed reports whether the process was killed.
func (p *Process) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}
