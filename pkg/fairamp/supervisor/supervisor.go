// Package supervisor spawns, reaps, and (on shutdown) forcibly kills the
// commands described in the environment's command vector. Grounded on
// run_a/the wait loop/kill_remaining_commands in fairamp.c; ported from a
// single-threaded fork+wait loop to one goroutine per live child plus a
// fan-in completion channel, since Go offers no equivalent of a single
// wait(2) across arbitrary children.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/cdkim/fairamp/pkg/fairamp/env"
	"github.com/cdkim/fairamp/pkg/fairamp/kernel"
)

// OutputOpener returns the writer a command's stdout/stderr should be
// duped onto, grounded on run_a's dup2(command->output, 1/2). The output
// package implements this over its per-command temp files.
type OutputOpener interface {
	Open(c *env.Command) (*os.File, error)
}

// exitEvent is one reaped child, fanned into Supervisor.Run's select loop.
type exitEvent struct {
	command *env.Command
	status  int
}

// Supervisor owns process lifecycle for one environment.
type Supervisor struct {
	environment *env.Environment
	kernel      kernel.Adapter
	outputs     OutputOpener
	doFairamp   bool
	repeatedRun bool
	log         *slog.Logger
	exits       chan exitEvent
	killBackoff time.Duration
}

// New builds a Supervisor. doFairamp mirrors config.do_fairamp (whether
// to publish an initial vruntime on spawn); repeatedRun mirrors
// config.repeated_run (respawn a finished command until every command
// has finished at least once).
func New(e *env.Environment, k kernel.Adapter, outputs OutputOpener, doFairamp, repeatedRun bool, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		environment: e,
		kernel:      k,
		outputs:     outputs,
		doFairamp:   doFairamp,
		repeatedRun: repeatedRun,
		log:         log,
		exits:       make(chan exitEvent, len(e.Commands)),
		killBackoff: time.Second,
	}
}

// spawn starts one command: grounded on run_a. setpgid(pid,pid) becomes
// SysProcAttr.Setpgid, so a later negative-pid kill reaches the whole
// process group the same way. Pin-mode commands (SpeedupHint < 0) can't
// call sched_setaffinity between fork and exec in Go (there is no code
// injection point there); instead the affinity is applied from the
// parent via the kernel's CORE_PINNING syscall once the child's real pid
// is known — a deliberate adaptation, not a literal port.
func (s *Supervisor) spawn(c *env.Command) error {
	cmd := exec.Command(c.Argv[0], c.Argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	out, err := s.outputs.Open(c)
	if err != nil {
		return fmt.Errorf("supervisor: open output for command %d: %w", c.Num, err)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	c.Begin = time.Now()
	if err := cmd.Start(); err != nil {
		out.Close()
		return fmt.Errorf("supervisor: start command %d (%s): %w", c.Num, c.Name, err)
	}

	pid := cmd.Process.Pid
	c.State = env.Running(pid)
	if c.PIDFirst == 0 {
		c.PIDFirst = pid
	}

	if c.SpeedupHint < 0 {
		for _, cpu := range c.CPUMask {
			if err := s.kernel.CorePinning(pid, cpu); err != nil {
				s.log.Warn("supervisor: core pinning failed", "command", c.Num, "pid", pid, "cpu", cpu, "err", err)
			}
		}
	} else if s.doFairamp {
		update := kernel.VruntimeUpdate{Num: c.Num, PID: pid, UnitFastVruntime: c.RoundSlice.Fast, UnitSlowVruntime: c.RoundSlice.Slow}
		if err := s.kernel.SetUnitVruntime([]kernel.VruntimeUpdate{update}); err != nil {
			s.log.Warn("supervisor: initial vruntime publish failed", "command", c.Num, "pid", pid, "err", err)
		}
	}

	go func() {
		err := cmd.Wait()
		status := exitStatus(err)
		out.Close()
		s.exits <- exitEvent{command: c, status: status}
	}()

	return nil
}

func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return ws.ExitStatus()
		}
	}
	return -1
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// recomputer is the subset of policy.Engine a one-shot (non-periodic)
// recompute needs; kept as an interface to avoid importing policy here.
type recomputer interface {
	Recompute(forceActive bool) error
}

// Launch starts every command in the environment once, grounded on the
// initial `for (i = 0; i < num_comm; i++) run_a(&command[i]);` loop.
func (s *Supervisor) Launch() error {
	for _, c := range s.environment.Commands {
		if err := s.spawn(c); err != nil {
			return err
		}
	}
	return nil
}

// Run reaps children until every command has finished at least once (or
// ctx is cancelled), respawning finished commands when repeatedRun is
// set; respawned instances still running at that point are left for
// Shutdown to kill. It triggers a one-shot policy recompute on every exit when the
// estimator is not already doing that periodically (periodicUpdate is
// false). Grounded on the `while (running) { pid = wait(&status); ... }`
// loop and its "update on command end" branch.
func (s *Supervisor) Run(ctx context.Context, periodicUpdate bool, engine recomputer) error {
	commands := s.environment.Commands
	running := len(commands)
	finished := make(map[int]bool, len(commands))

	for running > 0 {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.exits:
			ev.command.End = time.Now()
			if !finished[ev.command.Num] {
				finished[ev.command.Num] = true
				ev.command.Finished = true
			}
			ev.command.State = env.Exited(ev.status)

			if len(finished) < len(commands) && s.repeatedRun {
				if err := s.spawn(ev.command); err != nil {
					s.log.Warn("supervisor: respawn failed", "command", ev.command.Num, "err", err)
					running--
				}
			} else {
				running--
			}

			if !periodicUpdate && engine != nil {
				if err := engine.Recompute(false); err != nil {
					s.log.Warn("supervisor: one-shot recompute failed", "err", err)
				}
			}

			if len(finished) == len(commands) {
				return nil
			}
		}
	}
	return nil
}

// Shutdown marks the environment done and force-kills every remaining
// process group, grounded on kill_remaining_commands: SIGKILL to -pid
// (the whole group), then a 1-second backoff, repeated until every
// tracked pid has been reaped.
func (s *Supervisor) Shutdown() {
	s.environment.SetDone()

	for {
		var remaining []*env.Command
		for _, c := range s.environment.Commands {
			if c.Active() {
				remaining = append(remaining, c)
			}
		}
		if len(remaining) == 0 {
			return
		}

		for _, c := range remaining {
			pid := c.State.PID()
			if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
				s.log.Warn("supervisor: kill failed", "command", c.Num, "pid", pid, "err", err)
			}
		}

		time.Sleep(s.killBackoff)

		for range remaining {
			select {
			case ev := <-s.exits:
				ev.command.State = env.Exited(ev.status)
				ev.command.End = time.Now()
			default:
			}
		}
	}
}
