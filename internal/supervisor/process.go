package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorcon/rcon"
	"github.com/magiconair/properties"

	"github.com/wardenhost/warden/internal/protocol"
)

const (
	runnerScript    = "run.sh"
	propertiesFile  = "server.properties"
	stopDirective   = "stop\n"
	consoleFallback = "output unavailable"
)

// rconConfig is the remote-console endpoint advertised by the server's
// properties file, or nil when the console is disabled.
type rconConfig struct {
	port     int
	password string
}

func loadRCONConfig(path string) *rconConfig {
	props, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return nil
	}
	if strings.TrimSpace(props.GetString("enable-rcon", "")) != "true" {
		return nil
	}

	port := props.GetInt("rcon.port", 0)
	password := strings.TrimSpace(props.GetString("rcon.password", ""))
	if port == 0 || password == "" {
		return nil
	}
	return &rconConfig{port: port, password: password}
}

// runProcess drives the running regime: it spawns the server process and
// serves commands against it until the should-run flag drops or ctx is
// cancelled, restarting the process as long as the flag stays up. The status
// is Idle again when it returns.
func (s *Supervisor) runProcess(ctx context.Context) {
	defer s.setStatus(protocol.StatusIdle)

	for s.shouldRun.Load() && ctx.Err() == nil {
		s.rebootQueued.Store(false)
		s.setStatus(protocol.StatusStarting)

		proc, err := s.spawn()
		if err != nil {
			s.logger.Errorf("failed to spawn %s: %v", s.name, err)
			s.sleep(ctx, s.cfg.SpawnRetryInterval)
			continue
		}

		s.serveProcess(ctx, proc)
		proc.close()
	}

	// A context cancellation skips the graceful stop inside serveProcess, so
	// make sure nothing is left running when the daemon exits.
	if ctx.Err() != nil {
		s.shouldRun.Store(false)
	}
}

// process is one live server process plus its console attachments.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	waitCh chan error
	rcon   *rconConfig

	console *rcon.Conn
	exited  bool
}

func (s *Supervisor) spawn() (*process, error) {
	cmd := exec.Command(filepath.Join(s.path, runnerScript))
	cmd.Dir = s.path
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open the server's stdin: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start the server process: %w", err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	return &process{
		cmd:    cmd,
		stdin:  stdin,
		waitCh: waitCh,
		rcon:   loadRCONConfig(filepath.Join(s.path, propertiesFile)),
	}, nil
}

func (p *process) close() {
	if p.console != nil {
		p.console.Close()
		p.console = nil
	}
	p.stdin.Close()
}

// serveProcess is the running-regime loop. The Running status is gated on the
// remote console attaching when the properties file advertises one; without a
// console the server is considered Running as soon as the process is up.
func (s *Supervisor) serveProcess(ctx context.Context, proc *process) {
	if proc.rcon == nil {
		s.setStatus(protocol.StatusRunning)
	}

	for s.shouldRun.Load() && ctx.Err() == nil {
		if proc.rcon != nil && proc.console == nil {
			s.attachConsole(proc)
		}

		if s.rebootQueued.Swap(false) {
			break
		}

		select {
		case err := <-proc.waitCh:
			if err != nil {
				s.logger.Warnf("server %s exited: %v", s.name, err)
			}
			proc.exited = true
			// Even a self-exit passes through Stopping so clients see the
			// same status history as an ordered shutdown.
			s.setStatus(protocol.StatusStopping)
			return
		default:
		}

		select {
		case req := <-s.requests:
			s.serveRunningCommand(proc, req)
		default:
		}

		s.sleep(ctx, s.cfg.PollInterval)
	}

	if ctx.Err() != nil {
		// Daemon shutdown; stop the process but don't clear the persisted
		// should-run flag so the server comes back after a restart.
		s.stopProcess(proc)
		return
	}

	s.setStatus(protocol.StatusStopping)
	s.stopProcess(proc)
}

// attachConsole dials the advertised remote console. Servers take a while to
// open the console port after launch, so failures just mean "not yet".
func (s *Supervisor) attachConsole(proc *process) {
	conn, err := rcon.Dial(fmt.Sprintf("127.0.0.1:%d", proc.rcon.port), proc.rcon.password)
	if err != nil {
		return
	}
	proc.console = conn
	s.setStatus(protocol.StatusRunning)
}

func (s *Supervisor) serveRunningCommand(proc *process, req request) {
	cmd := req.cmd

	switch cmd.Type {
	case protocol.CmdConsole:
		req.reply <- s.runConsoleCommand(proc, cmd.Text)

	case protocol.CmdGenerateModsZip:
		// Acknowledge first; packaging reports through notifications.
		req.reply <- protocol.Ok()
		s.runPackage(s.Status())

	case protocol.CmdListMods, protocol.CmdQueryMod, protocol.CmdInstallMod,
		protocol.CmdUninstallMod, protocol.CmdUpdateMod:
		req.reply <- s.handleModCommand(cmd)

	default:
		req.reply <- protocol.InvalidState()
	}
}

// runConsoleCommand prefers the remote console, which echoes the command's
// output back. Before the console attaches the text is written to the
// process's stdin instead and there's no output to return.
func (s *Supervisor) runConsoleCommand(proc *process, text string) protocol.Response {
	if proc.console != nil {
		output, err := proc.console.Execute(text)
		if err != nil {
			s.logger.Errorf("console command on %s failed: %v", s.name, err)
			return protocol.Err()
		}
		return protocol.CommandOutput(output)
	}

	if _, err := io.WriteString(proc.stdin, text+"\n"); err != nil {
		s.logger.Errorf("writing console command to %s failed: %v", s.name, err)
		return protocol.Err()
	}
	return protocol.CommandOutput(consoleFallback)
}

// stopProcess shuts the process down by writing the stop directive to its
// stdin at a fixed cadence, killing it outright if it outlives the stop
// timeout.
func (s *Supervisor) stopProcess(proc *process) {
	if proc.exited {
		return
	}

	start := time.Now()
	var lastDirective time.Time

	for {
		select {
		case err := <-proc.waitCh:
			if err != nil {
				s.logger.Warnf("server %s exited: %v", s.name, err)
			}
			proc.exited = true
			return
		default:
		}

		if time.Since(start) > s.cfg.StopTimeout {
			s.logger.Errorf("server %s ignored the stop directive; killing it", s.name)
			_ = proc.cmd.Process.Kill()
			<-proc.waitCh
			proc.exited = true
			return
		}

		if time.Since(lastDirective) >= s.cfg.StopInterval {
			lastDirective = time.Now()
			if _, err := io.WriteString(proc.stdin, stopDirective); err != nil {
				s.logger.Warnf("failed to write stop directive to %s: %v", s.name, err)
			}
		}

		time.Sleep(s.cfg.PollInterval)
	}
}
