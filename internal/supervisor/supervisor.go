// Package supervisor drives the lifecycle of one managed game-server process.
//
// Each Supervisor owns a dedicated worker goroutine that is the only thing
// ever allowed to touch the server's filesystem tree. Network connections
// talk to it through a request/response channel; lifecycle switches (start,
// stop, reboot) are cooperative flags observed by the worker's loop.
package supervisor

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wardenhost/warden/internal/backup"
	"github.com/wardenhost/warden/internal/mods"
	"github.com/wardenhost/warden/internal/notify"
	"github.com/wardenhost/warden/internal/protocol"
)

// ErrTimeout is returned by Send when the worker doesn't answer within the
// caller's deadline. The command may still complete asynchronously; the
// caller can only learn its outcome by polling status or notifications.
var ErrTimeout = errors.New("timed out waiting for supervisor response")

// Config holds the worker's timing knobs.
type Config struct {
	// PollInterval is the sleep between command channel polls.
	PollInterval time.Duration
	// SpawnRetryInterval is the delay before retrying a failed process spawn.
	SpawnRetryInterval time.Duration
	// StopInterval is how often the shutdown directive is written to a
	// stopping process's stdin.
	StopInterval time.Duration
	// StopTimeout is the ceiling on a graceful shutdown before the process
	// is forcibly terminated.
	StopTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval == 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.SpawnRetryInterval == 0 {
		c.SpawnRetryInterval = 5 * time.Second
	}
	if c.StopInterval == 0 {
		c.StopInterval = 5 * time.Second
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = 5 * time.Minute
	}
	return c
}

// Packager abstracts mod-directory packaging and upload so tests can count
// or stub the expensive steps.
type Packager interface {
	// ZipPath returns the stable path of the server's packaged archive.
	ZipPath() string
	// Package writes the mod directory into a fresh archive.
	Package(modsDir string, progress backup.ProgressFunc) (string, error)
	// Upload pushes the archive to the asset endpoint and returns the
	// retrieval URL.
	Upload(zipPath string) (string, error)
}

// Store persists the supervisor's durable side effects: the should-run flag
// and mod provenance records. A nil Store disables persistence.
type Store interface {
	SetRunning(running bool) error
	RecordModInstalled(modID, filename string) error
	RecordModRemoved(modID string) error
}

// Options configures a new Supervisor.
type Options struct {
	Account string
	Name    string
	Path    string
	// Running seeds the should-run flag from the persisted server record so
	// servers that were running before a daemon restart come back up.
	Running bool

	Config   Config
	Logger   logrus.FieldLogger
	Outbox   *notify.Outbox
	Store    Store
	Mods     *mods.Manager
	Packager Packager
}

type request struct {
	cmd   protocol.ServerCommand
	reply chan protocol.Response
}

// Supervisor is the per-server state machine plus its worker goroutine.
type Supervisor struct {
	account string
	name    string
	path    string

	cfg      Config
	logger   logrus.FieldLogger
	outbox   *notify.Outbox
	store    Store
	mods     *mods.Manager
	packager Packager

	requests     chan request
	shouldRun    atomic.Bool
	rebootQueued atomic.Bool
	modsUpToDate atomic.Bool

	statusMu   sync.Mutex
	statusCond *sync.Cond
	status     protocol.Status
}

func New(opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Outbox == nil {
		opts.Outbox = &notify.Outbox{}
	}
	if opts.Mods == nil {
		opts.Mods = mods.NewManager(opts.Path, opts.Logger)
	}

	s := &Supervisor{
		account:  opts.Account,
		name:     opts.Name,
		path:     opts.Path,
		cfg:      opts.Config.withDefaults(),
		logger:   opts.Logger,
		outbox:   opts.Outbox,
		store:    opts.Store,
		mods:     opts.Mods,
		packager: opts.Packager,
		requests: make(chan request),
		status:   protocol.StatusIdle,
	}
	s.statusCond = sync.NewCond(&s.statusMu)
	s.shouldRun.Store(opts.Running)
	return s
}

func (s *Supervisor) Account() string { return s.account }
func (s *Supervisor) Name() string    { return s.name }
func (s *Supervisor) Path() string    { return s.path }

// Status returns the server's current state.
func (s *Supervisor) Status() protocol.Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// WaitFor blocks until the status satisfies the predicate.
func (s *Supervisor) WaitFor(predicate func(protocol.Status) bool) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	for !predicate(s.status) {
		s.statusCond.Wait()
	}
}

// setStatus swaps the status and, only when the value actually changed,
// wakes waiters and emits a StatusChanged notification.
func (s *Supervisor) setStatus(next protocol.Status) {
	s.statusMu.Lock()
	old := s.status
	s.status = next
	if old != next {
		s.statusCond.Broadcast()
	}
	s.statusMu.Unlock()

	if old != next {
		s.outbox.Push(protocol.StatusChanged(s.name, old, next))
	}
}

// Start raises the should-run flag and persists it. The worker observes the
// flag on its next loop iteration.
func (s *Supervisor) Start() {
	s.shouldRun.Store(true)
	s.persistRunning(true)
}

// Stop clears the should-run flag and persists it. The running loop observes
// the flag, transitions to Stopping, and shuts the process down gracefully.
func (s *Supervisor) Stop() {
	s.shouldRun.Store(false)
	s.persistRunning(false)
}

// Reboot restarts the process without requiring an external stop request.
func (s *Supervisor) Reboot() {
	s.Start()
	s.rebootQueued.Store(true)
}

func (s *Supervisor) persistRunning(running bool) {
	if s.store == nil {
		return
	}
	if err := s.store.SetRunning(running); err != nil {
		s.logger.Errorf("failed to persist running flag for %s: %v", s.name, err)
	}
}

// Send forwards a command to the worker goroutine and waits for its response.
// Commands for one server are processed strictly in arrival order; if the
// worker is busy past the timeout the command is abandoned (it may still
// execute later).
func (s *Supervisor) Send(cmd protocol.ServerCommand, timeout time.Duration) (protocol.Response, error) {
	req := request{cmd: cmd, reply: make(chan protocol.Response, 1)}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case s.requests <- req:
	case <-deadline.C:
		return protocol.Response{}, ErrTimeout
	}

	select {
	case resp := <-req.reply:
		return resp, nil
	case <-deadline.C:
		return protocol.Response{}, ErrTimeout
	}
}
