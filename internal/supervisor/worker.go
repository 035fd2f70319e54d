package supervisor

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/wardenhost/warden/internal/backup"
	"github.com/wardenhost/warden/internal/mods"
	"github.com/wardenhost/warden/internal/protocol"
)

// Run is the worker loop. While the should-run flag is down it polls the
// command channel in the idle regime; when the flag comes up it hands control
// to the process driver until the server stops again. Run returns when ctx is
// cancelled, after gracefully stopping any live process.
func (s *Supervisor) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if s.shouldRun.Load() {
			s.runProcess(ctx)
			continue
		}

		s.pollIdle()
		s.sleep(ctx, s.cfg.PollInterval)
	}
}

// pollIdle drains at most one pending command. Replies go out before any
// long-running work starts so the requesting connection isn't held hostage by
// a multi-gigabyte copy.
func (s *Supervisor) pollIdle() {
	select {
	case req := <-s.requests:
		resp, deferred := s.handleIdleCommand(req.cmd)
		req.reply <- resp
		if deferred != "" {
			s.runDeferred(deferred)
		}
	default:
	}
}

// handleIdleCommand answers a command received while no process is live. The
// second return value names an operation to execute after the reply is sent.
func (s *Supervisor) handleIdleCommand(cmd protocol.ServerCommand) (protocol.Response, protocol.CommandType) {
	switch cmd.Type {
	case protocol.CmdBackup:
		return protocol.Ok(), protocol.CmdBackup

	case protocol.CmdRestore:
		if info, err := os.Stat(backup.Path(s.path)); err != nil || !info.IsDir() {
			return protocol.Response{Type: protocol.RespNoBackup}, ""
		}
		return protocol.Ok(), protocol.CmdRestore

	case protocol.CmdGenerateModsZip:
		return protocol.Ok(), protocol.CmdGenerateModsZip

	case protocol.CmdListMods, protocol.CmdQueryMod, protocol.CmdInstallMod,
		protocol.CmdUninstallMod, protocol.CmdUpdateMod:
		return s.handleModCommand(cmd), ""

	default:
		return protocol.InvalidState(), ""
	}
}

// runDeferred executes a long operation acknowledged by an earlier Ok reply.
// Only ever called from the idle regime, so the terminal status is Idle.
func (s *Supervisor) runDeferred(op protocol.CommandType) {
	switch op {
	case protocol.CmdBackup:
		s.runBackup()
	case protocol.CmdRestore:
		s.runRestore()
	case protocol.CmdGenerateModsZip:
		s.runPackage(protocol.StatusIdle)
	}
}

func (s *Supervisor) runBackup() {
	s.setStatus(protocol.StatusBackingUp)
	defer s.setStatus(protocol.StatusIdle)

	err := backup.Run(s.path, func(p backup.Progress) {
		s.outbox.Push(protocol.BackupProgress(s.name, p.Copied, p.Total))
	})
	if err != nil {
		s.logger.Errorf("backup of %s failed: %v", s.name, err)
		s.outbox.Push(protocol.Notification{
			Kind:   protocol.NotifBackupFailed,
			Server: s.name,
			Error:  err.Error(),
		})
	}
}

func (s *Supervisor) runRestore() {
	s.setStatus(protocol.StatusRestoring)
	defer s.setStatus(protocol.StatusIdle)

	err := backup.Restore(s.path, func(p backup.Progress) {
		s.outbox.Push(protocol.RestoreProgress(s.name, p.Copied, p.Total))
	})
	if err != nil {
		s.logger.Errorf("restore of %s failed: %v", s.name, err)
		s.outbox.Push(protocol.Notification{
			Kind:   protocol.NotifRestoreFailed,
			Server: s.name,
			Error:  err.Error(),
		})
	}
	// The restore replaced the working tree wholesale.
	s.modsUpToDate.Store(false)
}

// runPackage zips the mod directory (skipping the zip step entirely when the
// packaged archive is still current) and uploads it, then restores the status
// the server held before packaging started.
func (s *Supervisor) runPackage(restoreTo protocol.Status) {
	s.setStatus(protocol.StatusPackaging)
	defer s.setStatus(restoreTo)

	if s.packager == nil {
		s.logger.Errorf("no packager configured for %s", s.name)
		s.outbox.Push(protocol.Notification{
			Kind:   protocol.NotifZipFailed,
			Server: s.name,
			Error:  "mod packaging isn't configured",
		})
		return
	}

	fail := func(err error) {
		s.logger.Errorf("packaging mods of %s failed: %v", s.name, err)
		s.outbox.Push(protocol.Notification{
			Kind:   protocol.NotifZipFailed,
			Server: s.name,
			Error:  err.Error(),
		})
	}

	zipPath := s.packager.ZipPath()
	if !s.modsUpToDate.Load() {
		dir, err := s.mods.Dir()
		if err != nil {
			fail(err)
			return
		}

		zipPath, err = s.packager.Package(dir, func(p backup.Progress) {
			s.outbox.Push(protocol.ZipProgress(s.name, protocol.ZipPhaseZipping, p.Copied, p.Total))
		})
		if err != nil {
			fail(err)
			return
		}
		s.modsUpToDate.Store(true)
	}

	s.outbox.Push(protocol.ZipProgress(s.name, protocol.ZipPhaseUploading, 0, 0))
	url, err := s.packager.Upload(zipPath)
	if err != nil {
		fail(err)
		return
	}

	s.outbox.Push(protocol.Notification{
		Kind:   protocol.NotifZipFile,
		Server: s.name,
		URL:    url,
	})
}

// handleModCommand serves the mod lifecycle commands. It's shared by both
// regimes: mods live in their own directory and don't touch the running
// process. Mutating commands pulse the Modding status around the filesystem
// work and then restore whatever status the server held.
func (s *Supervisor) handleModCommand(cmd protocol.ServerCommand) protocol.Response {
	switch cmd.Type {
	case protocol.CmdListMods:
		page, lastPage, err := s.mods.Page(cmd.PageSize, cmd.PageIndex)
		if err != nil {
			s.logger.Errorf("listing mods of %s failed: %v", s.name, err)
			return protocol.Err()
		}
		return protocol.Response{Type: protocol.RespMods, Mods: page, LastPage: lastPage}

	case protocol.CmdQueryMod:
		info, err := s.mods.Query(cmd.ModID)
		if errors.Is(err, mods.ErrNoSuchMod) {
			return protocol.Response{Type: protocol.RespNoSuchMod}
		}
		if err != nil {
			s.logger.Errorf("querying mod %s of %s failed: %v", cmd.ModID, s.name, err)
			return protocol.Err()
		}
		return protocol.Response{Type: protocol.RespMod, Mod: &info}

	case protocol.CmdInstallMod:
		return s.withModding(func() protocol.Response {
			info, err := s.mods.Install(cmd.StagedPath, cmd.Filename)
			if errors.Is(err, mods.ErrModConflict) {
				return protocol.Response{Type: protocol.RespModConflict}
			}
			if err != nil {
				s.logger.Errorf("installing mod on %s failed: %v", s.name, err)
				return protocol.Err()
			}
			s.recordModInstalled(info)
			return protocol.Ok()
		})

	case protocol.CmdUpdateMod:
		return s.withModding(func() protocol.Response {
			info, err := s.mods.Update(cmd.StagedPath, cmd.Filename)
			if errors.Is(err, mods.ErrNoSuchMod) {
				return protocol.Response{Type: protocol.RespNoSuchMod}
			}
			if err != nil {
				s.logger.Errorf("updating mod on %s failed: %v", s.name, err)
				return protocol.Err()
			}
			s.recordModInstalled(info)
			return protocol.Ok()
		})

	case protocol.CmdUninstallMod:
		return s.withModding(func() protocol.Response {
			info, err := s.mods.Uninstall(cmd.ModID)
			if errors.Is(err, mods.ErrNoSuchMod) {
				return protocol.Response{Type: protocol.RespNoSuchMod}
			}
			if err != nil {
				s.logger.Errorf("uninstalling mod %s of %s failed: %v", cmd.ModID, s.name, err)
				return protocol.Err()
			}
			s.recordModRemoved(info.ModID)
			return protocol.Ok()
		})
	}

	return protocol.InvalidState()
}

// withModding pulses the Modding status around a mutating mod operation. A
// successful mutation marks the packaged archive stale; rejected ones leave
// the mod directory untouched, so the archive stays current.
func (s *Supervisor) withModding(op func() protocol.Response) protocol.Response {
	previous := s.Status()
	s.setStatus(protocol.StatusModding)
	defer s.setStatus(previous)

	resp := op()
	if resp.Type == protocol.RespOk {
		s.modsUpToDate.Store(false)
	}
	return resp
}

func (s *Supervisor) recordModInstalled(info protocol.ModInfo) {
	if s.store == nil {
		return
	}
	if err := s.store.RecordModInstalled(info.ModID, info.Filename); err != nil {
		s.logger.Errorf("failed to record mod %s for %s: %v", info.ModID, s.name, err)
	}
}

func (s *Supervisor) recordModRemoved(modID string) {
	if s.store == nil {
		return
	}
	if err := s.store.RecordModRemoved(modID); err != nil {
		s.logger.Errorf("failed to erase mod record %s for %s: %v", modID, s.name, err)
	}
}

// sleep pauses for d or until ctx is cancelled, whichever comes first.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
