// Package gateway implements warden's TCP listener. Every inbound connection
// runs the same short script: key exchange, one login exchange, one command
// exchange, close. Session state never outlives the connection; anything
// longer-lived belongs to the supervisors.
package gateway

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wardenhost/warden/internal/auth"
	"github.com/wardenhost/warden/internal/protocol"
	"github.com/wardenhost/warden/internal/supervisor"
)

// Directory is the gateway's view of the rest of the daemon: credential
// checks, supervisor lookup, and notification drains. Lookups are always
// scoped to the authenticated account; a server owned by someone else is
// indistinguishable from one that doesn't exist.
type Directory interface {
	Authenticate(username string, digest []byte) error
	Servers(account string) []*supervisor.Supervisor
	Server(account, name string) (*supervisor.Supervisor, bool)
	Notifications(account string) []protocol.Notification
}

type Gateway struct {
	addr            string
	hostKey         *rsa.PrivateKey
	directory       Directory
	logger          logrus.FieldLogger
	responseTimeout time.Duration
}

func New(addr string, hostKey *rsa.PrivateKey, directory Directory, logger logrus.FieldLogger, responseTimeout time.Duration) *Gateway {
	if responseTimeout == 0 {
		responseTimeout = 5 * time.Second
	}
	return &Gateway{
		addr:            addr,
		hostKey:         hostKey,
		directory:       directory,
		logger:          logger,
		responseTimeout: responseTimeout,
	}
}

// ListenAndServe accepts connections until ctx is cancelled.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.addr, err)
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	g.logger.Infof("waiting for connections on %v", g.addr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}
		go g.Serve(conn)
	}
}

// Serve runs one full session over an established stream. Exported so tests
// can drive a session over an in-memory pipe.
func (g *Gateway) Serve(conn io.ReadWriteCloser) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			g.logger.Errorf("panic in connection handler: %v", r)
		}
	}()

	fc, err := protocol.Accept(conn, g.hostKey)
	if err != nil {
		g.logger.Warnf("key exchange failed: %v", err)
		return
	}

	var login protocol.LoginRequest
	if err := fc.Recv(&login); err != nil {
		g.logger.Warnf("failed to read login request: %v", err)
		return
	}

	if err := g.directory.Authenticate(login.Username, login.PasswordHash); err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			g.logger.Errorf("error authenticating %s: %v", login.Username, err)
		}
		// An internal failure is reported the same way as a bad password.
		_ = fc.Send(protocol.LoginResponse{Result: protocol.LoginWrongCredentials})
		return
	}
	if err := fc.Send(protocol.LoginResponse{Result: protocol.LoginOk}); err != nil {
		g.logger.Warnf("failed to send login response: %v", err)
		return
	}

	var cmd protocol.NetCommand
	if err := fc.Recv(&cmd); err != nil {
		g.logger.Warnf("failed to read command from %s: %v", login.Username, err)
		return
	}

	if err := fc.Send(g.dispatch(login.Username, cmd)); err != nil {
		g.logger.Warnf("failed to send response to %s: %v", login.Username, err)
	}
}

func (g *Gateway) dispatch(account string, cmd protocol.NetCommand) protocol.Response {
	switch cmd.Type {
	case protocol.NetListServers:
		sups := g.directory.Servers(account)
		servers := make([]protocol.ServerStatus, 0, len(sups))
		for _, sup := range sups {
			servers = append(servers, protocol.ServerStatus{
				Name:   sup.Name(),
				Path:   sup.Path(),
				Status: sup.Status(),
			})
		}
		return protocol.Response{Type: protocol.RespList, Servers: servers}

	case protocol.NetNotifications:
		return protocol.Response{
			Type:          protocol.RespNotifications,
			Notifications: g.directory.Notifications(account),
		}

	case protocol.NetServerCommand:
		if cmd.Command == nil {
			return protocol.Err()
		}
		sup, ok := g.directory.Server(account, cmd.Server)
		if !ok {
			return protocol.Response{Type: protocol.RespUnknownServer}
		}
		return g.dispatchServerCommand(sup, *cmd.Command)
	}

	return protocol.Err()
}

// dispatchServerCommand answers lifecycle commands directly and forwards the
// rest to the server's worker. Commands whose legality depends only on the
// current status are pre-checked here so an illegal request never occupies
// the worker's queue.
func (g *Gateway) dispatchServerCommand(sup *supervisor.Supervisor, cmd protocol.ServerCommand) protocol.Response {
	status := sup.Status()

	switch cmd.Type {
	case protocol.CmdStatus:
		return protocol.Response{Type: protocol.RespStatus, Status: &protocol.ServerStatus{
			Name:   sup.Name(),
			Path:   sup.Path(),
			Status: status,
		}}

	case protocol.CmdStart:
		if status != protocol.StatusIdle && status != protocol.StatusStopping {
			return protocol.InvalidState()
		}
		sup.Start()
		return protocol.Ok()

	case protocol.CmdStop:
		if status != protocol.StatusStarting && status != protocol.StatusRunning {
			return protocol.InvalidState()
		}
		sup.Stop()
		return protocol.Ok()

	case protocol.CmdReboot:
		sup.Reboot()
		return protocol.Ok()

	case protocol.CmdConsole:
		if status != protocol.StatusRunning {
			return protocol.InvalidState()
		}

	case protocol.CmdBackup, protocol.CmdRestore:
		if status != protocol.StatusIdle {
			return protocol.InvalidState()
		}
	}

	resp, err := sup.Send(cmd, g.responseTimeout)
	if err != nil {
		g.logger.Errorf("command %s for %s failed: %v", cmd.Type, sup.Name(), err)
		return protocol.Err()
	}
	return resp
}
