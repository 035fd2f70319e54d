package internal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/wardenhost/warden/internal/auth"
	"github.com/wardenhost/warden/internal/core"
	"github.com/wardenhost/warden/internal/core/data"
	"github.com/wardenhost/warden/internal/gateway"
	"github.com/wardenhost/warden/internal/mods"
	"github.com/wardenhost/warden/internal/notify"
	"github.com/wardenhost/warden/internal/protocol"
	"github.com/wardenhost/warden/internal/supervisor"
)

// Controller is the main entrypoint for warden. It loads the managed-server
// inventory from the database, launches one supervisor worker per server, and
// runs the gateway until the context is cancelled.
type Controller struct {
	Config *core.Config
	Logger *logrus.Logger

	db       *gorm.DB
	registry *notify.Registry

	// supervisors is account -> server name -> supervisor. Built once at
	// startup and read-only afterwards.
	supervisors map[string]map[string]*supervisor.Supervisor

	wg sync.WaitGroup
}

// Start runs the daemon until ctx is cancelled, then waits for every worker
// to stop its process and exit.
func (c *Controller) Start(ctx context.Context) error {
	db, err := data.Initialize(c.Config.Database.Filename, c.Config.Database.LoggingEnabled)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.db = db
	defer data.Shutdown(c.db)

	c.registry = notify.NewRegistry()
	if err := c.loadSupervisors(); err != nil {
		return err
	}

	for _, byName := range c.supervisors {
		for _, sup := range byName {
			c.wg.Add(1)
			go func(sup *supervisor.Supervisor) {
				defer c.wg.Done()
				sup.Run(ctx)
			}(sup)
		}
	}

	hostKey, err := protocol.LoadPrivateKey(c.Config.Gateway.PrivateKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load host key: %w", err)
	}

	gw := gateway.New(c.Config.GatewayAddress(), hostKey, c, c.Logger, c.Config.Gateway.ResponseTimeout)
	err = gw.ListenAndServe(ctx)

	c.wg.Wait()
	return err
}

// loadSupervisors builds the supervisor table from the persisted account and
// server records. Servers whose record says they were running are started
// again immediately.
func (c *Controller) loadSupervisors() error {
	accounts, err := data.FindAccounts(c.db)
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	cfg := supervisor.Config{
		PollInterval:       c.Config.Supervisor.PollInterval,
		SpawnRetryInterval: c.Config.Supervisor.SpawnRetryInterval,
		StopInterval:       c.Config.Supervisor.StopInterval,
		StopTimeout:        c.Config.Supervisor.StopTimeout,
	}

	c.supervisors = make(map[string]map[string]*supervisor.Supervisor)
	for _, account := range accounts {
		servers, err := data.FindServers(c.db, account.ID)
		if err != nil {
			return fmt.Errorf("failed to load servers of %s: %w", account.Username, err)
		}

		byName := make(map[string]*supervisor.Supervisor, len(servers))
		for _, record := range servers {
			logger := c.Logger.WithFields(logrus.Fields{
				"account": account.Username,
				"server":  record.Name,
			})

			byName[record.Name] = supervisor.New(supervisor.Options{
				Account: account.Username,
				Name:    record.Name,
				Path:    record.Path,
				Running: record.Running,
				Config:  cfg,
				Logger:  logger,
				Outbox:  c.registry.Outbox(account.Username),
				Store: &serverStore{
					db:         c.db,
					accountID:  account.ID,
					recordID:   record.ID,
					serverName: record.Name,
				},
				Packager: c.packagerFor(account.Username, record.Name),
			})

			if record.Running {
				logger.Info("resuming server that was running before shutdown")
			}
		}
		c.supervisors[account.Username] = byName
	}
	return nil
}

// packagerFor returns the asset-service packager for one server, or nil when
// no asset endpoint is configured.
func (c *Controller) packagerFor(account, server string) supervisor.Packager {
	if c.Config.Assets.URL == "" {
		return nil
	}
	return &mods.Packager{
		Account:   account,
		Server:    server,
		AssetsURL: c.Config.Assets.URL,
		Token:     c.Config.Assets.Token,
	}
}

// Authenticate implements gateway.Directory.
func (c *Controller) Authenticate(username string, digest []byte) error {
	_, err := auth.VerifyAccount(c.db, username, digest)
	return err
}

// Servers implements gateway.Directory; the result is ordered by name.
func (c *Controller) Servers(account string) []*supervisor.Supervisor {
	byName := c.supervisors[account]
	sups := make([]*supervisor.Supervisor, 0, len(byName))
	for _, sup := range byName {
		sups = append(sups, sup)
	}
	sort.Slice(sups, func(i, j int) bool { return sups[i].Name() < sups[j].Name() })
	return sups
}

// Server implements gateway.Directory.
func (c *Controller) Server(account, name string) (*supervisor.Supervisor, bool) {
	sup, ok := c.supervisors[account][name]
	return sup, ok
}

// Notifications implements gateway.Directory.
func (c *Controller) Notifications(account string) []protocol.Notification {
	return c.registry.Outbox(account).Drain()
}

// serverStore adapts the gorm data layer to one supervisor's persistence
// needs.
type serverStore struct {
	db         *gorm.DB
	accountID  uint64
	recordID   uint64
	serverName string
}

func (s *serverStore) SetRunning(running bool) error {
	return data.SetServerRunning(s.db, s.recordID, running)
}

func (s *serverStore) RecordModInstalled(modID, filename string) error {
	return data.UpsertModRecord(s.db, &data.ModRecord{
		AccountID:   s.accountID,
		ServerName:  s.serverName,
		ModID:       modID,
		Filename:    filename,
		InstalledAt: time.Now(),
	})
}

func (s *serverStore) RecordModRemoved(modID string) error {
	return data.DeleteModRecord(s.db, s.accountID, s.serverName, modID)
}
