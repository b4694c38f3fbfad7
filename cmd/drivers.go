package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/davidroman0O/contestflow/driver"
	"github.com/davidroman0O/contestflow/workflow"
)

// driver selection flags for run
var (
	useDocker        bool
	remoteTarget     string
	remoteKey        string
	remoteKnownHosts string
)

func addDriverFlags(c *cobra.Command) {
	c.Flags().BoolVar(&useDocker, "docker", false, "Enable container steps through the local Docker daemon")
	c.Flags().StringVar(&remoteTarget, "remote", "", "Run shell, file and script steps on user@host[:port] over SSH")
	c.Flags().StringVar(&remoteKey, "remote-key", "", "Private key for --remote")
	c.Flags().StringVar(&remoteKnownHosts, "remote-known-hosts", "", "known_hosts file used to verify --remote")
}

// openDrivers assembles the driver set. The returned func releases every
// connection that was opened.
func openDrivers(ctx context.Context, logger workflow.Logger) (driver.Drivers, func(), error) {
	drivers := driver.NewLocal(logger)
	var closers []func() error
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("Failed to close driver: %v", err)
			}
		}
	}

	if useDocker {
		d, err := driver.NewDocker(logger)
		if err != nil {
			return driver.Drivers{}, release, err
		}
		closers = append(closers, d.Close)
		if err := d.Ping(ctx); err != nil {
			release()
			return driver.Drivers{}, func() {}, err
		}
		drivers.Container = d
	}

	if remoteTarget != "" {
		cfg, err := driver.ParseTarget(remoteTarget)
		if err != nil {
			release()
			return driver.Drivers{}, func() {}, err
		}
		cfg.KeyPath = remoteKey
		cfg.KnownHostsPath = remoteKnownHosts
		cfg.Password = os.Getenv("CONTESTFLOW_SSH_PASSWORD")

		r, err := driver.DialRemote(cfg, logger)
		if err != nil {
			release()
			return driver.Drivers{}, func() {}, err
		}
		closers = append(closers, r.Close)
		drivers.Shell = r
		drivers.File = r
		drivers.Script = driver.NewScriptRunner(r, r, "/tmp")
		logger.Info("Connected to %s@%s:%d", cfg.User, cfg.Host, cfg.Port)
	}
	return drivers, release, nil
}
