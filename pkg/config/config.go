// Package config loads the post office INI configuration file (spec §6)
// and applies CLI-flag precedence on top of it, the way cmd/director's
// cobra flags override [workers] NOF_WORKERS when both are present.
package config

import (
	"fmt"

	"github.com/cuemby/postoffice/pkg/types"
	"gopkg.in/ini.v1"
)

// Config is the fully resolved configuration for a simulation run.
type Config struct {
	Params       types.Params
	LoadBalance  types.LoadBalanceConfig
	UsersManager types.UsersManagerConfig
	Issuer       types.IssuerConfig
}

// Default returns the configuration that applies when no INI file and no
// overriding flags are given.
func Default() Config {
	return Config{
		Params: types.Params{
			NWorkers:         4,
			NumServiceTypes:  2,
			SimDurationDays:  1,
			TickNanos:        10_000_000, // 10ms wall time per simulated minute
			ExplodeThreshold: 200,
			IsHeadless:       false,
			StartHour:        0,
			StartMinute:      0,
		},
		LoadBalance: types.LoadBalanceConfig{
			Enabled:                   true,
			CheckIntervalMinutes:      30,
			ImbalanceThresholdPercent: 200,
			MinQueueDepth:             3,
		},
		UsersManager: types.UsersManagerConfig{
			InitialUsers: 10,
			NRequests:    1,
			PServMin:     1,
			PServMax:     5,
			NNewUsers:    5,
			PoolSize:     64,
		},
		Issuer: types.IssuerConfig{
			SocketPath: DefaultSocketPath(),
			PoolSize:   16,
			UseBroker:  false,
		},
	}
}

// Load reads an INI file at path (all sections optional) on top of
// Default(). An empty path returns Default() unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load config %q: %w", path, err)
	}

	if sec := f.Section("simulation"); sec != nil {
		cfg.Params.SimDurationDays = sec.Key("SIM_DURATION").MustInt(cfg.Params.SimDurationDays)
		cfg.Params.TickNanos = sec.Key("N_NANO_SECS").MustInt64(cfg.Params.TickNanos)
		cfg.Params.ExplodeThreshold = sec.Key("EXPLODE_THRESHOLD").MustInt(cfg.Params.ExplodeThreshold)
		cfg.Params.StartHour = sec.Key("START_HOUR").MustInt(cfg.Params.StartHour)
		cfg.Params.StartMinute = sec.Key("START_MINUTE").MustInt(cfg.Params.StartMinute)
	}

	if sec := f.Section("workers"); sec != nil {
		cfg.Params.NWorkers = sec.Key("NOF_WORKERS").MustInt(cfg.Params.NWorkers)
	}

	if sec := f.Section("users"); sec != nil {
		cfg.UsersManager.InitialUsers = sec.Key("NOF_USERS").MustInt(cfg.UsersManager.InitialUsers)
		cfg.UsersManager.NRequests = sec.Key("N_REQUESTS").MustInt(cfg.UsersManager.NRequests)
		cfg.UsersManager.PServMin = sec.Key("P_SERV_MIN").MustInt(cfg.UsersManager.PServMin)
		cfg.UsersManager.PServMax = sec.Key("P_SERV_MAX").MustInt(cfg.UsersManager.PServMax)
	}

	if sec := f.Section("users_manager"); sec != nil {
		cfg.UsersManager.NNewUsers = sec.Key("N_NEW_USERS").MustInt(cfg.UsersManager.NNewUsers)
		cfg.UsersManager.PoolSize = sec.Key("POOL_SIZE").MustInt(cfg.UsersManager.PoolSize)
	}

	if sec := f.Section("ticket_issuer"); sec != nil {
		cfg.Issuer.PoolSize = sec.Key("POOL_SIZE").MustInt(cfg.Issuer.PoolSize)
	}

	if sec := f.Section("load_balance"); sec != nil {
		cfg.LoadBalance.Enabled = sec.Key("ENABLED").MustBool(cfg.LoadBalance.Enabled)
		cfg.LoadBalance.CheckIntervalMinutes = sec.Key("CHECK_INTERVAL").MustInt(cfg.LoadBalance.CheckIntervalMinutes)
		cfg.LoadBalance.ImbalanceThresholdPercent = sec.Key("IMBALANCE_THRESHOLD").MustInt(cfg.LoadBalance.ImbalanceThresholdPercent)
		cfg.LoadBalance.MinQueueDepth = sec.Key("MIN_QUEUE_DEPTH").MustInt(cfg.LoadBalance.MinQueueDepth)
	}

	return cfg, nil
}

// Validate checks the resolved configuration against spec §3/§8 invariants.
func (c Config) Validate() error {
	if err := c.Params.Validate(); err != nil {
		return err
	}
	if c.UsersManager.NRequests < 0 {
		return fmt.Errorf("n_requests must be >= 0, got %d", c.UsersManager.NRequests)
	}
	if c.UsersManager.PServMin < 0 || c.UsersManager.PServMax < c.UsersManager.PServMin {
		return fmt.Errorf("invalid service time bounds [%d,%d]", c.UsersManager.PServMin, c.UsersManager.PServMax)
	}
	if c.Issuer.PoolSize < 1 {
		return fmt.Errorf("ticket_issuer pool size must be >= 1, got %d", c.Issuer.PoolSize)
	}
	return nil
}
