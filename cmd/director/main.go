// Command director is the Director process: it owns the shared region for
// the whole simulation run, forks the Ticket Issuer, Worker Host, Users
// Manager and (optionally) Work Broker, drives the day/clock loop, and
// reaps every child on the way out.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cuemby/postoffice/pkg/config"
	"github.com/cuemby/postoffice/pkg/director"
	"github.com/cuemby/postoffice/pkg/log"
	"github.com/cuemby/postoffice/pkg/metrics"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "director",
	Short: "Run the post office simulation Director",
	RunE:  runDirector,
}

func init() {
	rootCmd.Flags().Bool("headless", false, "disable the external control bridge")
	rootCmd.Flags().String("config", "", "path to the INI configuration file (spec section 6)")
	rootCmd.Flags().String("loglevel", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().Int("workers", 0, "override [workers] NOF_WORKERS (0 = use config)")
	rootCmd.Flags().Int("start-hour", -1, "override [simulation] START_HOUR the clock begins at (-1 = use config)")
	rootCmd.Flags().Int("start-minute", -1, "override [simulation] START_MINUTE the clock begins at (-1 = use config)")
	rootCmd.Flags().String("region", "", "path to the shared-memory region file (default: derived from user profile)")
	rootCmd.Flags().String("bin-dir", "", "directory containing the sibling role binaries (default: this binary's directory)")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address to serve /metrics on")
	rootCmd.Flags().Bool("use-broker", false, "route worker ticket acquisition through the Work Broker instead of the shared-memory rings")
	rootCmd.Flags().String("run-id", "", "correlation id tagging every log line of this run (default: auto-generated)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "director: %v\n", err)
		os.Exit(1)
	}
}

func runDirector(cmd *cobra.Command, _ []string) error {
	headless, _ := cmd.Flags().GetBool("headless")
	configPath, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("loglevel")
	workers, _ := cmd.Flags().GetInt("workers")
	startHour, _ := cmd.Flags().GetInt("start-hour")
	startMinute, _ := cmd.Flags().GetInt("start-minute")
	regionPath, _ := cmd.Flags().GetString("region")
	binDir, _ := cmd.Flags().GetString("bin-dir")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	useBroker, _ := cmd.Flags().GetBool("use-broker")
	runID, _ := cmd.Flags().GetString("run-id")
	if runID == "" {
		runID = uuid.NewString()
	}

	log.Init(log.Config{Level: log.Level(logLevel)})

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("director: %w", err)
	}
	if workers > 0 {
		cfg.Params.NWorkers = workers
	}
	if startHour >= 0 {
		cfg.Params.StartHour = startHour
	}
	if startMinute >= 0 {
		cfg.Params.StartMinute = startMinute
	}
	cfg.Params.IsHeadless = headless
	cfg.Issuer.UseBroker = useBroker
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("director: invalid configuration: %w", err)
	}

	if regionPath == "" {
		regionPath = config.DefaultRegionPath()
	}
	if binDir == "" {
		binDir, err = selfDir()
		if err != nil {
			return fmt.Errorf("director: %w", err)
		}
	}

	brokerSocketPath := cfg.Issuer.SocketPath + ".broker"
	barrierParticipants := 3 // ticket issuer + worker host + users manager
	if useBroker {
		barrierParticipants++ // work broker also joins the day-start barrier
	}

	children := []director.ChildSpec{
		{
			Name: "ticket-issuer",
			Path: filepath.Join(binDir, "ticketissuer"),
			Args: []string{
				"--region", regionPath,
				"--socket", cfg.Issuer.SocketPath,
				"--pool-size", itoa(cfg.Issuer.PoolSize),
				"--num-service-types", itoa(cfg.Params.NumServiceTypes),
				"--loglevel", logLevel,
				"--run-id", runID,
			},
		},
		{
			Name: "worker-host",
			Path: filepath.Join(binDir, "workerhost"),
			Args: workerHostArgs(regionPath, cfg, logLevel, brokerSocketPath, runID, useBroker),
		},
		{
			Name: "users-manager",
			Path: filepath.Join(binDir, "usersmanager"),
			Args: []string{
				"--region", regionPath,
				"--issuer-socket", cfg.Issuer.SocketPath,
				"--initial-users", itoa(cfg.UsersManager.InitialUsers),
				"--n-requests", itoa(cfg.UsersManager.NRequests),
				"--p-serv-min", itoa(cfg.UsersManager.PServMin),
				"--p-serv-max", itoa(cfg.UsersManager.PServMax),
				"--n-new-users", itoa(cfg.UsersManager.NNewUsers),
				"--pool-size", itoa(cfg.UsersManager.PoolSize),
				"--loglevel", logLevel,
				"--run-id", runID,
			},
		},
	}
	if useBroker {
		children = append(children, director.ChildSpec{
			Name: "work-broker",
			Path: filepath.Join(binDir, "workbroker"),
			Args: []string{
				"--region", regionPath,
				"--socket", brokerSocketPath,
				"--num-service-types", itoa(cfg.Params.NumServiceTypes),
				"--loglevel", logLevel,
				"--run-id", runID,
			},
		})
	}

	d, err := director.New(director.Config{
		RegionPath:          regionPath,
		Params:              cfg.Params,
		BarrierParticipants: barrierParticipants,
		Children:            children,
		LoadBalance:         cfg.LoadBalance,
		Headless:            headless,
		RunID:               runID,
	})
	if err != nil {
		return fmt.Errorf("director: %w", err)
	}

	stopSignals := d.InstallSignalHandlers()
	defer stopSignals()

	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	go metrics.NewCollector(d.Region(), nil).Run(metricsCtx)
	go serveMetrics(metricsAddr)

	if err := d.Run(context.Background()); err != nil {
		return fmt.Errorf("director: %w", err)
	}
	return nil
}

func workerHostArgs(regionPath string, cfg config.Config, logLevel, brokerSocketPath, runID string, useBroker bool) []string {
	args := []string{
		"--region", regionPath,
		"--start-index", "0",
		"--count", itoa(cfg.Params.NWorkers),
		"--service-min-ms", itoa(cfg.UsersManager.PServMin),
		"--service-max-ms", itoa(cfg.UsersManager.PServMax),
		"--loglevel", logLevel,
		"--run-id", runID,
	}
	if useBroker {
		args = append(args, "--broker-socket", brokerSocketPath)
	}
	return args
}

func selfDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve own executable path: %w", err)
	}
	return filepath.Dir(exe), nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithRole("director").Error().Err(err).Msg("metrics server exited")
	}
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
