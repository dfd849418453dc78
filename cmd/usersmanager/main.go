// Command usersmanager runs the Users Manager: the slot pool of simulated
// user agents, reconciled toward a target population and adjusted by
// USR1/USR2 batch signals. It is normally spawned by the Director, never
// invoked directly.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cuemby/postoffice/pkg/log"
	"github.com/cuemby/postoffice/pkg/shm"
	"github.com/cuemby/postoffice/pkg/types"
	"github.com/cuemby/postoffice/pkg/usersmanager"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "usersmanager",
	Short: "Run the post office Users Manager",
	RunE:  run,
}

func init() {
	rootCmd.Flags().String("region", "", "path to the shared-memory region file (required)")
	rootCmd.Flags().String("issuer-socket", "", "Ticket Issuer socket path (required)")
	rootCmd.Flags().Int("initial-users", 10, "starting target population")
	rootCmd.Flags().Int("n-requests", 1, "ticket requests per user before it exits (0 = 1)")
	rootCmd.Flags().Int("p-serv-min", 1, "minimum simulated service time")
	rootCmd.Flags().Int("p-serv-max", 5, "maximum simulated service time")
	rootCmd.Flags().Int("n-new-users", 5, "USR1/USR2 batch size")
	rootCmd.Flags().Int("pool-size", 64, "concurrent agent-start pool size")
	rootCmd.Flags().String("loglevel", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().String("run-id", "", "correlation id tagging this process's log lines")
	_ = rootCmd.MarkFlagRequired("region")
	_ = rootCmd.MarkFlagRequired("issuer-socket")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "usersmanager: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	regionPath, _ := cmd.Flags().GetString("region")
	issuerSocket, _ := cmd.Flags().GetString("issuer-socket")
	initialUsers, _ := cmd.Flags().GetInt("initial-users")
	nRequests, _ := cmd.Flags().GetInt("n-requests")
	pServMin, _ := cmd.Flags().GetInt("p-serv-min")
	pServMax, _ := cmd.Flags().GetInt("p-serv-max")
	nNewUsers, _ := cmd.Flags().GetInt("n-new-users")
	poolSize, _ := cmd.Flags().GetInt("pool-size")
	logLevel, _ := cmd.Flags().GetString("loglevel")
	runID, _ := cmd.Flags().GetString("run-id")

	log.Init(log.Config{Level: log.Level(logLevel)})

	region, err := shm.Attach(regionPath)
	if err != nil {
		return fmt.Errorf("usersmanager: attach region: %w", err)
	}
	defer region.Detach()

	cfg := types.UsersManagerConfig{
		InitialUsers: initialUsers,
		NRequests:    nRequests,
		PServMin:     pServMin,
		PServMax:     pServMax,
		NNewUsers:    nNewUsers,
		PoolSize:     poolSize,
		RunID:        runID,
	}

	mgr := usersmanager.New(cfg, region, issuerSocket)
	stop := mgr.InstallSignalHandlers()
	defer stop()

	if err := mgr.Run(context.Background()); err != nil {
		return fmt.Errorf("usersmanager: %w", err)
	}
	return nil
}
