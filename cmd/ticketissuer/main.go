// Command ticketissuer runs the Ticket Issuer: the local-socket front end
// that hands out ticket numbers and pushes them onto the shared-memory
// rings. It is normally spawned by the Director, never invoked directly.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/postoffice/pkg/issuer"
	"github.com/cuemby/postoffice/pkg/log"
	"github.com/cuemby/postoffice/pkg/shm"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ticketissuer",
	Short: "Run the post office Ticket Issuer",
	RunE:  run,
}

func init() {
	rootCmd.Flags().String("region", "", "path to the shared-memory region file (required)")
	rootCmd.Flags().String("socket", "", "path to listen on (required)")
	rootCmd.Flags().Int("pool-size", 16, "handler pool size")
	rootCmd.Flags().Int("num-service-types", 2, "number of configured service types")
	rootCmd.Flags().String("loglevel", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().String("run-id", "", "correlation id tagging this process's log lines")
	_ = rootCmd.MarkFlagRequired("region")
	_ = rootCmd.MarkFlagRequired("socket")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ticketissuer: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	regionPath, _ := cmd.Flags().GetString("region")
	socketPath, _ := cmd.Flags().GetString("socket")
	poolSize, _ := cmd.Flags().GetInt("pool-size")
	numServiceTypes, _ := cmd.Flags().GetInt("num-service-types")
	logLevel, _ := cmd.Flags().GetString("loglevel")
	runID, _ := cmd.Flags().GetString("run-id")

	log.Init(log.Config{Level: log.Level(logLevel)})

	region, err := shm.Attach(regionPath)
	if err != nil {
		return fmt.Errorf("ticketissuer: attach region: %w", err)
	}
	defer region.Detach()

	server := issuer.NewServer(issuer.Config{
		SocketPath:      socketPath,
		PoolSize:        poolSize,
		NumServiceTypes: numServiceTypes,
		RunID:           runID,
	}, region)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	signal.Ignore(syscall.SIGPIPE)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("ticketissuer: %w", err)
	}
	return nil
}
