// Command workerhost runs a worker-host process: Count goroutines, each
// owning one worker record, serving tickets off the shared-memory rings
// or the Work Broker. It is normally spawned by the Director, never
// invoked directly.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/postoffice/pkg/log"
	"github.com/cuemby/postoffice/pkg/shm"
	"github.com/cuemby/postoffice/pkg/worker"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "workerhost",
	Short: "Run a post office worker host",
	RunE:  run,
}

func init() {
	rootCmd.Flags().String("region", "", "path to the shared-memory region file (required)")
	rootCmd.Flags().Int("start-index", 0, "first worker-record slot this host owns")
	rootCmd.Flags().Int("count", 1, "number of worker goroutines this host runs")
	rootCmd.Flags().Int("service-min-ms", 1, "minimum simulated per-ticket service time")
	rootCmd.Flags().Int("service-max-ms", 5, "maximum simulated per-ticket service time")
	rootCmd.Flags().String("broker-socket", "", "Work Broker socket path (empty = pop directly from the shared-memory rings)")
	rootCmd.Flags().String("loglevel", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().String("run-id", "", "correlation id tagging this process's log lines")
	_ = rootCmd.MarkFlagRequired("region")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "workerhost: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	regionPath, _ := cmd.Flags().GetString("region")
	startIndex, _ := cmd.Flags().GetInt("start-index")
	count, _ := cmd.Flags().GetInt("count")
	serviceMinMs, _ := cmd.Flags().GetInt("service-min-ms")
	serviceMaxMs, _ := cmd.Flags().GetInt("service-max-ms")
	brokerSocket, _ := cmd.Flags().GetString("broker-socket")
	logLevel, _ := cmd.Flags().GetString("loglevel")
	runID, _ := cmd.Flags().GetString("run-id")

	log.Init(log.Config{Level: log.Level(logLevel)})

	region, err := shm.Attach(regionPath)
	if err != nil {
		return fmt.Errorf("workerhost: attach region: %w", err)
	}
	defer region.Detach()

	numServiceTypes := region.Params().NumServiceTypes
	host := worker.New(worker.Config{
		Region:             region,
		StartIndex:         startIndex,
		Count:              count,
		InitialServiceType: func(localIndex int) int { return localIndex % numServiceTypes },
		ServiceMinMs:       serviceMinMs,
		ServiceMaxMs:       serviceMaxMs,
		BrokerSocketPath:   brokerSocket,
		RunID:              runID,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	signal.Ignore(syscall.SIGPIPE)
	go func() {
		<-sigCh
		host.Shutdown()
		cancel()
	}()

	host.Run(ctx)
	return nil
}
