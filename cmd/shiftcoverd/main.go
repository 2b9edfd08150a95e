// Command shiftcoverd runs the after-hours shift-coverage coordinator:
// the telephony and SMS webhook servers, the delayed-job worker pool
// behind SMS waves and outbound dialling, and (with no flags) an
// admin CLI over the same database for provider/employee/occurrence
// management.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/carebridge/shiftcover/internal/arbiter"
	"github.com/carebridge/shiftcover/internal/callflow"
	"github.com/carebridge/shiftcover/internal/db"
	"github.com/carebridge/shiftcover/internal/health"
	"github.com/carebridge/shiftcover/internal/metrics"
	"github.com/carebridge/shiftcover/internal/outbound"
	"github.com/carebridge/shiftcover/internal/queue"
	"github.com/carebridge/shiftcover/internal/repository"
	"github.com/carebridge/shiftcover/internal/sms"
	"github.com/carebridge/shiftcover/internal/telephony"
	"github.com/carebridge/shiftcover/internal/wave"
	"github.com/carebridge/shiftcover/pkg/logger"
)

var (
	configFile string
	initDB     bool
	flushDB    bool
	serveMode  bool
	verbose    bool

	// Global services - shared with config.go and commands.go.
	database       *db.DB
	repo           *repository.Repository
	arb            *arbiter.Arbiter
	telephonyCli   *telephony.Client
	smsCli         *sms.Client
	waveScheduler  *wave.Scheduler
	outboundCaller *outbound.Caller
	healthSvc      *health.HealthService
	metricsSvc     *metrics.PrometheusMetrics
)

func main() {
	flag.StringVar(&configFile, "config", "", "Configuration file path")
	flag.BoolVar(&initDB, "init-db", false, "Initialize database schema (WARNING: drops existing data if --flush is used)")
	flag.BoolVar(&flushDB, "flush", false, "Flush existing database before initialization")
	flag.BoolVar(&serveMode, "serve", false, "Run the telephony/SMS webhook servers and job worker pool")
	flag.BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	flag.Parse()

	if flag.NFlag() > 0 {
		runServerMode()
		return
	}

	runCLI()
}

func runServerMode() {
	ctx := context.Background()

	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logConfig := logger.Config{
		Level:  viper.GetString("monitoring.logging.level"),
		Format: viper.GetString("monitoring.logging.format"),
		Output: viper.GetString("monitoring.logging.output"),
		File: logger.FileConfig{
			Enabled:    viper.GetBool("monitoring.logging.file.enabled"),
			Path:       viper.GetString("monitoring.logging.file.path"),
			MaxSize:    viper.GetInt("monitoring.logging.file.max_size"),
			MaxBackups: viper.GetInt("monitoring.logging.file.max_backups"),
			MaxAge:     viper.GetInt("monitoring.logging.file.max_age"),
			Compress:   viper.GetBool("monitoring.logging.file.compress"),
		},
	}
	if verbose {
		logConfig.Level = "debug"
	}
	if err := logger.Init(logConfig); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := initializeServices(ctx); err != nil {
		logger.WithError(err).Fatal("failed to initialize services")
	}

	if initDB {
		logger.Info("initializing database schema")

		if flushDB {
			logger.Warn("FLUSH mode enabled - all existing data will be deleted")
			fmt.Print("\nThis will DELETE ALL existing data. Continue? [y/N]: ")
			var response string
			fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				logger.Info("database initialization cancelled")
				return
			}
		}

		if err := db.InitializeDatabase(ctx, database.DB, flushDB); err != nil {
			logger.WithError(err).Fatal("failed to initialize database schema")
		}
		if err := db.InsertSampleData(ctx, database.DB); err != nil {
			logger.WithError(err).Warn("failed to add sample data")
		}

		logger.Info("database initialization completed")
		return
	}

	if serveMode {
		runServers(ctx)
		return
	}

	fmt.Println("Usage:")
	fmt.Println("  shiftcoverd [flags]")
	fmt.Println("  shiftcoverd -serve              # Run webhook servers and job workers")
	fmt.Println("  shiftcoverd -init-db            # Initialize database schema")
	fmt.Println("  shiftcoverd -init-db -flush     # Flush and reinitialize database")
	fmt.Println("")
	fmt.Println("Run 'shiftcoverd help' for admin CLI commands")
}

func runServers(ctx context.Context) {
	logger.Info("starting shift-coverage coordinator servers")

	telephonyServer := telephony.NewServer(telephony.ServerConfig{
		ListenAddress:   viper.GetString("telephony.listen_address"),
		Port:            viper.GetInt("telephony.port"),
		ReadTimeout:     viper.GetDuration("telephony.read_timeout"),
		WriteTimeout:    viper.GetDuration("telephony.write_timeout"),
		IdleTimeout:     viper.GetDuration("telephony.idle_timeout"),
		ShutdownTimeout: viper.GetDuration("telephony.shutdown_timeout"),
	}, telephonyCli, callflow.NewProcessor(repo, telephonyCli, arb).Dispatch)

	replyResolver := wave.NewReplyResolver(repo, arb)
	smsServer := sms.NewServer(sms.Config{
		ListenAddress: viper.GetString("sms.listen_address"),
		Port:          viper.GetInt("sms.port"),
	}, replyResolver.HandleReply)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	go queue.WorkerLoop(workerCtx, viper.GetInt("queue.worker_pool_size"), viper.GetDuration("queue.poll_interval"), combinedJobHandler)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := telephonyServer.Start(); err != nil {
			logger.WithError(err).Fatal("telephony server failed")
		}
	}()
	go func() {
		if err := smsServer.Start(); err != nil {
			logger.WithError(err).Fatal("SMS server failed")
		}
	}()

	<-sigChan
	logger.Info("shutting down")

	cancelWorkers()
	if err := telephonyServer.Stop(); err != nil {
		logger.WithError(err).Error("error stopping telephony server")
	}
	if err := smsServer.Stop(); err != nil {
		logger.WithError(err).Error("error stopping SMS server")
	}
	if healthSvc != nil {
		healthSvc.Stop()
	}

	logger.Info("shutdown complete")
}

// combinedJobHandler tries the wave handler and, if the job isn't a
// wave job, the outbound handler. Both share the same sorted set
// since there's only one Handler slot in queue.WorkerLoop.
func combinedJobHandler(ctx context.Context, job queue.Job) error {
	if err := waveScheduler.HandleJob(ctx, job); err != nil {
		return err
	}
	return outboundCaller.HandleJob(ctx, job)
}

func runCLI() {
	rootCmd := &cobra.Command{
		Use:   "shiftcoverd",
		Short: "After-hours shift-coverage coordinator",
		Long:  "Voice and SMS coordinator for shift reschedules and releases outside business hours",
	}

	rootCmd.AddCommand(
		createProviderCommands(),
		createEmployeeCommands(),
		createOccurrenceCommands(),
		createQueueCommands(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
