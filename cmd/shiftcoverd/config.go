package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/carebridge/shiftcover/internal/arbiter"
	"github.com/carebridge/shiftcover/internal/db"
	"github.com/carebridge/shiftcover/internal/health"
	"github.com/carebridge/shiftcover/internal/metrics"
	"github.com/carebridge/shiftcover/internal/outbound"
	"github.com/carebridge/shiftcover/internal/rediscache"
	"github.com/carebridge/shiftcover/internal/repository"
	"github.com/carebridge/shiftcover/internal/sms"
	"github.com/carebridge/shiftcover/internal/telephony"
	"github.com/carebridge/shiftcover/internal/wave"
	"github.com/carebridge/shiftcover/pkg/logger"
)

func loadConfig() error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("shiftcover")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("/etc/shiftcover")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("SHIFTCOVER")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		logger.Warn("no config file found, using defaults and environment")
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("database.driver", "mysql")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.username", "shiftcover")
	viper.SetDefault("database.password", "shiftcover")
	viper.SetDefault("database.database", "shiftcover")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.retry_attempts", 2)
	viper.SetDefault("database.retry_delay", "200ms")
	viper.SetDefault("database.charset", "utf8mb4")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")

	viper.SetDefault("telephony.listen_address", "0.0.0.0")
	viper.SetDefault("telephony.port", 8090)
	viper.SetDefault("telephony.read_timeout", "10s")
	viper.SetDefault("telephony.write_timeout", "10s")
	viper.SetDefault("telephony.idle_timeout", "120s")
	viper.SetDefault("telephony.shutdown_timeout", "30s")
	viper.SetDefault("telephony.call_timeout", "10m")
	viper.SetDefault("telephony.originate_base_url", "")

	viper.SetDefault("sms.listen_address", "0.0.0.0")
	viper.SetDefault("sms.port", 8091)
	viper.SetDefault("sms.send_base_url", "")
	viper.SetDefault("sms.reply_window", "24h")

	viper.SetDefault("queue.worker_pool_size", 5)
	viper.SetDefault("queue.poll_interval", "1s")
	viper.SetDefault("queue.key_prefix", "shiftcover:queue")

	viper.SetDefault("wave.wave2_delay", "15m")
	viper.SetDefault("wave.wave3_delay", "30m")
	viper.SetDefault("outbound.ring_wait", "30s")

	viper.SetDefault("monitoring.metrics.enabled", true)
	viper.SetDefault("monitoring.metrics.port", 9090)
	viper.SetDefault("monitoring.health.enabled", true)
	viper.SetDefault("monitoring.health.port", 8080)
	viper.SetDefault("monitoring.logging.level", "info")
	viper.SetDefault("monitoring.logging.format", "json")
	viper.SetDefault("monitoring.logging.output", "stdout")
}

// initializeServices wires every package-level singleton and
// component this binary needs, in both server and CLI mode: the
// database and cache connections, the repository, the assignment
// arbiter with the wave scheduler patched in as its release hook, the
// wave/outbound job handlers, and (when enabled) the health and
// metrics HTTP endpoints.
func initializeServices(ctx context.Context) error {
	dbConfig := db.Config{
		Driver:          viper.GetString("database.driver"),
		Host:            viper.GetString("database.host"),
		Port:            viper.GetInt("database.port"),
		Username:        viper.GetString("database.username"),
		Password:        viper.GetString("database.password"),
		Database:        viper.GetString("database.database"),
		Charset:         viper.GetString("database.charset"),
		MaxOpenConns:    viper.GetInt("database.max_open_conns"),
		MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
		RetryAttempts:   viper.GetInt("database.retry_attempts"),
		RetryDelay:      viper.GetDuration("database.retry_delay"),
	}
	if err := db.Initialize(dbConfig); err != nil {
		return err
	}
	database = db.GetDB()
	repo = repository.New(database)

	cacheConfig := rediscache.Config{
		Host:         viper.GetString("redis.host"),
		Port:         viper.GetInt("redis.port"),
		Password:     viper.GetString("redis.password"),
		DB:           viper.GetInt("redis.db"),
		PoolSize:     viper.GetInt("redis.pool_size"),
		MinIdleConns: viper.GetInt("redis.min_idle_conns"),
		MaxRetries:   viper.GetInt("redis.max_retries"),
		DialTimeout:  viper.GetDuration("redis.dial_timeout"),
		ReadTimeout:  viper.GetDuration("redis.read_timeout"),
		WriteTimeout: viper.GetDuration("redis.write_timeout"),
	}
	if err := rediscache.Initialize(cacheConfig, viper.GetString("queue.key_prefix")); err != nil {
		return err
	}

	metricsSvc = metrics.Initialize()

	telephonyCli = telephony.NewClient(telephony.Config{
		OriginateBaseURL: viper.GetString("telephony.originate_base_url"),
		CallTimeout:      viper.GetDuration("telephony.call_timeout"),
	})
	smsCli = sms.NewClient(sms.Config{
		SendBaseURL: viper.GetString("sms.send_base_url"),
		ReplyWindow: viper.GetDuration("sms.reply_window"),
	})

	arb = arbiter.New(repo)
	waveScheduler = wave.NewScheduler(wave.Config{
		Wave2Delay: viper.GetDuration("wave.wave2_delay"),
		Wave3Delay: viper.GetDuration("wave.wave3_delay"),
	}, repo, smsCli, arb)
	outboundCaller = outbound.NewCaller(outbound.Config{
		WebhookURL: viper.GetString("telephony.originate_base_url"),
		RingWait:   viper.GetDuration("outbound.ring_wait"),
	}, repo, telephonyCli, smsCli, arb)

	// The wave pipeline starts the moment an occurrence goes Open; the
	// arbiter itself never imports internal/wave to avoid a cycle with
	// wave's own dependency on Arbiter.Submit, so the hook is patched in
	// here instead.
	arb.SetReleaseHook(func(ctx context.Context, occurrenceID int64) {
		if err := waveScheduler.Start(ctx, occurrenceID); err != nil {
			logger.WithContext(ctx).WithError(err).WithField("occurrenceId", occurrenceID).Warn("failed to start SMS wave pipeline")
		}
	})

	if viper.GetBool("monitoring.health.enabled") {
		healthSvc = health.NewHealthService(viper.GetInt("monitoring.health.port"))
		healthSvc.RegisterLivenessCheck("database", health.CheckFunc(func(ctx context.Context) error {
			if !database.IsHealthy() {
				return fmt.Errorf("database not healthy")
			}
			return database.PingContext(ctx)
		}))
		healthSvc.RegisterReadinessCheck("database", health.CheckFunc(func(ctx context.Context) error {
			return database.PingContext(ctx)
		}))
		go healthSvc.Start()
	}

	if viper.GetBool("monitoring.metrics.enabled") {
		go metricsSvc.ServeHTTP(viper.GetInt("monitoring.metrics.port"))
	}

	return nil
}
