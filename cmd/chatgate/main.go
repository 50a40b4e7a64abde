// Chatgate Core - authentication and session service
//
// This is the main entry point for the Chatgate Core application. It owns
// user accounts, issues access and refresh tokens, and exposes them over
// an HTTP API that the chat backend authorises requests against.
//
// Usage:
//
//	chatgate --config configs/config.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	_ "github.com/nerrad567/chatgate-core/migrations"

	"github.com/nerrad567/chatgate-core/internal/api"
	"github.com/nerrad567/chatgate-core/internal/audit"
	"github.com/nerrad567/chatgate-core/internal/auth"
	"github.com/nerrad567/chatgate-core/internal/infrastructure/config"
	"github.com/nerrad567/chatgate-core/internal/infrastructure/database"
	"github.com/nerrad567/chatgate-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/chatgate-core/internal/infrastructure/logging"
	"github.com/nerrad567/chatgate-core/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// defaultConfigPath is used when neither --config nor CHATGATE_CONFIG is set.
	defaultConfigPath = "configs/config.yaml"

	// envConfigPath names the config file environment variable.
	envConfigPath = config.EnvPrefix + "CONFIG"
)

func main() {
	flags := pflag.NewFlagSet("chatgate", pflag.ContinueOnError)
	configFlag := flags.StringP("config", "c", "", "path to the YAML configuration file (env "+envConfigPath+")")
	showVersion := flags.BoolP("version", "v", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if *showVersion {
		fmt.Printf("chatgate %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, getConfigPath(*configFlag), os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It blocks until ctx is cancelled. The generated admin password, if any,
// is written once to console and never logged.
func run(ctx context.Context, configPath string, console io.Writer) error { //nolint:gocognit,gocyclo // startup wiring is linear
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Chatgate Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Auth core
	users := auth.NewUserStore(db.DB, nil)
	ledger := auth.NewLedger(db.DB, nil)

	codec, err := auth.NewCodec(auth.CodecConfig{
		Secret:    []byte(cfg.Auth.Secret),
		Algorithm: cfg.Auth.Algorithm,
		Leeway:    cfg.ClockSkew(),
	})
	if err != nil {
		return fmt.Errorf("creating token codec: %w", err)
	}

	passwords, err := auth.NewPasswordVerifier(auth.PasswordParams{
		Time:          cfg.Auth.Password.Time,
		MemoryKiB:     cfg.Auth.Password.MemoryKiB,
		Threads:       cfg.Auth.Password.Threads,
		MaxConcurrent: cfg.Auth.Password.MaxConcurrent,
	})
	if err != nil {
		return fmt.Errorf("creating password verifier: %w", err)
	}

	adminPassword, err := auth.SeedDefaults(ctx, users, passwords, seedConfig(cfg), log.Component("seed").Logger)
	if err != nil {
		return fmt.Errorf("seeding defaults: %w", err)
	}
	if adminPassword != "" {
		fmt.Fprintf(console, "\n  Initial admin account: %s\n  Password: %s\n  Change it after the first login. It will not be shown again.\n\n",
			cfg.Auth.Seed.AdminEmail, adminPassword)
	}

	// Background workers are cancelled and drained before their
	// dependencies close.
	var workers sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	stopWorkers := func() {
		cancelWorkers()
		workers.Wait()
	}

	metrics := api.NewMetrics()
	auditRepo := audit.NewSQLiteRepository(db.DB, nil)
	sinks := auth.MultiSink{metrics, audit.NewSink(auditRepo, log.Component("audit").Logger)}
	checks := map[string]api.HealthChecker{}

	// MQTT event bus (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			stopWorkers()
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT connected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		publisher := mqtt.NewEventPublisher(mqttClient, mqttClient.Topics(), mqttClient.QoS(), 0, log)
		workers.Go(func() { publisher.Run(workerCtx) })
		sinks = append(sinks, publisher)
		checks["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB security telemetry (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			stopWorkers()
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		sinks = append(sinks, influxClient)
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// Runs before the client and database defers above.
	defer stopWorkers()

	svc, err := auth.NewService(auth.ServiceDeps{
		Users:     users,
		Ledger:    ledger,
		Tx:        auth.NewTransactor(db.DB),
		Codec:     codec,
		Passwords: passwords,
		Events:    sinks,
		Logger:    log.Component("auth").Logger,
		Config: auth.ServiceConfig{
			AccessTTL:    cfg.AccessTokenTTL(),
			RefreshTTL:   cfg.RefreshTokenTTL(),
			DefaultGroup: cfg.Auth.DefaultGroup,
		},
	})
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}

	workers.Go(func() {
		auth.RunRetention(workerCtx, auth.RetentionConfig{
			Ledger:   ledger,
			Extra:    map[string]auth.Purger{"auth_audit": auditRepo},
			Interval: cfg.CleanupInterval(),
			Window:   cfg.Retention(),
			Logger:   log.Component("retention").Logger,
		})
	})

	server, err := api.New(api.Deps{
		Config:  cfg.API,
		Logger:  log.Component("api"),
		Auth:    svc,
		Audit:   auditRepo,
		DB:      db,
		Metrics: metrics,
		Version: version,
		Checks:  checks,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("Chatgate Core started",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"tls", cfg.API.TLS.Enabled,
	)

	<-ctx.Done()
	log.Info("shutdown signal received, stopping services")
	return nil
}

// getConfigPath resolves the config file: the --config flag, then
// CHATGATE_CONFIG, then the default path. A missing default file means
// "defaults and environment only".
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(envConfigPath); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err != nil {
		return ""
	}
	return defaultConfigPath
}

// seedConfig converts the seed section, making sure the registration
// default group exists even when it is not listed.
func seedConfig(cfg *config.Config) auth.SeedConfig {
	seed := auth.SeedConfig{
		AdminEmail:  cfg.Auth.Seed.AdminEmail,
		AdminGroups: cfg.Auth.Seed.AdminGroups,
	}
	for _, s := range cfg.Auth.Seed.Scopes {
		seed.Scopes = append(seed.Scopes, auth.SeedScope{Name: s.Name, Description: s.Description})
	}

	hasDefault := cfg.Auth.DefaultGroup == ""
	for _, g := range cfg.Auth.Seed.Groups {
		seed.Groups = append(seed.Groups, auth.SeedGroup{Name: g.Name, Scopes: g.Scopes})
		if g.Name == cfg.Auth.DefaultGroup {
			hasDefault = true
		}
	}
	if !hasDefault {
		seed.Groups = append(seed.Groups, auth.SeedGroup{Name: cfg.Auth.DefaultGroup})
	}
	return seed
}
