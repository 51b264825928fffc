package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/minifc/internal/api"
	"github.com/nerrad567/minifc/internal/infrastructure/config"
	"github.com/nerrad567/minifc/internal/infrastructure/database"
	"github.com/nerrad567/minifc/internal/infrastructure/influxdb"
	"github.com/nerrad567/minifc/internal/infrastructure/logging"
	"github.com/nerrad567/minifc/internal/infrastructure/mqtt"
	"github.com/nerrad567/minifc/internal/journal"
	"github.com/nerrad567/minifc/internal/metrics"
)

// journalRetention is how long journal events are kept. Older events are
// pruned once at start-up.
const journalRetention = 7 * 24 * time.Hour

// infra holds the connections shared by the device and brain loops.
// journal and influx are nil when disabled.
type infra struct {
	cfg     *config.Config
	log     *logging.Logger
	mqtt    *mqtt.Client
	db      *database.DB
	journal journal.Repository
	influx  *influxdb.Client
	metrics *metrics.Metrics
	hub     *api.Hub
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Command line settings
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts runOptions) error {
	log := logging.Default()
	log.Info("starting minifc", "version", version, "commit", commit, "build_date", date)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version).ForDevice(cfg.Device.ID, cfg.Device.Kind)
	log.Info("configuration loaded",
		"path", getConfigPath(opts.configPath),
		"level", cfg.Logging.Level,
	)

	in := &infra{
		cfg:     cfg,
		log:     log,
		metrics: metrics.New(cfg.Device.ID),
		hub:     api.NewHub(log),
	}

	// The brain always needs the database for its shadow store.
	if cfg.Database.Enabled || cfg.Device.Kind == config.KindBrain {
		db, dbErr := openDatabase(ctx, cfg, log)
		if dbErr != nil {
			return dbErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		in.db = db
	}
	if cfg.Database.Enabled {
		repo := journal.NewSQLiteRepository(in.db.DB)
		if n, pruneErr := repo.Prune(ctx, journalRetention); pruneErr != nil {
			log.Warn("journal prune failed", "error", pruneErr)
		} else if n > 0 {
			log.Info("journal pruned", "removed", n)
		}
		in.journal = repo
	}

	in.mqtt, err = mqtt.Connect(cfg.MQTT, mqtt.Options{
		Logger: log,
		OnConnect: func() {
			log.Info("MQTT session established")
		},
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := in.mqtt.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	if cfg.InfluxDB.Enabled {
		in.influx, err = influxdb.Connect(ctx, cfg.InfluxDB, influxdb.Options{
			OnError: func(err error) {
				log.Error("InfluxDB write error", "error", err)
			},
		})
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			if closeErr := in.influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
			st := in.influx.Stats()
			log.Info("InfluxDB sink closed", "queued", st.Queued, "dropped", st.Dropped, "failed", st.Failed)
		}()
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, in.db, in.mqtt, in.influx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	switch cfg.Device.Kind {
	case config.KindBrain:
		err = runBrain(ctx, in)
	default:
		err = runDevice(ctx, in)
	}
	if err != nil {
		return err
	}

	log.Info("minifc stopped")
	return nil
}

// openDatabase opens the SQLite file and applies migrations.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(database.FromAppConfig(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path())
	return db, nil
}

// startAPI starts the status server when enabled. A bind failure is
// logged; the control loops do not depend on the server.
func startAPI(ctx context.Context, in *infra, deps api.Deps) (stop func()) {
	if !in.cfg.API.Enabled {
		return func() {}
	}
	deps.Config = in.cfg.API
	deps.Logger = in.log
	deps.DeviceID = in.cfg.Device.ID
	deps.Kind = in.cfg.Device.Kind
	deps.Version = version
	deps.MQTT = in.mqtt
	deps.Journal = in.journal
	deps.Metrics = in.metrics
	deps.Hub = in.hub

	srv, err := api.New(deps)
	if err != nil {
		in.log.Error("creating API server failed", "error", err)
		return func() {}
	}
	if err := srv.Start(ctx); err != nil {
		in.log.Error("API server not started", "error", err)
		return func() {}
	}
	return func() {
		if err := srv.Close(); err != nil {
			in.log.Error("error closing API server", "error", err)
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check (may be nil if disabled)
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.Ping(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// migrate applies pending migrations and writes the applied list to w.
func migrate(ctx context.Context, cfg *config.Config, w io.Writer) error {
	db, err := openDatabase(ctx, cfg, logging.Discard())
	if err != nil {
		return err
	}
	defer db.Close()

	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	for _, m := range applied {
		fmt.Fprintf(w, "applied  %s  %s\n", m.Version, m.AppliedAt.UTC().Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(w, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}
