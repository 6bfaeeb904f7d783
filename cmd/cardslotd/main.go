// cardslotd tracks the SIM and eUICC cards in a device's physical slots.
//
// It talks to the modem service over MQTT, reconciles card-status and
// slot-status reports into a stable per-slot view with persistent public
// card IDs, and republishes that view as retained MQTT state. Slot changes
// are also recorded to SQLite history and, optionally, InfluxDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/cardslot-core/migrations"

	"github.com/nerrad567/cardslot-core/internal/infrastructure/config"
	"github.com/nerrad567/cardslot-core/internal/infrastructure/database"
	"github.com/nerrad567/cardslot-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/cardslot-core/internal/infrastructure/logging"
	"github.com/nerrad567/cardslot-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/cardslot-core/internal/modem"
	"github.com/nerrad567/cardslot-core/internal/uicc"
)

// Set at build time: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const historyPruneInterval = time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the daemon and blocks until ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting cardslotd", "version", version, "commit", commit, "build_date", date)

	configPath := config.Path()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"slots", cfg.Slots.Count,
		"phones", cfg.Slots.PhoneCount,
		"non_removable_euicc", cfg.Slots.NonRemovableEuicc,
	)

	db, err := database.Open(ctx, database.Config{
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
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	identities := uicc.NewIdentityTable(uicc.NewSQLiteIdentityStore(db.DB))
	if err := identities.Load(ctx); err != nil {
		return fmt.Errorf("loading card identities: %w", err)
	}
	log.Info("card identities loaded", "known", identities.Len())

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT connection lost", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	bridge, err := modem.NewBridge(modem.BridgeOptions{
		MQTTClient: mqttClient,
		Logger:     log.Component("modem"),
	})
	if err != nil {
		return fmt.Errorf("creating modem bridge: %w", err)
	}

	engine, err := uicc.NewEngine(uicc.EngineOptions{
		SlotCount:          cfg.Slots.Count,
		PhoneCount:         cfg.Slots.PhoneCount,
		NonRemovableEuiccs: cfg.Slots.NonRemovableEuicc,
		Identities:         identities,
		Radio:              bridge,
		Logger:             log.Component("uicc"),
	})
	if err != nil {
		return fmt.Errorf("creating uicc engine: %w", err)
	}
	defer engine.Close()

	engine.Subscribe(bridge.PublishChange)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		go bridge.Resync()
	})

	if cfg.History.Enabled {
		repo := uicc.NewSQLiteSlotHistoryRepository(db)
		recorder := uicc.NewHistoryRecorder(repo, log.Component("history"))
		engine.Subscribe(recorder.Record)
		go pruneHistory(ctx, repo, cfg.HistoryRetention(), log)
	}

	if influxClient != nil {
		engine.Subscribe(func(ev uicc.ChangeEvent) {
			influxClient.WriteSlotSamples(slotSamples(engine, ev), string(ev.Reason), ev.At)
			influxClient.WriteDefaultEuicc(ev.DefaultEuiccCardID, ev.At)
		})
	}

	if err := bridge.Start(ctx, engine); err != nil {
		return fmt.Errorf("starting modem bridge: %w", err)
	}
	defer bridge.Stop()

	if err := healthCheck(ctx, db, mqttClient, bridge, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for modem")
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("uicc engine: %w", err)
	}

	stats := bridge.GetStats()
	log.Info("cardslotd stopped",
		"requests", stats.Requests,
		"responses", stats.Responses,
		"events", stats.Events,
		"dropped", stats.Dropped,
	)
	return nil
}

func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, bridge *modem.Bridge, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if err := bridge.HealthCheck(ctx); err != nil {
		return fmt.Errorf("modem bridge: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// pruneHistory deletes slot history older than retention now and then
// hourly until ctx ends.
func pruneHistory(ctx context.Context, repo *uicc.SQLiteSlotHistoryRepository, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	for {
		n, err := repo.PruneHistory(ctx, retention)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("pruning slot history failed", "error", err)
		case n > 0:
			log.Info("pruned slot history", "deleted", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// slotSamples pairs each reported card with its slot's lifecycle state.
func slotSamples(engine *uicc.Engine, ev uicc.ChangeEvent) []influxdb.SlotSample {
	samples := make([]influxdb.SlotSample, 0, len(ev.Cards))
	for _, info := range ev.Cards {
		state := uicc.SlotStateAbsent
		if slot, ok := engine.UiccSlot(info.SlotIndex); ok {
			state = slot.State()
		}

		active := 0
		for _, p := range info.Ports {
			if p.Active {
				active++
			}
		}

		samples = append(samples, influxdb.SlotSample{
			SlotIndex:   info.SlotIndex,
			IsEuicc:     info.IsEuicc,
			IsRemovable: info.IsRemovable,
			CardID:      info.CardID,
			State:       string(state),
			ActivePorts: active,
			Present:     state != uicc.SlotStateAbsent,
		})
	}
	return samples
}
