package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/minifc/internal/api"
	"github.com/nerrad567/minifc/internal/brain"
	"github.com/nerrad567/minifc/internal/router"
	"github.com/nerrad567/minifc/internal/shadow"
)

// runBrain starts the shadow service and the router, then blocks until
// ctx is done.
func runBrain(ctx context.Context, in *infra) error {
	cfg, log := in.cfg, in.log
	qos := byte(cfg.MQTT.QoS)

	svc := shadow.NewService(in.mqtt, shadow.NewSQLStore(in.db), shadow.ServiceOptions{
		QoS:    qos,
		Logger: log,
	})
	if err := svc.Start(); err != nil {
		return fmt.Errorf("starting shadow service: %w", err)
	}

	uploads, err := brain.NewUploads(cfg.Brain.UploadDir)
	if err != nil {
		return fmt.Errorf("preparing upload directory: %w", err)
	}

	b := brain.New(in.mqtt, svc, brain.Options{
		Thing:  cfg.Shadow.ThingName,
		Topics: cfg.Brain.Topics,
		QoS:    qos,
		Router: router.Router{
			SortArmID: cfg.Brain.SortArmID,
			InvArmID:  cfg.Brain.InvArmID,
			ButtonID:  cfg.Brain.ButtonID,
		},
		Logger:  log,
		Metrics: in.metrics,
		Journal: in.journal,
		OnPatch: in.hub.PatchObserver,
	})
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("starting brain: %w", err)
	}

	stopAPI := startAPI(ctx, in, api.Deps{
		Shadow:  svc,
		Thing:   cfg.Shadow.ThingName,
		Uploads: uploads,
	})
	defer stopAPI()

	log.Info("initialisation complete, routing", "thing", cfg.Shadow.ThingName, "upload_dir", uploads.Dir())
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}
