package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/nerrad567/minifc/internal/api"
	"github.com/nerrad567/minifc/internal/controller"
	"github.com/nerrad567/minifc/internal/devices/arm"
	"github.com/nerrad567/minifc/internal/devices/belt"
	"github.com/nerrad567/minifc/internal/gate"
	"github.com/nerrad567/minifc/internal/hardware"
	"github.com/nerrad567/minifc/internal/hardware/sim"
	"github.com/nerrad567/minifc/internal/infrastructure/config"
	"github.com/nerrad567/minifc/internal/infrastructure/logging"
	"github.com/nerrad567/minifc/internal/shadow"
	"github.com/nerrad567/minifc/internal/telemetry"
)

// runDevice brings up an arm or the belt and blocks until ctx is done.
//
// Bring-up order: actuator group, gate, event emitter and sinks, device,
// shadow handler and sync adapter, then the control and telemetry loops.
// Any failure before the loops start aborts the process.
func runDevice(ctx context.Context, in *infra) error {
	cfg, log := in.cfg, in.log

	group, err := newGroup(cfg.Hardware, in)
	if err != nil {
		return err
	}
	// Closes the bus on a failed bring-up; a no-op after runLoops.
	defer group.Close() //nolint:errcheck // runLoops reports the close error
	if err := group.Ping(ctx); err != nil {
		return fmt.Errorf("pinging actuators: %w", err)
	}
	log.Info("actuators ready", "actuators", group.Names())

	g := gate.New(log)

	events := controller.NewEvents(cfg.Device.ID, cfg.Device.StageTopic, in.mqtt, controller.EventsOptions{
		Logger:  log,
		Metrics: in.metrics,
	})
	if in.journal != nil {
		events.AddSink(controller.JournalSink(in.journal, log))
	}
	if in.influx != nil {
		events.AddSink(controller.InfluxSink(in.influx))
	}
	events.AddSink(in.hub.StageSink())

	env := &controller.Env{
		DeviceID: cfg.Device.ID,
		Group:    group,
		Gate:     g,
		Logger:   log,
	}

	handler := shadow.NewHandler(in.mqtt, cfg.Shadow.ThingName, shadow.HandlerOptions{
		QoS:     byte(cfg.MQTT.QoS),
		Timeout: cfg.Shadow.RequestTimeout,
		Logger:  log,
	})
	adapter := controller.NewSyncAdapter(g, handler, controller.SyncOptions{
		DeviceID:   cfg.Device.ID,
		CommandKey: cfg.Device.CommandKey,
		AckTimeout: cfg.Shadow.RequestTimeout,
		Logger:     log,
		Metrics:    in.metrics,
		Journal:    in.journal,
	})

	var device controller.Device
	switch cfg.Device.Kind {
	case config.KindArm:
		device, err = newArm(cfg)
		if err != nil {
			return err
		}
	case config.KindBelt:
		b := belt.New(cfg.Device.BeltSpeed)
		adapter.HandleKey(belt.ReverseKey, b.ReverseHandler(env, events))
		device = b
	default:
		return fmt.Errorf("unsupported device kind %q", cfg.Device.Kind)
	}

	ctrl := controller.New(device, env, events, controller.Options{
		ControlPeriod: cfg.Device.ControlPeriod,
		Metrics:       in.metrics,
	})

	handler.OnDelta(adapter.HandleDelta)
	if err := handler.Start(); err != nil {
		return fmt.Errorf("starting shadow handler: %w", err)
	}
	if doc, err := handler.Fetch(ctx); err != nil {
		log.Warn("initial shadow get failed", "error", err)
	} else {
		log.Info("initial shadow document", "payload", string(doc))
	}

	telemetryOpts := controller.TelemetryOptions{
		DeviceID:           cfg.Device.ID,
		Topic:              cfg.Device.TelemetryTopic,
		Version:            cfg.Device.TelemetryVersion,
		Period:             cfg.Device.TelemetryPeriod,
		SensorPrefix:       cfg.Device.SensorPrefix,
		IncludeTemperature: cfg.Device.Kind == config.KindArm,
		Logger:             log,
		Metrics:            in.metrics,
	}
	if in.influx != nil {
		telemetryOpts.Sink = in.influx
	}
	publisher := controller.NewTelemetryPublisher(group, in.mqtt, telemetryOpts)

	stopAPI := startAPI(ctx, in, api.Deps{
		Controller: ctrl,
		Gate:       g,
		Group:      group,
	})
	defer stopAPI()

	log.Info("initialisation complete, waiting for commands", "command_key", cfg.Device.CommandKey)

	runLoops(ctx, log, group, ctrl, publisher)
	log.Info("device stopped")
	return nil
}

// loop is a device loop that returns once its context is done.
type loop interface {
	Run(ctx context.Context) error
}

// runLoops runs every loop until ctx is done and closes the actuator bus
// only after all of them have returned, so no loop touches a closed bus.
func runLoops(ctx context.Context, log *logging.Logger, bus io.Closer, loops ...loop) {
	var wg sync.WaitGroup
	for _, l := range loops {
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Run(ctx); err != nil {
				log.Error("device loop failed", "error", err)
			}
		}()
	}
	wg.Wait()

	log.Info("closing actuator bus")
	if err := bus.Close(); err != nil {
		log.Error("error closing actuator bus", "error", err)
	}
}

// newGroup builds the actuator group on the configured bus driver.
func newGroup(cfg config.HardwareConfig, in *infra) (*hardware.Group, error) {
	actuators := make([]hardware.Actuator, len(cfg.Actuators))
	ids := make([]int, len(cfg.Actuators))
	for i, a := range cfg.Actuators {
		actuators[i] = hardware.Actuator{Name: a.Name, ServoID: a.ServoID}
		ids[i] = a.ServoID
	}

	var bus hardware.Bus
	switch cfg.Driver {
	case "sim":
		bus = sim.NewBus(ids...)
	default:
		return nil, fmt.Errorf("unsupported hardware driver %q", cfg.Driver)
	}

	group, err := hardware.NewGroup(bus, actuators, telemetry.NewCache(cfg.CacheTTL, cfg.CacheCapacity), hardware.Options{
		OpTimeout: cfg.OpTimeout,
		Logger:    in.log,
	})
	if err != nil {
		bus.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("creating actuator group: %w", err)
	}
	return group, nil
}

// newArm builds an arm on the simulated camera, uploading frames when
// upload is enabled.
func newArm(cfg *config.Config) (*arm.Arm, error) {
	opts := arm.Options{
		Detector: sim.NewCamera(cfg.Hardware.Sim.ImageDir, cfg.Hardware.Sim.DetectEvery),
	}
	if cfg.Upload.Enabled {
		opts.Uploader = arm.NewHTTPUploader(cfg.Upload.URL, cfg.Upload.Timeout)
	}
	a, err := arm.New(opts)
	if err != nil {
		return nil, fmt.Errorf("creating arm: %w", err)
	}
	return a, nil
}
