package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"gpsblue-ng/internal/bluetooth"
	"gpsblue-ng/internal/config"
	"gpsblue-ng/internal/logging"
	"gpsblue-ng/internal/publish"
	"gpsblue-ng/internal/session"
	"gpsblue-ng/internal/web"
)

func main() {
	var configPath string
	var summaryPath string
	flag.StringVar(&configPath, "config", "./gpsblue.yaml", "Path to YAML config")
	flag.StringVar(&summaryPath, "nmea-summary", "", "Summarize an NMEA capture file and exit")
	flag.Parse()

	if summaryPath != "" {
		if err := printNMEASummary(os.Stdout, summaryPath); err != nil {
			fmt.Fprintf(os.Stderr, "nmea summary failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, bluetooth.RFCOMM(uint8(cfg.Bluetooth.Channel))); err != nil {
		log.Error().Err(err).Msg("gpsblue-ng stopped with error")
		os.Exit(1)
	}
}

// run wires the session to its observers and the web surface, and blocks
// until ctx is cancelled or the web server fails.
func run(ctx context.Context, cfg config.Config, listen bluetooth.ListenFunc) error {
	logs := logging.NewBuffer(cfg.Log.TailLines)
	logger := logging.Setup(cfg.Log.Level, logs)
	logger.Info().
		Str("service_uuid", cfg.Bluetooth.ServiceID.String()).
		Int("channel", cfg.Bluetooth.Channel).
		Str("gps_source", cfg.GPS.Source).
		Msg("gpsblue-ng starting")

	if err := cfg.GPS.CheckPowerLine(); err != nil {
		// The sensor still runs; it just stays powered by the board.
		logger.Warn().Err(err).Int("gpio", cfg.GPS.PowerGPIO).Msg("gps.power_gpio unusable")
	}

	sess := session.New(session.Config{GPS: cfg.GPS.GPSOptions()}, listen)

	events := web.NewEventBroadcaster()
	detachEvents := sess.Attach(events)

	var pub *publish.Publisher
	detachPub := func() {}
	if cfg.MQTT.Enable {
		p, err := publish.NewMQTT(cfg.MQTT.PublishOptions())
		if err != nil {
			// The Bluetooth stream does not depend on the broker.
			logger.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("mqtt disabled")
		} else {
			pub = p
			detachPub = sess.Attach(pub)
		}
	}

	if *cfg.Bluetooth.AutoStart {
		if err := sess.Start(cfg.Bluetooth.ServiceID); err != nil {
			logger.Error().Err(err).Msg("bluetooth listen failed; waiting for /api/start")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if *cfg.Web.Enable {
		h := web.Handler(web.Deps{
			Status:           sess,
			Control:          sess,
			Events:           events,
			Logs:             logs,
			DefaultServiceID: cfg.Bluetooth.ServiceID,
		})
		g.Go(func() error {
			return web.Serve(gctx, cfg.Web.Listen, h)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err := g.Wait()

	logger.Info().Msg("gpsblue-ng stopping")
	sess.Close()
	detachPub()
	detachEvents()
	if pub != nil {
		pub.Close()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
