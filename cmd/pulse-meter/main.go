// Command pulse-meter counts meter pulses on a GPIO line and reports them
// over MQTT, with a Wi-Fi provisioning portal and remote firmware updates.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/pulse-meter/internal/config"
	"github.com/sweeney/pulse-meter/internal/device"
	"github.com/sweeney/pulse-meter/internal/gpio"
	"github.com/sweeney/pulse-meter/internal/link"
	"github.com/sweeney/pulse-meter/internal/meter"
	"github.com/sweeney/pulse-meter/internal/mqtt"
	"github.com/sweeney/pulse-meter/internal/ota"
	"github.com/sweeney/pulse-meter/internal/portal"
	"github.com/sweeney/pulse-meter/internal/status"
	"github.com/sweeney/pulse-meter/internal/store"
	"github.com/sweeney/pulse-meter/internal/system"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)
	var cfgFile string

	root := &cobra.Command{
		Use:           "pulse-meter",
		Short:         "Count meter pulses and report them over MQTT",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(v, cfgFile)
			if err != nil {
				return err
			}
			return run(cfg, logger)
		},
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	bindFlags(root.PersistentFlags(), v)

	root.AddCommand(&cobra.Command{
		Use:   "identity",
		Short: "Print the device identity and whether credentials are stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(v, cfgFile)
			if err != nil {
				return err
			}
			radio := link.NewNMRadio(cfg.Link.Interface, logger)
			return printIdentity(cmd.OutOrStdout(), radio, store.NewFileStore(cfg.Store.Dir, logger))
		},
	})
	return root
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"broker":      "broker",
	"interface":   "link.interface",
	"store-dir":   "store.dir",
	"portal-addr": "portal.addr",
	"log-level":   "log.level",
	"log-format":  "log.format",
}

// bindFlags registers the flags with the current config defaults and binds
// them to v, so an explicit flag outranks env and file values.
func bindFlags(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("broker", v.GetString("broker"), "MQTT broker address")
	flags.String("interface", v.GetString("link.interface"), "wireless interface")
	flags.String("store-dir", v.GetString("store.dir"), "durable storage directory")
	flags.String("portal-addr", v.GetString("portal.addr"), "provisioning portal listen address")
	flags.String("log-level", v.GetString("log.level"), "log level (debug, info, warn, error)")
	flags.String("log-format", v.GetString("log.format"), "log format (text or json)")

	for flag, key := range flagKeys {
		v.BindPFlag(key, flags.Lookup(flag))
	}
}

func setup(v *viper.Viper, cfgFile string) (config.Config, *logrus.Logger, error) {
	config.BindEnv(v)
	if err := config.ReadFile(v, cfgFile); err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return config.Config{}, nil, err
	}
	mqtt.RouteLogs(logger)
	return cfg, logger, nil
}

func printIdentity(w io.Writer, radio link.Radio, s store.Store) error {
	hw, err := radio.HardwareAddr()
	if err != nil {
		return fmt.Errorf("read hardware address: %w", err)
	}
	fmt.Fprintf(w, "identity: %s\n", link.NormalizeIdentity(hw))

	c, err := link.LoadCredentials(s)
	if errors.Is(err, link.ErrConfigurationMissing) {
		fmt.Fprintln(w, "credentials: none")
		return nil
	}
	fmt.Fprintf(w, "credentials: stored (ssid %q)\n", c.SSID)
	return nil
}

func run(cfg config.Config, logger *logrus.Logger) error {
	start := time.Now()

	st := store.NewFileStore(cfg.Store.Dir, logger)
	radio := link.NewNMRadio(cfg.Link.Interface, logger)
	mgr := link.NewManager(radio, st, link.Config{
		ConnectTimeout: cfg.Link.ConnectTimeout,
		PollInterval:   cfg.Link.PollInterval,
		APName:         cfg.Link.APName,
		APAddress:      cfg.Link.APAddress,
	}, logger)

	identity, err := mgr.Identity()
	if err != nil {
		return fmt.Errorf("device identity: %w", err)
	}
	bootID := uuid.NewString()
	log := logger.WithFields(logrus.Fields{"identity": identity, "boot_id": bootID})

	// Initialize GPIO
	acc := meter.NewAccumulator(cfg.Meter.Debounce, start)
	pulses, err := gpio.NewRealPulseInput(cfg.GPIO.Chip, cfg.GPIO.PulsePin, func(ts time.Time) {
		acc.OnPulse(ts)
	})
	if err != nil {
		return fmt.Errorf("init pulse input: %w", err)
	}
	defer pulses.Close()

	led, err := gpio.NewRealIndicator(cfg.GPIO.Chip, cfg.GPIO.LEDPin)
	if err != nil {
		return fmt.Errorf("init indicator: %w", err)
	}
	defer led.Close()

	// Initialize MQTT
	topics := mqtt.NewTopics(identity, cfg.Topics.Status, cfg.Topics.Broadcast, cfg.Topics.Announce)
	client := mqtt.NewPahoClient(mqtt.PahoConfig{
		Broker:         cfg.Broker,
		ClientID:       identity,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		WillTopic:      topics.Status,
		ConnectTimeout: cfg.Session.ConnectTimeout,
	}, logger)
	session := mqtt.NewSession(client, topics, mqtt.SessionConfig{ReconnectDelay: cfg.Session.ReconnectDelay}, logger)

	updater := ota.NewHTTPUpdater(&http.Client{Timeout: cfg.OTA.Timeout}, ota.Config{
		Target:   cfg.OTA.Target,
		Identity: identity,
		Timeout:  cfg.OTA.Timeout,
	}, logger)
	defer updater.Close()

	tracker := status.NewTracker(start, status.Config{
		Broker:       cfg.Broker,
		Debounce:     cfg.Meter.Debounce,
		ReportPeriod: cfg.Meter.ReportPeriod,
		PortalAddr:   cfg.Portal.Addr,
	})
	portalSrv := portal.New(cfg.Portal.Addr, tracker, st, logger)
	restarter := system.NewExecRestarter(logger)

	dev := device.New(identity, bootID, device.Config{
		ReportPeriod:  cfg.Meter.ReportPeriod,
		Blink:         cfg.Portal.Blink,
		FeedbackDelay: cfg.Reset.FeedbackDelay,
	}, device.Deps{
		Link:      mgr,
		Session:   session,
		Meter:     acc,
		Updater:   updater,
		Portal:    portalSrv,
		Indicator: led,
		Store:     st,
		Restarter: restarter,
		Tracker:   tracker,
		Log:       logger,
	})
	restarter.Before = func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		portalSrv.Shutdown(ctx)
		if err := dev.Close(); err != nil {
			log.WithError(err).Warn("close before restart")
		}
		pulses.Close()
		led.Close()
	}

	log.WithFields(logrus.Fields{
		"broker":        cfg.Broker,
		"debounce":      cfg.Meter.Debounce,
		"report_period": cfg.Meter.ReportPeriod,
		"pulse_pin":     cfg.GPIO.PulsePin,
	}).Info("started")

	state, err := dev.Boot(time.Now())
	if err != nil {
		log.WithError(err).Warn("no station link at boot")
	}

	g, ctx := errgroup.WithContext(context.Background())
	if state == link.Provisioning {
		g.Go(func() error {
			log.WithField("addr", cfg.Portal.Addr).Info("provisioning portal listening")
			if err := portalSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("portal: %w", err)
			}
			return nil
		})
	}

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g.Go(func() error {
		defer portalSrv.Shutdown(context.Background())
		return runLoop(ctx, dev, time.Now, ticker.C, sigCh, log)
	})
	return g.Wait()
}

// scheduler is the part of device.Device driven by runLoop.
type scheduler interface {
	Tick(now time.Time)
	Close() error
}

// runLoop ticks dev until a signal arrives or ctx is cancelled, then closes
// it. A signal is a clean shutdown and returns nil.
func runLoop(ctx context.Context, dev scheduler, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal, log logrus.FieldLogger) error {
	for {
		select {
		case s := <-sig:
			log.WithField("signal", s).Info("shutting down")
			if err := dev.Close(); err != nil {
				log.WithError(err).Warn("shutdown incomplete")
			}
			return nil

		case <-ctx.Done():
			if err := dev.Close(); err != nil {
				log.WithError(err).Warn("shutdown incomplete")
			}
			return nil

		case <-tick:
			dev.Tick(now())
		}
	}
}
