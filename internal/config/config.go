// Package config loads daemon settings from flags, environment and an
// optional YAML file through viper.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/sweeney/pulse-meter/internal/gpio"
)

// EnvPrefix prefixes every environment override, e.g. PULSE_METER_BROKER.
const EnvPrefix = "PULSE_METER"

// Config holds the complete daemon configuration.
type Config struct {
	Broker  string        `mapstructure:"broker"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Topics  TopicsConfig  `mapstructure:"topics"`
	GPIO    GPIOConfig    `mapstructure:"gpio"`
	Meter   MeterConfig   `mapstructure:"meter"`
	Link    LinkConfig    `mapstructure:"link"`
	Session SessionConfig `mapstructure:"session"`
	Portal  PortalConfig  `mapstructure:"portal"`
	Store   StoreConfig   `mapstructure:"store"`
	OTA     OTAConfig     `mapstructure:"ota"`
	Reset   ResetConfig   `mapstructure:"reset"`
	Tick    time.Duration `mapstructure:"tick"`
	Log     LogConfig     `mapstructure:"log"`
}

// MQTTConfig holds broker credentials.
type MQTTConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// TopicsConfig holds the shared topic names.
type TopicsConfig struct {
	Broadcast string `mapstructure:"broadcast"`
	Announce  string `mapstructure:"announce"`
	Status    string `mapstructure:"status"`
}

// GPIOConfig holds the chip and line offsets.
type GPIOConfig struct {
	Chip     string `mapstructure:"chip"`
	PulsePin int    `mapstructure:"pulse_pin"`
	LEDPin   int    `mapstructure:"led_pin"`
}

// MeterConfig holds accumulator settings.
type MeterConfig struct {
	Debounce     time.Duration `mapstructure:"debounce"`
	ReportPeriod time.Duration `mapstructure:"report_period"`
}

// LinkConfig holds station and access point settings.
type LinkConfig struct {
	Interface      string        `mapstructure:"interface"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	APName         string        `mapstructure:"ap_name"`
	APAddress      string        `mapstructure:"ap_address"`
}

// SessionConfig holds broker session settings.
type SessionConfig struct {
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// PortalConfig holds provisioning portal settings.
type PortalConfig struct {
	Addr  string        `mapstructure:"addr"`
	Blink time.Duration `mapstructure:"blink"`
}

// StoreConfig holds durable storage settings.
type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// OTAConfig holds firmware update settings. An empty Target means the
// running executable.
type OTAConfig struct {
	Target  string        `mapstructure:"target"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ResetConfig holds restart settings.
type ResetConfig struct {
	FeedbackDelay time.Duration `mapstructure:"feedback_delay"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("broker", "tcp://192.168.1.200:1883")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")

	v.SetDefault("topics.broadcast", "esp/ota/")
	v.SetDefault("topics.announce", "accessRequest/")
	v.SetDefault("topics.status", "device/status")

	v.SetDefault("gpio.chip", gpio.DefaultChip)
	v.SetDefault("gpio.pulse_pin", gpio.DefaultPinPulse)
	v.SetDefault("gpio.led_pin", gpio.DefaultPinLED)

	v.SetDefault("meter.debounce", "50ms")
	v.SetDefault("meter.report_period", "60s")

	v.SetDefault("link.interface", "wlan0")
	v.SetDefault("link.connect_timeout", "5s")
	v.SetDefault("link.poll_interval", "100ms")
	v.SetDefault("link.ap_name", "HTFC - 10.0.0.1")
	v.SetDefault("link.ap_address", "10.0.0.1")

	v.SetDefault("session.reconnect_delay", "5s")
	v.SetDefault("session.connect_timeout", "10s")

	v.SetDefault("portal.addr", ":80")
	v.SetDefault("portal.blink", "100ms")

	v.SetDefault("store.dir", "/var/lib/pulse-meter")

	v.SetDefault("ota.target", "")
	v.SetDefault("ota.timeout", "2m")

	v.SetDefault("reset.feedback_delay", "2s")
	v.SetDefault("tick", "50ms")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// BindEnv enables PULSE_METER_* overrides. Dots and dashes in keys become
// underscores: link.ap_name is PULSE_METER_LINK_AP_NAME.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// ReadFile merges the YAML file at path into v. An empty path is a no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// Load decodes and validates v. Defaults and environment bindings must
// already be registered.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if c.OTA.Target == "" {
		exe, err := os.Executable()
		if err != nil {
			return Config{}, fmt.Errorf("resolve update target: %w", err)
		}
		c.OTA.Target = exe
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks value ranges. It returns every problem found.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Broker != "", "broker must be set")
	check(c.GPIO.Chip != "", "gpio.chip must be set")
	check(c.GPIO.PulsePin >= 0, "gpio.pulse_pin must be >= 0, got %d", c.GPIO.PulsePin)
	check(c.GPIO.LEDPin >= 0, "gpio.led_pin must be >= 0, got %d", c.GPIO.LEDPin)
	check(c.GPIO.PulsePin != c.GPIO.LEDPin, "gpio.pulse_pin and gpio.led_pin must differ")
	check(c.Meter.Debounce >= 0, "meter.debounce must be >= 0, got %v", c.Meter.Debounce)

	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"meter.report_period", c.Meter.ReportPeriod},
		{"link.connect_timeout", c.Link.ConnectTimeout},
		{"link.poll_interval", c.Link.PollInterval},
		{"session.reconnect_delay", c.Session.ReconnectDelay},
		{"session.connect_timeout", c.Session.ConnectTimeout},
		{"portal.blink", c.Portal.Blink},
		{"ota.timeout", c.OTA.Timeout},
		{"reset.feedback_delay", c.Reset.FeedbackDelay},
		{"tick", c.Tick},
	} {
		check(d.val > 0, "%s must be positive, got %v", d.key, d.val)
	}

	check(c.Link.Interface != "", "link.interface must be set")
	check(c.Link.APName != "", "link.ap_name must be set")
	check(net.ParseIP(c.Link.APAddress).To4() != nil, "link.ap_address must be an IPv4 address, got %q", c.Link.APAddress)
	check(c.Store.Dir != "", "store.dir must be set")

	_, err := logrus.ParseLevel(c.Log.Level)
	check(err == nil, "log.level: unknown level %q", c.Log.Level)
	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format must be text or json, got %q", c.Log.Format)

	return errors.Join(errs...)
}

// NewLogger builds the daemon logger.
func (c LogConfig) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(level)
	if c.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
