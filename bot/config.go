package bot

import (
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable overriding the config.
const EnvPrefix = "BOTFARM"

// Config keeps bot configuration. Values are taken from the defaults, then from
// the bot's section of the configuration file, then from the environment.
type Config struct {
	TgToken       string        `yaml:"TgToken" envconfig:"TG_TOKEN"`
	DBConnStr     string        `yaml:"DBConnStr" envconfig:"DB_CONN_STR"`
	DBTimeout     time.Duration `yaml:"DBTimeout" envconfig:"DB_TIMEOUT"`
	RetryAttempts int           `yaml:"RetryAttempts" envconfig:"RETRY_ATTEMPTS"`
	RetryDelay    time.Duration `yaml:"RetryDelay" envconfig:"RETRY_DELAY"`
	RedisURL      string        `yaml:"RedisURL" envconfig:"REDIS_URL"`

	// daily notification trigger
	NotifyHour   int    `yaml:"NotifyHour" envconfig:"NOTIFY_HOUR"`
	NotifyMinute int    `yaml:"NotifyMinute" envconfig:"NOTIFY_MINUTE"`
	TimeZone     string `yaml:"TimeZone" envconfig:"TIME_ZONE"`
	Workers      int    `yaml:"Workers" envconfig:"WORKERS"`

	UpcomingWindow   int           `yaml:"UpcomingWindow" envconfig:"UPCOMING_WINDOW"`
	MaxBirthdays     int           `yaml:"MaxBirthdays" envconfig:"MAX_BIRTHDAYS"`
	MaxNameLength    int           `yaml:"MaxNameLength" envconfig:"MAX_NAME_LENGTH"`
	DefaultLeadDays  int           `yaml:"DefaultLeadDays" envconfig:"DEFAULT_LEAD_DAYS"`
	DialogTTL        time.Duration `yaml:"DialogTTL" envconfig:"DIALOG_TTL"`
	ConfirmAdd       bool          `yaml:"ConfirmAdd" envconfig:"CONFIRM_ADD"`
	ThrottleInterval time.Duration `yaml:"ThrottleInterval" envconfig:"THROTTLE_INTERVAL"`
}

// DefaultConfig returns configuration with every optional field set.
func DefaultConfig() Config {
	return Config{
		DBTimeout:        5 * time.Second,
		RetryAttempts:    3,
		RetryDelay:       time.Second,
		NotifyHour:       9,
		TimeZone:         "UTC",
		Workers:          8,
		UpcomingWindow:   30,
		MaxBirthdays:     500,
		MaxNameLength:    100,
		DefaultLeadDays:  1,
		DialogTTL:        30 * time.Minute,
		ThrottleInterval: 2 * time.Second,
	}
}

// ReadConfigFile reads the configuration file holding a section per bot. The
// file may be written in YAML or JSON.
func ReadConfigFile(name string) (map[string]Config, error) {
	raw, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't read configuration file %q", name)
	}

	// decode into raw nodes first so every section starts from the defaults
	var sections map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &sections); err != nil {
		return nil, errors.Wrap(err, "couldn't unmarshal botfarm configuration")
	}

	cfgs := make(map[string]Config, len(sections))
	for name, node := range sections {
		cfg := DefaultConfig()
		if err := node.Decode(&cfg); err != nil {
			return nil, errors.Wrapf(err, "couldn't decode configuration of %q", name)
		}
		cfgs[name] = cfg
	}

	return cfgs, nil
}

// LoadConfig builds configuration of the named bot. An empty file name means
// that configuration comes from defaults and environment only.
func LoadConfig(file, botName string) (*Config, error) {
	cfg := DefaultConfig()

	if file != "" {
		cfgs, err := ReadConfigFile(file)
		if err != nil {
			return nil, err
		}

		if c, ok := cfgs[botName]; ok {
			cfg = c
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, errors.Wrap(err, "couldn't read configuration from environment")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "%s's configuration is invalid", botName)
	}

	return &cfg, nil
}

// Validate makes sure that all required fields are present and the rest are sane.
func (c *Config) Validate() error {
	var missing []string
	if c.TgToken == "" {
		missing = append(missing, "TgToken")
	}
	if c.DBConnStr == "" {
		missing = append(missing, "DBConnStr")
	}
	if len(missing) > 0 {
		return errors.Errorf("missing field(s): %s", strings.Join(missing, ", "))
	}

	switch {
	case c.NotifyHour < 0 || c.NotifyHour > 23:
		return errors.Errorf("NotifyHour must be in 0-23, got %d", c.NotifyHour)
	case c.NotifyMinute < 0 || c.NotifyMinute > 59:
		return errors.Errorf("NotifyMinute must be in 0-59, got %d", c.NotifyMinute)
	case c.MaxBirthdays <= 0:
		return errors.New("MaxBirthdays must be positive")
	case c.MaxNameLength <= 0 || c.MaxNameLength > 100:
		return errors.New("MaxNameLength must be in 1-100")
	case c.DefaultLeadDays < 0 || c.DefaultLeadDays > 365:
		return errors.Errorf("DefaultLeadDays must be in 0-365, got %d", c.DefaultLeadDays)
	case c.Workers <= 0:
		return errors.New("Workers must be positive")
	case c.DBTimeout <= 0:
		return errors.New("DBTimeout must be positive")
	}

	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return errors.Wrapf(err, "unknown time zone %q", c.TimeZone)
	}

	return nil
}

// Location returns the configured time zone, UTC if it can't be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
