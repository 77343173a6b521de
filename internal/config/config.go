package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/spf13/pflag"
)

// Config holds all configuration required by the dialer process.
// Values come from env, optionally layered over a file passed with --config.
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig    `yaml:"app"`
	DB     DBConfig     `yaml:"db"`
	Redis  RedisConfig  `yaml:"redis"`
	Auth   AuthConfig   `yaml:"auth"`
	AMI    AMIConfig    `yaml:"ami"`
	Dialer DialerConfig `yaml:"dialer"`
}

type AppConfig struct {
	Env  string `yaml:"env" env:"APP_ENV" env-default:"local"`
	Port int    `yaml:"port" env:"APP_PORT" env-default:"8080"`
	// LogFile, when set, receives a rotated copy of the JSON log.
	LogFile string `yaml:"log_file" env:"LOG_FILE"`
}

// DBConfig is optional outside production; without a host the dialer keeps
// campaigns in memory.
type DBConfig struct {
	Host     string `yaml:"host" env:"DB_HOST"`
	Port     int    `yaml:"port" env:"DB_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"DB_USER"`
	Password string `yaml:"password" env:"DB_PASSWORD"`
	Name     string `yaml:"name" env:"DB_NAME"`

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string `yaml:"sslmode" env:"DB_SSLMODE"`
}

// RedisConfig is optional; without a host there is no trunk-wide cap and no
// live feed.
type RedisConfig struct {
	Host string `yaml:"host" env:"REDIS_HOST"`
	Port int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
}

type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer       string        `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	JWTAudience     string        `yaml:"jwt_audience" env:"JWT_AUDIENCE"`
	AccessTokenTTL  time.Duration `yaml:"access_ttl" env:"JWT_ACCESS_TTL"`
	RefreshTokenTTL time.Duration `yaml:"refresh_ttl" env:"JWT_REFRESH_TTL"`
}

// AMIConfig locates the PBX manager interface. The secret is never logged.
type AMIConfig struct {
	Host           string        `yaml:"host" env:"AMI_HOST"`
	Port           int           `yaml:"port" env:"AMI_PORT" env-default:"5038"`
	Username       string        `yaml:"username" env:"AMI_USERNAME"`
	Secret         string        `yaml:"secret" env:"AMI_SECRET"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"AMI_CONNECT_TIMEOUT" env-default:"10s"`
	ActionTimeout  time.Duration `yaml:"action_timeout" env:"AMI_ACTION_TIMEOUT" env-default:"5s"`
}

type DialerConfig struct {
	WatchdogInterval   time.Duration `yaml:"watchdog_interval" env:"DIALER_WATCHDOG_INTERVAL" env-default:"1s"`
	Grace              time.Duration `yaml:"grace" env:"DIALER_GRACE" env-default:"15s"`
	DefaultCallTimeout time.Duration `yaml:"default_call_timeout" env:"DIALER_CALL_TIMEOUT" env-default:"30s"`
	// TrunkMaxChannels caps channels per trunk across processes; 0 disables the cap.
	TrunkMaxChannels int           `yaml:"trunk_max_channels" env:"DIALER_TRUNK_MAX_CHANNELS"`
	TrunkSlotTTL     time.Duration `yaml:"trunk_slot_ttl" env:"DIALER_TRUNK_SLOT_TTL" env-default:"2h"`
}

// Load reads configuration. args are the process arguments without the
// program name; only --config/-c is recognised.
func Load(args []string) (Config, error) {
	fs := pflag.NewFlagSet("dialer", pflag.ContinueOnError)
	file := fs.StringP("config", "c", "", "YAML or TOML file to read before env")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	var c Config
	var err error
	if *file != "" {
		err = cleanenv.ReadConfig(*file, &c)
	} else {
		err = cleanenv.ReadEnv(&c)
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every violation at once and fills defaults that depend on
// the environment.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if !validPort(c.App.Port) {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_HOST is required in production"))
		}
	} else {
		if !validPort(c.DB.Port) {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if strings.TrimSpace(c.DB.SSLMode) == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.Redis.Host != "" && !validPort(c.Redis.Port) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.AMI.Host == "" {
		errs = append(errs, errors.New("AMI_HOST is required"))
	}
	if !validPort(c.AMI.Port) {
		errs = append(errs, fmt.Errorf("AMI_PORT must be a valid port, got %d", c.AMI.Port))
	}
	if c.AMI.Username == "" {
		errs = append(errs, errors.New("AMI_USERNAME is required"))
	}
	if c.AMI.Secret == "" {
		errs = append(errs, errors.New("AMI_SECRET is required"))
	}
	if c.AMI.ConnectTimeout <= 0 {
		c.AMI.ConnectTimeout = 10 * time.Second
	}
	if c.AMI.ActionTimeout <= 0 {
		c.AMI.ActionTimeout = 5 * time.Second
	}

	if c.Dialer.WatchdogInterval <= 0 {
		c.Dialer.WatchdogInterval = time.Second
	}
	if c.Dialer.Grace <= 0 {
		c.Dialer.Grace = 15 * time.Second
	}
	if c.Dialer.DefaultCallTimeout <= 0 {
		c.Dialer.DefaultCallTimeout = 30 * time.Second
	}
	if c.Dialer.TrunkMaxChannels < 0 {
		errs = append(errs, fmt.Errorf("DIALER_TRUNK_MAX_CHANNELS must be >= 0, got %d", c.Dialer.TrunkMaxChannels))
	}
	if c.Dialer.TrunkMaxChannels > 0 && c.Redis.Host == "" {
		errs = append(errs, errors.New("DIALER_TRUNK_MAX_CHANNELS requires REDIS_HOST"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) HasDB() bool    { return c.DB.Host != "" }
func (c Config) HasRedis() bool { return c.Redis.Host != "" }

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return net.JoinHostPort(c.Redis.Host, strconv.Itoa(c.Redis.Port))
}

func (c Config) AMIAddr() string {
	return net.JoinHostPort(c.AMI.Host, strconv.Itoa(c.AMI.Port))
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
