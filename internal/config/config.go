package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. MAILLOG_DB_DRIVER.
const EnvPrefix = "MAILLOG"

// DefaultTimeLayout renders timestamps like "January 2, 2006 3:04 pm".
const DefaultTimeLayout = "January 2, 2006 3:04 pm"

var prefixPattern = regexp.MustCompile(`^[A-Za-z0-9_]*$`)

type Config struct {
	DB struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
		Prefix string `mapstructure:"prefix"`
	} `mapstructure:"db"`
	HTTP struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"http"`
	Logs struct {
		// Keep is the retention size; 0 disables truncation on record.
		Keep       int    `mapstructure:"keep"`
		TimeLayout string `mapstructure:"time_layout"`
	} `mapstructure:"logs"`
	SMTP struct {
		Host          string `mapstructure:"host"`
		Port          int    `mapstructure:"port"`
		Username      string `mapstructure:"username"`
		Password      string `mapstructure:"password"`
		From          string `mapstructure:"from"`
		SkipTLSVerify bool   `mapstructure:"skip_tls_verify"`
	} `mapstructure:"smtp"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// New returns a viper instance with defaults and MAILLOG_* environment overrides wired.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.prefix", "wp_")
	v.SetDefault("http.port", "8080")
	v.SetDefault("logs.keep", 250)
	v.SetDefault("logs.time_layout", DefaultTimeLayout)
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.skip_tls_verify", false)
	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.format", "text")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads .env (if present), the optional config file and the environment into a Config.
func Load(v *viper.Viper, file string) (*Config, error) {
	_ = godotenv.Load()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading the configuration file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("could not map the configuration to the struct: %w", err)
	}
	if cfg.DB.DSN == "" {
		cfg.DB.DSN = dsnFromEnv(cfg.DB.Driver)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the store cannot work with.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported db driver %q (want postgres or mysql)", c.DB.Driver)
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db dsn is required (set %s_DB_DSN or DB_USERNAME, DB_PASSWORD, DB_HOST, DB_PORT, DB_NAME)", EnvPrefix)
	}
	if !prefixPattern.MatchString(c.DB.Prefix) {
		return fmt.Errorf("db prefix %q may only contain letters, digits and underscores", c.DB.Prefix)
	}
	if c.Logs.Keep < 0 {
		return fmt.Errorf("logs keep must not be negative, got %d", c.Logs.Keep)
	}
	if c.Logs.TimeLayout == "" {
		c.Logs.TimeLayout = DefaultTimeLayout
	}
	return nil
}

// dsnFromEnv builds a DSN from the DB_* variables, or returns "" when any is missing.
func dsnFromEnv(driver string) string {
	user := os.Getenv("DB_USERNAME")
	pass := os.Getenv("DB_PASSWORD")
	host := os.Getenv("DB_HOST")
	port := os.Getenv("DB_PORT")
	name := os.Getenv("DB_NAME")
	if user == "" || pass == "" || host == "" || port == "" || name == "" {
		return ""
	}
	return BuildDSN(driver, user, pass, host, port, name)
}

// BuildDSN formats connection parameters for the given driver.
func BuildDSN(driver, user, pass, host, port, name string) string {
	if driver == "mysql" {
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?multiStatements=true", user, pass, host, port, name)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		url.QueryEscape(user), url.QueryEscape(pass), host, port, name)
}

// MigrateURL converts a store DSN into the database URL golang-migrate expects.
func MigrateURL(driver, dsn string) string {
	if driver == "mysql" && !strings.HasPrefix(dsn, "mysql://") {
		return "mysql://" + dsn
	}
	return dsn
}
