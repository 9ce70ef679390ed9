package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/wolfeidau/lessongate/internal/clock"
	"github.com/wolfeidau/lessongate/internal/store"
	"gopkg.in/yaml.v3"
)

const (
	backendSheetDB  = "sheetdb"
	backendPostgres = "postgres"
)

type Globals struct {
	Debug    bool   `help:"Enable debug mode." env:"LESSONGATE_DEBUG"`
	Config   string `help:"YAML/JSON config file path, its values override flags" env:"LESSONGATE_CONFIG"`
	StateDir string `help:"directory holding the session and HTTP cache (default ~/.lessongate)" env:"LESSONGATE_STATE_DIR"`
	LoginURL string `help:"login page users are sent to when access is denied" default:"index.html" env:"LESSONGATE_LOGIN_URL"`
	Backend  string `help:"directory backend" default:"sheetdb" enum:"sheetdb,postgres" env:"LESSONGATE_BACKEND"`
	Tracing  bool   `help:"export traces and metrics over OTLP" env:"LESSONGATE_TRACING"`

	SheetDB  SheetDBFlags  `embed:"" prefix:"sheetdb-"`
	Postgres PostgresFlags `embed:"" prefix:"postgres-"`

	Version string `kong:"-"`

	// Overrides used by tests.
	out   io.Writer      `kong:"-"`
	dir   store.Directory `kong:"-"`
	clock clock.Clock     `kong:"-"`
}

type SheetDBFlags struct {
	APIURL      string        `name:"api-url" help:"directory sheet API URL" env:"LESSONGATE_SHEETDB_API_URL"`
	LogURL      string        `name:"log-url" help:"attendance log sheet API URL" env:"LESSONGATE_SHEETDB_LOG_URL"`
	APIKey      string        `name:"api-key" help:"bearer key sent to the sheet API" env:"LESSONGATE_SHEETDB_API_KEY"`
	Timeout     time.Duration `help:"timeout of each remote call" default:"15s" env:"LESSONGATE_SHEETDB_TIMEOUT"`
	LookupTries uint          `help:"attempts of each lookup before giving up" default:"3" env:"LESSONGATE_SHEETDB_LOOKUP_TRIES"`
}

type PostgresFlags struct {
	ConnString  string `help:"PostgreSQL connection string" env:"LESSONGATE_POSTGRES_CONN_STRING"`
	MaxConns    int32  `help:"maximum number of connections in pool" default:"4"`
	AutoMigrate bool   `help:"apply directory schema migrations on start" env:"LESSONGATE_POSTGRES_AUTO_MIGRATE"`
}

func (p *PostgresFlags) Validate() error {
	if p.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or LESSONGATE_POSTGRES_CONN_STRING)")
	}
	return nil
}

// FileConfig is the shape of the --config file.
type FileConfig struct {
	StateDir string `yaml:"stateDir" json:"stateDir"`
	LoginURL string `yaml:"loginURL" json:"loginURL"`
	Backend  string `yaml:"backend" json:"backend"`
	Tracing  bool   `yaml:"tracing" json:"tracing"`
	SheetDB  struct {
		APIURL      string `yaml:"apiURL" json:"apiURL"`
		LogURL      string `yaml:"logURL" json:"logURL"`
		APIKey      string `yaml:"apiKey" json:"apiKey"`
		Timeout     string `yaml:"timeout" json:"timeout"`
		LookupTries uint   `yaml:"lookupTries" json:"lookupTries"`
	} `yaml:"sheetdb" json:"sheetdb"`
	Postgres struct {
		ConnString  string `yaml:"connString" json:"connString"`
		MaxConns    int32  `yaml:"maxConns" json:"maxConns"`
		AutoMigrate bool   `yaml:"autoMigrate" json:"autoMigrate"`
	} `yaml:"postgres" json:"postgres"`
}

func (g *Globals) loadConfigFile() error {
	data, err := os.ReadFile(g.Config)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig

	// Determine file format by extension
	if strings.HasSuffix(strings.ToLower(g.Config), ".json") {
		if err := json.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	// Override struct fields with config values (config file takes precedence over flags)
	if config.StateDir != "" {
		g.StateDir = config.StateDir
	}
	if config.LoginURL != "" {
		g.LoginURL = config.LoginURL
	}
	if config.Backend != "" {
		if config.Backend != backendSheetDB && config.Backend != backendPostgres {
			return fmt.Errorf("unknown backend %q in config file", config.Backend)
		}
		g.Backend = config.Backend
	}
	if config.Tracing {
		g.Tracing = true
	}
	if config.SheetDB.APIURL != "" {
		g.SheetDB.APIURL = config.SheetDB.APIURL
	}
	if config.SheetDB.LogURL != "" {
		g.SheetDB.LogURL = config.SheetDB.LogURL
	}
	if config.SheetDB.APIKey != "" {
		g.SheetDB.APIKey = config.SheetDB.APIKey
	}
	if config.SheetDB.Timeout != "" {
		timeout, err := time.ParseDuration(config.SheetDB.Timeout)
		if err != nil {
			return fmt.Errorf("invalid sheetdb timeout: %w", err)
		}
		g.SheetDB.Timeout = timeout
	}
	if config.SheetDB.LookupTries > 0 {
		g.SheetDB.LookupTries = config.SheetDB.LookupTries
	}
	if config.Postgres.ConnString != "" {
		g.Postgres.ConnString = config.Postgres.ConnString
	}
	if config.Postgres.MaxConns > 0 {
		g.Postgres.MaxConns = config.Postgres.MaxConns
	}
	if config.Postgres.AutoMigrate {
		g.Postgres.AutoMigrate = true
	}

	return nil
}
