package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	DatabasePath     string
	Timezone         *time.Location
	HorizonDays      int
	MaxIterations    int
	CoverageSchedule string
	LogLevel         string
	LogFormat        string
	CalDAV           CalDAVConfig
}

type CalDAVConfig struct {
	URL      string
	Username string
	Password string
	Calendar string
}

// Enabled reports whether the calendar mirror has credentials.
func (c CalDAVConfig) Enabled() bool {
	return c.Username != "" && c.Password != ""
}

// fileConfig is the YAML shape. Pointers distinguish "absent" from zero.
type fileConfig struct {
	DatabasePath     *string `yaml:"database_path"`
	Timezone         *string `yaml:"timezone"`
	HorizonDays      *int    `yaml:"horizon_days"`
	MaxIterations    *int    `yaml:"max_iterations"`
	CoverageSchedule *string `yaml:"coverage_schedule"`
	LogLevel         *string `yaml:"log_level"`
	LogFormat        *string `yaml:"log_format"`
	CalDAV           *struct {
		URL      *string `yaml:"url"`
		Username *string `yaml:"username"`
		Password *string `yaml:"password"`
		Calendar *string `yaml:"calendar"`
	} `yaml:"caldav"`
}

type raw struct {
	databasePath     string
	timezone         string
	horizonDays      string
	maxIterations    string
	coverageSchedule string
	logLevel         string
	logFormat        string
	caldav           CalDAVConfig
}

// Load builds the configuration from defaults, the optional CONFIG_FILE and
// the environment, in that order.
func Load() (*Config, error) {
	r := raw{
		databasePath:     "./data/taskseries.db",
		timezone:         "UTC",
		horizonDays:      "14",
		maxIterations:    "100",
		coverageSchedule: "@every 1h",
		logLevel:         "info",
		logFormat:        "console",
		caldav:           CalDAVConfig{URL: "https://caldav.icloud.com"},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := r.overlayYAML(data); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	r.overlayEnv()
	return r.build()
}

func (r *raw) overlayYAML(data []byte) error {
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return fmt.Errorf("yaml decode: %w", err)
	}

	setStr(&r.databasePath, fc.DatabasePath)
	setStr(&r.timezone, fc.Timezone)
	setStr(&r.coverageSchedule, fc.CoverageSchedule)
	setStr(&r.logLevel, fc.LogLevel)
	setStr(&r.logFormat, fc.LogFormat)
	if fc.HorizonDays != nil {
		r.horizonDays = strconv.Itoa(*fc.HorizonDays)
	}
	if fc.MaxIterations != nil {
		r.maxIterations = strconv.Itoa(*fc.MaxIterations)
	}
	if c := fc.CalDAV; c != nil {
		setStr(&r.caldav.URL, c.URL)
		setStr(&r.caldav.Username, c.Username)
		setStr(&r.caldav.Password, c.Password)
		setStr(&r.caldav.Calendar, c.Calendar)
	}
	return nil
}

func (r *raw) overlayEnv() {
	setEnv(&r.databasePath, "DATABASE_PATH")
	setEnv(&r.timezone, "TIMEZONE")
	setEnv(&r.horizonDays, "HORIZON_DAYS")
	setEnv(&r.maxIterations, "MAX_ITERATIONS")
	setEnv(&r.coverageSchedule, "COVERAGE_SCHEDULE")
	setEnv(&r.logLevel, "LOG_LEVEL")
	setEnv(&r.logFormat, "LOG_FORMAT")
	setEnv(&r.caldav.URL, "CALDAV_URL")
	setEnv(&r.caldav.Username, "CALDAV_USERNAME")
	setEnv(&r.caldav.Password, "CALDAV_PASSWORD")
	setEnv(&r.caldav.Calendar, "CALDAV_CALENDAR")
}

func (r *raw) build() (*Config, error) {
	tz, err := time.LoadLocation(r.timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	horizon, err := strconv.Atoi(strings.TrimSpace(r.horizonDays))
	if err != nil || horizon < 1 {
		return nil, fmt.Errorf("HORIZON_DAYS must be a positive number, got %q", r.horizonDays)
	}

	maxIter, err := strconv.Atoi(strings.TrimSpace(r.maxIterations))
	if err != nil || maxIter < 1 {
		return nil, fmt.Errorf("MAX_ITERATIONS must be a positive number, got %q", r.maxIterations)
	}

	if _, err := cron.ParseStandard(r.coverageSchedule); err != nil {
		return nil, fmt.Errorf("invalid COVERAGE_SCHEDULE: %w", err)
	}

	format := strings.ToLower(strings.TrimSpace(r.logFormat))
	if format != "console" && format != "json" {
		return nil, fmt.Errorf("LOG_FORMAT must be console or json, got %q", r.logFormat)
	}

	return &Config{
		DatabasePath:     r.databasePath,
		Timezone:         tz,
		HorizonDays:      horizon,
		MaxIterations:    maxIter,
		CoverageSchedule: r.coverageSchedule,
		LogLevel:         r.logLevel,
		LogFormat:        format,
		CalDAV:           r.caldav,
	}, nil
}

func setStr(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
