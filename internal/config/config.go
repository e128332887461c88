package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is used when no config file is given on the command line.
	DefaultPath = "./config.json"

	// DefaultBatchSize is the number of records handed to the loader at once.
	DefaultBatchSize = 10000

	// DefaultConcurrency is one extraction task per source.
	DefaultConcurrency = 3

	// DefaultMemoryPerDayMB is the estimated memory needed to hold one day.
	DefaultMemoryPerDayMB = 500

	// DefaultTimezone is the zone raw exchange timestamps are recorded in.
	DefaultTimezone = "Asia/Shanghai"

	// DefaultQuotePrefix is the object key prefix of the AllPriceDepth files.
	DefaultQuotePrefix = "AllPriceDepth"

	// DefaultTradePrefix is the object key prefix of the XBond deal files.
	DefaultTradePrefix = "XbondCfetsDeal"

	// DefaultFutureTable is the futures tick table.
	DefaultFutureTable = "fut_tick"
)

// Environment variables overriding object storage credentials.
const (
	EnvCOSSecretID  = "COS_SECRET_ID"
	EnvCOSSecretKey = "COS_SECRET_KEY"
	EnvCOSTrustKey  = "COS_TRUST_KEY"
)

// Config contains config values for the app.
// Struct values are loaded from user defined JSON or YAML config file.
type Config struct {
	Connection Connection `json:"connection" yaml:"connection"`
	Pipeline   Pipeline   `json:"pipeline" yaml:"pipeline"`
	Log        Log        `json:"log" yaml:"log"`
	Lock       Lock       `json:"lock" yaml:"lock"`
}

// Connection contains config values for the sources, the target store and notifications.
type Connection struct {
	COS        COS        `json:"cos" yaml:"cos"`
	MySQL      MySQL      `json:"mysql" yaml:"mysql"`
	ClickHouse ClickHouse `json:"clickhouse" yaml:"clickhouse"`
	NATS       NATS       `json:"nats" yaml:"nats"`
}

// COS contains config values for the S3 compatible object storage holding the XBond files.
type COS struct {
	Region        string `json:"region" yaml:"region"`
	Bucket        string `json:"bucket" yaml:"bucket"`
	Endpoint      string `json:"endpoint" yaml:"endpoint"`
	PathStyle     bool   `json:"path_style" yaml:"path_style"`
	SecretID      string `json:"secret_id" yaml:"secret_id"`
	SecretKey     string `json:"secret_key" yaml:"secret_key"`
	TrustKey      string `json:"trust_key" yaml:"trust_key"`
	QuotePrefix   string `json:"quote_prefix" yaml:"quote_prefix"`
	TradePrefix   string `json:"trade_prefix" yaml:"trade_prefix"`
	ReqTimeoutSec int    `json:"request_timeout_sec" yaml:"request_timeout_sec"`
	MaxIdleConns  int    `json:"max_idle_conns" yaml:"max_idle_conns"`
}

// Validate checks the object storage settings.
func (c COS) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Region, validation.Required),
		validation.Field(&c.Bucket, validation.Required),
		validation.Field(&c.SecretID, validation.Required),
		validation.Field(&c.SecretKey, validation.Required),
		validation.Field(&c.ReqTimeoutSec, validation.Min(0)),
		validation.Field(&c.MaxIdleConns, validation.Min(0)),
	)
}

// MySQL contains config values for the futures tick database.
type MySQL struct {
	User               string `json:"user" yaml:"user"`
	Password           string `json:"password" yaml:"password"`
	URL                string `json:"URL" yaml:"url"`
	Schema             string `json:"schema" yaml:"schema"`
	Table              string `json:"table" yaml:"table"`
	ReqTimeoutSec      int    `json:"request_timeout_sec" yaml:"request_timeout_sec"`
	ConnMaxLifetimeSec int    `json:"conn_max_lifetime_sec" yaml:"conn_max_lifetime_sec"`
	MaxOpenConns       int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns       int    `json:"max_idle_conns" yaml:"max_idle_conns"`
}

// Validate checks the futures database settings.
func (c MySQL) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.URL, validation.Required),
		validation.Field(&c.Schema, validation.Required),
		validation.Field(&c.User, validation.Required),
		validation.Field(&c.MaxOpenConns, validation.Min(0)),
		validation.Field(&c.MaxIdleConns, validation.Min(0)),
	)
}

// ClickHouse contains config values for clickhouse.
type ClickHouse struct {
	User          string   `json:"user" yaml:"user"`
	Password      string   `json:"password" yaml:"password"`
	URL           string   `json:"URL" yaml:"url"`
	Schema        string   `json:"schema" yaml:"schema"`
	ReqTimeoutSec int      `json:"request_timeout_sec" yaml:"request_timeout_sec"`
	AltHosts      []string `json:"alt_hosts" yaml:"alt_hosts"`
	Compression   bool     `json:"compression" yaml:"compression"`
}

// Validate checks the target store settings.
func (c ClickHouse) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.URL, validation.Required),
		validation.Field(&c.Schema, validation.Required),
		validation.Field(&c.ReqTimeoutSec, validation.Min(0)),
	)
}

// NATS contains config values for nats.
// Run reports are published only when addresses are given.
type NATS struct {
	Addresses       []string `json:"addresses" yaml:"addresses"`
	Username        string   `json:"username" yaml:"username"`
	Password        string   `json:"password" yaml:"password"`
	SubjectBaseName string   `json:"subject_base_name" yaml:"subject_base_name"`
	ReqTimeoutSec   int      `json:"request_timeout_sec" yaml:"request_timeout_sec"`
}

// Pipeline contains config values for the day pipeline.
type Pipeline struct {
	BatchSize         int    `json:"batch_size" yaml:"batch_size"`
	Concurrency       int    `json:"concurrency" yaml:"concurrency"`
	ExtractTimeoutSec int    `json:"extract_timeout_sec" yaml:"extract_timeout_sec"`
	Timezone          string `json:"timezone" yaml:"timezone"`
	MemoryPerDayMB    int    `json:"memory_per_day_mb" yaml:"memory_per_day_mb"`
	DryRun            bool   `json:"dry_run" yaml:"dry_run"`
}

// Validate checks the pipeline settings.
func (c Pipeline) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.Concurrency, validation.Required, validation.Min(1)),
		validation.Field(&c.ExtractTimeoutSec, validation.Min(0)),
		validation.Field(&c.Timezone, validation.Required, validation.By(knownLocation)),
		validation.Field(&c.MemoryPerDayMB, validation.Min(0)),
	)
}

// Log contains config values for logging.
type Log struct {
	Level      string `json:"level" yaml:"level"`
	FilePath   string `json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// Validate checks the logging settings.
func (c Log) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Level, validation.In("error", "info", "debug")),
		validation.Field(&c.FilePath, validation.Required),
	)
}

// Lock contains config values for the single instance lock.
type Lock struct {
	Dir string `json:"dir" yaml:"dir"`
}

// Validate checks every section. The target store is not checked for a dry run.
func (c *Config) Validate() error {
	rules := []*validation.FieldRules{
		validation.Field(&c.Pipeline),
		validation.Field(&c.Log),
	}
	err := validation.ValidateStruct(c, rules...)
	if err != nil {
		return err
	}
	conn := &c.Connection
	connRules := []*validation.FieldRules{
		validation.Field(&conn.COS),
		validation.Field(&conn.MySQL),
	}
	if !c.Pipeline.DryRun {
		connRules = append(connRules, validation.Field(&conn.ClickHouse))
	}
	return errors.Wrap(validation.ValidateStruct(conn, connRules...), "connection")
}

// SetDefaults fills unset optional values.
func (c *Config) SetDefaults() {
	p := &c.Pipeline
	if p.BatchSize == 0 {
		p.BatchSize = DefaultBatchSize
	}
	if p.Concurrency == 0 {
		p.Concurrency = DefaultConcurrency
	}
	if p.Timezone == "" {
		p.Timezone = DefaultTimezone
	}
	if p.MemoryPerDayMB == 0 {
		p.MemoryPerDayMB = DefaultMemoryPerDayMB
	}
	cos := &c.Connection.COS
	if cos.QuotePrefix == "" {
		cos.QuotePrefix = DefaultQuotePrefix
	}
	if cos.TradePrefix == "" {
		cos.TradePrefix = DefaultTradePrefix
	}
	if cos.Endpoint == "" && cos.Region != "" {
		cos.Endpoint = "https://cos." + cos.Region + ".myqcloud.com"
	}
	if c.Connection.MySQL.Table == "" {
		c.Connection.MySQL.Table = DefaultFutureTable
	}
	if c.Connection.NATS.SubjectBaseName == "" {
		c.Connection.NATS.SubjectBaseName = "bondetl"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.FilePath == "" {
		c.Log.FilePath = "./bondetl"
	}
	if c.Lock.Dir == "" {
		c.Lock.Dir = "."
	}
}

// Load reads the config file at path. Files ending in .yml or .yaml are
// decoded as YAML, everything else as JSON. Object storage credentials from
// the environment, optionally set by a .env file next to the working
// directory, take precedence over the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "not able to read config file")
	}
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = jsoniter.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, errors.Wrap(err, "not able to parse config file")
	}

	if err = godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "not able to load .env file")
	}
	cfg.applyEnv()
	cfg.SetDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	cos := &c.Connection.COS
	if v := strings.TrimSpace(os.Getenv(EnvCOSSecretID)); v != "" {
		cos.SecretID = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvCOSSecretKey)); v != "" {
		cos.SecretKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvCOSTrustKey)); v != "" {
		cos.TrustKey = v
	}
}

// Location returns the zone raw timestamps are read in.
func (c Pipeline) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func knownLocation(value interface{}) error {
	name, _ := value.(string)
	if name == "" {
		return nil
	}
	if _, err := time.LoadLocation(name); err != nil {
		return errors.New("unknown time zone")
	}
	return nil
}
