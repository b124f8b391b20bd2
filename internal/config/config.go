// Copyright 2025 James Ross
// Package config loads the runtime's YAML configuration via viper,
// covering the channel chain topology, job-manager admission budget,
// distributed scheduler, storage backends, and observability stack.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Namespacer struct {
	Enabled bool `mapstructure:"enabled"`
}

type Enforcer struct {
	Enabled          bool   `mapstructure:"enabled"`
	PolicyExtKey     string `mapstructure:"policy_ext_key"`
}

type Interceptor struct {
	Enabled   bool          `mapstructure:"enabled"`
	Transport string        `mapstructure:"transport"` // "grpc" or "nats"
	Target    string        `mapstructure:"target"`
	Subject   string        `mapstructure:"subject"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type Delegator struct {
	Enabled bool   `mapstructure:"enabled"`
	PeerID  string `mapstructure:"peer_id"`
	// PeerAddr, if set, is dialed as a gRPC peer and registered under
	// PeerID so overflow forwards to a remote instance instead of a local
	// channel.
	PeerAddr string `mapstructure:"peer_addr"`
	MaxJobs  int    `mapstructure:"max_jobs"`
}

type JobManager struct {
	MaxCost              map[string]float64 `mapstructure:"max_cost"`
	AdmissionRatePerSec  float64            `mapstructure:"admission_rate_per_sec"`
	AdmissionBurst       int                `mapstructure:"admission_burst"`
}

// QFlow configures the Redis-backed transactional multi-queue admission
// path used in place of the relational Scheduler when Scheduler.Enabled is
// false — a lighter-weight queue without partition leasing.
type QFlow struct {
	RedisAddr    string        `mapstructure:"redis_addr"`
	Prefix       string        `mapstructure:"prefix"`
	ClientID     string        `mapstructure:"client_id"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type Scheduler struct {
	Enabled           bool          `mapstructure:"enabled"`
	Driver            string        `mapstructure:"driver"` // "sqlite" or "postgres"
	DSN               string        `mapstructure:"dsn"`
	MaxShards         int64         `mapstructure:"max_shards"`
	LeaseDuration     time.Duration `mapstructure:"lease_duration"`
	LeaseSkew         time.Duration `mapstructure:"lease_skew"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	BatchSize         int           `mapstructure:"batch_size"`
	TotalComputeUnits int64         `mapstructure:"total_compute_units"`
}

type StorageBackend struct {
	Kind              string `mapstructure:"kind"` // "memory" or "s3"
	Label             string `mapstructure:"label"`
	MatchPattern      string `mapstructure:"match_pattern"`
	S3Bucket          string `mapstructure:"s3_bucket"`
	S3Prefix          string `mapstructure:"s3_prefix"`
	CompressThreshold int    `mapstructure:"compress_threshold_bytes"`
}

type Storage struct {
	Mode     string           `mapstructure:"mode"` // "labeled" or "muxed"
	Backends []StorageBackend `mapstructure:"backends"`
	GCSpec   string           `mapstructure:"gc_cron_spec"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Endpoint     string  `mapstructure:"endpoint"`
	Environment  string  `mapstructure:"environment"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

type Observability struct {
	MetricsPort int           `mapstructure:"metrics_port"`
	LogLevel    string        `mapstructure:"log_level"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

type RPC struct {
	GRPCAddr string `mapstructure:"grpc_addr"`
	HTTPAddr string `mapstructure:"http_addr"`
}

type Config struct {
	InstanceID  string        `mapstructure:"instance_id"`
	Namespacer  Namespacer    `mapstructure:"namespacer"`
	Enforcer    Enforcer      `mapstructure:"enforcer"`
	Interceptor Interceptor   `mapstructure:"interceptor"`
	Delegator   Delegator     `mapstructure:"delegator"`
	JobManager  JobManager    `mapstructure:"job_manager"`
	Scheduler   Scheduler     `mapstructure:"scheduler"`
	QFlow       QFlow         `mapstructure:"qflow"`
	Storage     Storage       `mapstructure:"storage"`
	Observability Observability `mapstructure:"observability"`
	RPC         RPC           `mapstructure:"rpc"`
}

func defaultConfig() *Config {
	return &Config{
		InstanceID: "instance-1",
		Namespacer: Namespacer{Enabled: true},
		Enforcer:   Enforcer{Enabled: true, PolicyExtKey: "channel.policy_handle"},
		Interceptor: Interceptor{
			Enabled:   false,
			Transport: "grpc",
			Timeout:   5 * time.Second,
		},
		Delegator: Delegator{Enabled: false, MaxJobs: 64},
		JobManager: JobManager{
			MaxCost:             map[string]float64{"compute": 1000},
			AdmissionRatePerSec: 0,
			AdmissionBurst:      0,
		},
		Scheduler: Scheduler{
			Enabled:           true,
			Driver:            "sqlite",
			DSN:               "file:scheduler.db?cache=shared",
			MaxShards:         256,
			LeaseDuration:     30 * time.Second,
			LeaseSkew:         5 * time.Second,
			PollInterval:      2 * time.Second,
			BatchSize:         50,
			TotalComputeUnits: 1000,
		},
		QFlow: QFlow{
			RedisAddr:    "localhost:6379",
			Prefix:       "mitsuha:qflow",
			ClientID:     "instance-1",
			PollInterval: 200 * time.Millisecond,
		},
		Storage: Storage{
			Mode:     "labeled",
			Backends: []StorageBackend{{Kind: "memory", Label: "default"}},
			GCSpec:   "0 */6 * * *",
		},
		Observability: Observability{
			MetricsPort: 9090,
			LogLevel:    "info",
			Tracing:     TracingConfig{SamplingRate: 0.1},
		},
		RPC: RPC{GRPCAddr: ":7070", HTTPAddr: ":8080"},
	}
}

// Load reads path (YAML) into a Config, falling back to built-in defaults
// for any key the file or environment doesn't set. Environment variables
// override file values using underscore-joined paths (e.g.
// SCHEDULER_POLL_INTERVAL).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("instance_id", def.InstanceID)
	v.SetDefault("namespacer.enabled", def.Namespacer.Enabled)
	v.SetDefault("enforcer.enabled", def.Enforcer.Enabled)
	v.SetDefault("enforcer.policy_ext_key", def.Enforcer.PolicyExtKey)
	v.SetDefault("interceptor.enabled", def.Interceptor.Enabled)
	v.SetDefault("interceptor.transport", def.Interceptor.Transport)
	v.SetDefault("interceptor.timeout", def.Interceptor.Timeout)
	v.SetDefault("delegator.enabled", def.Delegator.Enabled)
	v.SetDefault("delegator.max_jobs", def.Delegator.MaxJobs)
	v.SetDefault("job_manager.max_cost", def.JobManager.MaxCost)
	v.SetDefault("scheduler.enabled", def.Scheduler.Enabled)
	v.SetDefault("scheduler.driver", def.Scheduler.Driver)
	v.SetDefault("scheduler.dsn", def.Scheduler.DSN)
	v.SetDefault("scheduler.max_shards", def.Scheduler.MaxShards)
	v.SetDefault("scheduler.lease_duration", def.Scheduler.LeaseDuration)
	v.SetDefault("scheduler.lease_skew", def.Scheduler.LeaseSkew)
	v.SetDefault("scheduler.poll_interval", def.Scheduler.PollInterval)
	v.SetDefault("scheduler.batch_size", def.Scheduler.BatchSize)
	v.SetDefault("scheduler.total_compute_units", def.Scheduler.TotalComputeUnits)
	v.SetDefault("qflow.redis_addr", def.QFlow.RedisAddr)
	v.SetDefault("qflow.prefix", def.QFlow.Prefix)
	v.SetDefault("qflow.client_id", def.QFlow.ClientID)
	v.SetDefault("qflow.poll_interval", def.QFlow.PollInterval)
	v.SetDefault("storage.mode", def.Storage.Mode)
	v.SetDefault("storage.gc_cron_spec", def.Storage.GCSpec)
	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.sampling_rate", def.Observability.Tracing.SamplingRate)
	v.SetDefault("rpc.grpc_addr", def.RPC.GRPCAddr)
	v.SetDefault("rpc.http_addr", def.RPC.HTTPAddr)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := *def
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Storage.Backends) == 0 {
		cfg.Storage.Backends = def.Storage.Backends
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants Load alone can't express through defaults.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("config: instance_id must not be empty")
	}
	if cfg.Scheduler.Enabled && cfg.Scheduler.DSN == "" {
		return fmt.Errorf("config: scheduler.dsn required when scheduler.enabled")
	}
	if cfg.Scheduler.Enabled && cfg.Scheduler.Driver != "sqlite" && cfg.Scheduler.Driver != "postgres" {
		return fmt.Errorf("config: scheduler.driver must be \"sqlite\" or \"postgres\", got %q", cfg.Scheduler.Driver)
	}
	if !cfg.Scheduler.Enabled && cfg.QFlow.RedisAddr == "" {
		return fmt.Errorf("config: qflow.redis_addr required when scheduler.enabled is false")
	}
	if cfg.Storage.Mode != "labeled" && cfg.Storage.Mode != "muxed" {
		return fmt.Errorf("config: storage.mode must be \"labeled\" or \"muxed\", got %q", cfg.Storage.Mode)
	}
	if cfg.Storage.Mode == "muxed" {
		for _, b := range cfg.Storage.Backends {
			if b.MatchPattern == "" {
				return fmt.Errorf("config: muxed storage backend %q missing match_pattern", b.Label)
			}
		}
	}
	if cfg.Interceptor.Enabled {
		switch cfg.Interceptor.Transport {
		case "grpc":
			if cfg.Interceptor.Target == "" {
				return fmt.Errorf("config: interceptor.target required for grpc transport")
			}
		case "nats":
			if cfg.Interceptor.Target == "" || cfg.Interceptor.Subject == "" {
				return fmt.Errorf("config: interceptor.target and interceptor.subject required for nats transport")
			}
		default:
			return fmt.Errorf("config: interceptor.transport must be \"grpc\" or \"nats\", got %q", cfg.Interceptor.Transport)
		}
	}
	if cfg.Delegator.Enabled && cfg.Delegator.PeerID == "" {
		return fmt.Errorf("config: delegator.peer_id required when delegator.enabled")
	}
	return nil
}
