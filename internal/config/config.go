// Package config loads the supervisor process's configuration: pool
// bounds and policy (§6 of the spec), the admin/submit HTTP server, and
// the ambient concerns (auth, rate limiting, metrics, optional Redis
// event mirror, logging). Layering follows the teacher's: defaults, an
// optional config file, then environment overrides, via viper.
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/nodalcore/poolsupervisor/internal/balancer"
	"github.com/nodalcore/poolsupervisor/internal/supervisor"
)

type Config struct {
	Server    ServerConfig
	Pool      PoolConfig
	Redis     RedisConfig
	Metrics   MetricsConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	LogLevel  string
}

// ServerConfig holds the admin/submit HTTP listener's settings. AdminPort
// is reserved for a future split between the submit surface and the
// admin surface; both are currently mounted on the same router and Port.
type ServerConfig struct {
	Host         string
	Port         int
	AdminPort    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// PoolConfig mirrors supervisor.Config field for field, in the units
// viper is comfortable binding (durations as time.Duration, converted to
// the millisecond ints the Config struct wants at ToSupervisorConfig
// time).
type PoolConfig struct {
	BinaryPath string

	PoolSize   int
	MinWorkers int
	MaxWorkers int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ZombieThreshold   time.Duration

	TaskTimeout    time.Duration
	MaxTaskRetries int
	RetryBackoff   time.Duration
	MaxBackoff     time.Duration

	LoadBalancing string

	AutoRestart        bool
	MaxRestartAttempts int
	RestartCooldown    time.Duration

	WorkerMemoryThresholdMB uint64
	RestartOnMemory         bool

	MaxQueueDepth    int
	SubmitOnOverflow string

	ScaleUpQueueThreshold  int
	ScaleDownIdleThreshold int
	ScaleStep              int
	ScaleInterval          time.Duration
	AutoScale              bool

	ShutdownGrace time.Duration
}

// ToSupervisorConfig converts the viper-bound PoolConfig into the
// millisecond-denominated supervisor.Config the Supervisor constructor
// expects.
func (p PoolConfig) ToSupervisorConfig() supervisor.Config {
	overflow := supervisor.OverflowBlock
	if p.SubmitOnOverflow == string(supervisor.OverflowReject) {
		overflow = supervisor.OverflowReject
	}
	return supervisor.Config{
		BinaryPath: p.BinaryPath,

		PoolSize:   p.PoolSize,
		MinWorkers: p.MinWorkers,
		MaxWorkers: p.MaxWorkers,

		HeartbeatIntervalMS: p.HeartbeatInterval.Milliseconds(),
		HeartbeatTimeoutMS:  p.HeartbeatTimeout.Milliseconds(),
		ZombieThresholdMS:   p.ZombieThreshold.Milliseconds(),

		TaskTimeoutMS:  p.TaskTimeout.Milliseconds(),
		MaxTaskRetries: p.MaxTaskRetries,
		RetryBackoffMS: p.RetryBackoff.Milliseconds(),
		MaxBackoffMS:   p.MaxBackoff.Milliseconds(),

		LoadBalancing: p.LoadBalancing,

		AutoRestart:        p.AutoRestart,
		MaxRestartAttempts: p.MaxRestartAttempts,
		RestartCooldownMS:  p.RestartCooldown.Milliseconds(),

		WorkerMemoryThresholdMB: p.WorkerMemoryThresholdMB,
		RestartOnMemory:         p.RestartOnMemory,

		MaxQueueDepth:    p.MaxQueueDepth,
		SubmitOnOverflow: overflow,

		ScaleUpQueueThreshold:  p.ScaleUpQueueThreshold,
		ScaleDownIdleThreshold: p.ScaleDownIdleThreshold,
		ScaleStep:              p.ScaleStep,
		ScaleIntervalMS:        p.ScaleInterval.Milliseconds(),
		AutoScale:              p.AutoScale,

		ShutdownGraceMS: p.ShutdownGrace.Milliseconds(),

		WorkerReadyTimeout: 10 * time.Second,
	}
}

// RedisConfig configures the optional Redis event mirror
// (internal/events.RedisMirror). The core dispatch loop never depends on
// this; it is purely an external fan-out target.
type RedisConfig struct {
	Enabled      bool
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

// AuthConfig protects the admin HTTP surface (scale/shutdown/DLQ), not
// task submission — submitter authentication is a spec non-goal.
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	APIKeys   []string
}

type RateLimitConfig struct {
	RPS int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/poolsupervisor")

	setDefaults()

	viper.SetEnvPrefix("POOLSUPERVISOR")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.adminport", 8081)
	viper.SetDefault("server.readtimeout", 30*time.Second)
	viper.SetDefault("server.writetimeout", 30*time.Second)
	viper.SetDefault("server.idletimeout", 120*time.Second)

	// Pool defaults: mirror supervisor.DefaultConfig()'s values exactly,
	// plus the two the caller must set (binarypath, poolsize).
	viper.SetDefault("pool.binarypath", "./poolworker")
	viper.SetDefault("pool.poolsize", 4)
	viper.SetDefault("pool.minworkers", 1)
	viper.SetDefault("pool.maxworkers", 100)

	viper.SetDefault("pool.heartbeatinterval", 5*time.Second)
	viper.SetDefault("pool.heartbeattimeout", 15*time.Second)
	viper.SetDefault("pool.zombiethreshold", 30*time.Second)

	viper.SetDefault("pool.tasktimeout", 5*time.Minute)
	viper.SetDefault("pool.maxtaskretries", 3)
	viper.SetDefault("pool.retrybackoff", 1*time.Second)
	viper.SetDefault("pool.maxbackoff", 30*time.Second)

	viper.SetDefault("pool.loadbalancing", balancer.StrategyRoundRobin)

	viper.SetDefault("pool.autorestart", true)
	viper.SetDefault("pool.maxrestartattempts", 3)
	viper.SetDefault("pool.restartcooldown", 5*time.Second)

	viper.SetDefault("pool.workermemorythresholdmb", uint64(512))
	viper.SetDefault("pool.restartonmemory", false)

	viper.SetDefault("pool.maxqueuedepth", 1000)
	viper.SetDefault("pool.submitonoverflow", "block")

	viper.SetDefault("pool.scaleupqueuethreshold", 50)
	viper.SetDefault("pool.scaledownidlethreshold", 5)
	viper.SetDefault("pool.scalestep", 10)
	viper.SetDefault("pool.scaleinterval", 30*time.Second)
	viper.SetDefault("pool.autoscale", false)

	viper.SetDefault("pool.shutdowngrace", 5*time.Minute)

	// Redis defaults (event mirror only)
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolsize", 100)
	viper.SetDefault("redis.minidleconns", 10)
	viper.SetDefault("redis.maxretries", 3)
	viper.SetDefault("redis.dialtimeout", 5*time.Second)
	viper.SetDefault("redis.readtimeout", 3*time.Second)
	viper.SetDefault("redis.writetimeout", 3*time.Second)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Auth defaults
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwtsecret", "")
	viper.SetDefault("auth.apikeys", []string{})

	// Rate limit defaults
	viper.SetDefault("ratelimit.rps", 1000)

	// Logging defaults
	viper.SetDefault("loglevel", "info")
}
