package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/classgrade/gradepipe/internal/logger"
	"github.com/classgrade/gradepipe/internal/validator"
)

type StudentConfig struct {
	ID      string `mapstructure:"id"       json:"id"       validate:"required"`
	Name    string `mapstructure:"name"     json:"name"     validate:"required"`
	Email   string `mapstructure:"email"    json:"email"    validate:"required,email"`
	RepoURL string `mapstructure:"repo_url" json:"repo_url" validate:"omitempty,url"`
}

type StepConfig struct {
	Name    string   `mapstructure:"name"    json:"name"    validate:"required"`
	Command []string `mapstructure:"command" json:"command" validate:"required,min=1"`
}

type LimitsConfig struct {
	CPUSeconds      int64 `mapstructure:"cpu_seconds"       json:"cpu_seconds"`
	WallSeconds     int64 `mapstructure:"wall_seconds"      json:"wall_seconds"`
	MemoryBytes     int64 `mapstructure:"memory_bytes"      json:"memory_bytes"`
	MaxPids         int64 `mapstructure:"max_pids"          json:"max_pids"`
	MaxFileBytes    int64 `mapstructure:"max_file_bytes"    json:"max_file_bytes"`
	MaxOutputBytes  int64 `mapstructure:"max_output_bytes"  json:"max_output_bytes"`
	MaxProcessBytes int64 `mapstructure:"max_process_bytes" json:"max_process_bytes"`
}

type AssignmentConfig struct {
	Limits     *LimitsConfig `mapstructure:"limits"      json:"limits"`
	ID         string        `mapstructure:"id"          json:"id"          validate:"required"`
	HarnessDir string        `mapstructure:"harness_dir" json:"harness_dir" validate:"required"`
	Aliases    []string      `mapstructure:"aliases"     json:"aliases"`
	Steps      []StepConfig  `mapstructure:"steps"       json:"steps"       validate:"required,min=1"`
}

type CourseConfig struct {
	ID          string             `mapstructure:"id"          json:"id"          validate:"required"`
	Students    []StudentConfig    `mapstructure:"students"    json:"students"    validate:"required"`
	Assignments []AssignmentConfig `mapstructure:"assignments" json:"assignments" validate:"required"`
}

type PostgresConfig struct {
	User               string        `validate:"required"`
	Password           string        `validate:"required"`
	Host               string        `validate:"required"`
	Database           string        `validate:"required"`
	MaxIdleConnections int           `validate:"required" mapstructure:"max_idle_connections"`
	MaxOpenConnections int           `validate:"required" mapstructure:"max_open_connections"`
	ConnectionTTL      time.Duration `validate:"required" mapstructure:"connection_ttl"`
	Port               int16         `validate:"required"`
}

type SlogConfig struct {
	Level int `mapstructure:"level"`
}

type GormLogConfig struct {
	Level        int  `mapstructure:"level"`
	TraceQueries bool `mapstructure:"trace_queries"`
}

type LoggingConfig struct {
	Gorm GormLogConfig `mapstructure:"gorm"`
	App  SlogConfig    `mapstructure:"app"`
}

type IntakeConfig struct {
	RedisHost       string `mapstructure:"redis_host"        validate:"required"`
	Queue           string `mapstructure:"queue"             validate:"required"`
	Workers         int    `mapstructure:"workers"           validate:"required,min=1"`
	MaxArchiveBytes int64  `mapstructure:"max_archive_bytes" validate:"required"`
	MaxFiles        int    `mapstructure:"max_files"         validate:"required"`
	MaxFileBytes    int64  `mapstructure:"max_file_bytes"    validate:"required"`
}

type S3ArchiveConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	SSLEnabled      bool   `mapstructure:"ssl_enabled"`
}

type SandboxConfig struct {
	BaseDir        string       `mapstructure:"base_dir"        validate:"required"`
	InitPath       string       `mapstructure:"init_path"       validate:"required"`
	CgroupRoot     string       `mapstructure:"cgroup_root"     validate:"required"`
	UID            uint32       `mapstructure:"uid"`
	GID            uint32       `mapstructure:"gid"`
	IsolateNetwork *bool        `mapstructure:"isolate_network" validate:"required"`
	Limits         LimitsConfig `mapstructure:"limits"`
}

type GithubConfig struct {
	AppID          *int64  `mapstructure:"app_id"`
	AppKeyPath     *string `mapstructure:"app_key_path"`
	InstallationID *int64  `mapstructure:"installation_id"`
	Token          string  `mapstructure:"token"`
}

type DispatchConfig struct {
	Enabled         *bool         `mapstructure:"enabled"           validate:"required"`
	Github          *GithubConfig `mapstructure:"github"`
	BranchPrefix    string        `mapstructure:"branch_prefix"     validate:"required"`
	CommitterName   string        `mapstructure:"committer_name"    validate:"required"`
	CommitterEmail  string        `mapstructure:"committer_email"   validate:"required,email"`
	OpenPullRequest bool          `mapstructure:"open_pull_request"`
	PullRequestBase string        `mapstructure:"pull_request_base"`
}

type RateLimitConfig struct {
	RedisHost       string `mapstructure:"redis_host"`
	GlobalPerMinute int64  `mapstructure:"global_per_minute"`
	FailOpen        bool   `mapstructure:"fail_open"`
}

// See gradepipe.yaml for an example config
type Config struct {
	Course               *CourseConfig    `mapstructure:"course"                 validate:"required"`
	Postgres             *PostgresConfig  `mapstructure:"postgres"               validate:"required"`
	Logging              *LoggingConfig   `mapstructure:"logging"                validate:"required"`
	Intake               *IntakeConfig    `mapstructure:"intake"                 validate:"required"`
	S3Archive            *S3ArchiveConfig `mapstructure:"s3_archive"             validate:"required"`
	Sandbox              *SandboxConfig   `mapstructure:"sandbox"                validate:"required"`
	Dispatch             *DispatchConfig  `mapstructure:"dispatch"               validate:"required"`
	RateLimit            *RateLimitConfig `mapstructure:"ratelimit"`
	TempDir              *string          `mapstructure:"temp_dir"`
	ListenAddress        string           `mapstructure:"listen_address"         validate:"required"`
	GracefulShutdownSecs int64            `mapstructure:"graceful_shutdown_secs"`
}

const (
	AppLogLevel           string = "logging.app.level"
	DispatchEnabled       string = "dispatch.enabled"
	DispatchBranchPrefix  string = "dispatch.branch_prefix"
	DispatchCommitterMail string = "dispatch.committer_email"
	DispatchCommitterName string = "dispatch.committer_name"
	DispatchPRBase        string = "dispatch.pull_request_base"
	EnvPrefix             string = "gradepipe"
	GithubToken           string = "dispatch.github.token" // #nosec
	GlobalPerMinute       string = "ratelimit.global_per_minute"
	GormLogLevel          string = "logging.gorm.level"
	GormTraceQueries      string = "logging.gorm.trace_queries"
	GracefulShutdownSecs  string = "graceful_shutdown_secs"
	IntakeMaxArchiveBytes string = "intake.max_archive_bytes"
	IntakeMaxFileBytes    string = "intake.max_file_bytes"
	IntakeMaxFiles        string = "intake.max_files"
	IntakeQueue           string = "intake.queue"
	IntakeRedisHost       string = "intake.redis_host"
	IntakeWorkers         string = "intake.workers"
	ListenAddress         string = "listen_address"
	PostgresConnectonTTL  string = "postgres.connection_ttl"
	PostgresDatabase      string = "postgres.database"
	PostgresHost          string = "postgres.host"
	PostgresMaxIdleConns  string = "postgres.max_idle_connections"
	PostgresMaxOpenConns  string = "postgres.max_open_connections"
	PostgresPassword      string = "postgres.password"
	PostgresPort          string = "postgres.port"
	PostgresUser          string = "postgres.user"
	RateLimitFailOpen     string = "ratelimit.fail_open"
	RedisHost             string = "ratelimit.redis_host"
	S3AccessKeyID         string = "s3_archive.access_key_id"
	S3SSLEnabled          string = "s3_archive.ssl_enabled"
	S3SecretAccessKey     string = "s3_archive.secret_access_key" // #nosec
	SandboxBaseDir        string = "sandbox.base_dir"
	SandboxCPUSeconds     string = "sandbox.limits.cpu_seconds"
	SandboxCgroupRoot     string = "sandbox.cgroup_root"
	SandboxFileBytes      string = "sandbox.limits.max_file_bytes"
	SandboxGID            string = "sandbox.gid"
	SandboxInitPath       string = "sandbox.init_path"
	SandboxIsolateNet     string = "sandbox.isolate_network"
	SandboxMemoryBytes    string = "sandbox.limits.memory_bytes"
	SandboxOutputBytes    string = "sandbox.limits.max_output_bytes"
	SandboxPids           string = "sandbox.limits.max_pids"
	SandboxProcessBytes   string = "sandbox.limits.max_process_bytes"
	SandboxUID            string = "sandbox.uid"
	SandboxWallSeconds    string = "sandbox.limits.wall_seconds"
	TempDir               string = "temp_dir"
)

var configReady = false
var config Config

func GetConfig() (*Config, error) {
	if configReady {
		logger.Logger.Debug("returning already-loaded config")
		return &config, nil
	}
	logger.Logger.Info("loading config")

	v := viper.New()

	v.SetConfigName("gradepipe")

	v.AddConfigPath("/etc/gradepipe/")
	v.AddConfigPath(".")

	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.AutomaticEnv()

	// workaround for https://github.com/spf13/viper/issues/761
	// bind env vars explicitly so they unmarshal into the nested struct
	err := v.BindEnv(PostgresPassword)
	if err != nil {
		return nil, err
	}

	err = v.BindEnv(S3AccessKeyID)
	if err != nil {
		return nil, err
	}

	err = v.BindEnv(S3SecretAccessKey)
	if err != nil {
		return nil, err
	}

	err = v.BindEnv(GithubToken)
	if err != nil {
		return nil, err
	}

	err = v.BindEnv(IntakeRedisHost)
	if err != nil {
		return nil, err
	}

	v.SetDefault(ListenAddress, "[::]:8840")
	v.SetDefault(PostgresHost, "localhost")
	v.SetDefault(PostgresPort, 5432)
	v.SetDefault(PostgresMaxIdleConns, 2)
	v.SetDefault(PostgresMaxOpenConns, 10)
	v.SetDefault(PostgresConnectonTTL, 10*time.Minute)
	v.SetDefault(GormLogLevel, int(slog.LevelDebug))
	v.SetDefault(GormTraceQueries, false)
	v.SetDefault(AppLogLevel, int(slog.LevelDebug))
	v.SetDefault(S3SSLEnabled, true)

	v.SetDefault(IntakeRedisHost, "localhost:6379")
	v.SetDefault(IntakeQueue, "gradepipe:intake")
	v.SetDefault(IntakeWorkers, 4)
	v.SetDefault(IntakeMaxArchiveBytes, 32<<20)
	v.SetDefault(IntakeMaxFiles, 512)
	v.SetDefault(IntakeMaxFileBytes, 8<<20)

	v.SetDefault(SandboxBaseDir, "/var/lib/gradepipe/runs")
	v.SetDefault(SandboxInitPath, "/usr/local/bin/jailinit")
	v.SetDefault(SandboxCgroupRoot, "/sys/fs/cgroup/gradepipe")
	v.SetDefault(SandboxUID, 65534)
	v.SetDefault(SandboxGID, 65534)
	v.SetDefault(SandboxIsolateNet, true)
	v.SetDefault(SandboxCPUSeconds, 10)
	v.SetDefault(SandboxWallSeconds, 60)
	v.SetDefault(SandboxMemoryBytes, 256<<20)
	v.SetDefault(SandboxPids, 64)
	v.SetDefault(SandboxFileBytes, 16<<20)
	v.SetDefault(SandboxOutputBytes, 64<<10)
	v.SetDefault(SandboxProcessBytes, 2<<30)

	v.SetDefault(DispatchEnabled, false)
	v.SetDefault(DispatchBranchPrefix, "graded/")
	v.SetDefault(DispatchCommitterName, "gradepipe")
	v.SetDefault(DispatchCommitterMail, "gradepipe@localhost")
	v.SetDefault(DispatchPRBase, "main")

	v.SetDefault(RedisHost, "localhost:6379")
	v.SetDefault(GlobalPerMinute, 0)
	v.SetDefault(RateLimitFailOpen, true)

	v.SetDefault(TempDir, "/tmp")
	v.SetDefault(GracefulShutdownSecs, 30)

	err = v.ReadInConfig()
	if err != nil {
		// ignore config file not found to allow pure env config
		if _, ok := err.(*viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	err = v.Unmarshal(&config)
	if err != nil {
		configReady = false
		return nil, err
	}

	valid := validator.Create()
	err = valid.Validate(&config)
	if err != nil {
		configReady = false
		return nil, err
	}

	configReady = true
	return &config, nil
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s",
		url.QueryEscape(c.Postgres.User),
		url.QueryEscape(c.Postgres.Password),
		c.Postgres.Host, c.Postgres.Port,
		url.QueryEscape(c.Postgres.Database),
	)
}

// AssignmentByID returns the assignment block for a decoded submission.
func (c *CourseConfig) AssignmentByID(id string) (*AssignmentConfig, bool) {
	for i := range c.Assignments {
		if c.Assignments[i].ID == id {
			return &c.Assignments[i], true
		}
	}

	return nil, false
}

// StudentByID returns the roster entry for a decoded submission.
func (c *CourseConfig) StudentByID(id string) (*StudentConfig, bool) {
	for i := range c.Students {
		if c.Students[i].ID == id {
			return &c.Students[i], true
		}
	}

	return nil, false
}

// EffectiveLimits merges an assignment's overrides over the sandbox defaults.
// Zero fields in the override keep the default.
func (c *Config) EffectiveLimits(assignment *AssignmentConfig) LimitsConfig {
	limits := c.Sandbox.Limits
	if assignment == nil || assignment.Limits == nil {
		return limits
	}

	override := assignment.Limits
	if override.CPUSeconds > 0 {
		limits.CPUSeconds = override.CPUSeconds
	}
	if override.WallSeconds > 0 {
		limits.WallSeconds = override.WallSeconds
	}
	if override.MemoryBytes > 0 {
		limits.MemoryBytes = override.MemoryBytes
	}
	if override.MaxPids > 0 {
		limits.MaxPids = override.MaxPids
	}
	if override.MaxFileBytes > 0 {
		limits.MaxFileBytes = override.MaxFileBytes
	}
	if override.MaxOutputBytes > 0 {
		limits.MaxOutputBytes = override.MaxOutputBytes
	}
	if override.MaxProcessBytes > 0 {
		limits.MaxProcessBytes = override.MaxProcessBytes
	}

	return limits
}
