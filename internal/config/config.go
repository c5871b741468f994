// Package config loads service settings from the environment, an optional
// .env file and an optional YAML config file.
package config

import (
	stderrors "errors"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"templater/internal/adapters/storage/gdrive"
	"templater/internal/httpkit"
	"templater/internal/pkg/errors"
	"templater/internal/pkg/logger"
	"templater/internal/storage"
)

// Keys double as lower-case environment variable names.
const (
	KeyConfigFile      = "config_file"
	KeyTemplatesPath   = "templates_path"
	KeyAssetsPath      = "assets_path"
	KeyMayOutputToFile = "may_output_to_file"
	KeyHTTPAddr        = "http_addr"
	KeyShutdownTimeout = "shutdown_timeout"
	KeyCORSOrigins     = "cors_allowed_origins"
	KeyLogLevel        = "log_level"
	KeyLogFormat       = "log_format"
	KeyLogSource       = "log_source"
	KeyCompilerCommand = "compiler_command"
	KeyCompileTimeout  = "compile_timeout"
	KeyUploadTimeout   = "upload_timeout"
	KeyWorkRoot        = "work_root"
	KeyDatabaseURL     = "database_url"
	KeyQueueBackend    = "queue_backend"
	KeyRedisAddr       = "redis_addr"
	KeyRedisPassword   = "redis_password"
	KeyQueueName       = "queue_name"
	KeyResultQueue     = "result_queue"
	KeySQSQueueURL     = "sqs_queue_url"
	KeySQSResultURL    = "sqs_result_queue_url"
	KeyConcurrency     = "worker_concurrency"
	KeyGDriveClientID  = "gdrive_client_id"
	KeyGDriveSecret    = "gdrive_client_secret"
	KeyGDriveRefresh   = "gdrive_refresh_token"
	KeyGDriveFolderID  = "gdrive_folder_id"
)

const (
	QueueRedis = "redis"
	QueueSQS   = "sqs"
)

type Config struct {
	TemplatesPath   string
	AssetsPath      string
	MayOutputToFile bool
	WorkRoot        string

	HTTP     HTTPConfig
	Log      LogConfig
	Compiler CompilerConfig
	Queue    QueueConfig
	Storage  storage.Config

	UploadTimeout time.Duration
	DatabaseURL   string
}

type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type LogConfig struct {
	Level  string
	Format string
	Source bool
}

// Logger returns the logger settings for service, writing to out.
func (c LogConfig) Logger(service string, out io.Writer) logger.Config {
	return logger.Config{
		Level:       c.Level,
		Format:      c.Format,
		Output:      out,
		AddSource:   c.Source,
		ServiceName: service,
	}
}

type CompilerConfig struct {
	Command string
	Timeout time.Duration
}

type QueueConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	Name          string
	ResultQueue   string
	SQSQueueURL   string
	SQSResultURL  string
	Concurrency   int
}

// New returns a viper instance that reads the environment, after loading
// envFiles (default ".env") into it. Missing env files are ignored.
func New(envFiles ...string) (*viper.Viper, error) {
	if err := godotenv.Load(envFiles...); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.WrapWithCode(err, errors.CodeValidation, "config.dotenv", "cannot read env file")
	}

	v := viper.New()
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()
	setDefaults(v)
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyTemplatesPath, "./templates")
	v.SetDefault(KeyAssetsPath, "./assets")
	v.SetDefault(KeyHTTPAddr, "0.0.0.0:8080")
	v.SetDefault(KeyShutdownTimeout, "0")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")
	v.SetDefault(KeyLogSource, false)
	v.SetDefault(KeyCompilerCommand, "context")
	v.SetDefault(KeyCompileTimeout, "0")
	v.SetDefault(KeyUploadTimeout, "0")
	v.SetDefault(KeyQueueBackend, QueueRedis)
	v.SetDefault(KeyQueueName, "templater:jobs")
	v.SetDefault(KeyConcurrency, 5)
}

// Load reads the process configuration.
func Load() (*Config, error) {
	v, err := New()
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper builds a Config from v, reading the YAML file named by
// CONFIG_FILE first when set.
func FromViper(v *viper.Viper) (*Config, error) {
	if file := strings.TrimSpace(v.GetString(KeyConfigFile)); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.WrapWithCode(err, errors.CodeValidation, "config.file", "cannot read config file").
				WithField("file", file)
		}
	}

	cfg := &Config{
		TemplatesPath:   v.GetString(KeyTemplatesPath),
		AssetsPath:      v.GetString(KeyAssetsPath),
		MayOutputToFile: presenceFlag(v, KeyMayOutputToFile),
		WorkRoot:        v.GetString(KeyWorkRoot),
		HTTP: HTTPConfig{
			Addr:           v.GetString(KeyHTTPAddr),
			AllowedOrigins: httpkit.SplitOrigins(v.GetString(KeyCORSOrigins)),
		},
		Log: LogConfig{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
			Source: v.GetBool(KeyLogSource),
		},
		Compiler: CompilerConfig{
			Command: v.GetString(KeyCompilerCommand),
		},
		Queue: QueueConfig{
			Backend:       strings.ToLower(strings.TrimSpace(v.GetString(KeyQueueBackend))),
			RedisAddr:     v.GetString(KeyRedisAddr),
			RedisPassword: v.GetString(KeyRedisPassword),
			Name:          v.GetString(KeyQueueName),
			ResultQueue:   v.GetString(KeyResultQueue),
			SQSQueueURL:   v.GetString(KeySQSQueueURL),
			SQSResultURL:  v.GetString(KeySQSResultURL),
			Concurrency:   v.GetInt(KeyConcurrency),
		},
		Storage: storage.Config{
			GDrive: gdrive.Credentials{
				ClientID:     v.GetString(KeyGDriveClientID),
				ClientSecret: v.GetString(KeyGDriveSecret),
				RefreshToken: v.GetString(KeyGDriveRefresh),
				FolderID:     v.GetString(KeyGDriveFolderID),
			},
		},
		DatabaseURL: v.GetString(KeyDatabaseURL),
	}

	var err error
	if cfg.HTTP.ShutdownTimeout, err = duration(v, KeyShutdownTimeout); err != nil {
		return nil, err
	}
	if cfg.Compiler.Timeout, err = duration(v, KeyCompileTimeout); err != nil {
		return nil, err
	}
	if cfg.UploadTimeout, err = duration(v, KeyUploadTimeout); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Configured reports whether the selected backend has an address to use.
func (q QueueConfig) Configured() bool {
	if q.Backend == QueueSQS {
		return strings.TrimSpace(q.SQSQueueURL) != ""
	}
	return strings.TrimSpace(q.RedisAddr) != ""
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.TemplatesPath) == "" {
		return errors.ValidationField(KeyTemplatesPath, "templates path is required")
	}
	if c.Queue.Concurrency < 1 {
		return errors.ValidationField(KeyConcurrency, "worker concurrency must be at least 1")
	}
	switch c.Queue.Backend {
	case QueueRedis, QueueSQS:
	default:
		return errors.Validationf("unknown queue backend %q", c.Queue.Backend).WithField("field", KeyQueueBackend)
	}
	return nil
}

// presenceFlag is true when key is set at all, unless its value is an
// explicit false.
func presenceFlag(v *viper.Viper, key string) bool {
	if !v.IsSet(key) {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v.GetString(key))) {
	case "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

// duration accepts Go durations ("90s") and bare seconds ("90").
func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, errors.ValidationField(key, "duration must not be negative")
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.CodeValidation, "config.duration", "invalid duration").
			WithField("field", key)
	}
	if d < 0 {
		return 0, errors.ValidationField(key, "duration must not be negative")
	}
	return d, nil
}
