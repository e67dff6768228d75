package config

import (
	"afl-sancov/internal/types"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultDDNum       = 1
	DefaultExecTimeout = 5 * time.Second
	DefaultSanitizer   = "address"
	DefaultSymbolizer  = "llvm-symbolizer"
	OutputDirName      = "sancov"
)

type AppConfig struct {
	FuzzingDir   string
	OutputDir    string
	Overwrite    bool
	DDMode       bool
	DDNum        int
	QueueIDLimit int
	LogLevel     string

	Runner RunnerConfig
	Sinks  SinkConfig

	CoreCount   int
	ServiceName string
}

// RunnerConfig describes how the instrumented target is executed.
type RunnerConfig struct {
	CoverageCmd      []string
	BinPath          string
	Sanitizer        string // address, undefined or memory
	SanitizerOptions string // appended to <SAN>_OPTIONS
	LLVMSymbolizer   string
	SrcPrefix        string // stripped from symbolized file names
	ExecTimeout      time.Duration
}

// SinkConfig holds the optional destinations reports are published to in
// addition to the output directory. Empty values disable a sink.
type SinkConfig struct {
	DatabaseURL        string
	RedisUrl           string
	RedisSentinelHosts string
	RedisMasterName    string
	RabbitMQURL        string
	OTLPEndpoint       string
}

// LoadConfig merges, in increasing priority, built-in defaults, the YAML
// file given with --config, environment variables (a .env file is loaded
// first) and command line options.
func LoadConfig(opts *Options) (*AppConfig, error) {
	godotenv.Load()

	config := &AppConfig{
		DDNum: DefaultDDNum,
		Runner: RunnerConfig{
			Sanitizer:      DefaultSanitizer,
			LLVMSymbolizer: DefaultSymbolizer,
			ExecTimeout:    DefaultExecTimeout,
		},
		CoreCount:   runtime.NumCPU(),
		ServiceName: "afl-sancov",
	}

	if opts.ConfigFile != "" {
		file, err := loadFile(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		if err := file.apply(config); err != nil {
			return nil, err
		}
	}

	applyEnv(config)
	applyOptions(config, opts)

	if err := validate(config, opts); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(config *AppConfig) {
	config.LogLevel = os.Getenv("LOG_LEVEL")
	config.CoreCount = parseInt(os.Getenv("CORE_COUNT"), config.CoreCount)
	config.Runner.ExecTimeout = parseDuration(os.Getenv("SANCOV_EXEC_TIMEOUT"), config.Runner.ExecTimeout)
	if v := os.Getenv("LLVM_SYMBOLIZER_PATH"); v != "" {
		config.Runner.LLVMSymbolizer = v
	}
	if v := os.Getenv("SERVICE_NAME"); v != "" {
		config.ServiceName = v
	}
	config.Sinks = SinkConfig{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisUrl:           os.Getenv("REDIS_URL"),
		RedisSentinelHosts: os.Getenv("REDIS_SENTINEL_HOSTS"),
		RedisMasterName:    os.Getenv("REDIS_MASTER"),
		RabbitMQURL:        os.Getenv("RABBITMQ_URL"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

func applyOptions(config *AppConfig, opts *Options) {
	if opts.FuzzingDir != "" {
		config.FuzzingDir = opts.FuzzingDir
	}
	if opts.OutputDir != "" {
		config.OutputDir = opts.OutputDir
	}
	config.Overwrite = opts.Overwrite
	config.DDMode = opts.DDMode
	if opts.DDNum != 0 {
		config.DDNum = opts.DDNum
	}
	if opts.QueueIDLimit != 0 {
		config.QueueIDLimit = opts.QueueIDLimit
	}
	if opts.CoverageCmd != "" {
		config.Runner.CoverageCmd = strings.Fields(opts.CoverageCmd)
	}
	if opts.BinPath != "" {
		config.Runner.BinPath = opts.BinPath
	}
	if opts.Sanitizer != "" {
		config.Runner.Sanitizer = opts.Sanitizer
	}
	if opts.LLVMSym != "" {
		config.Runner.LLVMSymbolizer = opts.LLVMSym
	}
	if opts.SrcPrefix != "" {
		config.Runner.SrcPrefix = opts.SrcPrefix
	}
	if opts.Timeout != 0 {
		config.Runner.ExecTimeout = opts.Timeout
	}
	if opts.Workers != 0 {
		config.CoreCount = opts.Workers
	}
	if opts.Verbose {
		config.LogLevel = "debug"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info" // Set default log level
	}
}

func validate(config *AppConfig, opts *Options) error {
	if config.FuzzingDir == "" {
		return &types.ConfigError{Field: "afl-fuzzing-dir", Reason: "must set --afl-fuzzing-dir"}
	}
	if info, err := os.Stat(config.FuzzingDir); err != nil || !info.IsDir() {
		return &types.ConfigError{Field: "afl-fuzzing-dir", Reason: fmt.Sprintf("%s is not a directory", config.FuzzingDir)}
	}
	if config.OutputDir == "" {
		config.OutputDir = filepath.Join(config.FuzzingDir, OutputDirName)
	}

	if opts.DDNum != 0 && !config.DDMode {
		return &types.ConfigError{Field: "dd-num", Reason: "--dd-num requires --dd-mode"}
	}
	if config.DDNum < 1 {
		return &types.ConfigError{Field: "dd-num", Reason: "must be at least 1"}
	}
	if config.QueueIDLimit < 0 {
		return &types.ConfigError{Field: "afl-queue-id-limit", Reason: "must not be negative"}
	}
	if config.CoreCount < 1 {
		return &types.ConfigError{Field: "workers", Reason: "must be at least 1"}
	}
	if config.Runner.ExecTimeout <= 0 {
		return &types.ConfigError{Field: "timeout", Reason: "must be positive"}
	}

	switch config.Runner.Sanitizer {
	case "address", "undefined", "memory":
	default:
		return &types.ConfigError{Field: "sanitizer", Reason: fmt.Sprintf("unsupported sanitizer %q", config.Runner.Sanitizer)}
	}

	if len(config.Runner.CoverageCmd) == 0 {
		return &types.ConfigError{Field: "coverage-cmd", Reason: "must set --coverage-cmd"}
	}
	if config.Runner.BinPath == "" {
		config.Runner.BinPath = config.Runner.CoverageCmd[0]
	}
	binPath, err := exec.LookPath(config.Runner.BinPath)
	if err != nil {
		return &types.ConfigError{Field: "bin-path", Reason: err.Error()}
	}
	config.Runner.BinPath = binPath
	return nil
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseInt(val string, defaultVal int) int {
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}
