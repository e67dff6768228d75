package config

import (
	"afl-sancov/internal/types"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML run descriptor, e.g.
//
//	coverage_cmd: ./fuzz-target-sancov AFL_FILE
//	sanitizer: address
//	timeout: 10s
//	src_prefix: /src/
type FileConfig struct {
	CoverageCmd      string `yaml:"coverage_cmd"`
	BinPath          string `yaml:"bin_path"`
	Sanitizer        string `yaml:"sanitizer"`
	SanitizerOptions string `yaml:"sanitizer_options"`
	LLVMSymbolizer   string `yaml:"llvm_symbolizer"`
	SrcPrefix        string `yaml:"src_prefix"`
	Timeout          string `yaml:"timeout"`
	Workers          int    `yaml:"workers"`
	DDNum            int    `yaml:"dd_num"`
	QueueIDLimit     int    `yaml:"queue_id_limit"`
}

func loadFile(path string) (*FileConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.ConfigError{Field: "config", Reason: err.Error()}
	}
	var file FileConfig
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, &types.ConfigError{Field: "config", Reason: fmt.Sprintf("failed to parse %s: %v", path, err)}
	}
	return &file, nil
}

func (f *FileConfig) apply(config *AppConfig) error {
	if f.CoverageCmd != "" {
		config.Runner.CoverageCmd = strings.Fields(f.CoverageCmd)
	}
	if f.BinPath != "" {
		config.Runner.BinPath = f.BinPath
	}
	if f.Sanitizer != "" {
		config.Runner.Sanitizer = f.Sanitizer
	}
	config.Runner.SanitizerOptions = f.SanitizerOptions
	if f.LLVMSymbolizer != "" {
		config.Runner.LLVMSymbolizer = f.LLVMSymbolizer
	}
	config.Runner.SrcPrefix = f.SrcPrefix
	if f.Timeout != "" {
		d, err := time.ParseDuration(f.Timeout)
		if err != nil {
			return &types.ConfigError{Field: "timeout", Reason: err.Error()}
		}
		config.Runner.ExecTimeout = d
	}
	if f.Workers != 0 {
		config.CoreCount = f.Workers
	}
	if f.DDNum != 0 {
		config.DDNum = f.DDNum
	}
	config.QueueIDLimit = f.QueueIDLimit
	return nil
}
