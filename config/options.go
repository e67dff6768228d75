package config

import "time"

// Options are the command line flags of afl-sancov.
type Options struct {
	FuzzingDir   string        `short:"d" long:"afl-fuzzing-dir" description:"Top level AFL fuzzing directory (the afl-fuzz -o path)" value-name:"DIR"`
	CoverageCmd  string        `short:"e" long:"coverage-cmd" description:"Command that runs the sancov instrumented target; AFL_FILE or @@ is replaced by the test case path, otherwise it is fed on stdin" value-name:"CMD"`
	BinPath      string        `long:"bin-path" description:"Path to the instrumented binary, defaults to the first word of --coverage-cmd" value-name:"PATH"`
	OutputDir    string        `long:"sancov-dir" description:"Output directory, defaults to <afl-fuzzing-dir>/sancov" value-name:"DIR"`
	Overwrite    bool          `long:"overwrite" description:"Overwrite an existing output directory"`
	DDMode       bool          `long:"dd-mode" description:"Localize every crash by diffing its coverage against non-crashing relatives"`
	DDNum        int           `long:"dd-num" description:"Number of non-crashing relatives each crash is diffed against (default: 1)" value-name:"N"`
	QueueIDLimit int           `long:"afl-queue-id-limit" description:"Only process the lowest N ids of every queue and crashes directory" value-name:"N"`
	LLVMSym      string        `long:"llvm-sym" description:"Path to llvm-symbolizer" value-name:"PATH"`
	Sanitizer    string        `long:"sanitizer" description:"Sanitizer the target was built with" choice:"address" choice:"undefined" choice:"memory"`
	Timeout      time.Duration `long:"timeout" description:"Time limit for a single execution of the target (default: 5s)" value-name:"DURATION"`
	Workers      int           `long:"workers" description:"Number of inputs processed in parallel (default: number of CPUs)" value-name:"N"`
	SrcPrefix    string        `long:"src-prefix" description:"Prefix stripped from symbolized source paths" value-name:"PREFIX"`
	ConfigFile   string        `short:"c" long:"config" description:"YAML file with default settings" value-name:"FILE"`
	Verbose      bool          `short:"v" long:"verbose" description:"Verbose mode"`
	Version      bool          `short:"V" long:"version" description:"Print version and exit"`
}
