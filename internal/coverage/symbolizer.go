package coverage

import (
	"afl-sancov/config"
	"afl-sancov/internal/slice"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Symbolizer maps module-relative program counters to source locations.
// The result has one location per pc, in the same order.
type Symbolizer interface {
	Symbolize(ctx context.Context, binary string, pcs []uint64) ([]slice.Location, error)
}

// LLVMSymbolizer batches every pc of one execution through a single
// llvm-symbolizer process.
type LLVMSymbolizer struct {
	path   string
	logger *zap.Logger
}

func NewLLVMSymbolizer(cfg *config.AppConfig, logger *zap.Logger) *LLVMSymbolizer {
	return &LLVMSymbolizer{
		path:   cfg.Runner.LLVMSymbolizer,
		logger: logger.Named("symbolizer"),
	}
}

func (s *LLVMSymbolizer) Symbolize(ctx context.Context, binary string, pcs []uint64) ([]slice.Location, error) {
	if len(pcs) == 0 {
		return nil, nil
	}

	var input bytes.Buffer
	for _, pc := range pcs {
		fmt.Fprintf(&input, "0x%x\n", pc)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.path, "--obj="+binary, "--functions=linkage")
	cmd.Stdin = &input
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Debug("symbolizing", zap.String("binary", binary), zap.Int("pcs", len(pcs)))
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("llvm-symbolizer failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseSymbolizerOutput(&stdout, len(pcs))
}

// parseSymbolizerOutput reads n blank-line separated frames blocks. Each
// block holds function/location line pairs, innermost inlined frame first;
// only that first frame is kept.
func parseSymbolizerOutput(r io.Reader, n int) ([]slice.Location, error) {
	locs := make([]slice.Location, 0, n)
	var block []string

	flush := func() error {
		if len(block) == 0 {
			return nil
		}
		if len(block) < 2 {
			return fmt.Errorf("truncated symbolizer frame %q", block[0])
		}
		loc := parseFrame(block[0], block[1])
		locs = append(locs, loc)
		block = block[:0]
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		block = append(block, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if len(locs) != n {
		return nil, fmt.Errorf("symbolizer returned %d frames for %d addresses", len(locs), n)
	}
	return locs, nil
}

// parseFrame splits "file:line:col" from the right since file names may
// contain colons. A missing column is reported as 0.
func parseFrame(function, location string) slice.Location {
	loc := slice.Location{Function: function}

	parts := strings.Split(location, ":")
	nums := make([]int, 0, 2)
	for len(parts) > 1 && len(nums) < 2 {
		v, err := strconv.Atoi(parts[len(parts)-1])
		if err != nil {
			break
		}
		nums = append([]int{v}, nums...)
		parts = parts[:len(parts)-1]
	}
	loc.File = strings.Join(parts, ":")
	if len(nums) > 0 {
		loc.Line = nums[0]
	}
	if len(nums) > 1 {
		loc.Column = nums[1]
	}
	return loc
}
