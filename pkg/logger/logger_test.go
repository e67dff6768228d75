package logger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("chatty"))
}

func TestBuildConfig(t *testing.T) {
	debug := buildConfig(zapcore.DebugLevel)
	assert.Equal(t, "console", debug.Encoding)
	assert.Equal(t, []string{"stderr"}, debug.OutputPaths)

	warn := buildConfig(zapcore.WarnLevel)
	assert.Equal(t, "json", warn.Encoding)
	assert.True(t, warn.Level.Enabled(zapcore.ErrorLevel))
	assert.False(t, warn.Level.Enabled(zapcore.InfoLevel))
}

func TestFieldAttribute(t *testing.T) {
	assert.Equal(t, attribute.String("input", "id:000000"), fieldAttribute(zap.String("input", "id:000000")))
	assert.Equal(t, attribute.String("error", "boom"), fieldAttribute(zap.Error(errors.New("boom"))))
	assert.Equal(t, attribute.Int64("dice", 4), fieldAttribute(zap.Int("dice", 4)))
	assert.Equal(t, attribute.Bool("crashed", true), fieldAttribute(zap.Bool("crashed", true)))
	assert.Equal(t, attribute.Float64("shrink", 62.5), fieldAttribute(zap.Float64("shrink", 62.5)))
	assert.Equal(t, attribute.String("took", "1.5s"), fieldAttribute(zap.Duration("took", 1500*time.Millisecond)))
}
