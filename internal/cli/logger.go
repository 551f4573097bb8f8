package cli

import (
	"os"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger: JSON to stderr at info, or debug when
// verbose.
func NewLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return config.Build()
}

// debugFromEnv mirrors CTIRAG_DEBUG so the logger level is known before the
// config is loaded.
func debugFromEnv() bool {
	v, err := strconv.ParseBool(os.Getenv("CTIRAG_DEBUG"))
	return err == nil && v
}
