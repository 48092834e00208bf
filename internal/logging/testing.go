package logging

import (
	"go.uber.org/zap"
)

// NewNop returns a logger that discards all output. For tests.
func NewNop() *Logger {
	return &Logger{
		zap:    zap.NewNop(),
		config: NewDefaultConfig(),
	}
}
