package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerHonoursLevel(testContext *testing.T) {
	testCases := []struct {
		level  string
		format string
		want   zapcore.Level
	}{
		{level: "debug", format: "json", want: zapcore.DebugLevel},
		{level: " WARNING ", format: "json", want: zapcore.WarnLevel},
		{level: "error", format: "console", want: zapcore.ErrorLevel},
		{level: "", format: "", want: zapcore.InfoLevel},
		{level: "verbose", format: "json", want: zapcore.InfoLevel},
	}
	for _, testCase := range testCases {
		testContext.Run(testCase.level+"/"+testCase.format, func(testContext *testing.T) {
			logger, err := NewLogger(testCase.level, testCase.format)
			if err != nil {
				testContext.Fatalf("failed to build logger: %v", err)
			}
			if !logger.Core().Enabled(testCase.want) {
				testContext.Fatalf("expected %s to be enabled", testCase.want)
			}
			if testCase.want > zapcore.DebugLevel && logger.Core().Enabled(testCase.want-1) {
				testContext.Fatalf("expected %s to be disabled", testCase.want-1)
			}
		})
	}
}
