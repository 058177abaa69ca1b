package main

import (
	"fmt"
	"os"

	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/logger"
)

const (
	logLevelEnvVar  = "LOG_LEVEL"
	logFileEnvVar   = "LOG_FILE"
	logFormatEnvVar = "LOG_FORMAT"
)

// logOutput is where the process logger writes. At most one log file is
// ever opened: initLoggerFromCLI opens it when a flag or env var names
// one, otherwise initLoggerFromConfig may open the config file's choice.
var logOutput = os.Stderr

// closeLogFile closes the opened log file, if any. Deferred in main.
var closeLogFile func()

// initLoggerFromCLI installs the process logger before anything else
// runs. Priority: CLI flags > environment variables > defaults. Values
// left unset here can still come from a config file later, through
// initLoggerFromConfig.
func initLoggerFromCLI(cliLevel, cliFile, cliFormat string) error {
	level := cliLevel
	if level == "" {
		level = os.Getenv(logLevelEnvVar)
	}

	file := cliFile
	if file == "" {
		file = os.Getenv(logFileEnvVar)
	}

	format := cliFormat
	if format == "" {
		format = os.Getenv(logFormatEnvVar)
	}

	if file != "" {
		f, closeFn, err := logger.OpenLogFile(file)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logOutput = f
		closeLogFile = closeFn
	}

	logger.Init(logger.ParseLevel(level), logOutput, format)
	return nil
}

// initLoggerFromConfig re-initializes the logger with the config file's
// logger section, filling in every value no CLI flag or environment
// variable set. Flags and environment keep priority per value.
func initLoggerFromConfig(cli *CLI, cfg config.LoggerConfig) error {
	level := cli.LogLevel
	if level == "" {
		level = os.Getenv(logLevelEnvVar)
	}
	format := cli.LogFormat
	if format == "" {
		format = os.Getenv(logFormatEnvVar)
	}
	fileSet := cli.LogFile != "" || os.Getenv(logFileEnvVar) != ""

	if level != "" && format != "" && fileSet {
		return nil
	}

	if level == "" {
		level = cfg.Level
	}
	if format == "" {
		format = cfg.Format
	}

	if !fileSet && cfg.File != "" {
		f, closeFn, err := logger.OpenLogFile(cfg.File)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logOutput = f
		closeLogFile = closeFn
	}

	logger.Init(logger.ParseLevel(level), logOutput, format)
	return nil
}
