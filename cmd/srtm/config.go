package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/twpayne/go-srtm"
)

const (
	defaultCacheDir     = "./cache"
	defaultStrategy     = "object"
	defaultSource       = "dir"
	defaultFetchTimeout = 60 * time.Second
	defaultLogLevel     = "info"
)

type config struct {
	CacheDir     string
	Strategy     string
	Source       string
	SourceDir    string
	URLTemplate  string
	FetchTimeout time.Duration
	LogLevel     string
	LogConsole   bool

	logger zerolog.Logger
}

// load loads c from cmd's flags and the environment. Flags take precedence
// over environment variables.
func (c *config) load(cmd *cobra.Command) error {
	c.CacheDir = getConfigString(cmd, "cache-dir", "SRTM_CACHE_DIR", defaultCacheDir)
	c.Strategy = getConfigString(cmd, "strategy", "SRTM_STRATEGY", defaultStrategy)
	c.Source = getConfigString(cmd, "source", "SRTM_SOURCE", defaultSource)
	c.SourceDir = getConfigString(cmd, "source-dir", "SRTM_SOURCE_DIR", "")
	c.URLTemplate = getConfigString(cmd, "url-template", "SRTM_URL_TEMPLATE", "")
	c.FetchTimeout = getConfigDuration(cmd, "fetch-timeout", "SRTM_FETCH_TIMEOUT", defaultFetchTimeout)
	c.LogLevel = getConfigString(cmd, "log-level", "SRTM_LOG_LEVEL", defaultLogLevel)
	c.LogConsole = getConfigBool(cmd, "log-console", "SRTM_LOG_CONSOLE", false)

	logger, err := c.newLogger()
	if err != nil {
		return err
	}
	c.logger = logger
	return nil
}

func (c *config) newLogger() (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.Logger{}, err
	}
	var logger zerolog.Logger
	if c.LogConsole {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger(), nil
}

func (c *config) newFetcher() (srtm.Fetcher, error) {
	switch c.Source {
	case "dir":
		if c.SourceDir == "" {
			return nil, errors.New("--source-dir required")
		}
		return srtm.NewFSFetcher(os.DirFS(c.SourceDir)), nil
	case "geotiff":
		if c.SourceDir == "" {
			return nil, errors.New("--source-dir required")
		}
		return srtm.NewGeoTIFFFetcher(os.DirFS(c.SourceDir)), nil
	case "http":
		if c.URLTemplate == "" {
			return nil, errors.New("--url-template required")
		}
		return srtm.NewHTTPFetcher(c.URLTemplate, srtm.WithHTTPClient(&http.Client{
			Timeout: c.FetchTimeout,
		})), nil
	default:
		return nil, fmt.Errorf("%s: unknown source", c.Source)
	}
}

func (c *config) newStore() (srtm.Store, error) {
	switch c.Strategy {
	case "archive":
		return srtm.NewArchiveStore(c.CacheDir, srtm.WithStoreLogger(c.logger))
	case "object":
		return srtm.NewObjectStore(c.CacheDir, srtm.WithStoreLogger(c.logger))
	default:
		return nil, fmt.Errorf("%s: unknown strategy", c.Strategy)
	}
}

func (c *config) newProvider() (*srtm.Provider, error) {
	fetcher, err := c.newFetcher()
	if err != nil {
		return nil, err
	}
	store, err := c.newStore()
	if err != nil {
		return nil, err
	}
	tileCache, err := srtm.NewTileCache(store, fetcher, srtm.WithLogger(c.logger))
	if err != nil {
		return nil, err
	}
	return srtm.NewProvider(tileCache), nil
}

// getConfigString gets a string value from a flag, then the environment,
// then the default.
func getConfigString(cmd *cobra.Command, flagName, envName, defaultValue string) string {
	if cmd.Flags().Changed(flagName) {
		value, _ := cmd.Flags().GetString(flagName)
		return value
	}
	if value := os.Getenv(envName); value != "" {
		return value
	}
	return defaultValue
}

func getConfigDuration(cmd *cobra.Command, flagName, envName string, defaultValue time.Duration) time.Duration {
	if cmd.Flags().Changed(flagName) {
		value, _ := cmd.Flags().GetDuration(flagName)
		return value
	}
	if value := os.Getenv(envName); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getConfigBool(cmd *cobra.Command, flagName, envName string, defaultValue bool) bool {
	if cmd.Flags().Changed(flagName) {
		value, _ := cmd.Flags().GetBool(flagName)
		return value
	}
	if value := os.Getenv(envName); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
