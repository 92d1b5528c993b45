package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cfg := &config{}
	rootCmd := &cobra.Command{
		Use:   "srtm",
		Short: "Look up elevations from SRTM tiles",
		Long: `srtm returns elevations from one-degree SRTM tiles.

Tiles are fetched from a directory, a GeoTIFF directory, or over HTTP and
cached in a local cache directory, either as a single zip archive or as one
decoded file per tile.

Flags take precedence over environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.load(cmd)
		},
	}

	persistentFlags := rootCmd.PersistentFlags()
	persistentFlags.StringP("cache-dir", "c", defaultCacheDir, "cache directory ($SRTM_CACHE_DIR)")
	persistentFlags.String("strategy", defaultStrategy, "cache strategy, archive or object ($SRTM_STRATEGY)")
	persistentFlags.String("source", defaultSource, "tile source, dir, geotiff, or http ($SRTM_SOURCE)")
	persistentFlags.String("source-dir", "", "directory containing tiles ($SRTM_SOURCE_DIR)")
	persistentFlags.String("url-template", "", "URL template for tiles, {name} is replaced with the tile name ($SRTM_URL_TEMPLATE)")
	persistentFlags.Duration("fetch-timeout", defaultFetchTimeout, "HTTP fetch timeout ($SRTM_FETCH_TIMEOUT)")
	persistentFlags.String("log-level", defaultLogLevel, "log level ($SRTM_LOG_LEVEL)")
	persistentFlags.Bool("log-console", false, "log in human-readable format ($SRTM_LOG_CONSOLE)")

	rootCmd.AddCommand(
		newGetCmd(cfg),
		newServeCmd(cfg),
		newTilesCmd(cfg),
	)
	return rootCmd
}
