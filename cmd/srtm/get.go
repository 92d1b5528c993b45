package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/twpayne/go-srtm"
)

func newGetCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "get latitude longitude",
		Short: "Print the elevation at a location",
		Example: `  srtm get --source-dir ./hgt 34.1225696 -118.2181179
  srtm get --source-dir ./hgt -- -33.8568 151.2153`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lat, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return err
			}
			lon, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return err
			}

			provider, err := cfg.newProvider()
			if err != nil {
				return err
			}
			elevation, err := provider.Elevation(cmd.Context(), lat, lon)
			if err != nil {
				return err
			}

			if srtm.IsNoData(elevation) {
				fmt.Fprintln(cmd.OutOrStdout(), "no data")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatFloat(elevation, 'f', -1, 64))
			}
			return nil
		},
	}
}
