package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/twpayne/go-srtm"
)

func newTilesCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "tiles",
		Short: "List the tiles in the cache directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cfg.newStore()
			if err != nil {
				return err
			}
			tileIDs, err := store.TileIDs()
			if err != nil {
				return err
			}
			slices.SortFunc(tileIDs, func(a, b srtm.TileID) int {
				if a.Lat != b.Lat {
					return a.Lat - b.Lat
				}
				return a.Lon - b.Lon
			})
			for _, tileID := range tileIDs {
				fmt.Fprintln(cmd.OutOrStdout(), tileID.Name())
			}
			return nil
		},
	}
}
