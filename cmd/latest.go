package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/commitdag/internal/config"
	"github.com/agentic-research/commitdag/internal/segmented"
)

func init() {
	rootCmd.AddCommand(latestCmd)
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Print the current segmented changelog version pair",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		db, _, _, versions, err := stores(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		pair, err := versions.Latest(cmd.Context())
		if errors.Is(err, segmented.ErrNoVersion) {
			fmt.Println("no version seeded yet")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("idmap version: %d\n", pair.IDMap)
		fmt.Printf("iddag version: %s\n", pair.IDDag)
		return nil
	},
}
