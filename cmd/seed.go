package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agentic-research/commitdag/internal/config"
	"github.com/agentic-research/commitdag/internal/gitstore"
	"github.com/agentic-research/commitdag/internal/segmented"
)

func init() {
	rootCmd.AddCommand(seedCmd)
}

var seedCmd = &cobra.Command{
	Use:   "seed [git-repo]",
	Short: "Seed a segmented changelog from a git repository's branch heads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		store, err := gitstore.Open(args[0])
		if err != nil {
			return err
		}
		heads, err := store.Heads(cmd.Context())
		if err != nil {
			return err
		}
		if len(heads) == 0 {
			return fmt.Errorf("repository %s has no branch heads", args[0])
		}
		logrus.WithFields(logrus.Fields{"repo": args[0], "heads": len(heads)}).
			Info("seeding segmented changelog")

		db, idmap, blobs, versions, err := stores(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		seeder := segmented.NewSeeder(store, idmap, blobs, versions, cfg.FetchParallelism)
		res, err := seeder.Seed(cmd.Context(), heads, segmented.SeedOptions{})
		if err != nil {
			return err
		}

		fmt.Printf("idmap version: %d\n", res.IDMapVersion)
		fmt.Printf("iddag version: %s\n", res.IDDagVersion)
		fmt.Printf("changesets:    %d\n", res.Changesets)
		return nil
	},
}
