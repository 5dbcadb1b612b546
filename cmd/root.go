package cmd

import (
	"database/sql"
	"fmt"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agentic-research/commitdag/internal/config"
	"github.com/agentic-research/commitdag/internal/segmented"
)

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "commitdag.hcl", "Path to HCL config file")
}

var rootCmd = &cobra.Command{
	Use:   "commitdag",
	Short: "Commit-graph traversal and segmented changelog indexing",
	Long: `commitdag answers ancestry questions over large commit graphs and
compacts them into a segmented index supporting sub-linear queries.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("command failed")
	}
}

// stores opens the persistence layer described by the config: the sqlite
// database for IdMap/version rows and the blob directory for IdDag blobs.
func stores(cfg config.Config) (*sql.DB, *segmented.SQLIDMapStore, *segmented.BlobStore, *segmented.SQLVersionStore, error) {
	db, err := segmented.OpenDB(cfg.IDMapDB)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open idmap db: %w", err)
	}
	blobs := segmented.NewBlobStore(osfs.New(cfg.BlobDir))
	return db, segmented.NewSQLIDMapStore(db), blobs, segmented.NewSQLVersionStore(db), nil
}
