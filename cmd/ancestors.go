package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/commitdag/internal/ancestors"
	"github.com/agentic-research/commitdag/internal/changeset"
	"github.com/agentic-research/commitdag/internal/gitstore"
)

var (
	excludeHeads  []string
	descendantsOf string
)

func init() {
	ancestorsCmd.Flags().StringArrayVarP(&excludeHeads, "exclude", "x", nil,
		"Exclude ancestors of this changeset (repeatable)")
	ancestorsCmd.Flags().StringVar(&descendantsOf, "descendants-of", "",
		"Restrict output to descendants of this changeset")
	rootCmd.AddCommand(ancestorsCmd)
}

var ancestorsCmd = &cobra.Command{
	Use:   "ancestors [git-repo] [head]...",
	Short: "Stream ancestors of the given heads in reverse-topological order",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := gitstore.Open(args[0])
		if err != nil {
			return err
		}

		heads := make([]changeset.ID, 0, len(args)-1)
		for _, arg := range args[1:] {
			id, err := changeset.ParseID(arg)
			if err != nil {
				return err
			}
			heads = append(heads, id)
		}

		builder := ancestors.NewStreamBuilder(store, heads)
		if len(excludeHeads) > 0 {
			exclude := make([]changeset.ID, 0, len(excludeHeads))
			for _, arg := range excludeHeads {
				id, err := changeset.ParseID(arg)
				if err != nil {
					return err
				}
				exclude = append(exclude, id)
			}
			builder.ExcludeAncestorsOf(exclude)
		}
		if descendantsOf != "" {
			id, err := changeset.ParseID(descendantsOf)
			if err != nil {
				return err
			}
			builder.DescendantsOf(id)
		}

		stream, err := builder.Build(cmd.Context())
		if err != nil {
			return err
		}
		for {
			batch, err := stream.Next(cmd.Context())
			if err != nil {
				return err
			}
			if batch == nil {
				return nil
			}
			for _, id := range batch {
				fmt.Println(gitstore.HashFor(id))
			}
		}
	},
}
