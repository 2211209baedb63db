package main

import (
	"fmt"
	"os"

	"github.com/MimeLyc/subtrans/internal/persistence"
	"github.com/MimeLyc/subtrans/internal/sensitive"
	"github.com/spf13/cobra"
)

func newSensitiveCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sensitive",
		Short: "Manage the sensitive word list",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.txt>",
		Short: "Add words from a file, one per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			words, err := sensitive.ReadWords(f)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *persistence.SQLiteStore) error {
				added, err := store.AddSensitiveWords(cmd.Context(), words)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %d of %d words\n", added, len(words))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the sensitive word list",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *persistence.SQLiteStore) error {
				words, err := store.Words(cmd.Context())
				if err != nil {
					return err
				}
				for _, w := range words {
					fmt.Fprintln(cmd.OutOrStdout(), w)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <word>",
		Short: "Remove one word",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *persistence.SQLiteStore) error {
				removed, err := store.RemoveSensitiveWord(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("word %q is not in the list", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
				return nil
			})
		},
	})

	return cmd
}
