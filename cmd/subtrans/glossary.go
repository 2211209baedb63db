package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/MimeLyc/subtrans/internal/glossary"
	"github.com/MimeLyc/subtrans/internal/persistence"
	"github.com/spf13/cobra"
)

func newGlossaryCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "glossary",
		Short: "Manage stored glossaries",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <ref> <file.json>",
		Short: "Replace a glossary with the entries of a JSON file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := glossary.Load(args[1])
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *persistence.SQLiteStore) error {
				if err := store.PutGlossary(cmd.Context(), args[0], entries); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d entries into %s\n", len(entries), args[0])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored glossaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *persistence.SQLiteStore) error {
				list, err := store.ListGlossaries(cmd.Context())
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No glossaries")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, g := range list {
					rows = append(rows, []string{g.Ref, strconv.Itoa(g.Entries)})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"REF", "ENTRIES"}, rows,
					[]columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <ref>",
		Short: "Delete a stored glossary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *persistence.SQLiteStore) error {
				err := store.DeleteGlossary(cmd.Context(), args[0])
				if errors.Is(err, glossary.ErrNotFound) {
					return fmt.Errorf("glossary %q not found", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted glossary %s\n", args[0])
				return nil
			})
		},
	})

	return cmd
}
