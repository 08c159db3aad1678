package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mkovalev/web-agent-brain/internal/memory"
)

func newMemoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and maintain the demonstration and feedback store",
	}

	var collection string
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored records",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openMemoryStore(a)
			if err != nil {
				return err
			}
			hits, err := store.List(cmd.Context(), collection)
			if err != nil {
				return err
			}
			for _, hit := range hits {
				fmt.Printf("%s\t%s\n", hit.ID, hit.Document)
			}
			fmt.Printf("%d record(s) in %s\n", len(hits), collection)
			return nil
		},
	}
	list.Flags().StringVar(&collection, "collection", memory.CollectionDemos, "collection to list")

	var k int
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Search demonstrations by similarity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openMemoryStore(a)
			if err != nil {
				return err
			}
			hits, err := store.QueryNearest(cmd.Context(), memory.CollectionDemos, args[0], k)
			if err != nil {
				return err
			}
			for _, hit := range hits {
				fmt.Printf("%s\t%s\t%s\n", hit.ID, strconv.FormatFloat(hit.Distance, 'f', 4, 64), hit.Document)
			}
			return nil
		},
	}
	search.Flags().IntVar(&k, "k", 5, "number of results")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one record by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openMemoryStore(a)
			if err != nil {
				return err
			}
			return store.Delete(cmd.Context(), args[0])
		},
	}

	clearFeedback := &cobra.Command{
		Use:   "clear-feedback",
		Short: "Drop every stored feedback rating",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openMemoryStore(a)
			if err != nil {
				return err
			}
			return store.Clear(cmd.Context(), memory.CollectionFeedback)
		},
	}

	cmd.AddCommand(list, search, del, clearFeedback)
	return cmd
}
