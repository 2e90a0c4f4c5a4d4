package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"notescribe/internal/history"
	"notescribe/internal/midiexport"
)

var errHistoryDisabled = errors.New("history is disabled in the configuration")

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect stored analyses",
	}

	historyCmd.AddCommand(newHistoryListCommand(ctx))
	historyCmd.AddCommand(newHistoryShowCommand(ctx))
	historyCmd.AddCommand(newHistoryClearCommand(ctx))
	return historyCmd
}

func withHistory(ctx *commandContext, fn func(*history.Store) error) error {
	store, err := ctx.openHistory()
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if store == nil {
		return errHistoryDisabled
	}
	defer store.Close()
	return fn(store)
}

func newHistoryListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent analyses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(ctx, func(store *history.Store) error {
				entries, err := store.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					if entries == nil {
						entries = []history.Entry{}
					}
					return writeJSON(cmd, entries)
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No stored analyses")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						e.ID,
						e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
						e.Source,
						strconv.Itoa(e.NoteCount),
						seconds(e.Duration),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Created", "Source", "Notes", "Duration"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	var format string
	var midiPath string
	var instrument string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a stored analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(ctx, func(store *history.Store) error {
				id := strings.TrimSpace(args[0])
				entry, err := store.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				if entry == nil {
					return fmt.Errorf("analysis %s not found", id)
				}

				if midiPath != "" {
					name := instrument
					if strings.TrimSpace(name) == "" {
						name = ctx.configValue().Render.Instrument
					}
					inst, err := midiexport.LookupInstrument(name)
					if err != nil {
						return err
					}
					if err := midiexport.WriteFile(midiPath, entry.Notes, midiexport.Options{Instrument: inst, TrackName: entry.Source}); err != nil {
						return err
					}
				}

				if strings.EqualFold(format, formatTable) {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Analysis %s (%s)\n", entry.ID, entry.Source)
					fmt.Fprintf(out, "Created: %s  Sample rate: %d  Duration: %ss\n",
						entry.CreatedAt.Local().Format("2006-01-02 15:04:05"), entry.SampleRate, seconds(entry.Duration))
					for _, w := range entry.Warnings {
						fmt.Fprintf(out, "Warning: %s\n", w)
					}
					if len(entry.Notes) > 0 {
						fmt.Fprintln(out, renderNotesTable(entry.Notes))
					}
					return nil
				}
				return writeJSON(cmd, entry)
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatJSON, "Output format: json or table")
	cmd.Flags().StringVar(&midiPath, "midi", "", "Also write the notes as a MIDI file")
	cmd.Flags().StringVar(&instrument, "instrument", "", "General MIDI instrument for --midi")
	return cmd
}

func newHistoryClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(ctx, func(store *history.Store) error {
				n, err := store.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d analyses\n", n)
				return nil
			})
		},
	}
}
