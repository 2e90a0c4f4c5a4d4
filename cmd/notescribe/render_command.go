package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"notescribe/internal/midiexport"
	"notescribe/internal/notes"
)

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var instrument string

	cmd := &cobra.Command{
		Use:   "render <notes.json> <out.mid>",
		Short: "Render a note list as a MIDI file",
		Long: "Render reads either a JSON array of notes or an object with a \"notes\" field " +
			"(the output of analyze or history show). Note names may carry a cents suffix such as C4+12.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			events, err := readNotesFile(args[0])
			if err != nil {
				return err
			}
			name := instrument
			if strings.TrimSpace(name) == "" {
				name = cfg.Render.Instrument
			}
			inst, err := midiexport.LookupInstrument(name)
			if err != nil {
				return err
			}
			trackName := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			if err := midiexport.WriteFile(args[1], events, midiexport.Options{Instrument: inst, TrackName: trackName}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d notes to %s (%s)\n", len(events), args[1], inst.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&instrument, "instrument", "", "General MIDI instrument name, program number, or drums")
	return cmd
}

func readNotesFile(path string) ([]notes.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read notes: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("notes file is empty")
	}
	var events []notes.Event
	if data[0] == '[' {
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, fmt.Errorf("parse notes: %w", err)
		}
		return events, nil
	}
	var wrapped struct {
		Notes []notes.Event `json:"notes"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse notes: %w", err)
	}
	return wrapped.Notes, nil
}
