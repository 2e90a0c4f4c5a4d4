package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"notescribe/internal/history"
	"notescribe/internal/logging"
	"notescribe/internal/media/pcm"
	"notescribe/internal/midiexport"
	"notescribe/internal/notes"
	"notescribe/internal/services"
	"notescribe/internal/transcribe"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var (
		format     string
		midiPath   string
		instrument string
		noHistory  bool
		noSecond   bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "analyze <audio>",
		Short: "Transcribe an audio file into note events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(strings.TrimSpace(format))
			if format != formatJSON && format != formatTable {
				return fmt.Errorf("unsupported format %q (use json or table)", format)
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			var inst midiexport.Instrument
			if midiPath != "" {
				name := instrument
				if strings.TrimSpace(name) == "" {
					name = cfg.Render.Instrument
				}
				if inst, err = midiexport.LookupInstrument(name); err != nil {
					return err
				}
			}

			runCtx := cmd.Context()
			decoder := pcm.Decoder{FFmpeg: cfg.Tools.FFmpeg, FFprobe: cfg.Tools.FFprobe, Logger: logger}
			wave, err := decoder.DecodeFile(runCtx, args[0])
			if err != nil {
				return reportFailure(cmd, format, err)
			}

			var opts []transcribe.Option
			if noSecond {
				opts = append(opts, transcribe.WithSecondary(nil))
			}
			if timeout > 0 {
				opts = append(opts, transcribe.WithEstimatorTimeout(timeout))
			}
			analyzer, err := transcribe.FromConfig(cfg, logger, opts...)
			if err != nil {
				return reportFailure(cmd, format, err)
			}
			res, err := analyzer.Analyze(runCtx, wave)
			if err != nil {
				return reportFailure(cmd, format, err)
			}

			source := filepath.Base(args[0])
			if !noHistory {
				store, err := ctx.openHistory()
				if err != nil {
					logger.Warn("history unavailable", logging.Error(err))
				} else if store != nil {
					if err := store.Save(runCtx, history.FromResult(res, source, wave.SampleRate)); err != nil {
						logger.Warn("history save failed", logging.Error(err))
					} else if _, err := store.Prune(runCtx, cfg.History.MaxEntries); err != nil {
						logger.Warn("history prune failed", logging.Error(err))
					}
					store.Close()
				}
			}

			if midiPath != "" {
				if err := midiexport.WriteFile(midiPath, res.Notes, midiexport.Options{Instrument: inst, TrackName: source}); err != nil {
					return err
				}
			}

			for _, w := range res.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s\n", w.Stage, w.Message)
			}

			if format == formatJSON {
				return writeJSON(cmd, res)
			}
			out := cmd.OutOrStdout()
			if len(res.Notes) == 0 {
				fmt.Fprintln(out, "No notes detected")
			} else {
				fmt.Fprintln(out, renderNotesTable(res.Notes))
			}
			fmt.Fprintf(out, "Analysis %s: %d notes in %.2fs of audio\n", res.RequestID, len(res.Notes), res.Duration)
			if midiPath != "" {
				fmt.Fprintf(out, "Wrote MIDI to %s (%s)\n", midiPath, inst.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatJSON, "Output format: json or table")
	cmd.Flags().StringVar(&midiPath, "midi", "", "Also write the notes as a MIDI file")
	cmd.Flags().StringVar(&instrument, "instrument", "", "General MIDI instrument name or program number for --midi")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not store the result in the history")
	cmd.Flags().BoolVar(&noSecond, "primary-only", false, "Skip the secondary pitch estimator")
	cmd.Flags().DurationVar(&timeout, "estimator-timeout", 0, "Override the secondary estimator timeout")
	return cmd
}

// reportFailure writes a notes.Failure body to stdout in JSON mode when the
// input or configuration cannot be analyzed. err is always returned so the
// command still exits non-zero.
func reportFailure(cmd *cobra.Command, format string, err error) error {
	if format != formatJSON || err == nil {
		return err
	}
	var marker error
	switch {
	case errors.Is(err, services.ErrInput):
		marker = services.ErrInput
	case errors.Is(err, services.ErrConfiguration):
		marker = services.ErrConfiguration
	default:
		return err
	}
	if writeErr := writeJSON(cmd, notes.Failure{Error: err.Error(), Detail: marker.Error()}); writeErr != nil {
		return errors.Join(err, writeErr)
	}
	return err
}
