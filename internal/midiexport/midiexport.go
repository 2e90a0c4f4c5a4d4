// Package midiexport renders note events as a Standard MIDI File.
package midiexport

import (
	"fmt"
	"io"
	"math"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"notescribe/internal/fileutil"
	"notescribe/internal/notes"
	"notescribe/internal/services"
)

// File layout defaults: 120 BPM with 480 ticks per quarter note, so one
// second is 960 ticks.
const (
	TicksPerQuarter = 480
	Tempo           = 120.0
	drumChannel     = 9
	defaultVelocity = 100
)

// Options controls the rendered file.
type Options struct {
	Instrument Instrument
	TrackName  string
}

type timedMessage struct {
	tick uint32
	off  bool
	msg  midi.Message
}

// Build converts events into a single-track SMF. Note names may carry a cents
// suffix ("C4+12"); the pitch is rounded to the nearest key. A zero volume
// falls back to velocity 100.
func Build(events []notes.Event, opts Options) (*smf.SMF, error) {
	channel := uint8(0)
	if opts.Instrument.Drum {
		channel = drumChannel
	}

	timed := make([]timedMessage, 0, 2*len(events))
	for i, ev := range events {
		base, cents, err := notes.ParseName(ev.Note)
		if err != nil {
			return nil, services.Wrap(services.ErrInput, "render", "parse", fmt.Sprintf("note %d", i), err)
		}
		if !(ev.End > ev.Start) || ev.Start < 0 {
			return nil, services.Wrap(services.ErrInput, "render", "timing",
				fmt.Sprintf("note %d: start %.3f must be >= 0 and before end %.3f", i, ev.Start, ev.End), nil)
		}
		key := uint8(clamp(int(math.Round(float64(base)+float64(cents)/100)), 0, 127))
		vel := ev.Volume
		if vel == 0 {
			vel = defaultVelocity
		}
		velocity := uint8(clamp(vel, 1, 127))
		timed = append(timed,
			timedMessage{tick: secondsToTicks(float64(ev.Start)), msg: midi.NoteOn(channel, key, velocity)},
			timedMessage{tick: secondsToTicks(float64(ev.End)), off: true, msg: midi.NoteOff(channel, key)},
		)
	}
	sort.SliceStable(timed, func(i, j int) bool {
		if timed[i].tick != timed[j].tick {
			return timed[i].tick < timed[j].tick
		}
		return timed[i].off && !timed[j].off
	})

	var track smf.Track
	name := opts.TrackName
	if name == "" {
		name = opts.Instrument.Name
	}
	if name != "" {
		track.Add(0, smf.MetaTrackSequenceName(name))
	}
	track.Add(0, smf.MetaMeter(4, 4))
	track.Add(0, smf.MetaTempo(Tempo))
	if !opts.Instrument.Drum {
		track.Add(0, midi.ProgramChange(channel, opts.Instrument.Program))
	}
	var last uint32
	for _, tm := range timed {
		track.Add(tm.tick-last, tm.msg)
		last = tm.tick
	}
	track.Close(0)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(TicksPerQuarter)
	if err := s.Add(track); err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}
	return s, nil
}

// Write renders events to w.
func Write(w io.Writer, events []notes.Event, opts Options) error {
	s, err := Build(events, opts)
	if err != nil {
		return err
	}
	if _, err := s.WriteTo(w); err != nil {
		return fmt.Errorf("write midi: %w", err)
	}
	return nil
}

// WriteFile renders events to path, replacing any existing file.
func WriteFile(path string, events []notes.Event, opts Options) error {
	s, err := Build(events, opts)
	if err != nil {
		return err
	}
	if err := fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		_, err := s.WriteTo(w)
		return err
	}); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func secondsToTicks(sec float64) uint32 {
	return uint32(math.Round(sec * TicksPerQuarter * Tempo / 60))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
