// Command notescribe transcribes monophonic audio into note events.
//
// Subcommands:
//
//	analyze <audio>            transcribe a file (WAV natively, anything else through ffmpeg)
//	render <notes.json> <mid>  write stored or hand-edited notes as a MIDI file
//	serve                      run the HTTP API
//	history list|show|clear    inspect stored analyses
//	config init|show|validate  manage the TOML configuration
//	deps                       check external tools
package main
