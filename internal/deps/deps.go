package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement defines an external binary notescribe can use.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Tools lists the binaries a configuration relies on. ffmpeg and ffprobe are
// only needed for non-WAV input; the estimator command is included when an
// external secondary estimator is configured.
func Tools(ffmpeg, ffprobe, estimatorCommand string) []Status {
	statuses := []Status{
		ResolveTool("ffmpeg", ffmpeg, "Decodes non-WAV audio to mono PCM"),
		ResolveTool("ffprobe", ffprobe, "Checks uploads for an audio stream"),
	}
	if cmd := strings.TrimSpace(estimatorCommand); cmd != "" {
		statuses = append(statuses, CheckBinaries([]Requirement{{
			Name:        "Pitch estimator",
			Command:     cmd,
			Description: "External secondary pitch estimator",
		}})...)
	}
	return statuses
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// Missing returns the required statuses that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			out = append(out, s)
		}
	}
	return out
}
