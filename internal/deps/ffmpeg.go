package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ResolveTool reports the binary notescribe will execute for name.
//
// Lookup order: an explicitly configured command, a binary sitting next to
// the running notescribe executable, then name resolved from PATH. Bundled
// releases ship ffmpeg and ffprobe alongside the notescribe binary.
func ResolveTool(name, configured, description string) Status {
	result := Status{
		Name:        name,
		Description: description,
		Optional:    true,
	}

	if configured = strings.TrimSpace(configured); configured != "" {
		result.Command = configured
		if resolved, err := exec.LookPath(configured); err == nil {
			result.Command = resolved
			result.Available = true
			return result
		}
		result.Detail = fmt.Sprintf("configured binary %q not found", configured)
		return result
	}

	if self, err := os.Executable(); err == nil {
		if candidate, ok := sidecarCandidate(self, name); ok {
			if info, statErr := os.Stat(candidate); statErr == nil && isExecutable(info) {
				result.Command = candidate
				result.Available = true
				return result
			}
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		result.Command = path
		result.Available = true
		return result
	}

	result.Command = name
	result.Detail = fmt.Sprintf("binary %q not found", name)
	return result
}

// ResolveFFmpegPath returns the ffmpeg command to run, falling back to the
// bare name when nothing resolves so the caller's error names the binary.
func ResolveFFmpegPath(configured string) string {
	return ResolveTool("ffmpeg", configured, "").Command
}

func sidecarCandidate(selfPath, name string) (string, bool) {
	if selfPath == "" || name == "" {
		return "", false
	}
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(filepath.Dir(selfPath), name), true
}

func isExecutable(info os.FileInfo) bool {
	if info == nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
