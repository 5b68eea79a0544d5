package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// FFprobe reads media durations with the ffprobe binary. Sources may be local
// paths or stream URLs.
type FFprobe struct {
	path string
	run  func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)
}

// NewFFprobe creates a prober. An ffmpeg path is mapped to its ffprobe sibling.
func NewFFprobe(path string) *FFprobe {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "ffprobe"
	}
	path = strings.Replace(path, "ffmpeg", "ffprobe", 1)
	return &FFprobe{path: path, run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	err := cmd.Run()
	return out.Bytes(), stderr.Bytes(), err
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration uses ffprobe to get the duration of src in seconds.
func (p *FFprobe) Duration(ctx context.Context, src string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		src,
	}

	out, stderr, err := p.run(ctx, p.path, args...)
	if err != nil {
		return 0, fmt.Errorf("ffprobe execution failed for %s: %w: %s", src, err, strings.TrimSpace(string(stderr)))
	}
	return parseDuration(src, out)
}

func parseDuration(src string, out []byte) (float64, error) {
	var probeData ffprobeOutput
	if err := json.Unmarshal(out, &probeData); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output for %s: %w", src, err)
	}
	if probeData.Format.Duration == "" {
		return 0, fmt.Errorf("duration not found in ffprobe output for %s", src)
	}
	duration, err := strconv.ParseFloat(probeData.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q for %s: %w", probeData.Format.Duration, src, err)
	}
	return duration, nil
}
