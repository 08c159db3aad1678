// Package recorder dumps every decision attempt to disk as training data:
// one directory per session with a trajectory.jsonl and the screenshots the
// oracle saw. Recording is strictly best-effort; a full disk must never stop
// the agent.
package recorder

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkovalev/web-agent-brain/internal/brain"
)

const cropsDir = "demo_crops"

// Recorder writes samples under root/<sessionID>/.
type Recorder struct {
	root   string
	logger zerolog.Logger
	mu     sync.Mutex
}

func New(root string, log zerolog.Logger) *Recorder {
	return &Recorder{root: root, logger: log.With().Str("comp", "recorder").Logger()}
}

// trajectoryLine is one jsonl record. The screenshot is referenced by file
// name, not inlined; the jsonl stays greppable.
type trajectoryLine struct {
	Timestamp  string       `json:"timestamp"`
	StepIndex  int          `json:"step_index"`
	Attempt    int          `json:"attempt"`
	Goal       string       `json:"goal"`
	Prompt     string       `json:"prompt"`
	Listing    string       `json:"listing"`
	Screenshot string       `json:"screenshot,omitempty"`
	RawOutput  string       `json:"raw_output"`
	Action     brain.Action `json:"action"`
}

// Record persists one decision attempt. Satisfies the decision loop's
// Recorder interface; errors are logged and swallowed.
func (r *Recorder) Record(sessionID string, sample brain.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir := filepath.Join(r.root, sanitize(sessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.logger.Warn().Err(err).Msg("cannot create session dir, sample dropped")
		return
	}

	line := trajectoryLine{
		Timestamp: time.Now().Format(time.RFC3339),
		StepIndex: sample.StepIndex,
		Attempt:   sample.Attempt,
		Goal:      sample.Goal,
		Prompt:    sample.Prompt,
		Listing:   sample.Listing,
		RawOutput: sample.RawOutput,
		Action:    sample.Action,
	}

	if sample.Screenshot != "" {
		name := fmt.Sprintf("step_%03d_attempt_%d.jpg", sample.StepIndex, sample.Attempt)
		if err := writeJPEG(filepath.Join(dir, name), sample.Screenshot); err != nil {
			r.logger.Warn().Err(err).Msg("screenshot dump failed")
		} else {
			line.Screenshot = name
		}
	}

	data, err := json.Marshal(line)
	if err != nil {
		r.logger.Warn().Err(err).Msg("sample marshal failed")
		return
	}
	f, err := os.OpenFile(filepath.Join(dir, "trajectory.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		r.logger.Warn().Err(err).Msg("trajectory open failed")
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		r.logger.Warn().Err(err).Msg("trajectory write failed")
	}
}

// SaveDemoImage stores a demonstration crop and returns its path relative to
// the dataset root, the form demonstrations reference it by.
func (r *Recorder) SaveDemoImage(name, b64 string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir := filepath.Join(r.root, cropsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create crops dir: %w", err)
	}
	file := sanitize(name)
	if !strings.HasSuffix(file, ".jpg") {
		file += ".jpg"
	}
	if err := writeJPEG(filepath.Join(dir, file), b64); err != nil {
		return "", err
	}
	return filepath.Join(cropsDir, file), nil
}

func writeJPEG(path, b64 string) error {
	// Clients sometimes send the full data URL.
	if i := strings.Index(b64, "base64,"); i >= 0 {
		b64 = b64[i+len("base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}

// sanitize keeps ids usable as directory names.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
