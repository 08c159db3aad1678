package recorder

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkovalev/web-agent-brain/internal/brain"
)

var tinyJPEG = base64.StdEncoding.EncodeToString([]byte{0xFF, 0xD8, 0xFF, 0xD9})

func TestRecordAppendsTrajectory(t *testing.T) {
	root := t.TempDir()
	rec := New(root, zerolog.Nop())

	rec.Record("sess-1", brain.Sample{
		StepIndex: 0, Attempt: 1, Goal: "submit",
		RawOutput: `{"action":"click","id":"12"}`,
		Action:    brain.Click("12", "Submit"),
	})
	rec.Record("sess-1", brain.Sample{
		StepIndex: 1, Attempt: 1, Goal: "submit",
		Screenshot: tinyJPEG,
		Action:     brain.Scroll("down"),
	})

	f, err := os.Open(filepath.Join(root, "sess-1", "trajectory.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var lines []trajectoryLine
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line trajectoryLine
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, brain.KindClick, lines[0].Action.Kind)
	assert.Empty(t, lines[0].Screenshot)
	assert.Equal(t, "step_001_attempt_1.jpg", lines[1].Screenshot)

	img, err := os.ReadFile(filepath.Join(root, "sess-1", "step_001_attempt_1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xD9}, img)
}

func TestRecordBadScreenshotStillLogsLine(t *testing.T) {
	root := t.TempDir()
	rec := New(root, zerolog.Nop())

	rec.Record("sess-2", brain.Sample{Screenshot: "%%% not base64 %%%", Action: brain.Scroll("down")})

	data, err := os.ReadFile(filepath.Join(root, "sess-2", "trajectory.jsonl"))
	require.NoError(t, err)
	var line trajectoryLine
	require.NoError(t, json.Unmarshal(data, &line))
	assert.Empty(t, line.Screenshot)
}

func TestSaveDemoImage(t *testing.T) {
	root := t.TempDir()
	rec := New(root, zerolog.Nop())

	rel, err := rec.SaveDemoImage("step 1/crop", "data:image/jpeg;base64,"+tinyJPEG)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("demo_crops", "step_1_crop.jpg"), rel)

	_, err = os.Stat(filepath.Join(root, rel))
	assert.NoError(t, err)

	_, err = rec.SaveDemoImage("bad", "!!!")
	assert.Error(t, err)
}

func TestSessionIDSanitized(t *testing.T) {
	root := t.TempDir()
	rec := New(root, zerolog.Nop())

	rec.Record("../escape", brain.Sample{Action: brain.Scroll("down")})
	_, err := os.Stat(filepath.Join(root, ".._escape", "trajectory.jsonl"))
	assert.NoError(t, err)
}
