package server

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkovalev/web-agent-brain/internal/brain"
	"github.com/mkovalev/web-agent-brain/internal/llm"
	"github.com/mkovalev/web-agent-brain/internal/memory"
	"github.com/mkovalev/web-agent-brain/internal/recorder"
	"github.com/mkovalev/web-agent-brain/internal/sitemap"
)

type fixedOracle struct {
	output string
}

func (o fixedOracle) Complete(context.Context, llm.Request) (llm.Response, error) {
	return llm.Response{Text: o.output}, nil
}

func (o fixedOracle) Name() string { return "fixed" }

type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, 32)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		var h uint32 = 2166136261
		for _, c := range []byte(w) {
			h = (h ^ uint32(c)) * 16777619
		}
		vec[h%32]++
	}
	return vec, nil
}

func newTestServer(t *testing.T, oracle llm.Client) (*Server, *memory.Recall) {
	t.Helper()
	nop := zerolog.Nop()

	store, err := memory.Open(":memory:", wordEmbedder{}, nop)
	require.NoError(t, err)
	recall := memory.NewRecall(store, nop)

	sm, err := sitemap.Open(filepath.Join(t.TempDir(), "sitemap.json"), nop)
	require.NoError(t, err)

	rec := recorder.New(t.TempDir(), nop)
	decider := brain.NewDecider(oracle, recall, sm, rec, brain.Config{ClearBansOnNewTask: true}, nop)
	chatter := brain.NewChatter(oracle, nop)
	planner := brain.NewPlanner(oracle, recall, sm, nop)

	return New(":0", decider, chatter, planner, recall, sm, rec, nop), recall
}

func dial(t *testing.T, s *Server) (*websocket.Conn, context.Context) {
	t.Helper()
	ws := httptest.NewServer(s.Handler())
	t.Cleanup(ws.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ws.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func roundTrip(t *testing.T, conn *websocket.Conn, ctx context.Context, msg inbound) map[string]any {
	t.Helper()
	require.NoError(t, wsjson.Write(ctx, conn, msg))
	var reply map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	return reply
}

func TestInstructionReturnsAction(t *testing.T) {
	s, _ := newTestServer(t, fixedOracle{output: `{"action": "click", "id": "12"}`})
	conn, ctx := dial(t, s)

	reply := roundTrip(t, conn, ctx, inbound{
		Type:      "instruction",
		Goal:      "submit the form",
		IsNewTask: true,
		DOM:       "[12] <button> Submit\n",
	})
	assert.Equal(t, "click", reply["action"])
	assert.Equal(t, "12", reply["id"])
	assert.Equal(t, "Submit", reply["value"])
}

func TestRuntimeErrorThenRetry(t *testing.T) {
	s, _ := newTestServer(t, fixedOracle{output: `{"action": "click", "id": "12"}`})
	conn, ctx := dial(t, s)

	reply := roundTrip(t, conn, ctx, inbound{Type: "runtime_error", Message: "element vanished"})
	assert.Equal(t, "message", reply["action"])
	assert.Equal(t, "Error Logged", reply["value"])

	reply = roundTrip(t, conn, ctx, inbound{
		Type: "instruction",
		Goal: "submit the form",
		DOM:  "[12] <button> Submit\n",
	})
	assert.Equal(t, "click", reply["action"])
}

func TestSaveDemoAndFeedback(t *testing.T) {
	s, recall := newTestServer(t, fixedOracle{output: `{"action": "click", "id": "12"}`})
	conn, ctx := dial(t, s)

	reply := roundTrip(t, conn, ctx, inbound{
		Type:     "save_demo",
		TaskName: "submit the form",
		Steps: []demoStep{
			{Action: memory.DemoAction{Type: "click"}, ElementDesc: "Submit"},
		},
	})
	assert.Equal(t, "message", reply["action"])
	assert.Equal(t, "Skill Learned: submit the form", reply["value"])

	demo, ok := recall.BestDemonstration(context.Background(), "submit the form")
	require.True(t, ok)
	assert.Equal(t, "submit the form", demo.TaskName)

	// Feedback without any decided action yet is rejected.
	reply = roundTrip(t, conn, ctx, inbound{Type: "feedback", Reward: 1})
	assert.Equal(t, "error", reply["action"])

	// After a decision there is something to rate.
	roundTrip(t, conn, ctx, inbound{Type: "instruction", Goal: "submit the form", DOM: "[12] <button> Submit\n"})
	reply = roundTrip(t, conn, ctx, inbound{Type: "feedback", Reward: 1})
	assert.Equal(t, "message", reply["action"])
	assert.Equal(t, "Feedback Recorded", reply["value"])
}

func TestRecordEventBuffersSteps(t *testing.T) {
	s, recall := newTestServer(t, fixedOracle{output: "{}"})
	conn, ctx := dial(t, s)

	for _, desc := range []string{"Invoices", "Submit"} {
		reply := roundTrip(t, conn, ctx, inbound{
			Type: "record_event",
			Step: &demoStep{Action: memory.DemoAction{Type: "click"}, ElementDesc: desc},
		})
		assert.Equal(t, "message", reply["action"])
	}

	reply := roundTrip(t, conn, ctx, inbound{Type: "save_demo", TaskName: "pay an invoice"})
	require.Equal(t, "message", reply["action"])
	require.Equal(t, "Skill Learned: pay an invoice", reply["value"])

	demo, ok := recall.BestDemonstration(context.Background(), "pay an invoice")
	require.True(t, ok)
	require.Len(t, demo.Steps, 2)
	assert.Equal(t, "Submit", demo.Steps[1].ElementDesc)

	// Buffer is consumed; a second save without new events fails.
	reply = roundTrip(t, conn, ctx, inbound{Type: "save_demo", TaskName: "again"})
	assert.Equal(t, "error", reply["action"])
}

func TestSitemapMessages(t *testing.T) {
	s, _ := newTestServer(t, fixedOracle{output: `{"action": "message", "value": "hi"}`})
	conn, ctx := dial(t, s)

	reply := roundTrip(t, conn, ctx, inbound{
		Type:  "sync_sitemap",
		Pages: []sitemap.Page{{URL: "/invoices", Title: "Invoices"}},
	})
	assert.Equal(t, "message", reply["action"])
	assert.Equal(t, "Sitemap Synced", reply["value"])

	reply = roundTrip(t, conn, ctx, inbound{
		Type: "page_structure", URL: "/invoices", Title: "Invoices",
		Keywords: []string{"payment"},
	})
	assert.Equal(t, "message", reply["action"])
	assert.Equal(t, "Sitemap Updated", reply["value"])
}

func TestUnknownMessageType(t *testing.T) {
	s, _ := newTestServer(t, fixedOracle{output: "{}"})
	conn, ctx := dial(t, s)

	reply := roundTrip(t, conn, ctx, inbound{Type: "teleport"})
	assert.Equal(t, "error", reply["action"])
	assert.Contains(t, reply["value"], "teleport")
}

func TestChatMode(t *testing.T) {
	s, _ := newTestServer(t, fixedOracle{output: "The screen shows a submit button."})
	conn, ctx := dial(t, s)

	reply := roundTrip(t, conn, ctx, inbound{
		Type: "instruction", Mode: "chat",
		Text: "what is on screen?",
		DOM:  "[12] <button> Submit\n",
	})
	assert.Equal(t, "message", reply["action"])
	assert.Contains(t, reply["value"], "submit button")
}
