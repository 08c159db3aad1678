// Package server exposes the decision loop over a websocket. One connection
// is one session: the extension (or any client) streams observations and
// commands as JSON messages and gets exactly one action-shaped reply per
// message, so clients run a single decode path.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mkovalev/web-agent-brain/internal/annotate"
	"github.com/mkovalev/web-agent-brain/internal/brain"
	"github.com/mkovalev/web-agent-brain/internal/memory"
	"github.com/mkovalev/web-agent-brain/internal/recorder"
	"github.com/mkovalev/web-agent-brain/internal/sitemap"
)

// inbound is the envelope for every client message. Fields beyond Type are
// populated per message type; unknown fields are ignored.
type inbound struct {
	Type string `json:"type"`

	// instruction
	Mode       string         `json:"mode,omitempty"` // "task" (default) or "chat"
	Goal       string         `json:"goal,omitempty"`
	Text       string         `json:"text,omitempty"`
	IsNewTask  bool           `json:"is_new_task,omitempty"`
	DOM        string         `json:"dom,omitempty"`
	Screenshot string         `json:"screenshot,omitempty"`
	Boxes      []annotate.Box `json:"boxes,omitempty"`

	// record_event / save_demo
	TaskName string     `json:"task_name,omitempty"`
	Step     *demoStep  `json:"step,omitempty"`
	Steps    []demoStep `json:"steps,omitempty"`

	// feedback
	Reward int    `json:"reward,omitempty"`
	Action string `json:"action,omitempty"`

	// runtime_error
	Message string `json:"message,omitempty"`

	// sync_sitemap / page_structure
	Pages    []sitemap.Page `json:"pages,omitempty"`
	URL      string         `json:"url,omitempty"`
	Title    string         `json:"title,omitempty"`
	Keywords []string       `json:"keywords,omitempty"`
}

// demoStep is the wire form of one demonstration step; the crop image arrives
// inline and is swapped for a dataset path before storage.
type demoStep struct {
	Action      memory.DemoAction `json:"action"`
	ElementDesc string            `json:"element_desc"`
	CropImage   string            `json:"crop_image,omitempty"`
}

// Server wires the loop's collaborators to the websocket endpoint. Recall,
// planner, sitemap and recorder may each be nil; the matching message types
// then answer with an error action.
type Server struct {
	addr     string
	decider  *brain.Decider
	chatter  *brain.Chatter
	planner  *brain.Planner
	recall   *memory.Recall
	sitemap  *sitemap.Manager
	recorder *recorder.Recorder
	logger   zerolog.Logger
}

func New(addr string, decider *brain.Decider, chatter *brain.Chatter, planner *brain.Planner,
	recall *memory.Recall, sm *sitemap.Manager, rec *recorder.Recorder, log zerolog.Logger) *Server {
	return &Server{
		addr:     addr,
		decider:  decider,
		chatter:  chatter,
		planner:  planner,
		recall:   recall,
		sitemap:  sm,
		recorder: rec,
		logger:   log.With().Str("comp", "server").Logger(),
	}
}

// Handler returns the http routes: /ws for the protocol, /healthz for probes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Run serves until ctx is canceled, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info().Str("addr", s.addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // extension origins vary per browser
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server shutting down")
	conn.SetReadLimit(32 << 20) // screenshots are large

	sess := brain.NewSession()
	logger := s.logger.With().Str("session", sess.ID).Logger()
	logger.Info().Str("remote", r.RemoteAddr).Msg("client connected")

	// Demonstration steps streamed via record_event, consumed by save_demo.
	var pending []demoStep

	ctx := r.Context()
	for {
		var msg inbound
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				logger.Info().Msg("client disconnected")
			} else {
				logger.Warn().Err(err).Msg("read failed, dropping connection")
			}
			return
		}

		reply := s.dispatch(ctx, sess, &pending, msg, logger)
		if err := wsjson.Write(ctx, conn, reply); err != nil {
			logger.Warn().Err(err).Msg("write failed, dropping connection")
			return
		}
	}
}

// dispatch routes one message. Every reply is a brain.Action: decisions and
// chat answers carry their own kinds, everything else acknowledges with a
// message action or reports an error action.
func (s *Server) dispatch(ctx context.Context, sess *brain.Session, pending *[]demoStep, msg inbound, logger zerolog.Logger) brain.Action {
	switch msg.Type {
	case "instruction":
		return s.handleInstruction(ctx, sess, msg, logger)
	case "record_event":
		if msg.Step == nil {
			return brain.Errorf("record_event needs a step")
		}
		*pending = append(*pending, *msg.Step)
		return brain.Message("Step Recorded")
	case "save_demo":
		return s.handleSaveDemo(ctx, sess, pending, msg)
	case "feedback":
		return s.handleFeedback(ctx, sess, msg)
	case "runtime_error":
		sess.LogError(msg.Message)
		logger.Warn().Str("error", msg.Message).Msg("client reported execution failure")
		return brain.Message("Error Logged")
	case "sync_sitemap":
		return s.handleSyncSitemap(msg)
	case "page_structure":
		return s.handlePageStructure(msg)
	default:
		return brain.Errorf("unknown message type %q", msg.Type)
	}
}

func (s *Server) handleInstruction(ctx context.Context, sess *brain.Session, msg inbound, logger zerolog.Logger) brain.Action {
	if msg.Mode == "chat" {
		return s.chatter.Reply(ctx, sess, msg.Text, msg.DOM)
	}

	marked := ""
	if msg.Screenshot != "" && len(msg.Boxes) > 0 {
		var err error
		marked, err = annotate.Mark(msg.Screenshot, msg.Boxes)
		if err != nil {
			logger.Warn().Err(err).Msg("annotation failed, using raw screenshot")
			marked = ""
		}
	}

	if msg.IsNewTask && s.planner != nil {
		if steps := s.planner.Plan(ctx, msg.Goal); len(steps) > 0 {
			sess.SetPlan(steps)
		}
	}

	return s.decider.Decide(ctx, sess, brain.Request{
		Goal:       msg.Goal,
		Listing:    msg.DOM,
		Screenshot: msg.Screenshot,
		Marked:     marked,
		NewTask:    msg.IsNewTask,
	})
}

func (s *Server) handleSaveDemo(ctx context.Context, sess *brain.Session, pending *[]demoStep, msg inbound) brain.Action {
	if s.recall == nil {
		return brain.Errorf("memory store is disabled")
	}
	wireSteps := msg.Steps
	if len(wireSteps) == 0 {
		wireSteps = *pending
	}
	if msg.TaskName == "" || len(wireSteps) == 0 {
		return brain.Errorf("save_demo needs task_name and steps")
	}

	steps := make([]memory.DemoStep, 0, len(wireSteps))
	for i, ws := range wireSteps {
		step := memory.DemoStep{Action: ws.Action, ElementDesc: ws.ElementDesc}
		if ws.CropImage != "" && s.recorder != nil {
			name := fmt.Sprintf("%s_step_%d", sess.ID, i)
			if path, err := s.recorder.SaveDemoImage(name, ws.CropImage); err == nil {
				step.CropImagePath = path
			} else {
				s.logger.Warn().Err(err).Int("step", i).Msg("demo crop dropped")
			}
		}
		steps = append(steps, step)
	}

	id, err := s.recall.SaveDemonstration(ctx, msg.TaskName, steps)
	if err != nil {
		return brain.Errorf("save demonstration: %v", err)
	}
	s.logger.Info().Str("demo", id).Str("task", msg.TaskName).Int("steps", len(steps)).Msg("demonstration saved")
	*pending = (*pending)[:0]
	return brain.Message(fmt.Sprintf("Skill Learned: %s", msg.TaskName))
}

func (s *Server) handleFeedback(ctx context.Context, sess *brain.Session, msg inbound) brain.Action {
	if s.recall == nil {
		return brain.Errorf("memory store is disabled")
	}
	actionDigest := msg.Action
	if actionDigest == "" {
		if last, ok := sess.LastEntry(); ok {
			actionDigest = last
		}
	}
	if actionDigest == "" {
		return brain.Errorf("nothing to rate yet")
	}
	goal, digest := sess.LastContext()
	if err := s.recall.SaveFeedback(ctx, goal, digest, actionDigest, msg.Reward); err != nil {
		return brain.Errorf("save feedback: %v", err)
	}
	return brain.Message("Feedback Recorded")
}

func (s *Server) handleSyncSitemap(msg inbound) brain.Action {
	if s.sitemap == nil {
		return brain.Errorf("sitemap is disabled")
	}
	if err := s.sitemap.SyncSkeleton(msg.Pages); err != nil {
		return brain.Errorf("sync sitemap: %v", err)
	}
	return brain.Message("Sitemap Synced")
}

func (s *Server) handlePageStructure(msg inbound) brain.Action {
	if s.sitemap == nil {
		return brain.Errorf("sitemap is disabled")
	}
	if err := s.sitemap.UpdateFlesh(msg.URL, msg.Title, msg.Keywords); err != nil {
		return brain.Errorf("update page structure: %v", err)
	}
	return brain.Message("Sitemap Updated")
}
