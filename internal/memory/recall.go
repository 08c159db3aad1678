package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DemoAction is the action part of a recorded demonstration step.
type DemoAction struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

// DemoStep is one step of a human demonstration.
type DemoStep struct {
	Action        DemoAction `json:"action"`
	ElementDesc   string     `json:"element_desc"`
	CropImagePath string     `json:"crop_image_path,omitempty"`
}

// Demonstration is a named, ordered trajectory. Immutable once saved.
type Demonstration struct {
	TaskName   string
	RecordedAt time.Time
	Steps      []DemoStep
}

// FeedbackHints partitions retrieved ratings by reward sign. Each entry is
// the digest of the rated action.
type FeedbackHints struct {
	Worked []string
	Failed []string
}

const feedbackK = 3

// Recall is the retrieval adapter consumed by the decision loop. Every method
// is best-effort: any store or embedding failure yields an empty result, never
// an error. The loop must function with zero memory.
type Recall struct {
	store  *Store
	logger zerolog.Logger
}

func NewRecall(store *Store, log zerolog.Logger) *Recall {
	return &Recall{store: store, logger: log}
}

// BestDemonstration returns the single nearest demonstration for the goal.
func (r *Recall) BestDemonstration(ctx context.Context, goal string) (Demonstration, bool) {
	hits, err := r.store.QueryNearest(ctx, CollectionDemos, goal, 1)
	if err != nil {
		r.logger.Debug().Err(err).Msg("demo retrieval failed, proceeding without memory")
		return Demonstration{}, false
	}
	if len(hits) == 0 {
		return Demonstration{}, false
	}
	demo, err := demoFromHit(hits[0])
	if err != nil {
		r.logger.Warn().Str("id", hits[0].ID).Err(err).Msg("stored demonstration is malformed")
		return Demonstration{}, false
	}
	return demo, true
}

// NearestDemonstrations returns up to k demonstrations for plan synthesis.
func (r *Recall) NearestDemonstrations(ctx context.Context, goal string, k int) []Demonstration {
	hits, err := r.store.QueryNearest(ctx, CollectionDemos, goal, k)
	if err != nil {
		r.logger.Debug().Err(err).Msg("demo retrieval failed, proceeding without memory")
		return nil
	}
	demos := make([]Demonstration, 0, len(hits))
	for _, hit := range hits {
		demo, err := demoFromHit(hit)
		if err != nil {
			r.logger.Warn().Str("id", hit.ID).Err(err).Msg("stored demonstration is malformed")
			continue
		}
		demos = append(demos, demo)
	}
	return demos
}

// Feedback returns what worked and what failed for similar goal+screen
// combinations, up to a small fixed number of records.
func (r *Recall) Feedback(ctx context.Context, goal, snapshotSummary string) FeedbackHints {
	query := fmt.Sprintf("Goal: %s\nUI: %s", goal, snapshotSummary)
	hits, err := r.store.QueryNearest(ctx, CollectionFeedback, query, feedbackK)
	if err != nil {
		r.logger.Debug().Err(err).Msg("feedback retrieval failed, proceeding without memory")
		return FeedbackHints{}
	}
	var out FeedbackHints
	for _, hit := range hits {
		action, _ := hit.Metadata["action"].(string)
		if action == "" {
			continue
		}
		if reward, ok := metaNumber(hit.Metadata, "reward"); ok && reward > 0 {
			out.Worked = append(out.Worked, action)
		} else {
			out.Failed = append(out.Failed, action)
		}
	}
	return out
}

// SaveDemonstration stores a finished recording under its task name.
func (r *Recall) SaveDemonstration(ctx context.Context, taskName string, steps []DemoStep) (string, error) {
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("marshal steps: %w", err)
	}
	id := "demo_" + uuid.NewString()
	meta := map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"steps":     string(stepsJSON),
	}
	if err := r.store.Add(ctx, CollectionDemos, id, taskName, meta); err != nil {
		return "", err
	}
	return id, nil
}

// SaveFeedback appends one signed rating of an action in its context.
func (r *Recall) SaveFeedback(ctx context.Context, goal, snapshotSummary, actionDigest string, reward int) error {
	doc := fmt.Sprintf("Goal: %s\nUI: %s", goal, snapshotSummary)
	meta := map[string]any{
		"action":    actionDigest,
		"reward":    reward,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	return r.store.Add(ctx, CollectionFeedback, "rl_"+uuid.NewString(), doc, meta)
}

func demoFromHit(hit Hit) (Demonstration, error) {
	stepsJSON, _ := hit.Metadata["steps"].(string)
	if stepsJSON == "" {
		return Demonstration{}, fmt.Errorf("metadata has no steps")
	}
	var steps []DemoStep
	if err := json.Unmarshal([]byte(stepsJSON), &steps); err != nil {
		return Demonstration{}, fmt.Errorf("unmarshal steps: %w", err)
	}
	demo := Demonstration{TaskName: hit.Document, Steps: steps}
	if ts, ok := hit.Metadata["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			demo.RecordedAt = t
		}
	}
	return demo, nil
}

// metaNumber reads a numeric metadata field that may have round-tripped
// through JSON as float64 or survived as int.
func metaNumber(meta map[string]any, key string) (float64, bool) {
	switch v := meta[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
