package brain

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mkovalev/web-agent-brain/internal/llm"
)

const (
	chatHistoryCap   = 12
	chatTemperature  = 0.7
	chatListingLimit = 4000
)

// Chatter answers conversational turns without driving the UI. It shares the
// session so the transcript survives across messages on one connection.
type Chatter struct {
	oracle llm.Client
	logger zerolog.Logger
}

func NewChatter(oracle llm.Client, log zerolog.Logger) *Chatter {
	return &Chatter{oracle: oracle, logger: log.With().Str("comp", "chat").Logger()}
}

// Reply produces a message action for the user's chat turn. The current
// listing, when present, is attached to the turn so on-screen questions can be
// answered; it is not stored in the transcript.
func (c *Chatter) Reply(ctx context.Context, sess *Session, userText, listing string) Action {
	sess.ChatAppend(llm.Message{Role: "user", Content: userText}, chatHistoryCap)

	messages := sess.ChatHistory()
	if listing != "" {
		if len(listing) > chatListingLimit {
			listing = listing[:chatListingLimit]
		}
		last := messages[len(messages)-1]
		last.Content = "Current screen elements:\n" + listing + "\n\nUser message: " + userText
		messages[len(messages)-1] = last
	}

	resp, err := c.oracle.Complete(ctx, llm.Request{
		System:      chatSystemPrompt,
		Messages:    messages,
		Temperature: chatTemperature,
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("chat completion failed")
		return Errorf("chat backend unavailable: %v", err)
	}

	answer := stripReasoning(resp.Text)
	sess.ChatAppend(llm.Message{Role: "assistant", Content: answer}, chatHistoryCap)
	return Message(answer)
}
