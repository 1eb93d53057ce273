package assistant

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/aonbot/internal/conversation"
	"github.com/stupiduntilnot/aonbot/internal/model"
	"github.com/stupiduntilnot/aonbot/internal/textutil"
)

// Options tunes Assistant behavior.
type Options struct {
	// Timeout bounds a single completion call. Zero means no extra bound
	// beyond the caller's context.
	Timeout time.Duration
	// RollbackOnError removes the user turn when the completion fails.
	RollbackOnError bool
}

// Assistant relays user text to a model provider, using the store as the
// source and sink of conversation context. Calls for one conversation id are
// serialized; different ids run in parallel.
type Assistant struct {
	store    *conversation.Store
	provider model.Provider
	logger   *zap.SugaredLogger
	locks    *conversation.KeyedMutex
	opts     Options
}

// New creates an Assistant. A nil logger disables logging.
func New(store *conversation.Store, provider model.Provider, logger *zap.SugaredLogger, opts Options) *Assistant {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Assistant{
		store:    store,
		provider: provider,
		logger:   logger,
		locks:    conversation.NewKeyedMutex(),
		opts:     opts,
	}
}

// Respond appends text as a user turn, asks the provider for a reply over the
// whole conversation, stores the reply and trims the history.
//
// On provider failure the returned error wraps a *model.TransportError,
// *model.RemoteError or *model.MalformedResponseError. The user turn stays in
// the store unless RollbackOnError is set.
func (a *Assistant) Respond(ctx context.Context, id, text string) (string, error) {
	unlock := a.locks.Lock(id)
	defer unlock()

	if err := a.store.Append(ctx, id, conversation.RoleUser, text); err != nil {
		return "", fmt.Errorf("append user turn conversation_id=%s: %w", id, err)
	}
	turns, err := a.store.GetOrCreate(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load conversation_id=%s: %w", id, err)
	}

	a.logger.Infow("sending completion request",
		"conversation_id", id,
		"turns", len(turns),
		"content", textutil.Truncate(text, 100),
	)

	callCtx := ctx
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	started := time.Now()
	resp, err := a.provider.ChatCompletion(callCtx, turns)
	latency := time.Since(started)
	if err != nil {
		a.logger.Errorw("completion failed",
			"conversation_id", id,
			"error_class", model.Classify(err),
			"latency_ms", latency.Milliseconds(),
			"error", err,
		)
		if a.opts.RollbackOnError {
			a.rollback(id, text)
		}
		return "", fmt.Errorf("respond conversation_id=%s: %w", id, err)
	}

	if err := a.store.Append(ctx, id, conversation.RoleAssistant, resp.Content); err != nil {
		return "", fmt.Errorf("append assistant turn conversation_id=%s: %w", id, err)
	}
	if _, err := a.store.Trim(ctx, id); err != nil {
		return "", fmt.Errorf("trim conversation_id=%s: %w", id, err)
	}

	a.logger.Infow("completion received",
		"conversation_id", id,
		"latency_ms", latency.Milliseconds(),
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"content", textutil.Truncate(resp.Content, 100),
	)
	return resp.Content, nil
}

// Clear forgets the conversation. Unknown ids are a no-op.
func (a *Assistant) Clear(ctx context.Context, id string) error {
	unlock := a.locks.Lock(id)
	defer unlock()
	return a.store.Clear(ctx, id)
}

// rollback uses a fresh context so a cancelled request still gets cleaned up.
func (a *Assistant) rollback(id, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	removed, err := a.store.Retract(ctx, id, conversation.Turn{Role: conversation.RoleUser, Content: text})
	if err != nil {
		a.logger.Warnw("rollback failed", "conversation_id", id, "error", err)
		return
	}
	if !removed {
		a.logger.Warnw("rollback found no matching user turn", "conversation_id", id)
	}
}
