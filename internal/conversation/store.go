package conversation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/aonbot/internal/textutil"
)

// DefaultMaxTurns is one system turn plus five user/assistant pairs.
const DefaultMaxTurns = 11

// ErrSystemTurn is returned when a caller tries to append a second system turn.
var ErrSystemTurn = errors.New("system turn is fixed at conversation creation")

// Config holds the store policy.
type Config struct {
	SystemPrompt string
	// MaxTurns bounds the sequence length, system turn included.
	// Zero means DefaultMaxTurns.
	MaxTurns int
}

// Store owns every conversation's turn sequence and enforces the size bound.
// Turn[0] of every conversation is the system prompt; it is never evicted.
type Store struct {
	backend      Backend
	systemPrompt string
	maxTurns     int
	locks        *KeyedMutex
	logger       *zap.SugaredLogger
}

// NewStore creates a Store over backend. A nil logger disables logging.
func NewStore(backend Backend, cfg Config, logger *zap.SugaredLogger) *Store {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{
		backend:      backend,
		systemPrompt: cfg.SystemPrompt,
		maxTurns:     cfg.MaxTurns,
		locks:        NewKeyedMutex(),
		logger:       logger,
	}
}

// MaxTurns reports the configured bound.
func (s *Store) MaxTurns() int { return s.maxTurns }

// GetOrCreate returns a copy of the conversation, seeding it with the system
// turn on first use.
func (s *Store) GetOrCreate(ctx context.Context, id string) ([]Turn, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.loadOrSeed(ctx, id)
}

// Get returns the conversation without creating it.
func (s *Store) Get(ctx context.Context, id string) ([]Turn, bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.backend.Load(ctx, id)
}

// Append adds a turn at the end, creating the conversation if needed.
// It does not trim; call Trim once the round trip is complete.
func (s *Store) Append(ctx context.Context, id string, role Role, content string) error {
	if role == RoleSystem {
		return ErrSystemTurn
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	turns, err := s.loadOrSeed(ctx, id)
	if err != nil {
		return err
	}
	turns = append(turns, Turn{Role: role, Content: content})
	if err := s.backend.Save(ctx, id, turns); err != nil {
		return err
	}
	s.logger.Infow("turn appended",
		"conversation_id", id,
		"role", role,
		"turns", len(turns),
		"content", textutil.Truncate(content, 100),
	)
	return nil
}

// Trim evicts the oldest user/assistant pair (positions 1 and 2) until the
// sequence fits MaxTurns. It returns the number of turns removed.
func (s *Store) Trim(ctx context.Context, id string) (int, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	turns, ok, err := s.backend.Load(ctx, id)
	if err != nil || !ok {
		return 0, err
	}
	before := len(turns)
	for len(turns) > s.maxTurns && len(turns) >= 3 {
		turns = append(turns[:1], turns[3:]...)
	}
	removed := before - len(turns)
	if removed == 0 {
		return 0, nil
	}
	if err := s.backend.Save(ctx, id, turns); err != nil {
		return 0, err
	}
	s.logger.Infow("conversation trimmed",
		"conversation_id", id,
		"removed", removed,
		"turns", len(turns),
		"max_turns", s.maxTurns,
	)
	return removed, nil
}

// Retract removes the last turn if it equals want. It reports whether a turn
// was removed. The system turn is never retracted.
func (s *Store) Retract(ctx context.Context, id string, want Turn) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	turns, ok, err := s.backend.Load(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	if len(turns) < 2 || turns[len(turns)-1] != want {
		return false, nil
	}
	turns = turns[:len(turns)-1]
	if err := s.backend.Save(ctx, id, turns); err != nil {
		return false, err
	}
	s.logger.Infow("turn retracted",
		"conversation_id", id,
		"role", want.Role,
		"content", textutil.Truncate(want.Content, 100),
	)
	return true, nil
}

// Clear deletes the conversation. Unknown ids are a no-op.
func (s *Store) Clear(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.backend.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Infow("conversation cleared", "conversation_id", id)
	return nil
}

func (s *Store) loadOrSeed(ctx context.Context, id string) ([]Turn, error) {
	turns, ok, err := s.backend.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	system := Turn{Role: RoleSystem, Content: s.systemPrompt}
	if ok {
		if len(turns) > 0 && turns[0] == system {
			return turns, nil
		}
		// Stored under a different prompt, or missing its system turn.
		if len(turns) > 0 && turns[0].Role == RoleSystem {
			turns[0] = system
		} else {
			turns = append([]Turn{system}, turns...)
		}
		if err := s.backend.Save(ctx, id, turns); err != nil {
			return nil, fmt.Errorf("resync system turn conversation_id=%s: %w", id, err)
		}
		s.logger.Infow("system turn replaced with configured prompt", "conversation_id", id)
		return turns, nil
	}
	turns = []Turn{system}
	if err := s.backend.Save(ctx, id, turns); err != nil {
		return nil, fmt.Errorf("seed conversation_id=%s: %w", id, err)
	}
	s.logger.Debugw("conversation created", "conversation_id", id)
	return turns, nil
}
