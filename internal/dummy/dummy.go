package dummy

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/aonbot/internal/commander"
	"github.com/stupiduntilnot/aonbot/internal/conversation"
	modelpkg "github.com/stupiduntilnot/aonbot/internal/model"
)

type action struct {
	kind string
	arg  string
}

var actionKinds = []string{"msgb64", "msg", "err", "sleep"}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" || token == "echo" {
			actions = append(actions, action{kind: token})
			continue
		}
		parsed := false
		for _, kind := range actionKinds {
			if arg, ok := strings.CutPrefix(token, kind+":"); ok {
				actions = append(actions, action{kind: kind, arg: arg})
				parsed = true
				break
			}
		}
		if !parsed {
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

// next returns the next action; the last action repeats once the script runs out.
func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

func sleep(ctx context.Context, arg string) error {
	ms, _ := strconv.Atoi(arg)
	if ms <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SentMessage is a message the dummy commander was asked to deliver.
type SentMessage struct {
	ChatID int64
	Text   string
}

// Commander replays a poll script and records outgoing messages.
type Commander struct {
	mu       sync.Mutex
	poll     *scriptRunner
	send     *scriptRunner
	updateID int64
	sent     []SentMessage
}

func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{poll: poll, send: send, updateID: 1}, nil
}

// GetUpdates plays the next poll action. Sleeps run without holding the lock
// so sends from concurrent handlers are not blocked.
func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	a := c.poll.next()
	if a.kind == "sleep" {
		c.mu.Unlock()
		return nil, sleep(ctx, a.arg)
	}
	defer c.mu.Unlock()
	switch a.kind {
	case "err":
		return nil, fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api"))
	case "msg":
		return []cmdpkg.Update{c.newUpdate(a.arg)}, nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return nil, fmt.Errorf("dummy commander msgb64 decode failed: %w", err)
		}
		return []cmdpkg.Update{c.newUpdate(string(raw))}, nil
	default:
		return nil, nil
	}
}

func (c *Commander) newUpdate(text string) cmdpkg.Update {
	c.updateID++
	return cmdpkg.Update{
		UpdateID: c.updateID,
		Message: &cmdpkg.Message{
			MessageID: c.updateID,
			From:      &cmdpkg.User{ID: 1, Username: "dummy_user"},
			Chat:      cmdpkg.Chat{ID: 1, Type: "private"},
			Text:      &text,
			Date:      time.Now().Unix(),
		},
	}
}

func (c *Commander) SendMessage(ctx context.Context, chatID int64, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.send.next()
	switch a.kind {
	case "err":
		return fmt.Errorf("dummy commander send error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return err
		}
	}
	c.sent = append(c.sent, SentMessage{ChatID: chatID, Text: text})
	return nil
}

func (c *Commander) SendChatAction(context.Context, int64, string) error { return nil }

func (c *Commander) GetMe(context.Context) (cmdpkg.User, error) {
	return cmdpkg.User{ID: 999, IsBot: true, FirstName: "Dummy", Username: "dummy_bot"}, nil
}

func (c *Commander) GetChatMember(_ context.Context, _ int64, userID int64) (cmdpkg.ChatMember, error) {
	return cmdpkg.ChatMember{Status: "member", User: cmdpkg.User{ID: userID}}, nil
}

// Sent returns a copy of every delivered message.
func (c *Commander) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SentMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

// Provider replays a completion script. "echo" answers with the last user turn.
type Provider struct {
	mu     sync.Mutex
	model  string
	script *scriptRunner
}

func NewProvider(model, script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{model: model, script: runner}, nil
}

func (p *Provider) ChatCompletion(ctx context.Context, turns []conversation.Turn) (modelpkg.CompletionResponse, error) {
	p.mu.Lock()
	a := p.script.next()
	p.mu.Unlock()

	switch a.kind {
	case "err":
		return modelpkg.CompletionResponse{}, scriptedError(a.arg)
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return modelpkg.CompletionResponse{}, &modelpkg.TransportError{Err: err}
		}
		return reply("dummy-after-sleep"), nil
	case "msg":
		return reply(a.arg), nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider msgb64 decode failed: %w", err)
		}
		return reply(string(raw)), nil
	case "echo":
		for i := len(turns) - 1; i >= 0; i-- {
			if turns[i].Role == conversation.RoleUser {
				return reply("echo: " + turns[i].Content), nil
			}
		}
		return reply("echo:"), nil
	default:
		return reply("dummy-ok"), nil
	}
}

func reply(content string) modelpkg.CompletionResponse {
	return modelpkg.CompletionResponse{Content: content, InputTokens: 1, OutputTokens: 1}
}

func scriptedError(class string) error {
	switch class {
	case modelpkg.ClassTransport:
		return &modelpkg.TransportError{Err: errors.New("dummy connection reset")}
	case modelpkg.ClassRemote, "":
		return &modelpkg.RemoteError{StatusCode: http.StatusBadGateway, Body: "dummy upstream failure"}
	case modelpkg.ClassMalformed:
		return &modelpkg.MalformedResponseError{Reason: "empty choices"}
	default:
		return fmt.Errorf("dummy provider error class=%s", class)
	}
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
