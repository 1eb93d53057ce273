package bot

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/aonbot/internal/assistant"
	cmdpkg "github.com/stupiduntilnot/aonbot/internal/commander"
	"github.com/stupiduntilnot/aonbot/internal/conversation"
	"github.com/stupiduntilnot/aonbot/internal/db"
	"github.com/stupiduntilnot/aonbot/internal/dummy"
	"github.com/stupiduntilnot/aonbot/internal/model"
)

type fakeResponder struct {
	mu      sync.Mutex
	asked   []string
	cleared []string
	err     error
}

func (f *fakeResponder) Respond(_ context.Context, id, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, id+":"+text)
	if f.err != nil {
		return "", f.err
	}
	return "answer: " + text, nil
}

func (f *fakeResponder) Clear(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, id)
	return nil
}

type memRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *memRecorder) Record(eventType string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	return nil
}

func newTestBot(t *testing.T, responder Responder) (*Bot, *dummy.Commander, *memRecorder) {
	t.Helper()
	c, err := dummy.NewCommander("ok", "ok")
	require.NoError(t, err)
	rec := &memRecorder{}
	b := New(c, responder, rec, zap.NewNop().Sugar(), Options{MaxConcurrency: 4})
	require.NoError(t, b.Init(context.Background()))
	return b, c, rec
}

func textUpdate(id int64, chat cmdpkg.Chat, text string) cmdpkg.Update {
	return cmdpkg.Update{
		UpdateID: id,
		Message: &cmdpkg.Message{
			MessageID: id,
			From:      &cmdpkg.User{ID: 7, Username: "alice"},
			Chat:      chat,
			Text:      &text,
		},
	}
}

var private = cmdpkg.Chat{ID: 42, Type: "private"}
var group = cmdpkg.Chat{ID: -100, Type: "supergroup", Title: "AON"}

func TestHandleUpdate_PrivateTextIsAnswered(t *testing.T) {
	r := &fakeResponder{}
	b, c, rec := newTestBot(t, r)

	b.HandleUpdate(context.Background(), textUpdate(1, private, "hello"))

	assert.Equal(t, []string{"42:hello"}, r.asked)
	assert.Equal(t, []dummy.SentMessage{{ChatID: 42, Text: "answer: hello"}}, c.Sent())
	assert.Equal(t, []string{db.EventMessageReceived, db.EventReplySent}, rec.events)
}

func TestHandleUpdate_GroupRequiresMention(t *testing.T) {
	r := &fakeResponder{}
	b, c, _ := newTestBot(t, r)
	ctx := context.Background()

	b.HandleUpdate(ctx, textUpdate(1, group, "just chatting"))
	assert.Empty(t, r.asked)
	assert.Empty(t, c.Sent())

	b.HandleUpdate(ctx, textUpdate(2, group, "@dummy_bot what is IAO?"))

	reply := textUpdate(3, group, "and IMO?")
	reply.Message.ReplyToMessage = &cmdpkg.Message{From: &cmdpkg.User{ID: 999, IsBot: true}, Chat: group}
	b.HandleUpdate(ctx, reply)

	assert.Equal(t, []string{"-100:@dummy_bot what is IAO?", "-100:and IMO?"}, r.asked)
}

func TestHandleUpdate_ClearCommand(t *testing.T) {
	r := &fakeResponder{}
	b, c, rec := newTestBot(t, r)

	b.HandleUpdate(context.Background(), textUpdate(1, private, "/clear"))

	assert.Equal(t, []string{"42"}, r.cleared)
	assert.Empty(t, r.asked)
	require.Len(t, c.Sent(), 1)
	assert.Equal(t, clearedText, c.Sent()[0].Text)
	assert.Equal(t, []string{db.EventHistoryCleared}, rec.events)
}

func TestHandleUpdate_CommandForOtherBotIsIgnored(t *testing.T) {
	r := &fakeResponder{}
	b, c, _ := newTestBot(t, r)
	ctx := context.Background()

	b.HandleUpdate(ctx, textUpdate(1, group, "/clear@other_bot"))
	b.HandleUpdate(ctx, textUpdate(2, group, "/unknown"))
	assert.Empty(t, r.cleared)
	assert.Empty(t, c.Sent())

	b.HandleUpdate(ctx, textUpdate(3, group, "/clear@dummy_bot"))
	assert.Equal(t, []string{"-100"}, r.cleared)
}

func TestHandleUpdate_StartHelpCheck(t *testing.T) {
	b, c, _ := newTestBot(t, &fakeResponder{})
	ctx := context.Background()

	b.HandleUpdate(ctx, textUpdate(1, private, "/start"))
	b.HandleUpdate(ctx, textUpdate(2, private, "/help"))
	b.HandleUpdate(ctx, textUpdate(3, group, "/check"))

	sent := c.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, startText, sent[0].Text)
	assert.Equal(t, helpText, sent[1].Text)
	assert.Contains(t, sent[2].Text, "@dummy_bot")
	assert.Contains(t, sent[2].Text, "- Type: supergroup")
	assert.Contains(t, sent[2].Text, "- Title: AON")
	assert.Contains(t, sent[2].Text, "- Status: member")
	assert.Contains(t, sent[2].Text, "- Admin: no")
}

func TestHandleUpdate_ErrorKindsGetFallbacks(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&model.TransportError{Err: context.DeadlineExceeded}, "couldn't reach"},
		{&model.RemoteError{StatusCode: http.StatusTooManyRequests}, "busy"},
		{&model.RemoteError{StatusCode: http.StatusInternalServerError}, "returned an error"},
		{&model.MalformedResponseError{Reason: "empty choices"}, "unexpected answer"},
		{errors.New("disk full"), "something went wrong"},
	}
	for _, tc := range cases {
		r := &fakeResponder{err: tc.err}
		b, c, rec := newTestBot(t, r)
		b.HandleUpdate(context.Background(), textUpdate(1, private, "hello"))

		sent := c.Sent()
		require.Len(t, sent, 1)
		assert.Contains(t, sent[0].Text, tc.want)
		assert.Equal(t, []string{db.EventMessageReceived, db.EventReplyFailed}, rec.events)
	}
}

func TestRun_AnswersThroughAssistantUntilCancelled(t *testing.T) {
	c, err := dummy.NewCommander("msg:hello,msg:/clear,msg:again,sleep:10", "ok")
	require.NoError(t, err)
	p, err := dummy.NewProvider("x", "echo")
	require.NoError(t, err)
	store := conversation.NewStore(conversation.NewMemoryBackend(), conversation.Config{SystemPrompt: "sys"}, nil)
	a := assistant.New(store, p, nil, assistant.Options{})
	b := New(c, a, nil, nil, Options{MaxConcurrency: 2})
	require.NoError(t, b.Init(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool { return len(c.Sent()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	sent := c.Sent()
	assert.Equal(t, "echo: hello", sent[0].Text)
	assert.Equal(t, clearedText, sent[1].Text)
	assert.Equal(t, "echo: again", sent[2].Text)

	turns, err := store.GetOrCreate(context.Background(), "1")
	require.NoError(t, err)
	assert.Len(t, turns, 3, "clear dropped the first exchange")
}

// batchCommander returns one queued batch per poll, then blocks until cancelled.
type batchCommander struct {
	*dummy.Commander
	mu      sync.Mutex
	batches [][]cmdpkg.Update
	polls   int
}

func newBatchCommander(t *testing.T, batches ...[]cmdpkg.Update) *batchCommander {
	t.Helper()
	c, err := dummy.NewCommander("ok", "ok")
	require.NoError(t, err)
	return &batchCommander{Commander: c, batches: batches}
}

func (c *batchCommander) GetUpdates(ctx context.Context, _ int64, _ int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	c.polls++
	if len(c.batches) > 0 {
		batch := c.batches[0]
		c.batches = c.batches[1:]
		c.mu.Unlock()
		return batch, nil
	}
	c.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

// gatedResponder blocks answers for one conversation until release is closed.
type gatedResponder struct {
	fakeResponder
	gatedID string
	release chan struct{}
}

func (g *gatedResponder) Respond(ctx context.Context, id, text string) (string, error) {
	if id == g.gatedID {
		select {
		case <-g.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return g.fakeResponder.Respond(ctx, id, text)
}

func runBot(t *testing.T, b *Bot) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not stop after cancel")
		}
	}
}

func sentTo(c *dummy.Commander, chatID int64) []string {
	var out []string
	for _, m := range c.Sent() {
		if m.ChatID == chatID {
			out = append(out, m.Text)
		}
	}
	return out
}

func TestRun_SlowChatDoesNotDelayOtherChats(t *testing.T) {
	slow := cmdpkg.Chat{ID: 1, Type: "private"}
	fast := cmdpkg.Chat{ID: 2, Type: "private"}
	c := newBatchCommander(t,
		[]cmdpkg.Update{textUpdate(1, slow, "long question")},
		[]cmdpkg.Update{textUpdate(2, fast, "quick question")},
	)
	r := &gatedResponder{gatedID: "1", release: make(chan struct{})}
	b := New(c, r, nil, nil, Options{MaxConcurrency: 4})
	require.NoError(t, b.Init(context.Background()))
	stop := runBot(t, b)
	defer stop()

	require.Eventually(t, func() bool { return len(sentTo(c.Commander, 2)) == 1 }, 2*time.Second, 5*time.Millisecond,
		"chat 2 must be answered while chat 1 is still waiting")
	assert.Empty(t, sentTo(c.Commander, 1))

	close(r.release)
	require.Eventually(t, func() bool { return len(sentTo(c.Commander, 1)) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"answer: long question"}, sentTo(c.Commander, 1))
}

func TestRun_SameChatStaysInOrderAcrossPolls(t *testing.T) {
	c := newBatchCommander(t,
		[]cmdpkg.Update{textUpdate(1, private, "first")},
		[]cmdpkg.Update{textUpdate(2, private, "second"), textUpdate(3, private, "third")},
	)
	r := &gatedResponder{gatedID: "42", release: make(chan struct{})}
	b := New(c, r, nil, nil, Options{MaxConcurrency: 4})
	require.NoError(t, b.Init(context.Background()))
	stop := runBot(t, b)
	defer stop()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.polls >= 3
	}, 2*time.Second, 5*time.Millisecond, "polling continues while the chat is busy")
	assert.Empty(t, c.Sent())

	close(r.release)
	require.Eventually(t, func() bool { return len(c.Sent()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"answer: first", "answer: second", "answer: third"}, sentTo(c.Commander, 42))
}
