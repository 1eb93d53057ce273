package dummy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/aonbot/internal/conversation"
	"github.com/stupiduntilnot/aonbot/internal/model"
)

var hi = []conversation.Turn{{Role: conversation.RoleUser, Content: "hi"}}

func TestNewProvider_InvalidScript(t *testing.T) {
	_, err := NewProvider("x", "boom")
	require.Error(t, err)
}

func TestProvider_ScriptedResponses(t *testing.T) {
	p, err := NewProvider("x", "err:remote,msg:hello")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.ChatCompletion(ctx, hi)
	var remote *model.RemoteError
	require.ErrorAs(t, err, &remote)

	resp, err := p.ChatCompletion(ctx, hi)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)

	resp, err = p.ChatCompletion(ctx, hi)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content, "last action repeats")
}

func TestProvider_ErrorClasses(t *testing.T) {
	for _, class := range []string{model.ClassTransport, model.ClassRemote, model.ClassMalformed} {
		p, err := NewProvider("x", "err:"+class)
		require.NoError(t, err)
		_, err = p.ChatCompletion(context.Background(), hi)
		assert.Equal(t, class, model.Classify(err))
	}
}

func TestProvider_MsgB64Action(t *testing.T) {
	p, err := NewProvider("x", "msgb64:aGVsbG8=") // "hello"
	require.NoError(t, err)
	resp, err := p.ChatCompletion(context.Background(), hi)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
}

func TestProvider_Echo(t *testing.T) {
	p, err := NewProvider("x", "echo")
	require.NoError(t, err)
	turns := []conversation.Turn{
		{Role: conversation.RoleSystem, Content: "sys"},
		{Role: conversation.RoleUser, Content: "ping"},
	}
	resp, err := p.ChatCompletion(context.Background(), turns)
	require.NoError(t, err)
	assert.Equal(t, "echo: ping", resp.Content)
}

func TestProvider_SleepHonorsContext(t *testing.T) {
	p, err := NewProvider("x", "sleep:5000")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.ChatCompletion(ctx, hi)
	assert.Equal(t, model.ClassTransport, model.Classify(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCommander_MsgAction(t *testing.T) {
	c, err := NewCommander("msg:test-msg", "ok")
	require.NoError(t, err)
	updates, err := c.GetUpdates(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].Message)
	require.NotNil(t, updates[0].Message.Text)
	assert.Equal(t, "test-msg", *updates[0].Message.Text)
	assert.Equal(t, "private", updates[0].Message.Chat.Type)
}

func TestCommander_RecordsSentMessages(t *testing.T) {
	c, err := NewCommander("ok", "ok,err:send_api,ok")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.SendMessage(ctx, 1, "first"))
	require.Error(t, c.SendMessage(ctx, 1, "dropped"))
	require.NoError(t, c.SendMessage(ctx, 2, "third"))

	assert.Equal(t, []SentMessage{{ChatID: 1, Text: "first"}, {ChatID: 2, Text: "third"}}, c.Sent())
}
