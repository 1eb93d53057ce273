package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	cmdpkg "github.com/stupiduntilnot/aonbot/internal/commander"
	"github.com/stupiduntilnot/aonbot/internal/db"
	"github.com/stupiduntilnot/aonbot/internal/model"
	"github.com/stupiduntilnot/aonbot/internal/textutil"
)

// Responder is the conversation surface the bot drives.
type Responder interface {
	Respond(ctx context.Context, id, text string) (string, error)
	Clear(ctx context.Context, id string) error
}

// Recorder stores durable events. db.EventLog satisfies it.
type Recorder interface {
	Record(eventType string, payload map[string]any) error
}

// Options configures polling.
type Options struct {
	// PollTimeout is the long-poll wait passed to GetUpdates, in seconds.
	PollTimeout int
	// ErrorBackoff is the pause after a failed poll.
	ErrorBackoff time.Duration
	// MaxConcurrency bounds how many chats are served at once.
	MaxConcurrency int
}

const (
	startText = "👋 Hi! I'm an AI assistant for AGI Open Network (AON).\n\n" +
		"🤖 I can:\n" +
		"1. Answer your questions\n" +
		"2. Help you get things done\n" +
		"3. Chat with you\n\n" +
		"💡 Just send me a message to start.\n" +
		"🔄 Use /clear to reset the conversation\n" +
		"❓ Use /help for more"
	helpText = "🔍 Help\n\n" +
		"Commands:\n" +
		"/start - start a conversation\n" +
		"/help - show this help\n" +
		"/clear - clear the conversation history\n" +
		"/check - show bot permissions in this chat\n\n" +
		"Tips:\n" +
		"1. Send any message to talk to me\n" +
		"2. I remember recent messages to keep context\n" +
		"3. Use /clear to start a new topic\n" +
		"4. In groups, mention me or reply to my message"
	clearedText      = "🧹 Conversation history cleared. Let's start fresh."
	clearFailedText  = "Sorry, clearing the history failed. Please try again later."
	commandErrorText = "Sorry, something went wrong while handling that command. Please try again later."
)

// Bot polls a Commander and answers each chat through a Responder.
type Bot struct {
	commander cmdpkg.Commander
	responder Responder
	recorder  Recorder
	logger    *zap.SugaredLogger
	opts      Options

	me cmdpkg.User

	// slots bounds handlers running across all chats.
	slots *semaphore.Weighted

	mu sync.Mutex
	// queues holds pending updates per chat. A key is present while that
	// chat's worker is running.
	queues map[int64][]cmdpkg.Update
}

// New creates a Bot. recorder may be nil.
func New(commander cmdpkg.Commander, responder Responder, recorder Recorder, logger *zap.SugaredLogger, opts Options) *Bot {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = time.Second
	}
	return &Bot{
		commander: commander,
		responder: responder,
		recorder:  recorder,
		logger:    logger,
		opts:      opts,
		slots:     semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		queues:    make(map[int64][]cmdpkg.Update),
	}
}

// Init fetches the bot's own identity, used for group mention detection.
func (b *Bot) Init(ctx context.Context) error {
	me, err := b.commander.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("getMe: %w", err)
	}
	b.me = me
	b.logger.Infow("bot identity loaded", "bot_id", me.ID, "username", me.Username)
	return nil
}

// Run polls until ctx is cancelled, then waits for in-flight handlers.
// Polling never waits on handlers: each chat has one worker that handles its
// updates in arrival order, and chats proceed independently.
func (b *Bot) Run(ctx context.Context) error {
	var workers errgroup.Group
	b.poll(ctx, &workers)
	_ = workers.Wait()
	return nil
}

func (b *Bot) poll(ctx context.Context, workers *errgroup.Group) {
	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}
		updates, err := b.commander.GetUpdates(ctx, offset, b.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Errorw("getUpdates failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.opts.ErrorBackoff):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
		}
		b.dispatch(ctx, workers, updates)
	}
}

// dispatch queues updates on their chat and starts a worker for chats that
// have none.
func (b *Bot) dispatch(ctx context.Context, workers *errgroup.Group, updates []cmdpkg.Update) {
	for _, u := range updates {
		if u.Message == nil {
			continue
		}
		chatID := u.Message.Chat.ID
		b.mu.Lock()
		pending, running := b.queues[chatID]
		b.queues[chatID] = append(pending, u)
		b.mu.Unlock()
		if !running {
			workers.Go(func() error {
				b.drain(ctx, chatID)
				return nil
			})
		}
	}
}

func (b *Bot) drain(ctx context.Context, chatID int64) {
	for {
		b.mu.Lock()
		pending := b.queues[chatID]
		if len(pending) == 0 {
			delete(b.queues, chatID)
			b.mu.Unlock()
			return
		}
		u := pending[0]
		b.queues[chatID] = pending[1:]
		b.mu.Unlock()

		if err := b.slots.Acquire(ctx, 1); err != nil {
			b.mu.Lock()
			dropped := len(b.queues[chatID]) + 1
			delete(b.queues, chatID)
			b.mu.Unlock()
			b.logger.Warnw("shutting down, pending updates dropped", "chat_id", chatID, "dropped", dropped)
			return
		}
		b.HandleUpdate(ctx, u)
		b.slots.Release(1)
	}
}

// HandleUpdate routes one update to a command or to the responder.
func (b *Bot) HandleUpdate(ctx context.Context, u cmdpkg.Update) {
	msg := u.Message
	if msg == nil || msg.Text == nil {
		return
	}
	text := strings.TrimSpace(*msg.Text)
	if text == "" {
		return
	}

	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, msg, text)
		return
	}

	if msg.Chat.IsGroup() && !b.mentioned(msg, text) {
		b.logger.Debugw("group message does not mention bot, ignored", "chat_id", msg.Chat.ID)
		return
	}
	b.handleText(ctx, msg, text)
}

func (b *Bot) mentioned(msg *cmdpkg.Message, text string) bool {
	if r := msg.ReplyToMessage; r != nil && r.From != nil && b.me.ID != 0 && r.From.ID == b.me.ID {
		return true
	}
	return b.me.Username != "" && strings.Contains(text, "@"+b.me.Username)
}

func (b *Bot) handleText(ctx context.Context, msg *cmdpkg.Message, text string) {
	chatID := msg.Chat.ID
	id := conversationID(chatID)
	b.logger.Infow("message received",
		"chat_id", chatID,
		"from", username(msg),
		"text", textutil.Truncate(text, 200),
	)
	b.record(db.EventMessageReceived, map[string]any{"chat_id": chatID, "message_id": msg.MessageID})

	if err := b.commander.SendChatAction(ctx, chatID, "typing"); err != nil {
		b.logger.Warnw("sendChatAction failed", "chat_id", chatID, "error", err)
	}

	reply, err := b.responder.Respond(ctx, id, text)
	if err != nil {
		class := model.Classify(err)
		b.logger.Errorw("respond failed", "chat_id", chatID, "error_class", class, "error", err)
		b.record(db.EventReplyFailed, map[string]any{
			"chat_id":     chatID,
			"error_class": class,
			"error":       textutil.Truncate(err.Error(), 1000),
		})
		b.send(ctx, chatID, fallbackText(err))
		return
	}

	if b.send(ctx, chatID, reply) {
		b.logger.Infow("reply sent", "chat_id", chatID, "text", textutil.Truncate(reply, 100))
		b.record(db.EventReplySent, map[string]any{"chat_id": chatID, "chars": len([]rune(reply))})
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *cmdpkg.Message, text string) {
	name, ok := b.commandName(text)
	if !ok {
		return
	}
	chatID := msg.Chat.ID
	b.logger.Infow("command received", "command", name, "chat_id", chatID, "from", username(msg))

	switch name {
	case "start":
		b.send(ctx, chatID, startText)
	case "help":
		b.send(ctx, chatID, helpText)
	case "clear":
		if err := b.responder.Clear(ctx, conversationID(chatID)); err != nil {
			b.logger.Errorw("clear failed", "chat_id", chatID, "error", err)
			b.send(ctx, chatID, clearFailedText)
			return
		}
		b.record(db.EventHistoryCleared, map[string]any{"chat_id": chatID})
		b.send(ctx, chatID, clearedText)
	case "check":
		report, err := b.checkReport(ctx, msg.Chat)
		if err != nil {
			b.logger.Errorw("check failed", "chat_id", chatID, "error", err)
			b.send(ctx, chatID, commandErrorText)
			return
		}
		b.send(ctx, chatID, report)
	}
}

// commandName extracts the command from "/name@bot args". Commands addressed
// to another bot are rejected.
func (b *Bot) commandName(text string) (string, bool) {
	head := strings.Fields(text)[0]
	head = strings.TrimPrefix(head, "/")
	name, target, addressed := strings.Cut(head, "@")
	if addressed && b.me.Username != "" && !strings.EqualFold(target, b.me.Username) {
		return "", false
	}
	name = strings.ToLower(name)
	switch name {
	case "start", "help", "clear", "check":
		return name, true
	}
	return "", false
}

func (b *Bot) checkReport(ctx context.Context, chat cmdpkg.Chat) (string, error) {
	me, err := b.commander.GetMe(ctx)
	if err != nil {
		return "", err
	}
	title := chat.Title
	if !chat.IsGroup() && chat.Type != "channel" {
		title = "private chat"
	}
	lines := []string{
		"🤖 Bot:",
		"- Username: @" + me.Username,
		"- ID: " + strconv.FormatInt(me.ID, 10),
		"- Is bot: " + yesNo(me.IsBot),
		"\n📱 Chat:",
		"- Type: " + chat.Type,
		"- ID: " + strconv.FormatInt(chat.ID, 10),
		"- Title: " + title,
	}

	member, err := b.commander.GetChatMember(ctx, chat.ID, me.ID)
	if err != nil {
		b.logger.Warnw("getChatMember failed", "chat_id", chat.ID, "error", err)
	} else {
		lines = append(lines,
			"\n🔑 Permissions:",
			"- Status: "+member.Status,
			"- Admin: "+yesNo(member.IsAdmin()),
		)
	}
	return strings.Join(lines, "\n"), nil
}

func (b *Bot) send(ctx context.Context, chatID int64, text string) bool {
	if err := b.commander.SendMessage(ctx, chatID, text); err != nil {
		b.logger.Errorw("sendMessage failed", "chat_id", chatID, "error", err)
		return false
	}
	return true
}

func (b *Bot) record(eventType string, payload map[string]any) {
	if b.recorder == nil {
		return
	}
	if err := b.recorder.Record(eventType, payload); err != nil {
		b.logger.Warnw("record event failed", "event_type", eventType, "error", err)
	}
}

// fallbackText picks the user-visible message for each failure kind.
func fallbackText(err error) string {
	var transportErr *model.TransportError
	var remoteErr *model.RemoteError
	var malformedErr *model.MalformedResponseError
	switch {
	case errors.As(err, &transportErr):
		return "Sorry, I couldn't reach the AI service in time. Please try again."
	case errors.As(err, &remoteErr):
		if remoteErr.StatusCode == 429 {
			return "Sorry, the AI service is busy right now. Please try again in a moment."
		}
		return "Sorry, the AI service returned an error. Please try again later."
	case errors.As(err, &malformedErr):
		return "Sorry, I got an unexpected answer from the AI service. Please try again."
	default:
		return "Sorry, something went wrong while processing your message. Please try again later."
	}
}

func conversationID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

func username(msg *cmdpkg.Message) string {
	if msg.From == nil {
		return ""
	}
	return msg.From.Username
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
