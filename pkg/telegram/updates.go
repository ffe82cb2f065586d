package telegram

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"likegate/pkg/bot"
)

// Poller is the long-polling half of *tgbotapi.BotAPI.
type Poller interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Updates long-polls until ctx ends and forwards every update the dispatcher
// understands. The returned channel is closed on shutdown.
func Updates(ctx context.Context, p Poller, timeout int) <-chan bot.Update {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = timeout
	cfg.AllowedUpdates = []string{"message", "callback_query"}
	in := p.GetUpdatesChan(cfg)
	out := make(chan bot.Update)
	go func() {
		defer close(out)
		defer p.StopReceivingUpdates()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				u, ok := Convert(raw)
				if !ok {
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Convert strips an API update down to a bot.Update. Plain text messages that are
// not commands or membership changes are dropped.
func Convert(raw tgbotapi.Update) (bot.Update, bool) {
	if cq := raw.CallbackQuery; cq != nil {
		if cq.From == nil {
			return bot.Update{}, false
		}
		u := bot.Update{
			ChatID:       cq.From.ID,
			From:         member(cq.From),
			CallbackID:   cq.ID,
			CallbackData: cq.Data,
		}
		if msg := cq.Message; msg != nil && msg.Chat != nil {
			u.ChatID = msg.Chat.ID
			u.ChatType = msg.Chat.Type
			u.ChatTitle = msg.Chat.Title
			u.MessageID = msg.MessageID
		}
		return u, true
	}
	msg := raw.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return bot.Update{}, false
	}
	u := bot.Update{
		ChatID:    msg.Chat.ID,
		ChatType:  msg.Chat.Type,
		ChatTitle: msg.Chat.Title,
		From:      member(msg.From),
		MessageID: msg.MessageID,
	}
	switch {
	case len(msg.NewChatMembers) > 0:
		for i := range msg.NewChatMembers {
			u.NewMembers = append(u.NewMembers, member(&msg.NewChatMembers[i]))
		}
	case msg.LeftChatMember != nil:
		left := member(msg.LeftChatMember)
		u.LeftMember = &left
	case msg.IsCommand():
		u.Command = strings.ToLower(msg.Command())
		u.ArgText = strings.TrimSpace(msg.CommandArguments())
		u.Args = strings.Fields(u.ArgText)
	default:
		return bot.Update{}, false
	}
	return u, true
}
