// Package telegram adapts the Telegram Bot API to the dispatcher's Transport.
package telegram

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"likegate/pkg/bot"
)

// DefaultPollTimeout is the long-poll timeout in seconds.
const DefaultPollTimeout = 60

// API is the part of *tgbotapi.BotAPI the transport calls.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetChatMembersCount(config tgbotapi.ChatMemberCountConfig) (int, error)
	GetChatAdministrators(config tgbotapi.ChatAdministratorsConfig) ([]tgbotapi.ChatMember, error)
}

// Dial connects to the Bot API and checks the token with getMe.
func Dial(token string, client *http.Client) (*tgbotapi.BotAPI, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram: bot token required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, err
	}
	log.Printf("telegram: authorized as @%s", api.Self.UserName)
	return api, nil
}

type Transport struct {
	api API
}

func NewTransport(api API) *Transport {
	return &Transport{api: api}
}

func (t *Transport) Send(ctx context.Context, chatID int64, text string, kb bot.Keyboard) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if markup := keyboard(kb); markup != nil {
		msg.ReplyMarkup = *markup
	}
	sent, err := t.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// Edit replaces the text and keyboard of an existing message. Editing to identical
// content is not an error.
func (t *Transport) Edit(ctx context.Context, chatID int64, messageID int, text string, kb bot.Keyboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	edit.DisableWebPagePreview = true
	edit.ReplyMarkup = keyboard(kb)
	_, err := t.api.Request(edit)
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	return err
}

func (t *Transport) Delete(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}

func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.api.Request(tgbotapi.NewCallback(callbackID, text))
	return err
}

func (t *Transport) GroupInfo(ctx context.Context, chatID int64) (bot.GroupInfo, error) {
	if err := ctx.Err(); err != nil {
		return bot.GroupInfo{}, err
	}
	cfg := tgbotapi.ChatConfig{ChatID: chatID}
	chat, err := t.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: cfg})
	if err != nil {
		return bot.GroupInfo{}, err
	}
	info := bot.GroupInfo{Title: chat.Title, Type: chat.Type}
	if n, err := t.api.GetChatMembersCount(tgbotapi.ChatMemberCountConfig{ChatConfig: cfg}); err == nil {
		info.MemberCount = n
	} else {
		log.Printf("telegram: member count chat=%d: %v", chatID, err)
	}
	admins, err := t.api.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{ChatConfig: cfg})
	if err != nil {
		return info, err
	}
	for _, a := range admins {
		if a.User == nil {
			continue
		}
		m := member(a.User)
		m.Status = a.Status
		info.Admins = append(info.Admins, m)
	}
	return info, nil
}

func keyboard(kb bot.Keyboard) *tgbotapi.InlineKeyboardMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		var buttons []tgbotapi.InlineKeyboardButton
		for _, b := range row {
			switch {
			case b.URL != "":
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			case b.Data != "":
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
		}
		if len(buttons) > 0 {
			rows = append(rows, buttons)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func member(u *tgbotapi.User) bot.Member {
	return bot.Member{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.UserName,
		IsBot:     u.IsBot,
	}
}
