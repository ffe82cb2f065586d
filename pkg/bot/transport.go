package bot

import "context"

// Button is an inline keyboard button. Exactly one of Data or URL is set.
type Button struct {
	Text string
	Data string
	URL  string
}

type Keyboard [][]Button

// Row is shorthand for one keyboard row.
func Row(buttons ...Button) []Button { return buttons }

func DataButton(text, data string) Button { return Button{Text: text, Data: data} }

func URLButton(text, url string) Button { return Button{Text: text, URL: url} }

type Member struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
	IsBot     bool
	// Status is the chat role ("creator", "administrator", "member") when known.
	Status string
}

// GroupInfo is what /members shows about a chat.
type GroupInfo struct {
	Title       string
	Type        string
	MemberCount int
	Admins      []Member
}

// Transport is the chat platform as seen by the dispatcher. Text is Markdown.
type Transport interface {
	Send(ctx context.Context, chatID int64, text string, kb Keyboard) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string, kb Keyboard) error
	Delete(ctx context.Context, chatID int64, messageID int) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	GroupInfo(ctx context.Context, chatID int64) (GroupInfo, error)
}

// Update is one inbound event, already stripped of platform types.
type Update struct {
	ChatID    int64
	ChatType  string
	ChatTitle string
	From      Member
	MessageID int

	Command string
	Args    []string
	ArgText string

	CallbackID   string
	CallbackData string

	NewMembers []Member
	LeftMember *Member

	acked *bool
}

func (u Update) IsCallback() bool { return u.CallbackID != "" }

func (u Update) InGroup() bool {
	return u.ChatType == "group" || u.ChatType == "supergroup" || u.ChatID < 0
}
