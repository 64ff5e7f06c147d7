package domain

import "time"

// User is the account identity as reported by Telegram. Fetched fresh on
// every request.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Username  string `json:"username,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type ChatType string

const (
	ChatTypeUser    ChatType = "user"
	ChatTypeGroup   ChatType = "group"
	ChatTypeChannel ChatType = "channel"
	ChatTypeUnknown ChatType = "unknown"
)

// Conversation is one dialog entry as returned by the dialog list, before
// any messages are fetched for it.
type Conversation struct {
	ID          int64
	Title       string
	Type        ChatType
	UnreadCount int
	Peer        interface{} // holds tg.InputPeerClass for history requests
}

type Message struct {
	ID     int    `json:"id"`
	Text   string `json:"text"`
	Date   int64  `json:"date"` // unix seconds
	Out    bool   `json:"out"`  // true if sent by us
	FromID string `json:"fromId,omitempty"`
}

type ChatActivity struct {
	ChatID      string    `json:"chatId"`
	ChatName    string    `json:"chatName"`
	ChatType    ChatType  `json:"chatType"`
	UnreadCount int       `json:"unreadCount"`
	Messages    []Message `json:"messages"`
}

// Summary aggregates counters over every fetched conversation, not only the
// ones with messages attached.
type Summary struct {
	TotalChats     int `json:"totalChats"`
	UnreadMessages int `json:"unreadMessages"`
	TotalMessages  int `json:"totalMessages"`
}

type Snapshot struct {
	User     User           `json:"user"`
	Activity []ChatActivity `json:"activity"`
	Summary  Summary        `json:"summary"`
}

// Session is an issued login. Token is the opaque value handed to the client.
type Session struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type LoginStep int

const (
	LoginStepPhone LoginStep = iota
	LoginStepCode
	LoginStepPassword
)

func (s LoginStep) String() string {
	switch s {
	case LoginStepPhone:
		return "phone"
	case LoginStepCode:
		return "code"
	case LoginStepPassword:
		return "password"
	default:
		return "unknown"
	}
}

// PendingLogin tracks one in-flight login attempt. AuthData is the
// pre-authorization MTProto session, so every step talks to Telegram with
// the same auth key that requested the code.
type PendingLogin struct {
	ID            string
	PhoneNumber   string
	PhoneCodeHash string
	Step          LoginStep
	AuthData      []byte
	ExpiresAt     time.Time
}
