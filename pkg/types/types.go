package types

import (
	"encoding/json"
	"time"
)

// Kind tags an envelope and selects the concrete payload carried with it.
type Kind string

// ARCHITECTURAL DISCOVERY: Closed set of envelope kinds shared by the client,
// the mock transport and the development relay
const (
	KindNotification   Kind = "notification"
	KindMessage        Kind = "message"
	KindUserStatus     Kind = "user_status"
	KindActivity       Kind = "activity"
	KindHomeworkUpdate Kind = "homework_update"
	KindQuizUpdate     Kind = "quiz_update"
	KindAchievement    Kind = "achievement"
	KindConnection     Kind = "connection"
	KindError          Kind = "error"
)

// Kinds lists every kind in the closed set.
var Kinds = []Kind{
	KindNotification,
	KindMessage,
	KindUserStatus,
	KindActivity,
	KindHomeworkUpdate,
	KindQuizUpdate,
	KindAchievement,
	KindConnection,
	KindError,
}

// Valid reports whether k belongs to the closed set.
func (k Kind) Valid() bool {
	switch k {
	case KindNotification, KindMessage, KindUserStatus, KindActivity,
		KindHomeworkUpdate, KindQuizUpdate, KindAchievement, KindConnection, KindError:
		return true
	default:
		return false
	}
}

func (k Kind) String() string { return string(k) }

// UserStatus is the presence value carried by user_status envelopes.
type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusAway    UserStatus = "away"
	StatusOffline UserStatus = "offline"
)

// Lifecycle values used in connection payloads.
const (
	ConnectionConnected    = "connected"
	ConnectionDisconnected = "disconnected"
	ActionConnect          = "connect"
	ActionDisconnect       = "disconnect"
)

// MessageStatusSent marks a message acknowledged by the endpoint (or the mock echo).
const MessageStatusSent = "sent"

// Payload is the tagged union of envelope bodies. Each concrete payload reports
// the kind it travels under.
type Payload interface {
	Kind() Kind
}

// NotificationPayload is a user-facing notice (homework reminders, parent alerts).
type NotificationPayload struct {
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message"`
	Level     string    `json:"level,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// MessagePayload is a chat message between users or with the tutor.
type MessagePayload struct {
	ID             string    `json:"id,omitempty"`
	Text           string    `json:"text"`
	From           string    `json:"from,omitempty"`
	To             string    `json:"to,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
	Status         string    `json:"status,omitempty"`
}

// UserStatusPayload announces a presence change.
type UserStatusPayload struct {
	UserID    string     `json:"userId,omitempty"`
	Status    UserStatus `json:"status" validate:"required,oneof=online away offline"`
	Timestamp time.Time  `json:"timestamp,omitempty"`
}

// ActivityPayload records something the user did (opened homework, started timer).
type ActivityPayload struct {
	UserID    string                 `json:"userId,omitempty"`
	Action    string                 `json:"action"`
	Subject   string                 `json:"subject,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp,omitempty"`
}

// HomeworkUpdatePayload reports a change to a homework item.
type HomeworkUpdatePayload struct {
	HomeworkID string                 `json:"homeworkId"`
	Title      string                 `json:"title,omitempty"`
	Status     string                 `json:"status,omitempty"`
	Subject    string                 `json:"subject,omitempty"`
	DueDate    *time.Time             `json:"dueDate,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// QuizUpdatePayload reports quiz progress or a result.
type QuizUpdatePayload struct {
	QuizID  string                 `json:"quizId"`
	Status  string                 `json:"status,omitempty"`
	Score   int                    `json:"score,omitempty"`
	Total   int                    `json:"total,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// AchievementPayload announces an unlocked achievement.
type AchievementPayload struct {
	AchievementID string    `json:"achievementId"`
	Title         string    `json:"title,omitempty"`
	Description   string    `json:"description,omitempty"`
	Points        int       `json:"points,omitempty"`
	UnlockedAt    time.Time `json:"unlockedAt,omitempty"`
}

// ConnectionPayload serves two roles: Status is set on locally emitted lifecycle
// events, Action on envelopes sent to the endpoint.
type ConnectionPayload struct {
	Status string `json:"status,omitempty"`
	Action string `json:"action,omitempty"`
	UserID string `json:"userId,omitempty"`
	Mock   bool   `json:"mock,omitempty"`
}

// ErrorPayload carries a human readable failure description.
type ErrorPayload struct {
	Error string `json:"error"`
}

// RawPayload holds the body of a kind outside the closed set.
type RawPayload struct {
	K    Kind            `json:"-"`
	Data json.RawMessage `json:"-"`
}

func (NotificationPayload) Kind() Kind   { return KindNotification }
func (MessagePayload) Kind() Kind        { return KindMessage }
func (UserStatusPayload) Kind() Kind     { return KindUserStatus }
func (ActivityPayload) Kind() Kind       { return KindActivity }
func (HomeworkUpdatePayload) Kind() Kind { return KindHomeworkUpdate }
func (QuizUpdatePayload) Kind() Kind     { return KindQuizUpdate }
func (AchievementPayload) Kind() Kind    { return KindAchievement }
func (ConnectionPayload) Kind() Kind     { return KindConnection }
func (ErrorPayload) Kind() Kind          { return KindError }
func (p RawPayload) Kind() Kind          { return p.K }

// MarshalJSON writes the raw body back unchanged.
func (p RawPayload) MarshalJSON() ([]byte, error) {
	if len(p.Data) == 0 {
		return []byte("null"), nil
	}
	return p.Data, nil
}

// newPayload returns a zero value of the concrete payload for k, or nil when k
// is outside the closed set.
func newPayload(k Kind) Payload {
	switch k {
	case KindNotification:
		return &NotificationPayload{}
	case KindMessage:
		return &MessagePayload{}
	case KindUserStatus:
		return &UserStatusPayload{}
	case KindActivity:
		return &ActivityPayload{}
	case KindHomeworkUpdate:
		return &HomeworkUpdatePayload{}
	case KindQuizUpdate:
		return &QuizUpdatePayload{}
	case KindAchievement:
		return &AchievementPayload{}
	case KindConnection:
		return &ConnectionPayload{}
	case KindError:
		return &ErrorPayload{}
	default:
		return nil
	}
}
