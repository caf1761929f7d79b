package chat

import (
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/shuleapp/shule/core"
)

// DeliveryState tracks a message through the send pipeline. It is a closed
// set; any rendering table over it must cover every constant.
type DeliveryState string

const (
	DeliverySending   DeliveryState = "sending"
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryRead      DeliveryState = "read"
	DeliveryFailed    DeliveryState = "failed"
)

// TempIDPrefix marks client-generated ids of optimistic messages awaiting a
// server-assigned id.
const TempIDPrefix = "pending-"

// IsTempID reports whether id is a client-generated optimistic id.
func IsTempID(id string) bool { return strings.HasPrefix(id, TempIDPrefix) }

type (
	Message struct {
		ID             string        `json:"id"`
		ConversationID string        `json:"conversationId"`
		SenderID       string        `json:"senderId"`
		Body           string        `json:"body"`
		CreatedAt      time.Time     `json:"createdAt"`
		Delivery       DeliveryState `json:"deliveryState"`
		// ClientMsgID is the correlation id echoed back by the server so the
		// optimistic entry can be matched without guessing.
		ClientMsgID string `json:"clientMsgId,omitempty"`
	}

	Conversation struct {
		ID              string    `json:"id"`
		DisplayName     string    `json:"displayName"`
		CounterpartRole string    `json:"counterpartRole"`
		AvatarRef       string    `json:"avatarRef,omitempty"`
		LastMessageText string    `json:"lastMessageText"`
		LastMessageAt   time.Time `json:"lastMessageAt"`
		UnreadCount     int       `json:"unreadCount"`
		IsOnline        bool      `json:"isOnline"`
		IsPinned        bool      `json:"isPinned"`
		Messages        []Message `json:"messages"`
	}
)

// Pending reports whether the message is an unresolved optimistic entry.
func (m Message) Pending() bool { return m.Delivery == DeliverySending }

// NewMessage contains information needed to send a new message.
type NewMessage struct {
	To      string `json:"to" validate:"required"`
	Body    string `json:"message" validate:"required,max=2000"`
	Subject string `json:"subject" validate:"omitempty,max=200"`
}

func (nm *NewMessage) Validate(validate *validator.Validate, translator ut.Translator) error {
	nm.To = core.CleanString(nm.To)
	nm.Subject = core.CleanString(nm.Subject)
	nm.Body = strings.TrimSpace(nm.Body)
	if err := validate.Struct(nm); err != nil {
		return core.TranslateValidationErrors(err, translator)
	}
	return nil
}
