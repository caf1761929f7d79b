package notifysvc

import (
	"fmt"
	"log"

	"github.com/shuleapp/shule/core/chat"
)

// ConsoleNotifier prints unread-message notifications to a std logger.
// Default in DEV/TEST.
type ConsoleNotifier struct {
	std *log.Logger
}

var _ chat.Notifier = (*ConsoleNotifier)(nil)

func NewConsoleNotifier(std *log.Logger) *ConsoleNotifier {
	return &ConsoleNotifier{std: std}
}

func (n ConsoleNotifier) NotifyMessage(conv chat.Conversation, msg chat.Message) {
	n.std.Println("-------------------------------------------------------")
	n.std.Printf("New message from %s (%d unread)", conv.DisplayName, conv.UnreadCount)
	n.std.Println(fmt.Sprintf("%s: %s", msg.SenderID, msg.Body))
	n.std.Println("-------------------------------------------------------")
}
