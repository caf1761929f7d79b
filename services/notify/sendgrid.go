package notifysvc

import (
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/shuleapp/shule/core"
	"github.com/shuleapp/shule/core/chat"
	"github.com/shuleapp/shule/core/session"
)

var (
	host     = "https://api.sendgrid.com"
	endpoint = "/v3/mail/send"
)

// SendgridNotifier emails the signed-in user about messages that arrived for
// an inactive conversation. Fire-and-forget: a failed notification is logged
// and dropped, never retried into the messaging flow.
type SendgridNotifier struct {
	key        string
	secret     string
	from       *sgmail.Email
	subjPrefix string
	sess       session.Provider
	logger     core.Logger
}

var _ chat.Notifier = (*SendgridNotifier)(nil)

func NewSendgridNotifier(conf *core.Config, sess session.Provider, logger core.Logger) *SendgridNotifier {
	from := conf.FromEmail()
	return &SendgridNotifier{
		key:        conf.SendgridApiKey,
		secret:     conf.SecretKey,
		from:       sgmail.NewEmail(from.Name, from.Address),
		subjPrefix: "[" + conf.AppName + "] ",
		sess:       sess,
		logger:     logger,
	}
}

func (n SendgridNotifier) NotifyMessage(conv chat.Conversation, msg chat.Message) {
	go n.send(conv, msg)
}

func (n SendgridNotifier) recipient() (*sgmail.Email, bool) {
	sess, err := n.sess.Get()
	if err != nil || !sess.Authenticated() {
		return nil, false
	}
	claims, err := session.ParseClaims(sess.Token, n.secret)
	if err != nil || claims.Email == "" {
		return nil, false
	}
	return sgmail.NewEmail(claims.Username, claims.Email), true
}

func (n SendgridNotifier) send(conv chat.Conversation, msg chat.Message) {
	to, ok := n.recipient()
	if !ok {
		return
	}

	p := sgmail.NewPersonalization()
	p.Subject = n.subjPrefix + fmt.Sprintf("New message from %s", conv.DisplayName)
	p.AddTos(to)

	m := sgmail.NewV3Mail()
	m.SetFrom(n.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain",
		fmt.Sprintf("%s\n\nYou have %d unread message(s) in this conversation.", msg.Body, conv.UnreadCount)))

	req := sendgrid.GetRequest(n.key, endpoint, host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	res, err := sendgrid.API(req)
	if err != nil {
		n.logger.Error(fmt.Sprintf("sending notification: %v", err), err)
	} else if res.StatusCode >= http.StatusBadRequest {
		n.logger.Error(fmt.Sprintf("sending notification - status: %d - Body: %s", res.StatusCode, res.Body))
	}
}
