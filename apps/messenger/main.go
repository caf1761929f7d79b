// Command messenger is a terminal client for the messaging core, mainly used
// to poke at a running devserver. Lines starting with "/" are commands;
// anything else is sent to the selected conversation.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/shuleapp/shule/core"
	"github.com/shuleapp/shule/core/chat"
	"github.com/shuleapp/shule/core/directory"
	"github.com/shuleapp/shule/core/nav"
	"github.com/shuleapp/shule/core/realtime"
	"github.com/shuleapp/shule/core/session"
	logsvc "github.com/shuleapp/shule/services/logger"
	notifysvc "github.com/shuleapp/shule/services/notify"
	msgcache "github.com/shuleapp/shule/storage/cache"
)

func main() {
	conf := core.NewConfig()
	std := log.New(os.Stderr, "", log.LstdFlags)

	var logger core.Logger
	if conf.Debug {
		logger = logsvc.NewStdLogger(std)
	} else {
		logger = logsvc.NewRollbarLogger(std, conf)
	}

	sess := session.NewFileProvider(conf.SessionPath)
	if userID := os.Getenv("SHULE_USER"); userID != "" {
		// dev shortcut: fabricate a local session without the login flow
		errAndDie(sess.Set(session.Session{
			UserID: userID,
			Role:   os.Getenv("SHULE_ROLE"),
			Token:  os.Getenv("SHULE_TOKEN"),
		}))
	}

	// the guard decides where this "navigation" lands before anything mounts
	guard := nav.NewGuard(conf, sess, logger)
	if d := guard.Check("/messages"); d.Action == nav.ActionRedirect {
		fmt.Printf("not signed in (redirect -> %s); set SHULE_USER/SHULE_TOKEN\n", d.Target)
		os.Exit(1)
	}

	cache, err := msgcache.Open(conf.CachePath)
	errAndDie(err)
	defer cache.Close()

	dir := directory.NewClient(conf, sess, logger)
	mgr := realtime.NewManager(realtime.Options{
		URL:                  conf.API.SocketURL,
		Health:               func() bool { return dir.Health(context.Background()) },
		AssumeConnectedAfter: conf.Messaging.AssumeConnectedAfter,
		HealthProbeAfter:     conf.Messaging.HealthProbeAfter,
		Logger:               logger,
	})

	notifier := notifysvc.NewConsoleNotifier(std)
	messenger := chat.NewMessenger(conf, logger, mgr, dir, cache, sess, notifier)
	errAndDie(messenger.Start(context.Background()))
	defer messenger.Stop()

	fmt.Println("commands: /list, /open <id>, /retry, /state, /quit")
	repl(messenger)
}

func repl(m *chat.Messenger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case line == "/state":
			fmt.Println("connection:", m.ConnectionState())
		case line == "/retry":
			m.Retry()
		case line == "/list":
			for _, conv := range m.Store().Conversations() {
				fmt.Printf("%-20s %-10s unread=%d  %s\n",
					conv.ID, conv.CounterpartRole, conv.UnreadCount, conv.LastMessageText)
			}
		case strings.HasPrefix(line, "/open "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
			m.SelectConversation(id)
			if conv, ok := m.Store().Conversation(id); ok {
				for _, msg := range conv.Messages {
					fmt.Printf("[%s] %s: %s (%s)\n",
						msg.CreatedAt.Format("15:04"), msg.SenderID, msg.Body, msg.Delivery)
				}
			}
		default:
			active := m.Store().ActiveID()
			if active == "" {
				fmt.Println("no conversation selected; /open <id> first")
				continue
			}
			m.NotifyTyping(active)
			if _, err := m.Send(active, line); err != nil {
				fmt.Println("send rejected:", err)
			}
		}
	}
}

func errAndDie(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
