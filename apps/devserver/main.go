package main

import (
	"log"
	"os"

	"github.com/shuleapp/shule/core"
	logsvc "github.com/shuleapp/shule/services/logger"
)

func main() {
	conf := core.NewConfig()
	std := log.New(os.Stdout, "devserver ", log.LstdFlags|log.Lshortfile)

	var logger core.Logger
	if conf.Debug {
		logger = logsvc.NewStdLogger(std)
	} else {
		logger = logsvc.NewRollbarLogger(std, conf)
	}

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8000"
	}

	newServer(conf, logger).start(addr)
}
