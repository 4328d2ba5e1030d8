package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/kuaishou/open_routing_keeper/routing_keeper/logging"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/server"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/version"
)

var (
	flagLogLevel     = flag.String("log_level", "info", "log level of the logrus backend")
	flagVerboseLevel = flag.Int("v", 0, "verbose log level")
)

func main() {
	flag.Parse()
	version.MayPrintVersionAndExit()
	if err := logging.SetLevel(*flagLogLevel); err != nil {
		logging.Fatal("invalid log level %s: %v", *flagLogLevel, err)
	}
	logging.SetVerboseLevel(int32(*flagVerboseLevel))

	sv := server.CreateServer(server.ConfigFromFlags())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		logging.Info("got signal %v, stop server", sig)
		sv.Stop()
	}()
	sv.Start()
	logging.Flush()
}
