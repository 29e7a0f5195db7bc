//go:build windows
// +build windows

package atomicmail

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/nyholt/atomicmail/framework/log"
)

// HandleSignals blocks until a shutdown signal arrives, returning it so the
// caller (cmd/atomicmailctl's "run"/"sendmsg") can drive a clean shutdown.
func HandleSignals() os.Signal {
	sig := make(chan os.Signal, 5)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT)

	s := <-sig
	go func() {
		s := HandleSignals()
		log.Printf("forced shutdown due to signal (%v)!", s)
		os.Exit(1)
	}()

	log.Printf("signal received (%v), next signal will force immediate shutdown.", s)
	return s
}
