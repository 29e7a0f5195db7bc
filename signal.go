//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris
// +build darwin dragonfly freebsd linux netbsd openbsd solaris

package atomicmail

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/nyholt/atomicmail/framework/hooks"
	"github.com/nyholt/atomicmail/framework/log"
)

// HandleSignals listens on the OS signal channel.
//
// SIGTERM/SIGHUP/SIGINT cause this function to return so the caller can shut
// the send pipeline down. SIGUSR1/SIGUSR2 are handled without returning:
// SIGUSR1 runs the hooks.EventLogRotate hooks and SIGUSR2 the
// hooks.EventReload hooks, each between a systemd RELOADING and READY status
// update. No package in this repository registers a hook for either event.
func HandleSignals() os.Signal {
	sig := make(chan os.Signal, 5)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT, syscall.SIGUSR1, syscall.SIGUSR2)

	for {
		switch s := <-sig; s {
		case syscall.SIGUSR1:
			log.Printf("signal received (%s), rotating logs", s.String())
			systemdStatus(SDReloading, "Reopening logs...")
			hooks.RunHooks(hooks.EventLogRotate)
			systemdStatus(SDReady, "Listening for incoming connections...")
		case syscall.SIGUSR2:
			log.Printf("signal received (%s), reloading state", s.String())
			systemdStatus(SDReloading, "Reloading queue state...")
			hooks.RunHooks(hooks.EventReload)
			systemdStatus(SDReady, "Listening for incoming connections...")
		default:
			go func() {
				s := HandleSignals()
				log.Printf("forced shutdown due to signal (%v)!", s)
				os.Exit(1)
			}()

			log.Printf("signal received (%v), next signal will force immediate shutdown.", s)
			return s
		}
	}
}
