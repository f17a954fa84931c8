// Package server runs long lived listeners until the process is told to stop.
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Run serves srv until a value arrives on stop, then shuts it down, giving
// in-flight requests up to grace to finish.  It returns nil on a clean shutdown.
func Run(srv *http.Server, stop <-chan os.Signal, grace time.Duration) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-stop:
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

// ListenAndServe serves h on addr until SIGINT or SIGTERM
func ListenAndServe(addr string, h http.Handler, grace time.Duration) error {
	return Run(&http.Server{Addr: addr, Handler: h}, Interrupts(), grace)
}

// Interrupts returns a channel that receives SIGINT and SIGTERM
func Interrupts() <-chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	return c
}
