package server

import (
	"net/http"
	"os"
	"testing"
	"time"
)

func TestRunStopsOnSignal(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	stop := make(chan os.Signal, 1)
	stop <- os.Interrupt
	if err := Run(srv, stop, time.Second); err != nil {
		t.Errorf("expected a clean shutdown, got %v", err)
	}
}

func TestRunReportsListenErrors(t *testing.T) {
	srv := &http.Server{Addr: "not-an-address", Handler: http.NotFoundHandler()}
	if err := Run(srv, make(chan os.Signal), time.Second); err == nil {
		t.Error("expected an error for a bad listen address")
	}
}
