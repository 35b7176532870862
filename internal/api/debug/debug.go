// Package debug provides the handler for the debug listener: pprof profiles
// and live runtime charts.
package debug

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/arl/statsviz"
)

// Mux registers the pprof endpoints and statsviz on a fresh mux. Only expose
// it on an internal address.
func Mux() (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if err := statsviz.Register(mux); err != nil {
		return nil, err
	}
	return mux, nil
}

// NewServer returns the debug listener for addr, serving Mux.
func NewServer(addr string) (*http.Server, error) {
	mux, err := Mux()
	if err != nil {
		return nil, fmt.Errorf("registering statsviz: %w", err)
	}
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}, nil
}
