package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/loykin/hookd/internal/config"
	hookdtls "github.com/loykin/hookd/internal/tls"
)

// NewServer builds an http.Server for cfg without starting it. TLS is
// configured when cfg.TLS is enabled.
func NewServer(cfg config.ServerConfig, h http.Handler) (*http.Server, error) {
	tlsCfg, err := hookdtls.Setup(cfg)
	if err != nil {
		return nil, err
	}
	read, write := cfg.ReadTimeout, cfg.WriteTimeout
	if read <= 0 {
		read = 15 * time.Second
	}
	if write <= 0 {
		write = 15 * time.Second
	}
	return &http.Server{
		Addr:              cfg.Listen,
		Handler:           h,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       read,
		WriteTimeout:      write,
		IdleTimeout:       60 * time.Second,
	}, nil
}

// Start serves srv in the background. The channel receives the terminal
// error, or is closed on a clean shutdown.
func Start(srv *http.Server) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh
}
