package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/errgroup"

	"github.com/oauthproxy/oauthproxy/app/config"
)

// listeners are the servers of one proxy, run as a group.
type listeners struct {
	http  *http.Server
	h3    *http3.Server
	group *errgroup.Group
}

// listen binds from_port and starts serving h. TLS is used when the config
// names key and cert files; HTTP/3 is served on the same port over UDP when
// enabled. Bind errors are returned before anything is served.
func listen(ctx context.Context, cfg *config.ProxyConfig, h http.Handler, logger *slog.Logger) (*listeners, error) {
	addr := ":" + strconv.Itoa(cfg.FromPort)
	ls := &listeners{group: new(errgroup.Group)}

	var tlsCfg *tls.Config
	if cfg.HTTPS != nil {
		cert, err := tls.LoadX509KeyPair(cfg.HTTPS.CertFile, cfg.HTTPS.KeyFile)
		if err != nil {
			return nil, err
		}
		tlsCfg = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	if cfg.HTTP3 && tlsCfg != nil {
		ls.h3 = &http3.Server{
			Addr:      addr,
			Handler:   h,
			TLSConfig: http3.ConfigureTLSConfig(tlsCfg.Clone()),
		}
		inner := h
		h = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := ls.h3.SetQUICHeaders(w.Header()); err != nil {
				logger.Debug("failed to set Alt-Svc header", "error", err)
			}
			inner.ServeHTTP(w, r)
		})
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	ls.http = &http.Server{
		Handler:   h,
		TLSConfig: tlsCfg,
		ErrorLog:  slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	ls.group.Go(func() error {
		var err error
		if tlsCfg != nil {
			err = ls.http.ServeTLS(ln, "", "")
		} else {
			err = ls.http.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	if ls.h3 != nil {
		ls.group.Go(func() error {
			err := ls.h3.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}
	logger.Info("listening", "addr", addr, "tls", tlsCfg != nil, "http3", ls.h3 != nil)
	return ls, nil
}

func (ls *listeners) shutdown(ctx context.Context) error {
	if ls == nil {
		return nil
	}
	err := ls.http.Shutdown(ctx)
	if ls.h3 != nil {
		err = errors.Join(err, ls.h3.Close())
	}
	return errors.Join(err, ls.wait())
}

func (ls *listeners) wait() error { return ls.group.Wait() }
