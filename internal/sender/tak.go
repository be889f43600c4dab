package sender

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atxtak/cotbridge/internal/config"
	"github.com/atxtak/cotbridge/internal/metrics"
)

const maxReconnectBackoff = 30 * time.Second

// TAKSender maintains one persistent TCP or TLS connection to the TAK
// server and drains a bounded queue onto it. Reconnects use exponential
// backoff; the payload being written when a connection drops is retried on
// the next connection, so delivery is at-least-once.
type TAKSender struct {
	addr         string
	tlsConfig    *tls.Config
	dialTimeout  time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger

	queue     chan []byte
	connected atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewTAKSender parses the tcp:// or tls:// URL, loads TLS material when
// needed, and starts the writer goroutine. It does not wait for the first
// connection: the bridge comes up even when the TAK server is down.
func NewTAKSender(cfg config.TAKConfig, logger *slog.Logger) (*TAKSender, error) {
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse tak url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("tak url %q has no host", cfg.URL)
	}

	var tlsConfig *tls.Config
	switch u.Scheme {
	case "tcp":
	case "tls":
		tlsConfig, err = buildTLSConfig(cfg, u.Hostname())
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("tak url scheme %q not supported (want tcp or tls)", u.Scheme)
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &TAKSender{
		addr:         u.Host,
		tlsConfig:    tlsConfig,
		dialTimeout:  cfg.DialTimeout,
		writeTimeout: cfg.WriteTimeout,
		logger:       logger,
		queue:        make(chan []byte, queueSize),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	go s.run(ctx)
	return s, nil
}

// Deliver queues one payload for transmission.
func (s *TAKSender) Deliver(ctx context.Context, payload []byte) error {
	select {
	case s.queue <- payload:
		return nil
	case <-ctx.Done():
		return deliveryErr("sender.Deliver", "context cancelled before enqueue", ctx.Err())
	default:
		return deliveryErr("sender.Deliver",
			fmt.Sprintf("tak queue full (%d pending)", len(s.queue)), nil)
	}
}

// Healthy reports whether the downstream connection is currently up.
func (s *TAKSender) Healthy() bool {
	return s.connected.Load()
}

// Close stops the writer goroutine and drops any queued payloads.
func (s *TAKSender) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

func (s *TAKSender) run(ctx context.Context) {
	defer close(s.done)

	var (
		conn    net.Conn
		pending []byte
		attempt int
	)
	defer func() {
		if conn != nil {
			_ = conn.Close()
		}
	}()

	for {
		if conn == nil {
			var err error
			conn, err = s.dial(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				wait := reconnectBackoff(attempt)
				attempt++
				s.logger.Warn("tak connection failed",
					slog.String("addr", s.addr),
					slog.Duration("retry_in", wait),
					slog.Any("error", err))
				select {
				case <-time.After(wait):
					continue
				case <-ctx.Done():
					return
				}
			}
			if attempt > 0 {
				metrics.ObserveSenderReconnect()
			}
			attempt = 0
			s.connected.Store(true)
			s.logger.Info("tak connection established", slog.String("addr", s.addr))
		}

		if pending == nil {
			select {
			case pending = <-s.queue:
			case <-ctx.Done():
				return
			}
		}

		if err := s.write(conn, pending); err != nil {
			s.connected.Store(false)
			_ = conn.Close()
			conn = nil
			s.logger.Warn("tak write failed, reconnecting", slog.Any("error", err))
			continue
		}
		pending = nil
	}
}

func (s *TAKSender) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: s.dialTimeout}
	if s.tlsConfig != nil {
		return tls.DialWithDialer(&dialer, "tcp", s.addr, s.tlsConfig)
	}
	return dialer.DialContext(ctx, "tcp", s.addr)
}

func (s *TAKSender) write(conn net.Conn, payload []byte) error {
	if s.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	// TAK accepts a stream of concatenated CoT documents; a trailing
	// newline keeps captures readable.
	if _, err := conn.Write(payload); err != nil {
		return err
	}
	_, err := conn.Write([]byte("\n"))
	return err
}

func buildTLSConfig(cfg config.TAKConfig, serverName string) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: serverName}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read ca certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates parsed from %s", cfg.CACert)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

func reconnectBackoff(attempt int) time.Duration {
	if attempt > 5 {
		attempt = 5
	}
	wait := time.Duration(1<<attempt) * time.Second
	if wait > maxReconnectBackoff {
		wait = maxReconnectBackoff
	}
	return wait
}
