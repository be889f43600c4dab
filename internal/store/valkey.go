package store

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/atxtak/cotbridge/internal/config"
	"github.com/atxtak/cotbridge/internal/models"
	"github.com/atxtak/cotbridge/internal/utils"
)

const keyPrefix = "inc:"

// ValkeyStore persists tracked incidents in a Valkey/Redis-compatible
// server. Rows are stored as JSON under "inc:<uid>" with a TTL equal to the
// retention window, so aged-out rows expire server-side and a reappearing
// incident starts a fresh lifecycle.
type ValkeyStore struct {
	cfg       config.ValkeyConfig
	retention time.Duration
}

// NewValkeyStore creates a store using the supplied configuration. It pings
// the target to fail fast when connectivity or credentials are wrong.
func NewValkeyStore(cfg config.ValkeyConfig, retention time.Duration) (*ValkeyStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}

	normaliseDurations(&cfg)
	s := &ValkeyStore{cfg: cfg, retention: retention}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// Get fetches the row for uid.
func (s *ValkeyStore) Get(ctx context.Context, uid string) (models.TrackedIncident, bool, error) {
	var (
		inc   models.TrackedIncident
		found bool
	)
	err := s.withConn(ctx, func(vc *valkeyConn) error {
		if err := vc.writeCommand("GET", []byte(keyPrefix+uid)); err != nil {
			return err
		}
		reply, err := vc.readReply()
		if err != nil {
			return err
		}
		switch reply.typ {
		case replyNil:
			return nil
		case replyBulkString:
			if err := json.Unmarshal(reply.data, &inc); err != nil {
				return fmt.Errorf("decode tracked incident %s: %w", uid, err)
			}
			found = true
			return nil
		default:
			return fmt.Errorf("unexpected valkey reply type %q for GET", reply.typ)
		}
	})
	if err != nil {
		return models.TrackedIncident{}, false, storeErr("store.Get", err)
	}
	return inc, found, nil
}

// Put inserts or replaces the row for inc.UID, refreshing the retention TTL.
func (s *ValkeyStore) Put(ctx context.Context, inc models.TrackedIncident) error {
	payload, err := json.Marshal(inc)
	if err != nil {
		return storeErr("store.Put", fmt.Errorf("encode tracked incident %s: %w", inc.UID, err))
	}

	err = s.withConn(ctx, func(vc *valkeyConn) error {
		args := [][]byte{[]byte(keyPrefix + inc.UID), payload}
		if s.retention > 0 {
			ms := strconv.FormatInt(s.retention.Milliseconds(), 10)
			args = append(args, []byte("PX"), []byte(ms))
		}
		if err := vc.writeCommand("SET", args...); err != nil {
			return err
		}
		reply, err := vc.readReply()
		if err != nil {
			return err
		}
		if reply.typ != replySimpleString || string(reply.data) != "OK" {
			return fmt.Errorf("unexpected SET response: %s", reply.data)
		}
		return nil
	})
	if err != nil {
		return storeErr("store.Put", err)
	}
	return nil
}

// Delete removes the row for uid.
func (s *ValkeyStore) Delete(ctx context.Context, uid string) error {
	err := s.withConn(ctx, func(vc *valkeyConn) error {
		if err := vc.writeCommand("DEL", []byte(keyPrefix+uid)); err != nil {
			return err
		}
		_, err := vc.readReply()
		return err
	})
	if err != nil {
		return storeErr("store.Delete", err)
	}
	return nil
}

// ListOpen scans all rows and returns those for kind without an emitted
// closure. Row counts stay in the hundreds, so a full scan per cycle is fine.
func (s *ValkeyStore) ListOpen(ctx context.Context, kind models.SourceKind) ([]models.TrackedIncident, error) {
	rows, err := s.scanAll(ctx)
	if err != nil {
		return nil, storeErr("store.ListOpen", err)
	}

	open := make([]models.TrackedIncident, 0, len(rows))
	for _, inc := range rows {
		if inc.SourceKind == kind && !inc.ClosedEmitted {
			open = append(open, inc)
		}
	}
	return open, nil
}

// PurgeOlderThan removes rows last seen before cutoff. The TTL normally
// handles this server-side; the explicit purge backs the cleanup endpoint.
func (s *ValkeyStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := s.scanAll(ctx)
	if err != nil {
		return 0, storeErr("store.Purge", err)
	}

	purged := 0
	for _, inc := range rows {
		if !inc.LastSeenAt.Before(cutoff) {
			continue
		}
		if err := s.Delete(ctx, inc.UID); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

// Ping verifies the server answers.
func (s *ValkeyStore) Ping(ctx context.Context) error {
	err := s.withConn(ctx, func(vc *valkeyConn) error {
		if err := vc.writeCommand("PING"); err != nil {
			return err
		}
		reply, err := vc.readReply()
		if err != nil {
			return err
		}
		if reply.typ != replySimpleString || string(reply.data) != "PONG" {
			return fmt.Errorf("unexpected PING response: %s", reply.data)
		}
		return nil
	})
	if err != nil {
		return storeErr("store.Ping", err)
	}
	return nil
}

// Close closes the store (connections are per-operation, so this is a no-op).
func (s *ValkeyStore) Close() error { return nil }

func (s *ValkeyStore) scanAll(ctx context.Context) ([]models.TrackedIncident, error) {
	var keys []string
	err := s.withConn(ctx, func(vc *valkeyConn) error {
		keys = keys[:0]
		cursor := "0"
		for {
			if err := vc.writeCommand("SCAN", []byte(cursor), []byte("MATCH"), []byte(keyPrefix+"*"), []byte("COUNT"), []byte("200")); err != nil {
				return err
			}
			reply, err := vc.readReply()
			if err != nil {
				return err
			}
			if reply.typ != replyArray || len(reply.items) != 2 {
				return fmt.Errorf("unexpected SCAN reply type %q", reply.typ)
			}
			cursor = string(reply.items[0].data)
			for _, item := range reply.items[1].items {
				keys = append(keys, string(item.data))
			}
			if cursor == "0" {
				return nil
			}
		}
	})
	if err != nil {
		return nil, err
	}

	rows := make([]models.TrackedIncident, 0, len(keys))
	for _, key := range keys {
		uid := strings.TrimPrefix(key, keyPrefix)
		inc, ok, err := s.Get(ctx, uid)
		if err != nil {
			return nil, err
		}
		// Keys can expire between SCAN and GET; skip the gap.
		if ok {
			rows = append(rows, inc)
		}
	}
	return rows, nil
}

func (s *ValkeyStore) withConn(ctx context.Context, fn func(*valkeyConn) error) error {
	var lastErr error
	retries := s.cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	for attempt := 0; attempt < retries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		vc, err := s.dial(ctx)
		if err != nil {
			lastErr = err
			if shouldRetry(err) && attempt < retries-1 {
				time.Sleep(backoff(attempt))
				continue
			}
			return err
		}

		err = s.bootstrap(vc)
		if err != nil {
			vc.close()
			lastErr = err
			if shouldRetry(err) && attempt < retries-1 {
				time.Sleep(backoff(attempt))
				continue
			}
			return err
		}

		err = fn(vc)
		vc.close()
		if err == nil {
			return nil
		}
		lastErr = err
		if shouldRetry(err) && attempt < retries-1 {
			time.Sleep(backoff(attempt))
			continue
		}
		return err
	}
	return lastErr
}

func (s *ValkeyStore) dial(ctx context.Context) (*valkeyConn, error) {
	dialer := net.Dialer{Timeout: deadlineOr(ctx, s.cfg.DialTimeout)}
	var (
		conn net.Conn
		err  error
	)
	if s.cfg.TLS {
		host := hostForTLS(s.cfg.Addr)
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
		conn, err = tls.DialWithDialer(&dialer, "tcp", s.cfg.Addr, tlsCfg)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", s.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &valkeyConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		cfg:    s.cfg,
	}, nil
}

func (s *ValkeyStore) bootstrap(vc *valkeyConn) error {
	if s.cfg.Password != "" {
		cmd := []string{"AUTH"}
		if s.cfg.Username != "" {
			cmd = append(cmd, s.cfg.Username, s.cfg.Password)
		} else {
			cmd = append(cmd, s.cfg.Password)
		}
		if err := vc.writeStrings(cmd...); err != nil {
			return err
		}
		reply, err := vc.readReply()
		if err != nil {
			return err
		}
		if reply.typ != replySimpleString || !strings.EqualFold(string(reply.data), "OK") {
			return fmt.Errorf("auth failed: %s", reply.data)
		}
	}
	if s.cfg.DB > 0 {
		if err := vc.writeCommand("SELECT", []byte(strconv.Itoa(s.cfg.DB))); err != nil {
			return err
		}
		reply, err := vc.readReply()
		if err != nil {
			return err
		}
		if reply.typ != replySimpleString || !strings.EqualFold(string(reply.data), "OK") {
			return fmt.Errorf("select failed: %s", reply.data)
		}
	}
	return nil
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return utils.E(op, utils.KindStoreUnavailable, "lifecycle store operation failed", err)
}

func normaliseDurations(cfg *config.ValkeyConfig) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
}

func deadlineOr(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return time.Millisecond
		}
		if d == 0 || remaining < d {
			return remaining
		}
	}
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

func backoff(attempt int) time.Duration {
	base := 25 * time.Millisecond
	return time.Duration(1<<attempt) * base
}

func shouldRetry(err error) bool {
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}

func hostForTLS(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
