// SPDX-License-Identifier: AGPL-3.0-or-later

// Package smtp implements SMTPPool (spec.md §4.3) and RetryStrategy
// (spec.md §4.4). The pool keeps long-lived net/smtp connections so
// DispatchLoop can reuse them across messages to the same account
// instead of dialing once per send, the way the teacher's
// email.SMTPSender does for one-shot mail (internal/infrastructure/
// email/sender.go). net/smtp is used directly here rather than
// go-mail/mail/v2's Dialer/SendCloser pair because the pool needs
// Client.Noop for the release-time health probe and a connection that
// outlives a single message; go-mail/mail/v2 is still used by the
// dispatch package to build the MIME envelope handed to Conn.Send.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"sync"
	"time"
)

var (
	ErrAcquireTimeout = errors.New("smtp pool: acquire timed out")
	ErrPoolClosed     = errors.New("smtp pool: closed")
)

type poolKey struct {
	host string
	port int
	user string
}

// Conn is a pooled, authenticated SMTP connection bound to one account.
type Conn struct {
	client   *smtp.Client
	key      poolKey
	dialedAt time.Time
}

// Send transmits one message over the connection using the standard
// MAIL/RCPT/DATA sequence; msg writes its own MIME bytes (a go-mail
// *mail.Message satisfies io.WriterTo).
func (c *Conn) Send(from string, to []string, msg io.WriterTo) error {
	if err := c.client.Reset(); err != nil {
		return fmt.Errorf("smtp reset: %w", err)
	}
	if err := c.client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := c.client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt to %s: %w", rcpt, err)
		}
	}
	w, err := c.client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := msg.WriteTo(w); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return nil
}

func (c *Conn) probe() bool {
	return c.client.Noop() == nil
}

func (c *Conn) closeQuiet() {
	_ = c.client.Close()
}

type idleConn struct {
	conn      *Conn
	idleSince time.Time
}

// accountPool is the per-(host,port,user) slice of idle connections
// plus the semaphore bounding total open connections (idle + in-use).
type accountPool struct {
	mu   sync.Mutex
	idle []*idleConn
	sem  chan struct{}
}

// Pool is the bounded, mutex-guarded SMTP connection pool, spec.md §4.3.
type Pool struct {
	mu             sync.Mutex
	pools          map[poolKey]*accountPool
	maxPerAccount  int
	idleTTL        time.Duration
	connectTimeout time.Duration

	closed   bool
	stopCh   chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type Config struct {
	MaxPerAccount   int
	IdleTTL         time.Duration
	ConnectTimeout  time.Duration
	CleanupInterval time.Duration
}

func NewPool(cfg Config) *Pool {
	if cfg.MaxPerAccount <= 0 {
		cfg.MaxPerAccount = 8
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 90 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 60 * time.Second
	}

	p := &Pool{
		pools:          make(map[poolKey]*accountPool),
		maxPerAccount:  cfg.MaxPerAccount,
		idleTTL:        cfg.IdleTTL,
		connectTimeout: cfg.ConnectTimeout,
		stopCh:         make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.cleanupLoop(ctx, cfg.CleanupInterval)

	return p
}

func (p *Pool) cleanupLoop(ctx context.Context, interval time.Duration) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cleanup()
		}
	}
}

// cleanup closes idle connections past their TTL, freeing their slot
// back to the owning account's semaphore.
func (p *Pool) cleanup() {
	p.mu.Lock()
	pools := make([]*accountPool, 0, len(p.pools))
	for _, ap := range p.pools {
		pools = append(pools, ap)
	}
	p.mu.Unlock()

	now := time.Now()
	for _, ap := range pools {
		ap.mu.Lock()
		fresh, expired := partitionExpired(ap.idle, p.idleTTL, now)
		ap.idle = fresh
		ap.mu.Unlock()

		for _, ic := range expired {
			ic.conn.closeQuiet()
			<-ap.sem
		}
	}
}

// partitionExpired splits idle connections into those still within TTL
// and those that have aged out, without performing any I/O.
func partitionExpired(idle []*idleConn, ttl time.Duration, now time.Time) (fresh, expired []*idleConn) {
	for _, ic := range idle {
		if now.Sub(ic.idleSince) >= ttl {
			expired = append(expired, ic)
			continue
		}
		fresh = append(fresh, ic)
	}
	return fresh, expired
}

func (p *Pool) getOrCreate(key poolKey) *accountPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ap, ok := p.pools[key]
	if !ok {
		ap = &accountPool{sem: make(chan struct{}, p.maxPerAccount)}
		p.pools[key] = ap
	}
	return ap
}

// Acquire returns an idle healthy connection if one exists, otherwise
// dials a new one once below max_per_account, otherwise waits FIFO
// (via the buffered semaphore channel) until release or timeout
// (spec.md §4.3).
func (p *Pool) Acquire(ctx context.Context, host string, port int, user, password string, useTLS bool, timeout time.Duration) (*Conn, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	key := poolKey{host: host, port: port, user: user}
	ap := p.getOrCreate(key)

	for {
		ap.mu.Lock()
		if len(ap.idle) > 0 {
			ic := ap.idle[len(ap.idle)-1]
			ap.idle = ap.idle[:len(ap.idle)-1]
			ap.mu.Unlock()
			if ic.conn.probe() {
				return ic.conn, nil
			}
			ic.conn.closeQuiet()
			<-ap.sem
			continue
		}
		ap.mu.Unlock()
		break
	}

	select {
	case ap.sem <- struct{}{}:
		conn, err := p.dial(ctx, key, password, useTLS)
		if err != nil {
			<-ap.sem
			return nil, err
		}
		return conn, nil
	case <-p.stopCh:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, ErrAcquireTimeout
	}
}

// Release runs a NOOP health probe; a healthy connection younger than
// idleTTL returns to the idle pool, otherwise it is closed and its slot
// freed (spec.md §4.3: release-time errors never surface).
func (p *Pool) Release(conn *Conn) {
	healthy := func() (ok bool) {
		defer func() {
			if recover() != nil {
				ok = false
			}
		}()
		return conn.probe()
	}()

	ap := p.getOrCreate(conn.key)
	if healthy && time.Since(conn.dialedAt) < p.idleTTL {
		ap.mu.Lock()
		ap.idle = append(ap.idle, &idleConn{conn: conn, idleSince: time.Now()})
		ap.mu.Unlock()
		return
	}
	conn.closeQuiet()
	<-ap.sem
}

// CloseAll drains every idle connection and wakes pending Acquire
// callers with ErrPoolClosed (spec.md §4.3 close_all).
func (p *Pool) CloseAll() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	pools := make([]*accountPool, 0, len(p.pools))
	for _, ap := range p.pools {
		pools = append(pools, ap)
	}
	p.mu.Unlock()

	close(p.stopCh)
	p.cancel()
	p.wg.Wait()

	for _, ap := range pools {
		ap.mu.Lock()
		for _, ic := range ap.idle {
			ic.conn.closeQuiet()
		}
		ap.idle = nil
		ap.mu.Unlock()
	}
}

// dial opens and authenticates a new connection, choosing TLS mode by
// port convention: 465 implicit TLS, 587 STARTTLS, otherwise STARTTLS
// only when useTLS is set, else plaintext (spec.md §4.3). Mirrors the
// teacher's SMTPSender.Send TLS branch, generalized to a connection the
// pool keeps open across sends instead of a per-message dialer.
func (p *Pool) dial(ctx context.Context, key poolKey, password string, useTLS bool) (*Conn, error) {
	addr := fmt.Sprintf("%s:%d", key.host, key.port)
	dialer := &net.Dialer{Timeout: p.connectTimeout}

	var client *smtp.Client
	switch {
	case key.port == 465:
		rawConn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: key.host})
		if err != nil {
			return nil, fmt.Errorf("dial implicit tls %s: %w", addr, err)
		}
		c, err := smtp.NewClient(rawConn, key.host)
		if err != nil {
			rawConn.Close()
			return nil, fmt.Errorf("smtp handshake %s: %w", addr, err)
		}
		client = c
	default:
		rawConn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		c, err := smtp.NewClient(rawConn, key.host)
		if err != nil {
			rawConn.Close()
			return nil, fmt.Errorf("smtp handshake %s: %w", addr, err)
		}
		if key.port == 587 || useTLS {
			if err := c.StartTLS(&tls.Config{ServerName: key.host}); err != nil {
				c.Close()
				return nil, fmt.Errorf("starttls %s: %w", addr, err)
			}
		}
		client = c
	}

	if key.user != "" {
		auth := smtp.PlainAuth("", key.user, password, key.host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("smtp auth %s: %w", addr, err)
		}
	}

	return &Conn{client: client, key: key, dialedAt: time.Now()}, nil
}
