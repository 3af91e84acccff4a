// Package udp pushes periodic status datagrams to a fixed destination, a
// fire-and-forget feed for shore tools that watch the vessel without a
// broker round trip.
package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"usv-nav/internal/nav"
)

// StatusSource supplies the snapshot each datagram carries.
type StatusSource interface {
	Snapshot() nav.Snapshot
}

type Config struct {
	Enable   bool
	Dest     string
	Interval time.Duration
}

type Snapshot struct {
	Enabled bool   `json:"enabled"`
	Dest    string `json:"dest,omitempty"`

	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`

	LastError string `json:"last_error,omitempty"`
}

type Broadcaster struct {
	cfg Config
	src StatusSource

	conn *net.UDPConn

	mu   sync.Mutex
	snap Snapshot

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config, src StatusSource) *Broadcaster {
	if cfg.Dest == "" {
		cfg.Dest = "255.255.255.255:4050"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Broadcaster{cfg: cfg, src: src, stopCh: make(chan struct{})}
}

func (b *Broadcaster) Snapshot() Snapshot {
	if b == nil {
		return Snapshot{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap
}

func (b *Broadcaster) Start(ctx context.Context) error {
	if b == nil {
		return fmt.Errorf("udp: broadcaster is nil")
	}
	if !b.cfg.Enable {
		return nil
	}
	if b.src == nil {
		return fmt.Errorf("udp: status source is required")
	}

	addr, err := net.ResolveUDPAddr("udp", b.cfg.Dest)
	if err != nil {
		return fmt.Errorf("udp: resolve %s: %w", b.cfg.Dest, err)
	}
	// DialUDP picks a suitable local address automatically.
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("udp: dial %s: %w", b.cfg.Dest, err)
	}
	b.conn = conn

	b.mu.Lock()
	b.snap.Enabled = true
	b.snap.Dest = b.cfg.Dest
	b.mu.Unlock()
	log.Printf("udp status enabled dest=%s interval=%s", b.cfg.Dest, b.cfg.Interval)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run(ctx)
	}()
	return nil
}

func (b *Broadcaster) Close() {
	if b == nil {
		return
	}
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
	if b.conn != nil {
		_ = b.conn.Close()
	}
}

func (b *Broadcaster) run(ctx context.Context) {
	t := time.NewTicker(b.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-t.C:
			b.send()
		}
	}
}

func (b *Broadcaster) send() {
	payload, err := json.Marshal(b.src.Snapshot())
	if err != nil {
		b.fail(fmt.Sprintf("encode: %v", err))
		return
	}
	if _, err := b.conn.Write(payload); err != nil {
		b.fail(fmt.Sprintf("write: %v", err))
		return
	}
	b.mu.Lock()
	b.snap.Sent++
	b.mu.Unlock()
}

func (b *Broadcaster) fail(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap.Dropped++
	b.snap.LastError = msg
}
