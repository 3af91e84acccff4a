package ultrasonic

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
)

type Config struct {
	Enable bool
	Device string
	Baud   int

	PollInterval time.Duration
	FilterWindow int

	MinRangeMM int
	MaxRangeMM int

	// StaleAfter bounds how old the last good reading may be before Reading()
	// reports invalid. Defaults to ten poll intervals.
	StaleAfter time.Duration
}

type Snapshot struct {
	Enabled bool `json:"enabled"`

	DistanceMM int  `json:"distance_mm"`
	Valid      bool `json:"valid"`

	Frames   uint64 `json:"frames"`
	Rejected uint64 `json:"rejected"`

	LastReadingAt time.Time `json:"last_reading_utc,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// Service owns the serial port and the filtering pipeline.
type Service struct {
	cfg Config

	mu   sync.RWMutex
	snap Snapshot

	filter *medianFilter

	portMu sync.Mutex
	port   serial.Port

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config) *Service {
	if cfg.Baud == 0 {
		cfg.Baud = 9600
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.FilterWindow <= 0 {
		cfg.FilterWindow = 5
	}
	if cfg.MinRangeMM == 0 {
		cfg.MinRangeMM = 30
	}
	if cfg.MaxRangeMM == 0 {
		cfg.MaxRangeMM = 4500
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * cfg.PollInterval
	}
	return &Service{
		cfg:    cfg,
		filter: newMedianFilter(cfg.FilterWindow),
		stopCh: make(chan struct{}),
	}
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	if snap.Valid && time.Since(snap.LastReadingAt) > s.cfg.StaleAfter {
		snap.Valid = false
	}
	return snap
}

// Reading returns the current filtered distance and whether it is usable.
func (s *Service) Reading() (distanceMM int, valid bool) {
	snap := s.Snapshot()
	return snap.DistanceMM, snap.Valid
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("ultrasonic: service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}

	port, err := serial.Open(s.cfg.Device, &serial.Mode{BaudRate: s.cfg.Baud})
	if err != nil {
		err = fmt.Errorf("ultrasonic: open %s: %w", s.cfg.Device, err)
		s.setErr(err.Error())
		return err
	}
	_ = port.SetReadTimeout(s.cfg.PollInterval)

	s.portMu.Lock()
	s.port = port
	s.portMu.Unlock()

	s.setState(func(sn *Snapshot) { sn.Enabled = true })
	log.Printf("ultrasonic enabled device=%s baud=%d window=%d", s.cfg.Device, s.cfg.Baud, s.cfg.FilterWindow)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(ctx, port)
	}()

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return nil
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.portMu.Lock()
	port := s.port
	s.port = nil
	s.portMu.Unlock()
	if port != nil {
		_ = port.Close()
	}
	s.wg.Wait()
}

func (s *Service) readLoop(ctx context.Context, port serial.Port) {
	dec := &decoder{}
	buf := make([]byte, 64)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			if err == io.EOF {
				continue
			}
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.setErr(fmt.Sprintf("ultrasonic: read: %v", err))
			return
		}
		if n == 0 {
			continue
		}

		for _, mm := range dec.Feed(buf[:n]) {
			s.ingest(mm)
		}
	}
}

// ingest applies the range gate and the median filter to one raw frame.
func (s *Service) ingest(rawMM int) {
	if rawMM < s.cfg.MinRangeMM || rawMM > s.cfg.MaxRangeMM {
		s.setState(func(sn *Snapshot) { sn.Rejected++ })
		return
	}
	filtered := s.filter.Push(rawMM)
	s.setState(func(sn *Snapshot) {
		sn.Frames++
		sn.DistanceMM = filtered
		sn.Valid = true
		sn.LastReadingAt = time.Now().UTC()
		sn.LastError = ""
	})
}

func (s *Service) setErr(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastError = msg
	s.snap.Valid = false
}

func (s *Service) setState(update func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	update(&s.snap)
}
