// Package pump drives the peristaltic medication pumps through GPIO lines.
// Dispensing is pulsed: the pump runs for a fixed pulse, rests for the same
// interval, and repeats, so the dose is iterations * flow_rate * pulse.
package pump

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// gpioLine is one requested output line. The linux backend uses the GPIO
// character device; tests substitute a fake.
type gpioLine interface {
	Set(value int) error
	Close() error
}

var openLineFn = openLine

type Config struct {
	Enable bool

	// Chip is the gpiochip name, e.g. "gpiochip0".
	Chip string
	// Pins maps bay number (1-based) to line offset.
	Pins []int

	FlowRateMLPerSec float64
	PulseDuration    time.Duration
	Iterations       int
}

type Snapshot struct {
	Enabled    bool `json:"enabled"`
	Dispensing bool `json:"dispensing"`

	LastBay      int       `json:"last_bay,omitempty"`
	DosesStarted uint64    `json:"doses_started"`
	DosesDone    uint64    `json:"doses_done"`
	LastDoneAt   time.Time `json:"last_done_utc,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

type Service struct {
	cfg Config

	mu         sync.Mutex
	lines      map[int]gpioLine
	dispensing bool
	haltCh     chan struct{}
	snap       Snapshot
}

func New(cfg Config) *Service {
	if cfg.FlowRateMLPerSec == 0 {
		cfg.FlowRateMLPerSec = 2.0
	}
	if cfg.PulseDuration <= 0 {
		cfg.PulseDuration = 500 * time.Millisecond
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = 5
	}
	return &Service{cfg: cfg, lines: make(map[int]gpioLine)}
}

// Open requests all configured lines, driven low.
func (s *Service) Open() error {
	if !s.cfg.Enable {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, pin := range s.cfg.Pins {
		bay := i + 1
		line, err := openLineFn(s.cfg.Chip, pin)
		if err != nil {
			return fmt.Errorf("pump: open bay %d line %d: %w", bay, pin, err)
		}
		s.lines[bay] = line
	}
	s.snap.Enabled = true
	log.Printf("pump enabled chip=%s bays=%d flow=%.1fml/s pulse=%v iterations=%d",
		s.cfg.Chip, len(s.cfg.Pins), s.cfg.FlowRateMLPerSec, s.cfg.PulseDuration, s.cfg.Iterations)
	return nil
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.Halt()
	s.mu.Lock()
	defer s.mu.Unlock()
	for bay, line := range s.lines {
		_ = line.Set(0)
		_ = line.Close()
		delete(s.lines, bay)
	}
	s.snap.Enabled = false
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// DoseML is the volume one full dispense delivers.
func (s *Service) DoseML() float64 {
	return s.cfg.FlowRateMLPerSec * s.cfg.PulseDuration.Seconds() * float64(s.cfg.Iterations)
}

// Dispense runs the pulse plan for one bay. It blocks until the plan
// completes or Halt aborts it. Only one dispense may run at a time.
func (s *Service) Dispense(bay int) error {
	s.mu.Lock()
	if !s.snap.Enabled {
		s.mu.Unlock()
		return fmt.Errorf("pump: not enabled")
	}
	line, ok := s.lines[bay]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("pump: unknown bay %d", bay)
	}
	if s.dispensing {
		s.mu.Unlock()
		return fmt.Errorf("pump: dispense already in progress")
	}
	halt := make(chan struct{})
	s.dispensing = true
	s.haltCh = halt
	s.snap.Dispensing = true
	s.snap.LastBay = bay
	s.snap.DosesStarted++
	s.mu.Unlock()

	log.Printf("pump dispensing bay=%d dose=%.1fml", bay, s.DoseML())
	err := s.runPlan(line, halt)

	s.mu.Lock()
	s.dispensing = false
	s.haltCh = nil
	s.snap.Dispensing = false
	if err != nil {
		s.snap.LastError = err.Error()
	} else {
		s.snap.DosesDone++
		s.snap.LastDoneAt = time.Now().UTC()
		s.snap.LastError = ""
	}
	s.mu.Unlock()
	return err
}

func (s *Service) runPlan(line gpioLine, halt <-chan struct{}) error {
	// Always end with the line low.
	defer func() { _ = line.Set(0) }()

	for i := 0; i < s.cfg.Iterations; i++ {
		if err := line.Set(1); err != nil {
			return fmt.Errorf("pump: line on: %w", err)
		}
		select {
		case <-halt:
			return fmt.Errorf("pump: dispense aborted")
		case <-time.After(s.cfg.PulseDuration):
		}
		if err := line.Set(0); err != nil {
			return fmt.Errorf("pump: line off: %w", err)
		}
		if i == s.cfg.Iterations-1 {
			break
		}
		select {
		case <-halt:
			return fmt.Errorf("pump: dispense aborted")
		case <-time.After(s.cfg.PulseDuration):
		}
	}
	return nil
}

// Halt aborts an in-flight dispense. Safe to call at any time.
func (s *Service) Halt() {
	if s == nil {
		return
	}
	s.mu.Lock()
	halt := s.haltCh
	s.haltCh = nil
	s.mu.Unlock()
	if halt != nil {
		close(halt)
	}
}
