// Package gps reads NMEA sentences from a serial receiver and publishes
// geodetic position fixes for the state estimator.
//
// The u-blox class receivers this targets appear as /dev/ttyACM* or
// /dev/ttyUSB* and speak NMEA at 9600 baud out of the box. RMC and GGA are
// the only sentences consumed; together they carry everything a fix needs
// (lat/lon, speed, course, altitude, satellites, HDOP).
package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"usv-nav/internal/estimator"
)

type Config struct {
	Enable bool

	// Device may be empty to auto-detect the first /dev/ttyACM*//dev/ttyUSB*.
	Device string
	Baud   int

	// MinSatellites gates fix validity; fixes below it are published with
	// Valid=false so the estimator ignores them.
	MinSatellites int
}

type Snapshot struct {
	Enabled bool `json:"enabled"`

	Device string `json:"device,omitempty"`
	Baud   int    `json:"baud,omitempty"`

	Fix FixSnapshot `json:"fix"`

	LastError string `json:"last_error,omitempty"`
}

// FixSnapshot mirrors the latest PositionFix for status reporting.
type FixSnapshot struct {
	Valid      bool    `json:"valid"`
	LatDeg     float64 `json:"lat_deg,omitempty"`
	LonDeg     float64 `json:"lon_deg,omitempty"`
	AltM       float64 `json:"alt_m,omitempty"`
	SpeedMS    float64 `json:"speed_ms,omitempty"`
	CourseDeg  float64 `json:"course_deg,omitempty"`
	Satellites int     `json:"satellites,omitempty"`
	HDOP       float64 `json:"hdop,omitempty"`
	LastFixUTC string  `json:"last_fix_utc,omitempty"`
}

type Service struct {
	cfg Config

	cancel context.CancelFunc
	wg     sync.WaitGroup

	lastSnap atomic.Value // Snapshot
	lastFix  atomic.Value // estimator.PositionFix

	mu     sync.Mutex
	closer io.Closer
}

func New(cfg Config) *Service {
	if cfg.Baud == 0 {
		cfg.Baud = 9600
	}
	if cfg.MinSatellites == 0 {
		cfg.MinSatellites = 4
	}
	s := &Service{cfg: cfg}
	s.lastSnap.Store(Snapshot{Enabled: cfg.Enable, Device: cfg.Device, Baud: cfg.Baud})
	return s
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	device := strings.TrimSpace(s.cfg.Device)
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			s.setErrorLocked("gps auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
			return fmt.Errorf("gps auto-detect failed")
		}
	}

	f, err := openSerial(device, s.cfg.Baud)
	if err != nil {
		s.setErrorLocked(fmt.Sprintf("gps open failed device=%s baud=%d: %v", device, s.cfg.Baud, err))
		return err
	}
	// Keep the file reference for Close().
	s.closer = f

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = f.Close() }()

		log.Printf("gps enabled device=%s baud=%d min_satellites=%d", device, s.cfg.Baud, s.cfg.MinSatellites)

		reader := bufio.NewScanner(f)
		// NMEA sentences are typically < 82 chars; allow headroom for chatter.
		reader.Buffer(make([]byte, 0, 256), 4096)

		st := fixState{minSatellites: s.cfg.MinSatellites}

		for {
			select {
			case <-childCtx.Done():
				return
			default:
			}

			if !reader.Scan() {
				err := reader.Err()
				if err == nil {
					err = io.EOF
				}
				s.setError(fmt.Sprintf("gps read stopped: %v", err))
				return
			}

			line := strings.TrimSpace(reader.Text())
			if line == "" || !strings.HasPrefix(line, "$") {
				continue
			}

			sent, perr := parseNMEASentence(line)
			if perr != nil {
				// Avoid spamming on line noise; just keep the last error.
				s.setError(perr.Error())
				continue
			}

			if fix, ok := st.apply(time.Now().UTC(), sent); ok {
				s.lastFix.Store(fix)
				s.lastSnap.Store(Snapshot{
					Enabled: true,
					Device:  device,
					Baud:    s.cfg.Baud,
					Fix: FixSnapshot{
						Valid:      fix.Valid,
						LatDeg:     fix.LatDeg,
						LonDeg:     fix.LonDeg,
						AltM:       fix.AltM,
						SpeedMS:    fix.SpeedMS,
						CourseDeg:  fix.CourseDeg,
						Satellites: fix.Satellites,
						HDOP:       fix.HDOP,
						LastFixUTC: fix.Time.Format(time.RFC3339Nano),
					},
				})
			}
		}
	}()

	s.lastSnap.Store(Snapshot{Enabled: true, Device: device, Baud: s.cfg.Baud})
	return nil
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	closer := s.closer
	s.cancel = nil
	s.closer = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	s.wg.Wait()
}

// Fix returns the most recent position fix for the fusion loop. The zero
// value (Valid=false) is returned before the first fix.
func (s *Service) Fix() estimator.PositionFix {
	if s == nil {
		return estimator.PositionFix{}
	}
	v := s.lastFix.Load()
	if v == nil {
		return estimator.PositionFix{}
	}
	return v.(estimator.PositionFix)
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	v := s.lastSnap.Load()
	if v == nil {
		return Snapshot{}
	}
	return v.(Snapshot)
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErrorLocked(msg)
}

func (s *Service) setErrorLocked(msg string) {
	cur := s.Snapshot()
	cur.LastError = msg
	// Transient parse issues do not flip fix validity.
	s.lastSnap.Store(cur)
}

func autoDetectDevice() string {
	// Keep it intentionally tiny and predictable.
	candidates := []string{}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
