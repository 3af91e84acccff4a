package imu

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"

	"usv-nav/internal/estimator"
)

type Config struct {
	Enable bool
	Device string
	Baud   int

	// CalibrationSamples is how many angle frames the startup zero-point
	// calibration averages; 0 skips calibration.
	CalibrationSamples int
}

type Snapshot struct {
	Enabled    bool `json:"enabled"`
	Calibrated bool `json:"calibrated"`

	Sample estimator.AttitudeSample `json:"sample"`

	Frames    uint64    `json:"frames"`
	LastError string    `json:"last_error,omitempty"`
	LastAt    time.Time `json:"last_utc,omitempty"`
}

type Service struct {
	cfg Config

	mu   sync.RWMutex
	snap Snapshot

	cal   *calibrator
	gyro  [3]float64
	accel [3]float64
	seq   uint64

	portMu sync.Mutex
	port   serial.Port

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config) *Service {
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	return &Service{
		cfg:    cfg,
		cal:    newCalibrator(cfg.CalibrationSamples),
		stopCh: make(chan struct{}),
	}
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Sample returns the latest calibrated attitude sample for the fusion loop.
func (s *Service) Sample() estimator.AttitudeSample {
	return s.Snapshot().Sample
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("imu: service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}

	port, err := serial.Open(s.cfg.Device, &serial.Mode{BaudRate: s.cfg.Baud})
	if err != nil {
		err = fmt.Errorf("imu: open %s: %w", s.cfg.Device, err)
		s.setErr(err.Error())
		return err
	}
	_ = port.SetReadTimeout(100 * time.Millisecond)

	s.portMu.Lock()
	s.port = port
	s.portMu.Unlock()

	s.setState(func(sn *Snapshot) { sn.Enabled = true })
	log.Printf("imu enabled device=%s baud=%d calibration_samples=%d",
		s.cfg.Device, s.cfg.Baud, s.cfg.CalibrationSamples)

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
	dec := &frameDecoder{}
	buf := make([]byte, 256)
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
			s.setErr(fmt.Sprintf("imu: read: %v", err))
			return
		}
		if n == 0 {
			continue
		}
		for _, f := range dec.Feed(buf[:n]) {
			s.ingest(f)
		}
	}
}

func (s *Service) ingest(f rawFrame) {
	if !s.cal.Done() {
		if s.cal.observe(f) {
			s.setState(func(sn *Snapshot) { sn.Calibrated = true })
			log.Printf("imu calibration complete samples=%d", s.cfg.CalibrationSamples)
		}
		return
	}

	switch f.kind {
	case frameAccel:
		s.accel = f.v
	case frameGyro:
		s.gyro = s.cal.applyGyro(f.v)
	case frameAngle:
		roll, pitch, yaw := s.cal.applyAngle(f.v[0], f.v[1], f.v[2])
		s.seq++
		sample := estimator.AttitudeSample{
			Seq:      s.seq,
			Time:     time.Now().UTC(),
			RollDeg:  roll,
			PitchDeg: pitch,
			YawDeg:   yaw,
			GyroDPS:  s.gyro,
			AccelG:   s.accel,
			Valid:    true,
		}
		s.setState(func(sn *Snapshot) {
			sn.Frames++
			sn.Sample = sample
			sn.LastAt = sample.Time
			sn.LastError = ""
		})
	}
}

func (s *Service) setErr(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastError = msg
	s.snap.Sample.Valid = false
}

func (s *Service) setState(update func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	update(&s.snap)
}
