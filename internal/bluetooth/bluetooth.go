// Package bluetooth accepts operator commands over an rfcomm serial link.
// It exists for bench use and as a shore-side fallback when the broker is
// unreachable: one command per line, either the JSON shape the MQTT control
// plane uses or the short text forms older handheld tools send.
package bluetooth

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.bug.st/serial"

	"usv-nav/internal/nav"
)

// Submitter is the slice of the orchestrator this receiver needs.
type Submitter interface {
	Submit(nav.Command) nav.Result
}

type Config struct {
	Enable bool
	Device string
	Baud   int
}

type Snapshot struct {
	Enabled bool `json:"enabled"`

	Lines    uint64 `json:"lines"`
	Rejected uint64 `json:"rejected"`

	LastError string `json:"last_error,omitempty"`
}

type Service struct {
	cfg Config
	sub Submitter

	mu   sync.Mutex
	snap Snapshot

	portMu sync.Mutex
	port   serial.Port

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config, sub Submitter) *Service {
	if cfg.Device == "" {
		cfg.Device = "/dev/rfcomm0"
	}
	if cfg.Baud == 0 {
		cfg.Baud = 9600
	}
	return &Service{cfg: cfg, sub: sub, stopCh: make(chan struct{})}
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("bluetooth: service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if s.sub == nil {
		return fmt.Errorf("bluetooth: submitter is required")
	}

	port, err := serial.Open(s.cfg.Device, &serial.Mode{BaudRate: s.cfg.Baud})
	if err != nil {
		err = fmt.Errorf("bluetooth: open %s: %w", s.cfg.Device, err)
		s.setErr(err.Error())
		return err
	}

	s.portMu.Lock()
	s.port = port
	s.portMu.Unlock()

	s.mu.Lock()
	s.snap.Enabled = true
	s.mu.Unlock()
	log.Printf("bluetooth enabled device=%s baud=%d", s.cfg.Device, s.cfg.Baud)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(port)
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

func (s *Service) readLoop(port serial.Port) {
	scanner := bufio.NewScanner(port)
	scanner.Buffer(make([]byte, 0, 256), 4096)
	for scanner.Scan() {
		select {
		case <-s.stopCh:
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.mu.Lock()
		s.snap.Lines++
		s.mu.Unlock()

		cmd, err := parseLine(uuid.NewString(), line)
		if err != nil {
			s.reject(port, err)
			continue
		}
		res := s.sub.Submit(cmd)
		s.respond(port, cmd, res)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		select {
		case <-s.stopCh:
		default:
			s.setErr(fmt.Sprintf("bluetooth: read: %v", err))
		}
	}
}

func (s *Service) reject(w io.Writer, err error) {
	s.mu.Lock()
	s.snap.Rejected++
	s.snap.LastError = err.Error()
	s.mu.Unlock()
	fmt.Fprintf(w, "{\"status\":\"rejected\",\"detail\":%q}\n", err.Error())
}

// wireStatus maps the orchestrator's result vocabulary onto the response
// contract handheld tools match on: success, error or rejected. Accepted
// passes through; it means the command is queued and this link carries no
// later feedback.
func wireStatus(status string) string {
	switch status {
	case "completed":
		return "success"
	case "failed":
		return "error"
	default:
		return status
	}
}

func (s *Service) respond(w io.Writer, cmd nav.Command, res nav.Result) {
	payload, err := json.Marshal(map[string]any{
		"id":      cmd.ID,
		"command": cmd.Kind.String(),
		"status":  wireStatus(res.Status),
		"detail":  res.Detail,
		"data":    res.Data,
	})
	if err != nil {
		s.setErr(fmt.Sprintf("bluetooth: encode response: %v", err))
		return
	}
	_, _ = w.Write(append(payload, '\n'))
}

func (s *Service) setErr(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastError = msg
}

// parseLine accepts either a JSON command object or a legacy text form:
//
//	TARGET:31.2304,121.4737[,3.5]
//	NAVIGATE:START | NAVIGATE:STOP
//	GET:POSITION | GET:TARGET | GET:STATUS
//	EMERGENCY:STOP | EMERGENCY:RETURN
func parseLine(id, line string) (nav.Command, error) {
	if strings.HasPrefix(line, "{") {
		return parseJSONLine(id, line)
	}

	verb, arg, _ := strings.Cut(line, ":")
	verb = strings.ToUpper(strings.TrimSpace(verb))
	arg = strings.TrimSpace(arg)

	cmd := nav.Command{ID: id, IssuedAt: time.Now().UTC()}
	switch verb {
	case "TARGET":
		parts := strings.Split(arg, ",")
		if len(parts) < 2 {
			return nav.Command{}, fmt.Errorf("bluetooth: TARGET wants lat,lon[,alt], got %q", arg)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nav.Command{}, fmt.Errorf("bluetooth: TARGET lat: %w", err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nav.Command{}, fmt.Errorf("bluetooth: TARGET lon: %w", err)
		}
		var alt float64
		if len(parts) > 2 {
			if alt, err = strconv.ParseFloat(strings.TrimSpace(parts[2]), 64); err != nil {
				return nav.Command{}, fmt.Errorf("bluetooth: TARGET alt: %w", err)
			}
		}
		cmd.Kind = nav.KindSetTarget
		cmd.Target = nav.Target{LatDeg: lat, LonDeg: lon, AltM: alt}
	case "NAVIGATE":
		switch strings.ToUpper(arg) {
		case "START":
			cmd.Kind = nav.KindNavigateStart
		case "STOP":
			cmd.Kind = nav.KindNavigateStop
		default:
			return nav.Command{}, fmt.Errorf("bluetooth: NAVIGATE wants START or STOP, got %q", arg)
		}
	case "GET":
		switch strings.ToUpper(arg) {
		case "POSITION":
			cmd.Kind = nav.KindGetPosition
		case "TARGET":
			cmd.Kind = nav.KindGetTarget
		case "STATUS":
			cmd.Kind = nav.KindGetStatus
		default:
			return nav.Command{}, fmt.Errorf("bluetooth: GET wants POSITION, TARGET or STATUS, got %q", arg)
		}
	case "EMERGENCY":
		switch strings.ToUpper(arg) {
		case "STOP":
			cmd.Kind = nav.KindEmergencyStop
		case "RETURN":
			cmd.Kind = nav.KindEmergencyReturn
		default:
			return nav.Command{}, fmt.Errorf("bluetooth: EMERGENCY wants STOP or RETURN, got %q", arg)
		}
	default:
		return nav.Command{}, fmt.Errorf("bluetooth: unknown verb %q", verb)
	}
	return cmd, nil
}

// jsonLine mirrors the MQTT command payload. Lat and Lng are pointers so
// missing coordinates are rejected rather than read as 0,0.
type jsonLine struct {
	Command string `json:"command"`
	Params  struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
		Alt float64  `json:"alt"`
		Bay int      `json:"bay"`
	} `json:"params"`
}

func parseJSONLine(id, line string) (nav.Command, error) {
	var jl jsonLine
	if err := json.Unmarshal([]byte(line), &jl); err != nil {
		return nav.Command{}, fmt.Errorf("bluetooth: decode: %w", err)
	}

	cmd := nav.Command{ID: id, IssuedAt: time.Now().UTC()}
	switch strings.ToUpper(strings.TrimSpace(jl.Command)) {
	case "SET_TARGET":
		if jl.Params.Lat == nil || jl.Params.Lng == nil {
			return nav.Command{}, fmt.Errorf("bluetooth: SET_TARGET params require lat and lng")
		}
		cmd.Kind = nav.KindSetTarget
		cmd.Target = nav.Target{LatDeg: *jl.Params.Lat, LonDeg: *jl.Params.Lng, AltM: jl.Params.Alt}
	case "NAVIGATE_START":
		cmd.Kind = nav.KindNavigateStart
	case "NAVIGATE_STOP":
		cmd.Kind = nav.KindNavigateStop
	case "GET_POSITION":
		cmd.Kind = nav.KindGetPosition
	case "GET_TARGET":
		cmd.Kind = nav.KindGetTarget
	case "GET_STATUS":
		cmd.Kind = nav.KindGetStatus
	case "START_MEDICATION":
		cmd.Kind = nav.KindStartMedication
		cmd.Bay = jl.Params.Bay
		if cmd.Bay == 0 {
			cmd.Bay = 1
		}
	case "STOP_MEDICATION":
		cmd.Kind = nav.KindStopMedication
	case "EMERGENCY_STOP":
		cmd.Kind = nav.KindEmergencyStop
	case "EMERGENCY_RETURN":
		cmd.Kind = nav.KindEmergencyReturn
	default:
		return nav.Command{}, fmt.Errorf("bluetooth: unknown command %q", jl.Command)
	}
	return cmd, nil
}
