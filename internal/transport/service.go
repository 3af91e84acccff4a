package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"usv-nav/internal/nav"
)

// Navigator is the orchestrator surface the control plane drives.
type Navigator interface {
	Submit(nav.Command) nav.Result
	OnResult(func(nav.Command, nav.Result))
	Snapshot() nav.Snapshot
}

type Config struct {
	Enable   bool
	Broker   string
	ClientID string
	Username string
	Password string

	Keepalive time.Duration

	StatusInterval   time.Duration
	PositionInterval time.Duration
}

type Snapshot struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`

	Received  uint64 `json:"received"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`

	LastError string `json:"last_error,omitempty"`
}

type Service struct {
	cfg Config
	nav Navigator

	client mqtt.Client

	mu   sync.Mutex
	snap Snapshot

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config, navigator Navigator) *Service {
	if cfg.Broker == "" {
		cfg.Broker = "localhost:1883"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "usv-nav"
	}
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = 60 * time.Second
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = time.Second
	}
	if cfg.PositionInterval <= 0 {
		cfg.PositionInterval = time.Second
	}
	return &Service{cfg: cfg, nav: navigator, stopCh: make(chan struct{})}
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snap
	if s.client != nil {
		snap.Connected = s.client.IsConnected()
	}
	return snap
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("transport: service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if s.nav == nil {
		return fmt.Errorf("transport: navigator is required")
	}

	opts := mqtt.NewClientOptions().
		AddBroker("tcp://" + s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetKeepAlive(s.cfg.Keepalive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Printf("mqtt connected broker=%s client_id=%s", s.cfg.Broker, s.cfg.ClientID)
		s.subscribe(c)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("mqtt connection lost: %v", err)
		s.setErr(fmt.Sprintf("connection lost: %v", err))
	})

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		// Auto-reconnect keeps trying in the background; record but carry on.
		if err := token.Error(); err != nil {
			s.setErr(fmt.Sprintf("connect: %v", err))
		}
	}

	// Feedback for queued commands arrives through the orchestrator callback.
	s.nav.OnResult(func(cmd nav.Command, res nav.Result) {
		s.publishFeedback(cmd, res)
	})

	s.mu.Lock()
	s.snap.Enabled = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.telemetryLoop(ctx)
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
	s.wg.Wait()
	if s.client != nil {
		s.client.Disconnect(250)
	}
}

func (s *Service) subscribe(c mqtt.Client) {
	topics := []string{
		TopicControlNavigation,
		TopicControlMedication,
		TopicControlSystem,
		TopicControlEmergency,
	}
	for _, topic := range topics {
		token := c.Subscribe(topic, qosCommand, s.handleMessage)
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			s.setErr(fmt.Sprintf("subscribe %s: %v", topic, token.Error()))
			continue
		}
	}
}

func (s *Service) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	s.mu.Lock()
	s.snap.Received++
	s.mu.Unlock()

	cmd, err := decodeCommand(uuid.NewString(), msg.Topic(), msg.Payload())
	if err != nil {
		s.setErr(err.Error())
		s.mu.Lock()
		s.snap.Dropped++
		s.mu.Unlock()
		return
	}

	res := s.nav.Submit(cmd)
	// Accepted means queued: the executed result follows via the callback.
	if res.Status != "accepted" {
		s.publishFeedback(cmd, res)
	}
}

func (s *Service) publishFeedback(cmd nav.Command, res nav.Result) {
	payload, err := encodeFeedback(cmd, res)
	if err != nil {
		s.setErr(fmt.Sprintf("encode feedback: %v", err))
		return
	}
	s.publish(feedbackTopic(categoryFor(cmd.Kind)), qosFeedback, payload)
}

func (s *Service) telemetryLoop(ctx context.Context) {
	statusT := time.NewTicker(s.cfg.StatusInterval)
	defer statusT.Stop()
	posT := time.NewTicker(s.cfg.PositionInterval)
	defer posT.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-statusT.C:
			snap := s.nav.Snapshot()
			payload, err := json.Marshal(snap)
			if err != nil {
				s.setErr(fmt.Sprintf("encode status: %v", err))
				continue
			}
			s.publish(TopicStatus, qosStatus, payload)
		case <-posT.C:
			snap := s.nav.Snapshot()
			if !snap.Position.Valid {
				continue
			}
			payload, err := json.Marshal(map[string]any{
				"lat_deg":           snap.Position.LatDeg,
				"lon_deg":           snap.Position.LonDeg,
				"alt_m":             snap.Position.AltM,
				"speed_ms":          snap.Position.SpeedMS,
				"course_deg":        snap.Position.CourseDeg,
				"pos_uncertainty_m": snap.Position.PosUncertaintyM,
				"timestamp":         time.Now().UTC().Format(time.RFC3339Nano),
			})
			if err != nil {
				s.setErr(fmt.Sprintf("encode position: %v", err))
				continue
			}
			s.publish(TopicPosition, qosStatus, payload)
		}
	}
}

func (s *Service) publish(topic string, qos byte, payload []byte) {
	if s.client == nil || !s.client.IsConnected() {
		s.mu.Lock()
		s.snap.Dropped++
		s.mu.Unlock()
		return
	}
	token := s.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		s.setErr(fmt.Sprintf("publish %s: %v", topic, token.Error()))
		s.mu.Lock()
		s.snap.Dropped++
		s.mu.Unlock()
		return
	}
	s.mu.Lock()
	s.snap.Published++
	s.mu.Unlock()
}

func (s *Service) setErr(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastError = msg
}
