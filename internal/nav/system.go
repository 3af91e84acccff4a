// Package nav contains the navigation orchestrator: the state machine that
// arbitrates between operator commands, the waypoint controller, and the
// obstacle avoidance loop, and drives the propulsion actuator.
package nav

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"usv-nav/internal/avoidance"
	"usv-nav/internal/estimator"
	"usv-nav/internal/geo"
)

// StateSource supplies the fused vessel state and the recorded home fix.
type StateSource interface {
	State() estimator.StateEstimate
	Home() (estimator.PositionFix, bool)
}

// ObstacleSource supplies the filtered forward range.
type ObstacleSource interface {
	Reading() (distanceMM int, valid bool)
}

// Dispenser is the medication pump contract. Dispense blocks for the length
// of the pulse plan; Halt aborts an in-flight dispense.
type Dispenser interface {
	Dispense(bay int) error
	Halt()
}

type Config struct {
	LoopInterval      time.Duration
	AvoidanceInterval time.Duration
	PositionInterval  time.Duration
	StopTimeout       time.Duration

	CommandQueueSize int

	Controller ControllerConfig
	Avoidance  avoidance.Config
}

// Deps are the collaborators the orchestrator drives. Actuator and Estimator
// are required; Obstacles and Pump are optional.
type Deps struct {
	Estimator StateSource
	Obstacles ObstacleSource
	Actuator  Actuator
	Pump      Dispenser
}

type Stats struct {
	Submitted uint64 `json:"submitted"`
	Accepted  uint64 `json:"accepted"`
	Rejected  uint64 `json:"rejected"`
	Processed uint64 `json:"processed"`

	Transitions     uint64 `json:"transitions"`
	AvoidanceEvents uint64 `json:"avoidance_events"`

	TargetsReached uint64  `json:"targets_reached"`
	Errors         uint64  `json:"errors"`
	TotalDistanceM float64 `json:"total_distance_m"`
}

type Snapshot struct {
	State string `json:"state"`

	Target    *Target `json:"target,omitempty"`
	Returning bool    `json:"returning,omitempty"`

	Position estimator.StateEstimate `json:"position"`
	Guidance Guidance                `json:"guidance"`

	ObstacleDistanceMM int    `json:"obstacle_distance_mm"`
	ObstacleThreat     string `json:"obstacle_threat"`

	Stats Stats `json:"stats"`

	LastError string `json:"last_error,omitempty"`
}

// System is the navigation orchestrator.
type System struct {
	cfg Config

	source    StateSource
	obstacles ObstacleSource
	actuator  Actuator
	pump      Dispenser

	controller *Controller
	policy     *avoidance.Policy

	// mu guards the state machine, target, controller arming, guidance,
	// decision and stats. posMu guards only the fused position mirror so
	// status readers never contend with a state transition.
	mu           sync.Mutex
	state        State
	target       Target
	haveTarget   bool
	returning    bool
	lastGuidance Guidance
	lastDecision avoidance.Decision
	stats        Stats
	lastErr      string

	posMu    sync.RWMutex
	position estimator.StateEstimate

	cmdCh chan Command

	resMu    sync.RWMutex
	onResult func(Command, Result)

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewSystem(cfg Config, deps Deps) (*System, error) {
	if deps.Actuator == nil {
		return nil, fmt.Errorf("nav: actuator is required")
	}
	if deps.Estimator == nil {
		return nil, fmt.Errorf("nav: estimator is required")
	}
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = 100 * time.Millisecond
	}
	if cfg.AvoidanceInterval <= 0 {
		cfg.AvoidanceInterval = 50 * time.Millisecond
	}
	if cfg.PositionInterval <= 0 {
		cfg.PositionInterval = 100 * time.Millisecond
	}
	if cfg.CommandQueueSize <= 0 {
		cfg.CommandQueueSize = 100
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	return &System{
		cfg:        cfg,
		source:     deps.Estimator,
		obstacles:  deps.Obstacles,
		actuator:   deps.Actuator,
		pump:       deps.Pump,
		controller: NewController(cfg.Controller),
		policy:     avoidance.New(cfg.Avoidance),
		state:      StateIdle,
		cmdCh:      make(chan Command, cfg.CommandQueueSize),
		stopCh:     make(chan struct{}),
	}, nil
}

// OnResult registers the feedback callback invoked for every executed queued
// command.
func (s *System) OnResult(fn func(Command, Result)) {
	s.resMu.Lock()
	s.onResult = fn
	s.resMu.Unlock()
}

func (s *System) notify(cmd Command, res Result) {
	s.resMu.RLock()
	fn := s.onResult
	s.resMu.RUnlock()
	if fn != nil {
		fn(cmd, res)
	}
}

func (s *System) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("nav: system is nil")
	}

	log.Printf("nav started loop=%v avoidance=%v position=%v queue=%d",
		s.cfg.LoopInterval, s.cfg.AvoidanceInterval, s.cfg.PositionInterval, s.cfg.CommandQueueSize)

	s.wg.Add(3)
	go func() { defer s.wg.Done(); s.dispatchLoop(ctx) }()
	go func() { defer s.wg.Done(); s.positionLoop(ctx) }()
	go func() { defer s.wg.Done(); s.navigationLoop(ctx) }()
	if s.obstacles != nil {
		s.wg.Add(1)
		go func() { defer s.wg.Done(); s.avoidanceLoop(ctx) }()
	}
	return nil
}

func (s *System) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.StopTimeout):
		log.Printf("nav close timed out after %v", s.cfg.StopTimeout)
	}
	_ = s.actuator.Stop()
}

// Submit routes one command. Emergency commands execute synchronously and are
// always accepted. Queries answer synchronously from the latest snapshots.
// Everything else is queued for the dispatcher; a full queue or an active
// avoidance maneuver rejects the command.
func (s *System) Submit(cmd Command) Result {
	s.mu.Lock()
	s.stats.Submitted++
	state := s.state
	s.mu.Unlock()

	switch cmd.Kind {
	case KindEmergencyStop:
		return s.emergencyStop()
	case KindEmergencyReturn:
		return s.emergencyReturn()
	case KindGetPosition:
		return s.queryPosition()
	case KindGetTarget:
		return s.queryTarget()
	case KindGetStatus:
		snap := s.Snapshot()
		return completedData(map[string]any{"status": snap})
	}

	if state == StateAvoiding {
		s.reject()
		return rejected("avoiding obstacle; only emergency commands accepted")
	}

	select {
	case s.cmdCh <- cmd:
		s.mu.Lock()
		s.stats.Accepted++
		s.mu.Unlock()
		return accepted()
	default:
		s.reject()
		return rejected("command queue full")
	}
}

func (s *System) reject() {
	s.mu.Lock()
	s.stats.Rejected++
	s.mu.Unlock()
}

func (s *System) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case cmd := <-s.cmdCh:
			res := s.execute(ctx, cmd)
			s.mu.Lock()
			s.stats.Processed++
			s.mu.Unlock()
			if res.Status != "" {
				s.notify(cmd, res)
			}
		}
	}
}

// execute runs one queued command. Medication dispensing is handed to its own
// goroutine so a multi-second pulse plan does not stall the queue; its result
// is delivered through the same callback when it finishes (signalled by the
// empty Result here).
func (s *System) execute(ctx context.Context, cmd Command) Result {
	// Re-check at execution time: a command queued an instant before an
	// obstacle transition must not act against a live avoidance maneuver.
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == StateAvoiding && cmd.Kind.Priority() != PriorityEmergency {
		s.reject()
		return rejected("avoiding obstacle; only emergency commands accepted")
	}

	switch cmd.Kind {
	case KindSetTarget:
		return s.setTarget(cmd.Target)
	case KindNavigateStart:
		return s.navigateStart()
	case KindNavigateStop:
		return s.navigateStop()
	case KindStartMedication:
		s.startMedication(ctx, cmd)
		return Result{}
	case KindStopMedication:
		if s.pump == nil {
			return failed("no medication pump configured")
		}
		s.pump.Halt()
		return completed()
	default:
		return failed(fmt.Sprintf("unhandled command %v", cmd.Kind))
	}
}

func (s *System) setTarget(t Target) Result {
	if math.Abs(t.LatDeg) > 90 || math.Abs(t.LonDeg) > 180 {
		return rejected(fmt.Sprintf("target out of range lat=%v lon=%v", t.LatDeg, t.LonDeg))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = t
	s.haveTarget = true
	s.returning = false
	log.Printf("nav target set lat=%.6f lon=%.6f", t.LatDeg, t.LonDeg)
	return completed()
}

func (s *System) navigateStart() Result {
	s.posMu.RLock()
	pos := s.position
	s.posMu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveTarget {
		return rejected("no target set")
	}
	if !pos.Valid {
		return rejected("position estimate not valid")
	}
	if !canTransition(s.state, StateNavigating) {
		return rejected(fmt.Sprintf("cannot start navigation from state %v", s.state))
	}
	s.toStateLocked(StateNavigating)
	s.controller.Enable()
	return completed()
}

func (s *System) navigateStop() Result {
	s.mu.Lock()
	if s.state != StateNavigating && s.state != StateAvoiding {
		s.mu.Unlock()
		return rejected(fmt.Sprintf("not navigating (state %v)", s.state))
	}
	s.toStateLocked(StateIdle)
	s.controller.Disable()
	s.returning = false
	s.mu.Unlock()

	if err := s.actuator.Stop(); err != nil {
		s.setErr(fmt.Sprintf("nav: stop actuator: %v", err))
		return failed(err.Error())
	}
	return completed()
}

func (s *System) startMedication(ctx context.Context, cmd Command) {
	notify := func(res Result) { s.notify(cmd, res) }
	if s.pump == nil {
		notify(failed("no medication pump configured"))
		return
	}
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == StateAvoiding || state == StateEmergencyStop {
		notify(rejected(fmt.Sprintf("medication refused in state %v", state)))
		return
	}

	select {
	case <-s.stopCh:
		notify(failed("shutting down"))
		return
	case <-ctx.Done():
		notify(failed("shutting down"))
		return
	default:
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.pump.Dispense(cmd.Bay); err != nil {
			notify(failed(err.Error()))
			return
		}
		notify(completed())
	}()
}

// emergencyStop hits the actuator before touching any lock so a wedged state
// machine can never delay the physical stop.
func (s *System) emergencyStop() Result {
	stopErr := s.actuator.EmergencyStop()
	if s.pump != nil {
		s.pump.Halt()
	}

	s.mu.Lock()
	s.forceStateLocked(StateEmergencyStop)
	s.controller.Disable()
	s.returning = false
	s.mu.Unlock()

	log.Printf("nav emergency stop")
	if stopErr != nil {
		s.setErr(fmt.Sprintf("nav: emergency stop actuator: %v", stopErr))
		return failed(stopErr.Error())
	}
	return completed()
}

// emergencyReturn retargets the vessel at the recorded home fix and forces
// the navigating state. Shares the emergency class with emergencyStop: it is
// accepted regardless of the current state.
func (s *System) emergencyReturn() Result {
	home, ok := s.source.Home()
	if !ok {
		return failed("home position not recorded")
	}

	s.mu.Lock()
	s.target = Target{LatDeg: home.LatDeg, LonDeg: home.LonDeg, AltM: home.AltM}
	s.haveTarget = true
	s.returning = true
	s.forceStateLocked(StateNavigating)
	s.controller.Enable()
	s.mu.Unlock()

	log.Printf("nav emergency return home lat=%.6f lon=%.6f", home.LatDeg, home.LonDeg)
	return completed()
}

func (s *System) queryPosition() Result {
	s.posMu.RLock()
	pos := s.position
	s.posMu.RUnlock()
	if !pos.Valid {
		return rejected("position estimate not valid")
	}
	return completedData(map[string]any{
		"lat_deg":           pos.LatDeg,
		"lon_deg":           pos.LonDeg,
		"alt_m":             pos.AltM,
		"speed_ms":          pos.SpeedMS,
		"course_deg":        pos.CourseDeg,
		"pos_uncertainty_m": pos.PosUncertaintyM,
	})
}

func (s *System) queryTarget() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveTarget {
		return rejected("no target set")
	}
	return completedData(map[string]any{
		"lat_deg": s.target.LatDeg,
		"lon_deg": s.target.LonDeg,
		"alt_m":   s.target.AltM,
	})
}

func (s *System) positionLoop(ctx context.Context) {
	t := time.NewTicker(s.cfg.PositionInterval)
	defer t.Stop()
	var prev estimator.StateEstimate
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-t.C:
			st := s.source.State()
			s.posMu.Lock()
			s.position = st
			s.posMu.Unlock()

			// Odometer: accumulate over successive valid estimates.
			if st.Valid && prev.Valid {
				d := geo.HaversineM(prev.LatDeg, prev.LonDeg, st.LatDeg, st.LonDeg)
				s.mu.Lock()
				s.stats.TotalDistanceM += d
				s.mu.Unlock()
			}
			prev = st
		}
	}
}

func (s *System) navigationLoop(ctx context.Context) {
	t := time.NewTicker(s.cfg.LoopInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-t.C:
			s.navigationStep(now)
		}
	}
}

func (s *System) navigationStep(now time.Time) {
	s.posMu.RLock()
	pos := s.position
	s.posMu.RUnlock()

	s.mu.Lock()
	if s.state != StateNavigating || !s.haveTarget {
		s.mu.Unlock()
		return
	}
	g := s.controller.Steer(pos, s.target, now)
	s.lastGuidance = g
	arrived := g.Arrived
	if arrived {
		s.toStateLocked(StateArrived)
		s.controller.Disable()
		s.returning = false
		s.stats.TargetsReached++
	}
	s.mu.Unlock()

	var err error
	if arrived {
		log.Printf("nav arrived distance=%.1fm", g.DistanceM)
		err = s.actuator.Stop()
	} else {
		err = s.actuator.Drive(g.Direction, g.Speed)
	}
	if err != nil {
		s.setErr(fmt.Sprintf("nav: actuator: %v", err))
		s.mu.Lock()
		s.forceStateLocked(StateError)
		s.controller.Disable()
		s.mu.Unlock()
	}
}

func (s *System) avoidanceLoop(ctx context.Context) {
	t := time.NewTicker(s.cfg.AvoidanceInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-t.C:
			s.avoidanceStep()
		}
	}
}

func (s *System) avoidanceStep() {
	mm, valid := s.obstacles.Reading()
	d := s.policy.Evaluate(mm, valid)

	s.mu.Lock()
	s.lastDecision = d
	state := s.state
	var act avoidance.Action
	switch {
	case d.Obstructed() && state == StateNavigating:
		s.toStateLocked(StateAvoiding)
		s.controller.Disable()
		s.stats.AvoidanceEvents++
		log.Printf("nav avoiding obstacle distance=%dmm threat=%v action=%v", d.DistanceMM, d.Threat, d.Action)
		act = d.Action
	case d.Obstructed() && state == StateAvoiding:
		act = d.Action
	case !d.Obstructed() && state == StateAvoiding:
		s.toStateLocked(StateNavigating)
		s.controller.Enable()
		log.Printf("nav obstacle cleared distance=%dmm", d.DistanceMM)
	}
	s.mu.Unlock()

	var err error
	switch act {
	case avoidance.ActionStop:
		err = s.actuator.Stop()
	case avoidance.ActionSlow:
		err = s.actuator.Drive(DirectionForward, SpeedSlow)
	case avoidance.ActionTurnLeft:
		err = s.actuator.Drive(DirectionLeft, SpeedSlow)
	case avoidance.ActionTurnRight:
		err = s.actuator.Drive(DirectionRight, SpeedSlow)
	}
	if err != nil {
		s.setErr(fmt.Sprintf("nav: avoidance actuator: %v", err))
	}
}

// toStateLocked applies a transition permitted by the table. Callers hold mu.
func (s *System) toStateLocked(to State) {
	if !canTransition(s.state, to) {
		s.lastErr = fmt.Sprintf("nav: illegal transition %v -> %v", s.state, to)
		return
	}
	if s.state != to {
		s.stats.Transitions++
		log.Printf("nav state %v -> %v", s.state, to)
	}
	s.state = to
}

// forceStateLocked is the emergency path: it bypasses the table.
func (s *System) forceStateLocked(to State) {
	if s.state != to {
		s.stats.Transitions++
		log.Printf("nav state %v -> %v (forced)", s.state, to)
	}
	s.state = to
}

func (s *System) setErr(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = msg
	s.stats.Errors++
	log.Print(msg)
}

// CurrentState returns the orchestrator state.
func (s *System) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reset returns the system to idle from a terminal state (arrived, error,
// emergency stop). Used by operators after clearing the condition.
func (s *System) Reset() Result {
	s.mu.Lock()
	if !canTransition(s.state, StateIdle) {
		s.mu.Unlock()
		return rejected(fmt.Sprintf("cannot reset from state %v", s.state))
	}
	s.toStateLocked(StateIdle)
	s.controller.Disable()
	s.returning = false
	s.mu.Unlock()

	// Re-arm the actuator: a latched emergency stop clears on a plain stop.
	if err := s.actuator.Stop(); err != nil {
		s.setErr(fmt.Sprintf("nav: reset actuator: %v", err))
		return failed(err.Error())
	}
	return completed()
}

func (s *System) Snapshot() Snapshot {
	s.posMu.RLock()
	pos := s.position
	s.posMu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:              s.state.String(),
		Returning:          s.returning,
		Position:           pos,
		Guidance:           s.lastGuidance,
		ObstacleDistanceMM: s.lastDecision.DistanceMM,
		ObstacleThreat:     s.lastDecision.Threat.String(),
		Stats:              s.stats,
		LastError:          s.lastErr,
	}
	if s.haveTarget {
		t := s.target
		snap.Target = &t
	}
	return snap
}
