package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the detector state
type State string

const (
	StateActive   State = "active"
	StateInactive State = "inactive"
)

// Reason is what moved the detector to inactive.
type Reason string

const (
	ReasonIdle    Reason = "idle"
	ReasonSuspend Reason = "suspend"
	ReasonLock    Reason = "lock"
)

// HostEvent is a power or session signal from the host.
type HostEvent string

const (
	HostSuspend HostEvent = "suspend"
	HostResume  HostEvent = "resume"
	HostLock    HostEvent = "lock"
	HostUnlock  HostEvent = "unlock"
)

// Decision is the operator's answer to an inactivity prompt.
type Decision string

const (
	DecisionContinue Decision = "continue"
	DecisionStop     Decision = "stop"
	DecisionAdjust   Decision = "adjust"
)

func (d Decision) Valid() bool {
	switch d {
	case DecisionContinue, DecisionStop, DecisionAdjust:
		return true
	}
	return false
}

// EventType identifies a detector event
type EventType string

const (
	EventInactive EventType = "inactive"
	EventActive   EventType = "active"
	EventResponse EventType = "inactivity-response"
)

// Prompt is the question put to the operator.
type Prompt struct {
	Reason    Reason        `json:"reason"`
	IdleSince time.Time     `json:"idle_since"`
	IdleFor   time.Duration `json:"idle_for"`
}

// Event is emitted on every transition and on every answered prompt.
type Event struct {
	Type      EventType     `json:"type"`
	At        time.Time     `json:"at"`
	Reason    Reason        `json:"reason,omitempty"`
	IdleSince time.Time     `json:"idle_since,omitempty"`
	IdleFor   time.Duration `json:"idle_for,omitempty"`
	Decision  Decision      `json:"decision,omitempty"`
}

// Prompter asks the operator what to do about an idle period. Confirm
// blocks until the operator answers or ctx is done.
type Prompter interface {
	Confirm(ctx context.Context, prompt Prompt) (Decision, error)
}

// IdleSource reports time since the last OS-level input.
type IdleSource interface {
	IdleTime() (time.Duration, error)
}

// InactivityDetector tracks operator presence. The idle check runs on a
// fixed poll interval against an absolute last-activity timestamp, so time
// spent in system sleep counts as idle.
type InactivityDetector struct {
	threshold    time.Duration
	pollInterval time.Duration
	idle         IdleSource
	prompter     Prompter
	onEvent      func(Event)
	logger       *zap.Logger
	now          func() time.Time

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	prompting    bool
	started      bool

	ctx      context.Context
	cancel   context.CancelFunc
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewInactivityDetector creates a detector. idle and prompter may be nil:
// without an idle source only explicit activity counts, without a prompter
// the detector stays inactive until activity is seen.
func NewInactivityDetector(
	threshold time.Duration,
	pollInterval time.Duration,
	idle IdleSource,
	prompter Prompter,
	logger *zap.Logger,
) *InactivityDetector {
	ctx, cancel := context.WithCancel(context.Background())
	return &InactivityDetector{
		threshold:    threshold,
		pollInterval: pollInterval,
		idle:         idle,
		prompter:     prompter,
		logger:       logger,
		now:          time.Now,
		state:        StateActive,
		lastActivity: time.Now(),
		ctx:          ctx,
		cancel:       cancel,
		stopChan:     make(chan struct{}),
	}
}

// Start begins polling. onEvent is called from the detector's goroutines.
func (d *InactivityDetector) Start(onEvent func(Event)) error {
	if d.threshold <= 0 || d.pollInterval <= 0 {
		return fmt.Errorf("threshold and poll interval must be positive")
	}

	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("inactivity detector already started")
	}
	d.started = true
	d.onEvent = onEvent
	d.lastActivity = d.now()
	d.state = StateActive
	d.mu.Unlock()

	d.wg.Add(1)
	go d.pollLoop()

	d.logger.Info("Inactivity detector started",
		zap.Duration("threshold", d.threshold),
		zap.Duration("poll_interval", d.pollInterval),
	)
	return nil
}

// Stop stops polling and abandons a pending prompt.
func (d *InactivityDetector) Stop() {
	d.mu.Lock()
	select {
	case <-d.stopChan:
		d.mu.Unlock()
		return
	default:
		close(d.stopChan)
	}
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	d.logger.Info("Inactivity detector stopped")
}

func (d *InactivityDetector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *InactivityDetector) LastActivity() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastActivity
}

// RecordActivity is the explicit activity ping from the UI.
func (d *InactivityDetector) RecordActivity() {
	d.markActive()
}

// HandleHostEvent applies a power or session signal.
func (d *InactivityDetector) HandleHostEvent(ev HostEvent) error {
	switch ev {
	case HostSuspend:
		d.markInactive(ReasonSuspend)
	case HostLock:
		d.markInactive(ReasonLock)
	case HostResume, HostUnlock:
		d.markActive()
	default:
		return fmt.Errorf("unknown host event %q", ev)
	}
	return nil
}

func (d *InactivityDetector) pollLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.check()
		case <-d.stopChan:
			return
		}
	}
}

func (d *InactivityDetector) check() {
	now := d.now()

	if d.idle != nil {
		idle, err := d.idle.IdleTime()
		if err == nil {
			d.mu.Lock()
			if input := now.Add(-idle); input.After(d.lastActivity) {
				d.lastActivity = input
			}
			d.mu.Unlock()
		}
	}

	d.mu.Lock()
	elapsed := now.Sub(d.lastActivity)
	state := d.state
	d.mu.Unlock()

	if state == StateActive && elapsed >= d.threshold {
		d.logger.Info("Inactivity detected", zap.Duration("idle_for", elapsed))
		d.markInactive(ReasonIdle)
	}
}

func (d *InactivityDetector) markActive() {
	now := d.now()

	d.mu.Lock()
	d.lastActivity = now
	wasInactive := d.state == StateInactive
	d.state = StateActive
	d.mu.Unlock()

	if wasInactive {
		d.logger.Info("Operator active again")
		d.emit(Event{Type: EventActive, At: now})
	}
}

// markInactive moves to inactive and starts a prompt unless one is already
// pending.
func (d *InactivityDetector) markInactive(reason Reason) {
	now := d.now()

	d.mu.Lock()
	if d.state == StateInactive {
		d.mu.Unlock()
		return
	}
	d.state = StateInactive
	since := d.lastActivity
	startPrompt := d.prompter != nil && !d.prompting
	if startPrompt {
		d.prompting = true
	}
	d.mu.Unlock()

	prompt := Prompt{Reason: reason, IdleSince: since, IdleFor: now.Sub(since)}
	d.emit(Event{Type: EventInactive, At: now, Reason: reason, IdleSince: since, IdleFor: prompt.IdleFor})

	if startPrompt {
		d.wg.Add(1)
		go d.ask(prompt)
	}
}

// ask blocks on the prompter, emits the answer and resets to active
// whatever the answer was.
func (d *InactivityDetector) ask(prompt Prompt) {
	defer d.wg.Done()

	decision, err := d.prompter.Confirm(d.ctx, prompt)
	if err != nil {
		if errors.Is(err, context.Canceled) && d.ctx.Err() != nil {
			d.mu.Lock()
			d.prompting = false
			d.mu.Unlock()
			return
		}
		// A dismissed prompt counts as stop.
		d.logger.Warn("Inactivity prompt failed", zap.Error(err))
		decision = DecisionStop
	}
	if !decision.Valid() {
		d.logger.Warn("Invalid inactivity decision", zap.String("decision", string(decision)))
		decision = DecisionStop
	}

	now := d.now()
	d.mu.Lock()
	d.prompting = false
	d.state = StateActive
	d.lastActivity = now
	d.mu.Unlock()

	d.logger.Info("Inactivity prompt answered",
		zap.String("decision", string(decision)),
		zap.Duration("idle_for", prompt.IdleFor),
	)
	d.emit(Event{
		Type:      EventResponse,
		At:        now,
		Reason:    prompt.Reason,
		IdleSince: prompt.IdleSince,
		IdleFor:   now.Sub(prompt.IdleSince),
		Decision:  decision,
	})
}

func (d *InactivityDetector) emit(ev Event) {
	d.mu.Lock()
	fn := d.onEvent
	d.mu.Unlock()

	select {
	case <-d.stopChan:
		return
	default:
	}
	if fn != nil {
		fn(ev)
	}
}
