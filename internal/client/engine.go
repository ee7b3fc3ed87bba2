package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"parkpilot/internal/livefeed"
	"parkpilot/internal/models"
	"parkpilot/internal/policy"
	"parkpilot/internal/pricing"
	"parkpilot/internal/service"
)

const (
	tickInterval       = time.Second
	defaultLeadMinutes = 10
)

// API is the session backend the engine persists through. Implemented by
// *service.SessionsService in-process and by a thin HTTP client on devices.
type API interface {
	StartSession(ctx context.Context, in service.StartSessionInput) (*models.Session, error)
	EndSession(ctx context.Context, userID int64) (*models.Session, error)
	AutoEndActive(ctx context.Context, userID int64, reason string) (*models.Session, error)
	ModifyActiveEnd(ctx context.Context, userID int64, deltaMinutes int) (*models.Session, error)
	RestoreActive(ctx context.Context, userID int64) (*models.Session, error)
}

// AlertSink receives the engine's local user-facing alerts (in-app banner,
// local notification). Best-effort; never blocks the state machine.
type AlertSink interface {
	Alert(kind, text string)
}

// State is the observer snapshot published after every mutation and tick.
type State struct {
	Active  bool
	Pending bool
	Session models.Session
	Display DisplayValue
}

// Observer receives state snapshots.
type Observer func(State)

// Engine is the client session state machine: at most one active session,
// local-first writes with async confirmation, a 1-second tick while active
// and local fallback auto-end mirroring the server job.
type Engine struct {
	mu sync.Mutex

	api    API
	userID int64
	driver models.DriverSettings
	alerts AlertSink
	clk    clock.Clock
	logger *zap.Logger

	session     *models.Session
	pending     bool
	endAdjusted bool
	capMinutes  int
	leadMinutes int

	// expiring-soon dedup is in-memory on purpose: a page reload may
	// legitimately re-raise the alert once.
	expiringRaised map[string]struct{}

	observers []Observer
	stopTick  chan struct{}
}

// NewEngine builds a per-user engine. One instance exists per running client
// process.
func NewEngine(api API, userID int64, driver models.DriverSettings, alerts AlertSink, clk clock.Clock, logger *zap.Logger) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		api:            api,
		userID:         userID,
		driver:         driver,
		alerts:         alerts,
		clk:            clk,
		logger:         logger,
		leadMinutes:    defaultLeadMinutes,
		expiringRaised: make(map[string]struct{}),
	}
}

// SetExpiringLeadMinutes overrides the expiring-soon warning window.
func (e *Engine) SetExpiringLeadMinutes(minutes int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if minutes > 0 {
		e.leadMinutes = minutes
	}
}

// Subscribe registers an observer for state snapshots.
func (e *Engine) Subscribe(fn Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

// StartSession begins a session from the zone-detail context. The local
// state flips to active immediately; the store-assigned id attaches when the
// write confirms, and a definitive failure rolls the local state back.
func (e *Engine) StartSession(ctx context.Context, zone ZoneOpenContext, plate PlateSelectContext, durationMinutes int) error {
	e.mu.Lock()

	if e.session != nil {
		e.mu.Unlock()
		e.logger.Debug("start ignored, session already active")
		return models.Rejected(models.RejectSessionAlreadyActive)
	}
	if !zone.Valid() {
		e.mu.Unlock()
		e.logger.Debug("start ignored, no zone selected")
		return models.Rejected(models.RejectNoZoneSelected)
	}
	plateText, ok := plate.Chosen()
	if !ok {
		e.mu.Unlock()
		e.logger.Debug("start ignored, no plate chosen")
		return errors.New("client: no plate chosen")
	}

	now := e.clk.Now().UTC()
	if reason := policy.CheckStartAllowed(e.driver, e.clk.Now()); reason != "" {
		e.mu.Unlock()
		return models.Rejected(reason)
	}

	capMinutes := zone.Zone.MaxDuration()
	if durationMinutes > capMinutes {
		durationMinutes = capMinutes
	}
	var endTime *time.Time
	if durationMinutes > 0 {
		t := now.Add(time.Duration(durationMinutes) * time.Minute)
		endTime = &t
	}

	clientRef := uuid.NewString()
	local := &models.Session{
		UserID:     e.userID,
		ZoneCode:   zone.Zone.Code,
		ZoneRef:    zone.Zone.Ref,
		PlateText:  plateText,
		Status:     models.SessionStatusActive,
		StartTime:  now,
		EndTime:    endTime,
		HourlyRate: zone.Rate(),
		Currency:   zone.Zone.Currency,
		ClientRef:  clientRef,
	}
	e.session = local
	e.pending = true
	e.endAdjusted = false
	e.capMinutes = capMinutes
	e.startTickLoop()
	e.mu.Unlock()

	e.alert("session_started", fmt.Sprintf("Parking started in zone %s", zone.Zone.Code))
	e.notifyObservers()

	go e.confirmStart(ctx, clientRef, service.StartSessionInput{
		UserID:          e.userID,
		ZoneCode:        zone.Zone.Code,
		PlateText:       plateText,
		DurationMinutes: durationMinutes,
		RateSnapshot:    zone.Rate(),
		ClientRef:       clientRef,
	})
	return nil
}

func (e *Engine) confirmStart(ctx context.Context, clientRef string, in service.StartSessionInput) {
	confirmed, err := e.api.StartSession(ctx, in)

	e.mu.Lock()
	if e.session == nil || e.session.ClientRef != clientRef {
		// The optimistic session is already gone (ended or replaced);
		// nothing to attach or roll back.
		e.mu.Unlock()
		return
	}
	if err != nil {
		e.session = nil
		e.pending = false
		e.stopTickLoop()
		e.mu.Unlock()

		var rej *models.RejectionError
		if errors.As(err, &rej) {
			e.alert("session_rejected", rej.Reason.Message())
		} else {
			e.logger.Warn("session start failed, rolled back", zap.Error(err))
			e.alert("session_rejected", "could not start parking, try again")
		}
		e.notifyObservers()
		return
	}

	e.session.ID = confirmed.ID
	e.session.TenantID = confirmed.TenantID
	e.session.StartTime = confirmed.StartTime
	if !e.endAdjusted {
		// An end adjustment made while the write was in flight wins over
		// the confirmed record's original end.
		e.session.EndTime = confirmed.EndTime
	}
	e.session.CreatedAt = confirmed.CreatedAt
	e.pending = false
	e.mu.Unlock()
	e.notifyObservers()
}

// EndSession performs the explicit stop. Local state clears immediately even
// if the store write fails; the reconciliation job is the backstop.
func (e *Engine) EndSession(ctx context.Context) {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		e.logger.Debug("end ignored, no active session")
		return
	}
	zoneCode := e.session.ZoneCode
	e.session = nil
	e.pending = false
	e.stopTickLoop()
	e.mu.Unlock()

	e.alert("session_ended", fmt.Sprintf("Parking ended in zone %s", zoneCode))
	e.notifyObservers()

	go func() {
		if _, err := e.api.EndSession(ctx, e.userID); err != nil {
			e.logger.Warn("session end write failed, reconciler will catch up", zap.Error(err))
		}
	}()
}

// ModifyActiveEnd shifts the running session's end. The first step away from
// open-ended uses the small increment; the result never lands in the past
// (collapses to open-ended) nor beyond the zone cap.
func (e *Engine) ModifyActiveEnd(ctx context.Context, deltaMinutes int) {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		e.logger.Debug("modify ignored, no active session")
		return
	}
	now := e.clk.Now().UTC()
	e.session.EndTime = pricing.AdjustEnd(e.session.EndTime, deltaMinutes, now, e.sessionCap())
	e.endAdjusted = true
	e.mu.Unlock()

	e.notifyObservers()

	go func() {
		if _, err := e.api.ModifyActiveEnd(ctx, e.userID, deltaMinutes); err != nil {
			e.logger.Warn("end adjustment write failed", zap.Error(err))
		}
	}()
}

// Restore adopts the user's authoritative active session on bootstrap. It
// never creates a session; zero matching records leave the engine idle.
func (e *Engine) Restore(ctx context.Context) error {
	e.mu.Lock()
	if e.session != nil {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	session, err := e.api.RestoreActive(ctx, e.userID)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}

	e.mu.Lock()
	if e.session != nil {
		e.mu.Unlock()
		return nil
	}
	e.session = session
	e.pending = false
	e.capMinutes = 0 // zone cap unknown after restore; default applies
	e.startTickLoop()
	e.mu.Unlock()
	e.notifyObservers()
	return nil
}

// ApplyRemoteEvent reconciles the local view with a live-feed event. A
// terminal event for the current session clears local state; the server
// already owns the billing record.
func (e *Engine) ApplyRemoteEvent(ev livefeed.Event) {
	e.mu.Lock()
	if e.session == nil || !e.matchesLocked(ev.Session) {
		e.mu.Unlock()
		return
	}

	switch ev.Kind {
	case livefeed.EventSessionEnded:
		endedBy := ev.Session.EndedBy
		reason := ev.Session.AutoStopReason
		e.session = nil
		e.pending = false
		e.stopTickLoop()
		e.mu.Unlock()
		if endedBy == models.EndedByAuto {
			e.alert("ended_by_system", fmt.Sprintf("Parking was ended automatically (%s)", reason))
		}
		e.notifyObservers()
	case livefeed.EventSessionUpdated:
		remote := ev.Session
		e.session.EndTime = remote.EndTime
		e.mu.Unlock()
		e.notifyObservers()
	default:
		e.mu.Unlock()
	}
}

func (e *Engine) matchesLocked(remote models.Session) bool {
	if e.session.ID != 0 && remote.ID != 0 {
		return e.session.ID == remote.ID
	}
	return e.session.ClientRef != "" && e.session.ClientRef == remote.ClientRef
}

// Tick recomputes the display and runs the client-side fallback checks. It
// is the single authoritative phase function: its only side effects are the
// once-per-session expiring alert and the local auto-end paths.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return
	}
	now := e.clk.Now().UTC()
	session := *e.session

	if session.EndTime == nil {
		elapsed := now.Sub(session.StartTime)
		if elapsed >= time.Duration(e.sessionCap())*time.Minute {
			e.localAutoEndLocked(ctx, models.AutoStopMaxTime)
			return
		}
		e.mu.Unlock()
		e.notifyObservers()
		return
	}

	remaining := session.EndTime.Sub(now)
	if remaining <= 0 {
		e.localAutoEndLocked(ctx, models.AutoStopDurationExpired)
		return
	}
	if remaining <= time.Duration(e.leadMinutes)*time.Minute {
		key := expiringKey(session)
		if _, raised := e.expiringRaised[key]; !raised {
			e.expiringRaised[key] = struct{}{}
			e.mu.Unlock()
			e.alert("expiring_soon", fmt.Sprintf("Parking in zone %s ends in about %d minutes", session.ZoneCode, int(remaining.Minutes())+1))
			e.notifyObservers()
			return
		}
	}
	e.mu.Unlock()
	e.notifyObservers()
}

// localAutoEndLocked clears local state and writes the auto termination.
// Called with the mutex held; releases it.
func (e *Engine) localAutoEndLocked(ctx context.Context, reason string) {
	zoneCode := e.session.ZoneCode
	e.session = nil
	e.pending = false
	e.stopTickLoop()
	e.mu.Unlock()

	e.alert("ended_by_system", fmt.Sprintf("Parking in zone %s ended automatically", zoneCode))
	e.notifyObservers()

	go func() {
		if _, err := e.api.AutoEndActive(ctx, e.userID, reason); err != nil {
			e.logger.Warn("local auto-end write failed, reconciler will catch up",
				zap.String("reason", reason),
				zap.Error(err),
			)
		}
	}()
}

// CurrentDisplayValue returns the timer state for rendering.
func (e *Engine) CurrentDisplayValue() DisplayValue {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.displayLocked()
}

func (e *Engine) displayLocked() DisplayValue {
	if e.session == nil {
		return DisplayValue{}
	}
	now := e.clk.Now().UTC()
	if e.session.EndTime == nil {
		return DisplayValue{
			Mode:      ModeCountUp,
			Text:      formatClock(now.Sub(e.session.StartTime)),
			ColorHint: ColorOK,
		}
	}
	remaining := e.session.EndTime.Sub(now)
	hint := ColorOK
	if remaining <= time.Duration(e.leadMinutes)*time.Minute {
		hint = ColorExpiring
	}
	return DisplayValue{
		Mode:      ModeCountDown,
		Text:      formatClock(remaining),
		ColorHint: hint,
	}
}

// Active reports whether a session is running locally.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session != nil
}

// Current returns a copy of the local session, if any.
func (e *Engine) Current() *models.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	copied := *e.session
	return &copied
}

func (e *Engine) sessionCap() int {
	if e.capMinutes > 0 {
		return e.capMinutes
	}
	return models.DefaultMaxDurationMinutes
}

// startTickLoop launches the 1-second ticker. Ticks suspend entirely while
// no session is active. Caller holds the mutex.
func (e *Engine) startTickLoop() {
	if e.stopTick != nil {
		return
	}
	stop := make(chan struct{})
	e.stopTick = stop
	ticker := e.clk.Ticker(tickInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				e.Tick(context.Background())
			}
		}
	}()
}

// stopTickLoop halts the ticker. Caller holds the mutex.
func (e *Engine) stopTickLoop() {
	if e.stopTick != nil {
		close(e.stopTick)
		e.stopTick = nil
	}
}

func (e *Engine) alert(kind, text string) {
	if e.alerts == nil {
		return
	}
	e.alerts.Alert(kind, text)
}

func (e *Engine) notifyObservers() {
	e.mu.Lock()
	observers := make([]Observer, len(e.observers))
	copy(observers, e.observers)
	state := State{Pending: e.pending}
	if e.session != nil {
		state.Active = true
		state.Session = *e.session
		state.Display = e.displayLocked()
	}
	e.mu.Unlock()

	for _, fn := range observers {
		fn(state)
	}
}

func expiringKey(s models.Session) string {
	return fmt.Sprintf("%s|%s|%d", s.ZoneCode, s.PlateText, s.StartTime.Unix())
}
