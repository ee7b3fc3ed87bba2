package service

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"parkpilot/internal/livefeed"
	"parkpilot/internal/models"
	"parkpilot/internal/policy"
	"parkpilot/internal/pricing"
	"parkpilot/internal/redisstore"
	"parkpilot/internal/repository"
)

// SessionStore is the durable session collection the service writes to.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) (*models.Session, error)
	FindActiveByUser(ctx context.Context, userID int64) (*models.Session, error)
	ListActive(ctx context.Context) ([]models.Session, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.Session, error)
	UpdateEndTime(ctx context.Context, sessionID int64, endTime *time.Time) (bool, error)
	Terminate(ctx context.Context, in repository.TerminateInput) (bool, error)
}

// ZoneCatalog is the read-only pricing zone feed.
type ZoneCatalog interface {
	GetByCode(ctx context.Context, code string) (*models.Zone, error)
}

// ProfileStore reads per-user settings.
type ProfileStore interface {
	Get(ctx context.Context, userID int64) (*models.Profile, error)
}

// TransactionStore reads billing history.
type TransactionStore interface {
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.Transaction, error)
}

// Notifier emits best-effort user notifications.
type Notifier interface {
	SessionStarted(ctx context.Context, session models.Session)
	SessionEndedByUser(ctx context.Context, session models.Session)
	EndedBySystem(ctx context.Context, session models.Session, reason string)
}

// SessionsService is the server half of the session lifecycle: start with
// policy checks, user stop, in-flight end adjustment, restore and history.
type SessionsService struct {
	sessions     SessionStore
	zones        ZoneCatalog
	profiles     ProfileStore
	transactions TransactionStore
	cache        *redisstore.Store
	feed         *livefeed.Publisher
	notifier     Notifier
	clk          clock.Clock
	logger       *zap.Logger
}

// NewSessionsService builds service. Cache, feed and notifier may be nil;
// all three are best-effort side channels.
func NewSessionsService(
	sessions SessionStore,
	zones ZoneCatalog,
	profiles ProfileStore,
	transactions TransactionStore,
	cache *redisstore.Store,
	feed *livefeed.Publisher,
	notifier Notifier,
	clk clock.Clock,
	logger *zap.Logger,
) *SessionsService {
	if clk == nil {
		clk = clock.New()
	}
	return &SessionsService{
		sessions:     sessions,
		zones:        zones,
		profiles:     profiles,
		transactions: transactions,
		cache:        cache,
		feed:         feed,
		notifier:     notifier,
		clk:          clk,
		logger:       logger,
	}
}

// StartSessionInput is the start request. DurationMinutes 0 starts an
// open-ended session. RateSnapshot is the hourly rate captured when the
// driver selected the zone; it wins over the catalog's current rate when the
// two diverge mid-flow.
type StartSessionInput struct {
	UserID          int64
	TenantID        string
	ZoneCode        string
	PlateText       string
	DurationMinutes int
	RateSnapshot    float64
	ClientRef       string
}

// StartSession creates an active session after checking the one-active
// invariant and the driver's day/time restrictions.
func (s *SessionsService) StartSession(ctx context.Context, in StartSessionInput) (*models.Session, error) {
	if in.ZoneCode == "" {
		return nil, models.Rejected(models.RejectNoZoneSelected)
	}

	existing, err := s.sessions.FindActiveByUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, models.Rejected(models.RejectSessionAlreadyActive)
	}

	zone, err := s.zones.GetByCode(ctx, in.ZoneCode)
	if errors.Is(err, repository.ErrZoneNotFound) {
		return nil, models.Rejected(models.RejectNoZoneSelected)
	}
	if err != nil {
		return nil, err
	}

	profile, err := s.profiles.Get(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	// The day/time window is a wall-clock rule; evaluate it before
	// converting to UTC.
	if reason := policy.CheckStartAllowed(profile.Driver, s.clk.Now()); reason != "" {
		return nil, models.Rejected(reason)
	}
	now := s.clk.Now().UTC()

	rate := zone.HourlyRate
	if in.RateSnapshot > 0 {
		rate = in.RateSnapshot
	}

	duration := in.DurationMinutes
	if maxMinutes := zone.MaxDuration(); duration > maxMinutes {
		duration = maxMinutes
	}
	var endTime *time.Time
	if duration > 0 {
		t := now.Add(time.Duration(duration) * time.Minute)
		endTime = &t
	}

	clientRef := in.ClientRef
	if clientRef == "" {
		clientRef = uuid.NewString()
	}

	session := &models.Session{
		UserID:     in.UserID,
		TenantID:   profile.TenantID,
		ZoneCode:   zone.Code,
		ZoneRef:    zone.Ref,
		PlateText:  in.PlateText,
		Status:     models.SessionStatusActive,
		StartTime:  now,
		EndTime:    endTime,
		HourlyRate: rate,
		Currency:   zone.Currency,
		ClientRef:  clientRef,
	}

	session, err = s.sessions.Create(ctx, session)
	if err != nil {
		return nil, err
	}

	s.cacheSave(ctx, session)
	s.publish(ctx, livefeed.EventSessionStarted, session)
	if s.notifier != nil {
		s.notifier.SessionStarted(ctx, *session)
	}
	return session, nil
}

// EndSession performs the user's explicit stop. Idempotent: ending with no
// active session is a no-op.
func (s *SessionsService) EndSession(ctx context.Context, userID int64) (*models.Session, error) {
	session, err := s.sessions.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	now := s.clk.Now().UTC()
	minutes := pricing.BillableMinutes(now.Sub(session.StartTime))
	won, err := s.sessions.Terminate(ctx, repository.TerminateInput{
		SessionID:       session.ID,
		UserID:          session.UserID,
		TenantID:        session.TenantID,
		ZoneCode:        session.ZoneCode,
		PlateText:       session.PlateText,
		EndedAt:         now,
		EndedBy:         models.EndedByUser,
		DurationMinutes: minutes,
		HourlyRate:      session.HourlyRate,
		Amount:          pricing.Cost(minutes, session.HourlyRate),
		Currency:        session.Currency,
	})
	if err != nil {
		return nil, err
	}
	if !won {
		// The reconciliation job got there first; nothing left to write.
		s.cacheDelete(ctx, userID)
		return nil, nil
	}

	session.Status = models.SessionStatusEnded
	session.EndedBy = models.EndedByUser
	if session.EndTime == nil {
		session.EndTime = &now
	}

	s.cacheDelete(ctx, userID)
	s.publish(ctx, livefeed.EventSessionEnded, session)
	if s.notifier != nil {
		s.notifier.SessionEndedByUser(ctx, *session)
	}
	return session, nil
}

// AutoEndActive is the client-side fallback reconciler path: a foregrounded
// client whose tick detected expiry terminates its own session with auto
// semantics instead of waiting for the next job pass.
func (s *SessionsService) AutoEndActive(ctx context.Context, userID int64, reason string) (*models.Session, error) {
	session, err := s.sessions.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	capMinutes := models.DefaultMaxDurationMinutes
	if zone, zerr := s.zones.GetByCode(ctx, session.ZoneCode); zerr == nil {
		capMinutes = zone.MaxDuration()
	}

	now := s.clk.Now().UTC()
	endedAt := session.EffectiveEnd(capMinutes)
	if now.Before(endedAt) {
		endedAt = now
	}
	minutes := pricing.BillableMinutes(endedAt.Sub(session.StartTime))

	won, err := s.sessions.Terminate(ctx, repository.TerminateInput{
		SessionID:       session.ID,
		UserID:          session.UserID,
		TenantID:        session.TenantID,
		ZoneCode:        session.ZoneCode,
		PlateText:       session.PlateText,
		EndedAt:         endedAt,
		EndedBy:         models.EndedByAuto,
		AutoStopReason:  reason,
		DurationMinutes: minutes,
		HourlyRate:      session.HourlyRate,
		Amount:          pricing.Cost(minutes, session.HourlyRate),
		Currency:        session.Currency,
	})
	if err != nil {
		return nil, err
	}
	s.cacheDelete(ctx, userID)
	if !won {
		return nil, nil
	}

	session.Status = models.SessionStatusEnded
	session.EndedBy = models.EndedByAuto
	session.AutoStopReason = reason
	if session.EndTime == nil {
		session.EndTime = &endedAt
	}

	s.publish(ctx, livefeed.EventSessionEnded, session)
	if s.notifier != nil {
		s.notifier.EndedBySystem(ctx, *session, reason)
	}
	return session, nil
}

// ModifyActiveEnd shifts the running session's end by deltaMinutes, clamped
// to the zone cap; shrinking below now collapses it to open-ended.
func (s *SessionsService) ModifyActiveEnd(ctx context.Context, userID int64, deltaMinutes int) (*models.Session, error) {
	session, err := s.sessions.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	capMinutes := models.DefaultMaxDurationMinutes
	if zone, zerr := s.zones.GetByCode(ctx, session.ZoneCode); zerr == nil {
		capMinutes = zone.MaxDuration()
	}

	now := s.clk.Now().UTC()
	newEnd := pricing.AdjustEnd(session.EndTime, deltaMinutes, now, capMinutes)
	ok, err := s.sessions.UpdateEndTime(ctx, session.ID, newEnd)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race against a termination; the caller observes the
		// terminal state through the live feed.
		return nil, nil
	}

	session.EndTime = newEnd
	s.cacheSave(ctx, session)
	s.publish(ctx, livefeed.EventSessionUpdated, session)
	return session, nil
}

// RestoreActive returns the user's authoritative active session for client
// bootstrap, or nil when none exists. Falls back to the redis cache when the
// durable store is transiently unavailable.
func (s *SessionsService) RestoreActive(ctx context.Context, userID int64) (*models.Session, error) {
	session, err := s.sessions.FindActiveByUser(ctx, userID)
	if err != nil {
		if cached := s.cacheGet(ctx, userID); cached != nil {
			s.logger.Warn("restore served from cache, store unavailable",
				zap.Int64("user_id", userID),
				zap.Error(err),
			)
			return cached, nil
		}
		return nil, err
	}
	if session == nil {
		s.cacheDelete(ctx, userID)
		return nil, nil
	}
	s.cacheSave(ctx, session)
	return session, nil
}

// HistoryForUser returns the user's latest sessions.
func (s *SessionsService) HistoryForUser(ctx context.Context, userID int64, limit int) ([]models.Session, error) {
	return s.sessions.ListByUser(ctx, userID, limit)
}

// TransactionsForUser returns the user's billing history.
func (s *SessionsService) TransactionsForUser(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	return s.transactions.ListByUser(ctx, userID, limit)
}

// ActiveSessions lists all running sessions for operators.
func (s *SessionsService) ActiveSessions(ctx context.Context) ([]models.Session, error) {
	return s.sessions.ListActive(ctx)
}

func (s *SessionsService) cacheSave(ctx context.Context, session *models.Session) {
	if s.cache == nil {
		return
	}
	err := s.cache.Save(ctx, redisstore.ActiveSession{
		SessionID: session.ID,
		UserID:    session.UserID,
		ZoneCode:  session.ZoneCode,
		PlateText: session.PlateText,
		StartTime: session.StartTime,
		EndTime:   session.EndTime,
	})
	if err != nil {
		s.logger.Warn("failed to cache active session", zap.Error(err))
	}
}

func (s *SessionsService) cacheGet(ctx context.Context, userID int64) *models.Session {
	if s.cache == nil {
		return nil
	}
	cached, err := s.cache.Get(ctx, userID)
	if err != nil || cached == nil {
		return nil
	}
	return &models.Session{
		ID:        cached.SessionID,
		UserID:    cached.UserID,
		ZoneCode:  cached.ZoneCode,
		PlateText: cached.PlateText,
		Status:    models.SessionStatusActive,
		StartTime: cached.StartTime,
		EndTime:   cached.EndTime,
	}
}

func (s *SessionsService) cacheDelete(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.Warn("failed to delete active session cache", zap.Error(err))
	}
}

func (s *SessionsService) publish(ctx context.Context, kind string, session *models.Session) {
	if s.feed == nil {
		return
	}
	s.feed.Publish(ctx, kind, *session)
}
