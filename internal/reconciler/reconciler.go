package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"parkpilot/internal/livefeed"
	"parkpilot/internal/models"
	"parkpilot/internal/policy"
	"parkpilot/internal/pricing"
	"parkpilot/internal/repository"
)

// Defaults for schedule and expiring-soon lead time.
const (
	DefaultInterval    = time.Minute
	DefaultLeadMinutes = 10
)

// SessionStore is the slice of the session collection the job needs.
type SessionStore interface {
	ListActive(ctx context.Context) ([]models.Session, error)
	ClaimExpiringPush(ctx context.Context, sessionID int64) (bool, error)
	Terminate(ctx context.Context, in repository.TerminateInput) (bool, error)
}

// ZoneCatalog resolves zone caps for open-ended sessions.
type ZoneCatalog interface {
	GetByCode(ctx context.Context, code string) (*models.Zone, error)
}

// ProfileStore reads driver cutoffs and notification lead times.
type ProfileStore interface {
	Get(ctx context.Context, userID int64) (*models.Profile, error)
}

// Notifier emits the job's best-effort pushes.
type Notifier interface {
	ExpiringSoon(ctx context.Context, session models.Session, minutesLeft int)
	EndedBySystem(ctx context.Context, session models.Session, reason string)
}

// StoppedSession is one entry of a run summary.
type StoppedSession struct {
	SessionID int64  `json:"session_id"`
	UserID    int64  `json:"user_id"`
	ZoneCode  string `json:"zone_code"`
	Reason    string `json:"reason"`
}

// Summary reports one reconciliation pass.
type Summary struct {
	StoppedCount    int              `json:"stopped_count"`
	StoppedSessions []StoppedSession `json:"stopped_sessions"`
}

// Job is the authoritative periodic process that terminates sessions the
// client may never revisit. Stateless between runs: every decision derives
// from the store, so each pass is idempotent per record.
type Job struct {
	sessions    SessionStore
	zones       ZoneCatalog
	profiles    ProfileStore
	notifier    Notifier
	feed        *livefeed.Publisher
	clk         clock.Clock
	interval    time.Duration
	leadMinutes int
	logger      *zap.Logger
}

// New builds the job. Notifier and feed may be nil.
func New(
	sessions SessionStore,
	zones ZoneCatalog,
	profiles ProfileStore,
	notifier Notifier,
	feed *livefeed.Publisher,
	clk clock.Clock,
	interval time.Duration,
	leadMinutes int,
	logger *zap.Logger,
) *Job {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if leadMinutes <= 0 {
		leadMinutes = DefaultLeadMinutes
	}
	return &Job{
		sessions:    sessions,
		zones:       zones,
		profiles:    profiles,
		notifier:    notifier,
		feed:        feed,
		clk:         clk,
		interval:    interval,
		leadMinutes: leadMinutes,
		logger:      logger,
	}
}

// Run executes passes on the fixed schedule until ctx is done. A failed pass
// is logged and retried on the next interval.
func (j *Job) Run(ctx context.Context) {
	ticker := j.clk.Ticker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.Error("reconciliation pass finished with errors", zap.Error(err))
			}
		}
	}
}

// RunOnce performs one full pass over all active sessions. A single record's
// failure never aborts the rest; collected errors come back joined so the
// scheduler can alert.
func (j *Job) RunOnce(ctx context.Context) (Summary, error) {
	started := j.clk.Now()
	runsTotal.Inc()
	defer func() {
		runDuration.Observe(j.clk.Now().Sub(started).Seconds())
	}()

	sessions, err := j.sessions.ListActive(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("reconciler: list active: %w", err)
	}

	var (
		summary Summary
		errs    []error
	)
	for i := range sessions {
		sessionsScanned.Inc()
		stopped, err := j.process(ctx, &sessions[i])
		if err != nil {
			recordErrors.Inc()
			errs = append(errs, fmt.Errorf("session %d: %w", sessions[i].ID, err))
			j.logger.Error("failed to reconcile session",
				zap.Int64("session_id", sessions[i].ID),
				zap.Error(err),
			)
			continue
		}
		if stopped != nil {
			summary.StoppedCount++
			summary.StoppedSessions = append(summary.StoppedSessions, *stopped)
		}
	}
	return summary, errors.Join(errs...)
}

func (j *Job) process(ctx context.Context, session *models.Session) (*StoppedSession, error) {
	now := j.clk.Now().UTC()

	capMinutes := models.DefaultMaxDurationMinutes
	if zone, err := j.zones.GetByCode(ctx, session.ZoneCode); err == nil {
		capMinutes = zone.MaxDuration()
	}
	effectiveEnd := session.EffectiveEnd(capMinutes)

	profile, err := j.profiles.Get(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	var reason string
	if !now.Before(effectiveEnd) {
		if session.OpenEnded() {
			reason = models.AutoStopMaxTime
		} else {
			reason = models.AutoStopDurationExpired
		}
	} else if policy.PastDailyCutoff(profile.Driver, j.clk.Now()) {
		// Wall clock on purpose: the cutoff is a local time-of-day rule.
		reason = models.AutoStopAllowedTimeEnd
	}

	// Expiring-soon is independent of termination. The persisted flag is
	// claimed with a conditional write, so a second pass (or a second
	// concurrent invocation) can never send the push twice.
	if reason == "" && !session.ExpiringPushSent && effectiveEnd.After(now) {
		lead := time.Duration(profile.Notification.LeadMinutes(j.leadMinutes)) * time.Minute
		if effectiveEnd.Sub(now) <= lead {
			claimed, err := j.sessions.ClaimExpiringPush(ctx, session.ID)
			if err != nil {
				return nil, fmt.Errorf("claim expiring push: %w", err)
			}
			if claimed {
				expiringPushes.Inc()
				if j.notifier != nil {
					minutesLeft := int(effectiveEnd.Sub(now).Minutes())
					j.notifier.ExpiringSoon(ctx, *session, minutesLeft)
				}
			}
		}
	}

	if reason == "" {
		return nil, nil
	}
	return j.terminate(ctx, session, reason, effectiveEnd, now)
}

func (j *Job) terminate(ctx context.Context, session *models.Session, reason string, effectiveEnd, now time.Time) (*StoppedSession, error) {
	endedAt := effectiveEnd
	if now.Before(endedAt) {
		// Daily cutoff fires before the natural end; bill through now.
		endedAt = now
	}
	minutes := pricing.BillableMinutes(endedAt.Sub(session.StartTime))

	won, err := j.sessions.Terminate(ctx, repository.TerminateInput{
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
		return nil, fmt.Errorf("terminate: %w", err)
	}
	if !won {
		// The user (or a foregrounded client) ended it between the scan and
		// this write. Not an error and nothing to report.
		return nil, nil
	}

	sessionsStopped.WithLabelValues(reason).Inc()
	j.logger.Info("session auto-terminated",
		zap.Int64("session_id", session.ID),
		zap.Int64("user_id", session.UserID),
		zap.String("reason", reason),
	)

	session.Status = models.SessionStatusEnded
	session.EndedBy = models.EndedByAuto
	session.AutoStopReason = reason
	if session.EndTime == nil {
		session.EndTime = &endedAt
	}
	if j.feed != nil {
		j.feed.Publish(ctx, livefeed.EventSessionEnded, *session)
	}
	if j.notifier != nil {
		j.notifier.EndedBySystem(ctx, *session, reason)
	}

	return &StoppedSession{
		SessionID: session.ID,
		UserID:    session.UserID,
		ZoneCode:  session.ZoneCode,
		Reason:    reason,
	}, nil
}
