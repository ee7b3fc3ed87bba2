package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"parkpilot/internal/models"
)

// Notification kinds, matching the per-user preference booleans.
const (
	KindSessionStarted     = "session_started"
	KindSessionEndedByUser = "session_ended_by_user"
	KindExpiringSoon       = "expiring_soon"
	KindEndedBySystem      = "ended_by_system"
)

// ErrInvalidToken marks a push target the delivery service rejected as
// disabled or malformed. The stored token is pruned on this error only.
var ErrInvalidToken = errors.New("push token invalid")

// PushSender delivers one message to a device token. Implementations are
// fire-and-forget from the dispatcher's point of view.
type PushSender interface {
	Send(ctx context.Context, token, title, body string) error
}

type profileStore interface {
	Get(ctx context.Context, userID int64) (*models.Profile, error)
	ClearPushToken(ctx context.Context, userID int64, token string) error
}

// Dispatcher gates notifications on per-user per-kind preferences and sends
// them best-effort: a failed push never fails the triggering write.
type Dispatcher struct {
	profiles profileStore
	sender   PushSender
	logger   *zap.Logger
}

// NewDispatcher builds dispatcher.
func NewDispatcher(profiles profileStore, sender PushSender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		profiles: profiles,
		sender:   sender,
		logger:   logger,
	}
}

// SessionStarted announces a freshly started session.
func (d *Dispatcher) SessionStarted(ctx context.Context, session models.Session) {
	d.send(ctx, session.UserID, KindSessionStarted,
		"Parking started",
		fmt.Sprintf("Zone %s, plate %s", session.ZoneCode, session.PlateText),
	)
}

// SessionEndedByUser confirms an explicit stop.
func (d *Dispatcher) SessionEndedByUser(ctx context.Context, session models.Session) {
	d.send(ctx, session.UserID, KindSessionEndedByUser,
		"Parking ended",
		fmt.Sprintf("Zone %s, plate %s", session.ZoneCode, session.PlateText),
	)
}

// ExpiringSoon warns before a fixed end. The once-per-session guarantee
// lives in the persisted claim flag, not here.
func (d *Dispatcher) ExpiringSoon(ctx context.Context, session models.Session, minutesLeft int) {
	d.send(ctx, session.UserID, KindExpiringSoon,
		"Parking expiring soon",
		fmt.Sprintf("Zone %s ends in about %d minutes", session.ZoneCode, minutesLeft),
	)
}

// EndedBySystem reports an automatic termination.
func (d *Dispatcher) EndedBySystem(ctx context.Context, session models.Session, reason string) {
	d.send(ctx, session.UserID, KindEndedBySystem,
		"Parking ended automatically",
		fmt.Sprintf("Zone %s, plate %s (%s)", session.ZoneCode, session.PlateText, reason),
	)
}

func (d *Dispatcher) send(ctx context.Context, userID int64, kind, title, body string) {
	profile, err := d.profiles.Get(ctx, userID)
	if err != nil {
		d.logger.Warn("failed to load profile for notification",
			zap.Int64("user_id", userID),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return
	}
	if !enabled(profile.Notification, kind) || profile.PushToken == "" {
		return
	}

	if err := d.sender.Send(ctx, profile.PushToken, title, body); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			if clearErr := d.profiles.ClearPushToken(ctx, userID, profile.PushToken); clearErr != nil {
				d.logger.Warn("failed to clear stale push token",
					zap.Int64("user_id", userID),
					zap.Error(clearErr),
				)
			}
			return
		}
		d.logger.Warn("push delivery failed",
			zap.Int64("user_id", userID),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}

func enabled(settings models.NotificationSettings, kind string) bool {
	switch kind {
	case KindSessionStarted:
		return settings.SessionStarted
	case KindSessionEndedByUser:
		return settings.SessionEndedByUser
	case KindExpiringSoon:
		return settings.ExpiringSoon
	case KindEndedBySystem:
		return settings.EndedBySystem
	default:
		return false
	}
}
