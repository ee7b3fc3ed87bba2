package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"parkpilot/internal/livefeed"
	"parkpilot/internal/models"
	"parkpilot/internal/service"
)

var testBase = time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC) // a Monday

type fakeAPI struct {
	mu        sync.Mutex
	base      time.Time
	startErr  error
	startGate chan struct{}
	starts    []service.StartSessionInput
	ends      int
	autoEnds  []string
	restored  *models.Session
	nextID    int64
}

func (f *fakeAPI) StartSession(ctx context.Context, in service.StartSessionInput) (*models.Session, error) {
	if f.startGate != nil {
		<-f.startGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.starts = append(f.starts, in)
	f.nextID++
	session := &models.Session{
		ID:        f.nextID,
		UserID:    in.UserID,
		TenantID:  models.DefaultTenant,
		ZoneCode:  in.ZoneCode,
		PlateText: in.PlateText,
		Status:    models.SessionStatusActive,
		StartTime: f.base,
		ClientRef: in.ClientRef,
	}
	if in.DurationMinutes > 0 {
		end := f.base.Add(time.Duration(in.DurationMinutes) * time.Minute)
		session.EndTime = &end
	}
	return session, nil
}

func (f *fakeAPI) EndSession(ctx context.Context, userID int64) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends++
	return nil, nil
}

func (f *fakeAPI) AutoEndActive(ctx context.Context, userID int64, reason string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoEnds = append(f.autoEnds, reason)
	return nil, nil
}

func (f *fakeAPI) ModifyActiveEnd(ctx context.Context, userID int64, deltaMinutes int) (*models.Session, error) {
	return nil, nil
}

func (f *fakeAPI) RestoreActive(ctx context.Context, userID int64) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restored, nil
}

func (f *fakeAPI) autoEndReasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.autoEnds))
	copy(out, f.autoEnds)
	return out
}

func (f *fakeAPI) startCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func (f *fakeAPI) endCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ends
}

type fakeAlerts struct {
	mu    sync.Mutex
	kinds []string
}

func (f *fakeAlerts) Alert(kind, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
}

func (f *fakeAlerts) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range f.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

func testZone(maxMinutes int) ZoneOpenContext {
	return ZoneOpenContext{
		Zone: models.Zone{
			Ref:                "zone-ref-1",
			Code:               "Z101",
			HourlyRate:         2.5,
			Currency:           "EUR",
			MaxDurationMinutes: maxMinutes,
		},
		RateSnapshot: 2.5,
	}
}

func testPlate() PlateSelectContext {
	return PlateSelectContext{Plates: []string{"AB-123-CD"}, Selected: "AB-123-CD"}
}

func newTestEngine(t *testing.T, api *fakeAPI, driver models.DriverSettings) (*Engine, *clock.Mock, *fakeAlerts) {
	t.Helper()
	if api.base.IsZero() {
		api.base = testBase
	}
	mock := clock.NewMock()
	mock.Set(testBase)
	alerts := &fakeAlerts{}
	engine := NewEngine(api, 42, driver, alerts, mock, zap.NewNop())
	return engine, mock, alerts
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition never met: %s", msg)
}

func waitConfirmed(t *testing.T, engine *Engine) {
	t.Helper()
	eventually(t, func() bool {
		current := engine.Current()
		return current != nil && current.ID != 0
	}, "store write confirmed")
}

func TestStartOpenEndedCountsUp(t *testing.T) {
	api := &fakeAPI{}
	engine, mock, _ := newTestEngine(t, api, models.DriverSettings{})

	require.NoError(t, engine.StartSession(context.Background(), testZone(0), testPlate(), 0))
	require.True(t, engine.Active())

	display := engine.CurrentDisplayValue()
	assert.Equal(t, ModeCountUp, display.Mode)
	assert.Equal(t, "0:00:00", display.Text)

	waitConfirmed(t, engine)
	mock.Add(90 * time.Second)

	display = engine.CurrentDisplayValue()
	assert.Equal(t, ModeCountUp, display.Mode)
	assert.Equal(t, "0:01:30", display.Text)
}

func TestStartFixedEndCountsDown(t *testing.T) {
	api := &fakeAPI{}
	engine, _, _ := newTestEngine(t, api, models.DriverSettings{})

	require.NoError(t, engine.StartSession(context.Background(), testZone(0), testPlate(), 120))

	display := engine.CurrentDisplayValue()
	assert.Equal(t, ModeCountDown, display.Mode)
	assert.Equal(t, "2:00:00", display.Text)
	assert.Equal(t, ColorOK, display.ColorHint)
}

func TestStartRejectedWhenAlreadyActive(t *testing.T) {
	api := &fakeAPI{}
	engine, _, _ := newTestEngine(t, api, models.DriverSettings{})

	require.NoError(t, engine.StartSession(context.Background(), testZone(0), testPlate(), 0))

	err := engine.StartSession(context.Background(), testZone(0), testPlate(), 30)
	var rej *models.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, models.RejectSessionAlreadyActive, rej.Reason)
}

func TestStartRejectedWithoutZoneContext(t *testing.T) {
	api := &fakeAPI{}
	engine, _, _ := newTestEngine(t, api, models.DriverSettings{})

	err := engine.StartSession(context.Background(), ZoneOpenContext{}, testPlate(), 0)
	var rej *models.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, models.RejectNoZoneSelected, rej.Reason)
	assert.False(t, engine.Active())
}

func TestStartRejectedPastDailyCutoff(t *testing.T) {
	api := &fakeAPI{}
	engine, mock, _ := newTestEngine(t, api, models.DriverSettings{AllowedTimeEnd: "18:00"})
	mock.Set(testBase.Add(6*time.Hour + 5*time.Minute)) // 18:05

	err := engine.StartSession(context.Background(), testZone(0), testPlate(), 60)
	var rej *models.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, models.RejectOutsideAllowedTime, rej.Reason)
	assert.False(t, engine.Active())
	assert.Zero(t, api.startCalls(), "no record created")
}

func TestStartRollsBackOnDefinitiveFailure(t *testing.T) {
	api := &fakeAPI{startErr: errors.New("store down")}
	engine, _, alerts := newTestEngine(t, api, models.DriverSettings{})

	require.NoError(t, engine.StartSession(context.Background(), testZone(0), testPlate(), 0))

	eventually(t, func() bool { return alerts.count("session_rejected") == 1 }, "rejection alert raised")
	assert.False(t, engine.Active(), "optimistic state rolled back")
}

func TestStartAttachesStoreAssignedID(t *testing.T) {
	api := &fakeAPI{}
	engine, _, _ := newTestEngine(t, api, models.DriverSettings{})

	require.NoError(t, engine.StartSession(context.Background(), testZone(0), testPlate(), 0))

	current := engine.Current()
	require.NotNil(t, current)
	assert.Zero(t, current.ID, "local session starts unconfirmed")
	assert.NotEmpty(t, current.ClientRef)

	waitConfirmed(t, engine)
	assert.Equal(t, current.ClientRef, engine.Current().ClientRef)
}

func TestEndSessionWithoutActiveIsNoop(t *testing.T) {
	api := &fakeAPI{}
	engine, _, _ := newTestEngine(t, api, models.DriverSettings{})

	engine.EndSession(context.Background())
	assert.Zero(t, api.endCalls(), "no write without an active session")
}

func TestEndSessionClearsLocallyBeforeWriteConfirms(t *testing.T) {
	api := &fakeAPI{}
	engine, _, _ := newTestEngine(t, api, models.DriverSettings{})

	require.NoError(t, engine.StartSession(context.Background(), testZone(0), testPlate(), 0))
	engine.EndSession(context.Background())

	assert.False(t, engine.Active(), "local state clears immediately")
	eventually(t, func() bool { return api.endCalls() == 1 }, "end write issued")
}

func TestModifyFirstStepFromOpenEnded(t *testing.T) {
	api := &fakeAPI{}
	engine, mock, _ := newTestEngine(t, api, models.DriverSettings{})

	require.NoError(t, engine.StartSession(context.Background(), testZone(0), testPlate(), 0))
	waitConfirmed(t, engine)

	engine.ModifyActiveEnd(context.Background(), 30)

	current := engine.Current()
	require.NotNil(t, current)
	require.NotNil(t, current.EndTime, "first step switches to fixed end")
	assert.Equal(t, mock.Now().UTC().Add(15*time.Minute), *current.EndTime)
	assert.Equal(t, ModeCountDown, engine.CurrentDisplayValue().Mode)
}

func TestModifyCollapsesToOpenEndedInsteadOfPast(t *testing.T) {
	api := &fakeAPI{}
	engine, _, _ := newTestEngine(t, api, models.DriverSettings{})

	require.NoError(t, engine.StartSession(context.Background(), testZone(0), testPlate(), 20))
	waitConfirmed(t, engine)

	engine.ModifyActiveEnd(context.Background(), -30)

	current := engine.Current()
	require.NotNil(t, current)
	assert.Nil(t, current.EndTime, "never produces an end in the past")
	assert.Equal(t, ModeCountUp, engine.CurrentDisplayValue().Mode)
}

func TestModifyWhileStartInFlightSurvivesConfirmation(t *testing.T) {
	api := &fakeAPI{startGate: make(chan struct{})}
	engine, mock, _ := newTestEngine(t, api, models.DriverSettings{})

	require.NoError(t, engine.StartSession(context.Background(), testZone(0), testPlate(), 0))
	engine.ModifyActiveEnd(context.Background(), 30)

	close(api.startGate)
	waitConfirmed(t, engine)

	current := engine.Current()
	require.NotNil(t, current)
	require.NotNil(t, current.EndTime, "in-flight adjustment is not reverted by the attach")
	assert.Equal(t, mock.Now().UTC().Add(15*time.Minute), *current.EndTime)
}

func TestModifyClampedToZoneCap(t *testing.T) {
	api := &fakeAPI{}
	engine, mock, _ := newTestEngine(t, api, models.DriverSettings{})

	require.NoError(t, engine.StartSession(context.Background(), testZone(180), testPlate(), 170))
	waitConfirmed(t, engine)

	engine.ModifyActiveEnd(context.Background(), 30)

	current := engine.Current()
	require.NotNil(t, current)
	require.NotNil(t, current.EndTime)
	assert.Equal(t, mock.Now().UTC().Add(180*time.Minute), *current.EndTime)
}

func TestOpenEndedHitsMaxTimeCeiling(t *testing.T) {
	start := testBase.Add(-(1441 * time.Minute))
	api := &fakeAPI{restored: &models.Session{
		ID:        7,
		UserID:    42,
		ZoneCode:  "Z101",
		PlateText: "AB-123-CD",
		Status:    models.SessionStatusActive,
		StartTime: start,
	}}
	engine, mock, alerts := newTestEngine(t, api, models.DriverSettings{})

	require.NoError(t, engine.Restore(context.Background()))
	require.True(t, engine.Active())

	mock.Add(time.Second)

	eventually(t, func() bool { return !engine.Active() }, "ceiling ends the session")
	eventually(t, func() bool {
		reasons := api.autoEndReasons()
		return len(reasons) == 1 && reasons[0] == models.AutoStopMaxTime
	}, "auto-end written with max-time reason")
	assert.Equal(t, 1, alerts.count("ended_by_system"))
}

func TestCountdownReachingZeroEndsLocally(t *testing.T) {
	end := testBase.Add(2 * time.Second)
	api := &fakeAPI{restored: &models.Session{
		ID:        8,
		UserID:    42,
		ZoneCode:  "Z101",
		PlateText: "AB-123-CD",
		Status:    models.SessionStatusActive,
		StartTime: testBase.Add(-30 * time.Minute),
		EndTime:   &end,
	}}
	engine, mock, _ := newTestEngine(t, api, models.DriverSettings{})

	require.NoError(t, engine.Restore(context.Background()))

	mock.Add(3 * time.Second)

	eventually(t, func() bool { return !engine.Active() }, "expired session ends")
	eventually(t, func() bool {
		reasons := api.autoEndReasons()
		return len(reasons) == 1 && reasons[0] == models.AutoStopDurationExpired
	}, "auto-end written with expiry reason")
}

func TestExpiringSoonRaisedExactlyOnce(t *testing.T) {
	end := testBase.Add(9 * time.Minute)
	api := &fakeAPI{restored: &models.Session{
		ID:        9,
		UserID:    42,
		ZoneCode:  "Z101",
		PlateText: "AB-123-CD",
		Status:    models.SessionStatusActive,
		StartTime: testBase.Add(-6 * time.Minute),
		EndTime:   &end,
	}}
	engine, mock, alerts := newTestEngine(t, api, models.DriverSettings{})

	require.NoError(t, engine.Restore(context.Background()))

	// Already inside the warning window; every tick sees remaining <= lead.
	mock.Add(time.Second)
	eventually(t, func() bool { return alerts.count("expiring_soon") == 1 }, "warning raised")

	mock.Add(5 * time.Second)
	assert.Equal(t, 1, alerts.count("expiring_soon"), "warning raised once per session")
	assert.Equal(t, ColorExpiring, engine.CurrentDisplayValue().ColorHint)
}

func TestRestoreAdoptsFixedEnd(t *testing.T) {
	end := testBase.Add(time.Hour)
	api := &fakeAPI{restored: &models.Session{
		ID:        7,
		UserID:    42,
		ZoneCode:  "Z101",
		PlateText: "AB-123-CD",
		Status:    models.SessionStatusActive,
		StartTime: testBase.Add(-time.Hour),
		EndTime:   &end,
	}}
	engine, _, _ := newTestEngine(t, api, models.DriverSettings{})

	require.NoError(t, engine.Restore(context.Background()))
	require.True(t, engine.Active())
	assert.Equal(t, ModeCountDown, engine.CurrentDisplayValue().Mode)
}

func TestRestoreAdoptsOpenEnded(t *testing.T) {
	api := &fakeAPI{restored: &models.Session{
		ID:        7,
		UserID:    42,
		ZoneCode:  "Z101",
		Status:    models.SessionStatusActive,
		StartTime: testBase.Add(-30 * time.Minute),
	}}
	engine, _, _ := newTestEngine(t, api, models.DriverSettings{})

	require.NoError(t, engine.Restore(context.Background()))
	require.True(t, engine.Active())

	display := engine.CurrentDisplayValue()
	assert.Equal(t, ModeCountUp, display.Mode)
	assert.Equal(t, "0:30:00", display.Text)
}

func TestRestoreWithNoRecordStaysIdle(t *testing.T) {
	api := &fakeAPI{}
	engine, _, _ := newTestEngine(t, api, models.DriverSettings{})

	require.NoError(t, engine.Restore(context.Background()))
	assert.False(t, engine.Active())
	assert.Zero(t, api.startCalls(), "restore never creates a session")
}

func TestRemoteEndedEventClearsLocalState(t *testing.T) {
	api := &fakeAPI{}
	engine, _, alerts := newTestEngine(t, api, models.DriverSettings{})

	require.NoError(t, engine.StartSession(context.Background(), testZone(0), testPlate(), 0))
	waitConfirmed(t, engine)

	ended := *engine.Current()
	ended.Status = models.SessionStatusEnded
	ended.EndedBy = models.EndedByAuto
	ended.AutoStopReason = models.AutoStopAllowedTimeEnd
	engine.ApplyRemoteEvent(livefeed.Event{Kind: livefeed.EventSessionEnded, Session: ended})

	assert.False(t, engine.Active())
	assert.Equal(t, 1, alerts.count("ended_by_system"))
}

func TestRemoteEventForOtherSessionIgnored(t *testing.T) {
	api := &fakeAPI{}
	engine, _, _ := newTestEngine(t, api, models.DriverSettings{})

	require.NoError(t, engine.StartSession(context.Background(), testZone(0), testPlate(), 0))
	engine.ApplyRemoteEvent(livefeed.Event{
		Kind:    livefeed.EventSessionEnded,
		Session: models.Session{ID: 999, ClientRef: "other"},
	})

	assert.True(t, engine.Active())
}

func TestRemoteUpdatedEventSyncsEndTime(t *testing.T) {
	api := &fakeAPI{}
	engine, _, _ := newTestEngine(t, api, models.DriverSettings{})

	require.NoError(t, engine.StartSession(context.Background(), testZone(0), testPlate(), 0))
	waitConfirmed(t, engine)

	updated := *engine.Current()
	end := testBase.Add(45 * time.Minute)
	updated.EndTime = &end
	engine.ApplyRemoteEvent(livefeed.Event{Kind: livefeed.EventSessionUpdated, Session: updated})

	current := engine.Current()
	require.NotNil(t, current)
	require.NotNil(t, current.EndTime)
	assert.Equal(t, end, *current.EndTime)
}

func TestObserversSeeStateChanges(t *testing.T) {
	api := &fakeAPI{}
	engine, _, _ := newTestEngine(t, api, models.DriverSettings{})

	states := make(chan State, 64)
	engine.Subscribe(func(s State) { states <- s })

	require.NoError(t, engine.StartSession(context.Background(), testZone(0), testPlate(), 0))

	select {
	case s := <-states:
		assert.True(t, s.Active)
		assert.True(t, s.Pending)
	case <-time.After(time.Second):
		t.Fatal("no state published")
	}
}
