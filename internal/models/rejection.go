package models

// RejectionReason explains why a session start was refused. Policy reasons
// are surfaced to the driver; precondition reasons are logged and swallowed.
type RejectionReason string

const (
	RejectSessionAlreadyActive RejectionReason = "session_already_active"
	RejectNoZoneSelected       RejectionReason = "no_zone_selected"
	RejectOutsideAllowedDays   RejectionReason = "outside_allowed_days"
	RejectOutsideAllowedTime   RejectionReason = "outside_allowed_time"
)

var rejectionMessages = map[RejectionReason]string{
	RejectSessionAlreadyActive: "a parking session is already running",
	RejectNoZoneSelected:       "select a zone before starting",
	RejectOutsideAllowedDays:   "parking is not allowed on this weekday",
	RejectOutsideAllowedTime:   "parking is not allowed at this time of day",
}

// Message returns the human-readable reason shown to the driver.
func (r RejectionReason) Message() string {
	if msg, ok := rejectionMessages[r]; ok {
		return msg
	}
	return string(r)
}

// RejectionError carries a RejectionReason through an error return.
type RejectionError struct {
	Reason RejectionReason
}

func (e *RejectionError) Error() string {
	return e.Reason.Message()
}

// Rejected wraps a reason into an error.
func Rejected(reason RejectionReason) error {
	return &RejectionError{Reason: reason}
}
