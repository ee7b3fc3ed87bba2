package client

import (
	"strings"

	"parkpilot/internal/models"
)

// ZoneOpenContext is the typed context carried from the zone-detail screen.
// Starting a session is only legal from this context; a zero value means no
// zone is selected.
type ZoneOpenContext struct {
	Zone models.Zone
	// RateSnapshot is the hourly rate shown to the driver at selection
	// time. Billing uses it even if the catalog reprices mid-flow.
	RateSnapshot float64
}

// Valid reports whether the context points at a real zone.
func (c ZoneOpenContext) Valid() bool {
	return c.Zone.Code != "" && c.Zone.Ref != ""
}

// Rate returns the snapshot rate, falling back to the zone's current rate.
func (c ZoneOpenContext) Rate() float64 {
	if c.RateSnapshot > 0 {
		return c.RateSnapshot
	}
	return c.Zone.HourlyRate
}

// PlateSelectContext is the typed context from the plate chooser overlay.
type PlateSelectContext struct {
	Plates   []string
	Selected string
}

// Chosen validates the selection against the offered plates and returns it.
func (c PlateSelectContext) Chosen() (string, bool) {
	plate := strings.TrimSpace(c.Selected)
	if plate == "" {
		return "", false
	}
	if len(c.Plates) == 0 {
		return plate, true
	}
	for _, p := range c.Plates {
		if p == plate {
			return plate, true
		}
	}
	return "", false
}
