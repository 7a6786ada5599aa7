// Package telemetry persists the opt-in telemetry record and drives the
// collect-and-send cycle.
package telemetry

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Status is the kind of the last status update
type Status string

const (
	StatusNone    Status = ""
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Identity is the set of installation identifiers minted on first use
type Identity struct {
	DatabaseID string `json:"databaseId"`
	HardwareID string `json:"hardwareId"`
	OSID       string `json:"osId"`
	SoftwareID string `json:"softwareId"`
}

// NewIdentity generates four independent random identifiers
func NewIdentity() Identity {
	return Identity{
		DatabaseID: uuid.NewString(),
		HardwareID: uuid.NewString(),
		OSID:       uuid.NewString(),
		SoftwareID: uuid.NewString(),
	}
}

// Valid reports whether every identifier is a parseable UUID
func (i Identity) Valid() bool {
	for _, id := range []string{i.DatabaseID, i.HardwareID, i.OSID, i.SoftwareID} {
		if _, err := uuid.Parse(id); err != nil {
			return false
		}
	}
	return true
}

// Record is the single persisted telemetry settings and status row
type Record struct {
	Identity

	Consent       map[string]bool `json:"consent"`
	Active        bool            `json:"active"`
	OptinDate     *time.Time      `json:"optinDate,omitempty"`
	OptoutDate    *time.Time      `json:"optoutDate,omitempty"`
	SentTimestamp *time.Time      `json:"sentTimestamp,omitempty"`
	Info          string          `json:"info"`
	Status        Status          `json:"status"`
}

// ConsentedIDs returns the collector ids whose consent flag is true
func (r *Record) ConsentedIDs() []string {
	ids := make([]string, 0, len(r.Consent))
	for id, ok := range r.Consent {
		if ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func copyConsent(consent map[string]bool) map[string]bool {
	if consent == nil {
		return map[string]bool{}
	}
	return maps.Clone(consent)
}
