package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func timePtr(v time.Time) *time.Time { return &v }

// validEvent returns a minimal event that passes every check.
func validEvent() *ExposureEvent {
	ts := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return &ExposureEvent{
		SchemaVersion: "1.0.0",
		Timestamp:     ts,
		Event: Event{
			ID:       "0195f3a0-0000-7000-8000-000000000001",
			Kind:     KindEvent,
			Action:   ActionOpened,
			Severity: 70,
		},
		Office:  Office{ID: "office-1", Name: "Office-office-1"},
		Scanner: Scanner{ID: "scanner-1", Type: "nmap"},
		Target:  Target{Asset: Asset{ID: "10.0.0.5", IP: []string{"10.0.0.5"}}},
		Exposure: Exposure{
			ID:     strings.Repeat("ab", 16),
			Class:  ClassRemoteAdminExposed,
			Status: StatusOpen,
			Vector: Vector{
				Transport: TransportTCP,
				Protocol:  "ssh",
				Dst:       &Destination{IP: "10.0.0.5", Port: intPtr(22)},
			},
			FirstSeen: timePtr(ts),
			LastSeen:  timePtr(ts),
		},
	}
}

func TestValidateAcceptsWellFormedEvent(t *testing.T) {
	require.NoError(t, validEvent().Validate())
}

func TestValidateReportsAllViolations(t *testing.T) {
	ev := validEvent()
	ev.SchemaVersion = ""
	ev.Event.Severity = 150
	ev.Exposure.Class = "totally_made_up"
	ev.Exposure.Vector.Protocol = ""

	err := ev.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	fields := make([]string, 0, len(verr.Violations))
	for _, v := range verr.Violations {
		fields = append(fields, v.Field)
	}
	assert.Contains(t, fields, "schema_version")
	assert.Contains(t, fields, "event.severity")
	assert.Contains(t, fields, "exposure.class")
	assert.Contains(t, fields, "exposure.vector.protocol")
	assert.GreaterOrEqual(t, len(verr.Violations), 4)
}

func TestValidateStatusActionAlignment(t *testing.T) {
	ev := validEvent()
	ev.Exposure.Status = StatusResolved
	assert.Error(t, ev.Validate(), "resolved status with opened action must fail")

	ev.Event.Action = ActionResolved
	assert.NoError(t, ev.Validate())

	ev = validEvent()
	ev.Exposure.Status = StatusSuppressed
	assert.Error(t, ev.Validate())
	ev.Event.Action = ActionSuppressed
	assert.NoError(t, ev.Validate())
}

func TestValidatePortRequiredForPortBasedClasses(t *testing.T) {
	ev := validEvent()
	ev.Exposure.Vector.Dst = nil
	assert.Error(t, ev.Validate(), "remote_admin_exposed over tcp needs a port")

	// mdns advertisements are not port-based.
	ev = validEvent()
	ev.Exposure.Class = ClassServiceAdvertisedMDNS
	ev.Exposure.Vector.Transport = TransportUDP
	ev.Exposure.Vector.Dst = nil
	assert.NoError(t, ev.Validate())

	// icmp carries no port by definition.
	ev = validEvent()
	ev.Exposure.Vector.Transport = TransportICMP
	ev.Exposure.Vector.Dst = nil
	assert.NoError(t, ev.Validate())
}

func TestValidateSeenOrdering(t *testing.T) {
	ev := validEvent()
	earlier := ev.Timestamp.Add(-time.Hour)
	ev.Exposure.LastSeen = timePtr(earlier)
	assert.Error(t, ev.Validate())
}

func TestValidateNumericBounds(t *testing.T) {
	ev := validEvent()
	ev.Event.RiskScore = floatPtr(101)
	assert.Error(t, ev.Validate())

	ev = validEvent()
	ev.Exposure.Confidence = floatPtr(1.5)
	assert.Error(t, ev.Validate())

	ev = validEvent()
	ev.Exposure.Vector.Dst.Port = intPtr(70000)
	assert.Error(t, ev.Validate())

	ev = validEvent()
	ev.Event.RiskScore = floatPtr(100)
	ev.Exposure.Confidence = floatPtr(1)
	assert.NoError(t, ev.Validate(), "boundary values are inclusive")
}

func TestDecodeStrictRejectsUnknownFields(t *testing.T) {
	raw, err := json.Marshal(validEvent())
	require.NoError(t, err)

	ev, err := DecodeStrict(strings.NewReader(string(raw)))
	require.NoError(t, err)
	assert.Equal(t, "office-1", ev.Office.ID)

	tampered := strings.Replace(string(raw), `"schema_version"`, `"surprise":true,"schema_version"`, 1)
	_, err = DecodeStrict(strings.NewReader(tampered))
	assert.Error(t, err)
}

func TestDecodeStrictRunsValidation(t *testing.T) {
	ev := validEvent()
	ev.Event.Severity = -5
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	_, err = DecodeStrict(strings.NewReader(string(raw)))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestSanitizeTruncatesFreeText(t *testing.T) {
	ev := validEvent()
	ev.Event.Reason = strings.Repeat("r", 2000)
	ev.Exposure.Resource = &Resource{Type: ResourceHTTPPath, Identifier: strings.Repeat("i", 800)}

	out := ev.Sanitize()
	assert.Len(t, out.Event.Reason, maxReasonLen+3)
	assert.Len(t, out.Exposure.Resource.Identifier, maxIdentifierLen+3)

	// Original stays untouched.
	assert.Len(t, ev.Event.Reason, 2000)
	assert.Len(t, ev.Exposure.Resource.Identifier, 800)
}
