package models

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Violation is one failed validation rule on one field.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports every violated rule, not just the first one, so a
// quarantine record carries the full diagnostic picture in one shot.
type ValidationError struct {
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Field + ": " + v.Message
	}
	return fmt.Sprintf("invalid exposure event (%d violations): %s",
		len(e.Violations), strings.Join(parts, "; "))
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Violations = append(e.Violations, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
}

var validKinds = map[EventKind]bool{KindAlert: true, KindState: true, KindEvent: true}

var validActions = map[EventAction]bool{
	ActionOpened: true, ActionObserved: true, ActionResolved: true, ActionSuppressed: true,
}

var validClasses = map[ExposureClass]bool{
	ClassHTTPContentLeak: true, ClassVCSProtocolExposed: true, ClassFileshareExposed: true,
	ClassRemoteAdminExposed: true, ClassDBExposed: true, ClassContainerAPIExposed: true,
	ClassDebugPortExposed: true, ClassServiceAdvertisedMDNS: true,
	ClassEgressTunnelIndicator: true, ClassUnknownServiceExposed: true,
}

var validStatuses = map[ExposureStatus]bool{
	StatusOpen: true, StatusObserved: true, StatusResolved: true, StatusSuppressed: true,
}

var validTransports = map[Transport]bool{
	TransportTCP: true, TransportUDP: true, TransportICMP: true, TransportOther: true,
}

var validDirections = map[NetworkDirection]bool{
	DirectionInternal: true, DirectionInbound: true, DirectionOutbound: true, DirectionUnknown: true,
}

var validAuths = map[ServiceAuth]bool{AuthUnknown: true, AuthRequired: true, AuthNotRequired: true}

var validBindScopes = map[ServiceBindScope]bool{
	BindLoopbackOnly: true, BindLocalSubnet: true, BindAny: true, BindUnknown: true,
}

var validResourceTypes = map[ResourceType]bool{
	ResourceHTTPPath: true, ResourceSMBShare: true, ResourceNFSExport: true, ResourceRepo: true,
	ResourceAPIEndpoint: true, ResourceMDNSService: true, ResourceDomain: true,
}

var validDataClasses = map[DataClassification]bool{
	DataSourceCode: true, DataSecrets: true, DataPII: true, DataCredentials: true,
	DataInternalOnly: true, DataUnknown: true,
}

// portRequiredClasses are port-based: an event in one of these classes over
// tcp/udp must carry a destination port.
var portRequiredClasses = map[ExposureClass]bool{
	ClassFileshareExposed: true, ClassRemoteAdminExposed: true, ClassDBExposed: true,
	ClassContainerAPIExposed: true, ClassDebugPortExposed: true,
	ClassUnknownServiceExposed: true, ClassHTTPContentLeak: true, ClassVCSProtocolExposed: true,
}

// Validate runs every field-level check and then the cross-field rules, and
// returns a *ValidationError listing all violations, or nil when the event is
// fully valid. It never mutates the event.
func (e *ExposureEvent) Validate() error {
	verr := &ValidationError{}

	// Per-field checks.
	if e.SchemaVersion == "" {
		verr.add("schema_version", "required")
	}
	if e.Timestamp.IsZero() {
		verr.add("@timestamp", "required")
	}

	if e.Event.ID == "" {
		verr.add("event.id", "required")
	}
	if !validKinds[e.Event.Kind] {
		verr.add("event.kind", "unknown value %q", e.Event.Kind)
	}
	if !validActions[e.Event.Action] {
		verr.add("event.action", "unknown value %q", e.Event.Action)
	}
	if e.Event.Severity < 0 || e.Event.Severity > 100 {
		verr.add("event.severity", "must be in [0,100], got %d", e.Event.Severity)
	}
	if rs := e.Event.RiskScore; rs != nil && (*rs < 0 || *rs > 100) {
		verr.add("event.risk_score", "must be in [0,100], got %g", *rs)
	}

	if e.Office.ID == "" {
		verr.add("office.id", "required")
	}
	if e.Office.Name == "" {
		verr.add("office.name", "required")
	}
	if e.Scanner.ID == "" {
		verr.add("scanner.id", "required")
	}
	if e.Scanner.Type == "" {
		verr.add("scanner.type", "required")
	}
	if e.Target.Asset.ID == "" {
		verr.add("target.asset.id", "required")
	}

	exp := &e.Exposure
	if exp.ID == "" {
		verr.add("exposure.id", "required")
	}
	if !validClasses[exp.Class] {
		verr.add("exposure.class", "unknown value %q", exp.Class)
	}
	if !validStatuses[exp.Status] {
		verr.add("exposure.status", "unknown value %q", exp.Status)
	}
	if c := exp.Confidence; c != nil && (*c < 0 || *c > 1) {
		verr.add("exposure.confidence", "must be in [0,1], got %g", *c)
	}

	vec := &exp.Vector
	if !validTransports[vec.Transport] {
		verr.add("exposure.vector.transport", "unknown value %q", vec.Transport)
	}
	if vec.Protocol == "" {
		verr.add("exposure.vector.protocol", "required")
	}
	if vec.NetworkDirection != "" && !validDirections[vec.NetworkDirection] {
		verr.add("exposure.vector.network_direction", "unknown value %q", vec.NetworkDirection)
	}
	if vec.Dst != nil && vec.Dst.Port != nil {
		if p := *vec.Dst.Port; p < 0 || p > 65535 {
			verr.add("exposure.vector.dst.port", "must be in [0,65535], got %d", p)
		}
	}

	if svc := exp.Service; svc != nil {
		if svc.Auth != "" && !validAuths[svc.Auth] {
			verr.add("exposure.service.auth", "unknown value %q", svc.Auth)
		}
		if svc.BindScope != "" && !validBindScopes[svc.BindScope] {
			verr.add("exposure.service.bind_scope", "unknown value %q", svc.BindScope)
		}
	}
	if res := exp.Resource; res != nil {
		if res.Type != "" && !validResourceTypes[res.Type] {
			verr.add("exposure.resource.type", "unknown value %q", res.Type)
		}
	}
	for i, dc := range exp.DataClass {
		if !validDataClasses[dc] {
			verr.add(fmt.Sprintf("exposure.data_class[%d]", i), "unknown value %q", dc)
		}
	}

	// Cross-field rules run regardless of per-field outcomes so the error
	// report is complete in one pass.
	if exp.Status == StatusResolved && e.Event.Action != ActionResolved {
		verr.add("exposure.status", "status=resolved requires event.action=%s, got %q", ActionResolved, e.Event.Action)
	}
	if exp.Status == StatusSuppressed && e.Event.Action != ActionSuppressed {
		verr.add("exposure.status", "status=suppressed requires event.action=%s, got %q", ActionSuppressed, e.Event.Action)
	}

	if (vec.Transport == TransportTCP || vec.Transport == TransportUDP) && portRequiredClasses[exp.Class] {
		if vec.Dst == nil || vec.Dst.Port == nil {
			verr.add("exposure.vector.dst.port", "port required for %s with class %s", vec.Transport, exp.Class)
		}
	}

	if exp.FirstSeen != nil && exp.LastSeen != nil && exp.LastSeen.Before(*exp.FirstSeen) {
		verr.add("exposure.last_seen", "must be >= first_seen")
	}

	if len(verr.Violations) == 0 {
		return nil
	}
	return verr
}

// DecodeStrict decodes a canonical event from JSON with a closed-world
// schema: unknown fields are rejected, then the full validation set runs.
// This is the guard against silent metric drift across scanner versions.
func DecodeStrict(r io.Reader) (*ExposureEvent, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var ev ExposureEvent
	if err := dec.Decode(&ev); err != nil {
		return nil, fmt.Errorf("decode exposure event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}
