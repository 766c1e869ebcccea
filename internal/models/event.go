package models

import (
	"time"
)

// Closed enum values. Adding a class means extending the constant set and the
// classification tables together; ad-hoc widening via raw strings is rejected
// by validation. Use Exposure.Subclass for finer-grained labels.

// EventKind describes what kind of record an event is.
type EventKind string

const (
	KindAlert EventKind = "alert"
	KindState EventKind = "state"
	KindEvent EventKind = "event"
)

// EventAction is the lifecycle action the observation represents.
type EventAction string

const (
	ActionOpened     EventAction = "exposure_opened"
	ActionObserved   EventAction = "exposure_observed"
	ActionResolved   EventAction = "exposure_resolved"
	ActionSuppressed EventAction = "exposure_suppressed"
)

// ExposureClass is the closed classification of an exposure.
type ExposureClass string

const (
	ClassHTTPContentLeak       ExposureClass = "http_content_leak"
	ClassVCSProtocolExposed    ExposureClass = "vcs_protocol_exposed"
	ClassFileshareExposed      ExposureClass = "fileshare_exposed"
	ClassRemoteAdminExposed    ExposureClass = "remote_admin_exposed"
	ClassDBExposed             ExposureClass = "db_exposed"
	ClassContainerAPIExposed   ExposureClass = "container_api_exposed"
	ClassDebugPortExposed      ExposureClass = "debug_port_exposed"
	ClassServiceAdvertisedMDNS ExposureClass = "service_advertised_mdns"
	ClassEgressTunnelIndicator ExposureClass = "egress_tunnel_indicator"
	ClassUnknownServiceExposed ExposureClass = "unknown_service_exposed"
)

// ExposureStatus is the lifecycle state of an exposure.
type ExposureStatus string

const (
	StatusOpen       ExposureStatus = "open"
	StatusObserved   ExposureStatus = "observed"
	StatusResolved   ExposureStatus = "resolved"
	StatusSuppressed ExposureStatus = "suppressed"
)

// Transport is the L4 transport of the exposure vector.
type Transport string

const (
	TransportTCP   Transport = "tcp"
	TransportUDP   Transport = "udp"
	TransportICMP  Transport = "icmp"
	TransportOther Transport = "other"
)

// NetworkDirection describes the observed traffic direction.
type NetworkDirection string

const (
	DirectionInternal NetworkDirection = "internal"
	DirectionInbound  NetworkDirection = "inbound"
	DirectionOutbound NetworkDirection = "outbound"
	DirectionUnknown  NetworkDirection = "unknown"
)

// ServiceAuth is whether the exposed service requires authentication.
type ServiceAuth string

const (
	AuthUnknown     ServiceAuth = "unknown"
	AuthRequired    ServiceAuth = "required"
	AuthNotRequired ServiceAuth = "not_required"
)

// ServiceBindScope is the network scope the service is bound to.
type ServiceBindScope string

const (
	BindLoopbackOnly ServiceBindScope = "loopback_only"
	BindLocalSubnet  ServiceBindScope = "local_subnet"
	BindAny          ServiceBindScope = "any"
	BindUnknown      ServiceBindScope = "unknown"
)

// ResourceType is the kind of resource an exposure points at.
type ResourceType string

const (
	ResourceHTTPPath    ResourceType = "http_path"
	ResourceSMBShare    ResourceType = "smb_share"
	ResourceNFSExport   ResourceType = "nfs_export"
	ResourceRepo        ResourceType = "repo"
	ResourceAPIEndpoint ResourceType = "api_endpoint"
	ResourceMDNSService ResourceType = "mdns_service"
	ResourceDomain      ResourceType = "domain"
)

// DataClassification labels what data the exposure could leak.
type DataClassification string

const (
	DataSourceCode   DataClassification = "source_code"
	DataSecrets      DataClassification = "secrets"
	DataPII          DataClassification = "pii"
	DataCredentials  DataClassification = "credentials"
	DataInternalOnly DataClassification = "internal_only"
	DataUnknown      DataClassification = "unknown"
)

// Correlation links an event to its scan run and dedupe key.
type Correlation struct {
	ScanRunID    string `json:"scan_run_id,omitempty"`
	ScanPolicyID string `json:"scan_policy_id,omitempty"`
	DedupeKey    string `json:"dedupe_key,omitempty"`
}

// Event is the observation header: identity, kind, action, severity.
type Event struct {
	ID          string       `json:"id"`
	Kind        EventKind    `json:"kind"`
	Category    []string     `json:"category"`
	Type        []string     `json:"type"`
	Action      EventAction  `json:"action"`
	Severity    int          `json:"severity"`
	Reason      string       `json:"reason,omitempty"`
	RiskScore   *float64     `json:"risk_score,omitempty"`
	Correlation *Correlation `json:"correlation,omitempty"`
}

// Office identifies the site the scan ran in.
type Office struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Region      *string `json:"region,omitempty"`
	NetworkZone *string `json:"network_zone,omitempty"`
}

// Scanner identifies the scanner instance that produced the observation.
type Scanner struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`
}

// Asset is the scanned host.
type Asset struct {
	ID       string   `json:"id"`
	Hostname *string  `json:"hostname,omitempty"`
	IP       []string `json:"ip,omitempty"`
	MAC      *string  `json:"mac,omitempty"`
	OS       *string  `json:"os,omitempty"`
	Managed  *bool    `json:"managed,omitempty"`
}

// Target wraps the asset the exposure was observed on.
type Target struct {
	Asset Asset `json:"asset"`
}

// Destination is the network endpoint the exposure is reachable at.
type Destination struct {
	IP   string `json:"ip,omitempty"`
	Port *int   `json:"port,omitempty"`
}

// Vector describes how the exposure is reachable.
type Vector struct {
	Transport        Transport        `json:"transport"`
	Protocol         string           `json:"protocol"`
	Dst              *Destination     `json:"dst,omitempty"`
	NetworkDirection NetworkDirection `json:"network_direction,omitempty"`
}

// Service describes the software listening behind the exposure.
// Pointer fields distinguish "not observed" from an observed value; the merge
// policy preserves stored values when a newer observation carries nil.
type Service struct {
	Name      *string          `json:"name,omitempty"`
	Product   *string          `json:"product,omitempty"`
	Version   *string          `json:"version,omitempty"`
	TLS       *bool            `json:"tls,omitempty"`
	Auth      ServiceAuth      `json:"auth,omitempty"`
	BindScope ServiceBindScope `json:"bind_scope,omitempty"`
}

// Resource identifies a concrete exposed resource (path, share, endpoint).
type Resource struct {
	Type         ResourceType `json:"type,omitempty"`
	Identifier   string       `json:"identifier,omitempty"`
	EvidenceHash string       `json:"evidence_hash,omitempty"`
}

// Exposure is the tracked attack-surface condition.
type Exposure struct {
	ID         string               `json:"id"`
	Class      ExposureClass        `json:"class"`
	Subclass   string               `json:"subclass,omitempty"`
	Status     ExposureStatus       `json:"status"`
	Vector     Vector               `json:"vector"`
	Service    *Service             `json:"service,omitempty"`
	Resource   *Resource            `json:"resource,omitempty"`
	DataClass  []DataClassification `json:"data_class,omitempty"`
	Confidence *float64             `json:"confidence,omitempty"`
	FirstSeen  *time.Time           `json:"first_seen,omitempty"`
	LastSeen   *time.Time           `json:"last_seen,omitempty"`
}

// ExposureEvent is the canonical record of one observed exposure. Once
// validated it is treated as immutable; downstream code never mutates it.
type ExposureEvent struct {
	SchemaVersion string    `json:"schema_version"`
	Timestamp     time.Time `json:"@timestamp"`
	Event         Event     `json:"event"`
	Office        Office    `json:"office"`
	Scanner       Scanner   `json:"scanner"`
	Target        Target    `json:"target"`
	Exposure      Exposure  `json:"exposure"`
}

const (
	maxReasonLen     = 1000
	maxIdentifierLen = 500
)

// Sanitize returns a copy safe for persistence as raw payload: oversized
// free-text fields are truncated so scanner output cannot bloat storage.
// Evidence is represented by its hash only, never by raw content.
func (e *ExposureEvent) Sanitize() *ExposureEvent {
	out := *e
	if len(out.Event.Reason) > maxReasonLen {
		out.Event.Reason = out.Event.Reason[:maxReasonLen] + "..."
	}
	if out.Exposure.Resource != nil && len(out.Exposure.Resource.Identifier) > maxIdentifierLen {
		res := *out.Exposure.Resource
		res.Identifier = res.Identifier[:maxIdentifierLen] + "..."
		out.Exposure.Resource = &res
	}
	return &out
}

// DedupeKey returns the finer-grained correlation key, if the adapter set one.
func (e *ExposureEvent) DedupeKey() string {
	if e.Event.Correlation == nil {
		return ""
	}
	return e.Event.Correlation.DedupeKey
}
