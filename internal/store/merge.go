package store

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/PratikDhanave/exposure-ingest/internal/models"
)

// currentRow is the flattened exposures_current shape a batch collapses into
// before the SQL upsert. Pointer fields are nullable columns; the merge
// policy never lets a nil overwrite a stored non-nil value.
type currentRow struct {
	OfficeID   string
	ExposureID string

	ExposureClass models.ExposureClass
	Status        models.ExposureStatus

	DstIP            *string
	DstPort          *int
	Protocol         *string
	Transport        *string
	NetworkDirection *string

	Severity   int
	RiskScore  *float64
	Confidence *float64

	FirstSeen time.Time
	LastSeen  time.Time

	AssetID       string
	AssetHostname *string
	AssetIP       *string
	AssetMAC      *string
	AssetOS       *string
	AssetManaged  *bool

	ServiceName      *string
	ServiceProduct   *string
	ServiceVersion   *string
	ServiceTLS       *bool
	ServiceAuth      *string
	ServiceBindScope *string

	ServiceJSON  []byte
	ResourceJSON []byte

	EventAction models.EventAction
	EventKind   models.EventKind

	ScannerID   string
	ScannerType string

	OfficeName        string
	OfficeRegion      *string
	OfficeNetworkZone *string

	DataClassJSON []byte
	DedupeKey     *string

	// latestTS orders recency-overwrite decisions during the in-batch fold.
	latestTS time.Time
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// rowFromEvent flattens one canonical event into its current-state shape.
func rowFromEvent(e *models.ExposureEvent) currentRow {
	exp := &e.Exposure
	vec := &exp.Vector

	firstSeen := e.Timestamp
	if exp.FirstSeen != nil {
		firstSeen = *exp.FirstSeen
	}
	lastSeen := e.Timestamp
	if exp.LastSeen != nil {
		lastSeen = *exp.LastSeen
	}

	row := currentRow{
		OfficeID:      e.Office.ID,
		ExposureID:    exp.ID,
		ExposureClass: exp.Class,
		Status:        exp.Status,
		Protocol:      strPtr(vec.Protocol),
		Transport:     strPtr(string(vec.Transport)),
		Severity:      e.Event.Severity,
		RiskScore:     e.Event.RiskScore,
		Confidence:    exp.Confidence,
		FirstSeen:     firstSeen,
		LastSeen:      lastSeen,
		AssetID:       e.Target.Asset.ID,
		AssetHostname: e.Target.Asset.Hostname,
		AssetMAC:      e.Target.Asset.MAC,
		AssetOS:       e.Target.Asset.OS,
		AssetManaged:  e.Target.Asset.Managed,
		EventAction:   e.Event.Action,
		EventKind:     e.Event.Kind,
		ScannerID:     e.Scanner.ID,
		ScannerType:   e.Scanner.Type,
		OfficeName:    e.Office.Name,

		OfficeRegion:      e.Office.Region,
		OfficeNetworkZone: e.Office.NetworkZone,
		DedupeKey:         strPtr(e.DedupeKey()),
		latestTS:          e.Timestamp,
	}
	if vec.NetworkDirection != "" {
		row.NetworkDirection = strPtr(string(vec.NetworkDirection))
	}
	if vec.Dst != nil {
		row.DstIP = strPtr(vec.Dst.IP)
		row.DstPort = vec.Dst.Port
	}
	if len(e.Target.Asset.IP) > 0 {
		row.AssetIP = strPtr(e.Target.Asset.IP[0])
	}
	if svc := exp.Service; svc != nil {
		row.ServiceName = svc.Name
		row.ServiceProduct = svc.Product
		row.ServiceVersion = svc.Version
		row.ServiceTLS = svc.TLS
		if svc.Auth != "" {
			row.ServiceAuth = strPtr(string(svc.Auth))
		}
		if svc.BindScope != "" {
			row.ServiceBindScope = strPtr(string(svc.BindScope))
		}
		row.ServiceJSON, _ = json.Marshal(svc)
	}
	if exp.Resource != nil {
		row.ResourceJSON, _ = json.Marshal(exp.Resource)
	}
	if len(exp.DataClass) > 0 {
		row.DataClassJSON, _ = json.Marshal(exp.DataClass)
	}
	return row
}

// mergeNewer folds a newer observation into row: recency fields are taken
// from the newer event, last_seen only advances, first_seen only retreats,
// and optional fields are overwritten only when the newer value is non-nil.
func (row *currentRow) mergeNewer(newer currentRow) {
	// Most recent observation wins for lifecycle fields.
	row.ExposureClass = newer.ExposureClass
	row.Status = newer.Status
	row.Severity = newer.Severity
	row.RiskScore = newer.RiskScore
	row.EventAction = newer.EventAction
	row.EventKind = newer.EventKind
	row.ScannerID = newer.ScannerID
	row.ScannerType = newer.ScannerType
	row.OfficeName = newer.OfficeName
	row.latestTS = newer.latestTS

	if newer.LastSeen.After(row.LastSeen) {
		row.LastSeen = newer.LastSeen
	}
	if newer.FirstSeen.Before(row.FirstSeen) {
		row.FirstSeen = newer.FirstSeen
	}

	// Null-preserving merge for everything observational.
	if newer.DstIP != nil {
		row.DstIP = newer.DstIP
	}
	if newer.DstPort != nil {
		row.DstPort = newer.DstPort
	}
	if newer.Protocol != nil {
		row.Protocol = newer.Protocol
	}
	if newer.Transport != nil {
		row.Transport = newer.Transport
	}
	if newer.NetworkDirection != nil {
		row.NetworkDirection = newer.NetworkDirection
	}
	if newer.Confidence != nil {
		row.Confidence = newer.Confidence
	}
	if newer.AssetHostname != nil {
		row.AssetHostname = newer.AssetHostname
	}
	if newer.AssetIP != nil {
		row.AssetIP = newer.AssetIP
	}
	if newer.AssetMAC != nil {
		row.AssetMAC = newer.AssetMAC
	}
	if newer.AssetOS != nil {
		row.AssetOS = newer.AssetOS
	}
	if newer.AssetManaged != nil {
		row.AssetManaged = newer.AssetManaged
	}
	if newer.ServiceName != nil {
		row.ServiceName = newer.ServiceName
	}
	if newer.ServiceProduct != nil {
		row.ServiceProduct = newer.ServiceProduct
	}
	if newer.ServiceVersion != nil {
		row.ServiceVersion = newer.ServiceVersion
	}
	if newer.ServiceTLS != nil {
		row.ServiceTLS = newer.ServiceTLS
	}
	if newer.ServiceAuth != nil {
		row.ServiceAuth = newer.ServiceAuth
	}
	if newer.ServiceBindScope != nil {
		row.ServiceBindScope = newer.ServiceBindScope
	}
	if newer.ServiceJSON != nil {
		row.ServiceJSON = newer.ServiceJSON
	}
	if newer.ResourceJSON != nil {
		row.ResourceJSON = newer.ResourceJSON
	}
	if newer.DataClassJSON != nil {
		row.DataClassJSON = newer.DataClassJSON
	}
	if newer.OfficeRegion != nil {
		row.OfficeRegion = newer.OfficeRegion
	}
	if newer.OfficeNetworkZone != nil {
		row.OfficeNetworkZone = newer.OfficeNetworkZone
	}
	if newer.DedupeKey != nil {
		row.DedupeKey = newer.DedupeKey
	}
}

// collapseBatch reduces a batch to one current-state row per
// (office_id, exposure_id). Events are folded in timestamp order regardless
// of arrival order, so the result is identical to strictly-ordered
// application. Output preserves first-appearance key order.
func collapseBatch(events []*models.ExposureEvent) []currentRow {
	type key struct{ office, exposure string }

	var order []key
	grouped := make(map[key][]*models.ExposureEvent)
	for _, e := range events {
		k := key{office: e.Office.ID, exposure: e.Exposure.ID}
		if _, seen := grouped[k]; !seen {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], e)
	}

	rows := make([]currentRow, 0, len(order))
	for _, k := range order {
		group := grouped[k]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})
		row := rowFromEvent(group[0])
		for _, e := range group[1:] {
			row.mergeNewer(rowFromEvent(e))
		}
		rows = append(rows, row)
	}
	return rows
}
