package transform

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/PratikDhanave/exposure-ingest/internal/ids"
	"github.com/PratikDhanave/exposure-ingest/internal/models"
	"github.com/PratikDhanave/exposure-ingest/internal/securexml"
)

// NucleiTransformer converts nuclei JSON output (an array of findings) into
// canonical exposure events, one per finding. Findings that cannot be tied to
// a host are skipped with a warning rather than failing the file.
type NucleiTransformer struct {
	maxBytes int64
}

// NewNucleiTransformer builds the adapter with the given input size ceiling.
func NewNucleiTransformer(maxBytes int64) *NucleiTransformer {
	if maxBytes <= 0 {
		maxBytes = securexml.DefaultMaxBytes
	}
	return &NucleiTransformer{maxBytes: maxBytes}
}

// ScannerType implements Transformer.
func (t *NucleiTransformer) ScannerType() string { return "nuclei" }

type nucleiFinding struct {
	TemplateID string `json:"template-id"`
	Type       string `json:"type"`
	Host       string `json:"host"`
	MatchedAt  string `json:"matched-at"`
	Timestamp  string `json:"timestamp"`
	Info       struct {
		Name     string   `json:"name"`
		Severity string   `json:"severity"`
		Tags     []string `json:"tags"`
	} `json:"info"`
	ExtractedResults []string `json:"extracted-results"`
}

// Transform implements Transformer.
func (t *NucleiTransformer) Transform(path, officeID, scannerID string) ([]*models.ExposureEvent, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > t.maxBytes {
		return nil, &securexml.SecurityError{Reason: fmt.Sprintf(
			"file too large: %d bytes (max %d)", info.Size(), t.maxBytes)}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var findings []nucleiFinding
	if err := json.Unmarshal(raw, &findings); err != nil {
		return nil, &ParseError{ScannerType: "nuclei", Msg: "expected a JSON array of findings", Err: err}
	}

	scanTime := time.Now().UTC()
	events := make([]*models.ExposureEvent, 0, len(findings))
	for _, finding := range findings {
		ev := t.findingEvent(finding, officeID, scannerID, scanTime)
		if ev == nil {
			continue
		}
		if err := ev.Validate(); err != nil {
			log.WithError(err).WithField("template", finding.TemplateID).
				Warn("skipping finding that produced an invalid event")
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (t *NucleiTransformer) findingEvent(finding nucleiFinding, officeID, scannerID string, scanTime time.Time) *models.ExposureEvent {
	ts := scanTime
	if finding.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, finding.Timestamp); err == nil {
			ts = parsed.UTC()
		}
	}

	hostIP, hostName, port, scheme := parseHostURL(firstNonEmpty(finding.Host, finding.MatchedAt))
	if hostIP == "" {
		log.WithField("host", finding.Host).Warn("could not extract a host address from finding")
		return nil
	}

	asset := models.Asset{ID: hostIP, IP: []string{hostIP}}
	if hostName != "" {
		asset.Hostname = &hostName
	}

	class := classifyNucleiFinding(finding)
	severity := nucleiSeverity(finding.Info.Severity, class)

	var product, version *string
	if len(finding.ExtractedResults) > 0 && finding.ExtractedResults[0] != "" {
		p := finding.ExtractedResults[0]
		product = &p
		if m := versionPattern.FindStringSubmatch(p); m != nil {
			v := m[1]
			version = &v
		}
	}

	protocol := scheme
	if protocol == "" {
		protocol = finding.Type
	}

	templateID := finding.TemplateID
	if templateID == "" {
		templateID = "unknown"
	}

	// Identity protocol is the template id so distinct checks against the
	// same port stay distinct exposures.
	exposureID := ids.ExposureID(officeID, asset.ID, hostIP, port, templateID, string(class))
	productStr := ""
	if product != nil {
		productStr = *product
	}
	dedupeKey := ids.DedupeKey(officeID, asset.ID, hostIP, port, templateID, string(class), productStr)

	tls := scheme == "https"
	service := &models.Service{
		Name:      &templateID,
		Product:   product,
		Version:   version,
		TLS:       &tls,
		Auth:      models.AuthUnknown,
		BindScope: models.BindUnknown,
	}

	return &models.ExposureEvent{
		SchemaVersion: SchemaVersion,
		Timestamp:     ts,
		Event: models.Event{
			ID:          ids.EventID(),
			Kind:        models.KindEvent,
			Category:    []string{"network"},
			Type:        []string{"info"},
			Action:      models.ActionOpened,
			Severity:    severity,
			Reason:      finding.Info.Name,
			Correlation: &models.Correlation{DedupeKey: dedupeKey},
		},
		Office: models.Office{
			ID:   officeID,
			Name: "Office-" + officeID,
		},
		Scanner: models.Scanner{
			ID:   scannerID,
			Type: "nuclei",
		},
		Target: models.Target{Asset: asset},
		Exposure: models.Exposure{
			ID:       exposureID,
			Class:    class,
			Subclass: finding.TemplateID,
			Status:   models.StatusOpen,
			Vector: models.Vector{
				Transport:        models.TransportTCP,
				Protocol:         protocol,
				Dst:              &models.Destination{IP: hostIP, Port: port},
				NetworkDirection: models.DirectionInternal,
			},
			Service:   service,
			FirstSeen: &ts,
			LastSeen:  &ts,
		},
	}
}

var (
	versionPattern = regexp.MustCompile(`v?(\d+\.\d+(?:\.\d+)?)`)
	ipv4Pattern    = regexp.MustCompile(`(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`)
	portPattern    = regexp.MustCompile(`:(\d+)`)
)

var schemeDefaultPorts = map[string]int{
	"http": 80, "https": 443, "ftp": 21, "ssh": 22, "telnet": 23, "smtp": 25, "dns": 53,
}

// firstNonEmpty returns the first of its arguments that is not the empty
// string, or "" when all are empty.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseHostURL extracts the address, hostname, port and scheme from a nuclei
// host field, which may be a URL ("http://10.0.2.131:80") or a bare target.
// When the hostname is not an IP it is used as the address anyway so the
// finding still correlates to a stable asset identity.
func parseHostURL(raw string) (ip, hostname string, port *int, scheme string) {
	if raw == "" {
		return "", "", nil, ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		// Fall back to pattern extraction for non-URL targets.
		if m := ipv4Pattern.FindStringSubmatch(raw); m != nil {
			ip = m[1]
		}
		if m := portPattern.FindStringSubmatch(raw); m != nil {
			if p, err := strconv.Atoi(m[1]); err == nil {
				port = &p
			}
		}
		return ip, "", port, ""
	}

	scheme = u.Scheme
	host := u.Hostname()
	if net.ParseIP(host) != nil {
		ip = host
	} else {
		hostname = host
		ip = host
	}

	if u.Port() != "" {
		if p, err := strconv.Atoi(u.Port()); err == nil {
			port = &p
		}
	} else if p, ok := schemeDefaultPorts[scheme]; ok {
		port = &p
	}
	return ip, hostname, port, scheme
}

// nucleiClassRules map template tags and ids to exposure classes, most
// specific first. Container checks run before panel checks so a k8s
// dashboard classifies as a container API, not a debug panel.
var nucleiTagClasses = []struct {
	tags  []string
	class models.ExposureClass
}{
	{[]string{"database", "mongodb", "mysql", "postgresql", "redis", "db"}, models.ClassDBExposed},
	{[]string{"docker", "kubernetes", "k8s", "container"}, models.ClassContainerAPIExposed},
	{[]string{"admin", "ssh", "rdp", "vnc", "telnet"}, models.ClassRemoteAdminExposed},
	{[]string{"debug", "console", "panel"}, models.ClassDebugPortExposed},
	{[]string{"smb", "nfs", "ftp", "fileshare"}, models.ClassFileshareExposed},
	{[]string{"git", "svn", "cvs", "vcs"}, models.ClassVCSProtocolExposed},
	{[]string{"exposure", "disclosure", "leak"}, models.ClassHTTPContentLeak},
}

var nucleiTemplateClasses = []struct {
	substr string
	class  models.ExposureClass
}{
	{"debug", models.ClassDebugPortExposed},
	{"console", models.ClassDebugPortExposed},
	{"panel", models.ClassDebugPortExposed},
	{"dashboard", models.ClassDebugPortExposed},
	{"git", models.ClassVCSProtocolExposed},
}

func classifyNucleiFinding(finding nucleiFinding) models.ExposureClass {
	tags := make(map[string]bool, len(finding.Info.Tags))
	for _, tag := range finding.Info.Tags {
		tags[strings.ToLower(tag)] = true
	}
	for _, rule := range nucleiTagClasses {
		for _, tag := range rule.tags {
			if tags[tag] {
				return rule.class
			}
		}
	}
	template := strings.ToLower(finding.TemplateID)
	for _, rule := range nucleiTemplateClasses {
		if strings.Contains(template, rule.substr) {
			return rule.class
		}
	}
	if finding.Type == "http" {
		return models.ClassHTTPContentLeak
	}
	return models.ClassUnknownServiceExposed
}

// nucleiWordSeverity maps nuclei's severity words onto the 0-100 scale.
var nucleiWordSeverity = map[string]int{
	"critical": 90,
	"high":     75,
	"medium":   55,
	"low":      35,
	"info":     25,
}

// nucleiSeverity combines the template's own severity word with the class
// base severity, taking whichever is higher: a critical template on a benign
// class stays critical, and a db_exposed finding never drops below its class.
func nucleiSeverity(word string, class models.ExposureClass) int {
	severity, ok := nucleiWordSeverity[strings.ToLower(word)]
	if !ok {
		severity = 25
	}
	if base := baseSeverity[class]; base > severity {
		severity = base
	}
	return severity
}
