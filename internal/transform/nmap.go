package transform

import (
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/PratikDhanave/exposure-ingest/internal/ids"
	"github.com/PratikDhanave/exposure-ingest/internal/models"
	"github.com/PratikDhanave/exposure-ingest/internal/securexml"
)

// NmapTransformer converts nmap XML output into canonical exposure events:
// one event per open port per host. Closed and filtered ports are skipped,
// and a host with no open ports contributes nothing.
type NmapTransformer struct {
	limits securexml.Limits
}

// NewNmapTransformer builds the adapter with the given parse ceilings.
func NewNmapTransformer(limits securexml.Limits) *NmapTransformer {
	return &NmapTransformer{limits: limits}
}

// ScannerType implements Transformer.
func (t *NmapTransformer) ScannerType() string { return "nmap" }

// Transform implements Transformer.
func (t *NmapTransformer) Transform(path, officeID, scannerID string) ([]*models.ExposureEvent, error) {
	root, err := securexml.ParseFile(path, t.limits)
	if err != nil {
		if securexml.IsSecurityError(err) {
			return nil, err
		}
		return nil, &ParseError{ScannerType: "nmap", Msg: "failed to parse XML", Err: err}
	}

	if root.Name != "nmaprun" {
		return nil, &ParseError{ScannerType: "nmap",
			Msg: "not an nmap XML document (root element " + root.Name + ")"}
	}

	scanTime := time.Now().UTC()
	if start := root.Attr("start"); start != "" {
		if secs, err := strconv.ParseInt(start, 10, 64); err == nil {
			scanTime = time.Unix(secs, 0).UTC()
		}
	}
	scannerVersion := root.Attr("version")

	events := make([]*models.ExposureEvent, 0)
	for _, host := range root.FindAll("host") {
		events = append(events, t.processHost(host, officeID, scannerID, scannerVersion, scanTime)...)
	}
	return events, nil
}

func (t *NmapTransformer) processHost(host *securexml.Element, officeID, scannerID, scannerVersion string, scanTime time.Time) []*models.ExposureEvent {
	ip, mac := hostAddresses(host)
	if ip == "" {
		// Host entries without an address carry nothing actionable.
		return nil
	}

	var hostname *string
	if hn := host.Find("hostname"); hn != nil && hn.Attr("name") != "" {
		name := hn.Attr("name")
		hostname = &name
	}

	asset := models.Asset{
		ID:       ip, // IP doubles as asset identity for unmanaged networks
		IP:       []string{ip},
		Hostname: hostname,
	}
	if mac != "" {
		asset.MAC = &mac
	}

	var events []*models.ExposureEvent
	for _, port := range host.FindAll("port") {
		state := port.Find("state")
		if state == nil || state.Attr("state") != "open" {
			continue
		}
		ev := t.portEvent(port, asset, officeID, scannerID, scannerVersion, scanTime)
		if ev == nil {
			continue
		}
		if err := ev.Validate(); err != nil {
			// A single bad port never sinks the whole scan.
			log.WithError(err).WithFields(log.Fields{
				"asset": asset.ID,
				"port":  port.Attr("portid"),
			}).Warn("skipping port that produced an invalid event")
			continue
		}
		events = append(events, ev)
	}
	return events
}

func hostAddresses(host *securexml.Element) (ip, mac string) {
	for _, addr := range host.FindAll("address") {
		switch addr.Attr("addrtype") {
		case "ipv4", "ipv6":
			if ip == "" {
				ip = addr.Attr("addr")
			}
		case "mac":
			mac = addr.Attr("addr")
		}
	}
	return ip, mac
}

func (t *NmapTransformer) portEvent(port *securexml.Element, asset models.Asset, officeID, scannerID, scannerVersion string, scanTime time.Time) *models.ExposureEvent {
	portNum, err := strconv.Atoi(port.Attr("portid"))
	if err != nil {
		return nil
	}
	transport := models.TransportTCP
	if port.Attr("protocol") == "udp" {
		transport = models.TransportUDP
	}

	serviceName := "unknown"
	var product, version, tunnel string
	if svc := port.Find("service"); svc != nil {
		if n := svc.Attr("name"); n != "" {
			serviceName = n
		}
		product = svc.Attr("product")
		version = svc.Attr("version")
		tunnel = svc.Attr("tunnel")
	}

	class := ClassifyService(portNum, serviceName, product)
	severity := ServiceSeverity(class, product)

	// The application protocol (the nmap service name) is the identity
	// protocol; the L4 transport lives in vector.transport.
	exposureID := ids.ExposureID(officeID, asset.ID, asset.IP[0], &portNum, serviceName, string(class))
	dedupeKey := ids.DedupeKey(officeID, asset.ID, asset.IP[0], &portNum, serviceName, string(class), product)

	service := &models.Service{
		Name:      &serviceName,
		Auth:      models.AuthUnknown, // nmap cannot detect this reliably
		BindScope: models.BindUnknown, // nmap does not report bind scope
	}
	if product != "" {
		service.Product = &product
	}
	if version != "" {
		service.Version = &version
	}
	if tunnel != "" {
		tls := tunnel == "ssl"
		service.TLS = &tls
	}

	ts := scanTime
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
			Correlation: &models.Correlation{DedupeKey: dedupeKey},
		},
		Office: models.Office{
			ID:   officeID,
			Name: "Office-" + officeID, // enriched later from office inventory
		},
		Scanner: models.Scanner{
			ID:      scannerID,
			Type:    "nmap",
			Version: scannerVersion,
		},
		Target: models.Target{Asset: asset},
		Exposure: models.Exposure{
			ID:     exposureID,
			Class:  class,
			Status: models.StatusOpen,
			Vector: models.Vector{
				Transport:        transport,
				Protocol:         serviceName,
				Dst:              &models.Destination{IP: asset.IP[0], Port: &portNum},
				NetworkDirection: models.DirectionInternal,
			},
			Service:   service,
			FirstSeen: &ts,
			LastSeen:  &ts,
		},
	}
}

// classByPort is the first classification stage: well-known port numbers.
var classByPort = map[int]models.ExposureClass{
	445: models.ClassFileshareExposed, 548: models.ClassFileshareExposed,
	22: models.ClassRemoteAdminExposed, 3389: models.ClassRemoteAdminExposed, 5900: models.ClassRemoteAdminExposed,
	2375: models.ClassContainerAPIExposed, 2376: models.ClassContainerAPIExposed, 6443: models.ClassContainerAPIExposed,
	3306: models.ClassDBExposed, 5432: models.ClassDBExposed, 27017: models.ClassDBExposed, 6379: models.ClassDBExposed,
	9418: models.ClassVCSProtocolExposed,
	80:   models.ClassHTTPContentLeak, 443: models.ClassHTTPContentLeak, 8000: models.ClassHTTPContentLeak,
	8080: models.ClassHTTPContentLeak, 8888: models.ClassHTTPContentLeak,
	9222: models.ClassDebugPortExposed, 6000: models.ClassDebugPortExposed, 63342: models.ClassDebugPortExposed,
	5037: models.ClassDebugPortExposed, 50000: models.ClassDebugPortExposed,
	5555: models.ClassDebugPortExposed, 5559: models.ClassDebugPortExposed, 1099: models.ClassDebugPortExposed,
}

// classByService is the second stage: service-name substrings, checked in
// order so the more specific match wins.
var classByService = []struct {
	substr string
	class  models.ExposureClass
}{
	{"microsoft-ds", models.ClassFileshareExposed},
	{"smb", models.ClassFileshareExposed},
	{"ms-wbt-server", models.ClassRemoteAdminExposed},
	{"ssh", models.ClassRemoteAdminExposed},
	{"rdp", models.ClassRemoteAdminExposed},
	{"vnc", models.ClassRemoteAdminExposed},
	{"docker", models.ClassContainerAPIExposed},
	{"kubernetes", models.ClassContainerAPIExposed},
	{"k8s", models.ClassContainerAPIExposed},
	{"mysql", models.ClassDBExposed},
	{"postgresql", models.ClassDBExposed},
	{"mongodb", models.ClassDBExposed},
	{"redis", models.ClassDBExposed},
	{"git", models.ClassVCSProtocolExposed},
	{"http", models.ClassHTTPContentLeak},
}

// classByProduct is the last stage before the unknown fallback.
var classByProduct = []struct {
	substr string
	class  models.ExposureClass
}{
	{"docker", models.ClassContainerAPIExposed},
	{"jenkins", models.ClassDebugPortExposed},
}

// ClassifyService maps an open service to its exposure class using the
// ordered rule set: numeric port first, then service name, then product name,
// falling back to unknown_service_exposed.
func ClassifyService(port int, serviceName, product string) models.ExposureClass {
	if class, ok := classByPort[port]; ok {
		return class
	}
	name := strings.ToLower(serviceName)
	for _, rule := range classByService {
		if strings.Contains(name, rule.substr) {
			return rule.class
		}
	}
	prod := strings.ToLower(product)
	if prod != "" {
		for _, rule := range classByProduct {
			if strings.Contains(prod, rule.substr) {
				return rule.class
			}
		}
	}
	return models.ClassUnknownServiceExposed
}

// baseSeverity is the fixed per-class severity table: exposed databases at
// the top, unrecognized services at the bottom.
var baseSeverity = map[models.ExposureClass]int{
	models.ClassDBExposed:             90,
	models.ClassContainerAPIExposed:   85,
	models.ClassRemoteAdminExposed:    70,
	models.ClassFileshareExposed:      65,
	models.ClassDebugPortExposed:      60,
	models.ClassVCSProtocolExposed:    55,
	models.ClassHTTPContentLeak:       50,
	models.ClassEgressTunnelIndicator: 45,
	models.ClassServiceAdvertisedMDNS: 40,
	models.ClassUnknownServiceExposed: 30,
}

// highRiskProducts get a bounded severity bump on top of the class base.
var highRiskProducts = []string{"docker", "kubernetes", "jenkins"}

// ServiceSeverity returns the 0-100 severity for an open service: class base
// plus a +10 bump for known high-risk products, capped at 100.
func ServiceSeverity(class models.ExposureClass, product string) int {
	severity, ok := baseSeverity[class]
	if !ok {
		severity = 30
	}
	prod := strings.ToLower(product)
	for _, risky := range highRiskProducts {
		if prod != "" && strings.Contains(prod, risky) {
			severity += 10
			break
		}
	}
	if severity > 100 {
		severity = 100
	}
	return severity
}
