package transform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/exposure-ingest/internal/models"
	"github.com/PratikDhanave/exposure-ingest/internal/securexml"
)

const nucleiFindingsJSON = `[
  {
    "template-id": "exposed-docker-api",
    "type": "http",
    "host": "http://10.0.2.131:2375",
    "matched-at": "http://10.0.2.131:2375/version",
    "timestamp": "2026-03-14T09:30:00Z",
    "info": {
      "name": "Docker API exposed",
      "severity": "critical",
      "tags": ["docker", "container", "api"]
    },
    "extracted-results": ["Docker v24.0.7"]
  },
  {
    "template-id": "git-config-disclosure",
    "type": "http",
    "host": "https://intranet.corp",
    "info": {
      "name": ".git/config readable",
      "severity": "medium",
      "tags": ["git", "exposure"]
    }
  },
  {
    "template-id": "no-host-finding",
    "type": "dns",
    "host": "",
    "info": {"name": "orphan", "severity": "info"}
  }
]`

func TestNucleiTransform(t *testing.T) {
	path := writeScan(t, "findings.json", nucleiFindingsJSON)
	tr := NewNucleiTransformer(0)

	events, err := tr.Transform(path, "A", "scanner-2")
	require.NoError(t, err)
	require.Len(t, events, 2, "findings without a host are skipped")

	docker := events[0]
	assert.Equal(t, models.ClassContainerAPIExposed, docker.Exposure.Class)
	assert.Equal(t, "exposed-docker-api", docker.Exposure.Subclass)
	assert.Equal(t, models.StatusOpen, docker.Exposure.Status)
	assert.Equal(t, 90, docker.Event.Severity, "critical word beats the class base of 85")
	assert.Equal(t, "Docker API exposed", docker.Event.Reason)
	assert.Equal(t, "2026-03-14T09:30:00Z", docker.Timestamp.Format("2006-01-02T15:04:05Z07:00"))

	assert.Equal(t, "10.0.2.131", docker.Target.Asset.ID)
	require.NotNil(t, docker.Exposure.Vector.Dst.Port)
	assert.Equal(t, 2375, *docker.Exposure.Vector.Dst.Port)
	assert.Equal(t, "http", docker.Exposure.Vector.Protocol)

	require.NotNil(t, docker.Exposure.Service.Product)
	assert.Equal(t, "Docker v24.0.7", *docker.Exposure.Service.Product)
	require.NotNil(t, docker.Exposure.Service.Version)
	assert.Equal(t, "24.0.7", *docker.Exposure.Service.Version)

	git := events[1]
	assert.Equal(t, models.ClassVCSProtocolExposed, git.Exposure.Class)
	assert.Equal(t, 55, git.Event.Severity, "class base 55 beats the medium word 55")
	require.NotNil(t, git.Exposure.Vector.Dst.Port)
	assert.Equal(t, 443, *git.Exposure.Vector.Dst.Port, "https default port applies")
	require.NotNil(t, git.Exposure.Service.TLS)
	assert.True(t, *git.Exposure.Service.TLS)
	require.NotNil(t, git.Target.Asset.Hostname)
	assert.Equal(t, "intranet.corp", *git.Target.Asset.Hostname)

	for _, ev := range events {
		require.NoError(t, ev.Validate())
	}
}

func TestNucleiTransformNotAnArray(t *testing.T) {
	path := writeScan(t, "findings.json", `{"not":"an array"}`)
	tr := NewNucleiTransformer(0)

	_, err := tr.Transform(path, "A", "scanner-2")
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "nuclei", pe.ScannerType)
}

func TestNucleiTransformSizeCeiling(t *testing.T) {
	path := writeScan(t, "findings.json", "["+strings.Repeat(" ", 4096)+"]")
	tr := NewNucleiTransformer(1024)

	_, err := tr.Transform(path, "A", "scanner-2")
	require.Error(t, err)
	assert.True(t, securexml.IsSecurityError(err))
}

func TestParseHostURL(t *testing.T) {
	ip, hostname, port, scheme := parseHostURL("http://10.0.2.131:8080/path")
	assert.Equal(t, "10.0.2.131", ip)
	assert.Empty(t, hostname)
	require.NotNil(t, port)
	assert.Equal(t, 8080, *port)
	assert.Equal(t, "http", scheme)

	ip, hostname, port, scheme = parseHostURL("https://printer.lan")
	assert.Equal(t, "printer.lan", ip)
	assert.Equal(t, "printer.lan", hostname)
	require.NotNil(t, port)
	assert.Equal(t, 443, *port)
	assert.Equal(t, "https", scheme)

	ip, _, port, _ = parseHostURL("10.0.2.7:6379")
	assert.Equal(t, "10.0.2.7", ip)
	require.NotNil(t, port)
	assert.Equal(t, 6379, *port)
}

func TestRegistryLookup(t *testing.T) {
	reg := DefaultRegistry(securexml.Limits{})

	tr, err := reg.Lookup("nmap")
	require.NoError(t, err)
	assert.Equal(t, "nmap", tr.ScannerType())

	_, err = reg.Lookup("nessus")
	var ue *UnknownScannerError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "nessus", ue.ScannerType)
	assert.Equal(t, []string{"nmap", "nuclei"}, ue.Known)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	assert.Panics(t, func() {
		NewRegistry(
			NewNmapTransformer(securexml.Limits{}),
			NewNmapTransformer(securexml.Limits{}),
		)
	})
}
