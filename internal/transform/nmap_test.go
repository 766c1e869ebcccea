package transform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/exposure-ingest/internal/models"
	"github.com/PratikDhanave/exposure-ingest/internal/securexml"
)

func writeScan(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sshScanXML = `<?xml version="1.0"?>
<nmaprun scanner="nmap" version="7.94" start="1742000000">
  <host>
    <address addr="10.0.0.5" addrtype="ipv4"/>
    <address addr="AA:BB:CC:DD:EE:FF" addrtype="mac"/>
    <hostnames><hostname name="host-1.lan" type="PTR"/></hostnames>
    <ports>
      <port protocol="tcp" portid="22">
        <state state="open" reason="syn-ack"/>
        <service name="ssh" product="OpenSSH" version="9.6"/>
      </port>
      <port protocol="tcp" portid="23">
        <state state="closed" reason="reset"/>
      </port>
      <port protocol="tcp" portid="25">
        <state state="filtered"/>
        <service name="smtp"/>
      </port>
    </ports>
  </host>
</nmaprun>`

func TestNmapTransformOpenPortOnly(t *testing.T) {
	path := writeScan(t, "scan.xml", sshScanXML)
	tr := NewNmapTransformer(securexml.Limits{})

	events, err := tr.Transform(path, "A", "scanner-1")
	require.NoError(t, err)
	require.Len(t, events, 1, "closed and filtered ports must not produce events")

	ev := events[0]
	assert.Equal(t, SchemaVersion, ev.SchemaVersion)
	assert.Equal(t, int64(1742000000), ev.Timestamp.Unix())
	assert.Equal(t, models.ClassRemoteAdminExposed, ev.Exposure.Class)
	assert.Equal(t, models.StatusOpen, ev.Exposure.Status)
	assert.Equal(t, 70, ev.Event.Severity)
	assert.Equal(t, models.ActionOpened, ev.Event.Action)

	assert.Equal(t, "10.0.0.5", ev.Target.Asset.ID)
	require.NotNil(t, ev.Target.Asset.Hostname)
	assert.Equal(t, "host-1.lan", *ev.Target.Asset.Hostname)
	require.NotNil(t, ev.Target.Asset.MAC)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", *ev.Target.Asset.MAC)

	assert.Equal(t, models.TransportTCP, ev.Exposure.Vector.Transport)
	assert.Equal(t, "ssh", ev.Exposure.Vector.Protocol)
	require.NotNil(t, ev.Exposure.Vector.Dst)
	require.NotNil(t, ev.Exposure.Vector.Dst.Port)
	assert.Equal(t, 22, *ev.Exposure.Vector.Dst.Port)

	require.NotNil(t, ev.Exposure.Service)
	require.NotNil(t, ev.Exposure.Service.Product)
	assert.Equal(t, "OpenSSH", *ev.Exposure.Service.Product)

	assert.Equal(t, "A", ev.Office.ID)
	assert.Equal(t, "scanner-1", ev.Scanner.ID)
	assert.Equal(t, "nmap", ev.Scanner.Type)
	assert.Equal(t, "7.94", ev.Scanner.Version)

	require.NoError(t, ev.Validate())
}

func TestNmapTransformStableExposureID(t *testing.T) {
	path := writeScan(t, "scan.xml", sshScanXML)
	tr := NewNmapTransformer(securexml.Limits{})

	first, err := tr.Transform(path, "A", "scanner-1")
	require.NoError(t, err)
	second, err := tr.Transform(path, "A", "scanner-2")
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Exposure.ID, second[0].Exposure.ID,
		"exposure identity must survive rescans by a different scanner instance")
	assert.NotEqual(t, first[0].Event.ID, second[0].Event.ID,
		"event identity must be unique per observation")

	other, err := tr.Transform(path, "B", "scanner-1")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.NotEqual(t, first[0].Exposure.ID, other[0].Exposure.ID,
		"exposure identity is scoped per office")
}

func TestNmapTransformNoOpenPorts(t *testing.T) {
	path := writeScan(t, "scan.xml", `<?xml version="1.0"?>
<nmaprun version="7.94" start="1742000000">
  <host>
    <address addr="10.0.0.9" addrtype="ipv4"/>
    <ports>
      <port protocol="tcp" portid="80"><state state="closed"/></port>
    </ports>
  </host>
  <host>
    <ports>
      <port protocol="tcp" portid="22"><state state="open"/></port>
    </ports>
  </host>
</nmaprun>`)
	tr := NewNmapTransformer(securexml.Limits{})

	events, err := tr.Transform(path, "A", "scanner-1")
	require.NoError(t, err)
	assert.Empty(t, events, "closed ports and address-less hosts yield nothing")
}

func TestNmapTransformWrongRoot(t *testing.T) {
	path := writeScan(t, "scan.xml", `<notnmap/>`)
	tr := NewNmapTransformer(securexml.Limits{})

	_, err := tr.Transform(path, "A", "scanner-1")
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "nmap", pe.ScannerType)
}

func TestNmapTransformSecurityRejection(t *testing.T) {
	path := writeScan(t, "scan.xml", `<!DOCTYPE nmaprun [<!ENTITY x "y">]><nmaprun/>`)
	tr := NewNmapTransformer(securexml.Limits{})

	_, err := tr.Transform(path, "A", "scanner-1")
	require.Error(t, err)
	assert.True(t, securexml.IsSecurityError(err))
}

func TestClassifyService(t *testing.T) {
	cases := []struct {
		name    string
		port    int
		service string
		product string
		want    models.ExposureClass
	}{
		{"postgres by port", 5432, "unknown", "", models.ClassDBExposed},
		{"smb by port", 445, "unknown", "", models.ClassFileshareExposed},
		{"docker api by port", 2375, "unknown", "", models.ClassContainerAPIExposed},
		{"rdp by port", 3389, "unknown", "", models.ClassRemoteAdminExposed},
		{"git daemon by port", 9418, "unknown", "", models.ClassVCSProtocolExposed},
		{"http by port", 8080, "unknown", "", models.ClassHTTPContentLeak},
		{"unlisted debugger", 5005, "jdwp", "", models.ClassUnknownServiceExposed},
		{"ssh by name on odd port", 2222, "ssh", "", models.ClassRemoteAdminExposed},
		{"mysql by name", 33060, "mysql", "", models.ClassDBExposed},
		{"http by name wins over product", 8443, "https-alt", "Jenkins", models.ClassHTTPContentLeak},
		{"jenkins by product", 49001, "unknown", "Jenkins httpd", models.ClassDebugPortExposed},
		{"docker by product", 49002, "unknown", "Docker Engine", models.ClassContainerAPIExposed},
		{"fallback", 49003, "unknown", "", models.ClassUnknownServiceExposed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyService(tc.port, tc.service, tc.product))
		})
	}
}

func TestServiceSeverity(t *testing.T) {
	assert.Equal(t, 90, ServiceSeverity(models.ClassDBExposed, ""))
	assert.Equal(t, 30, ServiceSeverity(models.ClassUnknownServiceExposed, ""))

	// High-risk product bump, capped at 100.
	assert.Equal(t, 95, ServiceSeverity(models.ClassContainerAPIExposed, "Docker Engine"))
	assert.Equal(t, 100, ServiceSeverity(models.ClassDBExposed, "kubernetes etcd"))
	assert.Equal(t, 70, ServiceSeverity(models.ClassRemoteAdminExposed, "OpenSSH"))
}
