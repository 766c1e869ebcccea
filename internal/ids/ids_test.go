package ids

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExposureIDDeterministic(t *testing.T) {
	port := 22
	a := ExposureID("office-1", "10.0.0.5", "10.0.0.5", &port, "ssh", "remote_admin_exposed")
	b := ExposureID("office-1", "10.0.0.5", "10.0.0.5", &port, "ssh", "remote_admin_exposed")

	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestExposureIDSensitiveToEveryField(t *testing.T) {
	port := 22
	base := ExposureID("office-1", "10.0.0.5", "10.0.0.5", &port, "ssh", "remote_admin_exposed")

	otherPort := 2222
	variants := []string{
		ExposureID("office-2", "10.0.0.5", "10.0.0.5", &port, "ssh", "remote_admin_exposed"),
		ExposureID("office-1", "10.0.0.6", "10.0.0.5", &port, "ssh", "remote_admin_exposed"),
		ExposureID("office-1", "10.0.0.5", "10.0.0.6", &port, "ssh", "remote_admin_exposed"),
		ExposureID("office-1", "10.0.0.5", "10.0.0.5", &otherPort, "ssh", "remote_admin_exposed"),
		ExposureID("office-1", "10.0.0.5", "10.0.0.5", &port, "telnet", "remote_admin_exposed"),
		ExposureID("office-1", "10.0.0.5", "10.0.0.5", &port, "ssh", "unknown_service_exposed"),
	}
	for i, v := range variants {
		assert.NotEqual(t, base, v, "variant %d should differ from base", i)
	}
}

func TestExposureIDNilPort(t *testing.T) {
	a := ExposureID("office-1", "10.0.0.5", "10.0.0.5", nil, "icmp", "unknown_service_exposed")
	b := ExposureID("office-1", "10.0.0.5", "10.0.0.5", nil, "icmp", "unknown_service_exposed")
	assert.Equal(t, a, b)

	zero := 0
	assert.NotEqual(t, a, ExposureID("office-1", "10.0.0.5", "10.0.0.5", &zero, "icmp", "unknown_service_exposed"),
		"nil port and port 0 must hash differently")
}

func TestDedupeKeyDistinguishesProduct(t *testing.T) {
	port := 80
	a := DedupeKey("office-1", "10.0.0.5", "10.0.0.5", &port, "http", "http_content_leak", "nginx")
	b := DedupeKey("office-1", "10.0.0.5", "10.0.0.5", &port, "http", "http_content_leak", "apache")
	assert.NotEqual(t, a, b)

	// Same inputs collapse onto the exposure identity plus product.
	assert.Equal(t, a, DedupeKey("office-1", "10.0.0.5", "10.0.0.5", &port, "http", "http_content_leak", "nginx"))
}

func TestEventIDUniqueAndOrdered(t *testing.T) {
	first := EventID()
	parsed, err := uuid.Parse(first)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())

	seen := map[string]bool{first: true}
	for i := 0; i < 100; i++ {
		id := EventID()
		assert.False(t, seen[id], "duplicate event id %s", id)
		seen[id] = true
	}

	// v7 ids generated across a clock tick sort lexicographically.
	time.Sleep(2 * time.Millisecond)
	later := EventID()
	assert.Less(t, first, later)
}
