package canonical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/supplychain-anchor/internal/models"
)

func testEvent() *models.Event {
	return &models.Event{
		ID:          "ev-1",
		EntityType:  "batch",
		EntityID:    42,
		EventType:   "recalled",
		Timestamp:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Description: "Batch recalled after temperature excursion",
		Severity:    "critical",
		Actor:       "operator-7",
		Location:    "Warehouse B",
		Metadata: map[string]interface{}{
			"temperature": 8.5,
			"threshold":   8,
			"sensor":      "S-114",
			"readings": map[string]interface{}{
				"max": 9.1,
				"min": 2.4,
			},
		},
	}
}

func TestCanonicalizeDeterministic(t *testing.T) {
	event := testEvent()

	first, err := Canonicalize(event)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		next, err := Canonicalize(event)
		require.NoError(t, err)
		assert.Equal(t, first, next, "canonical bytes must be identical across calls")
	}
}

func TestCanonicalizeKeyOrderIndependence(t *testing.T) {
	a := testEvent()
	b := testEvent()
	// Rebuild metadata with a different insertion order.
	b.Metadata = map[string]interface{}{
		"readings": map[string]interface{}{
			"min": 2.4,
			"max": 9.1,
		},
		"sensor":      "S-114",
		"threshold":   8,
		"temperature": 8.5,
	}

	bytesA, err := Canonicalize(a)
	require.NoError(t, err)
	bytesB, err := Canonicalize(b)
	require.NoError(t, err)

	assert.Equal(t, bytesA, bytesB)
}

func TestFingerprintTamperSensitivity(t *testing.T) {
	base, _, err := HashEvent(testEvent())
	require.NoError(t, err)

	mutations := map[string]func(*models.Event){
		"entity_type": func(e *models.Event) { e.EntityType = "pack" },
		"entity_id":   func(e *models.Event) { e.EntityID = 43 },
		"event_type":  func(e *models.Event) { e.EventType = "damaged" },
		"timestamp":   func(e *models.Event) { e.Timestamp = e.Timestamp.Add(time.Millisecond) },
		"description": func(e *models.Event) { e.Description = "edited" },
		"severity":    func(e *models.Event) { e.Severity = "high" },
		"actor":       func(e *models.Event) { e.Actor = "operator-8" },
		"location":    func(e *models.Event) { e.Location = "Warehouse C" },
		"metadata":    func(e *models.Event) { e.Metadata["sensor"] = "S-115" },
	}

	for field, mutate := range mutations {
		event := testEvent()
		mutate(event)
		digest, _, err := HashEvent(event)
		require.NoError(t, err)
		assert.NotEqual(t, base, digest, "changing %s must change the fingerprint", field)
	}
}

func TestFingerprintExcludedFieldIndependence(t *testing.T) {
	base, _, err := HashEvent(testEvent())
	require.NoError(t, err)

	event := testEvent()
	event.ID = "ev-other"
	event.DisplayName = "Paracetamol 500mg lot 114"
	event.IPAddress = "10.1.2.3"
	event.UserAgent = "curl/8.0"
	event.CreatedAt = time.Now()

	digest, _, err := HashEvent(event)
	require.NoError(t, err)
	assert.Equal(t, base, digest, "display-only fields must not affect the fingerprint")
}

func TestCanonicalizeAbsentFieldsUseSentinel(t *testing.T) {
	event := testEvent()
	event.Actor = ""
	event.Location = ""
	event.Metadata = nil

	canonicalBytes, err := Canonicalize(event)
	require.NoError(t, err)

	// Absent optional fields are serialized as explicit nulls, never
	// omitted.
	assert.Contains(t, string(canonicalBytes), `"actor":null`)
	assert.Contains(t, string(canonicalBytes), `"location":null`)
	assert.Contains(t, string(canonicalBytes), `"metadata":null`)

	// nil metadata and an empty map are the same absence.
	event2 := testEvent()
	event2.Actor = ""
	event2.Location = ""
	event2.Metadata = map[string]interface{}{}
	bytes2, err := Canonicalize(event2)
	require.NoError(t, err)
	assert.Equal(t, canonicalBytes, bytes2)
}

func TestCanonicalizeTimestampNormalizedToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)

	a := testEvent()
	b := testEvent()
	b.Timestamp = a.Timestamp.In(loc)

	bytesA, err := Canonicalize(a)
	require.NoError(t, err)
	bytesB, err := Canonicalize(b)
	require.NoError(t, err)

	assert.Equal(t, bytesA, bytesB)
	assert.Contains(t, string(bytesA), `"timestamp":"2024-01-01T00:00:00.000Z"`)
}

func TestCanonicalizeVersionTagEmbedded(t *testing.T) {
	canonicalBytes, err := Canonicalize(testEvent())
	require.NoError(t, err)
	assert.Contains(t, string(canonicalBytes), `"version":"1"`)
}

func TestCanonicalizeMalformedPayload(t *testing.T) {
	var canonErr *CanonicalizationError

	_, err := Canonicalize(nil)
	require.ErrorAs(t, err, &canonErr)

	event := testEvent()
	event.Timestamp = time.Time{}
	_, err = Canonicalize(event)
	require.ErrorAs(t, err, &canonErr)
	assert.Equal(t, "timestamp", canonErr.Field)

	event = testEvent()
	event.Metadata["callback"] = func() {}
	_, err = Canonicalize(event)
	require.ErrorAs(t, err, &canonErr)
}

func TestFingerprintFormat(t *testing.T) {
	digest, version, err := HashEvent(testEvent())
	require.NoError(t, err)
	assert.Len(t, digest, 64)
	assert.Equal(t, Version, version)
}
