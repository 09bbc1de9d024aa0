// Package canonical produces the deterministic byte encoding and
// fingerprint of an event's integrity-relevant fields. The encoding is
// versioned: a version tag travels inside the canonical envelope, so
// events anchored under older rules remain re-verifiable.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/smartdevs17/supplychain-anchor/internal/models"
)

// Version identifies the active whitelist and encoding rules.
const Version = "1"

// timestampLayout normalizes timestamps to UTC millisecond ISO-8601.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// CanonicalizationError indicates a payload that cannot be encoded
// deterministically. It is fatal: the coordinator never retries it.
type CanonicalizationError struct {
	Field  string
	Reason string
}

func (e *CanonicalizationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("canonicalization failed for field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("canonicalization failed: %s", e.Reason)
}

// Canonicalize encodes the whitelisted fields of an event into a
// deterministic byte sequence under the current version.
//
// Whitelist v1: entity_type, entity_id, event_type, timestamp,
// description, metadata, severity, actor, location. Display-only and
// request-provenance fields are excluded on purpose: ambiguity there
// would silently weaken tamper detection.
func Canonicalize(event *models.Event) ([]byte, error) {
	if event == nil {
		return nil, &CanonicalizationError{Reason: "nil event"}
	}
	if event.Timestamp.IsZero() {
		return nil, &CanonicalizationError{Field: "timestamp", Reason: "zero timestamp"}
	}

	payload := map[string]interface{}{
		"entity_type": event.EntityType,
		"entity_id":   json.Number(strconv.FormatInt(event.EntityID, 10)),
		"event_type":  event.EventType,
		"timestamp":   event.Timestamp.UTC().Format(timestampLayout),
		"description": event.Description,
		"severity":    event.Severity,
		// Absent optional fields are encoded as an explicit null
		// sentinel, never omitted, so "absent" and "empty" stay
		// distinguishable across versions.
		"metadata": nullable(event.Metadata),
		"actor":    nullableString(event.Actor),
		"location": nullableString(event.Location),
	}

	envelope := map[string]interface{}{
		"fields":  payload,
		"version": Version,
	}

	var buf bytes.Buffer
	if err := encodeValue(&buf, "", envelope); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func nullable(m map[string]interface{}) interface{} {
	if len(m) == 0 {
		return nil
	}
	return m
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// encodeValue writes the canonical form of v. Map keys are sorted
// lexicographically at every nesting level. Numbers are rendered in one
// fixed textual form, never locale-dependent.
func encodeValue(buf *bytes.Buffer, field string, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		return encodeString(buf, t)
	case json.Number:
		buf.WriteString(t.String())
	case int:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(t, 10))
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return &CanonicalizationError{Field: field, Reason: "non-finite number"}
		}
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			buf.WriteString(strconv.FormatInt(int64(t), 10))
		} else {
			buf.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
		}
	case time.Time:
		return encodeString(buf, t.UTC().Format(timestampLayout))
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, field, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encodeValue(buf, k, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return &CanonicalizationError{
			Field:  field,
			Reason: fmt.Sprintf("unsupported type %T", v),
		}
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return &CanonicalizationError{Reason: err.Error()}
	}
	// json.Encoder appends a newline; trim it
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}
