package store

import (
	"fmt"
	"time"

	"github.com/truenicoco/slidge-sub000/internal/model"
)

// toMicros converts t to UTC microseconds; the zero time maps to 0.
func toMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMicro()
}

// fromMicros reverses toMicros.
func fromMicros(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// marshalProfile serializes a profile to canonical JSON.
func marshalProfile(p model.Profile) (string, error) {
	data, err := model.MarshalCanonical(p)
	if err != nil {
		return "", fmt.Errorf("marshal profile: %w", err)
	}
	return string(data), nil
}

// unmarshalProfile deserializes a profile column.
func unmarshalProfile(data string) (model.Profile, error) {
	var p model.Profile
	if err := model.UnmarshalBlob([]byte(data), &p); err != nil {
		return model.Profile{}, fmt.Errorf("unmarshal profile: %w", err)
	}
	return p, nil
}
