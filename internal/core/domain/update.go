package domain

import (
	"encoding/json"
	"fmt"
)

var updatableFields = map[string]bool{
	"sdp":           true,
	"type":          true,
	"candidate":     true,
	"sdpMid":        true,
	"sdpMLineIndex": true,
	"videoCall":     true,
	"active":        true,
	"duration":      true,
	"status":        true,
}

// ApplyFields returns a copy of c with the JSON-named fields overwritten.
// Identity fields (id, callerId, calleeId, roomId, timestamp) cannot be updated.
func ApplyFields(c *Call, fields map[string]interface{}) (*Call, error) {
	for key := range fields {
		if !updatableFields[key] {
			return nil, fmt.Errorf("%w: field %q is not updatable", ErrInvalidCall, key)
		}
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal call: %w", err)
	}
	doc := map[string]interface{}{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal call: %w", err)
	}
	for k, v := range fields {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}

	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal update: %w", err)
	}
	var out Call
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCall, err)
	}
	return &out, nil
}
