/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"strings"
)

const truncatedSuffix = "..."

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// ShapeJSON reduces a JSON document: containers nested deeper than MaxDepth are replaced by a short summary,
// strings are cut to MaxStringLength, and arrays to MaxArrayLength items.
// changed is false if the document already fits the limits; the original bytes are returned then.
func ShapeJSON(body []byte, limits ShapingConfig) (shaped []byte, changed bool, err error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc interface{}
	if err = dec.Decode(&doc); err != nil {
		return nil, false, fmt.Errorf("decode json: %w", err)
	}
	s := shaper{limits: limits}
	doc = s.shape(doc, 1)
	if !s.changed {
		return body, false, nil
	}
	if shaped, err = json.Marshal(doc); err != nil {
		return nil, false, fmt.Errorf("encode json: %w", err)
	}
	return shaped, true, nil
}

type shaper struct {
	limits  ShapingConfig
	changed bool
}

func (s *shaper) shape(v interface{}, depth int) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		if depth > s.limits.MaxDepth {
			s.changed = true
			return fmt.Sprintf("{%d keys}", len(val))
		}
		for k, item := range val {
			val[k] = s.shape(item, depth+1)
		}
		return val
	case []interface{}:
		if depth > s.limits.MaxDepth {
			s.changed = true
			return fmt.Sprintf("[%d items]", len(val))
		}
		if len(val) > s.limits.MaxArrayLength {
			s.changed = true
			val = val[:s.limits.MaxArrayLength]
		}
		for i, item := range val {
			val[i] = s.shape(item, depth+1)
		}
		return val
	case string:
		if r := []rune(val); len(r) > s.limits.MaxStringLength {
			s.changed = true
			return string(r[:s.limits.MaxStringLength]) + truncatedSuffix
		}
		return val
	}
	return v
}
