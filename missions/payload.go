package missions

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Violation names one constraint a waypoints payload failed.
type Violation struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
}

func (v Violation) String() string {
	return v.Field + ": " + v.Problem
}

// WaypointsRequest is a validated set-waypoints payload. PK 0 addresses the
// active mission.
type WaypointsRequest struct {
	PK        int64
	Positions []AerialPosition
}

var waypointKeys = []string{"latitude", "longitude", "altitude_msl"}

// ParseWaypointsRequest checks body against the set-waypoints schema. A
// non-nil error means the body is not JSON at all; otherwise every violated
// constraint is reported and the request is only usable when none are.
func ParseWaypointsRequest(body []byte) (WaypointsRequest, []Violation, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return WaypointsRequest{}, nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return WaypointsRequest{}, nil, errors.New("unexpected data after JSON payload")
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return WaypointsRequest{}, []Violation{{Field: "body", Problem: "must be an object"}}, nil
	}

	var (
		req        WaypointsRequest
		violations []Violation
	)

	if pk, present := obj["pk"]; !present {
		violations = append(violations, Violation{Field: "pk", Problem: "is required"})
	} else if id, ok := integer(pk); !ok {
		violations = append(violations, Violation{Field: "pk", Problem: "must be an integer"})
	} else {
		req.PK = id
	}

	raw, present := obj["waypoints"]
	if !present {
		violations = append(violations, Violation{Field: "waypoints", Problem: "is required"})
		return req, violations, nil
	}
	list, ok := raw.([]any)
	if !ok {
		violations = append(violations, Violation{Field: "waypoints", Problem: "must be a list"})
		return req, violations, nil
	}

	req.Positions = make([]AerialPosition, 0, len(list))
	for i, item := range list {
		field := fmt.Sprintf("waypoints[%d]", i)
		wp, ok := item.(map[string]any)
		if !ok {
			violations = append(violations, Violation{Field: field, Problem: "must be an object"})
			continue
		}

		var values [3]float64
		valid := true
		for k, key := range waypointKeys {
			v, present := wp[key]
			if !present {
				violations = append(violations, Violation{Field: field + "." + key, Problem: "is required"})
				valid = false
				continue
			}
			f, ok := number(v)
			if !ok {
				violations = append(violations, Violation{Field: field + "." + key, Problem: "must be a number"})
				valid = false
				continue
			}
			values[k] = f
		}
		if valid {
			req.Positions = append(req.Positions, AerialPosition{
				GeoPoint:    GeoPoint{Latitude: values[0], Longitude: values[1]},
				AltitudeMSL: values[2],
			})
		}
	}

	return req, violations, nil
}

// integer accepts JSON numbers written without a fraction or exponent.
func integer(v any) (int64, bool) {
	n, ok := v.(json.Number)
	if !ok || strings.ContainsAny(n.String(), ".eE") {
		return 0, false
	}
	id, err := n.Int64()
	return id, err == nil
}

func number(v any) (float64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	return f, err == nil
}
