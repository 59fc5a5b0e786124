package streams

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	minNameLength = 1
	maxNameLength = 50

	minTargetFPS = 1
	maxTargetFPS = 30

	// DefaultTargetFPS is applied when a create request omits the field.
	DefaultTargetFPS = 5
)

var allowedZoneMetrics = map[string]bool{
	"distance":    true,
	"coordinates": true,
	"size":        true,
}

// ValidateName trims the name and checks its length. Returns the
// trimmed value.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) < minNameLength || len(trimmed) > maxNameLength {
		return "", NewStreamError(ErrCodeInvalidParams,
			fmt.Sprintf("name must be %d-%d characters after trimming", minNameLength, maxNameLength), nil)
	}
	return trimmed, nil
}

// ValidateRTSPURL checks the scheme and host of a source URL.
func ValidateRTSPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return NewStreamError(ErrCodeInvalidRTSPURL, "rtsp_url is not a valid URL", err)
	}
	if u.Scheme != "rtsp" && u.Scheme != "rtsps" {
		return NewStreamError(ErrCodeInvalidRTSPURL,
			fmt.Sprintf("unsupported scheme %q, want rtsp or rtsps", u.Scheme), nil)
	}
	if u.Hostname() == "" {
		return NewStreamError(ErrCodeInvalidRTSPURL, "rtsp_url must include a host", nil)
	}
	return nil
}

// ValidateTargetFPS checks the requested rate bounds.
func ValidateTargetFPS(fps int) error {
	if fps < minTargetFPS || fps > maxTargetFPS {
		return NewStreamError(ErrCodeInvalidParams,
			fmt.Sprintf("target_fps must be in [%d,%d]", minTargetFPS, maxTargetFPS), nil)
	}
	return nil
}

// ValidateZones checks that every vertex is normalized and every
// enabled metric is a known name.
func ValidateZones(zones []Zone) error {
	for _, z := range zones {
		if len(z.Points) < 3 {
			return NewStreamError(ErrCodeInvalidParams,
				fmt.Sprintf("zone %q needs at least 3 points", z.Name), nil)
		}
		for _, p := range z.Points {
			if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
				return NewStreamError(ErrCodeInvalidParams,
					fmt.Sprintf("zone %q has a vertex outside [0,1]", z.Name), nil)
			}
		}
		for _, m := range z.EnabledMetrics {
			if !allowedZoneMetrics[m] {
				return NewStreamError(ErrCodeInvalidParams,
					fmt.Sprintf("zone %q enables unknown metric %q", z.Name, m), nil)
			}
		}
	}
	return nil
}

// ValidateRecord checks one catalogue record against the data model
// invariants. Order contiguity and name uniqueness are catalogue-level
// checks done by ValidateCatalogue.
func ValidateRecord(s Stream) error {
	if s.ID == "" {
		return NewStreamError(ErrCodeSchema, "record has no id", nil)
	}
	if _, err := ValidateName(s.Name); err != nil {
		return NewStreamError(ErrCodeSchema, fmt.Sprintf("record %s: invalid name", s.ID), err)
	}
	if err := ValidateRTSPURL(s.RTSPURL); err != nil {
		return NewStreamError(ErrCodeSchema, fmt.Sprintf("record %s: invalid rtsp_url", s.ID), err)
	}
	if !s.Status.Valid() {
		return NewStreamError(ErrCodeSchema,
			fmt.Sprintf("record %s: unknown status %q", s.ID, s.Status), nil)
	}
	if s.Order < 0 {
		return NewStreamError(ErrCodeSchema,
			fmt.Sprintf("record %s: negative order %d", s.ID, s.Order), nil)
	}
	if s.TargetFPS != 0 {
		if err := ValidateTargetFPS(s.TargetFPS); err != nil {
			return NewStreamError(ErrCodeSchema, fmt.Sprintf("record %s: invalid target_fps", s.ID), err)
		}
	}
	if err := ValidateZones(s.Zones); err != nil {
		return NewStreamError(ErrCodeSchema, fmt.Sprintf("record %s: invalid zones", s.ID), err)
	}
	return nil
}

// ValidateCatalogue checks catalogue-level invariants: CI-unique names
// and orders forming a contiguous permutation of [0..N-1].
func ValidateCatalogue(list []Stream) error {
	seenNames := make(map[string]string, len(list))
	seenOrders := make(map[int]bool, len(list))
	for _, s := range list {
		if err := ValidateRecord(s); err != nil {
			return err
		}
		key := strings.ToLower(strings.TrimSpace(s.Name))
		if other, dup := seenNames[key]; dup {
			return NewStreamError(ErrCodeSchema,
				fmt.Sprintf("records %s and %s share the name %q", other, s.ID, s.Name), nil)
		}
		seenNames[key] = s.ID
		if s.Order >= len(list) || seenOrders[s.Order] {
			return NewStreamError(ErrCodeSchema,
				fmt.Sprintf("orders are not a contiguous permutation, record %s has order %d", s.ID, s.Order), nil)
		}
		seenOrders[s.Order] = true
	}
	return nil
}
