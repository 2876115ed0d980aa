// Package feed provides HTTP clients for the two upstream position-data
// endpoints: the live snapshot feed and the per-aircraft historical trace
// feed. Both endpoints are operated by a third party and are handled
// defensively: rate limiting (HTTP 429), HTML maintenance pages returned in
// place of JSON, and individually malformed records are all expected inputs,
// not exceptional ones.
package feed

import (
	"encoding/json"
	"strings"
	"time"
)

// MetersPerFoot converts feet to meters. Altitude is converted exactly once,
// at ingestion; everything downstream works in meters.
const MetersPerFoot = 0.3048

// Aircraft is one observed aircraft at poll time. It is built fresh from the
// raw feed record on every poll cycle and never mutated afterwards; the next
// cycle's record for the same ID supersedes it.
type Aircraft struct {
	// ID is the feed's unique aircraft identifier (ICAO hex address)
	ID string `json:"id"`

	// Callsign is the flight number or registration, whitespace-trimmed.
	// Empty when the feed omits it.
	Callsign string `json:"callsign"`

	// Lat/Lon in decimal degrees (WGS84)
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`

	// AltitudeFt is the reported altitude in feet MSL
	AltitudeFt float64 `json:"altitudeFt"`

	// AltitudeM is AltitudeFt converted to meters at decode time
	AltitudeM float64 `json:"altitudeM"`

	// GroundSpeedKt in knots
	GroundSpeedKt float64 `json:"groundSpeedKt"`

	// TrackDeg is the ground track in degrees (0 = north)
	TrackDeg float64 `json:"trackDeg"`

	// VerticalRateFpm in feet per minute (positive = climbing)
	VerticalRateFpm float64 `json:"verticalRateFpm"`

	// OnGround reports whether the feed flagged the aircraft as on the ground
	OnGround bool `json:"onGround"`

	// Squawk is the transponder code, passed through opaquely
	Squawk string `json:"squawk"`

	// ObservedAt is the wall-clock capture time of the poll
	ObservedAt time.Time `json:"observedAt"`
}

// TracePoint is one historical position from the trace feed.
type TracePoint struct {
	Lat        float64
	Lon        float64
	AltitudeFt float64
	Timestamp  time.Time
}

// ValidCoordinate reports whether lat/lon form a usable WGS84 coordinate.
// Records failing this check are dropped individually; the rest of the
// snapshot is still processed.
func ValidCoordinate(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// positionRecord is the raw shape of one aircraft in the position feed.
// Every field is optional: the feed regularly omits velocity and squawk, and
// altitude can be the string "ground" instead of a number.
type positionRecord struct {
	Hex      string      `json:"hex"`
	Flight   *string     `json:"flight"`
	Lat      *float64    `json:"lat"`
	Lon      *float64    `json:"lon"`
	AltBaro  interface{} `json:"alt_baro"`
	AltGeom  interface{} `json:"alt_geom"`
	Gs       *float64    `json:"gs"`
	Track    *float64    `json:"track"`
	BaroRate *float64    `json:"baro_rate"`
	Squawk   string      `json:"squawk"`
}

// positionResponse is the envelope of the position feed.
type positionResponse struct {
	Aircraft []json.RawMessage `json:"ac"`
	Now      float64           `json:"now"`
	Total    int               `json:"total"`
}

// convertRecord maps a raw feed record into an Aircraft, defaulting missing
// numeric fields to 0 and missing strings to empty. It returns false when the
// record has no usable position.
func convertRecord(rec positionRecord, observedAt time.Time) (Aircraft, bool) {
	if rec.Lat == nil || rec.Lon == nil {
		return Aircraft{}, false
	}
	if !ValidCoordinate(*rec.Lat, *rec.Lon) {
		return Aircraft{}, false
	}

	ac := Aircraft{
		ID:         rec.Hex,
		Lat:        *rec.Lat,
		Lon:        *rec.Lon,
		Squawk:     rec.Squawk,
		ObservedAt: observedAt,
	}
	if rec.Flight != nil {
		ac.Callsign = strings.TrimSpace(*rec.Flight)
	}

	// Prefer geometric (GPS) altitude over barometric. Either can be the
	// string "ground", which marks the aircraft as on the ground.
	altFt, onGround := parseAltitude(rec.AltGeom)
	if !onGround && altFt == nil {
		altFt, onGround = parseAltitude(rec.AltBaro)
	}
	if !onGround {
		if _, g := parseAltitude(rec.AltBaro); g {
			onGround = true
		}
	}
	if altFt != nil {
		ac.AltitudeFt = *altFt
		ac.AltitudeM = *altFt * MetersPerFoot
	}
	ac.OnGround = onGround

	if rec.Gs != nil {
		ac.GroundSpeedKt = *rec.Gs
	}
	if rec.Track != nil {
		ac.TrackDeg = *rec.Track
	}
	if rec.BaroRate != nil {
		ac.VerticalRateFpm = *rec.BaroRate
	}

	return ac, true
}

// parseAltitude extracts an altitude value that can be a number or the string
// "ground". The bool reports the on-ground case.
func parseAltitude(val interface{}) (*float64, bool) {
	switch v := val.(type) {
	case float64:
		return &v, false
	case string:
		if v == "ground" {
			zero := 0.0
			return &zero, true
		}
		return nil, false
	default:
		return nil, false
	}
}
