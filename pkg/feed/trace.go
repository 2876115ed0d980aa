package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// traceResponse is the envelope of the trace feed. Some deployments return
// the tuple list bare, so decoding falls back to a top-level array.
type traceResponse struct {
	ID    string            `json:"id"`
	Trace []json.RawMessage `json:"trace"`
}

// Trace fetches the historical path for one aircraft, filtered to points
// whose timestamp falls within window of now.
//
// The upstream format is a list of tuples [timestampSeconds, lat, lon,
// altitudeFt, ...]; trailing tuple elements are ignored. Tuples that are too
// short, non-numeric, or out of coordinate range are skipped individually.
func (c *Client) Trace(ctx context.Context, id string, window time.Duration) ([]TracePoint, error) {
	if id == "" {
		return nil, fmt.Errorf("empty aircraft id")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("id", id)

	body, err := c.getJSON(ctx, c.traceURL+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp traceResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Trace == nil {
		// Fall back to a bare tuple array.
		if err := json.Unmarshal(body, &resp.Trace); err != nil {
			return nil, fmt.Errorf("parse trace feed for %s: %w", id, err)
		}
	}

	cutoff := time.Now().Add(-window)
	points := make([]TracePoint, 0, len(resp.Trace))
	for _, raw := range resp.Trace {
		pt, ok := parseTraceTuple(raw)
		if !ok {
			continue
		}
		if pt.Timestamp.Before(cutoff) {
			continue
		}
		points = append(points, pt)
	}

	return points, nil
}

// parseTraceTuple decodes one [tsSeconds, lat, lon, altitudeFt, ...] tuple.
// Altitude may be absent or the string "ground"; both map to 0 ft.
func parseTraceTuple(raw json.RawMessage) (TracePoint, bool) {
	var tuple []interface{}
	if err := json.Unmarshal(raw, &tuple); err != nil {
		return TracePoint{}, false
	}
	if len(tuple) < 3 {
		return TracePoint{}, false
	}

	ts, ok := tuple[0].(float64)
	if !ok {
		return TracePoint{}, false
	}
	lat, ok := tuple[1].(float64)
	if !ok {
		return TracePoint{}, false
	}
	lon, ok := tuple[2].(float64)
	if !ok {
		return TracePoint{}, false
	}
	if !ValidCoordinate(lat, lon) {
		return TracePoint{}, false
	}

	pt := TracePoint{
		Lat: lat,
		Lon: lon,
		// Feed timestamps are epoch seconds with sub-second precision.
		Timestamp: time.UnixMilli(int64(ts * 1000)).UTC(),
	}
	if len(tuple) > 3 {
		if alt, g := parseAltitude(tuple[3]); alt != nil && !g {
			pt.AltitudeFt = *alt
		}
	}

	return pt, true
}
