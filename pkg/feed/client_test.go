package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// testClient builds a client against a test server with pacing effectively
// disabled so tests stay fast.
func testClient(positionURL, traceURL string) *Client {
	return NewClient(Config{
		PositionURL:       positionURL,
		TraceURL:          traceURL,
		RequestsPerSecond: 1000,
	}, nil)
}

func TestPositions(t *testing.T) {
	t.Run("Successful request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("lat") != "35.5900" || q.Get("lon") != "129.3500" || q.Get("radius") != "80" {
				t.Errorf("Unexpected query: %s", r.URL.RawQuery)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"ac":[
				{"hex":"a1","flight":" KAL123 ","lat":35.59,"lon":129.35,"alt_baro":1000,"gs":250,"track":90,"baro_rate":500,"squawk":"2000"}
			],"total":1}`))
		}))
		defer server.Close()

		client := testClient(server.URL, "")
		aircraft, err := client.Positions(context.Background(), 35.59, 129.35, 80)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(aircraft) != 1 {
			t.Fatalf("Expected 1 aircraft, got %d", len(aircraft))
		}

		ac := aircraft[0]
		if ac.ID != "a1" {
			t.Errorf("Expected ID a1, got %s", ac.ID)
		}
		if ac.Callsign != "KAL123" {
			t.Errorf("Expected trimmed callsign KAL123, got %q", ac.Callsign)
		}
		if ac.AltitudeFt != 1000 {
			t.Errorf("Expected altitude 1000 ft, got %f", ac.AltitudeFt)
		}
		if ac.AltitudeM != 1000*MetersPerFoot {
			t.Errorf("Expected altitude %.1f m, got %f", 1000*MetersPerFoot, ac.AltitudeM)
		}
		if ac.OnGround {
			t.Error("Expected airborne aircraft")
		}
		if ac.Squawk != "2000" {
			t.Errorf("Expected squawk 2000, got %s", ac.Squawk)
		}
		if ac.ObservedAt.IsZero() {
			t.Error("Expected ObservedAt to be set")
		}
	})

	t.Run("Missing fields default to zero", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"ac":[{"hex":"a2","lat":10,"lon":20}]}`))
		}))
		defer server.Close()

		client := testClient(server.URL, "")
		aircraft, err := client.Positions(context.Background(), 10, 20, 50)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(aircraft) != 1 {
			t.Fatalf("Expected 1 aircraft, got %d", len(aircraft))
		}
		ac := aircraft[0]
		if ac.Callsign != "" || ac.GroundSpeedKt != 0 || ac.TrackDeg != 0 || ac.VerticalRateFpm != 0 || ac.AltitudeFt != 0 {
			t.Errorf("Expected zero defaults, got %+v", ac)
		}
	})

	t.Run("Ground aircraft flagged", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"ac":[{"hex":"a3","lat":10,"lon":20,"alt_baro":"ground"}]}`))
		}))
		defer server.Close()

		client := testClient(server.URL, "")
		aircraft, err := client.Positions(context.Background(), 10, 20, 50)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(aircraft) != 1 || !aircraft[0].OnGround {
			t.Errorf("Expected one on-ground aircraft, got %+v", aircraft)
		}
	})

	t.Run("Invalid coordinates dropped individually", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"ac":[
				{"hex":"ok1","lat":35.0,"lon":129.0},
				{"hex":"bad1","lat":95.0,"lon":129.0},
				{"hex":"bad2","lat":35.0,"lon":-185.0},
				{"hex":"bad3","lat":"north","lon":129.0},
				{"hex":"bad4","lon":129.0},
				{"hex":"ok2","lat":36.0,"lon":128.0}
			]}`))
		}))
		defer server.Close()

		client := testClient(server.URL, "")
		aircraft, err := client.Positions(context.Background(), 35, 129, 50)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(aircraft) != 2 {
			t.Fatalf("Expected 2 valid aircraft, got %d", len(aircraft))
		}
		if aircraft[0].ID != "ok1" || aircraft[1].ID != "ok2" {
			t.Errorf("Wrong survivors: %s, %s", aircraft[0].ID, aircraft[1].ID)
		}
	})

	t.Run("Rate limited returns RateLimitError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := testClient(server.URL, "")
		_, err := client.Positions(context.Background(), 35, 129, 50)
		if err == nil {
			t.Fatal("Expected error, got nil")
		}
		rle, ok := IsRateLimitError(err)
		if !ok {
			t.Fatalf("Expected RateLimitError, got %v", err)
		}
		if rle.RetryAfter != 30*time.Second {
			t.Errorf("Expected retry after 30s, got %v", rle.RetryAfter)
		}
	})

	t.Run("HTML body rejected by content type", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html><body>Maintenance</body></html>"))
		}))
		defer server.Close()

		client := testClient(server.URL, "")
		_, err := client.Positions(context.Background(), 35, 129, 50)
		if err == nil {
			t.Fatal("Expected error for HTML response")
		}
		if _, ok := IsRateLimitError(err); ok {
			t.Error("HTML response must not look like a rate limit")
		}
	})

	t.Run("HTML body rejected by sniffing despite JSON content type", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte("<html>surprise</html>"))
		}))
		defer server.Close()

		client := testClient(server.URL, "")
		if _, err := client.Positions(context.Background(), 35, 129, 50); err == nil {
			t.Fatal("Expected error for sniffed non-JSON body")
		}
	})

	t.Run("HTTP error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := testClient(server.URL, "")
		if _, err := client.Positions(context.Background(), 35, 129, 50); err == nil {
			t.Fatal("Expected error for 500 response")
		}
	})

	t.Run("Input validation", func(t *testing.T) {
		client := testClient("http://unused.invalid", "")
		if _, err := client.Positions(context.Background(), 95, 0, 50); err == nil {
			t.Error("Expected error for out-of-range latitude")
		}
		if _, err := client.Positions(context.Background(), 35, 129, 0); err == nil {
			t.Error("Expected error for non-positive radius")
		}
	})

	t.Run("Cancelled context", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer server.Close()

		client := testClient(server.URL, "")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := client.Positions(ctx, 35, 129, 50); err == nil {
			t.Fatal("Expected error for cancelled context")
		}
	})
}

func TestValidCoordinate(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{"origin", 0, 0, true},
		{"bounds", 90, 180, true},
		{"negative bounds", -90, -180, true},
		{"lat too high", 90.01, 0, false},
		{"lat too low", -90.01, 0, false},
		{"lon too high", 0, 180.01, false},
		{"lon too low", 0, -180.01, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidCoordinate(tt.lat, tt.lon); got != tt.want {
				t.Errorf("ValidCoordinate(%v, %v) = %v, want %v", tt.lat, tt.lon, got, tt.want)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected time.Duration
	}{
		{"Empty header", "", 0},
		{"Delay seconds", "30", 30 * time.Second},
		{"Zero seconds", "0", 0},
		{"Negative", "-10", 0},
		{"Invalid string", "soon", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			if tt.header != "" {
				headers.Set("Retry-After", tt.header)
			}
			if got := parseRetryAfter(headers); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestLooksLikeJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"object", `{"a":1}`, true},
		{"array", `[1,2]`, true},
		{"leading whitespace", "\n\t {}", true},
		{"html", "<html></html>", false},
		{"empty", "", false},
		{"plain text", "service unavailable", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := looksLikeJSON([]byte(tt.body)); got != tt.want {
				t.Errorf("looksLikeJSON(%q) = %v, want %v", tt.body, got, tt.want)
			}
		})
	}
}
