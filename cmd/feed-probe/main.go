// feed-probe is a diagnostic program that exercises the upstream feed client
// once: it fetches a snapshot, prints what it got, and optionally pulls the
// historical trace for the first airborne aircraft. Useful when pointing the
// daemon at a new feed deployment.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/rkpu-viewer/livetrack/pkg/config"
	"github.com/rkpu-viewer/livetrack/pkg/feed"
	"github.com/rkpu-viewer/livetrack/pkg/geo"
)

func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	lat := flag.Float64("lat", 0, "Override center latitude")
	lon := flag.Float64("lon", 0, "Override center longitude")
	radius := flag.Float64("radius", 0, "Override search radius (nm)")
	withTrace := flag.Bool("trace", false, "Also fetch a trace for the first airborne aircraft")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *lat != 0 {
		cfg.Track.CenterLat = *lat
	}
	if *lon != 0 {
		cfg.Track.CenterLon = *lon
	}
	if *radius != 0 {
		cfg.Track.RadiusNM = *radius
	}

	log.Println("Feed probe")
	log.Printf("Position feed: %s", cfg.Feed.PositionURL)
	log.Printf("Center: %.4f, %.4f (%.0f nm)", cfg.Track.CenterLat, cfg.Track.CenterLon, cfg.Track.RadiusNM)
	log.Println("=====================================")

	client := feed.NewClient(feed.Config{
		PositionURL:       cfg.Feed.PositionURL,
		TraceURL:          cfg.Feed.TraceURL,
		RequestsPerSecond: cfg.Feed.RequestsPerSecond,
		Timeout:           cfg.Feed.Timeout(),
	}, log.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	aircraft, err := client.Positions(ctx, cfg.Track.CenterLat, cfg.Track.CenterLon, cfg.Track.RadiusNM)
	if err != nil {
		if rle, ok := feed.IsRateLimitError(err); ok {
			log.Fatalf("Rate limited by upstream (retry after %v)", rle.RetryAfter)
		}
		log.Fatalf("Failed to fetch snapshot: %v", err)
	}

	log.Printf("Found %d aircraft", len(aircraft))
	var traceID string
	for i, ac := range aircraft {
		if i >= 10 {
			log.Printf("... and %d more aircraft", len(aircraft)-10)
			break
		}
		log.Printf("\nAircraft #%d:", i+1)
		log.Printf("  ID:       %s", ac.ID)
		log.Printf("  Callsign: %s", ac.Callsign)
		log.Printf("  Position: %.4f, %.4f", ac.Lat, ac.Lon)
		log.Printf("  Range:    %.1f nm, bearing %03.0f° from center",
			geo.DistanceNM(cfg.Track.CenterLat, cfg.Track.CenterLon, ac.Lat, ac.Lon),
			geo.BearingDeg(cfg.Track.CenterLat, cfg.Track.CenterLon, ac.Lat, ac.Lon))
		log.Printf("  Altitude: %.0f ft (%.0f m)", ac.AltitudeFt, ac.AltitudeM)
		log.Printf("  Speed:    %.0f kt, track %.0f°", ac.GroundSpeedKt, ac.TrackDeg)
		log.Printf("  V/S:      %.0f fpm", ac.VerticalRateFpm)
		if ac.OnGround {
			log.Printf("  Status:   on ground")
		}
		if traceID == "" && !ac.OnGround {
			traceID = ac.ID
		}
	}

	if *withTrace && traceID != "" {
		log.Println("\n=====================================")
		log.Printf("Fetching trace for %s...", traceID)
		points, err := client.Trace(ctx, traceID, cfg.Track.TrailDuration())
		if err != nil {
			log.Fatalf("Failed to fetch trace: %v", err)
		}
		log.Printf("Got %d points within %v", len(points), cfg.Track.TrailDuration())
		for i, pt := range points {
			if i >= 5 {
				log.Printf("... and %d more points", len(points)-5)
				break
			}
			log.Printf("  %s  %.4f, %.4f  %.0f ft",
				pt.Timestamp.Format("15:04:05"), pt.Lat, pt.Lon, pt.AltitudeFt)
		}
	}

	log.Println("\nProbe complete")
}
