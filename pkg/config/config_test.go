package config

import (
	"testing"
	"time"
)

func TestParseCities(t *testing.T) {
	cities, err := ParseCities("delhi|Delhi|IN|28.6139|77.2090, oslo|Oslo|NO|59.91|-10.75")
	if err != nil {
		t.Fatalf("ParseCities failed: %v", err)
	}

	if len(cities) != 2 {
		t.Fatalf("Expected 2 cities, got %d", len(cities))
	}
	if cities[0].ID != "delhi" || cities[0].Name != "Delhi" || cities[0].CountryCode != "IN" {
		t.Errorf("Unexpected first city: %+v", cities[0])
	}
	if cities[1].Lon != -10.75 {
		t.Errorf("Expected lon -10.75, got %v", cities[1].Lon)
	}
}

func TestParseCities_Invalid(t *testing.T) {
	cases := []string{
		"delhi|Delhi|IN|28.6",
		"delhi|Delhi|IN|abc|77.2",
		"delhi|Delhi|IN|95|77.2",
		"delhi|Delhi|IN|28.6|190",
		"|Delhi|IN|28.6|77.2",
		"delhi|Delhi|IN|28.6|77.2,delhi|Delhi|IN|28.6|77.2",
	}

	for _, raw := range cases {
		if _, err := ParseCities(raw); err == nil {
			t.Errorf("Expected error for %q", raw)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CITIES", "")
	t.Setenv("FETCH_INTERVAL", "")
	t.Setenv("TIMEZONE", "UTC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Cities) != 6 {
		t.Errorf("Expected 6 default cities, got %d", len(cfg.Cities))
	}
	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Errorf("Expected 5m interval, got %s", cfg.Scheduler.Interval)
	}
	if cfg.Queue.Backend != "redis" || cfg.Queue.Key != "emailNotification" {
		t.Errorf("Unexpected queue config: %+v", cfg.Queue)
	}
	if cfg.Delivery.MaxAttempts != 1 {
		t.Errorf("Expected at-most-once delivery by default, got %d attempts", cfg.Delivery.MaxAttempts)
	}
	if cfg.Location != time.UTC {
		t.Errorf("Expected UTC location, got %s", cfg.Location)
	}
}

func TestLoad_InvalidTimezone(t *testing.T) {
	t.Setenv("TIMEZONE", "Mars/Olympus_Mons")

	if _, err := Load(); err == nil {
		t.Error("Expected error for invalid timezone")
	}
}
