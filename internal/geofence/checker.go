package geofence

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Checker answers containment questions. Production deployments back this
// with the geofence storage collaborator's point-in-polygon query; the
// bundled CircleChecker serves single-node setups and tests.
type Checker interface {
	ZoneIDs(ctx context.Context) ([]string, error)
	Contains(ctx context.Context, zoneID string, lat, lon float64) (bool, error)
}

const earthRadiusMeters = 6371000

// Zone is a circular geofence: a center point plus a radius in meters.
type Zone struct {
	ID           string  `yaml:"id"`
	Name         string  `yaml:"name"`
	Latitude     float64 `yaml:"latitude"`
	Longitude    float64 `yaml:"longitude"`
	RadiusMeters float64 `yaml:"radius_meters"`
}

type zoneFile struct {
	Zones []Zone `yaml:"zones"`
}

// CircleChecker is an in-memory Checker over circular zones.
type CircleChecker struct {
	mu    sync.RWMutex
	zones map[string]Zone
	order []string
}

func NewCircleChecker(zones []Zone) *CircleChecker {
	c := &CircleChecker{zones: make(map[string]Zone, len(zones))}
	for _, z := range zones {
		if _, dup := c.zones[z.ID]; !dup {
			c.order = append(c.order, z.ID)
		}
		c.zones[z.ID] = z
	}
	return c
}

// LoadZones reads circular zone definitions from a YAML file.
func LoadZones(path string) ([]Zone, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zone file: %w", err)
	}

	var f zoneFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse zone file %s: %w", path, err)
	}

	for i, z := range f.Zones {
		if z.ID == "" {
			return nil, fmt.Errorf("zone %d in %s has no id", i, path)
		}
		if z.RadiusMeters <= 0 {
			return nil, fmt.Errorf("zone %s has non-positive radius", z.ID)
		}
	}
	return f.Zones, nil
}

func (c *CircleChecker) ZoneIDs(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, len(c.order))
	copy(ids, c.order)
	return ids, nil
}

func (c *CircleChecker) Contains(_ context.Context, zoneID string, lat, lon float64) (bool, error) {
	c.mu.RLock()
	zone, ok := c.zones[zoneID]
	c.mu.RUnlock()

	if !ok {
		return false, fmt.Errorf("unknown zone %q", zoneID)
	}
	return haversine(lat, lon, zone.Latitude, zone.Longitude) <= zone.RadiusMeters, nil
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
