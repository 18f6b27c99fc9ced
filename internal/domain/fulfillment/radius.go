package fulfillment

import (
	"context"
	"fmt"
	"math"
)

const earthRadiusKM = 6371.0

var _ EligibilityChecker = (*RadiusChecker)(nil)

// RadiusChecker marks an address deliverable when it lies within RadiusKM of
// the store, measured along the great circle.
type RadiusChecker struct {
	StoreLatitude  float64
	StoreLongitude float64
	RadiusKM       float64
}

// Check implements EligibilityChecker.
func (c *RadiusChecker) Check(_ context.Context, addr Address) (Eligibility, error) {
	if !addr.HasCoordinates() {
		return Eligibility{Reason: "address has no coordinates"}, nil
	}
	dist := haversineKM(c.StoreLatitude, c.StoreLongitude, *addr.Latitude, *addr.Longitude)
	if dist > c.RadiusKM {
		return Eligibility{
			Reason: fmt.Sprintf("address is %.1f km away, delivery radius is %.1f km", dist, c.RadiusKM),
		}, nil
	}
	return Eligibility{Eligible: true}, nil
}

func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(a))
}
