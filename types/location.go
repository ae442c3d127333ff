package types

// LocationPoint is a caller supplied coordinate pair. lat/lng match the
// submit payload keys sent by the reporting client.
type LocationPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lng"`
}

// GeoPoint is a GeoJSON point, coordinates are stored longitude first.
type GeoPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func NewGeoPoint(loc LocationPoint) GeoPoint {
	return GeoPoint{
		Type:        "Point",
		Coordinates: []float64{loc.Lon, loc.Lat},
	}
}

// Point converts back to a lat/lon pair. Malformed coordinates yield the zero point.
func (g GeoPoint) Point() LocationPoint {
	if len(g.Coordinates) < 2 {
		return LocationPoint{}
	}
	return LocationPoint{Lat: g.Coordinates[1], Lon: g.Coordinates[0]}
}

// GeoResolution is the best effort reverse geocoding result. Fields are never
// empty: a failed lookup carries the configured sentinel instead.
type GeoResolution struct {
	AdminAreaName string `json:"ward_name"`
	FullAddress   string `json:"full_address"`
}

func UnresolvedGeo(sentinel string) GeoResolution {
	return GeoResolution{AdminAreaName: sentinel, FullAddress: sentinel}
}
