package geocode

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"googlemaps.github.io/maps"

	"go-civicreport/metrics"
	"go-civicreport/types"
)

// ReverseGeocoder is the subset of *maps.Client the resolver needs.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// Address component types, most specific first. Fine grained locality always
// wins over the coarse district when both are present.
var (
	fineTypes   = []string{"sublocality_level_1", "sublocality", "neighborhood"}
	coarseTypes = []string{"administrative_area_level_3"}
)

// NewMapsClient builds a Google Maps client from an API key.
func NewMapsClient(apiKey string) (*maps.Client, error) {
	if apiKey == "" {
		return nil, errors.New("GOOGLE_MAPS_API_KEY environment variable not set")
	}
	return maps.NewClient(maps.WithAPIKey(apiKey))
}

// Resolver turns coordinates into a ward name and a formatted address.
type Resolver struct {
	client   ReverseGeocoder
	sentinel string
	timeout  time.Duration
	log      *zap.SugaredLogger
}

// NewResolver accepts a nil client; every lookup then resolves to the sentinel.
func NewResolver(client ReverseGeocoder, sentinel string, timeout time.Duration, log *zap.SugaredLogger) *Resolver {
	return &Resolver{client: client, sentinel: sentinel, timeout: timeout, log: log.Named("geocode")}
}

// Resolve never fails: any provider problem yields the sentinel resolution.
// There is exactly one attempt per call.
func (r *Resolver) Resolve(ctx context.Context, lat, lon float64) types.GeoResolution {
	res, err := r.lookup(ctx, lat, lon)
	if err != nil {
		r.log.Warnf("reverse geocoding %f,%f failed: %v", lat, lon, err)
		metrics.ObserveGeocodeFailure()
		return types.UnresolvedGeo(r.sentinel)
	}
	return res
}

func (r *Resolver) lookup(ctx context.Context, lat, lon float64) (types.GeoResolution, error) {
	if r.client == nil {
		return types.GeoResolution{}, errors.New("no geocoding client configured")
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	results, err := r.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: lat, Lng: lon},
	})
	if err != nil {
		return types.GeoResolution{}, err
	}
	if len(results) == 0 {
		return types.GeoResolution{}, errors.New("no geocode results")
	}

	first := results[0]
	res := types.GeoResolution{
		AdminAreaName: AdminAreaName(first.AddressComponents, r.sentinel),
		FullAddress:   first.FormattedAddress,
	}
	if res.FullAddress == "" {
		res.FullAddress = r.sentinel
	}
	return res, nil
}

// AdminAreaName picks the finest available locality name from components.
func AdminAreaName(components []maps.AddressComponent, sentinel string) string {
	if name := findComponent(components, fineTypes); name != "" {
		return name
	}
	if name := findComponent(components, coarseTypes); name != "" {
		return name
	}
	return sentinel
}

func findComponent(components []maps.AddressComponent, wanted []string) string {
	for _, w := range wanted {
		for _, c := range components {
			if c.LongName == "" {
				continue
			}
			for _, t := range c.Types {
				if t == w {
					return c.LongName
				}
			}
		}
	}
	return ""
}
