package parcels

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/parcelmap/server/internal/geodata"
)

// RingGeometry converts a ring to a closed orb polygon. A ring that cannot
// enclose area becomes a polygon without rings.
func RingGeometry(ring geodata.Ring) orb.Polygon {
	if len(ring) < 3 {
		return orb.Polygon{}
	}
	r := make(orb.Ring, 0, len(ring)+1)
	for _, p := range ring {
		r = append(r, orb.Point{p.Lng, p.Lat})
	}
	if !r[0].Equal(r[len(r)-1]) {
		r = append(r, r[0])
	}
	return orb.Polygon{r}
}

// Feature renders one parcel. Parcels without usable geometry get an empty
// polygon and stay in the output so lists remain complete.
func Feature(p Parcel) *geojson.Feature {
	f := geojson.NewFeature(RingGeometry(p.Ring))
	f.ID = p.ID
	f.Properties["name"] = p.Name
	f.Properties["color"] = p.Color
	f.Properties["visible"] = p.Visible
	f.Properties["version"] = p.Version
	f.Properties["editable"] = p.Editable()
	f.Properties["unsaved"] = p.IsTemp()
	if p.ValidationStatus != "" {
		f.Properties["validationStatus"] = p.ValidationStatus
	}
	if p.FarmID != "" {
		f.Properties["farmId"] = p.FarmID
	}
	return f
}

// FeatureCollection renders every parcel in order.
func (c Collection) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range c.items {
		fc.Append(Feature(p))
	}
	return fc
}

// OverlayFeature renders a bare ring with a role property, used for preview
// layers that are not parcels.
func OverlayFeature(role string, ring geodata.Ring) *geojson.Feature {
	f := geojson.NewFeature(RingGeometry(ring))
	f.Properties["role"] = role
	return f
}
