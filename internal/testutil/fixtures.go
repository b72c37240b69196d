package testutil

import (
	"time"

	"github.com/parcelmap/server/internal/geodata"
)

// TestFixtures provides test data generators
type TestFixtures struct{}

// NewTestFixtures creates a new test fixtures helper
func NewTestFixtures() *TestFixtures {
	return &TestFixtures{}
}

// RandomString generates a random string of specified length
func RandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	seed := time.Now().UnixNano()
	for i := range b {
		seed = seed*1103515245 + 12345 // Simple LCG
		idx := int(seed % int64(len(charset)))
		if idx < 0 {
			idx = -idx
		}
		b[i] = charset[idx]
	}
	return string(b)
}

// RandomParcelName generates a random parcel name
func RandomParcelName() string {
	return "Parcel " + RandomString(6)
}

// Square returns an axis-aligned square ring with its south-west corner at
// (lat, lng).
func Square(lat, lng, size float64) geodata.Ring {
	return geodata.Ring{
		geodata.Pt(lat, lng),
		geodata.Pt(lat, lng+size),
		geodata.Pt(lat+size, lng+size),
		geodata.Pt(lat+size, lng),
	}
}

// SquareWKT is Square encoded as WKT.
func SquareWKT(lat, lng, size float64) string {
	return geodata.RingToWKT(Square(lat, lng, size))
}

// NewTestParcel creates backend parcel data with a square of the given size.
func (f *TestFixtures) NewTestParcel(lat, lng, size float64) BackendParcel {
	return BackendParcel{
		Name:          RandomParcelName(),
		Geodata:       SquareWKT(lat, lng, size),
		Color:         "#3388ff",
		Active:        true,
		StartValidity: "2024-01-01",
	}
}
