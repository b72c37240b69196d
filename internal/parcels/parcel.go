package parcels

import (
	"fmt"
	"strings"
	"time"

	"github.com/parcelmap/server/internal/geodata"
)

// TempIDPrefix marks ids generated locally for records the backend has not
// acknowledged yet.
const TempIDPrefix = "poly-"

// Validation states reported by the import backend.
const (
	ValidationPending   = "pending"
	ValidationValidated = "validated"
)

// Parcel is one land parcel as rendered on the map.
type Parcel struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Ring             geodata.Ring `json:"ring"`
	Visible          bool         `json:"visible"`
	Color            string       `json:"color"`
	Version          int          `json:"version"`
	ValidationStatus string       `json:"validationStatus,omitempty"`
	FarmID           string       `json:"farmId,omitempty"`
}

// Editable reports whether the parcel has enough geometry to be edited or
// checked for overlaps.
func (p Parcel) Editable() bool {
	return len(p.Ring) >= 3
}

// IsTemp reports whether the parcel still carries a local id.
func (p Parcel) IsTemp() bool {
	return IsTempID(p.ID)
}

// IsTempID reports whether id was generated by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// NewTempID returns "poly-<unix millis>", moving forward one millisecond at a
// time until the id is neither used in c nor reserved.
func NewTempID(now time.Time, c Collection, reserved map[string]struct{}) string {
	ms := now.UnixMilli()
	for {
		id := fmt.Sprintf("%s%d", TempIDPrefix, ms)
		_, exists := c.Get(id)
		_, taken := reserved[id]
		if !exists && !taken {
			return id
		}
		ms++
	}
}
