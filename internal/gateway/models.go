package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrDeleteUnsupported is returned when deleting from an import batch.
	ErrDeleteUnsupported = errors.New("delete is not available for imported parcels")
	// ErrApproveUnsupported is returned when approving in a farm context.
	ErrApproveUnsupported = errors.New("approve is only available for imported parcels")
	// ErrEmptyUpdate is returned for an update that changes nothing.
	ErrEmptyUpdate = errors.New("update must change at least one field")
)

// StatusError is a non-2xx answer from the parcel backend.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// ID accepts both numeric and string identifiers from the backend and
// always holds the string form.
type ID string

// UnmarshalJSON decodes a number or a string.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

// ParcelRecord is a parcel as returned by the backend. Geodata is WKT.
type ParcelRecord struct {
	ID               ID      `json:"id"`
	Name             string  `json:"name"`
	Geodata          string  `json:"geodata"`
	Color            string  `json:"color"`
	Active           bool    `json:"active"`
	StartValidity    string  `json:"startValidity,omitempty"`
	EndValidity      *string `json:"endValidity,omitempty"`
	ValidationStatus string  `json:"validationStatus,omitempty"`
	FarmID           ID      `json:"farmId,omitempty"`
}

// CreateRequest is the body of a parcel creation.
type CreateRequest struct {
	Name          string  `json:"name" validate:"required,max=255"`
	Active        bool    `json:"active"`
	StartValidity string  `json:"startValidity" validate:"required,datetime=2006-01-02"`
	EndValidity   *string `json:"endValidity"`
	Geodata       string  `json:"geodata" validate:"required,startswith=POLYGON"`
	Color         string  `json:"color" validate:"required,hexcolor"`
}

// UpdateRequest carries only the fields being changed.
type UpdateRequest struct {
	Name    *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Geodata *string `json:"geodata,omitempty" validate:"omitempty,startswith=POLYGON"`
	Color   *string `json:"color,omitempty" validate:"omitempty,hexcolor"`
}

// Empty reports whether the update carries no field.
func (r UpdateRequest) Empty() bool {
	return r.Name == nil && r.Geodata == nil && r.Color == nil
}

// ApproveRequest marks an imported parcel as validated.
type ApproveRequest struct {
	ValidationStatus string `json:"validationStatus" validate:"required,oneof=validated rejected pending"`
	FarmID           string `json:"farmId" validate:"required"`
}

// ValidationError lists the request fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %v", e.Fields)
}
