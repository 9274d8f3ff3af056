package model

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunFailed   RunStatus = "failed"
)

// IngestRun is one bookkept reconciliation run.
type IngestRun struct {
	ID          int64           `json:"id"`
	Source      Source          `json:"source"`
	Status      RunStatus       `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	Report      json.RawMessage `json:"report,omitempty"`
}

// MissingUnit is a unit of work (batch, project, image) whose fetch failed
// and which a later run may retry.
type MissingUnit struct {
	Source     Source    `json:"source"`
	Unit       string    `json:"unit"`
	Error      string    `json:"error"`
	ErrorClass string    `json:"error_class"`
	Attempts   int       `json:"attempts"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// Project is brokerage project metadata.
type Project struct {
	ProjectID      int64    `json:"project_id"`
	Name           string   `json:"name"`
	Developer      *string  `json:"developer,omitempty"`
	Street         *string  `json:"street,omitempty"`
	Region         *string  `json:"region,omitempty"`
	DistrictID     *int64   `json:"district_id,omitempty"`
	NumUnits       *int64   `json:"num_units,omitempty"`
	Tenure         *string  `json:"tenure,omitempty"`
	CompletionYear *int64   `json:"completion_year,omitempty"`
	MaxFloor       *int64   `json:"max_floor,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
}

// Rental is a brokerage rental record.
type Rental struct {
	RentalID     int64    `json:"rental_id"`
	ProjectID    *int64   `json:"project_id,omitempty"`
	ProjectName  *string  `json:"project_name,omitempty"`
	Street       *string  `json:"street,omitempty"`
	LeaseDate    *string  `json:"lease_date,omitempty"`
	PropertyType *string  `json:"property_type,omitempty"`
	AreaSqftMin  *float64 `json:"area_sqft_min,omitempty"`
	AreaSqftMax  *float64 `json:"area_sqft_max,omitempty"`
	Rent         *float64 `json:"rent,omitempty"`
	PSF          *float64 `json:"psf,omitempty"`
	Bedrooms     *int64   `json:"bedrooms,omitempty"`
}

// Lead is a recorded valuation request.
type Lead struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CondoName string    `json:"condo_name"`
	UnitLabel string    `json:"unit_label"`
	Sqft      float64   `json:"sqft"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}
