package api

import (
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/recordservice"
)

// CreateRequest is the request body for creating a record. The entity type
// comes from the route, not the body.
type CreateRequest struct {
	Email        string         `json:"email"`
	Phone        string         `json:"phone"`
	Name         string         `json:"name"`
	Company      string         `json:"company"`
	Notes        string         `json:"notes"`
	Stage        string         `json:"stage"`
	Source       string         `json:"source"`
	AssignedTo   string         `json:"assigned_to"`
	Amount       float64        `json:"amount"`
	Probability  *int           `json:"probability"`
	Tags         []string       `json:"tags"`
	CustomFields map[string]any `json:"custom_fields"`
}

func (req CreateRequest) input(typ models.EntityType) recordservice.CreateInput {
	return recordservice.CreateInput{
		Type:         typ,
		Email:        req.Email,
		Phone:        req.Phone,
		Name:         req.Name,
		Company:      req.Company,
		Notes:        req.Notes,
		Stage:        req.Stage,
		Source:       req.Source,
		AssignedTo:   req.AssignedTo,
		Amount:       req.Amount,
		Probability:  req.Probability,
		Tags:         req.Tags,
		CustomFields: req.CustomFields,
	}
}

// UpdateRequest is the partial-update body (aliased from the domain layer).
type UpdateRequest = recordservice.Patch

// MergeRequest names the surviving record and the duplicates to fold in.
type MergeRequest struct {
	PrimaryID    string   `json:"primary_id"`
	DuplicateIDs []string `json:"duplicate_ids"`
}

// DuplicateCheckRequest is a candidate identity to match against the store.
type DuplicateCheckRequest = recordservice.DuplicateQuery

// ListResponse is the paginated list payload (aliased from the domain layer).
type ListResponse = recordservice.ListResult

// DuplicatesResponse wraps the fleet-wide duplicate scan result.
type DuplicatesResponse struct {
	Groups [][]models.Record `json:"groups"`
}
