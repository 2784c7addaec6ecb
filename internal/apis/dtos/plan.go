package dtos

import "encoding/json"

// PlanRequest describes an operation to map without running it. Documents
// are MongoDB extended JSON using Go field names or stored field names.
type PlanRequest struct {
	Entity        string          `json:"entity" binding:"required"`
	Filter        json.RawMessage `json:"filter"`
	Sort          json.RawMessage `json:"sort"`
	Fields        json.RawMessage `json:"fields"`
	Update        json.RawMessage `json:"update"`
	Replacement   json.RawMessage `json:"replacement"`
	DistinctField string          `json:"distinct_field"`
	Multi         bool            `json:"multi"`
	Upsert        bool            `json:"upsert"`
}

type PlanResponse struct {
	Kind string `json:"kind"`
	// Plan is the mapped execution context as relaxed extended JSON.
	Plan json.RawMessage `json:"plan"`
}
