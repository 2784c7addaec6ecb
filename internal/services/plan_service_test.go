package services

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mongobridge/internal/apis/dtos"
)

func TestExplainMapsPropertyNames(t *testing.T) {
	f := newFixture(t)
	plans := NewPlanService(f.ops)

	resp, status, err := plans.Explain("UPDATE", &dtos.PlanRequest{
		Entity: "order",
		Filter: json.RawMessage(`{"_id": {"$oid": "5f1b2c3d4e5f6a7b8c9d0e1f"}}`),
		Update: json.RawMessage(`{"$set": {"Status": "paid"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, uint(http.StatusOK), status)
	assert.Equal(t, "update", resp.Kind)

	plan := string(resp.Plan)
	assert.Contains(t, plan, `"collection":"orders"`)
	assert.Contains(t, plan, `"status":"paid"`)
	assert.NotContains(t, plan, `"Status"`)
}

func TestExplainByCollectionName(t *testing.T) {
	f := newFixture(t)
	plans := NewPlanService(f.ops)

	resp, _, err := plans.Explain("query", &dtos.PlanRequest{
		Entity: "customers",
		Filter: json.RawMessage(`{"ExternalID": "c1"}`),
	})
	require.NoError(t, err)
	assert.Contains(t, string(resp.Plan), `"external_id":"c1"`)
}

func TestExplainRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	plans := NewPlanService(f.ops)

	_, status, err := plans.Explain("upsertAll", &dtos.PlanRequest{Entity: "Order"})
	require.Error(t, err)
	assert.Equal(t, uint(http.StatusBadRequest), status)

	_, status, err = plans.Explain("query", &dtos.PlanRequest{Entity: "Invoice"})
	require.Error(t, err)
	assert.Equal(t, uint(http.StatusNotFound), status)

	_, status, err = plans.Explain("query", &dtos.PlanRequest{Entity: "Order", Filter: json.RawMessage(`{"_id":`)})
	require.Error(t, err)
	assert.Equal(t, uint(http.StatusBadRequest), status)
}
