package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"mongobridge/internal/apis/dtos"
	"mongobridge/pkg/mapping"
	"mongobridge/pkg/operations"
	"mongobridge/pkg/query"
	"mongobridge/pkg/update"
)

// PlanService maps operations against registered entities without running
// them, for inspecting what a repository call sends to the server.
type PlanService interface {
	Explain(kind string, req *dtos.PlanRequest) (*dtos.PlanResponse, uint, error)
}

type planService struct {
	ops *operations.Operations
}

func NewPlanService(ops *operations.Operations) PlanService {
	return &planService{ops: ops}
}

func (s *planService) Explain(kind string, req *dtos.PlanRequest) (*dtos.PlanResponse, uint, error) {
	opKind, ok := operations.ParseKind(strings.ToLower(kind))
	if !ok {
		return nil, http.StatusBadRequest, fmt.Errorf("unknown operation kind %q", kind)
	}
	entity := s.entity(req.Entity)
	if entity == nil {
		return nil, http.StatusNotFound, fmt.Errorf("no entity named %q", req.Entity)
	}

	opReq, err := s.request(opKind, entity, req)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	ec, err := s.ops.Build(opReq)
	if err != nil {
		return nil, httpStatus(err), err
	}

	plan, err := bson.MarshalExtJSON(ec.Plan(), false, false)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return &dtos.PlanResponse{Kind: opKind.String(), Plan: json.RawMessage(plan)}, http.StatusOK, nil
}

// entity finds a registered entity by type or collection name.
func (s *planService) entity(name string) *mapping.PersistentEntity {
	for _, entity := range s.ops.MappingContext().Entities() {
		if strings.EqualFold(entity.Name(), name) || entity.Collection() == name {
			return entity
		}
	}
	return nil
}

func (s *planService) request(kind operations.Kind, entity *mapping.PersistentEntity, req *dtos.PlanRequest) (operations.Request, error) {
	filter, err := extJSON("filter", req.Filter)
	if err != nil {
		return operations.Request{}, err
	}
	sort, err := extJSON("sort", req.Sort)
	if err != nil {
		return operations.Request{}, err
	}
	fields, err := extJSON("fields", req.Fields)
	if err != nil {
		return operations.Request{}, err
	}

	opReq := operations.Request{
		Kind:          kind,
		EntityType:    entity.Type(),
		Query:         query.New(filter).WithSort(sort).WithFields(fields),
		Multi:         req.Multi,
		Upsert:        req.Upsert,
		DistinctField: req.DistinctField,
	}

	switch kind {
	case operations.KindUpdate:
		doc, err := extJSON("update", req.Update)
		if err != nil {
			return operations.Request{}, err
		}
		opReq.Update = update.FromDocument(doc)
	case operations.KindReplace:
		doc, err := extJSON("replacement", req.Replacement)
		if err != nil {
			return operations.Request{}, err
		}
		if doc != nil {
			opReq.Replacement = doc
		}
	}
	return opReq, nil
}

func extJSON(name string, raw json.RawMessage) (bson.D, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		return nil, fmt.Errorf("invalid %s: %v", name, err)
	}
	return doc, nil
}
