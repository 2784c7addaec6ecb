package mapper

import (
	"reflect"

	"go.mongodb.org/mongo-driver/bson"

	"mongobridge/pkg/aggregation"
	"mongobridge/pkg/dataaccess"
	"mongobridge/pkg/mapping"
)

// stages that leave the document shape of the input type intact
var shapePreserving = map[string]bool{
	"$match":  true,
	"$sort":   true,
	"$limit":  true,
	"$skip":   true,
	"$sample": true,
	"$unwind": true,
}

// PipelineMapper renders aggregation stages. Field references resolve against
// the input type until the first stage that reshapes documents; from there on
// they pass through.
type PipelineMapper struct {
	queryMapper *QueryMapper
}

func NewPipelineMapper(queryMapper *QueryMapper) *PipelineMapper {
	return &PipelineMapper{queryMapper: queryMapper}
}

// MapPipeline renders stages against inputType, nil for untyped pipelines.
func (m *PipelineMapper) MapPipeline(stages []aggregation.Stage, inputType reflect.Type) ([]bson.D, error) {
	var entity *mapping.PersistentEntity
	if inputType != nil {
		var err error
		entity, err = m.queryMapper.context.GetPersistentEntity(inputType)
		if err != nil {
			return nil, dataaccess.New(dataaccess.KindInvalidQuery, "map", "cannot describe aggregation input "+inputType.String(), err)
		}
	}

	pipeline := make([]bson.D, 0, len(stages))
	for _, stage := range stages {
		rendered, err := stage.Render(stageContext{mapper: m.queryMapper, entity: entity})
		if err != nil {
			return nil, err
		}
		pipeline = append(pipeline, rendered)
		if !shapePreserving[stage.Operator()] {
			entity = nil
		}
	}
	return pipeline, nil
}

type stageContext struct {
	mapper *QueryMapper
	entity *mapping.PersistentEntity
}

func (c stageContext) MappedField(path string) (string, error) {
	return c.mapper.MappedField(path, c.entity)
}

func (c stageContext) MapFilter(filter bson.D) (bson.D, error) {
	return c.mapper.MapQuery(filter, c.entity)
}

func (c stageContext) MapSort(sort bson.D) (bson.D, error) {
	return c.mapper.MapSort(sort, c.entity, nil)
}
