package aggregation

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"mongobridge/pkg/query"
)

// ExpressionFunc adapts a function to query.Expression.
type ExpressionFunc func(ctx query.FieldContext) (interface{}, error)

func (f ExpressionFunc) Render(ctx query.FieldContext) (interface{}, error) {
	return f(ctx)
}

// Field references a property of the input documents: Field("price") renders
// "$p" when price is stored as p.
func Field(path string) query.Expression {
	return ExpressionFunc(func(ctx query.FieldContext) (interface{}, error) {
		mapped, err := ctx.MappedField(strings.TrimPrefix(path, "$"))
		if err != nil {
			return nil, err
		}
		return "$" + mapped, nil
	})
}

// Literal renders v wrapped in $literal so it is never read as a field path.
func Literal(v interface{}) query.Expression {
	return ExpressionFunc(func(query.FieldContext) (interface{}, error) {
		return bson.D{{Key: "$literal", Value: v}}, nil
	})
}

// Op renders {operator: [args...]}. String arguments starting with a single $
// are field references.
func Op(operator string, args ...interface{}) query.Expression {
	return ExpressionFunc(func(ctx query.FieldContext) (interface{}, error) {
		rendered := make(bson.A, 0, len(args))
		for _, arg := range args {
			v, err := RenderValue(ctx, arg)
			if err != nil {
				return nil, err
			}
			rendered = append(rendered, v)
		}
		return bson.D{{Key: operator, Value: rendered}}, nil
	})
}

// unary renders {operator: arg} without the argument array.
func unary(operator string, arg interface{}) query.Expression {
	return ExpressionFunc(func(ctx query.FieldContext) (interface{}, error) {
		v, err := RenderValue(ctx, arg)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: operator, Value: v}}, nil
	})
}

func Add(args ...interface{}) query.Expression { return Op("$add", args...) }

func Multiply(args ...interface{}) query.Expression { return Op("$multiply", args...) }

func Concat(args ...interface{}) query.Expression { return Op("$concat", args...) }

func Eq(a, b interface{}) query.Expression { return Op("$eq", a, b) }

func Gt(a, b interface{}) query.Expression { return Op("$gt", a, b) }

// Sum is the $sum accumulator.
func Sum(arg interface{}) query.Expression { return unary("$sum", arg) }

// Size is the $size of an array.
func Size(arg interface{}) query.Expression { return unary("$size", arg) }

// Meta renders {$meta: keyword}, e.g. Meta("textScore").
func Meta(keyword string) query.Expression {
	return ExpressionFunc(func(query.FieldContext) (interface{}, error) {
		return bson.D{{Key: "$meta", Value: keyword}}, nil
	})
}

// Raw renders a native expression document. Field references inside it are
// mapped like any other expression value.
func Raw(v interface{}) query.Expression {
	return ExpressionFunc(func(ctx query.FieldContext) (interface{}, error) {
		return RenderValue(ctx, v)
	})
}

// RenderValue renders expressions and field references in v, descending into
// documents and arrays. Document keys are kept as written.
func RenderValue(ctx query.FieldContext, v interface{}) (interface{}, error) {
	switch value := v.(type) {
	case query.Expression:
		return value.Render(ctx)
	case string:
		if isFieldReference(value) {
			mapped, err := ctx.MappedField(value[1:])
			if err != nil {
				return nil, err
			}
			return "$" + mapped, nil
		}
		return value, nil
	case bson.D:
		out := make(bson.D, 0, len(value))
		for _, e := range value {
			rendered, err := RenderValue(ctx, e.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, bson.E{Key: e.Key, Value: rendered})
		}
		return out, nil
	case bson.M:
		out := make(bson.M, len(value))
		for k, item := range value {
			rendered, err := RenderValue(ctx, item)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case bson.A:
		return renderArray(ctx, value)
	case []interface{}:
		return renderArray(ctx, value)
	}
	return v, nil
}

func renderArray(ctx query.FieldContext, values []interface{}) (bson.A, error) {
	out := make(bson.A, 0, len(values))
	for _, item := range values {
		rendered, err := RenderValue(ctx, item)
		if err != nil {
			return nil, err
		}
		out = append(out, rendered)
	}
	return out, nil
}

// isFieldReference matches "$path" but not system variables ("$$ROOT").
func isFieldReference(s string) bool {
	return len(s) > 1 && s[0] == '$' && s[1] != '$'
}
