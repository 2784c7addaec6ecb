package operations

import (
	"math"

	"go.mongodb.org/mongo-driver/bson"
)

// earthRadiusMeters converts GeoJSON distances to radians for $centerSphere.
const earthRadiusMeters = 6378100.0

// rewriteNearForCount replaces $near and $nearSphere criteria by an equivalent
// $geoWithin, since countDocuments runs an aggregation that rejects $near. A
// $minDistance becomes an excluded inner circle.
func rewriteNearForCount(filter bson.D) bson.D {
	out := make(bson.D, 0, len(filter))
	var extra bson.A
	for _, e := range filter {
		criterion, ok := e.Value.(bson.D)
		if !ok || !(containsKey(criterion, "$near") || containsKey(criterion, "$nearSphere")) {
			out = append(out, e)
			continue
		}

		within, exclude := nearToWithin(criterion)
		if exclude == nil {
			out = append(out, bson.E{Key: e.Key, Value: within})
			continue
		}
		extra = append(extra,
			bson.D{{Key: e.Key, Value: within}},
			bson.D{{Key: "$nor", Value: bson.A{bson.D{{Key: e.Key, Value: exclude}}}}},
		)
	}
	if len(extra) == 0 {
		return out
	}
	for i, e := range out {
		if e.Key == "$and" {
			if clauses, ok := e.Value.(bson.A); ok {
				out[i].Value = append(clauses, extra...)
				return out
			}
		}
	}
	return append(out, bson.E{Key: "$and", Value: extra})
}

// nearToWithin returns the $geoWithin criterion and, when a minimum distance
// is given, the criterion of the circle to exclude.
func nearToWithin(criterion bson.D) (bson.D, bson.D) {
	spherical := containsKey(criterion, "$nearSphere")
	var (
		point       interface{}
		maxDistance = math.MaxFloat64
		minDistance float64
		hasMin      bool
		geoJSON     bool
	)

	for _, e := range criterion {
		switch e.Key {
		case "$near", "$nearSphere":
			if doc, ok := e.Value.(bson.D); ok && containsKey(doc, "$geometry") {
				geoJSON = true
				for _, inner := range doc {
					switch inner.Key {
					case "$geometry":
						point = coordinates(inner.Value)
					case "$maxDistance":
						maxDistance = toFloat(inner.Value)
					case "$minDistance":
						minDistance, hasMin = toFloat(inner.Value), true
					}
				}
				continue
			}
			point = e.Value
		case "$maxDistance":
			maxDistance = toFloat(e.Value)
		case "$minDistance":
			minDistance, hasMin = toFloat(e.Value), true
		}
	}

	shape := "$center"
	if spherical || geoJSON {
		shape = "$centerSphere"
	}
	if geoJSON {
		if maxDistance != math.MaxFloat64 {
			maxDistance /= earthRadiusMeters
		}
		minDistance /= earthRadiusMeters
	}

	circle := func(radius float64) bson.D {
		return bson.D{{Key: "$geoWithin", Value: bson.D{{Key: shape, Value: bson.A{point, radius}}}}}
	}
	if !hasMin {
		return circle(maxDistance), nil
	}
	return circle(maxDistance), circle(minDistance)
}

func coordinates(geometry interface{}) interface{} {
	doc, ok := geometry.(bson.D)
	if !ok {
		return geometry
	}
	for _, e := range doc {
		if e.Key == "coordinates" {
			return e.Value
		}
	}
	return geometry
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
