package mapper

import (
	"strconv"
	"strings"

	"mongobridge/pkg/dataaccess"
	"mongobridge/pkg/mapping"
)

// resolvedPath is the result of walking a dotted property path.
type resolvedPath struct {
	field string
	// property is set only when every segment resolved and the path ends on
	// a property.
	property *mapping.Property
	// entity is the metadata of the value at the end of the path, if any.
	entity *mapping.PersistentEntity
}

// resolvePath maps each segment of path against entity. Numeric and positional
// segments pass through; once a loosely typed or scalar property is reached the
// rest of the path is kept as written.
func (m *QueryMapper) resolvePath(path string, entity *mapping.PersistentEntity) (resolvedPath, error) {
	if entity == nil {
		return resolvedPath{field: path}, nil
	}

	segments := strings.Split(path, ".")
	out := make([]string, 0, len(segments))
	current := entity
	var last *mapping.Property

	for i, segment := range segments {
		if current == nil {
			out = append(out, segments[i:]...)
			return resolvedPath{field: strings.Join(out, ".")}, nil
		}
		if isPositional(segment) {
			out = append(out, segment)
			continue
		}

		p := current.Property(segment)
		if p == nil {
			if !m.strict {
				out = append(out, segments[i:]...)
				return resolvedPath{field: strings.Join(out, ".")}, nil
			}
			return resolvedPath{}, dataaccess.Newf(dataaccess.KindInvalidQuery, "map",
				"no property %q found on %s (path %q)", segment, current.Name(), path)
		}
		out = append(out, p.FieldName)
		last = p

		switch {
		case p.IsLoose():
			out = append(out, segments[i+1:]...)
			if i+1 < len(segments) {
				last = nil
			}
			return resolvedPath{field: strings.Join(out, "."), property: last}, nil
		case p.IsEntity():
			nested, err := m.context.GetPersistentEntity(p.ActualType())
			if err != nil {
				return resolvedPath{}, dataaccess.New(dataaccess.KindInvalidQuery, "map",
					"cannot describe "+p.ActualType().String(), err)
			}
			current = nested
		default:
			current = nil
		}
	}

	resolved := resolvedPath{field: strings.Join(out, "."), property: last}
	if last != nil && last.IsEntity() {
		resolved.entity = current
	}
	return resolved, nil
}

// isPositional matches array indexes and the $, $[] and $[ident] operators.
func isPositional(segment string) bool {
	if segment == "$" || strings.HasPrefix(segment, "$[") {
		return true
	}
	_, err := strconv.Atoi(segment)
	return err == nil
}
