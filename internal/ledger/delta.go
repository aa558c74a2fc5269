package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/goccy/go-json"

	"github.com/raphaelgruber/watchwise/internal/models"
)

// ErrPathConflict indicates a change path runs through a non-object value.
var ErrPathConflict = errors.New("change path crosses a non-object value")

// Diff returns the changed leaves between two JSON documents. Objects are
// compared key by key; every other value (arrays included) is a leaf.
// Changes are ordered by path.
func Diff(prev, next []byte) ([]models.FieldChange, error) {
	a, err := compact(prev)
	if err != nil {
		return nil, fmt.Errorf("diff previous: %w", err)
	}
	b, err := compact(next)
	if err != nil {
		return nil, fmt.Errorf("diff next: %w", err)
	}
	var changes []models.FieldChange
	if err := diffValue(nil, a, b, &changes); err != nil {
		return nil, err
	}
	return changes, nil
}

func compact(doc []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isObject(v json.RawMessage) bool {
	return len(v) > 0 && v[0] == '{'
}

func isNull(v json.RawMessage) bool {
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

func diffValue(path []string, a, b json.RawMessage, out *[]models.FieldChange) error {
	if isObject(a) && isObject(b) {
		var ma, mb map[string]json.RawMessage
		if err := json.Unmarshal(a, &ma); err != nil {
			return err
		}
		if err := json.Unmarshal(b, &mb); err != nil {
			return err
		}
		keys := make([]string, 0, len(ma)+len(mb))
		for k := range ma {
			keys = append(keys, k)
		}
		for k := range mb {
			if _, ok := ma[k]; !ok {
				keys = append(keys, k)
			}
		}
		slices.Sort(keys)
		for _, k := range keys {
			child := append(slices.Clone(path), k)
			if err := diffValue(child, ma[k], mb[k], out); err != nil {
				return err
			}
		}
		return nil
	}
	if bytes.Equal(a, b) {
		return nil
	}
	*out = append(*out, models.FieldChange{
		Path: slices.Clone(path),
		Old:  cloneRaw(a),
		New:  cloneRaw(b),
	})
	return nil
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	return slices.Clone(v)
}

// Apply writes changes into doc. With inverse set it restores the Old side,
// walking the changes backwards. A nil value deletes the field.
func Apply(doc []byte, changes []models.FieldChange, inverse bool) ([]byte, error) {
	root, err := compact(doc)
	if err != nil {
		return nil, fmt.Errorf("apply: %w", err)
	}
	for i := range changes {
		c, val := changes[i], changes[i].New
		if inverse {
			c = changes[len(changes)-1-i]
			val = c.Old
		}
		root, err = setPath(root, c.Path, val)
		if err != nil {
			return nil, fmt.Errorf("apply %v: %w", c.Path, err)
		}
	}
	return root, nil
}

func setPath(doc json.RawMessage, path []string, val json.RawMessage) (json.RawMessage, error) {
	if len(path) == 0 {
		return cloneRaw(val), nil
	}
	m := map[string]json.RawMessage{}
	switch {
	case isObject(doc):
		if err := json.Unmarshal(doc, &m); err != nil {
			return nil, err
		}
	case isNull(doc):
		if val == nil {
			return doc, nil
		}
	default:
		return nil, ErrPathConflict
	}
	child, err := setPath(m[path[0]], path[1:], val)
	if err != nil {
		return nil, err
	}
	if child == nil {
		delete(m, path[0])
	} else {
		m[path[0]] = child
	}
	return json.Marshal(m)
}
