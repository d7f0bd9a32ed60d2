package staging

import (
	"encoding/json"

	"github.com/linkedin/goavro/v2"
	"github.com/pkg/errors"

	"residuals/internal/records"
	"residuals/internal/schema"
)

// avroType maps a column type onto its Avro primitive.
func avroType(t schema.Type) (string, error) {
	switch t {
	case schema.Float:
		return "double", nil
	case schema.Integer:
		return "long", nil
	case schema.String:
		return "string", nil
	case schema.Boolean:
		return "boolean", nil
	}
	return "", errors.Errorf("staging: no avro type for %q", t)
}

type avroField struct {
	Name    string   `json:"name"`
	Type    []string `json:"type"`
	Default any      `json:"default"`
}

type avroRecord struct {
	Type      string      `json:"type"`
	Name      string      `json:"name"`
	Namespace string      `json:"namespace"`
	Fields    []avroField `json:"fields"`
}

// NewCodec builds the Avro codec for rows of s. Every field is a
// ["null", T] union so NULLs survive the round trip regardless of mode.
func NewCodec(s schema.Schema) (*goavro.Codec, error) {
	rec := avroRecord{Type: "record", Name: "Row", Namespace: "residuals.staging"}
	for _, c := range s {
		at, err := avroType(c.Type)
		if err != nil {
			return nil, err
		}
		rec.Fields = append(rec.Fields, avroField{Name: c.Name, Type: []string{"null", at}})
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, "staging: marshal avro schema")
	}
	codec, err := goavro.NewCodec(string(b))
	if err != nil {
		return nil, errors.Wrap(err, "staging: avro codec")
	}
	return codec, nil
}

// toNative converts a Record into the goavro native form.
func toNative(s schema.Schema, r records.Record) (map[string]any, error) {
	out := make(map[string]any, len(s))
	for _, c := range s {
		v, err := schema.Coerce(c.Type, r[c.Name])
		if err != nil {
			return nil, errors.Wrapf(err, "column %q", c.Name)
		}
		if v == nil {
			out[c.Name] = nil
			continue
		}
		at, _ := avroType(c.Type)
		out[c.Name] = goavro.Union(at, v)
	}
	return out, nil
}

// fromNative converts a decoded goavro datum back into a Record.
func fromNative(s schema.Schema, datum any) (records.Record, error) {
	m, ok := datum.(map[string]any)
	if !ok {
		return nil, errors.Errorf("staging: unexpected avro datum %T", datum)
	}
	rec := make(records.Record, len(s))
	for _, c := range s {
		v := m[c.Name]
		if u, ok := v.(map[string]any); ok {
			for _, inner := range u {
				v = inner
			}
		}
		cv, err := schema.Coerce(c.Type, v)
		if err != nil {
			return nil, errors.Wrapf(err, "column %q", c.Name)
		}
		rec[c.Name] = cv
	}
	return rec, nil
}
