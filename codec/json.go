package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/foxglove-labs/logbag/bio"
	"github.com/foxglove-labs/logbag/schema"
)

// JSONCodec serializes messages as JSON objects keyed by field name,
// walking the same schema tree CDR and rosmsg use so field order and
// nesting agree across all three encodings. uint8/byte arrays are
// rendered as base64 strings, the common convention among ROS JSON
// bridges.
type JSONCodec struct {
	subs schema.SubSchemas
}

func NewJSONCodec(subs schema.SubSchemas) *JSONCodec {
	return &JSONCodec{subs: subs}
}

func (c *JSONCodec) SerializeMessage(sch *schema.Schema, rec *schema.Record) ([]byte, error) {
	v, err := c.recordToJSON(sch, rec)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (c *JSONCodec) recordToJSON(sch *schema.Schema, rec *schema.Record) (map[string]any, error) {
	out := make(map[string]any, len(sch.Fields()))
	for _, f := range sch.Fields() {
		v, ok := rec.Get(f.Name)
		if !ok {
			continue
		}
		jv, err := c.valueToJSON(f.Type, v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		out[f.Name] = jv
	}
	return out, nil
}

func (c *JSONCodec) valueToJSON(t schema.FieldType, v any) (any, error) {
	switch {
	case t.Primitive != nil:
		return v, nil
	case t.StringT != nil:
		return v, nil
	case t.Complex != nil:
		sub, ok := c.subs[t.Complex.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", schema.ErrUnresolvedComplex, t.Complex.Name)
		}
		child, ok := v.(*schema.Record)
		if !ok {
			return nil, fmt.Errorf("expected *Record, got %T", v)
		}
		return c.recordToJSON(sub, child)
	case t.Array != nil:
		return c.sliceToJSON(t.Array.Element, v)
	case t.Sequence != nil:
		return c.sliceToJSON(t.Sequence.Element, v)
	}
	return nil, fmt.Errorf("unsupported field type %s", t)
}

func (c *JSONCodec) sliceToJSON(elem schema.FieldType, v any) (any, error) {
	if elem.Primitive != nil && (elem.Primitive.Kind == bio.KindUint8 || elem.Primitive.Kind == bio.KindByte) {
		if b, ok := v.([]byte); ok {
			return base64.StdEncoding.EncodeToString(b), nil
		}
		if vals, ok := v.([]any); ok {
			b := make([]byte, len(vals))
			for i, x := range vals {
				b[i] = x.(uint8)
			}
			return base64.StdEncoding.EncodeToString(b), nil
		}
	}
	vals, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected []any, got %T", v)
	}
	out := make([]any, len(vals))
	for i, item := range vals {
		jv, err := c.valueToJSON(elem, item)
		if err != nil {
			return nil, err
		}
		out[i] = jv
	}
	return out, nil
}

func (c *JSONCodec) DeserializeMessage(sch *schema.Schema, data []byte) (*schema.Record, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return c.jsonToRecord(sch, m)
}

func (c *JSONCodec) jsonToRecord(sch *schema.Schema, m map[string]any) (*schema.Record, error) {
	rec := schema.NewRecord(sch.Name)
	for _, f := range sch.Fields() {
		raw, ok := m[f.Name]
		if !ok {
			continue
		}
		v, err := c.jsonToValue(f.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		rec.Set(f.Name, v)
	}
	return rec, nil
}

func (c *JSONCodec) jsonToValue(t schema.FieldType, raw any) (any, error) {
	switch {
	case t.Primitive != nil:
		return coercePrimitive(t.Primitive.Kind, raw), nil
	case t.StringT != nil:
		return raw, nil
	case t.Complex != nil:
		sub, ok := c.subs[t.Complex.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", schema.ErrUnresolvedComplex, t.Complex.Name)
		}
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object, got %T", raw)
		}
		return c.jsonToRecord(sub, m)
	case t.Array != nil:
		return c.jsonToSlice(t.Array.Element, raw)
	case t.Sequence != nil:
		return c.jsonToSlice(t.Sequence.Element, raw)
	}
	return nil, fmt.Errorf("unsupported field type %s", t)
}

func (c *JSONCodec) jsonToSlice(elem schema.FieldType, raw any) (any, error) {
	if elem.Primitive != nil && (elem.Primitive.Kind == bio.KindUint8 || elem.Primitive.Kind == bio.KindByte) {
		if s, ok := raw.(string); ok {
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, err
			}
			vals := make([]any, len(b))
			for i, x := range b {
				vals[i] = x
			}
			return vals, nil
		}
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", raw)
	}
	out := make([]any, len(arr))
	for i, item := range arr {
		v, err := c.jsonToValue(elem, item)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// coercePrimitive narrows encoding/json's float64/bool decode back to
// the declared kind's native Go type, since the schema compiler's
// batched-run packing expects exact type assertions.
func coercePrimitive(k bio.Kind, raw any) any {
	if b, ok := raw.(bool); ok {
		return b
	}
	f, ok := raw.(float64)
	if !ok {
		return raw
	}
	switch k {
	case bio.KindInt8:
		return int8(f)
	case bio.KindUint8, bio.KindByte, bio.KindChar:
		return uint8(f)
	case bio.KindInt16:
		return int16(f)
	case bio.KindUint16:
		return uint16(f)
	case bio.KindInt32:
		return int32(f)
	case bio.KindUint32:
		return uint32(f)
	case bio.KindInt64:
		return int64(f)
	case bio.KindUint64:
		return uint64(f)
	case bio.KindFloat32:
		return float32(f)
	case bio.KindFloat64:
		return f
	}
	return raw
}
