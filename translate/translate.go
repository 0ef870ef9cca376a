// Package translate implements bidirectional ROS1/ROS2 message and
// schema rewriting: converting a decoded message tree (and its schema)
// between the two dialects' schema-naming, type, and time/duration
// conventions (field names are copied unchanged), keeping the low-level pack/unpack idiom (explicit error
// returns, no reflection) the rest of this module uses.
package translate

import (
	"fmt"

	"github.com/foxglove-labs/logbag/bio"
	"github.com/foxglove-labs/logbag/schema"
)

const (
	builtinTime     = "builtin_interfaces/Time"
	builtinDuration = "builtin_interfaces/Duration"
)

func builtinTimeSchema(dialect schema.Dialect) *schema.Schema {
	return &schema.Schema{
		Name:    qualify(builtinTime, dialect),
		Dialect: dialect,
		Entries: []schema.Entry{
			{Name: "sec", Type: schema.FieldType{Primitive: &schema.PrimitiveType{Kind: bio.KindInt32}}},
			{Name: "nanosec", Type: schema.FieldType{Primitive: &schema.PrimitiveType{Kind: bio.KindUint32}}},
		},
	}
}

func builtinDurationSchema(dialect schema.Dialect) *schema.Schema {
	return &schema.Schema{
		Name:    qualify(builtinDuration, dialect),
		Dialect: dialect,
		Entries: []schema.Entry{
			{Name: "sec", Type: schema.FieldType{Primitive: &schema.PrimitiveType{Kind: bio.KindInt32}}},
			{Name: "nanosec", Type: schema.FieldType{Primitive: &schema.PrimitiveType{Kind: bio.KindUint32}}},
		},
	}
}

func qualify(normalized string, dialect schema.Dialect) string {
	if dialect == schema.DialectROS1 {
		for i := 0; i+5 <= len(normalized); i++ {
			if normalized[i:i+5] == "/msg/" {
				return normalized[:i] + normalized[i+4:]
			}
		}
		return normalized
	}
	for i := 0; i < len(normalized); i++ {
		if normalized[i] == '/' {
			return normalized[:i] + "/msg" + normalized[i:]
		}
	}
	return normalized
}

// SchemaROS1ToROS2 rewrites a ROS 1 schema tree into its ROS 2
// equivalent: `time`/`duration` primitives become
// `builtin_interfaces/Time|Duration` complex references, the root name
// gains the `msg/` infix, and the synthetic builtin_interfaces
// sub-schemas are appended if referenced and not already present.
func SchemaROS1ToROS2(root *schema.Schema, subs schema.SubSchemas) (*schema.Schema, schema.SubSchemas) {
	out := make(schema.SubSchemas, len(subs)+2)
	usedTime, usedDuration := false, false
	newRoot := translateSchemaEntries(root, schema.DialectROS2, &usedTime, &usedDuration)

	for name, sub := range subs {
		out[name] = translateSchemaEntries(sub, schema.DialectROS2, &usedTime, &usedDuration)
	}
	if _, ok := out[builtinTime]; usedTime && !ok {
		out[builtinTime] = builtinTimeSchema(schema.DialectROS2)
	}
	if _, ok := out[builtinDuration]; usedDuration && !ok {
		out[builtinDuration] = builtinDurationSchema(schema.DialectROS2)
	}
	return newRoot, out
}

func translateSchemaEntries(s *schema.Schema, toDialect schema.Dialect, usedTime, usedDuration *bool) *schema.Schema {
	entries := make([]schema.Entry, len(s.Entries))
	for i, e := range s.Entries {
		entries[i] = e
		entries[i].Type = translateFieldTypeToROS2(e.Type, usedTime, usedDuration)
	}
	return &schema.Schema{Name: qualify(s.Name, toDialect), Dialect: toDialect, Entries: entries}
}

func translateFieldTypeToROS2(t schema.FieldType, usedTime, usedDuration *bool) schema.FieldType {
	switch {
	case t.Primitive != nil && t.Primitive.Kind == bio.KindTime:
		*usedTime = true
		return schema.FieldType{Complex: &schema.ComplexType{Name: builtinTime}}
	case t.Primitive != nil && t.Primitive.Kind == bio.KindDuration:
		*usedDuration = true
		return schema.FieldType{Complex: &schema.ComplexType{Name: builtinDuration}}
	case t.Array != nil:
		el := t.Array.Element
		return schema.FieldType{Array: &schema.ArrayType{
			Element: translateFieldTypeToROS2(el, usedTime, usedDuration),
			Length:  t.Array.Length, Bounded: t.Array.Bounded,
		}}
	case t.Sequence != nil:
		return schema.FieldType{Sequence: &schema.SequenceType{
			Element: translateFieldTypeToROS2(t.Sequence.Element, usedTime, usedDuration),
		}}
	}
	return t
}

// SchemaROS2ToROS1 collapses a ROS 2 schema tree back to ROS 1: every
// `pkg/msg/Short` reference becomes `pkg/Short`, builtin_interfaces
// Time/Duration complex fields become the `time`/`duration`
// primitives, and the builtin_interfaces sub-schema bodies are dropped
// entirely from the returned map.
func SchemaROS2ToROS1(root *schema.Schema, subs schema.SubSchemas) (*schema.Schema, schema.SubSchemas) {
	out := make(schema.SubSchemas, len(subs))
	newRoot := translateSchemaToROS1(root)
	for name, sub := range subs {
		if name == builtinTime || name == builtinDuration {
			continue
		}
		out[name] = translateSchemaToROS1(sub)
	}
	return newRoot, out
}

func translateSchemaToROS1(s *schema.Schema) *schema.Schema {
	entries := make([]schema.Entry, len(s.Entries))
	for i, e := range s.Entries {
		entries[i] = e
		entries[i].Type = translateFieldTypeToROS1(e.Type)
	}
	return &schema.Schema{Name: qualify(s.Name, schema.DialectROS1), Dialect: schema.DialectROS1, Entries: entries}
}

func translateFieldTypeToROS1(t schema.FieldType) schema.FieldType {
	switch {
	case t.Complex != nil && t.Complex.Name == builtinTime:
		return schema.FieldType{Primitive: &schema.PrimitiveType{Kind: bio.KindTime}}
	case t.Complex != nil && t.Complex.Name == builtinDuration:
		return schema.FieldType{Primitive: &schema.PrimitiveType{Kind: bio.KindDuration}}
	case t.Array != nil:
		return schema.FieldType{Array: &schema.ArrayType{
			Element: translateFieldTypeToROS1(t.Array.Element), Length: t.Array.Length, Bounded: t.Array.Bounded,
		}}
	case t.Sequence != nil:
		return schema.FieldType{Sequence: &schema.SequenceType{Element: translateFieldTypeToROS1(t.Sequence.Element)}}
	}
	return t
}

// MessageROS1ToROS2 walks rec against fromSchema/fromSubs (the ROS 1
// tree) and builds the equivalent ROS 2 record, substituting
// builtin_interfaces/Time|Duration records for time/duration primitive
// values. All other fields and complex nestings copy through
// unchanged.
func MessageROS1ToROS2(fromSchema *schema.Schema, fromSubs schema.SubSchemas, rec *schema.Record) (*schema.Record, error) {
	return translateRecordToROS2(fromSchema, fromSubs, rec)
}

func translateRecordToROS2(sch *schema.Schema, subs schema.SubSchemas, rec *schema.Record) (*schema.Record, error) {
	out := schema.NewRecord(qualify(sch.Name, schema.DialectROS2))
	for _, f := range sch.Fields() {
		v, ok := rec.Get(f.Name)
		if !ok {
			continue
		}
		nv, err := translateValueToROS2(f.Type, subs, v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		out.Set(f.Name, nv)
	}
	return out, nil
}

func translateValueToROS2(t schema.FieldType, subs schema.SubSchemas, v any) (any, error) {
	switch {
	case t.Primitive != nil && t.Primitive.Kind == bio.KindTime:
		words := v.([2]uint32)
		r := schema.NewRecord(builtinTime)
		r.Set("sec", int32(words[0]))
		r.Set("nanosec", words[1])
		return r, nil
	case t.Primitive != nil && t.Primitive.Kind == bio.KindDuration:
		words := v.([2]uint32)
		r := schema.NewRecord(builtinDuration)
		r.Set("sec", int32(words[0]))
		r.Set("nanosec", words[1])
		return r, nil
	case t.Complex != nil:
		sub, ok := subs[t.Complex.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", schema.ErrUnresolvedComplex, t.Complex.Name)
		}
		child, ok := v.(*schema.Record)
		if !ok {
			return nil, fmt.Errorf("expected *Record, got %T", v)
		}
		return translateRecordToROS2(sub, subs, child)
	case t.Array != nil:
		return translateSliceToROS2(t.Array.Element, subs, v)
	case t.Sequence != nil:
		return translateSliceToROS2(t.Sequence.Element, subs, v)
	}
	return v, nil
}

func translateSliceToROS2(elem schema.FieldType, subs schema.SubSchemas, v any) (any, error) {
	vals, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected []any, got %T", v)
	}
	out := make([]any, len(vals))
	for i, item := range vals {
		nv, err := translateValueToROS2(elem, subs, item)
		if err != nil {
			return nil, err
		}
		out[i] = nv
	}
	return out, nil
}

// MessageROS2ToROS1 is the inverse of MessageROS1ToROS2, preserving the
// (seconds, nanoseconds) value exactly.
func MessageROS2ToROS1(fromSchema *schema.Schema, fromSubs schema.SubSchemas, rec *schema.Record) (*schema.Record, error) {
	return translateRecordToROS1(fromSchema, fromSubs, rec)
}

func translateRecordToROS1(sch *schema.Schema, subs schema.SubSchemas, rec *schema.Record) (*schema.Record, error) {
	out := schema.NewRecord(qualify(sch.Name, schema.DialectROS1))
	for _, f := range sch.Fields() {
		v, ok := rec.Get(f.Name)
		if !ok {
			continue
		}
		nv, err := translateValueToROS1(f.Type, subs, v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		out.Set(f.Name, nv)
	}
	return out, nil
}

func translateValueToROS1(t schema.FieldType, subs schema.SubSchemas, v any) (any, error) {
	switch {
	case t.Complex != nil && (t.Complex.Name == builtinTime || t.Complex.Name == builtinDuration):
		child := v.(*schema.Record)
		sec, _ := child.Get("sec")
		nanosec, _ := child.Get("nanosec")
		return [2]uint32{uint32(sec.(int32)), nanosec.(uint32)}, nil
	case t.Complex != nil:
		sub, ok := subs[t.Complex.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", schema.ErrUnresolvedComplex, t.Complex.Name)
		}
		child, ok := v.(*schema.Record)
		if !ok {
			return nil, fmt.Errorf("expected *Record, got %T", v)
		}
		return translateRecordToROS1(sub, subs, child)
	case t.Array != nil:
		return translateSliceToROS1(t.Array.Element, subs, v)
	case t.Sequence != nil:
		return translateSliceToROS1(t.Sequence.Element, subs, v)
	}
	return v, nil
}

func translateSliceToROS1(elem schema.FieldType, subs schema.SubSchemas, v any) (any, error) {
	vals, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected []any, got %T", v)
	}
	out := make([]any, len(vals))
	for i, item := range vals {
		nv, err := translateValueToROS1(elem, subs, item)
		if err != nil {
			return nil, err
		}
		out[i] = nv
	}
	return out, nil
}
