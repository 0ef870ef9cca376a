package schema

import (
	"fmt"

	"github.com/foxglove-labs/logbag/bio"
)

// EncodeFunc writes rec's fields, in schema order, through enc.
type EncodeFunc func(enc Encoder, rec *Record) error

// DecodeFunc reads one value of the compiled schema's shape from dec.
type DecodeFunc func(dec Decoder) (*Record, error)

type CompiledSchema struct {
	Schema *Schema
	Encode EncodeFunc
	Decode DecodeFunc
}

// Compiler builds and caches CompiledSchema values. Caching by name is
// what keeps total generated closure size linear in the number of
// distinct schemas rather than exponential in nesting depth: a Complex
// field inlines its sub-schema's already-compiled routine by reference,
// never by re-walking its tree.
type Compiler struct {
	subs  SubSchemas
	cache map[string]*CompiledSchema
}

func NewCompiler(subs SubSchemas) *Compiler {
	return &Compiler{subs: subs, cache: make(map[string]*CompiledSchema)}
}

func (c *Compiler) Compile(sch *Schema) (*CompiledSchema, error) {
	if cs, ok := c.cache[sch.Name]; ok {
		return cs, nil
	}
	// Reserve the cache slot before recursing so a schema that (legally,
	// since cycles are rejected at parse time) refers to itself only
	// indirectly through an already-seen sibling doesn't recompile.
	cs := &CompiledSchema{Schema: sch}
	c.cache[sch.Name] = cs

	steps, err := c.compileFields(sch.Fields())
	if err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", sch.Name, err)
	}
	cs.Encode = func(enc Encoder, rec *Record) error {
		for _, st := range steps {
			if err := st.encode(enc, rec); err != nil {
				return err
			}
		}
		return nil
	}
	cs.Decode = func(dec Decoder) (*Record, error) {
		rec := NewRecord(sch.Name)
		for _, st := range steps {
			if err := st.decode(dec, rec); err != nil {
				return nil, err
			}
		}
		return rec, nil
	}
	return cs, nil
}

// step is one compiled unit of work: either a batched primitive run or
// a single non-primitive field.
type step struct {
	encode func(Encoder, *Record) error
	decode func(Decoder, *Record) error
}

func (c *Compiler) compileFields(fields []Entry) ([]step, error) {
	var steps []step
	i := 0
	for i < len(fields) {
		f := fields[i]
		if f.Type.Primitive != nil {
			j := i + 1
			kind := f.Type.Primitive.Kind
			for j < len(fields) && fields[j].Type.Primitive != nil && fields[j].Type.Primitive.Kind == kind {
				j++
			}
			steps = append(steps, compilePrimitiveRun(fields[i:j], kind))
			i = j
			continue
		}
		st, err := c.compileField(f)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
		i++
	}
	return steps, nil
}

// compilePrimitiveRun batches a maximal run of same-kind consecutive
// primitive fields into one aligned bulk read/write.
func compilePrimitiveRun(fields []Entry, kind bio.Kind) step {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	width := kind.Width()
	return step{
		encode: func(enc Encoder, rec *Record) error {
			if err := enc.Align(width); err != nil {
				return err
			}
			buf := make([]byte, width*len(names))
			off := 0
			for _, name := range names {
				v, ok := rec.Get(name)
				if !ok {
					return fmt.Errorf("schema: missing field %q", name)
				}
				n, err := bio.PutPrimitive(buf[off:], enc.Order(), kind, v)
				if err != nil {
					return err
				}
				off += n
			}
			return enc.WriteBytes(buf)
		},
		decode: func(dec Decoder, rec *Record) error {
			if err := dec.Align(width); err != nil {
				return err
			}
			buf, err := dec.ReadBytes(width * len(names))
			if err != nil {
				return err
			}
			off := 0
			for _, name := range names {
				v, n, err := bio.GetPrimitive(buf[off:], dec.Order(), kind)
				if err != nil {
					return err
				}
				rec.Set(name, v)
				off += n
			}
			return nil
		},
	}
}

func (c *Compiler) compileField(f Entry) (step, error) {
	t := f.Type
	name := f.Name
	switch {
	case t.StringT != nil:
		wide := t.StringT.Wide
		return step{
			encode: func(enc Encoder, rec *Record) error {
				v, ok := rec.Get(name)
				if !ok {
					return fmt.Errorf("schema: missing field %q", name)
				}
				return enc.WriteString(v.(string), wide)
			},
			decode: func(dec Decoder, rec *Record) error {
				s, err := dec.ReadString(wide)
				if err != nil {
					return err
				}
				rec.Set(name, s)
				return nil
			},
		}, nil

	case t.Complex != nil:
		sub, ok := c.subs[t.Complex.Name]
		if !ok {
			return step{}, fmt.Errorf("%w: %s", ErrUnresolvedComplex, t.Complex.Name)
		}
		subCompiled, err := c.Compile(sub)
		if err != nil {
			return step{}, err
		}
		return step{
			encode: func(enc Encoder, rec *Record) error {
				v, ok := rec.Get(name)
				if !ok {
					return fmt.Errorf("schema: missing field %q", name)
				}
				child, ok := v.(*Record)
				if !ok {
					return fmt.Errorf("schema: field %q expected *Record, got %T", name, v)
				}
				return subCompiled.Encode(enc, child)
			},
			decode: func(dec Decoder, rec *Record) error {
				child, err := subCompiled.Decode(dec)
				if err != nil {
					return err
				}
				rec.Set(name, child)
				return nil
			},
		}, nil

	case t.Array != nil:
		return c.compileRepeated(name, t.Array.Element, t.Array.Length, false)

	case t.Sequence != nil:
		return c.compileRepeated(name, t.Sequence.Element, 0, true)
	}
	return step{}, fmt.Errorf("schema: field %q has no recognized type", name)
}

// compileRepeated handles both fixed-length arrays and dynamic
// sequences: a primitive element type gets the batched bulk path;
// string/complex elements fall back to a per-element loop invoking
// the element's own compiled step.
func (c *Compiler) compileRepeated(name string, elem FieldType, length uint, dynamic bool) (step, error) {
	if elem.Primitive != nil {
		kind := elem.Primitive.Kind
		width := kind.Width()
		return step{
			encode: func(enc Encoder, rec *Record) error {
				v, ok := rec.Get(name)
				if !ok {
					return fmt.Errorf("schema: missing field %q", name)
				}
				vals, ok := v.([]any)
				if !ok {
					return fmt.Errorf("schema: field %q expected []any, got %T", name, v)
				}
				if dynamic {
					if err := enc.WriteSequenceLen(uint32(len(vals))); err != nil {
						return err
					}
				}
				if err := enc.Align(width); err != nil {
					return err
				}
				buf := make([]byte, width*len(vals))
				off := 0
				for _, item := range vals {
					n, err := bio.PutPrimitive(buf[off:], enc.Order(), kind, item)
					if err != nil {
						return err
					}
					off += n
				}
				return enc.WriteBytes(buf)
			},
			decode: func(dec Decoder, rec *Record) error {
				n := length
				if dynamic {
					l, err := dec.ReadSequenceLen()
					if err != nil {
						return err
					}
					n = uint(l)
				}
				if err := dec.Align(width); err != nil {
					return err
				}
				buf, err := dec.ReadBytes(width * int(n))
				if err != nil {
					return err
				}
				vals := make([]any, n)
				off := 0
				for i := range vals {
					v, w, err := bio.GetPrimitive(buf[off:], dec.Order(), kind)
					if err != nil {
						return err
					}
					vals[i] = v
					off += w
				}
				rec.Set(name, vals)
				return nil
			},
		}, nil
	}

	// String or complex elements: per-element loop over a synthetic
	// single-field step so we reuse the same encode/decode logic as a
	// bare field of that type.
	elemStep, err := c.compileField(Entry{Name: "_elem", Type: elem})
	if err != nil {
		return step{}, err
	}
	return step{
		encode: func(enc Encoder, rec *Record) error {
			v, ok := rec.Get(name)
			if !ok {
				return fmt.Errorf("schema: missing field %q", name)
			}
			vals, ok := v.([]any)
			if !ok {
				return fmt.Errorf("schema: field %q expected []any, got %T", name, v)
			}
			if dynamic {
				if err := enc.WriteSequenceLen(uint32(len(vals))); err != nil {
					return err
				}
			}
			for _, item := range vals {
				tmp := NewRecord("")
				tmp.Set("_elem", item)
				if err := elemStep.encode(enc, tmp); err != nil {
					return err
				}
			}
			return nil
		},
		decode: func(dec Decoder, rec *Record) error {
			n := length
			if dynamic {
				l, err := dec.ReadSequenceLen()
				if err != nil {
					return err
				}
				n = uint(l)
			}
			vals := make([]any, n)
			for i := range vals {
				tmp := NewRecord("")
				if err := elemStep.decode(dec, tmp); err != nil {
					return err
				}
				v, _ := tmp.Get("_elem")
				vals[i] = v
			}
			rec.Set(name, vals)
			return nil
		},
	}, nil
}

// ApplyDefaults fills in declared defaults for any field rec doesn't
// already have a value for. Defaults are applied only when building an
// in-memory message value from partial input; they never affect the
// wire format.
func ApplyDefaults(sch *Schema, rec *Record) {
	for _, f := range sch.Fields() {
		if _, ok := rec.Get(f.Name); ok {
			continue
		}
		if f.Default.Absent {
			continue
		}
		rec.Set(f.Name, defaultValue(f.Type, f.Default))
	}
}

func defaultValue(t FieldType, d Default) any {
	switch {
	case d.Str != nil:
		return *d.Str
	case d.Int != nil:
		return *d.Int
	case d.Float != nil:
		return *d.Float
	case d.List != nil:
		out := make([]any, len(d.List))
		var elem FieldType
		if t.Array != nil {
			elem = t.Array.Element
		} else if t.Sequence != nil {
			elem = t.Sequence.Element
		}
		for i, item := range d.List {
			out[i] = defaultValue(elem, item)
		}
		return out
	}
	return nil
}
