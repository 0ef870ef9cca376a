package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RenderMessageDefinition serializes root, plus every sub-schema it
// transitively references, back into ros1msg/ros2msg text: the inverse
// of ParseMessageDefinition. Needed wherever a schema produced by
// translate.SchemaROS1ToROS2/SchemaROS2ToROS1 has to be written out as
// a channel or connection's raw schema bytes, since those schemas exist
// only as a parsed tree with no source text of their own.
func RenderMessageDefinition(root *Schema, subs SubSchemas) string {
	var b strings.Builder
	renderBlock(&b, root)

	seen := map[string]bool{}
	var order []string
	var walk func(s *Schema)
	walk = func(s *Schema) {
		for _, e := range s.Entries {
			collectComplexNames(e.Type, subs, seen, &order, walk)
		}
	}
	walk(root)
	sort.Strings(order)

	for _, name := range order {
		sub, ok := subs[name]
		if !ok {
			continue
		}
		b.WriteString(strings.Repeat("=", 80))
		b.WriteString("\n")
		fmt.Fprintf(&b, "MSG: %s\n", sub.Name)
		renderBlock(&b, sub)
	}
	return b.String()
}

func collectComplexNames(t FieldType, subs SubSchemas, seen map[string]bool, order *[]string, walk func(*Schema)) {
	switch {
	case t.Array != nil:
		collectComplexNames(t.Array.Element, subs, seen, order, walk)
	case t.Sequence != nil:
		collectComplexNames(t.Sequence.Element, subs, seen, order, walk)
	case t.Complex != nil:
		name := t.Complex.Name
		if seen[name] {
			return
		}
		seen[name] = true
		*order = append(*order, name)
		if sub, ok := subs[name]; ok {
			walk(sub)
		}
	}
}

func renderBlock(b *strings.Builder, s *Schema) {
	for _, e := range s.Entries {
		b.WriteString(renderType(e.Type, s.Dialect))
		b.WriteString(" ")
		b.WriteString(e.Name)
		if e.IsConstant {
			b.WriteString("=")
			b.WriteString(renderDefault(e.Default))
		} else if !e.Default.Absent {
			b.WriteString(" ")
			b.WriteString(renderDefault(e.Default))
		}
		b.WriteString("\n")
	}
}

// renderType is the inverse of parseType/parseBaseType: unlike
// FieldType.String() (a debug representation), it reproduces the
// actual ros1msg/ros2msg type grammar so the result re-parses.
func renderType(t FieldType, dialect Dialect) string {
	switch {
	case t.Primitive != nil:
		return t.Primitive.Kind.String()
	case t.StringT != nil:
		base := "string"
		if t.StringT.Wide {
			base = "wstring"
		}
		if t.StringT.MaxLength != nil {
			base += "<=" + strconv.FormatUint(uint64(*t.StringT.MaxLength), 10)
		}
		return base
	case t.Array != nil:
		elem := renderType(t.Array.Element, dialect)
		if t.Array.Bounded {
			if t.Array.Length == 0 {
				return elem + "[]"
			}
			return fmt.Sprintf("%s[<=%d]", elem, t.Array.Length)
		}
		return fmt.Sprintf("%s[%d]", elem, t.Array.Length)
	case t.Sequence != nil:
		return renderType(t.Sequence.Element, dialect) + "[]"
	case t.Complex != nil:
		return qualifiedName(t.Complex.Name, dialect)
	}
	return "?"
}

func renderDefault(d Default) string {
	switch {
	case d.Int != nil:
		return strconv.FormatInt(*d.Int, 10)
	case d.Float != nil:
		return strconv.FormatFloat(*d.Float, 'g', -1, 64)
	case d.Str != nil:
		return strconv.Quote(*d.Str)
	case d.List != nil:
		parts := make([]string, len(d.List))
		for i, item := range d.List {
			parts[i] = renderDefault(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return ""
	}
}
