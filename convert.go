package logbag

import (
	"crypto/md5" //nolint:gosec // content-addressing, not a security boundary
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/foxglove-labs/logbag/codec"
	"github.com/foxglove-labs/logbag/schema"
	"github.com/foxglove-labs/logbag/translate"
)

// ChannelInfo describes one topic's schema and wire encoding as
// registered by whichever container format a Reader opened. It exposes
// more than DecodedMessage deliberately: Convert needs the schema text
// and encoding to decide whether a topic needs cross-dialect
// translation, which the per-message iteration shape has no room for.
type ChannelInfo struct {
	Topic           string
	MsgType         string
	SchemaEncoding  string // "ros1msg" or "ros2msg"
	SchemaText      string
	MessageEncoding string // "ros1", "cdr", "json", ...
	MD5Sum          string // set only when the source is a bag connection
}

// Channels returns the schema every topic in r was registered with.
func (r *Reader) Channels() ([]ChannelInfo, error) {
	switch r.format {
	case FormatBag:
		conns := r.bagReader.Connections()
		ids := make([]uint32, 0, len(conns))
		for id := range conns {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out := make([]ChannelInfo, 0, len(ids))
		for _, id := range ids {
			c := conns[id]
			out = append(out, ChannelInfo{
				Topic:           c.Topic,
				MsgType:         c.Type,
				SchemaEncoding:  "ros1msg",
				SchemaText:      c.MessageDefinition,
				MessageEncoding: "ros1",
				MD5Sum:          c.MD5Sum,
			})
		}
		return out, nil
	case FormatMCAP:
		info, err := r.mcapReader.Info()
		if err != nil {
			return nil, fmt.Errorf("logbag: failed to read mcap info: %w", err)
		}
		ids := make([]uint16, 0, len(info.Channels))
		for id := range info.Channels {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out := make([]ChannelInfo, 0, len(ids))
		for _, id := range ids {
			ch := info.Channels[id]
			ci := ChannelInfo{Topic: ch.Topic, MessageEncoding: ch.MessageEncoding}
			if sch, ok := info.Schemas[ch.SchemaID]; ok && sch != nil {
				ci.MsgType = sch.Name
				ci.SchemaEncoding = sch.Encoding
				ci.SchemaText = string(sch.Data)
			}
			out = append(out, ci)
		}
		return out, nil
	default:
		return nil, ErrUnknownFormat
	}
}

// ConvertOptions configures Convert's output container.
type ConvertOptions struct {
	Writer WriterOptions
}

// topicPlan is the per-topic decode/translate/encode pipeline Convert
// builds once from each source ChannelInfo, reused across every
// message on that topic.
type topicPlan struct {
	out ChannelSpec

	// Set only when the topic's dialect differs from the output's: Data
	// then needs decode -> translate -> encode instead of a raw copy.
	srcCodec  codec.MessageCodec
	dstCodec  codec.MessageCodec
	srcSchema *schema.Schema
	srcSubs   schema.SubSchemas
	dstSchema *schema.Schema
	toROS2    bool
}

func dialectOf(ci ChannelInfo) schema.Dialect {
	switch ci.SchemaEncoding {
	case "ros2msg":
		return schema.DialectROS2
	case "ros1msg":
		return schema.DialectROS1
	}
	if ci.MessageEncoding == "cdr" || ci.MessageEncoding == "ros2" {
		return schema.DialectROS2
	}
	return schema.DialectROS1
}

func messageEncodingFor(d schema.Dialect) string {
	if d == schema.DialectROS2 {
		return "cdr"
	}
	return "ros1"
}

func schemaEncodingFor(d schema.Dialect) string {
	if d == schema.DialectROS2 {
		return "ros2msg"
	}
	return "ros1msg"
}

// resolveTargetDialect decides which ROS dialect the output's channels
// carry: forced to ROS 1 for a .bag output (bag v2.0 has no other
// profile); opts.Profile for a .mcap output, or - if unset - whichever
// single dialect every source channel already shares.
func resolveTargetDialect(output string, profile string, channels []ChannelInfo) (schema.Dialect, error) {
	switch DetectFormat(output) {
	case FormatBag:
		return schema.DialectROS1, nil
	case FormatMCAP:
		switch profile {
		case "ros1":
			return schema.DialectROS1, nil
		case "ros2":
			return schema.DialectROS2, nil
		case "":
			return inferSharedDialect(channels)
		default:
			return 0, fmt.Errorf("logbag: unknown profile %q, expected \"ros1\" or \"ros2\"", profile)
		}
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownFormat, output)
	}
}

func inferSharedDialect(channels []ChannelInfo) (schema.Dialect, error) {
	if len(channels) == 0 {
		return schema.DialectROS1, nil
	}
	d := dialectOf(channels[0])
	for _, ch := range channels[1:] {
		if dialectOf(ch) != d {
			return 0, fmt.Errorf("logbag: input mixes ROS 1 and ROS 2 channels, pass an explicit profile")
		}
	}
	return d, nil
}

func dialectProfileName(d schema.Dialect) string {
	if d == schema.DialectROS2 {
		return "ros2"
	}
	return "ros1"
}

// schemaContentHash stands in for the canonical ROS 1 message MD5 when
// a connection's real md5sum isn't available (a cross-dialect
// translation target, or a schema synthesized from an mcap channel
// with no md5sum metadata). The real algorithm recursively
// canonicalizes every referenced sub-message and is out of this
// system's scope; this is a plain content hash of the rendered
// definition, good enough for connection identity within one file.
func schemaContentHash(text string) string {
	sum := md5.Sum([]byte(text)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func buildTopicPlan(ci ChannelInfo, targetDialect schema.Dialect) (*topicPlan, error) {
	srcDialect := dialectOf(ci)

	if srcDialect == targetDialect {
		return &topicPlan{out: ChannelSpec{
			Topic:           ci.Topic,
			MsgType:         ci.MsgType,
			SchemaEncoding:  ci.SchemaEncoding,
			SchemaText:      ci.SchemaText,
			MD5Sum:          ci.MD5Sum,
			MessageEncoding: ci.MessageEncoding,
		}}, nil
	}

	srcRoot, srcSubs, err := schema.ParseMessageDefinition(srcDialect, ci.MsgType, ci.SchemaText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	toROS2 := targetDialect == schema.DialectROS2
	var dstRoot *schema.Schema
	var dstSubs schema.SubSchemas
	if toROS2 {
		dstRoot, dstSubs = translate.SchemaROS1ToROS2(srcRoot, srcSubs)
	} else {
		dstRoot, dstSubs = translate.SchemaROS2ToROS1(srcRoot, srcSubs)
	}

	srcFactory := codec.NewFactory(schema.NewCompiler(srcSubs), srcSubs)
	srcCodec, err := srcFactory.For(messageEncodingFor(srcDialect))
	if err != nil {
		return nil, err
	}
	dstFactory := codec.NewFactory(schema.NewCompiler(dstSubs), dstSubs)
	dstCodec, err := dstFactory.For(messageEncodingFor(targetDialect))
	if err != nil {
		return nil, err
	}

	dstText := schema.RenderMessageDefinition(dstRoot, dstSubs)
	return &topicPlan{
		out: ChannelSpec{
			Topic:           ci.Topic,
			MsgType:         dstRoot.Name,
			SchemaEncoding:  schemaEncodingFor(targetDialect),
			SchemaText:      dstText,
			MessageEncoding: messageEncodingFor(targetDialect),
		},
		srcCodec:  srcCodec,
		dstCodec:  dstCodec,
		srcSchema: srcRoot,
		srcSubs:   srcSubs,
		dstSchema: dstRoot,
		toROS2:    toROS2,
	}, nil
}

// Convert reads every message from input and writes it to output,
// translating between ROS 1 rosmsg and ROS 2 CDR payload encodings via
// package translate whenever a topic's source dialect differs from the
// output's.
func Convert(input, output string, opts ConvertOptions) error {
	r, err := Open(input)
	if err != nil {
		return err
	}
	defer r.Close()

	channels, err := r.Channels()
	if err != nil {
		return err
	}

	targetDialect, err := resolveTargetDialect(output, opts.Writer.Profile, channels)
	if err != nil {
		return err
	}
	if opts.Writer.Profile == "" && DetectFormat(output) == FormatMCAP {
		opts.Writer.Profile = dialectProfileName(targetDialect)
	}

	w, err := Create(output, opts.Writer)
	if err != nil {
		return err
	}
	defer w.Close()

	plans := make(map[string]*topicPlan, len(channels))
	for _, ci := range channels {
		plan, err := buildTopicPlan(ci, targetDialect)
		if err != nil {
			return fmt.Errorf("logbag: topic %q: %w", ci.Topic, err)
		}
		plans[ci.Topic] = plan
	}

	return r.Messages(ReadOptions{}, func(msg DecodedMessage) error {
		plan, ok := plans[msg.Topic]
		if !ok {
			return fmt.Errorf("logbag: message on unregistered topic %q", msg.Topic)
		}
		data := msg.Data
		if plan.srcCodec != nil {
			rec, err := plan.srcCodec.DeserializeMessage(plan.srcSchema, msg.Data)
			if err != nil {
				return fmt.Errorf("logbag: failed to decode %q: %w", msg.Topic, err)
			}
			var translated *schema.Record
			if plan.toROS2 {
				translated, err = translate.MessageROS1ToROS2(plan.srcSchema, plan.srcSubs, rec)
			} else {
				translated, err = translate.MessageROS2ToROS1(plan.srcSchema, plan.srcSubs, rec)
			}
			if err != nil {
				return fmt.Errorf("logbag: failed to translate %q: %w", msg.Topic, err)
			}
			data, err = plan.dstCodec.SerializeMessage(plan.dstSchema, translated)
			if err != nil {
				return fmt.Errorf("logbag: failed to encode %q: %w", msg.Topic, err)
			}
		}
		return w.WriteMessage(plan.out, msg.LogTime, data)
	})
}
