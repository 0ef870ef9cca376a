package mcap

import (
	"bytes"
	"container/heap"
	"crypto/md5" //nolint:gosec // content-addressing, not a security boundary
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrDuplicateMetadataName is returned by Merge when a Metadata record
// carries a name already written by an earlier record, whatever its
// content, and the caller has not set MergeOptions.AllowDuplicateMetadata.
type ErrDuplicateMetadataName struct {
	Name string
}

func (e *ErrDuplicateMetadataName) Error() string {
	return fmt.Sprintf("metadata name %q was already written by another input; "+
		"set AllowDuplicateMetadata to override", e.Name)
}

func (e *ErrDuplicateMetadataName) Is(target error) bool {
	_, ok := target.(*ErrDuplicateMetadataName)
	return ok
}

// ChannelCoalescing controls how Merge decides that channels from
// different inputs refer to the same logical stream and should share a
// single output channel.
type ChannelCoalescing int

const (
	// CoalesceAuto merges channels whose schema, topic, message encoding
	// and metadata all match.
	CoalesceAuto ChannelCoalescing = iota
	// CoalesceForce merges channels whose schema, topic and message
	// encoding match, ignoring channel metadata.
	CoalesceForce
	// CoalesceNone never merges channels across inputs: each input's
	// channel gets its own output channel even if identical.
	CoalesceNone
)

// MergeInput is one source file being combined by Merge. Name is used
// only for error messages.
type MergeInput struct {
	Name   string
	Reader io.ReadSeeker
}

// MergeOptions configures Merge's output writer and channel/metadata
// deduplication policy.
type MergeOptions struct {
	Compression            CompressionFormat
	ChunkSize              int64
	IncludeCRC             bool
	Chunked                bool
	Encryption             EncryptionProvider
	AllowDuplicateMetadata bool
	Coalescing             ChannelCoalescing
}

type hashSum = [md5.Size]byte

type remapKey struct {
	inputIndex int
	id         uint16
}

// merger holds the cross-input id-remapping state for one Merge call,
// grounded on the schema/channel hash-keyed deduplication the example
// pack's merge command performs.
type merger struct {
	opts MergeOptions

	schemaOutputID  map[remapKey]uint16
	channelOutputID map[remapKey]uint16
	schemaByHash    map[hashSum]uint16
	channelByHash   map[hashSum]uint16
	metadataHashes  map[string]bool
	metadataNames   map[string]bool
	nextSchemaID    uint16
	nextChannelID   uint16
}

func newMerger(opts MergeOptions) *merger {
	return &merger{
		opts:            opts,
		schemaOutputID:  make(map[remapKey]uint16),
		channelOutputID: make(map[remapKey]uint16),
		schemaByHash:    make(map[hashSum]uint16),
		channelByHash:   make(map[hashSum]uint16),
		metadataHashes:  make(map[string]bool),
		metadataNames:   make(map[string]bool),
		nextSchemaID:    1,
		nextChannelID:   1,
	}
}

func schemaHash(s *Schema) hashSum {
	h := md5.New() //nolint:gosec
	h.Write([]byte(s.Name))
	h.Write([]byte(s.Encoding))
	h.Write(s.Data)
	var sum hashSum
	copy(sum[:], h.Sum(nil))
	return sum
}

func channelHash(c *Channel, coalescing ChannelCoalescing) hashSum {
	h := md5.New() //nolint:gosec
	var schemaIDBytes [2]byte
	binary.LittleEndian.PutUint16(schemaIDBytes[:], c.SchemaID)
	h.Write(schemaIDBytes[:])
	h.Write([]byte(c.Topic))
	h.Write([]byte(c.MessageEncoding))
	if coalescing == CoalesceAuto {
		for _, k := range sortedKeys(c.Metadata) {
			h.Write([]byte(k))
			h.Write([]byte(c.Metadata[k]))
		}
	}
	var sum hashSum
	copy(sum[:], h.Sum(nil))
	return sum
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func (m *merger) resolveSchemaID(inputIndex int, inputSchemaID uint16) (uint16, bool) {
	if inputSchemaID == 0 {
		return 0, true
	}
	v, ok := m.schemaOutputID[remapKey{inputIndex, inputSchemaID}]
	return v, ok
}

func (m *merger) addSchema(w *Writer, inputIndex int, s *Schema) error {
	key := remapKey{inputIndex, s.ID}
	hash := schemaHash(s)
	if existing, ok := m.schemaByHash[hash]; ok {
		m.schemaOutputID[key] = existing
		return nil
	}
	out := &Schema{ID: m.nextSchemaID, Name: s.Name, Encoding: s.Encoding, Data: s.Data}
	m.schemaOutputID[key] = m.nextSchemaID
	m.schemaByHash[hash] = m.nextSchemaID
	if err := w.WriteSchema(out); err != nil {
		return fmt.Errorf("failed to write schema from %s: %w", s.Name, err)
	}
	m.nextSchemaID++
	return nil
}

func (m *merger) addChannel(w *Writer, inputIndex int, c *Channel) (uint16, error) {
	outSchemaID, ok := m.resolveSchemaID(inputIndex, c.SchemaID)
	if !ok {
		return 0, fmt.Errorf("channel %d (%s): schema not yet registered for this input", c.ID, c.Topic)
	}
	key := remapKey{inputIndex, c.ID}
	out := &Channel{
		ID:              m.nextChannelID,
		SchemaID:        outSchemaID,
		Topic:           c.Topic,
		MessageEncoding: c.MessageEncoding,
		Metadata:        c.Metadata,
	}
	if m.opts.Coalescing != CoalesceNone {
		hash := channelHash(out, m.opts.Coalescing)
		if existing, ok := m.channelByHash[hash]; ok {
			m.channelOutputID[key] = existing
			return existing, nil
		}
		m.channelByHash[hash] = m.nextChannelID
	}
	m.channelOutputID[key] = m.nextChannelID
	if err := w.WriteChannel(out); err != nil {
		return 0, fmt.Errorf("failed to write channel %s: %w", c.Topic, err)
	}
	m.nextChannelID++
	return out.ID, nil
}

func (m *merger) addMetadata(w *Writer, md *Metadata) error {
	if m.metadataNames[md.Name] && !m.opts.AllowDuplicateMetadata {
		return &ErrDuplicateMetadataName{Name: md.Name}
	}
	body, err := json.Marshal(md.Metadata)
	if err != nil {
		return fmt.Errorf("failed to hash metadata %s: %w", md.Name, err)
	}
	h := md5.New() //nolint:gosec
	h.Write([]byte(md.Name))
	h.Write(body)
	hash := hex.EncodeToString(h.Sum(nil))
	if m.metadataHashes[hash] {
		return nil
	}
	if err := w.WriteMetadata(md); err != nil {
		return fmt.Errorf("failed to write metadata %s: %w", md.Name, err)
	}
	m.metadataHashes[hash] = true
	m.metadataNames[md.Name] = true
	return nil
}

// taggedMessage is an mcap message tagged with the index of the input
// it was read from, used to break log-time ties deterministically.
type taggedMessage struct {
	schema  *Schema
	channel *Channel
	message *Message
	input   int
}

type mergeHeap []taggedMessage

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if h[i].message.LogTime != h[j].message.LogTime {
		return h[i].message.LogTime < h[j].message.LogTime
	}
	if h[i].input != h[j].input {
		return h[i].input < h[j].input
	}
	return h[i].message.ChannelID < h[j].message.ChannelID
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(taggedMessage)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// inputStream pulls one message at a time out of a Content iterator,
// forwarding attachments and metadata to the merger as they're passed
// over (their relative order across inputs is not meaningful, so they
// are simply written through as encountered).
type inputStream struct {
	name string
	it   ContentIterator
}

func (s *inputStream) nextMessage(m *merger, w *Writer, inputIndex int) (*Schema, *Channel, *Message, error) {
	for {
		rec, err := s.it.Next(nil)
		if err != nil {
			return nil, nil, nil, err
		}
		if msg := rec.AsMessage(); msg != nil {
			return msg.Schema, msg.Channel, msg.Message, nil
		}
		if att := rec.AsAttachmentReader(); att != nil {
			data, err := io.ReadAll(att.Data())
			if err != nil {
				return nil, nil, nil, fmt.Errorf("failed to read attachment %s from %s: %w", att.Name, s.name, err)
			}
			err = w.WriteAttachment(&Attachment{
				LogTime:    att.LogTime,
				CreateTime: att.CreateTime,
				Name:       att.Name,
				MediaType:  att.MediaType,
				DataSize:   uint64(len(data)),
				Data:       bytes.NewReader(data),
			})
			if err != nil {
				return nil, nil, nil, fmt.Errorf("failed to write attachment from %s: %w", s.name, err)
			}
			continue
		}
		if md := rec.AsMetadata(); md != nil {
			if err := m.addMetadata(w, md); err != nil {
				return nil, nil, nil, err
			}
			continue
		}
	}
}

// Merge combines the messages, attachments and metadata of inputs into
// a single MCAP written to w, ordered by log time across all inputs
// (ties broken by input order, then channel id). Schemas and channels
// are deduplicated by content hash according to opts.Coalescing. The
// output Header carries the inputs' profile when they all agree; a
// mixed-profile merge is not rejected and produces an empty profile.
func Merge(w io.Writer, inputs []MergeInput, opts MergeOptions) error {
	writer, err := NewWriter(w, &WriterOptions{
		Chunked:     opts.Chunked,
		ChunkSize:   opts.ChunkSize,
		Compression: opts.Compression,
		IncludeCRC:  opts.IncludeCRC,
		Encryption:  opts.Encryption,
	})
	if err != nil {
		return fmt.Errorf("failed to create writer: %w", err)
	}

	m := newMerger(opts)
	streams := make([]*inputStream, len(inputs))
	profiles := make([]string, len(inputs))

	for i, in := range inputs {
		reader, err := NewReader(in.Reader)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", in.Name, err)
		}
		if info, err := reader.Info(); err == nil && info.Header != nil {
			profiles[i] = info.Header.Profile
		}
		it, err := reader.Content(WithAllMessages(), WithAttachmentsMatching(func(string) bool { return true }),
			WithMetadataMatching(func(string) bool { return true }))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", in.Name, err)
		}
		streams[i] = &inputStream{name: in.Name, it: it}
	}
	if err := writer.WriteHeader(&Header{Profile: commonProfile(profiles)}); err != nil {
		return err
	}

	h := &mergeHeap{}
	heap.Init(h)
	for i, stream := range streams {
		schema, channel, message, err := stream.nextMessage(m, writer, i)
		if err != nil {
			if errors.Is(err, io.EOF) {
				continue
			}
			return fmt.Errorf("error reading %s: %w", inputs[i].Name, err)
		}
		if schema != nil {
			if err := m.addSchema(writer, i, schema); err != nil {
				return err
			}
		}
		outChannelID, err := m.addChannel(writer, i, channel)
		if err != nil {
			return err
		}
		message.ChannelID = outChannelID
		heap.Push(h, taggedMessage{schema: schema, channel: channel, message: message, input: i})
	}

	for h.Len() > 0 {
		item := heap.Pop(h).(taggedMessage)
		if err := writer.WriteMessage(item.message); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
		schema, channel, message, err := streams[item.input].nextMessage(m, writer, item.input)
		if err != nil {
			if errors.Is(err, io.EOF) {
				continue
			}
			return fmt.Errorf("error reading %s: %w", inputs[item.input].Name, err)
		}
		outChannelID, ok := m.channelOutputID[remapKey{item.input, channel.ID}]
		if !ok {
			if schema != nil {
				if _, ok := m.resolveSchemaID(item.input, schema.ID); !ok {
					if err := m.addSchema(writer, item.input, schema); err != nil {
						return err
					}
				}
			}
			outChannelID, err = m.addChannel(writer, item.input, channel)
			if err != nil {
				return err
			}
		}
		message.ChannelID = outChannelID
		heap.Push(h, taggedMessage{schema: schema, channel: channel, message: message, input: item.input})
	}
	return writer.Close()
}

func commonProfile(profiles []string) string {
	if len(profiles) == 0 {
		return ""
	}
	first := profiles[0]
	for _, p := range profiles {
		if p != first {
			return ""
		}
	}
	return first
}
