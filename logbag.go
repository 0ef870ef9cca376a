// Package logbag is the unified façade over the mcap and bag container
// formats: Reader and Writer autodetect which engine to use from a
// path's extension and present one message shape regardless of source,
// and Convert chains a Reader to a Writer, consulting package translate
// when the two ends carry different ROS dialects.
package logbag

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/foxglove-labs/logbag/mcap"

	"github.com/foxglove-labs/logbag/bag"
)

// Format identifies which container format a path names.
type Format int

const (
	FormatUnknown Format = iota
	FormatMCAP
	FormatBag
)

func (f Format) String() string {
	switch f {
	case FormatMCAP:
		return "mcap"
	case FormatBag:
		return "bag"
	default:
		return "unknown"
	}
}

// DetectFormat maps a path's extension onto the container format it
// names, or FormatUnknown for anything else.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mcap":
		return FormatMCAP
	case ".bag":
		return FormatBag
	default:
		return FormatUnknown
	}
}

// ErrUnknownFormat is returned when a path's extension names neither
// container format this package supports.
var ErrUnknownFormat = errors.New("logbag: unrecognized file extension, expected .mcap or .bag")

// DecodedMessage is one message resolved against its channel or
// connection, independent of which container format produced it.
type DecodedMessage struct {
	Topic   string
	MsgType string
	LogTime uint64
	Data    []byte
}

// ReadOptions filters Reader.Messages across both container formats.
type ReadOptions struct {
	Topics    []string
	StartTime uint64
	EndTime   uint64
	// InOrder requests messages sorted by ascending log time. Otherwise
	// .bag input is yielded chunk by chunk in ascending chunk start-time
	// order, and .mcap input in the order mcap's content iterator yields.
	InOrder bool
}

// Reader provides uniform message iteration over either container
// format.
type Reader struct {
	format Format
	closer io.Closer

	mcapReader *mcap.Reader
	bagReader  *bag.Reader
}

// Open opens path for reading, autodetecting its container format from
// its extension.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("logbag: %w", err)
	}
	format := DetectFormat(path)
	switch format {
	case FormatMCAP:
		r, err := mcap.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("logbag: failed to open mcap: %w", err)
		}
		return &Reader{format: format, closer: f, mcapReader: r}, nil
	case FormatBag:
		r, err := bag.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("logbag: failed to open bag: %w", err)
		}
		return &Reader{format: format, closer: f, bagReader: r}, nil
	default:
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// Format reports which container format this Reader opened.
func (r *Reader) Format() Format { return r.format }

// Close releases the reader's underlying file handle.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Messages calls fn for every message matching opts, translating each
// container's native record shape into DecodedMessage. Returning a
// non-nil error from fn stops iteration and is returned unmodified.
func (r *Reader) Messages(opts ReadOptions, fn func(DecodedMessage) error) error {
	switch r.format {
	case FormatBag:
		return r.bagReader.Messages(bag.ReadOptions{
			Topics:    opts.Topics,
			StartTime: opts.StartTime,
			EndTime:   opts.EndTime,
			InOrder:   opts.InOrder,
		}, func(m bag.DecodedMessage) error {
			return fn(DecodedMessage{Topic: m.Topic, MsgType: m.Type, LogTime: m.LogTime, Data: m.Data})
		})
	case FormatMCAP:
		return r.mcapMessages(opts, fn)
	default:
		return ErrUnknownFormat
	}
}

func (r *Reader) mcapMessages(opts ReadOptions, fn func(DecodedMessage) error) error {
	topicSet := make(map[string]bool, len(opts.Topics))
	for _, t := range opts.Topics {
		topicSet[t] = true
	}
	iterOpts := []mcap.ContentIteratorOption{
		mcap.WithMessagesMatching(func(_ *mcap.Schema, ch *mcap.Channel) bool {
			if len(topicSet) == 0 {
				return true
			}
			return topicSet[ch.Topic]
		}),
	}
	if opts.StartTime != 0 || opts.EndTime != 0 {
		iterOpts = append(iterOpts, mcap.WithTimeBounds(opts.StartTime, opts.EndTime))
	}
	it, err := r.mcapReader.Content(iterOpts...)
	if err != nil {
		return fmt.Errorf("logbag: failed to open mcap content iterator: %w", err)
	}

	emit := func(msg *mcap.ResolvedMessage) error {
		msgType := ""
		if msg.Schema != nil {
			msgType = msg.Schema.Name
		}
		return fn(DecodedMessage{Topic: msg.Channel.Topic, MsgType: msgType, LogTime: msg.LogTime, Data: msg.Data})
	}

	if !opts.InOrder {
		return mcap.Range(it, func(cr mcap.ContentRecord) error {
			if msg := cr.AsMessage(); msg != nil {
				return emit(msg)
			}
			return nil
		})
	}

	var all []*mcap.ResolvedMessage
	if err := mcap.Range(it, func(cr mcap.ContentRecord) error {
		if msg := cr.AsMessage(); msg != nil {
			all = append(all, msg)
		}
		return nil
	}); err != nil {
		return err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].LogTime < all[j].LogTime })
	for _, msg := range all {
		if err := emit(msg); err != nil {
			return err
		}
	}
	return nil
}
