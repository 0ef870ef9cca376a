package logbag

import (
	"fmt"
	"os"

	"github.com/foxglove-labs/logbag/mcap"

	"github.com/foxglove-labs/logbag/bag"
)

const defaultChunkSize = 4 * 1024 * 1024

// WriterOptions configures Create's output container, dispatched to
// whichever engine matches the output path's extension. Fields that
// don't apply to the chosen format are ignored.
type WriterOptions struct {
	// Profile is the mcap Header.Profile written for a .mcap output
	// ("ros1" or "ros2"); ignored for .bag output, which has no profile
	// concept (bag v2.0 is ROS 1 only).
	Profile string
	// MCAPCompression selects .mcap chunk compression: "lz4", "zstd", or
	// "none"/"" (the default).
	MCAPCompression string
	// BagCompression selects .bag chunk compression: "none"/"" (the
	// default), "bz2", or "lz4".
	BagCompression string
	// ChunkSize is the target uncompressed chunk size in bytes for
	// either format. Zero or less selects 4 MiB for .mcap output and the
	// bag engine's own default (1 MiB) for .bag output.
	ChunkSize int
	// Overwrite allows Create to replace an existing file at path;
	// otherwise Create fails if path already exists.
	Overwrite bool
}

// ChannelSpec describes one topic's schema, supplied the first time
// Writer.WriteMessage sees a message on that topic.
type ChannelSpec struct {
	Topic string
	// MsgType is the schema's fully-qualified name (e.g.
	// "sensor_msgs/msg/Image" or "sensor_msgs/Image").
	MsgType string
	// SchemaEncoding is the mcap Schema.Encoding value ("ros1msg" or
	// "ros2msg"); unused when writing to .bag.
	SchemaEncoding string
	// SchemaText is the raw ros1msg/ros2msg message definition.
	SchemaText string
	// MD5Sum is the bag Connection's md5sum field. If empty and the
	// output is a .bag file, Writer derives a content hash of
	// SchemaText instead of computing the canonical ROS 1 message MD5
	// (which depends on a recursive sub-message canonicalization
	// algorithm outside this system's scope).
	MD5Sum string
	// MessageEncoding is the mcap Channel.MessageEncoding value ("ros1",
	// "ros2", "cdr", "json", ...); unused when writing to .bag.
	MessageEncoding string
}

// Writer provides uniform message writing over either container
// format.
type Writer struct {
	format Format
	closer interface{ Close() error }

	mcapWriter *mcap.Writer
	bagWriter  *bag.Writer

	schemaIDs  map[string]uint16
	channelIDs map[string]uint16
	nextSchema uint16
	nextChan   uint16
	seq        uint32
}

// Create opens path for writing, autodetecting its container format
// from its extension and configuring the matching engine from opts.
func Create(path string, opts WriterOptions) (*Writer, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !opts.Overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logbag: %w", err)
	}

	format := DetectFormat(path)
	switch format {
	case FormatMCAP:
		chunkSize := int64(opts.ChunkSize)
		if chunkSize <= 0 {
			chunkSize = defaultChunkSize
		}
		mw, err := mcap.NewWriter(f, &mcap.WriterOptions{
			IncludeCRC:  true,
			Chunked:     true,
			ChunkSize:   chunkSize,
			Compression: mcap.CompressionFormat(opts.MCAPCompression),
		})
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("logbag: failed to open mcap writer: %w", err)
		}
		if err := mw.WriteHeader(&mcap.Header{Profile: opts.Profile}); err != nil {
			f.Close()
			return nil, fmt.Errorf("logbag: failed to write mcap header: %w", err)
		}
		return &Writer{
			format:     format,
			closer:     f,
			mcapWriter: mw,
			schemaIDs:  make(map[string]uint16),
			channelIDs: make(map[string]uint16),
			nextSchema: 1,
			nextChan:   1,
		}, nil
	case FormatBag:
		bw, err := bag.NewWriter(f, &bag.WriterOptions{
			Compression: bag.Compression(opts.BagCompression),
			ChunkSize:   opts.ChunkSize,
		})
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("logbag: failed to open bag writer: %w", err)
		}
		return &Writer{format: format, closer: f, bagWriter: bw}, nil
	default:
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// Format reports which container format this Writer opened.
func (w *Writer) Format() Format { return w.format }

// WriteMessage appends one message on spec.Topic, registering the
// topic's schema/channel (or bag connection) the first time it is
// seen.
func (w *Writer) WriteMessage(spec ChannelSpec, logTime uint64, data []byte) error {
	switch w.format {
	case FormatBag:
		md5sum := spec.MD5Sum
		if md5sum == "" {
			md5sum = schemaContentHash(spec.SchemaText)
		}
		return w.bagWriter.WriteMessage(spec.Topic, spec.MsgType, md5sum, spec.SchemaText, logTime, data)
	case FormatMCAP:
		return w.writeMCAPMessage(spec, logTime, data)
	default:
		return ErrUnknownFormat
	}
}

func (w *Writer) writeMCAPMessage(spec ChannelSpec, logTime uint64, data []byte) error {
	channelID, ok := w.channelIDs[spec.Topic]
	if !ok {
		schemaKey := spec.SchemaEncoding + "\x00" + spec.MsgType + "\x00" + spec.SchemaText
		schemaID, ok := w.schemaIDs[schemaKey]
		if !ok {
			schemaID = w.nextSchema
			w.nextSchema++
			if err := w.mcapWriter.WriteSchema(&mcap.Schema{
				ID:       schemaID,
				Encoding: spec.SchemaEncoding,
				Name:     spec.MsgType,
				Data:     []byte(spec.SchemaText),
			}); err != nil {
				return fmt.Errorf("logbag: failed to write schema: %w", err)
			}
			w.schemaIDs[schemaKey] = schemaID
		}

		channelID = w.nextChan
		w.nextChan++
		if err := w.mcapWriter.WriteChannel(&mcap.Channel{
			ID:              channelID,
			Topic:           spec.Topic,
			MessageEncoding: spec.MessageEncoding,
			SchemaID:        schemaID,
		}); err != nil {
			return fmt.Errorf("logbag: failed to write channel: %w", err)
		}
		w.channelIDs[spec.Topic] = channelID
	}

	if err := w.mcapWriter.WriteMessage(&mcap.Message{
		ChannelID:   channelID,
		Sequence:    w.seq,
		LogTime:     logTime,
		PublishTime: logTime,
		Data:        data,
	}); err != nil {
		return fmt.Errorf("logbag: failed to write message: %w", err)
	}
	w.seq++
	return nil
}

// Close flushes and finalizes the underlying engine and closes the
// file handle.
func (w *Writer) Close() error {
	var err error
	switch w.format {
	case FormatMCAP:
		err = w.mcapWriter.Close()
	case FormatBag:
		err = w.bagWriter.Close()
	}
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
