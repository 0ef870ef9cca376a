package mcap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// RecoverOptions configures Recover's output writer.
type RecoverOptions struct {
	Compression CompressionFormat
	ChunkSize   int64
	IncludeCRC  bool
	Encryption  EncryptionProvider
}

// RecoverResult summarizes what Recover salvaged before it stopped.
type RecoverResult struct {
	MessageCount    uint64
	AttachmentCount uint64
	MetadataCount   uint64
	// StoppedAt holds the error that ended the scan, or nil if the
	// input was read through to its data end or footer without issue.
	StoppedAt error
}

// Recover performs a linear scan of a possibly truncated or corrupt MCAP
// stream from r, copying every record it can fully parse to a freshly
// chunked, freshly indexed output on w, and stopping cleanly at the
// first record it cannot parse rather than propagating that error to
// the caller. The returned Writer summary statistics and chunk/metadata
// /attachment indexes on w are always consistent with what was actually
// written, even though the input's own summary section (if any) is
// never trusted or copied.
//
// Grounded on cli/mcap/cmd/recover.go's recoverRun, adapted to this
// package's auto-de-chunking Lexer (EmitChunks defaults to false here,
// so chunk contents arrive as ordinary inner tokens) and auto-rechunking
// Writer, which together remove the need for the teacher's manual
// chunk-decompress-and-reindex bookkeeping.
func Recover(w io.Writer, r io.Reader, opts *RecoverOptions) (*RecoverResult, error) {
	if opts == nil {
		opts = &RecoverOptions{}
	}
	writer, err := NewWriter(w, &WriterOptions{
		Chunked:     true,
		ChunkSize:   opts.ChunkSize,
		Compression: opts.Compression,
		IncludeCRC:  opts.IncludeCRC,
		Encryption:  opts.Encryption,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create writer: %w", err)
	}

	lexer, err := NewLexer(r, &LexerOptions{Encryption: opts.Encryption})
	if err != nil {
		return nil, fmt.Errorf("failed to create lexer: %w", err)
	}

	result := &RecoverResult{}
	buf := make([]byte, 1024)
	headerWritten := false

scan:
	for {
		tokenType, recordReader, recordLen, err := lexer.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break scan
			}
			result.StoppedAt = err
			break scan
		}
		switch tokenType {
		case TokenHeader:
			record, err := ReadIntoOrReplace(recordReader, recordLen, &buf)
			if err != nil {
				result.StoppedAt = err
				break scan
			}
			header, err := ParseHeader(record)
			if err != nil {
				result.StoppedAt = err
				break scan
			}
			if err := writer.WriteHeader(header); err != nil {
				return nil, fmt.Errorf("failed to write header: %w", err)
			}
			headerWritten = true
		case TokenSchema:
			record, err := ReadIntoOrReplace(recordReader, recordLen, &buf)
			if err != nil {
				result.StoppedAt = err
				break scan
			}
			schema, err := ParseSchema(record)
			if err != nil {
				result.StoppedAt = err
				break scan
			}
			if err := writer.WriteSchema(schema); err != nil {
				return nil, fmt.Errorf("failed to write schema: %w", err)
			}
		case TokenChannel:
			record, err := ReadIntoOrReplace(recordReader, recordLen, &buf)
			if err != nil {
				result.StoppedAt = err
				break scan
			}
			channel, err := ParseChannel(record)
			if err != nil {
				result.StoppedAt = err
				break scan
			}
			if err := writer.WriteChannel(channel); err != nil {
				return nil, fmt.Errorf("failed to write channel: %w", err)
			}
		case TokenMessage:
			record, err := ReadIntoOrReplace(recordReader, recordLen, &buf)
			if err != nil {
				result.StoppedAt = err
				break scan
			}
			message, err := ParseMessage(record)
			if err != nil {
				result.StoppedAt = err
				break scan
			}
			if err := writer.WriteMessage(message); err != nil {
				return nil, fmt.Errorf("failed to write message: %w", err)
			}
			result.MessageCount++
		case TokenAttachment:
			// ParseAttachmentAsReader streams directly off recordReader;
			// it must not be pre-read into buf like the other records.
			att, err := ParseAttachmentAsReader(recordReader)
			if err != nil {
				result.StoppedAt = err
				break scan
			}
			data, err := io.ReadAll(att.Data())
			if err != nil {
				result.StoppedAt = err
				break scan
			}
			err = writer.WriteAttachment(&Attachment{
				LogTime:    att.LogTime,
				CreateTime: att.CreateTime,
				Name:       att.Name,
				MediaType:  att.MediaType,
				DataSize:   uint64(len(data)),
				Data:       bytes.NewReader(data),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to write attachment: %w", err)
			}
			result.AttachmentCount++
		case TokenMetadata:
			record, err := ReadIntoOrReplace(recordReader, recordLen, &buf)
			if err != nil {
				result.StoppedAt = err
				break scan
			}
			metadata, err := ParseMetadata(record)
			if err != nil {
				result.StoppedAt = err
				break scan
			}
			if err := writer.WriteMetadata(metadata); err != nil {
				return nil, fmt.Errorf("failed to write metadata: %w", err)
			}
			result.MetadataCount++
		case TokenDataEnd, TokenFooter:
			break scan
		default:
			// summary-section-only tokens (chunk index, attachment index,
			// metadata index, statistics, summary offset): the writer
			// regenerates these from what it actually wrote, so any
			// trailing summary section in the input is never copied.
		}
	}

	if !headerWritten {
		return nil, errors.New("mcap: input ended before a header record could be read")
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}
	return result, nil
}
