package mcap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
)

// ErrUnindexedFile is returned by Sort when the input has no chunk
// index records to sort by, mirroring the example pack's
// errUnindexedFile (cli/mcap/cmd/sort.go): the caller should suggest
// running recovery first.
var ErrUnindexedFile = errors.New("mcap: file has no chunk index records")

type sortableMessage struct {
	schema  *Schema
	channel *Channel
	message *Message
	offset  int
}

// Sort reads an indexed MCAP file from r and writes its contents back
// out to w with messages physically reordered by ascending log time
// (ties broken by original file order), attachments and metadata
// copied through unchanged. Grounded on cli/mcap/cmd/sort.go's sortFile,
// adapted to this package's Content/ContentIterator API in place of the
// richer Messages/Next2 API the teacher's newer mcap library exposes.
func Sort(w io.Writer, r io.ReadSeeker, opts *WriterOptions) error {
	reader, err := NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to create reader: %w", err)
	}
	info, err := reader.Info()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnindexedFile, err)
	}
	if len(info.ChunkIndexes) == 0 && info.Statistics != nil && info.Statistics.MessageCount > 0 {
		return ErrUnindexedFile
	}

	writer, err := NewWriter(w, opts)
	if err != nil {
		return fmt.Errorf("failed to create writer: %w", err)
	}
	if err := writer.WriteHeader(info.Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// Attachments and metadata: physical location is irrelevant, so they
	// are copied through in the order the index records them.
	attIt, err := reader.Content(WithAttachmentsMatching(func(string) bool { return true }))
	if err != nil {
		return fmt.Errorf("failed to read attachments: %w", err)
	}
	for {
		rec, err := attIt.Next(nil)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to read attachment: %w", err)
		}
		att := rec.AsAttachmentReader()
		if att == nil {
			continue
		}
		data, err := io.ReadAll(att.Data())
		if err != nil {
			return fmt.Errorf("failed to read attachment %s: %w", att.Name, err)
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
			return fmt.Errorf("failed to write attachment: %w", err)
		}
	}

	mdIt, err := reader.Content(WithMetadataMatching(func(string) bool { return true }))
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}
	for {
		rec, err := mdIt.Next(nil)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to read metadata: %w", err)
		}
		if md := rec.AsMetadata(); md != nil {
			if err := writer.WriteMetadata(md); err != nil {
				return fmt.Errorf("failed to write metadata: %w", err)
			}
		}
	}

	msgIt, err := reader.Content(WithAllMessages())
	if err != nil {
		return fmt.Errorf("failed to read messages: %w", err)
	}
	var messages []sortableMessage
	for offset := 0; ; offset++ {
		rec, err := msgIt.Next(nil)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to read message: %w", err)
		}
		msg := rec.AsMessage()
		if msg == nil {
			continue
		}
		messages = append(messages, sortableMessage{
			schema: msg.Schema, channel: msg.Channel, message: msg.Message, offset: offset,
		})
	}
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].message.LogTime != messages[j].message.LogTime {
			return messages[i].message.LogTime < messages[j].message.LogTime
		}
		return messages[i].offset < messages[j].offset
	})

	writtenSchemas := make(map[uint16]bool)
	writtenChannels := make(map[uint16]bool)
	for _, m := range messages {
		if m.schema != nil && !writtenSchemas[m.schema.ID] {
			if err := writer.WriteSchema(m.schema); err != nil {
				return fmt.Errorf("failed to write schema: %w", err)
			}
			writtenSchemas[m.schema.ID] = true
		}
		if !writtenChannels[m.channel.ID] {
			if err := writer.WriteChannel(m.channel); err != nil {
				return fmt.Errorf("failed to write channel: %w", err)
			}
			writtenChannels[m.channel.ID] = true
		}
		if err := writer.WriteMessage(m.message); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
	}
	return writer.Close()
}
