package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/foxglove-labs/logbag/mcap"
)

var doctorQuiet bool

var doctorCmd = &cobra.Command{
	Use:   "doctor IN",
	Short: "Scan an mcap file record by record, reporting structural and CRC problems",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		f, err := os.Open(args[0])
		if err != nil {
			die("input not found: %s", args[0])
		}
		defer f.Close()

		d := &mcapDoctor{quiet: doctorQuiet}
		if err := d.run(f); err != nil {
			dieFormat("%s", err)
		}
		if d.errorCount > 0 {
			os.Exit(2)
		}
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVarP(&doctorQuiet, "quiet", "q", false, "only print warnings and errors, not the summary")
}

// mcapDoctor walks an mcap file's records with the lexer's own CRC
// validation enabled, reporting structural inconsistencies (messages on
// unregistered channels, channels with unregistered schemas, unsupported
// chunk compression) as warnings and CRC/parse failures as errors.
type mcapDoctor struct {
	quiet      bool
	errorCount int

	schemas  map[uint16]*mcap.Schema
	channels map[uint16]*mcap.Channel
}

func (d *mcapDoctor) warn(format string, v ...any) {
	color.Yellow(format, v...)
}

func (d *mcapDoctor) err(format string, v ...any) {
	d.errorCount++
	color.Red(format, v...)
}

func (d *mcapDoctor) run(r io.Reader) error {
	d.schemas = map[uint16]*mcap.Schema{}
	d.channels = map[uint16]*mcap.Channel{}

	lexer, err := mcap.NewLexer(r, &mcap.LexerOptions{ValidateCRC: true})
	if err != nil {
		return fmt.Errorf("failed to read mcap header: %w", err)
	}

	var buf []byte
	counts := map[mcap.TokenType]int{}
	for {
		tokenType, recordReader, recordLen, err := lexer.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			d.err("record stream error: %s", err)
			break
		}
		record, err := mcap.ReadIntoOrReplace(recordReader, recordLen, &buf)
		if err != nil {
			d.err("failed to read record body: %s", err)
			break
		}
		counts[tokenType]++

		switch tokenType {
		case mcap.TokenSchema:
			schema, err := mcap.ParseSchema(record)
			if err != nil {
				d.err("malformed schema record: %s", err)
				continue
			}
			d.schemas[schema.ID] = schema
		case mcap.TokenChannel:
			channel, err := mcap.ParseChannel(record)
			if err != nil {
				d.err("malformed channel record: %s", err)
				continue
			}
			if channel.SchemaID != 0 && d.schemas[channel.SchemaID] == nil {
				d.warn("channel %d (%s) references unregistered schema %d", channel.ID, channel.Topic, channel.SchemaID)
			}
			d.channels[channel.ID] = channel
		case mcap.TokenMessage:
			msg, err := mcap.ParseMessage(record)
			if err != nil {
				d.err("malformed message record: %s", err)
				continue
			}
			if d.channels[msg.ChannelID] == nil {
				d.warn("message on unregistered channel %d", msg.ChannelID)
			}
		case mcap.TokenChunk:
			chunk, err := mcap.ParseChunk(record)
			if err != nil {
				d.err("malformed chunk record: %s", err)
				continue
			}
			switch chunk.Compression {
			case "", string(mcap.CompressionLZ4), string(mcap.CompressionZSTD):
			default:
				d.warn("chunk uses unrecognized compression %q", chunk.Compression)
			}
		}
	}

	if !d.quiet {
		fmt.Printf("records: %d schemas, %d channels, %d chunks, %d messages\n",
			counts[mcap.TokenSchema], counts[mcap.TokenChannel], counts[mcap.TokenChunk], counts[mcap.TokenMessage])
		if d.errorCount == 0 {
			color.Green("no errors found")
		} else {
			color.Red("%d error(s) found", d.errorCount)
		}
	}
	return nil
}
