package cmd

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/foxglove-labs/logbag/mcap"

	"github.com/foxglove-labs/logbag"
	"github.com/foxglove-labs/logbag/bag"
)

var (
	inspectChunks  bool
	inspectSummary bool
	inspectAll     bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect IN",
	Short: "Report channels, statistics and chunk layout for an mcap or bag file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		r, err := logbag.Open(args[0])
		if err != nil {
			dieFormat("%s", err)
		}
		defer r.Close()

		showSummary := inspectSummary || inspectAll || (!inspectChunks && !inspectSummary)
		showChunks := inspectChunks || inspectAll

		switch r.Format() {
		case logbag.FormatMCAP:
			if err := inspectMCAP(os.Stdout, args[0], showSummary, showChunks); err != nil {
				dieFormat("%s", err)
			}
		case logbag.FormatBag:
			if err := inspectBag(os.Stdout, r, args[0], showSummary); err != nil {
				dieFormat("%s", err)
			}
		}
	},
}

func inspectMCAP(w *os.File, path string, showSummary, showChunks bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	reader, err := mcap.NewReader(f)
	if err != nil {
		return err
	}
	info, err := reader.Info()
	if err != nil {
		return err
	}

	buf := &bytes.Buffer{}
	if showSummary {
		fmt.Fprintf(buf, "format: mcap, profile: %s\n", info.Header.Profile)
		if info.Statistics != nil {
			fmt.Fprintf(buf, "messages: %d\n", info.Statistics.MessageCount)
			start := info.Statistics.MessageStartTime
			end := info.Statistics.MessageEndTime
			startTime := time.Unix(0, int64(start))
			endTime := time.Unix(0, int64(end))
			fmt.Fprintf(buf, "duration: %s\n", endTime.Sub(startTime))
			fmt.Fprintf(buf, "attachments: %d\n", info.Statistics.AttachmentCount)
			fmt.Fprintf(buf, "metadata: %d\n", info.Statistics.MetadataCount)
		}

		chanIDs := make([]uint16, 0, len(info.Channels))
		for id := range info.Channels {
			chanIDs = append(chanIDs, id)
		}
		sort.Slice(chanIDs, func(i, j int) bool { return chanIDs[i] < chanIDs[j] })

		rows := make([][]string, 0, len(chanIDs))
		for _, id := range chanIDs {
			ch := info.Channels[id]
			schemaName, schemaEncoding := "-", "-"
			if sch, ok := info.Schemas[ch.SchemaID]; ok && sch != nil {
				schemaName, schemaEncoding = sch.Name, sch.Encoding
			}
			count := uint64(0)
			if info.Statistics != nil {
				count = info.Statistics.ChannelMessageCounts[id]
			}
			rows = append(rows, []string{
				fmt.Sprintf("(%d) %s", ch.ID, ch.Topic),
				fmt.Sprintf("%d msgs", count),
				fmt.Sprintf("%s [%s]", schemaName, schemaEncoding),
			})
		}
		fmt.Fprintln(buf, "channels:")
		tw := tablewriter.NewWriter(buf)
		tw.SetBorder(false)
		tw.SetAutoWrapText(false)
		tw.SetAlignment(tablewriter.ALIGN_LEFT)
		tw.SetColumnSeparator("")
		tw.AppendBulk(rows)
		tw.Render()
	}

	if showChunks {
		fmt.Fprintf(buf, "chunks: %d\n", len(info.ChunkIndexes))
		stats := map[mcap.CompressionFormat]struct {
			count                   int
			compressedSize, rawSize uint64
		}{}
		for _, ci := range info.ChunkIndexes {
			s := stats[ci.Compression]
			s.count++
			s.compressedSize += ci.CompressedSize
			s.rawSize += ci.UncompressedSize
			stats[ci.Compression] = s
		}
		for format, s := range stats {
			name := string(format)
			if name == "" {
				name = "none"
			}
			ratio := 0.0
			if s.rawSize > 0 {
				ratio = 100 * (1 - float64(s.compressedSize)/float64(s.rawSize))
			}
			fmt.Fprintf(buf, "\t%s: %d chunks, %.1f%% smaller\n", name, s.count, ratio)
		}
	}

	_, err = buf.WriteTo(w)
	return err
}

func inspectBag(w *os.File, r *logbag.Reader, path string, showSummary bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	reader, err := bag.NewReader(f)
	if err != nil {
		return err
	}

	buf := &bytes.Buffer{}
	if showSummary {
		header := reader.Header()
		fmt.Fprintf(buf, "format: bag v2.0\n")
		fmt.Fprintf(buf, "connections: %d, chunks: %d\n", header.ConnCount, header.ChunkCount)

		channels, err := r.Channels()
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(channels))
		for _, ch := range channels {
			rows = append(rows, []string{ch.Topic, fmt.Sprintf("%s [%s]", ch.MsgType, ch.SchemaEncoding)})
		}
		fmt.Fprintln(buf, "connections:")
		tw := tablewriter.NewWriter(buf)
		tw.SetBorder(false)
		tw.SetAutoWrapText(false)
		tw.SetAlignment(tablewriter.ALIGN_LEFT)
		tw.SetColumnSeparator("")
		tw.AppendBulk(rows)
		tw.Render()
	}
	_, err = buf.WriteTo(w)
	return err
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().BoolVar(&inspectChunks, "chunks", false, "show chunk compression statistics (mcap only)")
	inspectCmd.Flags().BoolVar(&inspectSummary, "summary", false, "show channel/connection and message statistics")
	inspectCmd.Flags().BoolVar(&inspectAll, "all", false, "show both summary and chunk statistics")
}
