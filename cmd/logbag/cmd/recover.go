package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxglove-labs/logbag/mcap"
)

var (
	recoverOutput      string
	recoverChunkSize   int
	recoverCompression string
	recoverOverwrite   bool
	recoverVerbose     bool
)

var recoverCmd = &cobra.Command{
	Use:   "recover IN",
	Short: "Salvage a truncated or corrupt mcap file by scanning it record by record",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		in, err := os.Open(args[0])
		if err != nil {
			die("input not found: %s", args[0])
		}
		defer in.Close()

		outPath := recoverOutput
		if outPath == "" {
			outPath = strings.TrimSuffix(args[0], ".mcap") + ".recovered.mcap"
		}
		if !recoverOverwrite {
			if _, err := os.Stat(outPath); err == nil {
				die("output %s already exists; pass --overwrite", outPath)
			}
		}
		out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			die("failed to create %s: %s", outPath, err)
		}
		defer out.Close()

		result, err := mcap.Recover(out, in, &mcap.RecoverOptions{
			Compression: mcap.CompressionFormat(recoverCompression),
			ChunkSize:   int64(recoverChunkSize),
			IncludeCRC:  true,
		})
		if err != nil {
			dieFormat("recovery failed: %s", err)
		}
		if result.StoppedAt != nil {
			fmt.Fprintf(os.Stderr, "stopped at first unrecoverable record: %s\n", result.StoppedAt)
		}
		if recoverVerbose {
			fmt.Printf("recovered %d messages, %d attachments, %d metadata records\n",
				result.MessageCount, result.AttachmentCount, result.MetadataCount)
		}
	},
}

func init() {
	rootCmd.AddCommand(recoverCmd)
	recoverCmd.Flags().StringVarP(&recoverOutput, "output", "o", "", "output file path (default IN with .recovered.mcap suffix)")
	recoverCmd.Flags().IntVar(&recoverChunkSize, "chunk-size", 4*1024*1024, "target chunk size in bytes")
	recoverCmd.Flags().StringVar(&recoverCompression, "chunk-compression", "", "output chunk compression: lz4, zstd, or none")
	recoverCmd.Flags().BoolVar(&recoverOverwrite, "overwrite", false, "allow overwriting an existing output file")
	recoverCmd.Flags().BoolVarP(&recoverVerbose, "verbose", "v", false, "print a summary of what was recovered")
}
