package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/foxglove-labs/logbag/mcap"
)

var (
	mergeOutput                 string
	mergeChunkSize              int
	mergeChunkCompression       string
	mergeAllowDuplicateMetadata bool
)

var mergeCmd = &cobra.Command{
	Use:   "merge IN...",
	Short: "Merge mcap files into one, deduplicating schemas and channels",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if mergeOutput == "" {
			die("an output path is required: -o OUT")
		}
		inputs := make([]mcap.MergeInput, 0, len(args))
		for _, path := range args {
			f, err := os.Open(path)
			if err != nil {
				die("failed to open %s: %s", path, err)
			}
			defer f.Close()
			inputs = append(inputs, mcap.MergeInput{Name: path, Reader: f})
		}

		out, err := os.OpenFile(mergeOutput, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			die("failed to create %s: %s", mergeOutput, err)
		}
		defer out.Close()

		opts := mcap.MergeOptions{
			Compression:            mcap.CompressionFormat(mergeChunkCompression),
			ChunkSize:              int64(mergeChunkSize),
			Chunked:                true,
			IncludeCRC:             true,
			AllowDuplicateMetadata: mergeAllowDuplicateMetadata,
		}
		if err := mcap.Merge(out, inputs, opts); err != nil {
			dieFormat("merge failed: %s", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)
	mergeCmd.Flags().StringVarP(&mergeOutput, "output", "o", "", "output file path")
	mergeCmd.Flags().IntVar(&mergeChunkSize, "chunk-size", 4*1024*1024, "target chunk size in bytes")
	mergeCmd.Flags().StringVar(&mergeChunkCompression, "chunk-compression", "", "output chunk compression: lz4, zstd, or none")
	mergeCmd.Flags().BoolVar(&mergeAllowDuplicateMetadata, "allow-duplicate-metadata", false,
		"allow inputs to carry more than one Metadata record with the same name")
}
