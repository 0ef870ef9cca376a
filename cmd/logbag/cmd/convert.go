package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/foxglove-labs/logbag"
)

var (
	convertProfile         string
	convertMCAPCompression string
	convertBagCompression  string
	convertChunkSize       int
	convertOutput          string
	convertOverwrite       bool
)

var convertCmd = &cobra.Command{
	Use:   "convert IN",
	Short: "Convert between mcap and bag, translating ROS dialects as needed",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if convertOutput == "" {
			die("an output path is required: -o OUT")
		}
		if _, err := os.Stat(args[0]); err != nil {
			die("input not found: %s", args[0])
		}
		opts := logbag.ConvertOptions{
			Writer: logbag.WriterOptions{
				Profile:         convertProfile,
				MCAPCompression: viper.GetString("mcap-compression"),
				BagCompression:  viper.GetString("bag-compression"),
				ChunkSize:       convertChunkSize,
				Overwrite:       convertOverwrite,
			},
		}
		if cmd.Flags().Changed("mcap-compression") {
			opts.Writer.MCAPCompression = convertMCAPCompression
		}
		if cmd.Flags().Changed("bag-compression") {
			opts.Writer.BagCompression = convertBagCompression
		}
		if err := logbag.Convert(args[0], convertOutput, opts); err != nil {
			if errors.Is(err, logbag.ErrUnknownFormat) {
				dieFormat("%s", err)
			}
			dieFormat("conversion failed: %s", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(convertCmd)
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "output file path")
	convertCmd.Flags().StringVar(&convertProfile, "profile", "", "target ROS dialect for mcap output: ros1 or ros2")
	convertCmd.Flags().StringVar(&convertMCAPCompression, "mcap-compression", "", "mcap chunk compression: lz4, zstd, or none")
	convertCmd.Flags().StringVar(&convertBagCompression, "bag-compression", "", "bag chunk compression: none or bz2")
	convertCmd.Flags().IntVar(&convertChunkSize, "chunk-size", 0, "target chunk size in bytes")
	convertCmd.Flags().BoolVar(&convertOverwrite, "overwrite", false, "allow overwriting an existing output file")
}
