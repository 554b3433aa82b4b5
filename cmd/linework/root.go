package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "linework",
		Short: "Convert images into line-art SVGs",
		Long: `linework runs images through the same conversion pipeline as the API: normalize,
vectorize with the primitive CLI, optionally reduce to black and white, then minify.`,
		SilenceUsage: true,
	}
	root.AddCommand(newConvertCommand())
	return root
}
