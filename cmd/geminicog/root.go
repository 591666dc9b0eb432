package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/opentalon/geminicog/internal/config"
	"github.com/opentalon/geminicog/internal/version"
)

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "geminicog",
		Short: "Gemini cog: completion assertions over the cog gRPC protocol",
		Long: `geminicog serves CogService over gRPC. Hosts fetch its manifest and run
steps that send a prompt to a Gemini model and check the completion.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (defaults apply when empty)")

	loadConfig := func() (*config.Config, error) {
		if configPath == "" {
			return config.Default(), nil
		}
		return config.Load(configPath)
	}

	root.AddCommand(
		newServeCmd(loadConfig),
		newManifestCmd(loadConfig),
		newRunCmd(),
		newHistoryCmd(loadConfig),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get())
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
