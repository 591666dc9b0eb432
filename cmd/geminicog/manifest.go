package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/opentalon/geminicog/internal/client"
	"github.com/opentalon/geminicog/internal/cogserver"
	"github.com/opentalon/geminicog/internal/config"
	"github.com/opentalon/geminicog/internal/steps"
	"github.com/opentalon/geminicog/pkg/cog"
)

func newManifestCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Print the cog manifest as JSON",
		Long:  "Print the manifest this binary would serve, or with --addr the manifest of a running cog.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				m   *cog.CogManifest
				err error
			)
			if addr != "" {
				m, err = remoteManifest(cmd.Context(), addr)
			} else {
				m, err = localManifest(loadConfig)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), m)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "address of a running cog (host:port or unix:///path)")
	return cmd
}

func localManifest(loadConfig func() (*config.Config, error)) (*cog.CogManifest, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	reg, err := steps.NewRegistry()
	if err != nil {
		return nil, err
	}
	return cogserver.BuildManifest(cogInfo(cfg), client.AuthFields, reg), nil
}

func remoteManifest(ctx context.Context, addr string) (*cog.CogManifest, error) {
	conn, err := dial(addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return cog.NewClient(conn).GetManifest(ctx)
}
