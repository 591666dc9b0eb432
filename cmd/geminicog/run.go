package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/opentalon/geminicog/internal/client"
	"github.com/opentalon/geminicog/pkg/cog"
)

func dial(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

func newRunCmd() *cobra.Command {
	var (
		addr   string
		apiKey string
		data   string
		repeat int
	)
	cmd := &cobra.Command{
		Use:   "run STEP_ID",
		Short: "Run a step against a running cog and print the response",
		Long: `Run sends one RunStep request, or with --repeat N sends N copies over a
single RunSteps stream and prints every response as it arrives.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				apiKey = os.Getenv("GEMINI_API_KEY")
			}
			var stepData map[string]any
			if data != "" {
				if err := json.Unmarshal([]byte(data), &stepData); err != nil {
					return fmt.Errorf("--data: %w", err)
				}
			}
			conn, err := dial(addr)
			if err != nil {
				return err
			}
			defer conn.Close()

			c := cog.NewClient(conn)
			ctx := cog.WithCredentials(cmd.Context(), map[string]string{client.CredentialAPIKey: apiKey})
			req := &cog.RunStepRequest{Step: &cog.Step{StepID: args[0], Data: stepData}}
			if repeat <= 1 {
				resp, err := c.RunStep(ctx, req)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			return runStream(ctx, c, req, repeat, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:28866", "address of the cog (host:port or unix:///path)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key credential (default $GEMINI_API_KEY)")
	cmd.Flags().StringVar(&data, "data", "", "step data as a JSON object")
	cmd.Flags().IntVar(&repeat, "repeat", 1, "send the request N times over one RunSteps stream")
	return cmd
}

func runStream(ctx context.Context, c *cog.Client, req *cog.RunStepRequest, n int, out io.Writer) error {
	stream, err := c.RunSteps(ctx)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		r := *req
		r.RequestID = strconv.Itoa(i + 1)
		if err := stream.Send(&r); err != nil {
			return fmt.Errorf("send request %d: %w", i+1, err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := writeJSON(out, resp); err != nil {
			return err
		}
	}
}
