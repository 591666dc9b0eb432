package cog

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Client is the host side of CogService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// WithCredentials attaches credential fields to the outgoing call metadata.
func WithCredentials(ctx context.Context, creds map[string]string) context.Context {
	pairs := make([]string, 0, len(creds)*2)
	for k, v := range creds {
		pairs = append(pairs, k, v)
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

// GetManifest fetches the cog's manifest.
func (c *Client) GetManifest(ctx context.Context, opts ...grpc.CallOption) (*CogManifest, error) {
	out := new(CogManifest)
	if err := c.cc.Invoke(ctx, getManifestMethod, &ManifestRequest{}, out, callOptions(opts)...); err != nil {
		return nil, fmt.Errorf("get manifest: %w", err)
	}
	return out, nil
}

// RunStep executes a single step.
func (c *Client) RunStep(ctx context.Context, req *RunStepRequest, opts ...grpc.CallOption) (*RunStepResponse, error) {
	out := new(RunStepResponse)
	if err := c.cc.Invoke(ctx, runStepMethod, req, out, callOptions(opts)...); err != nil {
		return nil, fmt.Errorf("run step %s: %w", req.StepID(), err)
	}
	return out, nil
}

// RunStepsClient is the host side of the RunSteps duplex stream.
type RunStepsClient interface {
	Send(*RunStepRequest) error
	Recv() (*RunStepResponse, error)
	grpc.ClientStream
}

// RunSteps opens a duplex stream. Responses arrive in completion order.
func (c *Client) RunSteps(ctx context.Context, opts ...grpc.CallOption) (RunStepsClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], runStepsMethod, callOptions(opts)...)
	if err != nil {
		return nil, fmt.Errorf("open run steps stream: %w", err)
	}
	return &runStepsClient{stream}, nil
}

type runStepsClient struct {
	grpc.ClientStream
}

func (x *runStepsClient) Send(m *RunStepRequest) error {
	return x.ClientStream.SendMsg(m)
}

func (x *runStepsClient) Recv() (*RunStepResponse, error) {
	m := new(RunStepResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
