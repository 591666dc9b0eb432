package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// DefaultContainer is the blob container used when none is configured.
const DefaultContainer = "gemini-cog-logs"

type blobUploader interface {
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

// BlobSink writes each record as a JSON blob named <date>/<id>.json.
type BlobSink struct {
	client    blobUploader
	container string
}

// OpenBlob connects with an Azure storage connection string and makes sure
// the container exists.
func OpenBlob(ctx context.Context, connectionString, container string) (*BlobSink, error) {
	if container == "" {
		container = DefaultContainer
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("audit blob: %w", err)
	}
	if _, err := client.CreateContainer(ctx, container, nil); err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil, fmt.Errorf("audit blob: create container %s: %w", container, err)
	}
	return &BlobSink{client: client, container: container}, nil
}

// BlobName is the name a record is stored under.
func BlobName(r Record) string {
	return r.Created.Format("2006/01/02") + "/" + r.ID + ".json"
}

func (s *BlobSink) Write(ctx context.Context, r Record) error {
	body, err := json.Marshal(r.Document())
	if err != nil {
		return fmt.Errorf("audit blob: encode: %w", err)
	}
	contentType := "application/json"
	_, err = s.client.UploadBuffer(ctx, s.container, BlobName(r), body, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return fmt.Errorf("audit blob: upload %s: %w", BlobName(r), err)
	}
	return nil
}

func (s *BlobSink) Close() error { return nil }
