package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// SchemeAzureBlob addresses a blob as azblob://<container>/<blob path>.
const SchemeAzureBlob = "azblob"

// BlobDownloader is the part of *azblob.Client used by AzureSource.
type BlobDownloader interface {
	DownloadStream(ctx context.Context, containerName string, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
}

// AzureSource reads images from Azure Blob Storage.
type AzureSource struct {
	client   BlobDownloader
	maxBytes int64
}

// NewAzureSource authenticates with a shared key.
func NewAzureSource(accountName string, accountKey string) (*AzureSource, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}
	return NewAzureSourceWithClient(client), nil
}

// NewAzureSourceWithClient wraps an existing client.
func NewAzureSourceWithClient(client BlobDownloader) *AzureSource {
	return &AzureSource{client: client, maxBytes: DefaultMaxImageBytes}
}

// ParseBlobRef splits azblob://container/path/to/blob.jpg.
func ParseBlobRef(ref string) (container, blob string, err error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", fmt.Errorf("invalid blob reference: %w", err)
	}
	if u.Scheme != SchemeAzureBlob {
		return "", "", fmt.Errorf("invalid blob reference %q: scheme must be %s", ref, SchemeAzureBlob)
	}
	container = u.Host
	blob = strings.TrimPrefix(u.Path, "/")
	if container == "" || blob == "" {
		return "", "", fmt.Errorf("invalid blob reference %q: want %s://<container>/<blob>", ref, SchemeAzureBlob)
	}
	return container, blob, nil
}

func (s *AzureSource) Fetch(ctx context.Context, ref string) ([]byte, error) {
	containerName, blobName, err := ParseBlobRef(ref)
	if err != nil {
		return nil, err
	}

	downloadResponse, err := s.client.DownloadStream(ctx, containerName, blobName, nil)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}

	retryReader := downloadResponse.Body
	defer retryReader.Close()

	data, err := io.ReadAll(io.LimitReader(retryReader, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("blob exceeds %d bytes", s.maxBytes)
	}
	return data, nil
}
