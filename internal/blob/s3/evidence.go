package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// EvidenceStore writes and reads resolution evidence objects. Objects are
// keyed evidence/<market_id>/<digest>.json; the digest in the key is the
// same sha256 hex recorded on the resolution row, so an object can never be
// silently replaced with different content under the same key.
type EvidenceStore struct {
	client *Client
}

// NewEvidenceStore binds the store to a connected client.
func NewEvidenceStore(c *Client) *EvidenceStore {
	return &EvidenceStore{client: c}
}

func evidenceKey(marketID, hash string) string {
	return path.Join("evidence", marketID, hash+".json")
}

// Archive uploads the raw evidence payload and returns the object key.
func (e *EvidenceStore) Archive(ctx context.Context, marketID, hash string, raw []byte) (string, error) {
	key := evidenceKey(marketID, hash)
	_, err := e.client.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.client.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("s3blob: put evidence %s: %w", key, err)
	}
	return key, nil
}

// Fetch downloads the evidence payload for a market and digest.
func (e *EvidenceStore) Fetch(ctx context.Context, marketID, hash string) ([]byte, error) {
	key := evidenceKey(marketID, hash)
	out, err := e.client.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(e.client.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3blob: get evidence %s: %w", key, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read evidence %s: %w", key, err)
	}
	return raw, nil
}
