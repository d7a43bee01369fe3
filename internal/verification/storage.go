package verification

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"verifiednyumba/backend/pkg/storage"
)

// StorageProvider keeps verification documents in the object store.
type StorageProvider struct {
	s3         storage.S3Client
	bucket     string
	presignTTL time.Duration
}

func NewStorageProvider(s3 storage.S3Client, bucket string, presignTTL time.Duration) *StorageProvider {
	return &StorageProvider{
		s3:         s3,
		bucket:     bucket,
		presignTTL: presignTTL,
	}
}

func (p *StorageProvider) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	return p.s3.Upload(ctx, p.bucket, key, contentType, body)
}

// URL returns a time-limited retrievable URL for key.
func (p *StorageProvider) URL(ctx context.Context, key string) (string, error) {
	return p.s3.GetPresignedURL(ctx, p.bucket, key, p.presignTTL)
}

func (p *StorageProvider) Delete(ctx context.Context, key string) error {
	return p.s3.Delete(ctx, p.bucket, key)
}

func (p *StorageProvider) GenerateKey(userID uuid.UUID, docType DocumentType, fileName string) string {
	return fmt.Sprintf("verification/%s/%s/%s-%s", userID, strings.ToLower(string(docType)), uuid.NewString(), cleanFileName(fileName))
}

func cleanFileName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 || base == "." || base == "/" {
		return "file"
	}
	return b.String()
}
