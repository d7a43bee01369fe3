package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

// MemoryClient keeps objects in process. Used in tests and local runs
// without an object store.
type MemoryClient struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	baseURL string
}

type memoryObject struct {
	data        []byte
	contentType string
}

func NewMemoryClient(baseURL string) *MemoryClient {
	return &MemoryClient{
		objects: make(map[string]memoryObject),
		baseURL: baseURL,
	}
}

func (c *MemoryClient) Upload(ctx context.Context, bucket, key, contentType string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.objects[bucket+"/"+key] = memoryObject{data: data, contentType: contentType}
	c.mu.Unlock()
	return nil
}

func (c *MemoryClient) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	c.mu.RLock()
	obj, ok := c.objects[bucket+"/"+key]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (c *MemoryClient) Delete(ctx context.Context, bucket, key string) error {
	c.mu.Lock()
	delete(c.objects, bucket+"/"+key)
	c.mu.Unlock()
	return nil
}

func (c *MemoryClient) GetPresignedURL(ctx context.Context, bucket, key string, expiration time.Duration) (string, error) {
	expires := time.Now().Add(expiration).Unix()
	return fmt.Sprintf("%s/%s/%s?expires=%d", c.baseURL, bucket, url.PathEscape(key), expires), nil
}

// Len reports how many objects are stored.
func (c *MemoryClient) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.objects)
}
