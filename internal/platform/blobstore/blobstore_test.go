package blobstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func stores(t *testing.T) map[string]BlobStore {
	t.Helper()
	disk, err := NewDiskBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskBlobStore: %v", err)
	}
	return map[string]BlobStore{
		"memory": NewInMemoryBlobStore(),
		"disk":   disk,
	}
}

func seedBlob(t *testing.T, store BlobStore, fileName, contentType, content string) *BlobMetadata {
	t.Helper()
	meta := BlobMetadata{FileName: fileName, ContentType: contentType}
	result, err := store.Upload(context.Background(), meta, strings.NewReader(content))
	if err != nil {
		t.Fatalf("seedBlob: %v", err)
	}
	return result
}

// ---------------------------------------------------------------------------
// Store tests
// ---------------------------------------------------------------------------

func TestBlobStore_Upload(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			content := "hello world"
			result, err := store.Upload(context.Background(),
				BlobMetadata{FileName: "report.txt", ContentType: "text/plain"}, strings.NewReader(content))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if result.ID == "" {
				t.Fatal("expected non-empty ID")
			}
			if result.FileName != "report.txt" {
				t.Errorf("expected FileName=report.txt, got %s", result.FileName)
			}
			if result.Size != int64(len(content)) {
				t.Errorf("expected Size=%d, got %d", len(content), result.Size)
			}
			want := fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
			if result.Hash != want {
				t.Errorf("expected Hash=%s, got %s", want, result.Hash)
			}
			if result.CreatedAt.IsZero() {
				t.Fatal("expected non-zero CreatedAt")
			}
		})
	}
}

func TestBlobStore_UploadMissingFileName(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Upload(context.Background(), BlobMetadata{}, strings.NewReader("x"))
			if !errors.Is(err, ErrMissingFileName) {
				t.Errorf("expected ErrMissingFileName, got %v", err)
			}
		})
	}
}

func TestBlobStore_Download(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			content := "%PDF-1.4 binary-content-here"
			uploaded := seedBlob(t, store, "report.pdf", "application/pdf", content)

			rc, meta, err := store.Download(context.Background(), uploaded.ID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer rc.Close()

			data, err := io.ReadAll(rc)
			if err != nil {
				t.Fatalf("error reading content: %v", err)
			}
			if string(data) != content {
				t.Errorf("expected content=%q, got %q", content, string(data))
			}
			if meta.ContentType != "application/pdf" {
				t.Errorf("expected ContentType=application/pdf, got %s", meta.ContentType)
			}
		})
	}
}

func TestBlobStore_NotFound(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			missing := "00000000-0000-0000-0000-000000000000"
			if _, _, err := store.Download(ctx, missing); !errors.Is(err, ErrBlobNotFound) {
				t.Errorf("Download: expected ErrBlobNotFound, got %v", err)
			}
			if _, err := store.GetMetadata(ctx, missing); !errors.Is(err, ErrBlobNotFound) {
				t.Errorf("GetMetadata: expected ErrBlobNotFound, got %v", err)
			}
			if err := store.Delete(ctx, missing); !errors.Is(err, ErrBlobNotFound) {
				t.Errorf("Delete: expected ErrBlobNotFound, got %v", err)
			}
		})
	}
}

func TestBlobStore_Delete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			uploaded := seedBlob(t, store, "a.png", "image/png", "png-bytes")

			if err := store.Delete(ctx, uploaded.ID); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, err := store.GetMetadata(ctx, uploaded.ID); !errors.Is(err, ErrBlobNotFound) {
				t.Errorf("expected ErrBlobNotFound after delete, got %v", err)
			}
		})
	}
}

func TestDiskBlobStore_RejectsPathLikeIDs(t *testing.T) {
	store, err := NewDiskBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.GetMetadata(context.Background(), "../etc/passwd"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestInMemoryBlobStore_ConcurrentUploads(t *testing.T) {
	store := NewInMemoryBlobStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seedBlob(t, store, fmt.Sprintf("f%d.txt", i), "text/plain", "content")
		}(i)
	}
	wg.Wait()

	store.mu.RLock()
	defer store.mu.RUnlock()
	if len(store.blobs) != 20 {
		t.Errorf("expected 20 blobs, got %d", len(store.blobs))
	}
}
