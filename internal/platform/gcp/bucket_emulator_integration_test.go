package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/usd-asset-library/backend/internal/pkg/logger"
	"github.com/usd-asset-library/backend/internal/platform/contentstore"
)

func TestBucketStoreEmulatorLifecycle(t *testing.T) {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("ASSETLIB_RUN_GCS_EMULATOR_INTEGRATION")), "true") {
		t.Skip("set ASSETLIB_RUN_GCS_EMULATOR_INTEGRATION=true to run emulator integration tests")
	}

	emulatorHost := strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST"))
	if emulatorHost == "" {
		emulatorHost = "http://127.0.0.1:4443"
	}
	emulatorHost = strings.TrimRight(emulatorHost, "/")

	if !isEmulatorReachable(t, emulatorHost) {
		t.Skipf("storage emulator not reachable at %s", emulatorHost)
	}

	suffix := time.Now().UnixNano()
	bucketName := fmt.Sprintf("assetlib-it-%d", suffix)
	createBucketIfMissing(t, emulatorHost, bucketName)

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	store, err := NewBucketStore(log, BucketConfig{
		Storage:    StorageConfig{Mode: ModeEmulator, EmulatorHost: emulatorHost},
		BucketName: bucketName,
	})
	if err != nil {
		t.Fatalf("NewBucketStore: %v", err)
	}

	ctx := context.Background()
	prefix := fmt.Sprintf("chair-%d/", suffix)
	keyA := prefix + "chair.usda"
	keyB := prefix + "LODs/chair_LOD1.usda"

	genA, err := store.Put(ctx, keyA, strings.NewReader("alpha"))
	if err != nil {
		t.Fatalf("Put(%s): %v", keyA, err)
	}
	if genA == "" {
		t.Fatalf("Put(%s): expected a generation", keyA)
	}
	if _, err := store.Put(ctx, keyB, strings.NewReader("beta")); err != nil {
		t.Fatalf("Put(%s): %v", keyB, err)
	}

	waitForKeys(t, store, ctx, prefix, keyA, keyB)

	body, err := getWithRetry(ctx, store, keyA, 5*time.Second)
	if err != nil {
		t.Fatalf("getWithRetry(%s): %v", keyA, err)
	}
	if string(body) != "alpha" {
		t.Fatalf("get body: want=%q got=%q", "alpha", string(body))
	}

	u, err := store.PresignedURL(ctx, keyA)
	if err != nil || !strings.HasPrefix(u, emulatorHost) {
		t.Fatalf("PresignedURL: got=%q err=%v", u, err)
	}

	if err := store.Delete(ctx, keyA); err != nil {
		t.Fatalf("Delete(%s): %v", keyA, err)
	}
	keys, err := store.ListByPrefix(ctx, prefix)
	if err != nil {
		t.Fatalf("ListByPrefix after delete: %v", err)
	}
	if slices.Contains(keys, keyA) || !slices.Contains(keys, keyB) {
		t.Fatalf("unexpected keys after delete: %v", keys)
	}
}

func isEmulatorReachable(t *testing.T, emulatorHost string) bool {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(emulatorHost + "/storage/v1/b?project=local-dev")
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func createBucketIfMissing(t *testing.T, emulatorHost string, bucket string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"name":       bucket,
		"versioning": map[string]bool{"enabled": true},
	})
	if err != nil {
		t.Fatalf("json.Marshal(bucket): %v", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(
		http.MethodPost,
		emulatorHost+"/storage/v1/b?project=local-dev",
		bytes.NewReader(payload),
	)
	if err != nil {
		t.Fatalf("http.NewRequest(create bucket): %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("create bucket %q: %v", bucket, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusConflict {
		return
	}
	b, _ := io.ReadAll(resp.Body)
	t.Fatalf("create bucket %q failed: status=%d body=%s", bucket, resp.StatusCode, strings.TrimSpace(string(b)))
}

func waitForKeys(t *testing.T, store contentstore.Store, ctx context.Context, prefix string, keys ...string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last []string
	for {
		got, err := store.ListByPrefix(ctx, prefix)
		if err == nil {
			last = got
			ok := true
			for _, k := range keys {
				if !slices.Contains(got, k) {
					ok = false
					break
				}
			}
			if ok {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for keys %v under prefix %q; last=%v", keys, prefix, last)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func getWithRetry(ctx context.Context, store contentstore.Store, key string, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		rc, err := store.Get(ctx, key)
		if err == nil {
			body, readErr := io.ReadAll(rc)
			_ = rc.Close()
			if readErr == nil {
				return body, nil
			}
			lastErr = readErr
		} else {
			lastErr = err
		}
		if time.Now().After(deadline) {
			return nil, lastErr
		}
		time.Sleep(100 * time.Millisecond)
	}
}
