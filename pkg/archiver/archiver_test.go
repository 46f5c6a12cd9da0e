package archiver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bturcanu/toolbelt/pkg/audit"
	"github.com/bturcanu/toolbelt/pkg/types"
)

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (f *fakeUploader) Upload(_ context.Context, key string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[key] = body
	return nil
}

func record(t *testing.T, s *audit.MemoryStore, tenant string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := tenant + "-" + string(rune('a'+i))
		err := s.Record(context.Background(), &types.ToolCallEnvelope{
			EventID:         id,
			Request:         types.ToolCallRequest{TenantID: tenant, AgentID: "a", Tool: "slack", Action: "post_message", IdempotencyKey: id},
			ReceivedAt:      time.Date(2026, 3, 1, 12, i, 0, 0, time.UTC),
			ExecutionResult: &types.ExecutionResult{Status: types.StatusSuccess},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func fixedNow(s *Service) {
	s.now = func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }
}

func TestArchiveTenantBuildsBundleAndAdvancesCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := audit.NewMemoryStore()
	record(t, store, "acme", 2)
	up := &fakeUploader{}
	s := New(store, up, fixedNow)

	key, err := s.ArchiveTenant(ctx, "acme")
	if err != nil {
		t.Fatalf("archive tenant: %v", err)
	}
	events, _ := store.GetChainEvents(ctx, "acme", 0, 0)
	last := events[1]
	if want := "audit/acme/2026/03/02/" + last.Hash + ".json"; key != want {
		t.Errorf("key = %s, want %s", key, want)
	}

	var b Bundle
	if err := json.Unmarshal(up.objects[key], &b); err != nil {
		t.Fatal(err)
	}
	if b.EventCount != 2 || b.FirstSeq != 1 || b.LastSeq != 2 || b.Checkpoint != last.Hash || b.PrevHash != "" {
		t.Errorf("bundle = %+v", b)
	}
	if err := audit.VerifyChainFrom(b.PrevHash, b.ChainRecords); err != nil {
		t.Errorf("bundle does not verify: %v", err)
	}

	cp, _ := store.GetArchiveCheckpoint(ctx, "acme")
	if cp.Seq != 2 || cp.Hash != last.Hash {
		t.Errorf("checkpoint = %+v", cp)
	}

	key, err = s.ArchiveTenant(ctx, "acme")
	if err != nil || key != "" {
		t.Errorf("second run = %q, %v; want nothing pending", key, err)
	}
}

func TestArchiveTenantContinuesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := audit.NewMemoryStore()
	record(t, store, "acme", 5)
	up := &fakeUploader{}
	s := New(store, up, WithBatchSize(2))

	keys, err := s.ArchiveAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 3 {
		t.Fatalf("keys = %v, want 3 bundles", keys)
	}
	var third Bundle
	if err := json.Unmarshal(up.objects[keys[2]], &third); err != nil {
		t.Fatal(err)
	}
	if third.FirstSeq != 5 || third.EventCount != 1 || third.PrevHash == "" {
		t.Errorf("third bundle = %+v", third)
	}
}

func TestArchiveTenantRejectsBrokenChain(t *testing.T) {
	ctx := context.Background()
	store := audit.NewMemoryStore()
	record(t, store, "acme", 2)
	store.Tamper("acme-a", types.ExecutionResult{Status: types.StatusError})
	up := &fakeUploader{}

	if _, err := New(store, up).ArchiveTenant(ctx, "acme"); err == nil {
		t.Fatal("expected verification error")
	}
	if len(up.objects) != 0 {
		t.Error("broken chain was uploaded")
	}
	if cp, _ := store.GetArchiveCheckpoint(ctx, "acme"); cp.Seq != 0 {
		t.Errorf("checkpoint advanced to %d", cp.Seq)
	}
}

func TestArchiveAllKeepsGoingAfterFailure(t *testing.T) {
	ctx := context.Background()
	store := audit.NewMemoryStore()
	record(t, store, "acme", 1)
	record(t, store, "globex", 1)
	store.Tamper("acme-a", types.ExecutionResult{Status: types.StatusError})

	keys, err := New(store, &fakeUploader{}).ArchiveAll(ctx)
	if err == nil {
		t.Error("expected acme failure to be reported")
	}
	if len(keys) != 1 || !strings.HasPrefix(keys[0], "audit/globex/") {
		t.Errorf("keys = %v", keys)
	}
}

func TestArchiveTenantUploadFailure(t *testing.T) {
	ctx := context.Background()
	store := audit.NewMemoryStore()
	record(t, store, "acme", 1)

	_, err := New(store, &fakeUploader{err: errors.New("boom")}).ArchiveTenant(ctx, "acme")
	if err == nil {
		t.Fatal("expected error")
	}
	if cp, _ := store.GetArchiveCheckpoint(ctx, "acme"); cp.Seq != 0 {
		t.Errorf("checkpoint advanced after failed upload")
	}
}

func TestS3Uploader(t *testing.T) {
	var (
		mu   sync.Mutex
		puts = map[string]string{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			puts[r.URL.Path] = string(body)
			mu.Unlock()
			w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	up, err := NewS3Uploader(S3Config{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "audit-archive",
		Region:    "us-east-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := up.Upload(context.Background(), "audit/acme/2026/03/02/abc.json", []byte(`{"ok":true}`)); err != nil {
		t.Fatal(err)
	}
	if got, ok := puts["/audit-archive/audit/acme/2026/03/02/abc.json"]; !ok || !strings.Contains(got, `{"ok":true}`) {
		t.Errorf("puts = %v", puts)
	}
}

func TestNewS3UploaderRequiresBucket(t *testing.T) {
	if _, err := NewS3Uploader(S3Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected error")
	}
}
