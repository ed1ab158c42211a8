package artifacts

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestRepo(t *testing.T) (*MemoryRepository, *LocalStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	return NewMemoryRepository(store, nil), store, dir
}

func TestMemoryRepositoryStoreAndGetInline(t *testing.T) {
	repo, _, _ := newTestRepo(t)

	art := &Artifact{TaskID: "A", Kind: KindOutput, MimeType: "text/markdown", Size: 5}
	if err := repo.StoreArtifact(context.Background(), art, strings.NewReader("hello")); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(art.Reference, "inline://") {
		t.Errorf("small artifact should stay inline, reference = %q", art.Reference)
	}

	got, rc, err := repo.GetArtifact(context.Background(), art.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	if got.TaskID != "A" || got.Kind != KindOutput {
		t.Errorf("got = %+v", got)
	}
	data, err := io.ReadAll(rc)
	if err != nil || string(data) != "hello" {
		t.Errorf("data = %q, err = %v", data, err)
	}
}

func TestMemoryRepositoryListFiltersByKind(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	if err := repo.StoreArtifact(ctx, &Artifact{TaskID: "A", Kind: KindOutput, Size: 2}, strings.NewReader("ok")); err != nil {
		t.Fatal(err)
	}
	if err := repo.StoreArtifact(ctx, &Artifact{TaskID: "A", Kind: KindPatch, Size: 2}, strings.NewReader("ok")); err != nil {
		t.Fatal(err)
	}

	patches, err := repo.ListArtifacts(ctx, Filter{Kind: KindPatch})
	if err != nil {
		t.Fatal(err)
	}
	if len(patches) != 1 || patches[0].Kind != KindPatch {
		t.Errorf("patches = %+v", patches)
	}
}

func TestMemoryRepositoryDeleteIsIdempotent(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	art := &Artifact{TaskID: "A", Kind: KindOutput, Size: 2}
	if err := repo.StoreArtifact(ctx, art, strings.NewReader("ok")); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteArtifact(ctx, art.ID); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteArtifact(ctx, art.ID); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
	if _, _, err := repo.GetArtifact(ctx, art.ID); err == nil {
		t.Error("deleted artifact should not be retrievable")
	}
}

func TestLocalStoreLayoutByKind(t *testing.T) {
	_, store, dir := newTestRepo(t)
	ctx := context.Background()

	tests := []struct {
		id       string
		kind     Kind
		mime     string
		wantFile string
	}{
		{"t1", KindOutput, "text/markdown", filepath.Join("output", "t1.md")},
		{"t2", KindPatch, "text/x-patch", filepath.Join("patch", "t2.patch")},
		{"t3", KindContext, "text/markdown", filepath.Join("context", "t3.md")},
	}
	for _, tt := range tests {
		ref, err := store.Put(ctx, tt.id, strings.NewReader("body"), PutOptions{
			MimeType: tt.mime,
			Metadata: map[string]string{"kind": string(tt.kind)},
		})
		if err != nil {
			t.Fatal(err)
		}
		if ref != "store://"+tt.wantFile {
			t.Errorf("reference = %q, want %q", ref, "store://"+tt.wantFile)
		}
		if _, err := os.Stat(filepath.Join(dir, tt.wantFile)); err != nil {
			t.Errorf("artifact file missing: %v", err)
		}
	}
}

func TestLocalStoreIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := store.Put(ctx, "t1", strings.NewReader("persisted"), PutOptions{
		Metadata: map[string]string{"kind": string(KindOutput)},
	}); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewLocalStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	rc, err := reopened.Get(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "persisted" {
		t.Errorf("data = %q", data)
	}

	ok, err := reopened.Exists(ctx, "t1")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
	if err := reopened.Delete(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := reopened.Exists(ctx, "t1"); ok {
		t.Error("deleted artifact still exists")
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		kind Kind
		mime string
		want string
	}{
		{KindOutput, "", ".md"},
		{KindContext, "", ".md"},
		{KindPatch, "", ".patch"},
		{"", "text/markdown", ".md"},
		{"", "text/x-diff", ".patch"},
		{"", "application/json", ".json"},
		{"", "application/octet-stream", ".txt"},
	}
	for _, tt := range tests {
		if got := extensionFor(tt.kind, tt.mime); got != tt.want {
			t.Errorf("extensionFor(%q, %q) = %q, want %q", tt.kind, tt.mime, got, tt.want)
		}
	}
}

func TestRedactionPolicyMatchesFilenamePattern(t *testing.T) {
	policy, err := NewRedactionPolicy(RedactionConfig{
		Enabled:          true,
		FilenamePatterns: []string{`(?i)secret`},
	})
	if err != nil {
		t.Fatal(err)
	}

	art := &Artifact{Filename: "my-secret.txt", Data: []byte("shh"), Size: 3}
	if !policy.Apply(art) {
		t.Fatal("policy should redact matching filename")
	}
	if art.Data != nil || art.Size != 0 {
		t.Errorf("artifact not scrubbed: %+v", art)
	}
	if !strings.HasPrefix(art.Reference, "redacted://") {
		t.Errorf("reference = %q", art.Reference)
	}
}
