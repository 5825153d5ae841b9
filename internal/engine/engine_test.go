package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panopticon/internal/config"
	"panopticon/internal/repoerr"
	"panopticon/internal/snapshot"
)

// fakeClient is an in-memory source connector for engine tests.
type fakeClient struct {
	entries       []snapshot.PathEntry
	branches      map[string]string
	defaultBranch string
	blobs         map[string][]byte
	blobErrs      map[string]error
	diff          string
	history       []snapshot.Commit

	fetchCalls   atomic.Int64
	lastRef      snapshot.RepositoryRef
	lastMaxCount int
}

func (f *fakeClient) Fetch(_ context.Context, ref snapshot.RepositoryRef) (*snapshot.Snapshot, error) {
	f.fetchCalls.Add(1)
	f.lastRef = ref
	return &snapshot.Snapshot{
		Ref:           ref,
		FetchedAt:     time.Now(),
		CommitHash:    "c0ffee",
		Entries:       f.entries,
		Branches:      f.branches,
		DefaultBranch: f.defaultBranch,
	}, nil
}

func (f *fakeClient) ReadBlob(_ *snapshot.Snapshot, path string) ([]byte, error) {
	if err, ok := f.blobErrs[path]; ok {
		return nil, err
	}
	if content, ok := f.blobs[path]; ok {
		return content, nil
	}
	return nil, repoerr.New(repoerr.KindNotFound, "gitsource.ReadBlob", "file %s not found", path)
}

func (f *fakeClient) Diff(_ context.Context, _ *snapshot.Snapshot, _, _, _ string) (string, error) {
	return f.diff, nil
}

func (f *fakeClient) History(_ context.Context, _ *snapshot.Snapshot, maxCount int) ([]snapshot.Commit, error) {
	f.lastMaxCount = maxCount
	if maxCount > 0 && len(f.history) > maxCount {
		return f.history[:maxCount], nil
	}
	return f.history, nil
}

func newTestEngine(t *testing.T, client *fakeClient) *Engine {
	t.Helper()
	e, err := New(config.Default(), client, nil)
	require.NoError(t, err)
	return e
}

func dirEntry(path string) snapshot.PathEntry {
	return snapshot.PathEntry{Path: path, Kind: snapshot.KindDirectory}
}

func fileEntry(path string) snapshot.PathEntry {
	return snapshot.PathEntry{Path: path, Kind: snapshot.KindFile, Size: 10, Blob: "b"}
}

func TestStructure(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		entries: []snapshot.PathEntry{
			fileEntry("README.md"),
			dirEntry("src"),
			fileEntry("src/main.go"),
			fileEntry("src/util.go"),
		},
		branches: map[string]string{"main": "c0ffee"},
	}
	e := newTestEngine(t, client)

	result, err := e.Structure(context.Background(), StructureRequest{
		Repository: "https://gitlab.com/group/project",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://gitlab.com/group/project.git", result.Repository)
	assert.Equal(t, "c0ffee", result.Commit)

	require.Len(t, result.Tree.Children, 2)
	assert.Equal(t, "README.md", result.Tree.Children[0].Name)
	assert.Equal(t, "src", result.Tree.Children[1].Name)
	require.Len(t, result.Tree.Children[1].Children, 2)
	assert.Equal(t, "main.go", result.Tree.Children[1].Children[0].Name)
	assert.Equal(t, "util.go", result.Tree.Children[1].Children[1].Name)

	assert.Contains(t, result.Rendered, "└── src/")
	assert.Contains(t, result.Rendered, "    └── util.go")
}

func TestStructureCachesSnapshot(t *testing.T) {
	t.Parallel()

	client := &fakeClient{entries: []snapshot.PathEntry{fileEntry("README.md")}}
	e := newTestEngine(t, client)
	ctx := context.Background()

	_, err := e.Structure(ctx, StructureRequest{Repository: "https://gitlab.com/a/b"})
	require.NoError(t, err)
	_, err = e.Structure(ctx, StructureRequest{Repository: "https://gitlab.com/a/b"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), client.fetchCalls.Load())
}

func TestStructureRejectsBadInput(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	e := newTestEngine(t, client)
	ctx := context.Background()

	tests := []struct {
		name string
		req  StructureRequest
	}{
		{name: "bad url", req: StructureRequest{Repository: "ftp://x/y/z"}},
		{name: "bad revision", req: StructureRequest{Repository: "https://gitlab.com/a/b", Revision: "rev with spaces"}},
		{name: "dash revision", req: StructureRequest{Repository: "https://gitlab.com/a/b", Revision: "-rf"}},
		{name: "traversal prefix", req: StructureRequest{Repository: "https://gitlab.com/a/b", PathPrefix: "../etc"}},
		{name: "absolute prefix", req: StructureRequest{Repository: "https://gitlab.com/a/b", PathPrefix: "/etc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Structure(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, repoerr.KindInvalidInput, repoerr.KindOf(err))
		})
	}

	assert.Equal(t, int64(0), client.fetchCalls.Load(), "invalid input must never reach the network")
}

func TestStructureUnknownPrefix(t *testing.T) {
	t.Parallel()

	client := &fakeClient{entries: []snapshot.PathEntry{fileEntry("README.md")}}
	e := newTestEngine(t, client)

	_, err := e.Structure(context.Background(), StructureRequest{
		Repository: "https://gitlab.com/a/b",
		PathPrefix: "no/such/dir",
	})
	require.Error(t, err)
	assert.Equal(t, repoerr.KindNotFound, repoerr.KindOf(err))
}

func TestReadImportantFilesDefaultSelection(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		entries: []snapshot.PathEntry{
			fileEntry("go.mod"),
			fileEntry("README.md"),
			dirEntry("internal"),
			fileEntry("internal/x.go"),
		},
		blobs: map[string][]byte{
			"go.mod":    []byte("module demo\n"),
			"README.md": []byte("# demo\n"),
		},
	}
	e := newTestEngine(t, client)

	result, err := e.ReadImportantFiles(context.Background(), ReadFilesRequest{
		Repository: "https://gitlab.com/a/b",
	})
	require.NoError(t, err)

	assert.Equal(t, "v1", result.RuleSetVersion)
	require.Len(t, result.Files, 2)
	assert.Equal(t, "go.mod", result.Files[0].Path)
	assert.Equal(t, "manifest", result.Files[0].Rule)
	assert.Equal(t, "module demo\n", result.Files[0].Content)
	assert.Equal(t, "README.md", result.Files[1].Path)
	assert.Equal(t, "readme", result.Files[1].Rule)
}

func TestReadImportantFilesExplicitPaths(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		entries: []snapshot.PathEntry{fileEntry("go.mod"), dirEntry("internal"), fileEntry("internal/x.go")},
		blobs: map[string][]byte{
			"internal/x.go": []byte("package internal\n"),
		},
		blobErrs: map[string]error{
			"huge.bin": repoerr.New(repoerr.KindTooLarge, "gitsource.ReadBlob", "file huge.bin exceeds limit"),
		},
	}
	e := newTestEngine(t, client)

	result, err := e.ReadImportantFiles(context.Background(), ReadFilesRequest{
		Repository: "https://gitlab.com/a/b",
		Paths:      []string{"internal/x.go", "huge.bin", "missing.txt"},
	})
	require.NoError(t, err)

	assert.Empty(t, result.RuleSetVersion, "explicit paths bypass classification")
	require.Len(t, result.Files, 3)
	assert.Equal(t, "package internal\n", result.Files[0].Content)
	assert.Equal(t, "too_large", result.Files[1].ErrorKind)
	assert.Equal(t, "not_found", result.Files[2].ErrorKind)
}

func TestReadImportantFilesRejectsTraversal(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	e := newTestEngine(t, client)

	_, err := e.ReadImportantFiles(context.Background(), ReadFilesRequest{
		Repository: "https://gitlab.com/a/b",
		Paths:      []string{"../secrets"},
	})
	require.Error(t, err)
	assert.Equal(t, repoerr.KindInvalidInput, repoerr.KindOf(err))
	assert.Equal(t, int64(0), client.fetchCalls.Load())
}

func TestListBranchesOrdering(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		entries:       []snapshot.PathEntry{fileEntry("README.md")},
		branches:      map[string]string{"main": "c1", "feature": "c2"},
		defaultBranch: "main",
	}
	e := newTestEngine(t, client)

	result, err := e.ListBranches(context.Background(), BranchesRequest{
		Repository: "https://gitlab.com/a/b",
	})
	require.NoError(t, err)

	want := []snapshot.BranchInfo{
		{Name: "main", Head: "c1", IsDefault: true},
		{Name: "feature", Head: "c2", IsDefault: false},
	}
	assert.Equal(t, want, result.Branches)
}

func TestCompareChanges(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		entries: []snapshot.PathEntry{fileEntry("README.md")},
		diff:    "diff --git a/README.md b/README.md\n",
	}
	e := newTestEngine(t, client)

	result, err := e.CompareChanges(context.Background(), CompareRequest{
		Repository: "https://gitlab.com/a/b",
		Source:     "feature",
		Target:     "main",
	})
	require.NoError(t, err)
	assert.Equal(t, "c0ffee", result.Source)
	assert.Equal(t, "main", result.Target)
	assert.Equal(t, client.diff, result.Diff)
	assert.Equal(t, "feature", client.lastRef.Revision, "snapshot is keyed by the source revision")

	_, err = e.CompareChanges(context.Background(), CompareRequest{
		Repository: "https://gitlab.com/a/b",
		Target:     "bad target",
	})
	require.Error(t, err)
	assert.Equal(t, repoerr.KindInvalidInput, repoerr.KindOf(err))
}

func TestCommitHistory(t *testing.T) {
	t.Parallel()

	history := make([]snapshot.Commit, 15)
	for i := range history {
		history[i] = snapshot.Commit{Hash: string(rune('a' + i))}
	}
	client := &fakeClient{
		entries: []snapshot.PathEntry{fileEntry("README.md")},
		history: history,
	}
	e := newTestEngine(t, client)
	ctx := context.Background()

	result, err := e.CommitHistory(ctx, HistoryRequest{Repository: "https://gitlab.com/a/b"})
	require.NoError(t, err)
	assert.Equal(t, 10, client.lastMaxCount, "zero max_count falls back to the default")
	assert.Len(t, result.Commits, 10)

	_, err = e.CommitHistory(ctx, HistoryRequest{Repository: "https://gitlab.com/a/b", MaxCount: -1})
	require.Error(t, err)
	assert.Equal(t, repoerr.KindInvalidInput, repoerr.KindOf(err))

	_, err = e.CommitHistory(ctx, HistoryRequest{Repository: "https://gitlab.com/a/b", MaxCount: 5000})
	require.Error(t, err)
	assert.Equal(t, repoerr.KindInvalidInput, repoerr.KindOf(err))
}

func TestTokenPrecedence(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("configured-token\n"), 0o600))

	cfg := config.Default()
	cfg.Auth.TokenFile = tokenFile

	client := &fakeClient{entries: []snapshot.PathEntry{fileEntry("README.md")}}
	e, err := New(cfg, client, nil)
	require.NoError(t, err)
	ctx := context.Background()

	// Configured token applies when the request carries none.
	_, err = e.Structure(ctx, StructureRequest{Repository: "https://gitlab.com/a/b"})
	require.NoError(t, err)
	assert.Equal(t, "configured-token", client.lastRef.Token)

	// A per-request token wins over the configured one.
	_, err = e.Structure(ctx, StructureRequest{Repository: "https://gitlab.com/a/c", Token: "request-token"})
	require.NoError(t, err)
	assert.Equal(t, "request-token", client.lastRef.Token)
}

func TestValidatePath(t *testing.T) {
	t.Parallel()

	valid := []string{"README.md", "src/main.go", "a/b/c.txt", ".github/workflows/ci.yml"}
	for _, p := range valid {
		assert.NoError(t, validatePath(p), p)
	}

	invalid := []string{"", "/abs", "../up", "a/../b", "a//b", "a/./b", "a/b/"}
	for _, p := range invalid {
		err := validatePath(p)
		require.Error(t, err, p)
		assert.Equal(t, repoerr.KindInvalidInput, repoerr.KindOf(err), p)
	}
}

func TestValidateRevision(t *testing.T) {
	t.Parallel()

	valid := []string{"main", "feature/login", "v1.2.3", "deadbeefcafe", "release-2025.06"}
	for _, r := range valid {
		assert.NoError(t, validateRevision(r), r)
	}

	invalid := []string{"has space", "-rf", "rev;rm", "rev\n", "tab\tname"}
	for _, r := range invalid {
		err := validateRevision(r)
		require.Error(t, err, r)
		assert.Equal(t, repoerr.KindInvalidInput, repoerr.KindOf(err), r)
	}
}
