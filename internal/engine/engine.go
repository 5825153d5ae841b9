// Package engine orchestrates the repository snapshot components behind
// the externally exposed tool operations.
package engine

import (
	"context"
	"log/slog"

	"panopticon/internal/classify"
	"panopticon/internal/config"
	"panopticon/internal/gitsource"
	"panopticon/internal/snapshot"
	"panopticon/internal/telemetry"
	"panopticon/internal/tree"
)

// Engine composes the source connector, snapshot cache, tree builder,
// importance classifier, and branch lister into the tool operations.
// It holds the only mutable shared state of the process, the cache.
type Engine struct {
	client     gitsource.Client
	cache      *snapshot.Cache
	classifier *classify.Classifier
	token      string
}

// New wires an engine from the startup configuration. The config value
// is read once here; the engine never consults it again.
func New(cfg *config.Config, client gitsource.Client, metrics *telemetry.Metrics) (*Engine, error) {
	token, err := cfg.Auth.GetToken()
	if err != nil {
		return nil, err
	}
	return &Engine{
		client:     client,
		cache:      snapshot.NewCache(client, cfg.Cache.MaxEntries, cfg.Cache.TTLDuration(), metrics),
		classifier: classify.NewClassifier(),
		token:      token,
	}, nil
}

// StructureRequest asks for the directory tree of a repository.
type StructureRequest struct {
	Repository string
	Revision   string
	PathPrefix string
	Token      string
}

// StructureResult carries both the nested tree and its rendered form.
type StructureResult struct {
	Repository string     `json:"repository"`
	Commit     string     `json:"commit"`
	Tree       *tree.Node `json:"tree"`
	Rendered   string     `json:"rendered"`
}

// Structure resolves a snapshot and builds its directory tree.
func (e *Engine) Structure(ctx context.Context, req StructureRequest) (*StructureResult, error) {
	ref, err := e.ref(req.Repository, req.Revision, req.Token)
	if err != nil {
		return nil, err
	}
	if err := validatePathPrefix(req.PathPrefix); err != nil {
		return nil, err
	}

	snap, err := e.cache.GetOrFetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	root, err := tree.Build(snap, req.PathPrefix)
	if err != nil {
		return nil, err
	}

	return &StructureResult{
		Repository: snap.Ref.URL,
		Commit:     snap.CommitHash,
		Tree:       root,
		Rendered:   tree.Render(root),
	}, nil
}

// ReadFilesRequest asks for the content of important files. An empty
// Paths list means the classifier's default selection; an explicit list
// bypasses classification and reads exactly those paths.
type ReadFilesRequest struct {
	Repository string
	Revision   string
	Paths      []string
	Token      string
}

// ReadFilesResult carries one entry per selected file, in selection
// order, with per-file errors inline.
type ReadFilesResult struct {
	Repository     string            `json:"repository"`
	Commit         string            `json:"commit"`
	RuleSetVersion string            `json:"rule_set_version,omitempty"`
	Files          []classify.Result `json:"files"`
}

// ReadImportantFiles resolves a snapshot and reads the selected files.
func (e *Engine) ReadImportantFiles(ctx context.Context, req ReadFilesRequest) (*ReadFilesResult, error) {
	ref, err := e.ref(req.Repository, req.Revision, req.Token)
	if err != nil {
		return nil, err
	}
	for _, p := range req.Paths {
		if err := validatePath(p); err != nil {
			return nil, err
		}
	}

	snap, err := e.cache.GetOrFetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	result := &ReadFilesResult{
		Repository: snap.Ref.URL,
		Commit:     snap.CommitHash,
	}

	var selections []classify.Selection
	if len(req.Paths) == 0 {
		root, err := tree.Build(snap, "")
		if err != nil {
			return nil, err
		}
		selections = e.classifier.Select(root)
		result.RuleSetVersion = classify.RuleSetVersion
	} else {
		selections = make([]classify.Selection, 0, len(req.Paths))
		for _, p := range req.Paths {
			selections = append(selections, classify.Selection{Path: p})
		}
	}

	result.Files = classify.ReadAll(e.client, snap, selections)
	return result, nil
}

// BranchesRequest asks for the branch list of a repository.
type BranchesRequest struct {
	Repository string
	Token      string
}

// BranchesResult is the ordered branch list, default branch first.
type BranchesResult struct {
	Repository string                `json:"repository"`
	Branches   []snapshot.BranchInfo `json:"branches"`
}

// ListBranches resolves a snapshot at the default revision and orders
// its branch map.
func (e *Engine) ListBranches(ctx context.Context, req BranchesRequest) (*BranchesResult, error) {
	ref, err := e.ref(req.Repository, "", req.Token)
	if err != nil {
		return nil, err
	}

	snap, err := e.cache.GetOrFetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	branches, err := snapshot.ListBranches(snap)
	if err != nil {
		// An invariant violation for this repository; others stay servable.
		slog.Error("Branch map missing from snapshot",
			"repository", snap.Ref.String(),
			"error", err)
		return nil, err
	}

	return &BranchesResult{Repository: snap.Ref.URL, Branches: branches}, nil
}

// CompareRequest asks for the diff between two revisions. An empty
// Target means the source's first parent. An optional Path restricts
// the diff to one file or directory.
type CompareRequest struct {
	Repository string
	Source     string
	Target     string
	Path       string
	Token      string
}

// CompareResult carries the unified diff text.
type CompareResult struct {
	Repository string `json:"repository"`
	Source     string `json:"source"`
	Target     string `json:"target,omitempty"`
	Diff       string `json:"diff"`
}

// CompareChanges resolves a snapshot at the source revision and diffs
// it against the target.
func (e *Engine) CompareChanges(ctx context.Context, req CompareRequest) (*CompareResult, error) {
	ref, err := e.ref(req.Repository, req.Source, req.Token)
	if err != nil {
		return nil, err
	}
	if req.Target != "" {
		if err := validateRevision(req.Target); err != nil {
			return nil, err
		}
	}
	if req.Path != "" {
		if err := validatePath(req.Path); err != nil {
			return nil, err
		}
	}

	snap, err := e.cache.GetOrFetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	diff, err := e.client.Diff(ctx, snap, "", req.Target, req.Path)
	if err != nil {
		return nil, err
	}

	return &CompareResult{
		Repository: snap.Ref.URL,
		Source:     snap.CommitHash,
		Target:     req.Target,
		Diff:       diff,
	}, nil
}

// HistoryRequest asks for the commit log at a revision. MaxCount of
// zero means the default of 10 commits.
type HistoryRequest struct {
	Repository string
	Revision   string
	MaxCount   int
	Token      string
}

// HistoryResult carries the log, newest commit first.
type HistoryResult struct {
	Repository string            `json:"repository"`
	Commit     string            `json:"commit"`
	Commits    []snapshot.Commit `json:"commits"`
}

// defaultHistoryCount bounds the commit log when no count is requested.
const defaultHistoryCount = 10

// CommitHistory resolves a snapshot and walks its commit log.
func (e *Engine) CommitHistory(ctx context.Context, req HistoryRequest) (*HistoryResult, error) {
	ref, err := e.ref(req.Repository, req.Revision, req.Token)
	if err != nil {
		return nil, err
	}
	if err := validateMaxCount(req.MaxCount); err != nil {
		return nil, err
	}

	snap, err := e.cache.GetOrFetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	maxCount := req.MaxCount
	if maxCount == 0 {
		maxCount = defaultHistoryCount
	}

	commits, err := e.client.History(ctx, snap, maxCount)
	if err != nil {
		return nil, err
	}

	return &HistoryResult{
		Repository: snap.Ref.URL,
		Commit:     snap.CommitHash,
		Commits:    commits,
	}, nil
}

// Evict drops the cached snapshot for one reference, forcing the next
// request to refetch.
func (e *Engine) Evict(ref snapshot.RepositoryRef) {
	e.cache.Evict(ref)
}

// ref validates the request inputs and assembles the cache-keyed
// repository reference. A per-request token wins over the configured
// one.
func (e *Engine) ref(repository, revision, token string) (snapshot.RepositoryRef, error) {
	url, err := gitsource.NormalizeURL(repository)
	if err != nil {
		return snapshot.RepositoryRef{}, err
	}
	if revision != "" {
		if err := validateRevision(revision); err != nil {
			return snapshot.RepositoryRef{}, err
		}
	}
	if token == "" {
		token = e.token
	}
	return snapshot.RepositoryRef{URL: url, Revision: revision, Token: token}, nil
}
