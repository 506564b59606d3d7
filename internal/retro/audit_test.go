package retro

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storysync/storysync/internal/github"
	"github.com/storysync/storysync/internal/storage/memory"
	"github.com/storysync/storysync/internal/testutil/teststore"
	"github.com/storysync/storysync/internal/types"
)

var commitTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu        sync.Mutex
	pages     map[int][]github.Commit
	details   map[string]*github.Commit
	listErr   map[int]error
	detailErr map[string]error
	onDetail  func(sha string)
	listOpts  []github.ListOptions
}

func newFakeSource(pages ...[]*github.Commit) *fakeSource {
	f := &fakeSource{
		pages:     make(map[int][]github.Commit),
		details:   make(map[string]*github.Commit),
		listErr:   make(map[int]error),
		detailErr: make(map[string]error),
	}
	for i, page := range pages {
		for _, c := range page {
			f.pages[i+1] = append(f.pages[i+1], github.Commit{SHA: c.SHA})
			f.details[c.SHA] = c
		}
	}
	return f
}

func (f *fakeSource) ListCommits(ctx context.Context, page int, opts github.ListOptions) ([]github.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listOpts = append(f.listOpts, opts)
	if err := f.listErr[page]; err != nil {
		return nil, err
	}
	return f.pages[page], nil
}

func (f *fakeSource) GetCommitDetail(ctx context.Context, sha string) (*github.Commit, error) {
	if f.onDetail != nil {
		f.onDetail(sha)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.detailErr[sha]; err != nil {
		return nil, err
	}
	c, ok := f.details[sha]
	if !ok {
		return nil, errors.New("no such commit")
	}
	return c, nil
}

func commit(sha, msg string, at time.Duration, files ...string) *github.Commit {
	c := &github.Commit{
		SHA:     sha,
		HTMLURL: "https://github.com/acme/shop/commit/" + sha,
		Commit: github.CommitData{
			Message: msg,
			Author:  github.GitIdentity{Name: "Dana", Date: commitTime.Add(at)},
		},
	}
	for _, f := range files {
		c.Files = append(c.Files, github.FileDelta{Filename: f, Status: "modified", Additions: 2, Deletions: 1})
	}
	return c
}

type auditFixture struct {
	env     *teststore.Env
	source  *fakeSource
	auditor *Auditor
	warns   []string
}

func newAuditFixture(t *testing.T, source *fakeSource) *auditFixture {
	t.Helper()
	env := teststore.WrapEnv(t, memory.New())
	for _, id := range []string{"fw-retro-001", "fw-retro-002", "fw-retro-003"} {
		env.CreateTask(id, "existing")
	}
	env.CreateLinkedTask("T5", "Cart", "PROJ-7")

	fx := &auditFixture{env: env, source: source}
	fx.auditor = NewAuditor(source, env.Store, nil)
	fx.auditor.CommitDelay = 0
	fx.auditor.OnWarning = func(msg string) { fx.warns = append(fx.warns, msg) }
	return fx
}

func historySource() *fakeSource {
	return newFakeSource(
		[]*github.Commit{
			commit("c1", "bump deps", 0, "go.mod"),
			commit("c2", "upgrade dependencies", time.Hour, "package.json"),
		},
		[]*github.Commit{
			commit("c3", "PROJ-7 fix cart total", 2*time.Hour, "api/cart.go"),
		},
	)
}

func TestAuditMintsOneSyntheticTaskPerEpic(t *testing.T) {
	fx := newAuditFixture(t, historySource())
	ctx := context.Background()

	res, err := fx.auditor.Run(ctx, AuditOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 1, res.Exact)
	assert.Equal(t, 0, res.Matched)
	assert.Equal(t, 2, res.Unmatched)
	assert.Equal(t, 1, res.SyntheticCreated)
	assert.Equal(t, 3, res.EntriesWritten)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, []string{"fw-retro-004"}, res.Minted)
	assert.Equal(t, []string{"T5", "fw-retro-004"}, res.Touched)
	assert.Equal(t, 2, res.RolledUp)
	assert.Empty(t, fx.warns)

	synth := fx.env.Get("fw-retro-004")
	assert.True(t, synth.Retroactive)
	assert.Equal(t, types.OriginRetro, synth.Origin)
	assert.Equal(t, "framework", synth.Epic)
	assert.Equal(t, types.StatusDone, synth.Status)
	assert.Equal(t, []string{"c1", "c2"}, synth.CommitSHAs)
	assert.Equal(t, []string{"go.mod", "package.json"}, synth.RelatedFiles)
	assert.Equal(t, 2, synth.FilesModified)
	assert.Equal(t, 4, synth.LinesAdded)
	assert.Equal(t, 2, synth.LinesRemoved)
	assert.Equal(t, "main", synth.DominantBranch)

	linked := fx.env.Get("T5")
	assert.Equal(t, []string{"c3"}, linked.CommitSHAs)
	assert.Equal(t, []string{"api/cart.go"}, linked.RelatedFiles)

	entries, err := fx.env.Store.AggregateChangeLogForTask(ctx, "T5")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Dana", entries[0].Author)
	assert.Equal(t, "main", entries[0].Branch)
	assert.Equal(t, types.ChangeModified, entries[0].ChangeType)
	assert.Equal(t, "https://github.com/acme/shop/commit/c3", entries[0].CommitURL)

	for _, opts := range fx.source.listOpts {
		assert.Equal(t, "main", opts.SHA)
	}
}

func TestAuditRerunIsIdempotent(t *testing.T) {
	fx := newAuditFixture(t, historySource())
	ctx := context.Background()

	_, err := fx.auditor.Run(ctx, AuditOptions{})
	require.NoError(t, err)
	before := fx.env.Get("fw-retro-004")

	res, err := fx.auditor.Run(ctx, AuditOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.EntriesWritten)
	assert.Equal(t, 0, res.SyntheticCreated)
	// The minted task now owns the files, so the second pass scores onto it.
	assert.Equal(t, 2, res.Matched)
	assert.Equal(t, 1, res.Exact)

	after := fx.env.Get("fw-retro-004")
	assert.Equal(t, before.CommitSHAs, after.CommitSHAs)
	assert.Equal(t, before.LinesAdded, after.LinesAdded)
	_, err = fx.env.Store.GetTask(ctx, "fw-retro-005")
	assert.Error(t, err)
}

func TestAuditDryRunWritesNothing(t *testing.T) {
	fx := newAuditFixture(t, historySource())
	ctx := context.Background()
	var msgs []string
	fx.auditor.OnMessage = func(m string) { msgs = append(msgs, m) }

	res, err := fx.auditor.Run(ctx, AuditOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 1, res.SyntheticCreated)
	assert.Equal(t, 0, res.EntriesWritten)
	assert.Equal(t, 0, res.RolledUp)
	assert.Equal(t, []string{"fw-retro-004"}, res.Minted)
	assert.Contains(t, msgs, "[dry-run] Would create fw-retro-004 (framework)")

	_, err = fx.env.Store.GetTask(ctx, "fw-retro-004")
	assert.Error(t, err)
	ids, err := fx.env.Store.ListTaskIDsWithChanges(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestAuditFirstPageFailureIsFatal(t *testing.T) {
	src := historySource()
	src.listErr[1] = errors.New("boom")
	fx := newAuditFixture(t, src)

	_, err := fx.auditor.Run(context.Background(), AuditOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list commits")
}

func TestAuditLaterPageFailureIsWarning(t *testing.T) {
	src := historySource()
	src.listErr[2] = errors.New("boom")
	fx := newAuditFixture(t, src)

	res, err := fx.auditor.Run(context.Background(), AuditOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, fx.warns, 1)
	assert.Contains(t, fx.warns[0], "page 2")
}

func TestAuditDetailFailureContinues(t *testing.T) {
	src := historySource()
	src.detailErr["c2"] = errors.New("gone")
	fx := newAuditFixture(t, src)

	res, err := fx.auditor.Run(context.Background(), AuditOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"c1"}, fx.env.Get("fw-retro-004").CommitSHAs)
}

func TestAuditMaxPages(t *testing.T) {
	fx := newAuditFixture(t, historySource())

	res, err := fx.auditor.Run(context.Background(), AuditOptions{MaxPages: 1, Branch: "release"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	require.Len(t, fx.source.listOpts, 1)
	assert.Equal(t, "release", fx.source.listOpts[0].SHA)
	assert.Equal(t, "release", fx.env.Get("fw-retro-004").DominantBranch)
}

func TestAuditCancelledDuringDelay(t *testing.T) {
	src := historySource()
	fx := newAuditFixture(t, src)
	fx.auditor.CommitDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src.onDetail = func(string) { cancel() }

	res, err := fx.auditor.Run(ctx, AuditOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.RolledUp)
}
