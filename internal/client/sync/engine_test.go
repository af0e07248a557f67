package sync

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensaves/savesync/internal/backend"
)

// fakeTransfer is an in-memory remote store with mirror semantics.
type fakeTransfer struct {
	mu      gosync.Mutex
	files   map[string][]byte
	backups map[string]map[string][]byte

	failList   bool
	failUpload bool
	uploads    int
	downloads  int
}

func newFakeTransfer() *fakeTransfer {
	return &fakeTransfer{
		files:   make(map[string][]byte),
		backups: make(map[string]map[string][]byte),
	}
}

func (f *fakeTransfer) Name() string { return "fake" }

func (f *fakeTransfer) List(ctx context.Context, remotePath string) ([]backend.RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failList {
		return nil, fmt.Errorf("%w: injected list failure", backend.ErrUnavailable)
	}

	var out []backend.RemoteFile
	for path, content := range f.files {
		sum := md5.Sum(content)
		out = append(out, backend.RemoteFile{
			Path:    path,
			Size:    int64(len(content)),
			ModTime: time.Now(),
			Hashes:  map[string]string{"md5": hex.EncodeToString(sum[:])},
		})
	}
	return out, nil
}

func (f *fakeTransfer) Upload(ctx context.Context, localRoot, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failUpload {
		return fmt.Errorf("%w: injected upload failure", backend.ErrUnavailable)
	}
	f.uploads++

	mirrored := make(map[string][]byte)
	err := filepath.WalkDir(localRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(localRoot, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		mirrored[filepath.ToSlash(rel)] = content
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
	}
	f.files = mirrored
	return nil
}

func (f *fakeTransfer) Download(ctx context.Context, remotePath, localRoot string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++

	if err := os.RemoveAll(localRoot); err != nil {
		return err
	}
	if err := os.MkdirAll(localRoot, 0o755); err != nil {
		return err
	}
	for rel, content := range f.files {
		path := filepath.Join(localRoot, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeTransfer) Copy(ctx context.Context, srcRemote, dstRemote string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	copied := make(map[string][]byte, len(f.files))
	for path, content := range f.files {
		copied[path] = content
	}
	f.backups[dstRemote] = copied
	return nil
}

func (f *fakeTransfer) Mkdir(ctx context.Context, remotePath string) error { return nil }

func (f *fakeTransfer) set(rel, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[rel] = []byte(content)
}

func (f *fakeTransfer) remove(rel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, rel)
}

func decideAlways(r Resolution) DecisionProvider {
	return DecisionFunc(func(ctx context.Context, c *ConflictCase) (Resolution, error) {
		return r, nil
	})
}

func newTestEngine(t *testing.T, decider DecisionProvider) (*Engine, *fakeTransfer, string) {
	t.Helper()

	if decider == nil {
		decider = decideAlways(ResolutionCancel)
	}
	localRoot := filepath.Join(t.TempDir(), "saves")
	require.NoError(t, os.MkdirAll(localRoot, 0o755))

	fake := newFakeTransfer()
	eng, err := NewEngine(EngineConfig{
		ProfileID:  "p1",
		LocalRoot:  localRoot,
		RemotePath: "remote:saves",
		Transfer:   fake,
		Records:    NewRecordStore(t.TempDir()),
		Decider:    decider,
	})
	require.NoError(t, err)
	return eng, fake, localRoot
}

func TestEngineFirstSyncPushes(t *testing.T) {
	eng, fake, localRoot := newTestEngine(t, nil)
	writeSave(t, localRoot, "slot0.sl2", "save data")

	res, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionPushLocal, res.Decision)
	assert.True(t, res.Committed)
	assert.Equal(t, []byte("save data"), fake.files["slot0.sl2"])

	rec, err := eng.cfg.Records.Load("p1")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.LocalFingerprint)
	assert.NotEmpty(t, rec.RemoteFingerprint)
	assert.Equal(t, 1, rec.FileCount)
}

func TestEngineFirstSyncPullsToMissingDir(t *testing.T) {
	eng, fake, localRoot := newTestEngine(t, nil)
	require.NoError(t, os.RemoveAll(localRoot))
	fake.set("slot0.sl2", "cloud save")

	res, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionPullRemote, res.Decision)
	assert.True(t, res.Committed)

	content, err := os.ReadFile(filepath.Join(localRoot, "slot0.sl2"))
	require.NoError(t, err)
	assert.Equal(t, "cloud save", string(content))
}

func TestEngineCycleIdempotent(t *testing.T) {
	eng, fake, localRoot := newTestEngine(t, nil)
	writeSave(t, localRoot, "slot0.sl2", "save data")

	_, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	uploadsAfterFirst := fake.uploads

	res, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionNoChange, res.Decision)
	assert.False(t, res.Committed)
	assert.Equal(t, uploadsAfterFirst, fake.uploads)
}

func TestEnginePullsRemoteEdit(t *testing.T) {
	eng, fake, localRoot := newTestEngine(t, nil)
	writeSave(t, localRoot, "slot0.sl2", "save data")

	_, err := eng.RunCycle(context.Background())
	require.NoError(t, err)

	// played on another device
	fake.set("slot0.sl2", "newer cloud save")

	res, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionPullRemote, res.Decision)
	assert.True(t, res.Committed)

	content, err := os.ReadFile(filepath.Join(localRoot, "slot0.sl2"))
	require.NoError(t, err)
	assert.Equal(t, "newer cloud save", string(content))
}

func TestEngineMissingDirAfterSyncAborts(t *testing.T) {
	eng, fake, localRoot := newTestEngine(t, nil)
	writeSave(t, localRoot, "slot0.sl2", "save data")

	_, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	before, err := eng.cfg.Records.Load("p1")
	require.NoError(t, err)

	// save dir gone after a committed sync (unmounted drive, wiped
	// prefix): abort instead of mirroring an empty side over the remote
	require.NoError(t, os.RemoveAll(localRoot))

	_, err = eng.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrSaveDirNotFound)

	// remote and record untouched
	assert.Equal(t, []byte("save data"), fake.files["slot0.sl2"])
	after, err := eng.cfg.Records.Load("p1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEngineBackendUnavailableNoCommit(t *testing.T) {
	eng, fake, localRoot := newTestEngine(t, nil)
	writeSave(t, localRoot, "slot0.sl2", "save data")
	fake.failList = true

	_, err := eng.RunCycle(context.Background())
	assert.ErrorIs(t, err, backend.ErrUnavailable)

	// no commit on failure
	_, err = eng.cfg.Records.Load("p1")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestEngineRetryAfterFailedPush(t *testing.T) {
	eng, fake, localRoot := newTestEngine(t, nil)
	writeSave(t, localRoot, "slot0.sl2", "save data")

	_, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	before, err := eng.cfg.Records.Load("p1")
	require.NoError(t, err)

	writeSave(t, localRoot, "slot0.sl2", "edited save")
	fake.failUpload = true

	_, err = eng.RunCycle(context.Background())
	require.ErrorIs(t, err, backend.ErrUnavailable)

	// record untouched by the failed cycle, so the retry sees the same
	// one-sided change and classifies identically
	after, err := eng.cfg.Records.Load("p1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	fake.failUpload = false
	res, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionPushLocal, res.Decision)
	assert.True(t, res.Committed)
	assert.Equal(t, []byte("edited save"), fake.files["slot0.sl2"])
}

func TestEnginePushBackupsRemoteBeforeDeletion(t *testing.T) {
	eng, fake, localRoot := newTestEngine(t, nil)
	writeSave(t, localRoot, "slot0.sl2", "save data")
	writeSave(t, localRoot, "slot1.sl2", "second slot")

	_, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	require.Empty(t, fake.backups)

	// deleting a slot locally mirrors the deletion, so the remote side is
	// snapshotted first and the file survives somewhere
	require.NoError(t, os.Remove(filepath.Join(localRoot, "slot1.sl2")))

	res, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionPushLocal, res.Decision)
	assert.True(t, res.Committed)
	assert.NotContains(t, fake.files, "slot1.sl2")

	require.Len(t, fake.backups, 1)
	for _, snapshot := range fake.backups {
		assert.Equal(t, []byte("second slot"), snapshot["slot1.sl2"])
	}
}

func TestEnginePushWithoutDeletionsSkipsBackup(t *testing.T) {
	eng, fake, localRoot := newTestEngine(t, nil)
	writeSave(t, localRoot, "slot0.sl2", "save data")

	_, err := eng.RunCycle(context.Background())
	require.NoError(t, err)

	// edits and additions lose nothing on the remote side
	writeSave(t, localRoot, "slot0.sl2", "edited save")
	writeSave(t, localRoot, "slot1.sl2", "new slot")

	res, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionPushLocal, res.Decision)
	assert.Empty(t, fake.backups)
}

func TestEnginePullBackupsLocalBeforeDeletion(t *testing.T) {
	eng, fake, localRoot := newTestEngine(t, nil)
	writeSave(t, localRoot, "slot0.sl2", "save data")
	writeSave(t, localRoot, "slot1.sl2", "second slot")

	_, err := eng.RunCycle(context.Background())
	require.NoError(t, err)

	// slot deleted on another device
	fake.remove("slot1.sl2")

	res, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionPullRemote, res.Decision)
	assert.True(t, res.Committed)
	assert.NoFileExists(t, filepath.Join(localRoot, "slot1.sl2"))

	backupsDir := filepath.Join(filepath.Dir(localRoot), "Backups")
	entries, err := os.ReadDir(backupsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	content, err := os.ReadFile(filepath.Join(backupsDir, entries[0].Name(), "slot1.sl2"))
	require.NoError(t, err)
	assert.Equal(t, "second slot", string(content))
}

func TestEngineConflictKeepLocal(t *testing.T) {
	eng, fake, localRoot := newTestEngine(t, decideAlways(ResolutionKeepLocal))
	writeSave(t, localRoot, "slot0.sl2", "save data")

	_, err := eng.RunCycle(context.Background())
	require.NoError(t, err)

	writeSave(t, localRoot, "slot0.sl2", "local edit")
	fake.set("slot0.sl2", "remote edit")

	res, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionConflict, res.Decision)
	assert.Equal(t, ResolutionKeepLocal, res.Resolution)
	assert.True(t, res.Committed)
	assert.Equal(t, []byte("local edit"), fake.files["slot0.sl2"])

	// both sides were backed up before the overwrite
	assert.Len(t, fake.backups, 1)
	for _, snapshot := range fake.backups {
		assert.Equal(t, []byte("remote edit"), snapshot["slot0.sl2"])
	}
	backupsDir := filepath.Join(filepath.Dir(localRoot), "Backups")
	entries, err := os.ReadDir(backupsDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// the committed record fingerprints the kept content on both sides
	rec, err := eng.cfg.Records.Load("p1")
	require.NoError(t, err)

	localHashes, err := hashFile(filepath.Join(localRoot, "slot0.sl2"))
	require.NoError(t, err)
	wantLocal := NewSnapshot(map[string]*FileMeta{
		"slot0.sl2": {Path: "slot0.sl2", Size: int64(len("local edit")), Hashes: localHashes},
	})
	sum := md5.Sum([]byte("local edit"))
	wantRemote := NewSnapshot(map[string]*FileMeta{
		"slot0.sl2": {Path: "slot0.sl2", Size: int64(len("local edit")), Hashes: map[string]string{"md5": hex.EncodeToString(sum[:])}},
	})
	assert.Equal(t, wantLocal.Fingerprint(), rec.LocalFingerprint)
	assert.Equal(t, wantRemote.Fingerprint(), rec.RemoteFingerprint)

	// with the record refreshed, the next cycle has nothing to do
	res, err = eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionNoChange, res.Decision)
}

func TestEngineConflictKeepRemote(t *testing.T) {
	eng, fake, localRoot := newTestEngine(t, decideAlways(ResolutionKeepRemote))
	writeSave(t, localRoot, "slot0.sl2", "save data")

	_, err := eng.RunCycle(context.Background())
	require.NoError(t, err)

	writeSave(t, localRoot, "slot0.sl2", "local edit")
	fake.set("slot0.sl2", "remote edit")

	res, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResolutionKeepRemote, res.Resolution)
	assert.True(t, res.Committed)

	content, err := os.ReadFile(filepath.Join(localRoot, "slot0.sl2"))
	require.NoError(t, err)
	assert.Equal(t, "remote edit", string(content))
}

func TestEngineConflictCancel(t *testing.T) {
	eng, fake, localRoot := newTestEngine(t, decideAlways(ResolutionCancel))
	writeSave(t, localRoot, "slot0.sl2", "save data")

	_, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	before, err := eng.cfg.Records.Load("p1")
	require.NoError(t, err)

	writeSave(t, localRoot, "slot0.sl2", "local edit")
	fake.set("slot0.sl2", "remote edit")

	res, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionConflict, res.Decision)
	assert.Equal(t, ResolutionCancel, res.Resolution)
	assert.False(t, res.Committed)

	// nothing moved, record untouched, no backups taken
	assert.Equal(t, []byte("remote edit"), fake.files["slot0.sl2"])
	after, err := eng.cfg.Records.Load("p1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, fake.backups)

	// the divergence persists: next cycle asks again
	res, err = eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionConflict, res.Decision)
}

func TestEngineFirstSyncConflict(t *testing.T) {
	asked := false
	decider := DecisionFunc(func(ctx context.Context, c *ConflictCase) (Resolution, error) {
		asked = true
		assert.Equal(t, 1, c.LocalSummary.FileCount)
		assert.Equal(t, 1, c.RemoteSummary.FileCount)
		return ResolutionCancel, nil
	})

	eng, fake, localRoot := newTestEngine(t, decider)
	writeSave(t, localRoot, "slot0.sl2", "local save")
	fake.set("slot0.sl2", "other device save")

	res, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionConflict, res.Decision)
	assert.True(t, asked)
}

func TestEngineConvergenceCommit(t *testing.T) {
	eng, fake, localRoot := newTestEngine(t, nil)
	writeSave(t, localRoot, "slot0.sl2", "save data")
	fake.set("slot0.sl2", "save data")

	// identical content, no record yet: nothing to transfer but the
	// baseline still gets recorded
	res, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionNoChange, res.Decision)
	assert.True(t, res.Committed)

	// a later one-sided edit is then a plain push, not a conflict
	writeSave(t, localRoot, "slot0.sl2", "edited save")
	res, err = eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionPushLocal, res.Decision)
}

func TestEngineBothSidesEmptyNoCommit(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)

	res, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionNoChange, res.Decision)
	assert.False(t, res.Committed)

	_, err = eng.cfg.Records.Load("p1")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestEngineRejectsConcurrentCycle(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	decider := DecisionFunc(func(ctx context.Context, c *ConflictCase) (Resolution, error) {
		close(entered)
		<-release
		return ResolutionCancel, nil
	})

	eng, fake, localRoot := newTestEngine(t, decider)
	writeSave(t, localRoot, "slot0.sl2", "local save")
	fake.set("slot0.sl2", "other save")

	done := make(chan error, 1)
	go func() {
		_, err := eng.RunCycle(context.Background())
		done <- err
	}()

	<-entered
	_, err := eng.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleRunning)

	close(release)
	require.NoError(t, <-done)
}

func TestEngineRejectsCycleFromOtherInstance(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := DecisionFunc(func(ctx context.Context, c *ConflictCase) (Resolution, error) {
		close(entered)
		<-release
		return ResolutionCancel, nil
	})

	localRoot := filepath.Join(t.TempDir(), "saves")
	require.NoError(t, os.MkdirAll(localRoot, 0o755))
	recordsDir := t.TempDir()
	fake := newFakeTransfer()

	newEng := func(decider DecisionProvider) *Engine {
		eng, err := NewEngine(EngineConfig{
			ProfileID:  "p1",
			LocalRoot:  localRoot,
			RemotePath: "remote:saves",
			Transfer:   fake,
			Records:    NewRecordStore(recordsDir),
			Decider:    decider,
		})
		require.NoError(t, err)
		return eng
	}

	// two engine instances for the same profile, the way the daemon and an
	// interactive sync in another process would each construct one; the
	// profile lock file makes them mutually exclusive
	first := newEng(blocking)
	second := newEng(decideAlways(ResolutionCancel))

	writeSave(t, localRoot, "slot0.sl2", "local save")
	fake.set("slot0.sl2", "other save")

	done := make(chan error, 1)
	go func() {
		_, err := first.RunCycle(context.Background())
		done <- err
	}()

	<-entered
	_, err := second.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleRunning)

	close(release)
	require.NoError(t, <-done)

	// the lock releases with the cycle
	res, err := second.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionConflict, res.Decision)
}

func TestEngineDeciderError(t *testing.T) {
	boom := errors.New("prompt failed")
	decider := DecisionFunc(func(ctx context.Context, c *ConflictCase) (Resolution, error) {
		return ResolutionCancel, boom
	})

	eng, fake, localRoot := newTestEngine(t, decider)
	writeSave(t, localRoot, "slot0.sl2", "local save")
	fake.set("slot0.sl2", "other save")

	_, err := eng.RunCycle(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, fake.backups)
}
