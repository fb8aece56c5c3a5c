package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/usd-asset-library/backend/internal/data/repos"
	"github.com/usd-asset-library/backend/internal/data/repos/testutil"
	"github.com/usd-asset-library/backend/internal/domain"
	"github.com/usd-asset-library/backend/internal/observability"
	"github.com/usd-asset-library/backend/internal/pkg/dbctx"
	"github.com/usd-asset-library/backend/internal/platform/apierr"
	"github.com/usd-asset-library/backend/internal/platform/contentstore/memstore"
)

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.LockEvent
}

func (r *recordingEvents) Publish(_ context.Context, ev domain.LockEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEvents) actions() []domain.LockAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.LockAction, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Action)
	}
	return out
}

type testEnv struct {
	db         *gorm.DB
	store      *memstore.Store
	events     *recordingEvents
	assets     repos.AssetRepo
	identity   IdentityService
	versioning VersioningService
	checkout   CheckoutService
	query      QueryService
	upload     UploadService
	download   DownloadService
}

// newTestEnv wires every service against a fresh database. Calls run without
// an outer transaction so each service opens its own.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	metrics := observability.NewMetrics()
	store := memstore.New()
	events := &recordingEvents{}

	authorRepo := repos.NewAuthorRepo(db, log)
	assetRepo := repos.NewAssetRepo(db, log)
	commitRepo := repos.NewCommitRepo(db, log)
	recordRepo := repos.NewVersionRecordRepo(db, log)
	keywordRepo := repos.NewKeywordRepo(db, log)

	identity := NewIdentityService(db, log, authorRepo)
	versioning := NewVersioningService(db, log, metrics, identity, assetRepo, commitRepo, recordRepo, keywordRepo)
	checkout := NewCheckoutService(db, log, metrics, events, assetRepo, authorRepo)
	return &testEnv{
		db:         db,
		store:      store,
		events:     events,
		assets:     assetRepo,
		identity:   identity,
		versioning: versioning,
		checkout:   checkout,
		query:      NewQueryService(db, log, metrics, store, assetRepo, authorRepo, commitRepo, recordRepo, keywordRepo),
		upload:     NewUploadService(db, log, metrics, store, versioning, checkout),
		download:   NewDownloadService(log, store, versioning),
	}
}

func bg() dbctx.Context { return dbctx.New(context.Background()) }

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func (e *testEnv) author(t *testing.T, key, first, last string) {
	t.Helper()
	_, err := e.identity.RegisterAuthor(bg(), RegisterAuthorInput{Pennkey: key, FirstName: first, LastName: last})
	require.NoError(t, err)
}

func (e *testEnv) register(t *testing.T, name, author string, ts time.Time, keywords ...string) *domain.Asset {
	t.Helper()
	a, err := e.versioning.RegisterAsset(bg(), RegisterAssetInput{
		Name:             name,
		StructureVersion: "03.00.00",
		Keywords:         keywords,
		InitialCommit:    CommitInput{AuthorKey: author, Timestamp: ts, Version: "01.00.00", Note: "initial " + name},
	})
	require.NoError(t, err)
	return a
}

func fileOf(rel, body string) UploadFile {
	return UploadFile{RelPath: rel, Open: func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}}
}

func requireKind(t *testing.T, err error, kind apierr.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, apierr.KindOf(err), "err=%v", err)
}

func names(list []AssetSummary) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Name)
	}
	return out
}

func TestChairLifecycle(t *testing.T) {
	e := newTestEnv(t)
	e.author(t, "abc123", "Ada", "Bell")
	e.author(t, "xyz789", "Xia", "Young")
	e.author(t, "qrs456", "Quinn", "Ross")

	e.register(t, "chair", "abc123", t0)

	a, err := e.checkout.Checkout(bg(), "chair", "xyz789")
	require.NoError(t, err)
	require.NotNil(t, a.CheckedOutBy)
	require.Equal(t, "xyz789", *a.CheckedOutBy)

	_, err = e.checkout.Checkout(bg(), "chair", "qrs456")
	requireKind(t, err, apierr.KindConflict)
	require.Contains(t, err.Error(), "Xia Young")

	list, err := e.query.ListAssets(bg(), ListAssetsParams{Author: "abc"})
	require.NoError(t, err)
	require.Equal(t, []string{"chair"}, names(list.Assets))

	list, err = e.query.ListAssets(bg(), ListAssetsParams{Author: "zzz"})
	require.NoError(t, err)
	require.Empty(t, list.Assets)

	require.Equal(t, []domain.LockAction{domain.LockAcquired}, e.events.actions())
}

func TestRegisterAssetNameIsUnique(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "lamp", "abc123", t0)

	_, err := e.versioning.RegisterAsset(bg(), RegisterAssetInput{
		Name:          "lamp",
		InitialCommit: CommitInput{AuthorKey: "other", Timestamp: t0, Version: "02.00.00"},
	})
	requireKind(t, err, apierr.KindConflict)

	// Lookup is exact; a differently cased name is a different asset.
	e.register(t, "Lamp", "abc123", t0)

	author, err := e.identity.FindByKey(bg(), "abc123")
	require.NoError(t, err)
	require.Empty(t, author.FullName(), "placeholder identity has no name")
	require.Equal(t, "abc123", author.DisplayName())
}

func TestRegisterAssetValidation(t *testing.T) {
	e := newTestEnv(t)
	for _, name := range []string{"", "a/b", " padded", ".."} {
		_, err := e.versioning.RegisterAsset(bg(), RegisterAssetInput{
			Name:          name,
			InitialCommit: CommitInput{AuthorKey: "abc123", Version: "01.00.00"},
		})
		requireKind(t, err, apierr.KindInvalidArgument)
	}
	_, err := e.versioning.RegisterAsset(bg(), RegisterAssetInput{
		Name:          "chair",
		InitialCommit: CommitInput{Version: "01.00.00"},
	})
	requireKind(t, err, apierr.KindInvalidArgument)
}

func TestCheckoutIsExclusiveUnderConcurrency(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "table", "abc123", t0)

	const n = 8
	for i := 0; i < n; i++ {
		e.author(t, fmt.Sprintf("holder%d", i), "Holder", fmt.Sprint(i))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []string
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("holder%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := e.checkout.Checkout(bg(), "table", key)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes = append(successes, key)
			case apierr.KindOf(err) == apierr.KindConflict:
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, others)
	require.Len(t, successes, 1)
	require.Equal(t, n-1, conflicts)

	a, err := e.assets.GetByName(bg(), "table")
	require.NoError(t, err)
	require.Equal(t, successes[0], *a.CheckedOutBy)
}

func TestCheckoutRejectsBadInputWithoutMutation(t *testing.T) {
	e := newTestEnv(t)
	e.author(t, "xyz789", "Xia", "Young")
	e.register(t, "chair", "abc123", t0)

	_, err := e.checkout.Checkout(bg(), "chair", "")
	requireKind(t, err, apierr.KindInvalidArgument)

	_, err = e.checkout.Checkout(bg(), "chair", "   ")
	requireKind(t, err, apierr.KindInvalidArgument)

	_, err = e.checkout.Checkout(bg(), "missing", "xyz789")
	requireKind(t, err, apierr.KindNotFound)

	_, err = e.checkout.Checkout(bg(), "chair", "nobody")
	requireKind(t, err, apierr.KindNotFound)

	a, err := e.assets.GetByName(bg(), "chair")
	require.NoError(t, err)
	require.False(t, a.IsCheckedOut())
	require.Empty(t, e.events.actions())
}

func TestReleaseAndForceRelease(t *testing.T) {
	e := newTestEnv(t)
	e.author(t, "xyz789", "Xia", "Young")
	e.author(t, "qrs456", "Quinn", "Ross")
	e.register(t, "chair", "abc123", t0)

	_, err := e.checkout.Release(bg(), "chair", "xyz789")
	requireKind(t, err, apierr.KindConflict)

	_, err = e.checkout.Checkout(bg(), "chair", "xyz789")
	require.NoError(t, err)

	_, err = e.checkout.Release(bg(), "chair", "qrs456")
	requireKind(t, err, apierr.KindConflict)
	require.Contains(t, err.Error(), "Xia Young")

	a, err := e.checkout.Release(bg(), "chair", "xyz789")
	require.NoError(t, err)
	require.False(t, a.IsCheckedOut())
	require.Nil(t, a.CheckedOutAt)

	_, err = e.checkout.Checkout(bg(), "chair", "qrs456")
	require.NoError(t, err)
	a, err = e.checkout.ForceRelease(bg(), "chair")
	require.NoError(t, err)
	require.False(t, a.IsCheckedOut())

	// Idempotent on an available asset.
	_, err = e.checkout.ForceRelease(bg(), "chair")
	require.NoError(t, err)
	_, err = e.checkout.ForceRelease(bg(), "missing")
	requireKind(t, err, apierr.KindNotFound)

	require.Equal(t, []domain.LockAction{
		domain.LockAcquired, domain.LockReleased, domain.LockAcquired, domain.LockForceReleased,
	}, e.events.actions())
}

func TestRecordCommitIsAppendOnly(t *testing.T) {
	e := newTestEnv(t)
	e.author(t, "abc123", "Ada", "Bell")
	asset := e.register(t, "chair", "abc123", t0, "Wood")

	first, err := e.versioning.RecordCommit(bg(), RecordCommitInput{
		AssetName: "chair",
		Commit:    CommitInput{AuthorKey: "abc123", Timestamp: t0.Add(time.Hour), Version: "01.01.00", Note: "lods"},
		Versions: []VersionEntry{
			{StoreKey: "chair/chair.usda", StoreVersionID: "v1"},
			{StoreKey: "chair/LODs/chair_LOD1.usda", StoreVersionID: "v2"},
			{StoreKey: "chair/chair.fbx", FallbackName: "FBX export"},
		},
		Keywords: []string{"wood", "Furniture"},
	})
	require.NoError(t, err)
	require.Len(t, first.Sublayers, 3)
	require.Equal(t, "Variant Set", first.Sublayers[0].VersionName)
	require.Equal(t, "LOD1", first.Sublayers[1].VersionName)
	require.Equal(t, "FBX export", first.Sublayers[2].VersionName)
	require.Nil(t, first.Sublayers[2].StoreVersionID)
	require.Contains(t, string(first.Manifest), "chair/LODs/chair_LOD1.usda")

	_, err = e.versioning.RecordCommit(bg(), RecordCommitInput{
		AssetName: "chair",
		Commit:    CommitInput{AuthorKey: "newcomer", Timestamp: t0.Add(2 * time.Hour), Version: "01.02.00"},
		Versions:  []VersionEntry{{StoreKey: "chair/chair.usda", StoreVersionID: "v3"}},
	})
	require.NoError(t, err)

	history, err := e.versioning.GetHistory(bg(), "chair")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, []int64{1, 2, 3}, []int64{history[0].Seq, history[1].Seq, history[2].Seq})
	require.Len(t, history[1].Sublayers, 3, "earlier commit keeps its records")

	var records int64
	require.NoError(t, e.db.Model(&domain.VersionRecord{}).Where("asset_id = ?", asset.ID).Count(&records).Error)
	require.Equal(t, int64(4), records)

	detail, err := e.query.GetAsset(bg(), "chair")
	require.NoError(t, err)
	require.Equal(t, "01.02.00", detail.Version)
	require.Equal(t, "Unknown", detail.LastModifiedBy, "placeholder author has no name")
	require.Equal(t, "Ada Bell", detail.Creator)
	require.Equal(t, []string{"furniture", "wood"}, detail.Keywords)
	require.Len(t, detail.Sublayers, 1)
	require.Equal(t, int64(3), detail.CommitCount)

	_, err = e.versioning.RecordCommit(bg(), RecordCommitInput{
		AssetName: "ghost",
		Commit:    CommitInput{AuthorKey: "abc123", Version: "01.00.00"},
	})
	requireKind(t, err, apierr.KindNotFound)

	_, err = e.versioning.RecordCommit(bg(), RecordCommitInput{
		AssetName: "chair",
		Commit:    CommitInput{AuthorKey: "abc123", Version: "09.00.00"},
		Versions:  []VersionEntry{{StoreKey: "chair/a.usda"}, {StoreKey: "chair/a.usda"}},
	})
	requireKind(t, err, apierr.KindInvalidArgument)
	history, err = e.versioning.GetHistory(bg(), "chair")
	require.NoError(t, err)
	require.Len(t, history, 3, "rejected commit leaves no trace")
}

func TestHistoryTieBreaksByInsertionOrder(t *testing.T) {
	e := newTestEnv(t)
	e.author(t, "abc123", "Ada", "Bell")
	e.author(t, "xyz789", "Xia", "Young")
	e.register(t, "chair", "abc123", t0)
	for _, v := range []string{"01.01.00", "01.02.00"} {
		_, err := e.versioning.RecordCommit(bg(), RecordCommitInput{
			AssetName: "chair",
			Commit:    CommitInput{AuthorKey: "xyz789", Timestamp: t0, Version: v},
		})
		require.NoError(t, err)
	}

	history, err := e.versioning.GetHistory(bg(), "chair")
	require.NoError(t, err)
	require.Equal(t, "01.00.00", history[0].Version)
	require.Equal(t, "01.02.00", history[2].Version)

	detail, err := e.query.GetAsset(bg(), "chair")
	require.NoError(t, err)
	require.Equal(t, "Ada Bell", detail.Creator)
	require.Equal(t, "Xia Young", detail.LastModifiedBy)
	require.Equal(t, "01.02.00", detail.Version)
	require.True(t, detail.CreatedAt.Equal(*detail.UpdatedAt))
}

func TestListAssetsFiltersAndSorts(t *testing.T) {
	e := newTestEnv(t)
	e.author(t, "abc123", "Ada", "Bell")
	e.author(t, "zed001", "Zoe", "Adams")
	e.author(t, "xyz789", "Xia", "Young")

	e.register(t, "chair", "abc123", t0, "furniture")
	e.register(t, "apple", "zed001", t0.Add(time.Hour), "fruit")
	e.register(t, "bench", "abc123", t0.Add(2*time.Hour), "Furniture", "outdoor")
	_, err := e.versioning.RecordCommit(bg(), RecordCommitInput{
		AssetName: "chair",
		Commit:    CommitInput{AuthorKey: "zed001", Timestamp: t0.Add(5 * time.Hour), Version: "02.00.00"},
	})
	require.NoError(t, err)
	_, err = e.checkout.Checkout(bg(), "bench", "xyz789")
	require.NoError(t, err)

	list := func(p ListAssetsParams) []string {
		t.Helper()
		out, err := e.query.ListAssets(bg(), p)
		require.NoError(t, err)
		return names(out.Assets)
	}

	require.Equal(t, []string{"chair", "bench", "apple"}, list(ListAssetsParams{}))
	require.Equal(t, []string{"chair", "bench", "apple"}, list(ListAssetsParams{SortBy: "updated"}))
	require.Equal(t, []string{"bench", "apple", "chair"}, list(ListAssetsParams{SortBy: "created"}))
	require.Equal(t, []string{"apple", "bench", "chair"}, list(ListAssetsParams{SortBy: "name"}))
	require.Equal(t, []string{"bench", "chair", "apple"}, list(ListAssetsParams{SortBy: "author"}))
	require.Equal(t, []string{"chair", "apple", "bench"}, list(ListAssetsParams{SortBy: "bogus"}), "unknown keys keep creation order")

	require.Equal(t, []string{"chair", "apple"}, list(ListAssetsParams{CheckedInOnly: true, SortBy: "bogus"}))
	require.Equal(t, []string{"bench", "chair"}, list(ListAssetsParams{Search: "FURN", SortBy: "name"}))
	require.Equal(t, []string{"apple"}, list(ListAssetsParams{Search: "ppl"}))
	require.Equal(t, []string{"bench", "chair"}, list(ListAssetsParams{Author: "ada BELL", SortBy: "name"}))
	require.Empty(t, list(ListAssetsParams{Author: "ada young"}))
	require.Equal(t, []string{"apple"}, list(ListAssetsParams{Author: "zoe"}))

	out, err := e.query.ListAssets(bg(), ListAssetsParams{CheckedInOnly: true})
	require.NoError(t, err)
	for _, a := range out.Assets {
		require.False(t, a.IsCheckedOut, "checked-in listing returned %s", a.Name)
	}
}

func TestListAssetsSkipsFailingItems(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "chair", "abc123", t0)
	e.register(t, "lamp", "abc123", t0)
	e.store.FailPresign = func(key string) error {
		if strings.HasPrefix(key, "lamp/") {
			return errors.New("signer unavailable")
		}
		return nil
	}

	out, err := e.query.ListAssets(bg(), ListAssetsParams{})
	require.NoError(t, err)
	require.Equal(t, []string{"chair"}, names(out.Assets))
	require.Equal(t, 1, out.Skipped)
	require.NotNil(t, out.Assets[0].ThumbnailURL)
	require.Contains(t, *out.Assets[0].ThumbnailURL, "chair%2Fthumbnail.png")

	_, err = e.query.GetAsset(bg(), "lamp")
	requireKind(t, err, apierr.KindUpstream)
}

func TestSummaryDefaultsWithoutCommits(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.db.Create(&domain.Asset{AssetName: "bare"}).Error)

	out, err := e.query.ListAssets(bg(), ListAssetsParams{})
	require.NoError(t, err)
	require.Len(t, out.Assets, 1)
	s := out.Assets[0]
	require.Equal(t, "01.00.00", s.Version)
	require.Equal(t, "Unknown", s.Creator)
	require.Equal(t, "Unknown", s.LastModifiedBy)
	require.Equal(t, "No description available", s.Description)
	require.Nil(t, s.CreatedAt)
	require.Nil(t, s.UpdatedAt)
	require.Nil(t, s.ThumbnailURL)
	require.False(t, s.Materials)
	require.Equal(t, []string{}, s.Keywords)
}

func TestSummaryDescriptionIsLatestNote(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "chair", "abc123", t0)

	out, err := e.query.ListAssets(bg(), ListAssetsParams{})
	require.NoError(t, err)
	require.Equal(t, "initial chair", out.Assets[0].Description)

	_, err = e.versioning.RecordCommit(bg(), RecordCommitInput{
		AssetName: "chair",
		Commit:    CommitInput{AuthorKey: "abc123", Timestamp: t0.Add(time.Hour), Version: "01.01.00"},
	})
	require.NoError(t, err)
	out, err = e.query.ListAssets(bg(), ListAssetsParams{})
	require.NoError(t, err)
	require.Equal(t, "", out.Assets[0].Description, "an empty note on the current commit is reported as-is")
}

func TestCommitAndUserViews(t *testing.T) {
	e := newTestEnv(t)
	e.author(t, "abc123", "Ada", "Bell")
	e.register(t, "chair", "abc123", t0)
	e.register(t, "lamp", "abc123", t0.Add(time.Minute))
	c, err := e.versioning.RecordCommit(bg(), RecordCommitInput{
		AssetName: "chair",
		Commit:    CommitInput{AuthorKey: "abc123", Timestamp: t0.Add(time.Hour), Version: "01.01.00"},
		Versions:  []VersionEntry{{StoreKey: "chair/chair_LOD0.usda", StoreVersionID: "v9"}},
	})
	require.NoError(t, err)
	_, err = e.checkout.Checkout(bg(), "lamp", "abc123")
	require.NoError(t, err)

	all, err := e.query.ListCommits(bg(), "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, c.ID, all[0].ID, "newest first")
	require.Equal(t, "chair", all[0].AssetName)
	require.Equal(t, "Ada Bell", all[0].AuthorName)

	lampOnly, err := e.query.ListCommits(bg(), "lamp", 10)
	require.NoError(t, err)
	require.Len(t, lampOnly, 1)
	_, err = e.query.ListCommits(bg(), "ghost", 10)
	requireKind(t, err, apierr.KindNotFound)

	detail, err := e.query.GetCommit(bg(), c.ID.String())
	require.NoError(t, err)
	require.Len(t, detail.Sublayers, 1)
	require.Equal(t, "LOD0", detail.Sublayers[0].VersionName)
	require.Equal(t, "v9", *detail.Sublayers[0].StoreVersionID)
	_, err = e.query.GetCommit(bg(), "not-a-uuid")
	requireKind(t, err, apierr.KindInvalidArgument)

	user, err := e.query.GetUser(bg(), "abc123")
	require.NoError(t, err)
	require.Equal(t, "Ada Bell", user.FullName)
	require.Equal(t, []string{"lamp"}, user.CheckedOutAssets)
	require.Len(t, user.RecentCommits, 3)
	_, err = e.query.GetUser(bg(), "nobody")
	requireKind(t, err, apierr.KindNotFound)
}

func TestCreateAssetAndCheckIn(t *testing.T) {
	e := newTestEnv(t)
	e.author(t, "abc123", "Ada", "Bell")

	res, err := e.upload.CreateAsset(bg(), CreateAssetInput{
		Asset: RegisterAssetInput{
			Name:          "chair",
			Keywords:      []string{"wood"},
			InitialCommit: CommitInput{AuthorKey: "abc123", Timestamp: t0, Version: "01.00.00", Note: "first"},
		},
		Files: []UploadFile{
			fileOf("chair.usda", "root"),
			fileOf("LODs/chair_LOD2.usda", "lod2"),
			fileOf("thumbnail.png", "png"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, "chair", res.Asset.AssetName)
	require.Len(t, res.Commit.Sublayers, 3)
	require.Equal(t, "LOD2", res.Commit.Sublayers[1].VersionName)
	require.Equal(t, "thumbnail.png", res.Commit.Sublayers[2].VersionName)
	require.Equal(t, 1, e.store.Versions("chair/chair.usda"))

	_, err = e.upload.CreateAsset(bg(), CreateAssetInput{
		Asset: RegisterAssetInput{Name: "chair", InitialCommit: CommitInput{AuthorKey: "abc123", Version: "01.00.00"}},
		Files: []UploadFile{fileOf("chair.usda", "again")},
	})
	requireKind(t, err, apierr.KindConflict)
	require.Equal(t, 1, e.store.Versions("chair/chair.usda"), "conflict is detected before upload")

	checkin := CheckInInput{
		AssetName: "chair",
		HolderKey: "abc123",
		Commit:    CommitInput{Timestamp: t0.Add(time.Hour), Version: "01.01.00", Note: "tweak"},
		Files:     []UploadFile{fileOf("chair.usda", "root v2")},
	}
	_, err = e.upload.CheckIn(bg(), checkin)
	requireKind(t, err, apierr.KindConflict)

	_, err = e.checkout.Checkout(bg(), "chair", "abc123")
	require.NoError(t, err)
	res, err = e.upload.CheckIn(bg(), checkin)
	require.NoError(t, err)
	require.False(t, res.Asset.IsCheckedOut(), "check-in releases by default")
	require.Equal(t, "abc123", res.Commit.AuthorKey)
	require.Equal(t, 2, e.store.Versions("chair/chair.usda"))

	_, err = e.checkout.Checkout(bg(), "chair", "abc123")
	require.NoError(t, err)
	checkin.KeepCheckedOut = true
	checkin.Commit.Version = "01.02.00"
	res, err = e.upload.CheckIn(bg(), checkin)
	require.NoError(t, err)
	require.True(t, res.Asset.IsCheckedOut())

	detail, err := e.query.GetAsset(bg(), "chair")
	require.NoError(t, err)
	require.Equal(t, "01.02.00", detail.Version)
	require.True(t, detail.Materials)
}

func TestUploadFailureRollsBackBatch(t *testing.T) {
	e := newTestEnv(t)
	e.author(t, "abc123", "Ada", "Bell")
	e.register(t, "chair", "abc123", t0)
	_, err := e.store.Put(context.Background(), "chair/chair.usda", strings.NewReader("old"))
	require.NoError(t, err)
	_, err = e.checkout.Checkout(bg(), "chair", "abc123")
	require.NoError(t, err)

	e.store.FailPut = func(key string) error {
		if strings.HasSuffix(key, ".bad") {
			return errors.New("disk full")
		}
		return nil
	}
	_, err = e.upload.CheckIn(bg(), CheckInInput{
		AssetName: "chair",
		HolderKey: "abc123",
		Commit:    CommitInput{Version: "01.01.00"},
		Files:     []UploadFile{fileOf("chair.usda", "new"), fileOf("broken.bad", "x")},
	})
	requireKind(t, err, apierr.KindUpstream)

	require.Equal(t, 1, e.store.Versions("chair/chair.usda"), "only this batch's version is removed")
	rc, err := e.store.Get(context.Background(), "chair/chair.usda")
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	require.Equal(t, "old", string(b))

	history, err := e.versioning.GetHistory(bg(), "chair")
	require.NoError(t, err)
	require.Len(t, history, 1, "no metadata written on failed upload")
	a, err := e.assets.GetByName(bg(), "chair")
	require.NoError(t, err)
	require.True(t, a.IsCheckedOut(), "failed check-in keeps the lock")

	_, err = e.upload.CheckIn(bg(), CheckInInput{
		AssetName: "chair",
		HolderKey: "abc123",
		Commit:    CommitInput{Version: "01.01.00"},
		Files:     []UploadFile{fileOf("../escape.usda", "x")},
	})
	requireKind(t, err, apierr.KindInvalidArgument)
}

// gatedFile blocks its first Open until release is closed and reports on
// entered once the upload has reached it.
func gatedFile(rel, body string) (f UploadFile, entered <-chan struct{}, release chan<- struct{}) {
	in := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	f = UploadFile{RelPath: rel, Open: func() (io.ReadCloser, error) {
		once.Do(func() { close(in) })
		<-gate
		return io.NopCloser(strings.NewReader(body)), nil
	}}
	return f, in, gate
}

func readCurrent(t *testing.T, e *testEnv, key string) string {
	t.Helper()
	rc, err := e.store.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestCheckInRejectedWhenCheckoutLostDuringUpload(t *testing.T) {
	e := newTestEnv(t)
	e.author(t, "abc123", "Ada", "Bell")
	e.author(t, "xyz789", "Xia", "Young")
	e.register(t, "chair", "abc123", t0)
	_, err := e.store.Put(context.Background(), "chair/chair.usda", strings.NewReader("old"))
	require.NoError(t, err)
	_, err = e.checkout.Checkout(bg(), "chair", "abc123")
	require.NoError(t, err)

	file, entered, release := gatedFile("chair.usda", "stale")
	errc := make(chan error, 1)
	go func() {
		_, err := e.upload.CheckIn(bg(), CheckInInput{
			AssetName: "chair",
			HolderKey: "abc123",
			Commit:    CommitInput{Version: "01.01.00"},
			Files:     []UploadFile{file},
		})
		errc <- err
	}()

	<-entered
	_, err = e.checkout.ForceRelease(bg(), "chair")
	require.NoError(t, err)
	_, err = e.checkout.Checkout(bg(), "chair", "xyz789")
	require.NoError(t, err)
	close(release)

	requireKind(t, <-errc, apierr.KindConflict)

	history, err := e.versioning.GetHistory(bg(), "chair")
	require.NoError(t, err)
	require.Len(t, history, 1, "commit from the previous holder must not land")
	require.Equal(t, "abc123", history[0].AuthorKey)

	a, err := e.assets.GetByName(bg(), "chair")
	require.NoError(t, err)
	require.Equal(t, "xyz789", *a.CheckedOutBy)

	require.Equal(t, 1, e.store.Versions("chair/chair.usda"), "rejected batch is rolled back")
	require.Equal(t, "old", readCurrent(t, e, "chair/chair.usda"))
}

func TestCreateAssetLoserRollsBackUpload(t *testing.T) {
	e := newTestEnv(t)
	e.author(t, "abc123", "Ada", "Bell")
	e.author(t, "xyz789", "Xia", "Young")

	file, entered, release := gatedFile("chair.usda", "LOSER")
	errc := make(chan error, 1)
	go func() {
		_, err := e.upload.CreateAsset(bg(), CreateAssetInput{
			Asset: RegisterAssetInput{Name: "chair", InitialCommit: CommitInput{AuthorKey: "xyz789", Version: "01.00.00"}},
			Files: []UploadFile{file},
		})
		errc <- err
	}()

	<-entered
	_, err := e.upload.CreateAsset(bg(), CreateAssetInput{
		Asset: RegisterAssetInput{Name: "chair", InitialCommit: CommitInput{AuthorKey: "abc123", Version: "01.00.00"}},
		Files: []UploadFile{fileOf("chair.usda", "WINNER")},
	})
	require.NoError(t, err)
	close(release)

	requireKind(t, <-errc, apierr.KindConflict)
	require.Equal(t, 1, e.store.Versions("chair/chair.usda"))
	require.Equal(t, "WINNER", readCurrent(t, e, "chair/chair.usda"))

	detail, err := e.query.GetAsset(bg(), "chair")
	require.NoError(t, err)
	require.Equal(t, "Ada Bell", detail.Creator)
}

func TestDownloadStreamsArchive(t *testing.T) {
	e := newTestEnv(t)
	e.author(t, "abc123", "Ada", "Bell")
	_, err := e.upload.CreateAsset(bg(), CreateAssetInput{
		Asset: RegisterAssetInput{Name: "chair", InitialCommit: CommitInput{AuthorKey: "abc123", Version: "01.00.00"}},
		Files: []UploadFile{fileOf("chair.usda", "root"), fileOf("LODs/chair_LOD0.usda", "lod0")},
	})
	require.NoError(t, err)
	_, err = e.store.Put(context.Background(), "chairs/other.usda", strings.NewReader("not mine"))
	require.NoError(t, err)

	arc, err := e.download.OpenArchive(bg(), "chair")
	require.NoError(t, err)
	require.Equal(t, "chair.zip", arc.FileName())
	require.Equal(t, []string{"chair/LODs/chair_LOD0.usda", "chair/chair.usda"}, arc.Keys)

	var buf bytes.Buffer
	require.NoError(t, e.download.WriteArchive(context.Background(), arc, &buf))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	got := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		got[f.Name] = string(b)
	}
	require.Equal(t, map[string]string{"chair.usda": "root", "LODs/chair_LOD0.usda": "lod0"}, got)

	e.register(t, "empty", "abc123", t0)
	_, err = e.download.OpenArchive(bg(), "empty")
	requireKind(t, err, apierr.KindNotFound)
	_, err = e.download.OpenArchive(bg(), "ghost")
	requireKind(t, err, apierr.KindNotFound)
}

func TestSortSummariesPutsMissingTimesLast(t *testing.T) {
	ts := func(h int) *time.Time { v := t0.Add(time.Duration(h) * time.Hour); return &v }
	list := []AssetSummary{
		{Name: "b", UpdatedAt: ts(1)},
		{Name: "none"},
		{Name: "a", UpdatedAt: ts(1)},
		{Name: "c", UpdatedAt: ts(3)},
	}
	SortSummaries(list, "")
	require.Equal(t, []string{"c", "a", "b", "none"}, names(list))
}
