package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/usd-asset-library/backend/internal/data/repos"
	"github.com/usd-asset-library/backend/internal/domain"
	"github.com/usd-asset-library/backend/internal/observability"
	"github.com/usd-asset-library/backend/internal/pkg/dbctx"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
	"github.com/usd-asset-library/backend/internal/platform/apierr"
	"github.com/usd-asset-library/backend/internal/platform/contentstore"
)

const (
	UnknownAuthor      = "Unknown"
	NoDescription      = "No description available"
	defaultCommitLimit = 100
	userRecentCommits  = 20
)

const (
	SortByName    = "name"
	SortByAuthor  = "author"
	SortByUpdated = "updated"
	SortByCreated = "created"
)

type ListAssetsParams struct {
	// Search matches asset names and keywords, case-insensitively.
	Search string
	// Author is whitespace-split; every token must match the creator's first
	// name, last name or key.
	Author        string
	CheckedInOnly bool
	// SortBy is one of name, author, updated, created. Empty means updated;
	// anything else keeps creation order.
	SortBy string
}

type AssetSummary struct {
	Name           string     `json:"name"`
	ThumbnailURL   *string    `json:"thumbnailUrl"`
	Version        string     `json:"version"`
	Creator        string     `json:"creator"`
	LastModifiedBy string     `json:"lastModifiedBy"`
	CheckedOutBy   *string    `json:"checkedOutBy"`
	IsCheckedOut   bool       `json:"isCheckedOut"`
	Materials      bool       `json:"materials"`
	Keywords       []string   `json:"keywords"`
	Description    string     `json:"description"`
	CreatedAt      *time.Time `json:"createdAt"`
	UpdatedAt      *time.Time `json:"updatedAt"`
}

type SublayerView struct {
	ID             uuid.UUID `json:"id"`
	VersionName    string    `json:"versionName"`
	FilePath       string    `json:"filepath"`
	StoreVersionID *string   `json:"s3versionId"`
	Version        string    `json:"version"`
}

type AssetDetail struct {
	AssetSummary
	StructureVersion string         `json:"assetStructureVersion"`
	HasTexture       bool           `json:"hasTexture"`
	CheckedOutAt     *time.Time     `json:"checkedOutAt"`
	CommitCount      int64          `json:"commitCount"`
	Sublayers        []SublayerView `json:"sublayers"`
}

type AssetList struct {
	Assets []AssetSummary `json:"assets"`
	// Skipped counts assets left out because their projection failed.
	Skipped int `json:"skipped,omitempty"`
}

type CommitSummary struct {
	ID         uuid.UUID `json:"commitId"`
	AssetName  string    `json:"assetName"`
	Author     string    `json:"author"`
	AuthorName string    `json:"authorName"`
	Version    string    `json:"version"`
	Timestamp  time.Time `json:"timestamp"`
	Note       string    `json:"note"`
	Seq        int64     `json:"seq"`
}

type CommitDetail struct {
	CommitSummary
	Sublayers []SublayerView `json:"sublayers"`
}

type UserDetail struct {
	Pennkey          string          `json:"pennkey"`
	FirstName        string          `json:"firstName"`
	LastName         string          `json:"lastName"`
	FullName         string          `json:"fullName"`
	Email            *string         `json:"email"`
	CheckedOutAssets []string        `json:"checkedOutAssets"`
	RecentCommits    []CommitSummary `json:"recentCommits"`
}

type QueryService interface {
	ListAssets(dbc dbctx.Context, p ListAssetsParams) (*AssetList, error)
	GetAsset(dbc dbctx.Context, assetName string) (*AssetDetail, error)
	// ListCommits returns newest first, optionally restricted to one asset.
	ListCommits(dbc dbctx.Context, assetName string, limit int) ([]CommitSummary, error)
	GetCommit(dbc dbctx.Context, id string) (*CommitDetail, error)
	GetUser(dbc dbctx.Context, pennkey string) (*UserDetail, error)
}

type queryService struct {
	db          *gorm.DB
	log         *logger.Logger
	metrics     *observability.Metrics
	store       contentstore.Store
	assetRepo   repos.AssetRepo
	authorRepo  repos.AuthorRepo
	commitRepo  repos.CommitRepo
	recordRepo  repos.VersionRecordRepo
	keywordRepo repos.KeywordRepo
}

func NewQueryService(
	db *gorm.DB,
	log *logger.Logger,
	metrics *observability.Metrics,
	store contentstore.Store,
	assetRepo repos.AssetRepo,
	authorRepo repos.AuthorRepo,
	commitRepo repos.CommitRepo,
	recordRepo repos.VersionRecordRepo,
	keywordRepo repos.KeywordRepo,
) QueryService {
	return &queryService{
		db:          db,
		log:         log.With("service", "QueryService"),
		metrics:     metrics,
		store:       store,
		assetRepo:   assetRepo,
		authorRepo:  authorRepo,
		commitRepo:  commitRepo,
		recordRepo:  recordRepo,
		keywordRepo: keywordRepo,
	}
}

// projection holds everything needed to summarize a batch of assets.
type projection struct {
	first, latest map[uuid.UUID]*domain.Commit
	authors       map[string]*domain.Author
	keywords      map[uuid.UUID][]string
	hasRecords    map[uuid.UUID]bool
}

func (s *queryService) load(dbc dbctx.Context, assets []*domain.Asset) (*projection, error) {
	ids := make([]uuid.UUID, 0, len(assets))
	for _, a := range assets {
		ids = append(ids, a.ID)
	}
	first, latest, err := s.commitRepo.BoundsByAssetIDs(dbc, ids)
	if err != nil {
		return nil, dbError(err, "load commit bounds")
	}
	keywords, err := s.keywordRepo.ListByAssetIDs(dbc, ids)
	if err != nil {
		return nil, dbError(err, "load keywords")
	}

	keySet := map[string]struct{}{}
	latestIDs := make([]uuid.UUID, 0, len(latest))
	for _, c := range first {
		keySet[c.AuthorKey] = struct{}{}
	}
	for _, c := range latest {
		keySet[c.AuthorKey] = struct{}{}
		latestIDs = append(latestIDs, c.ID)
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	authorRows, err := s.authorRepo.GetByKeys(dbc, keys)
	if err != nil {
		return nil, dbError(err, "load authors")
	}
	authors := make(map[string]*domain.Author, len(authorRows))
	for _, a := range authorRows {
		authors[a.Pennkey] = a
	}

	records, err := s.recordRepo.ListByCommitIDs(dbc, latestIDs)
	if err != nil {
		return nil, dbError(err, "load version records")
	}
	hasRecords := make(map[uuid.UUID]bool, len(latest))
	for assetID, c := range latest {
		hasRecords[assetID] = len(records[c.ID]) > 0
	}
	return &projection{first: first, latest: latest, authors: authors, keywords: keywords, hasRecords: hasRecords}, nil
}

func (p *projection) authorName(key string) string {
	if n := p.authors[key].FullName(); n != "" {
		return n
	}
	return UnknownAuthor
}

func (s *queryService) summarize(dbc dbctx.Context, a *domain.Asset, p *projection) (AssetSummary, error) {
	out := AssetSummary{
		Name:           a.AssetName,
		Version:        domain.DefaultVersion,
		Creator:        UnknownAuthor,
		LastModifiedBy: UnknownAuthor,
		CheckedOutBy:   a.CheckedOutBy,
		IsCheckedOut:   a.IsCheckedOut(),
		Keywords:       p.keywords[a.ID],
		Description:    NoDescription,
	}
	if out.Keywords == nil {
		out.Keywords = []string{}
	}
	if c := p.first[a.ID]; c != nil {
		ts := c.Timestamp
		out.CreatedAt = &ts
		out.Creator = p.authorName(c.AuthorKey)
	}
	if c := p.latest[a.ID]; c != nil {
		ts := c.Timestamp
		out.UpdatedAt = &ts
		out.Version = c.Version
		out.LastModifiedBy = p.authorName(c.AuthorKey)
		out.Description = c.Note
		out.Materials = p.hasRecords[a.ID]
	}
	if a.ThumbnailKey != nil && *a.ThumbnailKey != "" {
		u, err := s.store.PresignedURL(dbc.Ctx, *a.ThumbnailKey)
		if err != nil {
			return out, apierr.Upstream(err, "presign thumbnail for %q", a.AssetName)
		}
		out.ThumbnailURL = &u
	}
	return out, nil
}

func (s *queryService) ListAssets(dbc dbctx.Context, params ListAssetsParams) (*AssetList, error) {
	ctx, span := tracer.Start(dbc.Ctx, "QueryService.ListAssets")
	defer span.End()
	dbc.Ctx = ctx

	assets, err := s.assetRepo.List(dbc, repos.AssetFilter{
		Search:        params.Search,
		CheckedInOnly: params.CheckedInOnly,
	})
	if err != nil {
		return nil, dbError(err, "list assets")
	}
	p, err := s.load(dbc, assets)
	if err != nil {
		return nil, err
	}

	tokens := strings.Fields(strings.ToLower(params.Author))
	out := &AssetList{Assets: make([]AssetSummary, 0, len(assets))}
	var skipErr error
	for _, a := range assets {
		if len(tokens) > 0 && !matchesAuthor(p.authors, p.first[a.ID], tokens) {
			continue
		}
		sum, err := s.summarize(dbc, a, p)
		if err != nil {
			skipErr = multierr.Append(skipErr, err)
			out.Skipped++
			s.metrics.IncProjectionSkip("asset_summary")
			continue
		}
		out.Assets = append(out.Assets, sum)
	}
	if skipErr != nil {
		s.log.Warn("asset listing skipped items", "skipped", out.Skipped, "error", skipErr)
	}
	SortSummaries(out.Assets, params.SortBy)
	span.SetAttributes(attribute.Int("assets.count", len(out.Assets)), attribute.Int("assets.skipped", out.Skipped))
	return out, nil
}

// matchesAuthor requires every token to be a substring of the creator's first
// name, last name or key. Assets without commits have no creator.
func matchesAuthor(authors map[string]*domain.Author, first *domain.Commit, tokens []string) bool {
	if first == nil {
		return false
	}
	fields := []string{strings.ToLower(first.AuthorKey)}
	if a := authors[first.AuthorKey]; a != nil {
		fields = append(fields, strings.ToLower(a.FirstName), strings.ToLower(a.LastName))
	}
	for _, tok := range tokens {
		hit := false
		for _, f := range fields {
			if f != "" && strings.Contains(f, tok) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// SortSummaries orders in place. Ties fall back to the name; unknown keys
// keep the incoming order.
func SortSummaries(list []AssetSummary, sortBy string) {
	byName := func(i, j int) bool { return list[i].Name < list[j].Name }
	var less func(i, j int) bool
	switch strings.ToLower(strings.TrimSpace(sortBy)) {
	case SortByName:
		less = byName
	case SortByAuthor:
		less = func(i, j int) bool {
			a, b := strings.ToLower(list[i].Creator), strings.ToLower(list[j].Creator)
			if a != b {
				return a < b
			}
			return byName(i, j)
		}
	case "", SortByUpdated:
		less = func(i, j int) bool { return timeDesc(list[i].UpdatedAt, list[j].UpdatedAt, byName, i, j) }
	case SortByCreated:
		less = func(i, j int) bool { return timeDesc(list[i].CreatedAt, list[j].CreatedAt, byName, i, j) }
	default:
		return
	}
	sort.SliceStable(list, less)
}

// timeDesc sorts newest first with missing times last.
func timeDesc(a, b *time.Time, tie func(i, j int) bool, i, j int) bool {
	switch {
	case a == nil && b == nil:
		return tie(i, j)
	case a == nil:
		return false
	case b == nil:
		return true
	case !a.Equal(*b):
		return a.After(*b)
	default:
		return tie(i, j)
	}
}

func (s *queryService) GetAsset(dbc dbctx.Context, assetName string) (*AssetDetail, error) {
	if assetName == "" {
		return nil, apierr.InvalidArgument("asset name is required")
	}
	asset, err := s.assetRepo.GetByName(dbc, assetName)
	if err != nil {
		return nil, dbError(err, "lookup asset %q", assetName)
	}
	if asset == nil {
		return nil, apierr.NotFound("asset %q not found", assetName)
	}
	p, err := s.load(dbc, []*domain.Asset{asset})
	if err != nil {
		return nil, err
	}
	sum, err := s.summarize(dbc, asset, p)
	if err != nil {
		return nil, err
	}
	out := &AssetDetail{
		AssetSummary:     sum,
		StructureVersion: asset.StructureVersion,
		HasTexture:       asset.HasTexture,
		CheckedOutAt:     asset.CheckedOutAt,
		CommitCount:      asset.CommitCount,
		Sublayers:        []SublayerView{},
	}
	if c := p.latest[asset.ID]; c != nil {
		recs, err := s.recordRepo.ListByCommitIDs(dbc, []uuid.UUID{c.ID})
		if err != nil {
			return nil, dbError(err, "load sublayers for %q", assetName)
		}
		out.Sublayers = sublayerViews(recs[c.ID])
	}
	return out, nil
}

func sublayerViews(rows []*domain.VersionRecord) []SublayerView {
	out := make([]SublayerView, 0, len(rows))
	for _, r := range rows {
		out = append(out, SublayerView{
			ID:             r.ID,
			VersionName:    r.VersionName,
			FilePath:       r.StoreKey,
			StoreVersionID: r.StoreVersionID,
			Version:        r.Version,
		})
	}
	return out
}

func (s *queryService) commitSummaries(dbc dbctx.Context, commits []*domain.Commit) ([]CommitSummary, error) {
	idSet := map[uuid.UUID]struct{}{}
	for _, c := range commits {
		idSet[c.AssetID] = struct{}{}
	}
	ids := make([]uuid.UUID, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	assets, err := s.assetRepo.GetByIDs(dbc, ids)
	if err != nil {
		return nil, dbError(err, "load commit assets")
	}
	names := make(map[uuid.UUID]string, len(assets))
	for _, a := range assets {
		names[a.ID] = a.AssetName
	}
	out := make([]CommitSummary, 0, len(commits))
	for _, c := range commits {
		out = append(out, commitSummary(c, names[c.AssetID]))
	}
	return out, nil
}

func commitSummary(c *domain.Commit, assetName string) CommitSummary {
	name := c.Author.FullName()
	if name == "" {
		name = UnknownAuthor
	}
	return CommitSummary{
		ID:         c.ID,
		AssetName:  assetName,
		Author:     c.AuthorKey,
		AuthorName: name,
		Version:    c.Version,
		Timestamp:  c.Timestamp,
		Note:       c.Note,
		Seq:        c.Seq,
	}
}

func (s *queryService) ListCommits(dbc dbctx.Context, assetName string, limit int) ([]CommitSummary, error) {
	if limit <= 0 {
		limit = defaultCommitLimit
	}
	f := repos.CommitListFilter{Limit: limit}
	if assetName != "" {
		asset, err := s.assetRepo.GetByName(dbc, assetName)
		if err != nil {
			return nil, dbError(err, "lookup asset %q", assetName)
		}
		if asset == nil {
			return nil, apierr.NotFound("asset %q not found", assetName)
		}
		f.AssetID = &asset.ID
	}
	commits, err := s.commitRepo.List(dbc, f)
	if err != nil {
		return nil, dbError(err, "list commits")
	}
	return s.commitSummaries(dbc, commits)
}

func (s *queryService) GetCommit(dbc dbctx.Context, id string) (*CommitDetail, error) {
	cid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, apierr.InvalidArgument("invalid commit id %q", id)
	}
	c, err := s.commitRepo.GetByID(dbc, cid)
	if err != nil {
		return nil, dbError(err, "lookup commit %s", cid)
	}
	if c == nil {
		return nil, apierr.NotFound("commit %s not found", cid)
	}
	asset, err := s.assetRepo.GetByID(dbc, c.AssetID)
	if err != nil {
		return nil, dbError(err, "lookup asset of commit %s", cid)
	}
	if asset == nil {
		return nil, apierr.Internal(fmt.Errorf("asset %s missing", c.AssetID), "commit %s has no asset", cid)
	}
	return &CommitDetail{
		CommitSummary: commitSummary(c, asset.AssetName),
		Sublayers:     sublayerViews(c.Sublayers),
	}, nil
}

func (s *queryService) GetUser(dbc dbctx.Context, pennkey string) (*UserDetail, error) {
	key := normalizeKey(pennkey)
	if key == "" {
		return nil, apierr.InvalidArgument("pennkey is required")
	}
	author, err := s.authorRepo.GetByKey(dbc, key)
	if err != nil {
		return nil, dbError(err, "lookup user %q", key)
	}
	if author == nil {
		return nil, apierr.NotFound("user %q not found", key)
	}
	held, err := s.assetRepo.List(dbc, repos.AssetFilter{CheckedOutBy: key})
	if err != nil {
		return nil, dbError(err, "list assets held by %q", key)
	}
	commits, err := s.commitRepo.List(dbc, repos.CommitListFilter{AuthorKey: key, Limit: userRecentCommits})
	if err != nil {
		return nil, dbError(err, "list commits by %q", key)
	}
	recent, err := s.commitSummaries(dbc, commits)
	if err != nil {
		return nil, err
	}
	out := &UserDetail{
		Pennkey:          author.Pennkey,
		FirstName:        author.FirstName,
		LastName:         author.LastName,
		FullName:         author.FullName(),
		Email:            author.Email,
		CheckedOutAssets: make([]string, 0, len(held)),
		RecentCommits:    recent,
	}
	for _, a := range held {
		out.CheckedOutAssets = append(out.CheckedOutAssets, a.AssetName)
	}
	return out, nil
}
