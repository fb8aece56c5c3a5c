package services

import (
	"strings"

	"gorm.io/gorm"

	"github.com/usd-asset-library/backend/internal/data/repos"
	"github.com/usd-asset-library/backend/internal/domain"
	"github.com/usd-asset-library/backend/internal/pkg/dbctx"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
	"github.com/usd-asset-library/backend/internal/platform/apierr"
)

type RegisterAuthorInput struct {
	Pennkey   string
	FirstName string
	LastName  string
	Email     string
}

// IdentityService owns authors. Every other service resolves author keys
// through it so placeholder creation happens in one place.
type IdentityService interface {
	// RegisterAuthor creates the author or fills in names on an existing one.
	RegisterAuthor(dbc dbctx.Context, in RegisterAuthorInput) (*domain.Author, error)
	// EnsureAuthor returns the author, creating a nameless placeholder if needed.
	EnsureAuthor(dbc dbctx.Context, pennkey string) (*domain.Author, error)
	FindByKey(dbc dbctx.Context, pennkey string) (*domain.Author, error)
	ListAuthors(dbc dbctx.Context) ([]*domain.Author, error)
}

type identityService struct {
	db         *gorm.DB
	log        *logger.Logger
	authorRepo repos.AuthorRepo
}

func NewIdentityService(db *gorm.DB, log *logger.Logger, authorRepo repos.AuthorRepo) IdentityService {
	return &identityService{
		db:         db,
		log:        log.With("service", "IdentityService"),
		authorRepo: authorRepo,
	}
}

func normalizeKey(k string) string {
	return strings.TrimSpace(k)
}

func (s *identityService) RegisterAuthor(dbc dbctx.Context, in RegisterAuthorInput) (*domain.Author, error) {
	key := normalizeKey(in.Pennkey)
	if key == "" {
		return nil, apierr.InvalidArgument("pennkey is required")
	}
	row := &domain.Author{
		Pennkey:   key,
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
	}
	if e := strings.TrimSpace(in.Email); e != "" {
		row.Email = &e
	}
	out, err := s.authorRepo.Upsert(dbc, row)
	if err != nil {
		return nil, dbError(err, "register author %q", key)
	}
	s.log.Info("Author registered", "pennkey", key)
	return out, nil
}

func (s *identityService) EnsureAuthor(dbc dbctx.Context, pennkey string) (*domain.Author, error) {
	key := normalizeKey(pennkey)
	if key == "" {
		return nil, apierr.InvalidArgument("author key is required")
	}
	out, err := s.authorRepo.Ensure(dbc, key)
	if err != nil {
		return nil, dbError(err, "ensure author %q", key)
	}
	return out, nil
}

func (s *identityService) FindByKey(dbc dbctx.Context, pennkey string) (*domain.Author, error) {
	key := normalizeKey(pennkey)
	if key == "" {
		return nil, apierr.InvalidArgument("author key is required")
	}
	out, err := s.authorRepo.GetByKey(dbc, key)
	if err != nil {
		return nil, dbError(err, "find author %q", key)
	}
	if out == nil {
		return nil, apierr.NotFound("author %q not found", key)
	}
	return out, nil
}

func (s *identityService) ListAuthors(dbc dbctx.Context) ([]*domain.Author, error) {
	out, err := s.authorRepo.List(dbc)
	if err != nil {
		return nil, dbError(err, "list authors")
	}
	return out, nil
}
