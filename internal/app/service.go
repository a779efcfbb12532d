package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"reviewdesk/api/internal/auth"
	"reviewdesk/api/internal/config"
	"reviewdesk/api/internal/logger"
	"reviewdesk/api/internal/rbac"
	"reviewdesk/api/internal/search"
	"reviewdesk/api/internal/store"
)

type Session struct {
	Token     string
	UserID    uuid.UUID
	UserName  string
	Role      rbac.Role
	JTI       string
	ExpiresAt time.Time
}

type dataStore interface {
	Ping(context.Context) error
	EnsureUser(context.Context, uuid.UUID, string) (*string, error)
	ListPrinciples(context.Context) ([]store.Principle, error)
	UpdatePrinciple(context.Context, string, func(*store.Principle)) (store.Principle, error)
	GetSample(context.Context, string) (store.Sample, error)
	GetSampleView(context.Context, string, uuid.UUID) (store.SampleView, error)
	ListSampleViewsByPrinciple(context.Context, string, uuid.UUID) ([]store.SampleView, error)
	UpsertRevisionOpinion(context.Context, uuid.UUID, string, string, time.Time) (store.Revision, error)
	UpsertRevisionCompletion(context.Context, uuid.UUID, string, bool, time.Time) (store.Revision, error)
}

// RevocationStore tracks logged-out access tokens until they expire.
type RevocationStore interface {
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type sampleSearcher interface {
	Search(context.Context, search.Query) search.Response
	Engine() string
}

type Service struct {
	cfg     config.Config
	store   dataStore
	revoked RevocationStore
	search  sampleSearcher
	log     *logger.Logger
	now     func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, revoked RevocationStore, searchService *search.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		cfg:     cfg,
		store:   dataStore,
		revoked: revoked,
		search:  searchService,
		log:     log,
		now:     time.Now,
	}
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.revoked.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	session := Session{
		Token:    token,
		UserID:   userID,
		UserName: strings.TrimSpace(claims.Name),
		Role:     rbac.Normalize(claims.Role),
		JTI:      claims.ID,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

func (s *Service) Logout(ctx context.Context, session Session) error {
	if session.JTI == "" {
		return nil
	}
	return s.revoked.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

func (s *Service) ListPrinciples(ctx context.Context) ([]PrincipleDTO, error) {
	principles, err := s.store.ListPrinciples(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]PrincipleDTO, 0, len(principles))
	for _, principle := range principles {
		items = append(items, principleDTO(principle))
	}
	return items, nil
}

func (s *Service) UpdatePrinciple(ctx context.Context, principleID string, input PrincipleUpdateInput) (PrincipleDTO, error) {
	if err := input.validate(); err != nil {
		return PrincipleDTO{}, err
	}
	updated, err := s.store.UpdatePrinciple(ctx, principleID, input.apply)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PrincipleDTO{}, notFound("Principle", principleID)
		}
		return PrincipleDTO{}, err
	}
	return principleDTO(updated), nil
}

// ListPrincipleSamples resolves every sample of the principle for the
// caller. Stats always cover the full set; showRevised only narrows the
// listed rows.
func (s *Service) ListPrincipleSamples(ctx context.Context, session Session, principleID string, showRevised bool) (PrincipleSamples, error) {
	views, err := s.store.ListSampleViewsByPrinciple(ctx, principleID, session.UserID)
	if err != nil {
		return PrincipleSamples{}, err
	}
	rows := make([]SampleRow, 0, len(views))
	for _, view := range views {
		rows = append(rows, resolveView(view))
	}
	return PrincipleSamples{
		Samples: filterRows(rows, showRevised),
		Stats:   computeStats(rows),
	}, nil
}

func (s *Service) GetSample(ctx context.Context, session Session, sampleID string) (SampleRow, error) {
	view, err := s.store.GetSampleView(ctx, sampleID, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SampleRow{}, notFound("Sample", sampleID)
		}
		return SampleRow{}, err
	}
	return resolveView(view), nil
}

func (s *Service) SetOpinion(ctx context.Context, session Session, sampleID, opinion string) (SampleRow, error) {
	return s.writeRevision(ctx, session, sampleID, func(at time.Time) (store.Revision, error) {
		return s.store.UpsertRevisionOpinion(ctx, session.UserID, sampleID, opinion, at)
	})
}

func (s *Service) ToggleRevision(ctx context.Context, session Session, sampleID string, completed bool) (SampleRow, error) {
	return s.writeRevision(ctx, session, sampleID, func(at time.Time) (store.Revision, error) {
		return s.store.UpsertRevisionCompletion(ctx, session.UserID, sampleID, completed, at)
	})
}

// writeRevision renders the row from the revision the upsert returned, not
// from a second read of the overlay. reviser_name is the stored user name,
// the same value reads join.
func (s *Service) writeRevision(ctx context.Context, session Session, sampleID string, upsert func(time.Time) (store.Revision, error)) (SampleRow, error) {
	sample, err := s.store.GetSample(ctx, sampleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SampleRow{}, notFound("Sample", sampleID)
		}
		return SampleRow{}, err
	}
	reviserName, err := s.store.EnsureUser(ctx, session.UserID, session.UserName)
	if err != nil {
		return SampleRow{}, err
	}

	revision, err := upsert(s.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SampleRow{}, notFound("Sample", sampleID)
		}
		return SampleRow{}, err
	}

	s.log.Debug("revision written",
		"user_id", session.UserID.String(),
		"sample_id", sampleID,
		"is_revise_completed", revision.IsReviseCompleted,
	)
	return resolveRow(sample, &revision, reviserName), nil
}

func (s *Service) SearchSamples(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(ctx, q)
}

func (s *Service) SearchEngine() string {
	return s.search.Engine()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingRevocations checks the revocation backend when it is separate from
// the database. ok is false when there is nothing extra to check.
func (s *Service) PingRevocations(ctx context.Context) (ok bool, err error) {
	pinger, isPinger := s.revoked.(interface{ Ping(context.Context) error })
	if !isPinger {
		return false, nil
	}
	if _, sameAsStore := s.revoked.(dataStore); sameAsStore {
		return false, nil
	}
	return true, pinger.Ping(ctx)
}

func (s *Service) readyTimeout() time.Duration {
	if s.cfg.ReadyTimeout > 0 {
		return s.cfg.ReadyTimeout
	}
	return 5 * time.Second
}
