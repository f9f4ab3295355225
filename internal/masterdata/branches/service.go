package branches

import (
	"context"
	"errors"
	"log/slog"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/masterdata/shared"
)

// IndexNotifier is told when the set of located active branches may have changed.
type IndexNotifier interface {
	BranchesChanged(ctx context.Context) error
}

type Service struct {
	repo     Repository
	notifier IndexNotifier
	logger   *slog.Logger
}

func NewService(repo Repository, notifier IndexNotifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, notifier: notifier, logger: logger}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Branch, int, error) {
	filters.Normalize()
	return s.repo.List(ctx, filters)
}

// ListActive returns every active branch, located or not.
func (s *Service) ListActive(ctx context.Context) ([]Branch, error) {
	return s.repo.ListActive(ctx)
}

func (s *Service) Get(ctx context.Context, id int64) (Branch, error) {
	if id <= 0 {
		return Branch{}, shared.ErrInvalidID
	}
	return s.repo.Get(ctx, id)
}

// IsActive reports whether the branch exists and is active.
func (s *Service) IsActive(ctx context.Context, id int64) (bool, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrInvalidID) {
			return false, nil
		}
		return false, err
	}
	return b.IsActive, nil
}

func (s *Service) Create(ctx context.Context, branch Branch) (Branch, error) {
	if err := s.validate(branch); err != nil {
		return Branch{}, err
	}
	created, err := s.repo.Create(ctx, branch)
	if err != nil {
		return Branch{}, err
	}
	s.changed(ctx)
	return created, nil
}

func (s *Service) Update(ctx context.Context, id int64, branch Branch) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	if err := s.validate(branch); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, id, branch); err != nil {
		return err
	}
	s.changed(ctx)
	return nil
}

// Deactivate hides the branch from ranking. Branches are never deleted because inventory rows
// reference them.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return err
	}
	s.changed(ctx)
	return nil
}

func (s *Service) changed(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.BranchesChanged(ctx); err != nil {
		s.logger.Warn("branch index refresh not scheduled", slog.Any("error", err))
	}
}
