// Package service provides access to analysis records and profiles on behalf
// of the signed-in user.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/hairscan/internal/auth"
	"github.com/raphaelgruber/hairscan/internal/db"
	"github.com/raphaelgruber/hairscan/internal/models"
)

var (
	// ErrNotFound indicates the record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the record belongs to another user.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidStep indicates a step ordinal outside 1..5 or an empty asset reference.
	ErrInvalidStep = errors.New("invalid step")

	// ErrStepCompleted indicates the step already holds an asset reference.
	ErrStepCompleted = errors.New("step already completed")
)

// conflictRetries bounds how often a step write is retried after a
// transaction conflict.
const conflictRetries = 3

var conflictBackoff = 50 * time.Millisecond

// Store is the persistence the service needs. *db.Client implements it.
type Store interface {
	CreateAnalysis(ctx context.Context, ownerID, name string) (*models.Analysis, error)
	GetAnalysis(ctx context.Context, id string) (*models.Analysis, error)
	CompleteStep(ctx context.Context, id string, ordinal int, ref string) (*models.Analysis, error)
	ListAnalyses(ctx context.Context, ownerID string) ([]models.Analysis, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	UpdateProfile(ctx context.Context, id string, p models.Profile) (*models.User, error)
}

// Compile-time check that the database client satisfies Store.
var _ Store = (*db.Client)(nil)

// CurrentUserSource resolves the authenticated caller. *auth.Provider implements it.
type CurrentUserSource interface {
	CurrentUser() (*auth.Identity, error)
}

// AnalysisService creates, updates and reads analysis records for the
// current user.
type AnalysisService struct {
	store  Store
	users  CurrentUserSource
	logger *slog.Logger
}

// NewAnalysisService creates a service. A nil logger falls back to slog.Default().
func NewAnalysisService(store Store, users CurrentUserSource, logger *slog.Logger) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisService{store: store, users: users, logger: logger}
}

func (s *AnalysisService) caller() (string, error) {
	id, err := s.users.CurrentUser()
	if err != nil {
		return "", err
	}
	return id.UserID, nil
}

// owned loads a record and checks it belongs to the caller.
func (s *AnalysisService) owned(ctx context.Context, recordID string) (*models.Analysis, error) {
	uid, err := s.caller()
	if err != nil {
		return nil, err
	}

	a, err := s.store.GetAnalysis(ctx, recordID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("analysis %s: %w", recordID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if a.UID != uid {
		return nil, fmt.Errorf("analysis %s: %w", recordID, ErrUnauthorized)
	}
	return a, nil
}

// CreateSession creates a record for ownerID with all five steps pending and
// returns its id. The owner must be the signed-in user.
func (s *AnalysisService) CreateSession(ctx context.Context, ownerID string) (string, error) {
	uid, err := s.caller()
	if err != nil {
		return "", err
	}
	if ownerID != uid {
		return "", fmt.Errorf("create session for %s: %w", ownerID, ErrUnauthorized)
	}

	a, err := s.store.CreateAnalysis(ctx, ownerID, "")
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	id := a.IDString()
	s.logger.Info("analysis created", "analysis_id", id, "uid", ownerID)
	return id, nil
}

// CompleteStep stores assetRef in the 1-based step slot, sets status
// captured and refreshes updatedAt.
func (s *AnalysisService) CompleteStep(ctx context.Context, recordID string, stepIndex int, assetRef string) error {
	if stepIndex < 1 || stepIndex > models.StepCount {
		return fmt.Errorf("step %d: %w", stepIndex, ErrInvalidStep)
	}
	if assetRef == "" || assetRef == models.StepPending {
		return fmt.Errorf("step %d: empty asset reference: %w", stepIndex, ErrInvalidStep)
	}

	a, err := s.owned(ctx, recordID)
	if err != nil {
		return err
	}
	if a.StepDone(stepIndex) {
		return fmt.Errorf("analysis %s step %d: %w", recordID, stepIndex, ErrStepCompleted)
	}

	// The write only matches a pending slot, so a retried write either lands
	// or reports the step as completed.
	for try := 1; ; try++ {
		_, err = s.store.CompleteStep(ctx, recordID, stepIndex, assetRef)
		if !errors.Is(err, db.ErrTransactionConflict) || try > conflictRetries {
			break
		}
		s.logger.Warn("step write conflict, retrying", "analysis_id", recordID, "step", stepIndex, "try", try)
		select {
		case <-time.After(conflictBackoff * time.Duration(try)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	switch {
	case errors.Is(err, db.ErrStepCompleted):
		return fmt.Errorf("analysis %s step %d: %w", recordID, stepIndex, ErrStepCompleted)
	case errors.Is(err, db.ErrNotFound):
		return fmt.Errorf("analysis %s: %w", recordID, ErrNotFound)
	case err != nil:
		return fmt.Errorf("complete step %d: %w", stepIndex, err)
	}

	s.logger.Info("step completed", "analysis_id", recordID, "step", stepIndex)
	return nil
}

// Get returns one of the caller's records.
func (s *AnalysisService) Get(ctx context.Context, recordID string) (*models.Analysis, error) {
	return s.owned(ctx, recordID)
}

// List returns the caller's records, newest first.
func (s *AnalysisService) List(ctx context.Context) ([]models.Analysis, error) {
	uid, err := s.caller()
	if err != nil {
		return nil, err
	}
	return s.store.ListAnalyses(ctx, uid)
}

// Resume returns the newest record of the caller that still has a pending step.
// Returns ErrNotFound when every record is complete.
func (s *AnalysisService) Resume(ctx context.Context) (*models.Analysis, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if !list[i].Complete() {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("no incomplete analysis: %w", ErrNotFound)
}

// GetProfile returns the caller's profile.
func (s *AnalysisService) GetProfile(ctx context.Context) (models.Profile, error) {
	uid, err := s.caller()
	if err != nil {
		return models.Profile{}, err
	}
	u, err := s.store.GetUser(ctx, uid)
	if errors.Is(err, db.ErrNotFound) {
		return models.Profile{}, fmt.Errorf("user %s: %w", uid, ErrNotFound)
	}
	if err != nil {
		return models.Profile{}, err
	}
	return u.Profile(), nil
}

// UpdateProfile overwrites the caller's profile fields. Email is not changed.
func (s *AnalysisService) UpdateProfile(ctx context.Context, p models.Profile) (models.Profile, error) {
	uid, err := s.caller()
	if err != nil {
		return models.Profile{}, err
	}
	u, err := s.store.UpdateProfile(ctx, uid, p)
	if errors.Is(err, db.ErrNotFound) {
		return models.Profile{}, fmt.Errorf("user %s: %w", uid, ErrNotFound)
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("update profile: %w", err)
	}
	return u.Profile(), nil
}
