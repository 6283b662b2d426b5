package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/hairscan/internal/models"
)

// CreateAnalysis inserts a new record for ownerID with every step pending.
// The record key is a UUIDv7 so keys sort by creation time.
func (c *Client) CreateAnalysis(ctx context.Context, ownerID, name string) (*models.Analysis, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	if name == "" {
		name = models.NewAnalysis(ownerID).Name
	}

	start := time.Now()
	results, err := surrealdb.Query[[]models.Analysis](ctx, c.db, `
		CREATE type::record("analizler", $id) SET
			uid = $uid,
			name = $name,
			status = "pending",
			step1 = "pending",
			step2 = "pending",
			step3 = "pending",
			step4 = "pending",
			step5 = "pending",
			createdAt = time::now(),
			updatedAt = time::now()
	`, map[string]any{
		"id":   id.String(),
		"uid":  ownerID,
		"name": name,
	})
	c.recordWrite(start, err)
	if err != nil {
		return nil, fmt.Errorf("create analysis: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create analysis: empty result")
	}
	return &(*results)[0].Result[0], nil
}

// GetAnalysis retrieves a record by key. Returns ErrNotFound if missing.
func (c *Client) GetAnalysis(ctx context.Context, id string) (*models.Analysis, error) {
	results, err := surrealdb.Query[[]models.Analysis](ctx, c.db, `
		SELECT * FROM type::record("analizler", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("analysis %s: %w", id, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// CompleteStep stores ref in the step slot, marks the record captured and
// refreshes updatedAt. The update only applies while the slot is still
// "pending": ErrStepCompleted when it already holds a URI, ErrNotFound when
// the record does not exist.
func (c *Client) CompleteStep(ctx context.Context, id string, ordinal int, ref string) (*models.Analysis, error) {
	field, err := models.StepField(ordinal)
	if err != nil {
		return nil, err
	}

	// field comes from StepField, never from caller input.
	sql := fmt.Sprintf(`
		UPDATE type::record("analizler", $id) SET
			%[1]s = $ref,
			status = "captured",
			updatedAt = time::now()
		WHERE %[1]s = "pending"
		RETURN AFTER
	`, field)

	start := time.Now()
	results, err := surrealdb.Query[[]models.Analysis](ctx, c.db, sql, map[string]any{
		"id":  id,
		"ref": ref,
	})
	c.recordWrite(start, err)
	if err != nil {
		return nil, fmt.Errorf("complete %s: %w", field, wrapQueryError(err))
	}

	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return &(*results)[0].Result[0], nil
	}

	// Nothing updated: either the record is missing or the slot is taken.
	if _, err := c.GetAnalysis(ctx, id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("analysis %s %s: %w", id, field, ErrStepCompleted)
}

// ListAnalyses returns the owner's records, newest first.
func (c *Client) ListAnalyses(ctx context.Context, ownerID string) ([]models.Analysis, error) {
	results, err := surrealdb.Query[[]models.Analysis](ctx, c.db, `
		SELECT * FROM analizler WHERE uid = $uid ORDER BY createdAt DESC
	`, map[string]any{"uid": ownerID})
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Analysis{}, nil
	}
	return (*results)[0].Result, nil
}
