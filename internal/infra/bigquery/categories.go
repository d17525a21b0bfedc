package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/budgetflow/internal/domain"
)

// CategoryRow is one row of the categories table.
type CategoryRow struct {
	CategoryID   string              `bigquery:"category_id"`   // REQUIRED
	CategoryName string              `bigquery:"category_name"` // REQUIRED
	Slug         bigquery.NullString `bigquery:"slug"`          // NULLABLE
	IsActive     bigquery.NullBool   `bigquery:"is_active"`     // NULLABLE
}

// LoadCategorySet reads the active categories of projectID.dataset.categories.
func LoadCategorySet(ctx context.Context, projectID, dataset, fallback string) (domain.CategorySet, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return domain.CategorySet{}, fmt.Errorf("LoadCategorySet: bigquery client: %w", err)
	}
	defer client.Close()

	rows, err := ListActiveCategoriesWithClient(ctx, client, projectID, dataset)
	if err != nil {
		return domain.CategorySet{}, err
	}
	return toCategorySet(rows, fallback)
}

// ListActiveCategoriesWithClient returns all active categories ordered by name
// using the provided BigQuery client.
func ListActiveCategoriesWithClient(ctx context.Context, client *bigquery.Client, projectID, dataset string) ([]CategoryRow, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
		  category_id,
		  category_name,
		  slug,
		  is_active
		FROM %s
		WHERE is_active = TRUE
		ORDER BY category_name
	`, categoriesTable(projectID, dataset)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListActiveCategories: query read: %w", err)
	}

	var rows []CategoryRow
	for {
		var r CategoryRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListActiveCategories: iter next: %w", err)
		}
		rows = append(rows, r)
	}

	return rows, nil
}

func categoriesTable(projectID, dataset string) string {
	return fmt.Sprintf("`%s.%s.categories`", projectID, dataset)
}

func toCategorySet(rows []CategoryRow, fallback string) (domain.CategorySet, error) {
	categories := make([]domain.Category, 0, len(rows))
	for _, r := range rows {
		if r.IsActive.Valid && !r.IsActive.Bool {
			continue
		}
		categories = append(categories, domain.Category{
			ID:   r.CategoryID,
			Name: strings.TrimSpace(r.CategoryName),
		})
	}
	if len(categories) == 0 {
		return domain.CategorySet{}, fmt.Errorf("LoadCategorySet: %w: no active categories", domain.ErrValidation)
	}

	set, err := domain.NewCategorySet(categories, fallback)
	if err != nil {
		return domain.CategorySet{}, fmt.Errorf("LoadCategorySet: %w", err)
	}
	return set, nil
}
