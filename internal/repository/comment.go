package repository

import (
	"context"
	"fmt"

	"github.com/Hazimafiq/test-express-portal/internal/domain/model"
)

// CommentRepository — интерфейс доступа к таблице case_comments.
type CommentRepository interface {
	// Create добавляет комментарий и заполняет ID и CreatedAt.
	Create(ctx context.Context, c *model.Comment) error
	// ListByCase возвращает комментарии кейса в хронологическом порядке.
	ListByCase(ctx context.Context, caseID string) ([]*model.Comment, error)
}

type commentRepo struct {
	db DBTX
}

// NewCommentRepository создаёт репозиторий комментариев.
func NewCommentRepository(db DBTX) CommentRepository {
	return &commentRepo{db: db}
}

func (r *commentRepo) Create(ctx context.Context, c *model.Comment) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO case_comments (case_id, author_id, author_name, body)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		c.CaseID, c.AuthorID, c.AuthorName, c.Body,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка добавления комментария: %w", err)
	}
	return nil
}

func (r *commentRepo) ListByCase(ctx context.Context, caseID string) ([]*model.Comment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, case_id, author_id, author_name, body, created_at
		FROM case_comments
		WHERE case_id = $1
		ORDER BY created_at, id`,
		caseID,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения комментариев: %w", err)
	}
	defer rows.Close()

	var result []*model.Comment
	for rows.Next() {
		c := &model.Comment{}
		if err := rows.Scan(&c.ID, &c.CaseID, &c.AuthorID, &c.AuthorName, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования комментария: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
