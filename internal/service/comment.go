package service

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/Hazimafiq/test-express-portal/internal/domain/model"
	"github.com/Hazimafiq/test-express-portal/internal/domain/status"
	"github.com/Hazimafiq/test-express-portal/internal/repository"
)

// MaxCommentLength — максимальная длина комментария в символах.
const MaxCommentLength = 4000

// CommentService — комментарии к кейсу. Комментарии только добавляются.
type CommentService struct {
	cases    *CaseService
	comments repository.CommentRepository
	logger   *slog.Logger
}

// NewCommentService создаёт сервис комментариев.
func NewCommentService(cases *CaseService, comments repository.CommentRepository, logger *slog.Logger) *CommentService {
	return &CommentService{
		cases:    cases,
		comments: comments,
		logger:   logger.With(slog.String("component", "comment_service")),
	}
}

// Add добавляет комментарий от имени пользователя сессии.
func (s *CommentService) Add(ctx context.Context, session model.Session, caseID, body string) (*model.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, validationf("пустой комментарий")
	}
	if n := utf8.RuneCountInString(body); n > MaxCommentLength {
		return nil, validationf("комментарий длиннее %d символов (%d)", MaxCommentLength, n)
	}
	if _, err := s.cases.Authorize(ctx, session, caseID, status.OpComment); err != nil {
		return nil, err
	}

	c := &model.Comment{
		CaseID:     caseID,
		AuthorID:   session.UserID,
		AuthorName: session.Name,
		Body:       body,
	}
	if err := s.comments.Create(ctx, c); err != nil {
		return nil, storageErr("добавление комментария", err)
	}

	s.logger.Debug("Комментарий добавлен",
		slog.String("case_id", caseID),
		slog.Int64("comment_id", c.ID),
	)
	return c, nil
}

// List возвращает комментарии кейса в хронологическом порядке.
func (s *CommentService) List(ctx context.Context, session model.Session, caseID string) ([]*model.Comment, error) {
	if _, err := s.cases.Authorize(ctx, session, caseID, status.OpView); err != nil {
		return nil, err
	}
	list, err := s.comments.ListByCase(ctx, caseID)
	if err != nil {
		return nil, storageErr("получение комментариев", err)
	}
	return list, nil
}
