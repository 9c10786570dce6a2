package model

import "time"

// Comment — комментарий к кейсу. Хранится в таблице case_comments.
type Comment struct {
	ID         int64
	CaseID     string
	AuthorID   string
	AuthorName string
	Body       string
	CreatedAt  time.Time
}
