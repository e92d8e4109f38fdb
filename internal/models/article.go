package models

import "time"

// Article is the canonical record owned by the relational store.
type Article struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Popularity int       `json:"popularity"`
}

// IndexedArticle is the projection written to the search index under the article id.
type IndexedArticle struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Popularity int       `json:"popularity"`
}

// Projection copies the indexed fields of a.
func (a Article) Projection() IndexedArticle {
	return IndexedArticle{
		ID:         a.ID,
		Title:      a.Title,
		Content:    a.Content,
		CreatedAt:  a.CreatedAt.UTC(),
		Popularity: a.Popularity,
	}
}
