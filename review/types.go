package review

import "time"

// PullRequest is the subset of PR fields the pipeline needs.
type PullRequest struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	HeadRefName string    `json:"headRefName"`
	IsDraft     bool      `json:"isDraft"`
	Author      Author    `json:"author"`
	UpdatedAt   time.Time `json:"updatedAt"`
	URL         string    `json:"url"`
}

// Author is the PR or issue author as reported by the review system.
type Author struct {
	Login string `json:"login"`
	IsBot bool   `json:"is_bot"`
}

// Issue is an open issue used for workstream correlation.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	URL       string    `json:"url"`
	UpdatedAt time.Time `json:"updatedAt"`
	Labels    []Label   `json:"labels"`
}

// Label is an issue label.
type Label struct {
	Name string `json:"name"`
}
