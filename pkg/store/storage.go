package store

import (
	"github.com/lemonslut/that-news-thing-again/pkg/story"
	"github.com/lemonslut/that-news-thing-again/pkg/subject"
	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

// Backend is everything the worker, the API and the CLI need from one
// storage implementation. Both the Postgres and the in-memory store satisfy it.
type Backend interface {
	subject.Index
	story.Store
	story.Reader
	trend.Store

	// Labelers returns a label source for every trend kind.
	Labelers() trend.Labelers
}
