package main

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/greenearth/esingest/typecontext"
)

// Post is the demo's document type: one social post plus the AI-derived
// fields the enrichment loop may attach. It is a plain struct the
// TypeContext's accessor functions close over; the channel never inspects
// it beyond those accessors.
type Post struct {
	AtURI string `json:"at_uri"`
	AuthorDID string `json:"author_did"`
	Content string `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	ThreadRootPost string `json:"thread_root_post,omitempty"`
	ThreadParentPost string `json:"thread_parent_post,omitempty"`
	QuotePost string `json:"quote_post,omitempty"`
	ContentHash string `json:"-"`
}

// postMappingsJSON and postSettingsJSON are the component-template bodies
// ComponentTemplateStep writes. They are plain functions rather than
// embedded constants because a real deployment would likely load them from
// disk or a config map; returning an error keeps that door open without
// changing the TypeContext contract.
func postMappingsJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"properties": map[string]any{
			"at_uri": map[string]any{"type": "keyword"},
			"author_did": map[string]any{"type": "keyword"},
			"content": map[string]any{"type": "text"},
			"created_at": map[string]any{"type": "date"},
			"thread_root_post": map[string]any{"type": "keyword"},
			"thread_parent_post": map[string]any{"type": "keyword"},
			"quote_post": map[string]any{"type": "keyword"},
			"ai_summary": map[string]any{"type": "text"},
			"ai_summary_ph": map[string]any{"type": "keyword"},
		},
	})
}

func postSettingsJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"number_of_shards": 1,
		"number_of_replicas": 1,
	})
}

// newPostTypeContext builds the TypeContext describing where and how Post
// values are written, parameterized by the write target (index alias or
// data-stream name) callers pass in from config.
func newPostTypeContext(entityTarget typecontext.EntityTarget, writeTarget string) *typecontext.TypeContext[Post] {
	return &typecontext.TypeContext[Post]{
		EntityTarget: entityTarget,
		WriteTarget: writeTarget,
		DatePattern: "2006.01.02",
		UseBatchDate: true,
		WriteAlias: writeTarget,
		ReadAlias: writeTarget + "-search",
		MappingsJSON: postMappingsJSON,
		SettingsJSON: postSettingsJSON,
		GetID: func(p Post) string {
			if p.AtURI == "" {
				return uuid.NewSHA1(uuid.NameSpaceURL, []byte(p.AuthorDID+p.Content)).String()
			}
			return p.AtURI
		},
		GetContentHash: func(p Post) string { return p.ContentHash },
		GetTimestamp: func(p Post) (time.Time, bool) {
			if p.CreatedAt.IsZero() {
				return time.Time{}, false
			}
			return p.CreatedAt, true
		},
		OperationMode: typecontext.ModeCreate,
	}
}

// decodePost unmarshals one upstream JSON frame (websocket message or spool
// row) into a Post, the RowDecoder/decode-func shape both producer adapters
// expect.
func decodePost(raw []byte) (Post, error) {
	var wire struct {
		AtURI string `json:"at_uri"`
		AuthorDID string `json:"author_did"`
		Content string `json:"content"`
		CreatedAt time.Time `json:"created_at"`
		ThreadRootPost string `json:"thread_root_post"`
		ThreadParentPost string `json:"thread_parent_post"`
		QuotePost string `json:"quote_post"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Post{}, err
	}
	return Post{
		AtURI: wire.AtURI,
		AuthorDID: wire.AuthorDID,
		Content: wire.Content,
		CreatedAt: wire.CreatedAt,
		ThreadRootPost: wire.ThreadRootPost,
		ThreadParentPost: wire.ThreadParentPost,
		QuotePost: wire.QuotePost,
	}, nil
}
