package recordings

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		sql  string
		args []interface{}
	}{
		{"empty doc", ``, "TRUE", nil},
		{"empty object", `{}`, "TRUE", nil},
		{"equality", `{"tag":"python"}`, "tag = $1", []interface{}{"python"}},
		{"case-insensitive regex", `{"title":{"$regex":"demo","$options":"i"}}`, "title ~* $1", []interface{}{"demo"}},
		{"case-sensitive regex", `{"description":{"$regex":"^x"}}`, "description ~ $1", []interface{}{"^x"}},
		{"keys are anded in sorted order", `{"tag":"go","email":"a@b.c"}`, "(email = $1 AND tag = $2)", []interface{}{"a@b.c", "go"}},
		{"fork tree", `{"forkedFrom":1700000000000}`, "forked_from = $1", []interface{}{int64(1700000000000)}},
		{"file roots", `{"fileRoot":{"$in":[1,2]}}`, "file_root = ANY($1)", []interface{}{[]int64{1, 2}}},
		{"group membership", `{"userGroups":"g1"}`, "$1 = ANY(user_groups)", []interface{}{"g1"}},
		{"any of groups", `{"userGroups":{"$in":["g1","g2"]}}`, "user_groups && $1", []interface{}{[]string{"g1", "g2"}}},
		{"text in", `{"mode":{"$in":["go","java"]}}`, "mode = ANY($1)", []interface{}{[]string{"go", "java"}}},
		{
			"or of regexes",
			`{"$or":[{"title":{"$regex":"a","$options":"i"}},{"tag":{"$regex":"a","$options":"i"}}],"email":"me@x.io"}`,
			"((title ~* $1 OR tag ~* $2) AND email = $3)",
			[]interface{}{"a", "a", "me@x.io"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseFilter(tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.sql, p.SQL)
			assert.Equal(t, tt.args, p.Args)
		})
	}
}

func TestParseFilterRejects(t *testing.T) {
	bad := []string{
		`not json`,
		`[]`,
		`{"password":"x"}`,
		`{"title":5}`,
		`{"title":{"$where":"1"}}`,
		`{"title":{"$regex":"(unclosed"}}`,
		`{"title":{"$regex":"a","$options":"x"}}`,
		`{"fileRoot":"123"}`,
		`{"fileRoot":1.5}`,
		`{"forkedFrom":{"$gt":1}}`,
		`{"userGroups":["a"]}`,
		`{"$or":[]}`,
		`{"$or":{"tag":"x"}}`,
		`{"$or":[{"$or":[{"$or":[{"$or":[{"$or":[{"tag":"x"}]}]}]}]}]}`,
		`{"title; DROP TABLE users":"x"}`,
	}
	for _, doc := range bad {
		t.Run(doc, func(t *testing.T) {
			_, err := ParseFilter(doc)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidFilter))
		})
	}
}
