package kvstore

import (
	"reflect"
	"testing"
)

func TestPostgresPrefixQueries(t *testing.T) {
	s := NewPostgresStore(nil, "catalog_items")

	tests := []struct {
		name      string
		build     func() (string, []any, error)
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "get",
			build:     func() (string, []any, error) { return s.getQuery(Key{PK: "title:1", SK: "record"}) },
			wantQuery: `SELECT data FROM "catalog_items" WHERE pk = $1 AND sk = $2`,
			wantArgs:  []any{"title:1", "record"},
		},
		{
			name:      "query",
			build:     func() (string, []any, error) { return s.prefixQuery("source:203:genre:4", "title:") },
			wantQuery: `SELECT pk, sk, data FROM "catalog_items" WHERE pk = $1 AND sk LIKE $2 ORDER BY sk`,
			wantArgs:  []any{"source:203:genre:4", "title:%"},
		},
		{
			name:      "scan escapes wildcards",
			build:     func() (string, []any, error) { return s.scanQuery("userpref:a_b%") },
			wantQuery: `SELECT pk, sk, data FROM "catalog_items" WHERE pk LIKE $1 ORDER BY pk, sk`,
			wantArgs:  []any{`userpref:a\_b\%%`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := tt.build()
			if err != nil {
				t.Fatal(err)
			}
			if query != tt.wantQuery {
				t.Errorf("query = %s\nwant    %s", query, tt.wantQuery)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %v, want %v", args, tt.wantArgs)
			}
		})
	}
}
