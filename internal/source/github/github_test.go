package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mirrorerrors "github.com/input-output-hk/catalyst-forge-libs/mirror/errors"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

func TestParseRepository(t *testing.T) {
	tests := []struct {
		in        string
		owner     string
		repo      string
		expectErr bool
	}{
		{"acme/tool", "acme", "tool", false},
		{"acme", "", "", true},
		{"/tool", "", "", true},
		{"acme/", "", "", true},
		{"a/b/c", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			owner, repo, err := ParseRepository(tt.in)
			if tt.expectErr {
				assert.True(t, mirrorerrors.IsInvalidConfig(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.repo, repo)
		})
	}
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/tool/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer ghp", r.Header.Get("Authorization"))
		fmt.Fprintf(w, `{
			"tag_name": "v3.1.0",
			"name": "Release 3.1",
			"prerelease": false,
			"body": "what changed",
			"assets": [
				{"name": "tool.zip", "url": "%[1]s/assets/1", "size": 5},
				{"name": "tool-pkg.tar.gz", "url": "%[1]s/assets/2", "size": 3}
			]
		}`, srv.URL)
	})
	mux.HandleFunc("GET /assets/1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/octet-stream", r.Header.Get("Accept"))
		_, _ = w.Write([]byte("hello"))
	})
	mux.HandleFunc("GET /assets/2", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSource_LatestReleaseAndFetch(t *testing.T) {
	srv := newServer(t)
	s, err := New(Config{Owner: "acme", Repo: "tool", Token: "ghp", APIURL: srv.URL + "/"})
	require.NoError(t, err)
	assert.Equal(t, "github:acme/tool", s.Name())

	release, refs, err := s.LatestRelease(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &mirrortypes.Release{TagName: "v3.1.0", Name: "Release 3.1", Body: "what changed"}, release)
	require.Len(t, refs, 2)
	assert.Equal(t, "tool.zip", refs[0].Name)
	assert.Equal(t, int64(5), refs[0].Size)

	data, err := s.Fetch(context.Background(), refs[0])
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = s.Fetch(context.Background(), refs[1])
	assert.Equal(t, http.StatusNotFound, mirrorerrors.StatusCode(err))
	assert.Contains(t, err.Error(), "github.fetchAsset")
}

func TestSource_MissingTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"name":"x"}`))
	}))
	defer srv.Close()

	s, err := New(Config{Owner: "acme", Repo: "tool", APIURL: srv.URL})
	require.NoError(t, err)
	_, _, err = s.LatestRelease(context.Background())
	assert.Equal(t, mirrorerrors.CodePublishFailed, mirrorerrors.Code(err))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Owner: "acme"})
	assert.True(t, mirrorerrors.IsInvalidConfig(err))
}
