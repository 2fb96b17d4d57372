package reports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thisshopissogay/shop/internal/auth"
	"github.com/thisshopissogay/shop/internal/platform/httpx"
)

func TestTogglTrackedSeconds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "tok", user)
		assert.Equal(t, "api_token", pass)
		assert.Equal(t, "/me/time_entries", r.URL.Path)
		assert.Equal(t, "2024-05-01T00:00:00Z", r.URL.Query().Get("start_date"))
		_, _ = w.Write([]byte(`[
			{"id":1,"workspace_id":7,"duration":3600},
			{"id":2,"workspace_id":7,"duration":-1714550400},
			{"id":3,"workspace_id":8,"duration":900},
			{"id":4,"workspace_id":7,"duration":60}
		]`))
	}))
	defer srv.Close()

	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	got, err := NewTogglClient(srv.URL, "tok", 7).TrackedSeconds(context.Background(), from, from.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3660), got)

	got, err = NewTogglClient(srv.URL, "tok", 0).TrackedSeconds(context.Background(), from, from.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(4560), got)
}

func TestGitHubCommitCountFollowsLinks(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/shop/site/commits", r.URL.Path)
		assert.Equal(t, "Bearer gh", r.Header.Get("Authorization"))
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		assert.NotEmpty(t, r.URL.Query().Get("since"))
		switch r.URL.Query().Get("page") {
		case "":
			w.Header().Set("Link", fmt.Sprintf(`<%s/repos/shop/site/commits?page=2>; rel="next", <%s/repos/shop/site/commits?page=2>; rel="last"`, srv.URL, srv.URL))
			_, _ = w.Write([]byte(`[{"sha":"a"},{"sha":"b"},{"sha":"c"}]`))
		case "2":
			w.Header().Set("Link", fmt.Sprintf(`<%s/repos/shop/site/commits?page=1>; rel="prev"`, srv.URL))
			_, _ = w.Write([]byte(`[{"sha":"d"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	n, err := NewGitHubClient(srv.URL, "gh", "shop/site").CommitCount(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestGitHubEmptyRepository(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()
	n, err := NewGitHubClient(srv.URL, "", "shop/site").CommitCount(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGitHubRejectsMalformedRepository(t *testing.T) {
	_, err := NewGitHubClient("", "gh", "shop").CommitCount(context.Background(), time.Now().Add(-time.Hour), time.Now())
	assert.Error(t, err)
}

func TestGitHubServerErrorIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	_, err := NewGitHubClient(srv.URL, "gh", "shop/site").CommitCount(context.Background(), time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, httpx.ErrUpstream)
}

type memRepo struct {
	saved []Report
}

func (m *memRepo) Insert(ctx context.Context, r Report) (Report, error) {
	r.ID = int64(len(m.saved) + 1)
	r.CreatedAt = time.Now().UTC()
	m.saved = append(m.saved, r)
	return r, nil
}

func (m *memRepo) Recent(ctx context.Context, limit int) ([]Report, error) {
	return m.saved, nil
}

type fixedTime int64

func (f fixedTime) TrackedSeconds(ctx context.Context, from, to time.Time) (int64, error) {
	return int64(f), nil
}

type fixedCommits struct {
	n   int
	err error
}

func (f fixedCommits) CommitCount(ctx context.Context, from, to time.Time) (int, error) {
	return f.n, f.err
}

func TestGenerate(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo, fixedTime(7200), fixedCommits{n: 12}, nil)
	from, to := PreviousDay(time.Date(2024, 5, 2, 13, 30, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), to)

	rep, err := svc.Generate(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(7200), rep.TrackedSeconds)
	assert.Equal(t, 12, rep.CommitCount)
	assert.Len(t, repo.saved, 1)

	_, err = svc.Generate(context.Background(), to, from)
	assert.ErrorIs(t, err, httpx.ErrValidation)

	failing := NewService(repo, fixedTime(1), fixedCommits{err: errors.New("github down")}, nil)
	_, err = failing.Generate(context.Background(), from, to)
	assert.Error(t, err)
	assert.Len(t, repo.saved, 1)
}

const handlerSecret = "reports-test-secret"

type grants map[string]auth.Grant

func (g grants) GrantFor(ctx context.Context, userID string) (auth.Grant, error) {
	grant, ok := g[userID]
	if !ok {
		return auth.Grant{}, auth.ErrNoGrant
	}
	return grant, nil
}

func bearer(t *testing.T, subject string) string {
	t.Helper()
	claims := auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(handlerSecret))
	require.NoError(t, err)
	return "Bearer " + raw
}

func TestHandler(t *testing.T) {
	repo := &memRepo{}
	mw := auth.Middleware{
		Verifier: auth.NewVerifier(handlerSecret, ""),
		Grants:   grants{"root": {Role: auth.RoleSuperuser}, "manager": {Role: auth.RoleManager}},
	}
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), NewService(repo, fixedTime(60), fixedCommits{n: 1}, nil), mw).MountRoutes(r)

	body := `{"periodStart":"2024-05-01T00:00:00Z","periodEnd":"2024-05-08T00:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/reports", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, "manager"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/reports", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, "root"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"trackedSeconds":60`)

	req = httptest.NewRequest(http.MethodPost, "/reports", strings.NewReader(`{"periodStart":"2024-05-08T00:00:00Z","periodEnd":"2024-05-01T00:00:00Z"}`))
	req.Header.Set("Authorization", bearer(t, "root"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/reports", nil)
	req.Header.Set("Authorization", bearer(t, "root"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"commitCount":1`)
}
