package images

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thisshopissogay/shop/internal/auth"
	"github.com/thisshopissogay/shop/internal/catalog"
	"github.com/thisshopissogay/shop/internal/storage"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	listing []storage.Object
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) Download(ctx context.Context, bucket, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (m *memStore) Upload(ctx context.Context, bucket, name, contentType string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+name] = data
	return nil
}

func (m *memStore) Remove(ctx context.Context, bucket string, names ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		delete(m.objects, bucket+"/"+n)
	}
	return nil
}

func (m *memStore) List(ctx context.Context, bucket string) ([]storage.Object, error) {
	return m.listing, nil
}

type memRepo struct {
	images    []catalog.Image
	insertErr error
}

func (m *memRepo) InsertImage(ctx context.Context, img catalog.Image) (catalog.Image, error) {
	if m.insertErr != nil {
		return catalog.Image{}, m.insertErr
	}
	img.DisplayOrder = len(m.images)
	m.images = append(m.images, img)
	return img, nil
}

func (m *memRepo) DeleteByFilename(ctx context.Context, filename string) (int64, error) {
	var n int64
	kept := m.images[:0]
	for _, img := range m.images {
		if img.Filename == filename {
			n++
			continue
		}
		kept = append(kept, img)
	}
	m.images = kept
	return n, nil
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(ctx context.Context) { c.calls++ }

func newTestService(store *memStore, repo *memRepo, inv *countingInvalidator) *Service {
	cfg := Config{
		Store:            store,
		Repo:             repo,
		OriginalBucket:   "originals",
		DerivativeBucket: "derived",
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if inv != nil {
		cfg.Catalog = inv
	}
	return NewService(cfg)
}

func TestGenerateAndRemoveDerivative(t *testing.T) {
	store := newMemStore()
	store.objects["originals/photo.JPG"] = pngBytes(t, 40, 40, false)
	repo := &memRepo{images: []catalog.Image{{Filename: "photo.JPG", ProductSKU: 1}}}
	inv := &countingInvalidator{}
	svc := newTestService(store, repo, inv)

	name, err := svc.GenerateDerivative(context.Background(), "photo.JPG")
	require.NoError(t, err)
	assert.Equal(t, "photo.webp", name)
	assert.Contains(t, store.objects, "derived/photo.webp")

	require.NoError(t, svc.RemoveDerivative(context.Background(), "photo.JPG"))
	assert.NotContains(t, store.objects, "derived/photo.webp")
	assert.Empty(t, repo.images)
	assert.Equal(t, 1, inv.calls)
}

func TestGenerateDerivativeMissingOriginal(t *testing.T) {
	svc := newTestService(newMemStore(), &memRepo{}, nil)
	_, err := svc.GenerateDerivative(context.Background(), "gone.png")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestRegenerateAllCollectsFailures(t *testing.T) {
	store := newMemStore()
	store.objects["originals/a.png"] = pngBytes(t, 10, 10, false)
	store.objects["originals/b.png"] = []byte("corrupt")
	store.listing = []storage.Object{{ID: "1", Name: "a.png"}, {ID: "2", Name: "b.png"}, {Name: "folder"}}
	svc := newTestService(store, &memRepo{}, nil)

	res, err := svc.RegenerateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, []string{"b.png"}, res.Failed)
	assert.Contains(t, store.objects, "derived/a.webp")
}

func TestUploadRecordsImage(t *testing.T) {
	store := newMemStore()
	repo := &memRepo{}
	inv := &countingInvalidator{}
	svc := newTestService(store, repo, inv)

	img, err := svc.Upload(context.Background(), UploadRequest{SKU: 9, Data: pngBytes(t, 30, 30, false), Representative: true})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(img.Filename, ".webp"))
	assert.Equal(t, int64(9), img.ProductSKU)
	assert.True(t, img.Representative)
	assert.Contains(t, store.objects, "originals/"+img.Filename)
	assert.Equal(t, 1, inv.calls)
}

func TestUploadRemovesObjectWhenRowFails(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &memRepo{insertErr: errors.New("fk")}, nil)

	_, err := svc.Upload(context.Background(), UploadRequest{SKU: 9, Data: pngBytes(t, 30, 30, false)})
	require.Error(t, err)
	assert.Empty(t, store.objects)
}

const handlerSecret = "images-test-secret"

type grants map[string]auth.Grant

func (g grants) GrantFor(ctx context.Context, userID string) (auth.Grant, error) {
	grant, ok := g[userID]
	if !ok {
		return auth.Grant{}, auth.ErrNoGrant
	}
	return grant, nil
}

type stubEnqueuer struct{ calls int }

func (s *stubEnqueuer) EnqueueRegenerateImages(ctx context.Context) (string, error) {
	s.calls++
	return "task-1", nil
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

func TestHandlerUploadAndRegenerate(t *testing.T) {
	store := newMemStore()
	repo := &memRepo{}
	jobs := &stubEnqueuer{}
	mw := auth.Middleware{
		Verifier: auth.NewVerifier(handlerSecret, ""),
		Grants:   grants{"manager": {Role: auth.RoleManager}, "root": {Role: auth.RoleSuperuser}},
	}
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), newTestService(store, repo, nil), jobs, mw).MountRoutes(r)

	var body bytes.Buffer
	mp := multipart.NewWriter(&body)
	part, err := mp.CreateFormFile("file", "pin.png")
	require.NoError(t, err)
	_, err = part.Write(pngBytes(t, 20, 20, false))
	require.NoError(t, err)
	require.NoError(t, mp.WriteField("icon", "true"))
	require.NoError(t, mp.Close())

	req := httptest.NewRequest(http.MethodPost, "/products/4/images", &body)
	req.Header.Set("Content-Type", mp.FormDataContentType())
	req.Header.Set("Authorization", bearer(t, "manager"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, repo.images, 1)
	assert.True(t, repo.images[0].Icon)

	req = httptest.NewRequest(http.MethodPost, "/products/4/images", strings.NewReader("x"))
	req.Header.Set("Authorization", bearer(t, "manager"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/images/regenerate", nil)
	req.Header.Set("Authorization", bearer(t, "manager"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/images/regenerate", nil)
	req.Header.Set("Authorization", bearer(t, "root"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, jobs.calls)
}
