package handlers

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/indofood-api/internal/catalogue"
	"github.com/Brownie44l1/indofood-api/internal/frame"
	"github.com/Brownie44l1/indofood-api/internal/model"
	"github.com/Brownie44l1/indofood-api/internal/preprocess"
	"github.com/Brownie44l1/indofood-api/internal/profile"
	"github.com/Brownie44l1/indofood-api/internal/tracking"
)

const dataset = `id,name,category,price,rating,origin,image,ingredients,instructions
1,Nasi Goreng,Main Course,25000,4.7,Jakarta,https://example.com/ng.jpg,nasi;bawang;kecap manis,tumis bawang;masukkan nasi
2,Sate Ayam,Main Course,30000,4.9,Madura,https://example.com/sa.jpg,ayam;kacang,bakar sate
3,Es Cendol,Dessert,10000,4.2,Bandung,https://example.com/ec.jpg,cendol;santan;gula merah,campur semua
`

type stubClassifier struct {
	scores []float32
}

func (s *stubClassifier) Infer([]float32) ([]float32, error) {
	out := make([]float32, len(s.scores))
	copy(out, s.scores)
	return out, nil
}

func (s *stubClassifier) OutputSize() int { return len(s.scores) }
func (s *stubClassifier) Close() error    { return nil }

func stubOpener() tracking.Opener {
	return tracking.OpenerFunc(func() (*tracking.Tracker, error) {
		opts := preprocess.DefaultOptions()
		opts.Size = 4
		return tracking.New(&stubClassifier{scores: []float32{0.1, 0.9, 0.3}}, tracking.Config{
			Labels:     model.LabelSet{"tofu", "tempeh", "chili"},
			Preprocess: opts,
		})
	})
}

func newTestHandler(t *testing.T, opener tracking.Opener, opts ...tracking.Option) (http.Handler, *tracking.Registry) {
	t.Helper()
	foods := catalogue.NewStore()
	require.NoError(t, foods.Load(strings.NewReader(dataset)))

	reg := tracking.NewRegistry(opener, opts...)
	t.Cleanup(reg.CloseAll)
	return NewRouter(NewHandler(foods, profile.NewStore(), reg)), reg
}

func do(t *testing.T, h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func nv21(width, height int) []byte {
	buf := make([]byte, width*height+frame.ChromaSize(width, height))
	for i := range buf {
		buf[i] = 128
	}
	return buf
}

func createSession(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/tracking/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[sessionResponse](t, rec)
	require.NotEmpty(t, resp.ID)
	assert.Equal(t, tracking.WaitingText, resp.Status.Text)
	return resp.ID
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rec := do(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[healthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 3, resp.Foods)
	assert.False(t, resp.Tracking)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthDegraded(t *testing.T) {
	foods := catalogue.NewStore()
	require.Error(t, foods.LoadFile(filepath.Join(t.TempDir(), "missing.csv")))
	h := NewRouter(NewHandler(foods, profile.NewStore(), tracking.NewRegistry(nil)))

	rec := do(t, h, http.MethodGet, "/health", nil)
	resp := decode[healthResponse](t, rec)
	assert.Equal(t, "degraded", resp.Status)
	assert.NotEmpty(t, resp.Error)

	rec = do(t, h, http.MethodGet, "/foods", nil)
	assert.Equal(t, 0, decode[foodsResponse](t, rec).Count)
}

func TestPreflight(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec := do(t, h, http.MethodOptions, "/profile", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PUT")
}

func TestListAndSearchFoods(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	resp := decode[foodsResponse](t, do(t, h, http.MethodGet, "/foods", nil))
	assert.Equal(t, 3, resp.Count)

	resp = decode[foodsResponse](t, do(t, h, http.MethodGet, "/foods?q=SANTAN", nil))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "Es Cendol", resp.Items[0].Name)

	resp = decode[foodsResponse](t, do(t, h, http.MethodGet, "/foods?q=rendang", nil))
	assert.Equal(t, 0, resp.Count)
	assert.NotNil(t, resp.Items)
}

func TestTopFoods(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	resp := decode[foodsResponse](t, do(t, h, http.MethodGet, "/foods/top?n=2", nil))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "Sate Ayam", resp.Items[0].Name)
	assert.Equal(t, "Nasi Goreng", resp.Items[1].Name)

	resp = decode[foodsResponse](t, do(t, h, http.MethodGet, "/foods/top", nil))
	assert.Equal(t, 3, resp.Count)

	rec := do(t, h, http.MethodGet, "/foods/top?n=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetFood(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rec := do(t, h, http.MethodGet, "/foods/2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	item := decode[catalogue.FoodItem](t, rec)
	assert.Equal(t, "Sate Ayam", item.Name)
	assert.Equal(t, []string{"ayam", "kacang"}, item.Ingredients)

	rec = do(t, h, http.MethodGet, "/foods/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProfile(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	p := decode[profile.Profile](t, do(t, h, http.MethodGet, "/profile", nil))
	assert.Equal(t, profile.DefaultName, p.Name)

	rec := do(t, h, http.MethodPut, "/profile", []byte(`{"name":" Budi ","email":"budi@example.com"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Budi", decode[profile.Profile](t, rec).Name)

	rec = do(t, h, http.MethodPut, "/profile", []byte(`{"name":"","email":"x@example.com"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/profile", []byte(`{`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	p = decode[profile.Profile](t, do(t, h, http.MethodGet, "/profile", nil))
	assert.Equal(t, "Budi", p.Name)
}

func TestCreateSessionUnavailable(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec := do(t, h, http.MethodPost, "/tracking/sessions", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateSessionLimit(t *testing.T) {
	h, reg := newTestHandler(t, stubOpener(), tracking.WithMaxSessions(1))
	id := createSession(t, h)

	rec := do(t, h, http.MethodPost, "/tracking/sessions", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Too many tracking sessions")
	assert.Equal(t, 1, reg.Len())

	rec = do(t, h, http.MethodDelete, "/tracking/sessions/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	createSession(t, h)
}

func TestSessionLifecycle(t *testing.T) {
	h, reg := newTestHandler(t, stubOpener())
	id := createSession(t, h)
	assert.Equal(t, 1, reg.Len())

	rec := do(t, h, http.MethodPost, "/tracking/sessions/"+id+"/frames?width=8&height=6", nv21(8, 6))
	require.Equal(t, http.StatusAccepted, rec.Code)
	sub := decode[submitResponse](t, rec)
	assert.True(t, sub.Accepted)
	assert.Equal(t, uint64(1), sub.Seq)

	assert.Eventually(t, func() bool {
		resp := decode[sessionResponse](t, do(t, h, http.MethodGet, "/tracking/sessions/"+id+"/result", nil))
		return resp.Status.Text == "tempeh: 90.00%"
	}, 2*time.Second, 5*time.Millisecond)

	rec = do(t, h, http.MethodDelete, "/tracking/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, reg.Len())

	rec = do(t, h, http.MethodGet, "/tracking/sessions/"+id+"/result", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodDelete, "/tracking/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitFrameRejectsBadInput(t *testing.T) {
	h, _ := newTestHandler(t, stubOpener())
	id := createSession(t, h)

	rec := do(t, h, http.MethodPost, "/tracking/sessions/"+id+"/frames", nv21(8, 6))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/tracking/sessions/"+id+"/frames?width=8&height=8", nv21(8, 6))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/tracking/sessions/"+id+"/frames?width=8589934592&height=4294967296", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/tracking/sessions/nope/frames?width=8&height=6", nv21(8, 6))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClassifyImageUpload(t *testing.T) {
	h, _ := newTestHandler(t, stubOpener())
	id := createSession(t, h)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "tempe.png")
	require.NoError(t, err)
	require.NoError(t, png.Encode(part, image.NewRGBA(image.Rect(0, 0, 12, 12))))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/tracking/sessions/"+id+"/image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[imageResponse](t, rec)
	assert.Equal(t, "tempeh: 90.00%", resp.Text)
	assert.True(t, resp.Result.Recognized)
}

func TestClassifyImageTooLarge(t *testing.T) {
	h, reg := newTestHandler(t, stubOpener())
	id := createSession(t, h)

	// a few kilobytes of PNG that would decode to 20MB of pixels
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "wide.png")
	require.NoError(t, err)
	require.NoError(t, png.Encode(part, image.NewRGBA(image.Rect(0, 0, 5000, 1000))))
	require.NoError(t, mw.Close())
	require.Less(t, body.Len(), 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/tracking/sessions/"+id+"/image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "5000x1000")

	tr, err := reg.Get(id)
	require.NoError(t, err)
	assert.Zero(t, tr.Stats().Completed)
}

func TestClassifyImageMissingField(t *testing.T) {
	h, _ := newTestHandler(t, stubOpener())
	id := createSession(t, h)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/tracking/sessions/"+id+"/image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResultStream(t *testing.T) {
	h, _ := newTestHandler(t, stubOpener())
	srv := httptest.NewServer(h)
	defer srv.Close()

	id := createSession(t, h)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/tracking/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var status tracking.Status
	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, tracking.WaitingText, status.Text)

	resp := decode[sessionResponse](t, do(t, h, http.MethodGet, "/tracking/sessions/"+id+"/result", nil))
	assert.Equal(t, 1, resp.Watchers)
	assert.False(t, resp.LastActive.IsZero())

	rec := do(t, h, http.MethodPost, "/tracking/sessions/"+id+"/frames?width=8&height=6", nv21(8, 6))
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, "tempeh: 90.00%", status.Text)
	require.NotNil(t, status.Result)
	assert.Equal(t, "tempeh", status.Result.Label)

	rec = do(t, h, http.MethodDelete, "/tracking/sessions/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
