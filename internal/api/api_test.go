package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"kisan-backend/internal/auth"
	"kisan-backend/internal/config"
	"kisan-backend/internal/domain"
	"kisan-backend/internal/payments"
	"kisan-backend/internal/store"
	"kisan-backend/internal/weather"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeWeather struct {
	reading domain.WeatherReading
	err     error
	queries []weather.Query
}

func (f *fakeWeather) Current(_ context.Context, q weather.Query) (domain.WeatherReading, error) {
	f.queries = append(f.queries, q)
	return f.reading, f.err
}

type testEnv struct {
	t       *testing.T
	srv     *Server
	handler http.Handler
	store   *store.Store
	issuer  *auth.Issuer
	weather *fakeWeather
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.RateLimit = config.RateLimitConfig{RPS: 1000, Burst: 1000}
	for _, m := range mutate {
		m(&cfg)
	}

	st, err := store.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.SeedCatalogs(context.Background()))

	fw := &fakeWeather{}
	issuer := auth.NewIssuer("test-secret", time.Hour)
	srv := NewServer(Deps{
		Config:   cfg,
		Store:    st,
		Issuer:   issuer,
		Payments: payments.NewSimulated(zap.NewNop()),
		Weather:  fw,
		Logger:   zap.NewNop(),
	})
	srv.automationDelay = 0
	t.Cleanup(srv.Wait)

	return &testEnv{t: t, srv: srv, handler: srv.Routes(), store: st, issuer: issuer, weather: fw}
}

type envelope struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields"`
}

func (e *testEnv) do(method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v), string(env.Data))
	return v
}

// register creates an account through the API and returns its token and user
func (e *testEnv) register(req map[string]any) (string, domain.User) {
	e.t.Helper()
	if _, ok := req["password"]; !ok {
		req["password"] = "correct-horse"
	}
	rec, env := e.do(http.MethodPost, "/api/auth/register", "", req)
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decodeData[struct {
		Token string      `json:"token"`
		User  domain.User `json:"user"`
	}](e.t, env)
	return out.Token, out.User
}

func (e *testEnv) admin() string {
	e.t.Helper()
	u := domain.User{Name: "Admin", Email: "admin@kisan.in", PasswordHash: "x", Role: domain.RoleAdmin}
	require.NoError(e.t, e.store.CreateUser(context.Background(), &u))
	tok, _, err := e.issuer.Issue(u)
	require.NoError(e.t, err)
	return tok
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	env.do(http.MethodGet, "/api/schemes", "", nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mrec := httptest.NewRecorder()
	env.handler.ServeHTTP(mrec, req)
	assert.Equal(t, http.StatusOK, mrec.Code)
	assert.Contains(t, mrec.Body.String(), `kisan_http_requests_total{method="GET",route="/api/schemes`)
	assert.Contains(t, mrec.Body.String(), "go_goroutines")
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)

	tok, u := env.register(map[string]any{"name": "Ramesh", "email": "Ramesh@Example.in", "state": "Bihar", "crops": []string{"Rice"}})
	assert.Equal(t, domain.RoleFarmer, u.Role)
	assert.Equal(t, "ramesh@example.in", u.Email)
	assert.Equal(t, []string{"rice"}, u.Crops)

	rec, e := env.do(http.MethodPost, "/api/auth/register", "", map[string]any{
		"name": "Other", "email": "ramesh@example.in", "password": "long-enough",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, e.Success)

	rec, e = env.do(http.MethodPost, "/api/auth/register", "", map[string]any{
		"name": "", "email": "nope", "password": "short", "role": "admin",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, e.Fields, "name")
	assert.Contains(t, e.Fields, "email")
	assert.Contains(t, e.Fields, "password")
	assert.Contains(t, e.Fields, "role")

	rec, e = env.do(http.MethodPost, "/api/auth/register", "", map[string]any{
		"name": "Long", "email": "long@example.in", "password": strings.Repeat("p", 80),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "bcrypt cannot hash more than 72 bytes")
	assert.Equal(t, "must be at most 72 bytes", e.Fields["password"])

	rec, e = env.do(http.MethodPost, "/api/auth/login", "", map[string]any{"email": "ramesh@example.in", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid email or password", e.Error)

	rec, e = env.do(http.MethodPost, "/api/auth/login", "", map[string]any{"email": "nobody@example.in", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid email or password", e.Error)

	rec, _ = env.do(http.MethodPost, "/api/auth/login", "", map[string]any{"email": "RAMESH@example.in", "password": "correct-horse"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, e = env.do(http.MethodGet, "/api/auth/me", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeData[domain.User](t, e)
	assert.Equal(t, u.ID, me.ID)
	assert.NotContains(t, string(e.Data), "password")

	rec, e = env.do(http.MethodPut, "/api/auth/me", tok, map[string]any{"district": "Patna", "crops": []string{"wheat", "Rice"}})
	require.Equal(t, http.StatusOK, rec.Code)
	me = decodeData[domain.User](t, e)
	assert.Equal(t, "Patna", me.District)
	assert.Equal(t, []string{"wheat", "rice"}, me.Crops)

	rec, _ = env.do(http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConsultationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	adminTok := env.admin()

	expertTok, expert := env.register(map[string]any{
		"name": "Dr. Singh", "email": "singh@kvk.in", "role": "expert", "state": "Bihar",
		"specializations": []string{"crop_disease", "rice"}, "languages": []string{"hi", "en"},
	})
	otherTok, _ := env.register(map[string]any{
		"name": "Dr. Rao", "email": "rao@kvk.in", "role": "expert", "state": "Andhra Pradesh",
		"specializations": []string{"soil_health"}, "languages": []string{"te"},
	})
	farmerTok, _ := env.register(map[string]any{"name": "Sita", "email": "sita@example.in", "state": "Bihar", "language": "hi"})

	rec, e := env.do(http.MethodPost, "/api/consultations", farmerTok, map[string]any{
		"title": "Brown spots on paddy leaves", "description": "Spots spreading after rain",
		"category": "crop_disease", "cropType": "rice", "urgency": "high", "autoAssign": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeData[struct {
		Consultation domain.Consultation `json:"consultation"`
		Assigned     bool                `json:"assigned"`
	}](t, e)
	require.True(t, created.Assigned)
	c := created.Consultation
	assert.Equal(t, domain.StatusAssigned, c.Status)
	assert.Equal(t, expert.ID, c.ExpertID)
	assert.Equal(t, "hi", c.Language)
	assert.Equal(t, "Bihar", c.State)
	base := fmt.Sprintf("/api/consultations/%d", c.ID)

	// experts cannot open consultations; other experts cannot act on this one
	rec, _ = env.do(http.MethodPost, "/api/consultations", expertTok, map[string]any{"title": "x", "description": "y"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = env.do(http.MethodGet, base, otherTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = env.do(http.MethodPost, base+"/messages", otherTok, map[string]any{"body": "hi"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, e = env.do(http.MethodPost, base+"/messages", expertTok, map[string]any{"body": "Is the field waterlogged?"})
	require.Equal(t, http.StatusOK, rec.Code)
	c = decodeData[domain.Consultation](t, e)
	assert.Equal(t, domain.StatusInProgress, c.Status)

	rec, _ = env.do(http.MethodPost, base+"/messages", farmerTok, map[string]any{"body": "Yes, since Monday"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, e = env.do(http.MethodPost, base+"/resolve", expertTok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, e.Fields, "diagnosis")

	rec, _ = env.do(http.MethodPost, base+"/diagnosis", expertTok, map[string]any{
		"condition": "Brown spot (Bipolaris oryzae)", "severity": "moderate", "confidence": 0.85,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = env.do(http.MethodPost, base+"/recommendations", expertTok, map[string]any{
		"kind": "treatment", "title": "Spray mancozeb", "dosage": "2.5 g/L", "priority": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(http.MethodPost, base+"/resolve", farmerTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = env.do(http.MethodPost, base+"/rate", farmerTok, map[string]any{"rating": 5})
	assert.Equal(t, http.StatusConflict, rec.Code, "cannot rate before resolution")

	rec, e = env.do(http.MethodPost, base+"/resolve", expertTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusResolved, decodeData[domain.Consultation](t, e).Status)

	rec, _ = env.do(http.MethodPost, base+"/cancel", farmerTok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, e = env.do(http.MethodPost, base+"/rate", farmerTok, map[string]any{"rating": 4, "feedback": "Spots stopped spreading"})
	require.Equal(t, http.StatusOK, rec.Code)
	c = decodeData[domain.Consultation](t, e)
	assert.Equal(t, domain.StatusClosed, c.Status)
	assert.Equal(t, 4, c.Rating)

	rec, _ = env.do(http.MethodPost, base+"/rate", farmerTok, map[string]any{"rating": 1})
	assert.Equal(t, http.StatusConflict, rec.Code, "rating is accepted once")

	rec, e = env.do(http.MethodGet, base, farmerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	c = decodeData[domain.Consultation](t, e)
	assert.Len(t, c.Messages, 2)
	require.NotNil(t, c.Diagnosis)
	assert.Len(t, c.Recommendations, 1)

	rec, e = env.do(http.MethodGet, "/api/experts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	loads := decodeData[[]domain.ExpertLoad](t, e)
	require.Len(t, loads, 2)
	assert.Equal(t, expert.ID, loads[0].Expert.ID)
	assert.Equal(t, 4.0, loads[0].Expert.Rating)
	assert.Equal(t, 0, loads[0].Open)
	assert.Empty(t, loads[0].Expert.Email)

	rec, e = env.do(http.MethodGet, "/api/consultations", farmerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeData[domain.Page[domain.Consultation]](t, e).Total)

	rec, e = env.do(http.MethodGet, "/api/activity?entity=consultation", adminTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var actions []string
	for _, a := range decodeData[[]domain.Activity](t, e) {
		actions = append(actions, a.Action)
	}
	assert.ElementsMatch(t, []string{"created", "assigned", "message", "message", "diagnosed", "recommendation", "resolved", "rated"}, actions)

	rec, e = env.do(http.MethodGet, "/api/stats", adminTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeData[domain.Stats](t, e)
	assert.Equal(t, 1, stats.Farmers)
	assert.Equal(t, 2, stats.Experts)
	assert.Equal(t, 1, stats.ResolvedConsultations)
	assert.Equal(t, 4.0, stats.AvgConsultationRating)

	rec, _ = env.do(http.MethodGet, "/api/stats", farmerTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestConsultation_AssignmentPaths(t *testing.T) {
	env := newTestEnv(t)
	adminTok := env.admin()
	farmerTok, _ := env.register(map[string]any{"name": "Gopal", "email": "gopal@example.in"})

	open := func(title string) string {
		rec, e := env.do(http.MethodPost, "/api/consultations", farmerTok, map[string]any{
			"title": title, "description": "details", "category": "soil_health",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		c := decodeData[struct {
			Consultation domain.Consultation `json:"consultation"`
		}](t, e).Consultation
		assert.Equal(t, domain.StatusPending, c.Status)
		return fmt.Sprintf("/api/consultations/%d", c.ID)
	}

	first := open("Soil is too salty")
	rec, e := env.do(http.MethodPost, first+"/auto-assign", farmerTok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "no expert available", e.Error)

	expertTok, expert := env.register(map[string]any{
		"name": "Dr. Das", "email": "das@kvk.in", "role": "expert", "specializations": []string{"soil_health"},
	})

	rec, e = env.do(http.MethodGet, "/api/consultations?pool=true", expertTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeData[domain.Page[domain.Consultation]](t, e).Total)

	rec, _ = env.do(http.MethodPost, first+"/claim", expertTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = env.do(http.MethodPost, first+"/claim", expertTok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec, e = env.do(http.MethodPost, first+"/start", expertTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusInProgress, decodeData[domain.Consultation](t, e).Status)

	second := open("Low organic carbon")
	rec, _ = env.do(http.MethodPost, second+"/assign", farmerTok, map[string]any{"expertId": expert.ID})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, e = env.do(http.MethodPost, second+"/assign", adminTok, map[string]any{"expertId": expert.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, expert.ID, decodeData[domain.Consultation](t, e).ExpertID)

	rec, e = env.do(http.MethodPost, second+"/cancel", farmerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusCancelled, decodeData[domain.Consultation](t, e).Status)

	rec, _ = env.do(http.MethodPost, second+"/messages", farmerTok, map[string]any{"body": "anyone?"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = env.do(http.MethodGet, "/api/consultations/abc", farmerTok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = env.do(http.MethodGet, "/api/consultations/999", farmerTok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = env.do(http.MethodGet, "/api/consultations?status=bogus", farmerTok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = env.do(http.MethodGet, "/api/consultations?page=0", farmerTok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConsultation_ExpertPool(t *testing.T) {
	env := newTestEnv(t)
	farmerTok, _ := env.register(map[string]any{"name": "Kamla", "email": "kamla@example.in"})

	open := func(title, category, crop string) string {
		rec, e := env.do(http.MethodPost, "/api/consultations", farmerTok, map[string]any{
			"title": title, "description": "details", "category": category, "cropType": crop,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		c := decodeData[struct {
			Consultation domain.Consultation `json:"consultation"`
		}](t, e).Consultation
		return fmt.Sprintf("/api/consultations/%d", c.ID)
	}
	market := open("Market price question", "market", "")
	rice := open("Rice leaves yellow", "general", "rice")
	open("Soil is too salty", "soil_health", "")

	poolTitles := func(tok string) []string {
		rec, e := env.do(http.MethodGet, "/api/consultations?pool=true", tok, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		titles := []string{}
		for _, c := range decodeData[domain.Page[domain.Consultation]](t, e).Items {
			titles = append(titles, c.Title)
		}
		return titles
	}

	cropOnlyTok, _ := env.register(map[string]any{
		"name": "Dr. Paddy", "email": "paddy@kvk.in", "role": "expert", "specializations": []string{"Rice"},
	})
	assert.Equal(t, []string{"Rice leaves yellow"}, poolTitles(cropOnlyTok))

	mixedTok, _ := env.register(map[string]any{
		"name": "Dr. Mixed", "email": "mixed@kvk.in", "role": "expert", "specializations": []string{"soil_health", "rice"},
	})
	assert.ElementsMatch(t, []string{"Rice leaves yellow", "Soil is too salty"}, poolTitles(mixedTok))

	bare := domain.User{Name: "Dr. None", Email: "none@kvk.in", PasswordHash: "x", Role: domain.RoleExpert, Available: true}
	require.NoError(t, env.store.CreateUser(context.Background(), &bare))
	bareTok, _, err := env.issuer.Issue(bare)
	require.NoError(t, err)
	assert.Empty(t, poolTitles(bareTok), "no specializations means no pool")

	// pending consultations are readable only from the matching pool
	rec, e := env.do(http.MethodGet, rice, cropOnlyTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Rice leaves yellow", decodeData[domain.Consultation](t, e).Title)
	rec, _ = env.do(http.MethodGet, market, cropOnlyTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = env.do(http.MethodGet, rice, bareTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestForumEndpoints(t *testing.T) {
	env := newTestEnv(t)
	adminTok := env.admin()
	authorTok, _ := env.register(map[string]any{"name": "Ravi", "email": "ravi@example.in"})
	readerTok, _ := env.register(map[string]any{"name": "Meena", "email": "meena@example.in"})

	rec, e := env.do(http.MethodPost, "/api/forum/posts", authorTok, map[string]any{
		"title": "Best wheat variety for late sowing?", "body": "Sowing after 15 Dec", "category": "crops", "tags": []string{"Wheat", "wheat", "sowing"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	post := decodeData[domain.ForumPost](t, e)
	assert.Equal(t, []string{"wheat", "sowing"}, post.Tags)
	assert.Equal(t, "Ravi", post.AuthorName)
	base := fmt.Sprintf("/api/forum/posts/%d", post.ID)

	rec, _ = env.do(http.MethodPost, "/api/forum/posts", "", map[string]any{"title": "anon post", "body": "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	for i := 0; i < 2; i++ {
		rec, e = env.do(http.MethodPost, base+"/like", readerTok, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.JSONEq(t, fmt.Sprintf(`{"postId":%d,"liked":true,"likes":1}`, post.ID), string(e.Data))

	rec, _ = env.do(http.MethodPost, base+"/replies", readerTok, map[string]any{"body": "Try HD 3059"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, e = env.do(http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeData[domain.ForumPost](t, e)
	assert.Equal(t, 1, got.ReplyCount)
	require.Len(t, got.Replies, 1)
	assert.Equal(t, "Meena", got.Replies[0].AuthorName)

	rec, e = env.do(http.MethodGet, "/api/forum/posts?tag=wheat&sort=popular", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeData[domain.Page[domain.ForumPost]](t, e).Total)

	rec, _ = env.do(http.MethodDelete, base+"/like", readerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(http.MethodDelete, base, readerTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = env.do(http.MethodDelete, base, adminTok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = env.do(http.MethodGet, base, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarketplacePurchase(t *testing.T) {
	env := newTestEnv(t)
	adminTok := env.admin()
	sellerTok, _ := env.register(map[string]any{"name": "Harpreet", "email": "harpreet@example.in", "state": "Punjab"})
	buyerTok, _ := env.register(map[string]any{"name": "Anil", "email": "anil@example.in"})

	rec, e := env.do(http.MethodPost, "/api/market/listings", sellerTok, map[string]any{
		"crop": "Wheat", "quantity": 10, "unit": "quintal", "pricePerUnit": 227500, "state": "Punjab", "mandi": "Khanna",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	listing := decodeData[domain.Listing](t, e)
	assert.Equal(t, "wheat", listing.Crop)
	base := fmt.Sprintf("/api/market/listings/%d", listing.ID)

	rec, _ = env.do(http.MethodPost, base+"/purchase", sellerTok, map[string]any{"quantity": 1})
	assert.Equal(t, http.StatusForbidden, rec.Code, "sellers cannot buy their own produce")
	rec, _ = env.do(http.MethodPost, base+"/purchase", buyerTok, map[string]any{"quantity": 11})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, e = env.do(http.MethodPost, base+"/purchase", buyerTok, map[string]any{"quantity": 4})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decodeData[domain.Order](t, e)
	assert.Equal(t, domain.OrderPending, order.Status)
	assert.Equal(t, int64(910000), order.Amount)
	assert.Contains(t, order.PaymentRef, "sim_")

	rec, _ = env.do(http.MethodPost, base+"/purchase", buyerTok, map[string]any{"quantity": 1})
	assert.Equal(t, http.StatusConflict, rec.Code, "listing is reserved")
	rec, _ = env.do(http.MethodPut, base, sellerTok, map[string]any{"pricePerUnit": 230000})
	assert.Equal(t, http.StatusConflict, rec.Code)

	confirm := fmt.Sprintf("/api/market/orders/%d/confirm", order.ID)
	rec, _ = env.do(http.MethodPost, confirm, sellerTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, e = env.do(http.MethodPost, confirm, buyerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.OrderPaid, decodeData[domain.Order](t, e).Status)
	rec, _ = env.do(http.MethodPost, confirm, buyerTok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, e = env.do(http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listing = decodeData[domain.Listing](t, e)
	assert.Equal(t, domain.ListingActive, listing.Status)
	assert.Equal(t, 6.0, listing.Quantity)

	rec, e = env.do(http.MethodGet, "/api/market/orders", sellerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]domain.Order](t, e), 1)

	env.srv.Wait()
	rec, e = env.do(http.MethodGet, "/api/activity?entity=order", adminTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var actions []string
	for _, a := range decodeData[[]domain.Activity](t, e) {
		actions = append(actions, a.Action)
	}
	assert.ElementsMatch(t, []string{"reserved", "payment", "seller_notified", "receipt"}, actions)

	rec, e = env.do(http.MethodDelete, base, sellerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ListingWithdrawn, decodeData[domain.Listing](t, e).Status)

	rec, e = env.do(http.MethodGet, "/api/market/listings?crop=wheat", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decodeData[domain.Page[domain.Listing]](t, e).Total)
}

// cancelAfterIntent creates the intent, then cancels the request context
type cancelAfterIntent struct {
	payments.Gateway
	cancel context.CancelFunc
}

func (g cancelAfterIntent) CreateIntent(ctx context.Context, in payments.Intent) (payments.PaymentRef, error) {
	ref, err := g.Gateway.CreateIntent(ctx, in)
	g.cancel()
	return ref, err
}

func TestMarketplacePurchase_ReleasesListingWhenRefNotSaved(t *testing.T) {
	env := newTestEnv(t)
	sellerTok, _ := env.register(map[string]any{"name": "Jaswant", "email": "jaswant@example.in"})
	buyerTok, buyer := env.register(map[string]any{"name": "Lakshmi", "email": "lakshmi@example.in"})

	rec, e := env.do(http.MethodPost, "/api/market/listings", sellerTok, map[string]any{
		"crop": "mustard", "quantity": 10, "unit": "quintal", "pricePerUnit": 560000, "state": "Rajasthan",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	listing := decodeData[domain.Listing](t, e)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.srv.payments = cancelAfterIntent{Gateway: env.srv.payments, cancel: cancel}

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/market/listings/%d/purchase", listing.ID),
		strings.NewReader(`{"quantity":2}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+buyerTok)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusCreated, rec.Code)

	got, err := env.store.GetListing(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingActive, got.Status)
	assert.Equal(t, 10.0, got.Quantity)

	orders, err := env.store.ListOrders(context.Background(), buyer.ID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderFailed, orders[0].Status)
}

func TestPricesAndTrends(t *testing.T) {
	env := newTestEnv(t)
	expertTok, _ := env.register(map[string]any{
		"name": "Analyst", "email": "analyst@kvk.in", "role": "expert", "specializations": []string{"market"},
	})
	farmerTok, _ := env.register(map[string]any{"name": "Kisan", "email": "kisan@example.in"})

	day := func(n int) string { return time.Now().UTC().AddDate(0, 0, -n).Format(time.DateOnly) }
	reports := []map[string]any{
		{"commodity": "Onion", "mandi": "Lasalgaon", "state": "Maharashtra", "date": day(3), "minPrice": 1200, "maxPrice": 1600, "modalPrice": 1400},
		{"commodity": "onion", "mandi": "Lasalgaon", "state": "Maharashtra", "date": day(1), "minPrice": 1300, "maxPrice": 1800, "modalPrice": 1610},
		{"commodity": "onion", "mandi": "Pimpalgaon", "state": "Maharashtra", "date": day(2), "minPrice": 1300, "maxPrice": 1500, "modalPrice": 1450},
		{"commodity": "onion", "mandi": "Pimpalgaon", "state": "Maharashtra", "date": day(90), "minPrice": 500, "maxPrice": 900, "modalPrice": 700},
	}
	for _, p := range reports {
		rec, _ := env.do(http.MethodPost, "/api/market/prices", expertTok, p)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec, _ := env.do(http.MethodPost, "/api/market/prices", farmerTok, reports[0])
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, e := env.do(http.MethodPost, "/api/market/prices", expertTok, map[string]any{
		"commodity": "onion", "mandi": "Lasalgaon", "minPrice": 1500, "maxPrice": 1400, "modalPrice": 1450,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, e.Fields, "modalPrice")

	rec, e = env.do(http.MethodGet, "/api/market/prices?commodity=onion&mandi=lasalgaon", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeData[domain.Page[domain.PriceRecord]](t, e).Total)

	rec, _ = env.do(http.MethodGet, "/api/market/trends", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, e = env.do(http.MethodGet, "/api/market/trends?commodity=onion", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeData[struct {
		Trends []domain.MandiTrend `json:"trends"`
	}](t, e)
	require.Len(t, out.Trends, 2)
	assert.Equal(t, "Lasalgaon", out.Trends[0].Mandi)
	assert.Equal(t, domain.TrendUp, out.Trends[0].Direction)
	assert.Equal(t, 15.0, out.Trends[0].ChangePct)
	assert.Equal(t, 1, out.Trends[1].Samples, "reports older than the window are ignored")
}

func TestSchemesAndCrops(t *testing.T) {
	env := newTestEnv(t)
	adminTok := env.admin()

	rec, e := env.do(http.MethodGet, "/api/schemes?state=Odisha&limit=100", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeData[domain.Page[domain.Scheme]](t, e)
	var slugs []string
	for _, sc := range page.Items {
		slugs = append(slugs, sc.Slug)
	}
	assert.Contains(t, slugs, "kalia")
	assert.Contains(t, slugs, "pm-kisan")
	assert.NotContains(t, slugs, "rythu-bandhu")

	rec, _ = env.do(http.MethodGet, "/api/schemes?category=lottery", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, e = env.do(http.MethodGet, "/api/schemes/pmfby", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "insurance", decodeData[domain.Scheme](t, e).Category)

	rec, _ = env.do(http.MethodPut, "/api/schemes/state-drip-subsidy", adminTok, map[string]any{
		"name": "State Drip Subsidy", "category": "irrigation", "states": []string{"Gujarat"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = env.do(http.MethodGet, "/api/schemes/state-drip-subsidy", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, e = env.do(http.MethodGet, "/api/crops?season=rabi", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, c := range decodeData[[]domain.Crop](t, e) {
		assert.Contains(t, c.Seasons, "rabi")
	}

	rec, _ = env.do(http.MethodGet, "/api/crops/WHEAT", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = env.do(http.MethodGet, "/api/crops/dragonfruit", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, e = env.do(http.MethodPost, "/api/crops/recommend", "", map[string]any{
		"soil": "Alluvial", "season": "kharif", "avgTempC": 29, "rainfallMM": 1400, "limit": 3,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	recs := decodeData[struct {
		Recommendations []domain.CropRecommendation `json:"recommendations"`
	}](t, e).Recommendations
	require.NotEmpty(t, recs)
	assert.LessOrEqual(t, len(recs), 3)
	assert.Equal(t, "rice", recs[0].Crop.Name)

	rec, e = env.do(http.MethodPost, "/api/crops/recommend", "", map[string]any{"soil": "moon", "season": "monsoon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, e.Fields, "soil")
	assert.Contains(t, e.Fields, "season")
}

func TestWeatherEndpoints(t *testing.T) {
	env := newTestEnv(t)
	farmerTok, _ := env.register(map[string]any{
		"name": "Lakshmi", "email": "lakshmi@example.in", "state": "Bihar", "district": "Patna", "crops": []string{"rice"},
	})
	env.weather.reading = domain.WeatherReading{Location: "Patna", TempC: 27, Humidity: 92, RainMM: 4, WindKmh: 12, ObservedAt: time.Now().UTC()}

	rec, e := env.do(http.MethodGet, "/api/weather/current?lat=25.59&lon=85.13", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	current := decodeData[struct {
		Reading domain.WeatherReading `json:"reading"`
		Risks   domain.RiskAssessment `json:"risks"`
	}](t, e)
	assert.Equal(t, "Patna", current.Reading.Location)
	assert.Equal(t, domain.RiskHigh, current.Risks.Level)
	assert.Equal(t, weather.Query{Lat: 25.59, Lon: 85.13}, env.weather.queries[0])

	rec, e = env.do(http.MethodGet, "/api/weather/alerts", farmerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	alerts := decodeData[struct {
		Alerts []domain.CropAlert `json:"alerts"`
	}](t, e).Alerts
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.HazardFungal, alerts[0].Hazard)
	assert.Equal(t, "Patna,Bihar,IN", env.weather.queries[1].Place)

	rec, e = env.do(http.MethodGet, "/api/weather/alerts/history?unacknowledged=true", farmerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeData[[]domain.CropAlert](t, e)
	require.Len(t, history, 1)

	rec, _ = env.do(http.MethodPost, fmt.Sprintf("/api/weather/alerts/%d/ack", history[0].ID), farmerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, e = env.do(http.MethodGet, "/api/weather/alerts/history?unacknowledged=true", farmerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeData[[]domain.CropAlert](t, e))

	env.weather.err = weather.ErrNotConfigured
	rec, _ = env.do(http.MethodGet, "/api/weather/current?place=Pune", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	env.weather.err = &weather.StatusError{Code: 500, Body: "boom"}
	rec, _ = env.do(http.MethodGet, "/api/weather/current?place=Pune", "", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{RPS: 0.5, Burst: 2}
	})

	for i := 0; i < 2; i++ {
		rec, _ := env.do(http.MethodGet, "/api/schemes", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, e := env.do(http.MethodGet, "/api/schemes", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.False(t, e.Success)

	rec, _ = env.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health checks are not rate limited")
}
