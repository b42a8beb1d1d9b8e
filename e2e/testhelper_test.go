package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/auth"
	"github.com/makeasinger/studio/internal/billing"
	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/handler"
	"github.com/makeasinger/studio/internal/middleware"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/orchestrator"
	"github.com/makeasinger/studio/internal/service"
	"github.com/makeasinger/studio/internal/store"
	ws "github.com/makeasinger/studio/internal/websocket"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testUserID    = "test-user-123"
)

// testApp holds all components needed for testing
type testApp struct {
	app      *fiber.App
	provider *fakeProvider
	kv       *store.MemoryKV
}

// fakeProvider serves the image and video job APIs. Image jobs complete on
// their second status call; video jobs never leave processing.
type fakeProvider struct {
	srv     *httptest.Server
	seq     atomic.Int64
	mu      sync.Mutex
	polls   map[string]int
	submits map[string]int
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{polls: map[string]int{}, submits: map[string]int{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/image/submit", p.submit("img"))
	mux.HandleFunc("/video/submit", p.submit("vid"))
	mux.HandleFunc("/image/status", func(w http.ResponseWriter, r *http.Request) {
		taskID := r.URL.Query().Get("taskId")
		p.mu.Lock()
		p.polls[taskID]++
		n := p.polls[taskID]
		p.mu.Unlock()

		if n < 2 {
			writeJSON(w, map[string]interface{}{"status": "processing", "progress": 40})
			return
		}
		writeJSON(w, map[string]interface{}{
			"status": "completed",
			"output": map[string]string{"assetUrl": p.srv.URL + "/assets/" + taskID + ".png"},
		})
	})
	mux.HandleFunc("/video/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"status": "processing"})
	})
	mux.HandleFunc("/assets/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
	})

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) submit(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.submits[prefix]++
		p.mu.Unlock()
		writeJSON(w, map[string]interface{}{
			"success": true,
			"taskId":  fmt.Sprintf("%s-%d", prefix, p.seq.Add(1)),
		})
	}
}

func (p *fakeProvider) submitCount(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits[prefix]
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// setupApp creates a Fiber app wired like main.go, with an in-memory session
// store, fake image and video providers and an unconfigured song provider
// and assistant. balance is the credit balance of every user.
func setupApp(t *testing.T, balance int) *testApp {
	t.Helper()

	log := zerolog.Nop()
	provider := newFakeProvider(t)
	kv := store.NewMemoryKV()
	t.Cleanup(func() { kv.Close() })

	validate := validator.New()
	hub := ws.NewHub(log)
	go hub.Run()
	t.Cleanup(hub.Stop)

	registry := client.NewRegistry(
		client.NewSunoClient(&config.SunoConfig{}, log), // no API key: submissions fail
		client.NewMediaClient(model.ProviderImage, &config.MediaProviderConfig{
			APIKey:     "test",
			BaseURL:    provider.srv.URL,
			SubmitPath: "/image/submit",
			StatusPath: "/image/status",
		}, log),
		client.NewMediaClient(model.ProviderVideo, &config.MediaProviderConfig{
			APIKey:     "test",
			BaseURL:    provider.srv.URL,
			SubmitPath: "/video/submit",
			StatusPath: "/video/status",
		}, log),
	)

	gate := billing.NewGate(billing.NewEstimatorFromConfig(&config.PricingConfig{
		SongBase:           10,
		SongWordThreshold:  200,
		SongWordsPerStep:   100,
		SongCreditsPerStep: 5,
		ImageFlat:          10,
		VideoFlat:          40,
	}), "https://example.com/credits", log)

	generationService := service.NewGenerationService(service.GenerationDeps{
		Snapshots: store.NewSnapshotStore(kv, "test", time.Hour, time.Minute, log),
		Providers: registry,
		Gate:      gate,
		Credits:   service.StaticCreditsSource(balance),
		Prober:    client.NewHTTPProber(time.Second, log),
		Config: orchestrator.Config{
			PollInterval:     20 * time.Millisecond,
			Timeout:          5 * time.Second,
			Cooldown:         20 * time.Millisecond,
			FailureSkipDelay: 20 * time.Millisecond,
			ExpectedDuration: time.Second,
		},
		Publisher: hub,
		Log:       log,
	})
	t.Cleanup(generationService.Close)

	groqClient := client.NewGroqClient(&config.GroqConfig{}, log) // no API key: mock replies
	assistantService := service.NewAssistantService(groqClient, generationService, log)

	verifier := auth.NewSessionVerifier(nil, testJWTSecret)
	authMiddleware := middleware.NewAuthMiddleware(verifier)

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	// Use very high rate limits so tests don't get blocked
	handler.Mount(app, handler.Routes{
		Health: handler.NewHealthHandler(registry.Configured, map[string]bool{
			"redis":     false,
			"assistant": false,
			"credits":   false,
			"archive":   false,
			"auth":      true,
		}),
		Auth:            handler.NewAuthHandler(verifier),
		Generation:      handler.NewGenerationHandler(generationService, validate, "https://example.com/credits"),
		Assistant:       handler.NewAssistantHandler(assistantService, validate, "https://example.com/credits"),
		Socket:          handler.NewSocketHandler(hub, generationService),
		APIAuth:         authMiddleware.Authenticate(),
		SocketAuth:      authMiddleware.AuthenticateSocket(),
		Limiter:         middleware.NewRateLimiter(kv, log),
		GeneratePerHour: 10000,
		AssistantPerMin: 10000,
	})

	return &testApp{app: app, provider: provider, kv: kv}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	signed, err := auth.IssueLegacyToken(testJWTSecret, userID, userID+"@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs a request authenticated as testUserID.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doUserRequest(t, app, testUserID, method, path, body)
}

func doUserRequest(t *testing.T, app *fiber.App, userID, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t, userID)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// parseState parses a generation state response.
func parseState(t *testing.T, resp *http.Response) model.GenerationStateResponse {
	t.Helper()
	body := readBody(t, resp)
	var result model.GenerationStateResponse
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse state: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode extracts error.code from an error envelope.
func errorCode(body map[string]interface{}) string {
	e, ok := body["error"].(map[string]interface{})
	if !ok {
		return ""
	}
	code, _ := e["code"].(string)
	return code
}

// waitForStatus polls GET /api/generation/status until cond holds.
func waitForStatus(t *testing.T, ta *testApp, userID string, cond func(model.GenerationStateResponse) bool) model.GenerationStateResponse {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last model.GenerationStateResponse
	for time.Now().Before(deadline) {
		resp, err := doUserRequest(t, ta.app, userID, http.MethodGet, "/api/generation/status", "")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		last = parseState(t, resp)
		if cond(last) {
			return last
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met, last state %+v", last)
	return last
}

func requestBody(kind model.ProviderKind, title string) string {
	return fmt.Sprintf(`{"providerKind":%q,"title":%q,"promptText":"neon skyline at dusk"}`, kind, title)
}

func startBody(items ...string) string {
	return `{"requests":[` + strings.Join(items, ",") + `]}`
}
