package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"modmarket/internal/config"
	"modmarket/internal/db"
	"modmarket/internal/engine"
	"modmarket/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	cfg.Server.JWTSecret = "test-secret"
	cfg.Server.AllowLegacyActorHeader = true
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth: AuthConfig{
			JWTSecret:              cfg.Server.JWTSecret,
			AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func registerUser(t *testing.T, srv *testServer, username, role string) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/users", map[string]any{
		"username": username,
		"role":     role,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register %s status %d: %s", username, res.StatusCode, string(data))
	}
	var u UserResponse
	if err := json.Unmarshal(data, &u); err != nil {
		t.Fatalf("unmarshal user: %v", err)
	}
	return u.ID
}

func asActor(id string) map[string]string {
	return map[string]string{"X-Actor-Id": id}
}

func TestModuleLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	commander := registerUser(t, srv, "cmdr", "commander")
	node := registerUser(t, srv, "worker", "node")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"name": "launch",
	}, asActor(commander))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}
	var project ProjectResponse
	_ = json.Unmarshal(data, &project)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/modules", map[string]any{
		"project_id": project.ID,
		"title":      "telemetry pipeline",
		"bounty":     80,
	}, asActor(commander))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create module status %d: %s", res.StatusCode, string(data))
	}
	var module ModuleResponse
	_ = json.Unmarshal(data, &module)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/modules/"+module.ID+"/claim", nil, asActor(node))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim status %d: %s", res.StatusCode, string(data))
	}
	var claimed ModuleResponse
	_ = json.Unmarshal(data, &claimed)
	if claimed.Status != "in_progress" || len(claimed.Assignees) != 1 {
		t.Fatalf("claimed module = %+v", claimed)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/modules/"+module.ID+"/deliveries", map[string]any{
		"content": "pipeline deployed, dashboards linked",
	}, asActor(node))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("deliver status %d: %s", res.StatusCode, string(data))
	}
	var delivery DeliveryResponse
	_ = json.Unmarshal(data, &delivery)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/deliveries/"+delivery.ID+"/review", map[string]any{
		"decision": "pass",
	}, asActor(commander))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("review status %d: %s", res.StatusCode, string(data))
	}
	var review ReviewResponse
	_ = json.Unmarshal(data, &review)
	if review.Allocations[node] != 80 {
		t.Fatalf("allocations = %+v, want full bounty to sole assignee", review.Allocations)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/modules/"+module.ID, nil, asActor(commander))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get module status %d: %s", res.StatusCode, string(data))
	}
	var final ModuleResponse
	_ = json.Unmarshal(data, &final)
	if final.Status != "completed" {
		t.Fatalf("module status = %s, want completed", final.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/leaderboard", nil, asActor(commander))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("leaderboard status %d: %s", res.StatusCode, string(data))
	}
	var board []UserResponse
	_ = json.Unmarshal(data, &board)
	if len(board) == 0 || board[0].ID != node || board[0].ReputationScore != 180 {
		t.Fatalf("leaderboard = %+v", board)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/notifications", nil, asActor(node))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("notifications status %d: %s", res.StatusCode, string(data))
	}
	var notes []NotificationResponse
	_ = json.Unmarshal(data, &notes)
	if len(notes) == 0 {
		t.Fatal("node never notified of the review outcome")
	}
}

func TestClaimConflictEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	commander := registerUser(t, srv, "boss", "commander")
	node := registerUser(t, srv, "dev", "node")

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{"name": "p"}, asActor(commander))
	var project ProjectResponse
	_ = json.Unmarshal(data, &project)
	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/modules", map[string]any{
		"project_id": project.ID,
		"title":      "m",
	}, asActor(commander))
	var module ModuleResponse
	_ = json.Unmarshal(data, &module)

	if res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/modules/"+module.ID+"/claim", nil, asActor(node)); res.StatusCode != http.StatusOK {
		t.Fatalf("first claim status %d: %s", res.StatusCode, string(body))
	}
	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/modules/"+module.ID+"/claim", nil, asActor(node))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second claim status %d: %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "already_assigned" {
		t.Fatalf("error code = %q, want already_assigned", envelope.Error.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v1/modules", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list status %d, want 401", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d, want 200", res.StatusCode)
	}
}

func TestDevLoginAndJWT(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	userID := registerUser(t, srv, "tokenuser", "node")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"user_id": userID,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("dev login body: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(data, &who)
	if who.UserID != userID || who.Username != "tokenuser" {
		t.Fatalf("whoami = %+v", who)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token status %d, want 401", res.StatusCode)
	}
}
