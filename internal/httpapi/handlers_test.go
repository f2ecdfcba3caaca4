package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice_gateway/internal/auth"
	"voice_gateway/internal/config"
	"voice_gateway/internal/denial"
	"voice_gateway/internal/device"
	"voice_gateway/internal/metrics"
	"voice_gateway/internal/models"
	"voice_gateway/internal/quota"
	"voice_gateway/internal/relay"
	"voice_gateway/internal/storage"
	"voice_gateway/internal/synthesis"
	"voice_gateway/internal/utils"
)

type fakeVoice struct {
	out   *synthesis.Output
	err   error
	auth  *relay.AuthResult
	last  relay.Request
	delay time.Duration
}

func (f *fakeVoice) Synthesize(ctx context.Context, req relay.Request) (*synthesis.Output, error) {
	f.last = req
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.out, f.err
}

func (f *fakeVoice) Authenticate(ctx context.Context, token, deviceID string) (*relay.AuthResult, error) {
	f.last = relay.Request{Token: token, DeviceID: deviceID}
	return f.auth, f.err
}

type memUsers struct {
	mu     sync.Mutex
	users  map[int64]*models.User
	nextID int64
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[int64]*models.User{}, nextID: 1}
}

func (m *memUsers) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, storage.ErrUserNotFound
}

func (m *memUsers) GetByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *memUsers) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username {
			return storage.ErrDuplicate
		}
	}
	user.ID = m.nextID
	user.CreatedAt = time.Now()
	m.nextID++
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *memUsers) List(ctx context.Context) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.User
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *memUsers) SetActive(ctx context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return storage.ErrUserNotFound
	}
	u.IsActive = active
	return nil
}

func (m *memUsers) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return storage.ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (m *memUsers) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return storage.ErrUserNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memUsers) add(t *testing.T, username, password, role string, active bool) *models.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	user := &models.User{Username: username, Email: username + "@example.com", PasswordHash: hash, Role: role, IsActive: active}
	require.NoError(t, m.Create(context.Background(), user))
	return user
}

type memCredentials struct {
	mu      sync.Mutex
	creds   []*models.Credential
	updated *models.Credential
}

func (m *memCredentials) Create(ctx context.Context, cred *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.creds {
		if c.TokenHash == cred.TokenHash {
			return storage.ErrDuplicate
		}
	}
	cred.ID = int64(len(m.creds) + 1)
	cred.CreatedAt = time.Now()
	copied := *cred
	m.creds = append(m.creds, &copied)
	return nil
}

func (m *memCredentials) find(id int64) *models.Credential {
	for _, c := range m.creds {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (m *memCredentials) Update(ctx context.Context, cred *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.find(cred.ID) == nil {
		return storage.ErrCredentialNotFound
	}
	m.updated = cred
	return nil
}

func (m *memCredentials) Toggle(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.find(id)
	if c == nil {
		return false, storage.ErrCredentialNotFound
	}
	c.IsActive = !c.IsActive
	return c.IsActive, nil
}

func (m *memCredentials) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.creds {
		if c.ID == id {
			m.creds = append(m.creds[:i], m.creds[i+1:]...)
			return nil
		}
	}
	return storage.ErrCredentialNotFound
}

func (m *memCredentials) List(ctx context.Context, now time.Time) ([]*models.CredentialSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CredentialSummary
	for _, c := range m.creds {
		s := &models.CredentialSummary{DailyUsage: 2}
		s.Credential = *c
		s.OwnerUsername = "bob"
		out = append(out, s)
	}
	return out, nil
}

type memUpstreamKeys struct {
	keys []*models.UpstreamKeySummary
}

func (m *memUpstreamKeys) List(ctx context.Context, now time.Time) ([]*models.UpstreamKeySummary, error) {
	return m.keys, nil
}

func (m *memUpstreamKeys) Create(ctx context.Context, key *models.UpstreamKey) error {
	for _, k := range m.keys {
		if k.Secret == key.Secret {
			return storage.ErrDuplicate
		}
	}
	key.ID = int64(len(m.keys) + 1)
	m.keys = append(m.keys, &models.UpstreamKeySummary{UpstreamKey: *key})
	return nil
}

func (m *memUpstreamKeys) Delete(ctx context.Context, id int64) error {
	for i, k := range m.keys {
		if k.ID == id {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			return nil
		}
	}
	return storage.ErrUpstreamKeyNotFound
}

func (m *memUpstreamKeys) Toggle(ctx context.Context, id int64) (bool, error) {
	for _, k := range m.keys {
		if k.ID == id {
			k.IsActive = !k.IsActive
			return k.IsActive, nil
		}
	}
	return false, storage.ErrUpstreamKeyNotFound
}

type memUsageLogs struct {
	logs   []*models.UsageLogView
	cutoff time.Time
	purged int64
}

func (m *memUsageLogs) List(ctx context.Context, limit int) ([]*models.UsageLogView, error) {
	return m.logs, nil
}

func (m *memUsageLogs) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.cutoff = cutoff
	return m.purged, nil
}

type fakeClients struct {
	invalidated []int64
}

func (f *fakeClients) Invalidate(id int64) {
	f.invalidated = append(f.invalidated, id)
}

type testEnv struct {
	handler   http.Handler
	api       *API
	cfg       *config.Config
	voice     *fakeVoice
	users     *memUsers
	creds     *memCredentials
	upstream  *memUpstreamKeys
	usage     *memUsageLogs
	clients   *fakeClients
	artifacts *synthesis.ArtifactStore
	admin     *models.User
	now       time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	artifacts, err := synthesis.NewArtifactStore(filepath.Join(t.TempDir(), "outputs"))
	require.NoError(t, err)

	env := &testEnv{
		cfg:       &config.Config{JWTSecret: []byte("test-secret"), JWTTTL: time.Hour, AppVersion: "1.2.3"},
		voice:     &fakeVoice{},
		users:     newMemUsers(),
		creds:     &memCredentials{},
		upstream:  &memUpstreamKeys{},
		usage:     &memUsageLogs{},
		clients:   &fakeClients{},
		artifacts: artifacts,
		now:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	env.admin = env.users.add(t, "root", "rootpass", "admin", true)

	deps := &Dependencies{
		Voice:        env.voice,
		Artifacts:    artifacts,
		Users:        env.users,
		Credentials:  env.creds,
		UpstreamKeys: env.upstream,
		UsageLogs:    env.usage,
		Clients:      env.clients,
		Metrics:      metrics.NewNoopMetrics(),
	}

	env.api = &API{deps: deps, cfg: env.cfg, logger: utils.NewLogger("httpapi-test"), now: func() time.Time { return env.now }}
	mux := http.NewServeMux()
	env.api.registerRoutes(mux)
	env.handler = mux
	return env
}

func (e *testEnv) token(t *testing.T, user *models.User) string {
	t.Helper()
	token, _, err := auth.GenerateAdminJWT(user, e.cfg)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestCreateVoice(t *testing.T) {
	env := newTestEnv(t)
	env.voice.out = &synthesis.Output{
		RequestID:   uuid.New(),
		Filename:    "1700000000_abcd1234.mp3",
		Duration:    2.5,
		FileSize:    4096,
		DownloadURL: "/api/voice/download/1700000000_abcd1234.mp3",
		Attempts:    2,
	}

	w := env.do(t, http.MethodPost, "/api/voice/create", CreateVoiceRequest{Text: "xin chao", APIKey: "tok", DeviceID: "dev-1"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "1700000000_abcd1234.mp3", body["filename"])
	assert.Equal(t, 2.5, body["duration"])
	assert.Equal(t, float64(4096), body["file_size"])
	assert.Equal(t, "/api/voice/download/1700000000_abcd1234.mp3", body["download_url"])
	assert.NotContains(t, body, "attempts")

	assert.Equal(t, "tok", env.voice.last.Token)
	assert.Equal(t, "dev-1", env.voice.last.DeviceID)
	assert.Equal(t, "xin chao", env.voice.last.Text)
}

func TestCreateVoiceOutlivesServerWriteTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.voice.delay = 300 * time.Millisecond
	env.voice.out = &synthesis.Output{
		Filename:    "1700000000_abcd1234.mp3",
		Duration:    1.5,
		FileSize:    2048,
		DownloadURL: "/api/voice/download/1700000000_abcd1234.mp3",
	}

	// the job takes longer than the connection's write timeout, as a rotation past slow keys does
	srv := httptest.NewUnstartedServer(NewHandler(env.api.deps, env.cfg))
	srv.Config.WriteTimeout = 50 * time.Millisecond
	srv.Start()
	defer srv.Close()

	raw, err := json.Marshal(CreateVoiceRequest{Text: "xin chao", APIKey: "tok", DeviceID: "dev-1"})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/api/voice/create", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "1700000000_abcd1234.mp3", body["filename"])
}

func TestCreateVoiceRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/voice/create", strings.NewReader(`text=hi`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/voice/create", nil)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Request body is empty")

	w = env.do(t, http.MethodPost, "/api/voice/create", `{"text":`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/voice/create", CreateVoiceRequest{Text: "hi"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Missing text or api_key")

	w = env.do(t, http.MethodPost, "/api/voice/create", CreateVoiceRequest{Text: "   ", APIKey: "tok"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateVoiceMapsDenials(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "unknown key", err: denial.New(denial.NotFound), status: http.StatusUnauthorized, code: "not_found"},
		{name: "expired", err: denial.New(denial.Expired), status: http.StatusForbidden, code: "expired"},
		{name: "daily limit", err: denial.New(denial.DailyLimitExceeded), status: http.StatusForbidden, code: "daily_limit_exceeded"},
		{name: "device", err: denial.New(denial.DeviceMismatch), status: http.StatusForbidden, code: "device_mismatch"},
		{name: "busy", err: denial.New(denial.ServerBusy), status: http.StatusTooManyRequests, code: "server_busy"},
		{name: "no keys", err: denial.New(denial.NoKeysAvailable), status: http.StatusServiceUnavailable, code: "no_keys_available"},
		{name: "internal", err: errors.New("pq: connection reset by peer"), status: http.StatusInternalServerError, code: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.voice.err = tt.err

			w := env.do(t, http.MethodPost, "/api/voice/create", CreateVoiceRequest{Text: "hi", APIKey: "tok"}, "")
			assert.Equal(t, tt.status, w.Code)

			body := decodeBody(t, w)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.code, body["code"])
			assert.NotContains(t, w.Body.String(), "pq:")
		})
	}
}

func TestDownload(t *testing.T) {
	env := newTestEnv(t)
	name, _, err := env.artifacts.Save([]byte("ID3fake-mp3"), "mp3")
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/api/voice/download/"+name, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Equal(t, "ID3fake-mp3", w.Body.String())

	w = env.do(t, http.MethodGet, "/api/voice/download/1_deadbeef.mp3", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "File not found", decodeBody(t, w)["error"])

	w = env.do(t, http.MethodGet, "/api/voice/download/..secret", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListVoicesAndVersion(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/voice/list", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Len(t, body["voices"], 30)
	assert.Equal(t, "Found 30 available voices", body["message"])

	w = env.do(t, http.MethodGet, "/api/version.json", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, "1.2.3", body["version"])
	assert.Equal(t, false, body["update_available"])
}

func TestVoiceAuth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/voice/auth", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	expires := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	cred := &models.CredentialWithOwner{OwnerUsername: "bob", OwnerActive: true}
	cred.Name = "bob's key"
	cred.DailyLimit = 100
	cred.ExpiresAt = &expires
	env.voice.auth = &relay.AuthResult{
		Binding: &device.Binding{
			Credential:  cred,
			Fingerprint: "abcdefgh12345678X",
			Masked:      device.MaskFingerprint("abcdefgh12345678X"),
			LastLogin:   time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
			NewlyBound:  true,
		},
		Quota: &quota.Result{Credential: cred, RemainingDaily: 97},
	}

	w = env.do(t, http.MethodGet, "/api/voice/auth?key=tok&device_id=%20abcdefgh12345678X%20", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "abcdefgh12345678X", env.voice.last.DeviceID)

	var resp VoiceAuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "bob's key", resp.KeyName)
	assert.Equal(t, "bob", resp.User)
	assert.Equal(t, "31/12/2025", resp.Expires)
	assert.Equal(t, 97, resp.RemainingDaily)
	assert.Equal(t, 100, resp.DailyLimit)
	assert.Equal(t, "abcdefgh***2345678X", resp.DeviceMasked)
	assert.Equal(t, "01/06/2025 09:30", resp.LastLogin)
	assert.True(t, resp.NewlyBound)

	env.voice.err = denial.New(denial.FingerprintAlreadyBound)
	w = env.do(t, http.MethodGet, "/api/voice/auth?key=tok&device_id=other", nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "fingerprint_already_bound", decodeBody(t, w)["code"])
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.users.add(t, "ghost", "ghostpass", "user", false)

	w := env.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "root", Password: "rootpass"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	claims, err := auth.ValidateAdminJWT(resp.Token, env.cfg)
	require.NoError(t, err)
	assert.Equal(t, env.admin.ID, claims.UserID)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
	assert.Equal(t, "root", resp.User.Username)
	assert.NotContains(t, w.Body.String(), "password")

	tests := []struct {
		name string
		req  LoginRequest
	}{
		{name: "wrong password", req: LoginRequest{Username: "root", Password: "nope"}},
		{name: "unknown user", req: LoginRequest{Username: "nobody", Password: "x"}},
		{name: "inactive user", req: LoginRequest{Username: "ghost", Password: "ghostpass"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/auth/login", tt.req, "")
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	env := newTestEnv(t)
	legacy := &models.User{Username: "old", PasswordHash: utils.HashString("oldpass"), Role: "admin", IsActive: true}
	require.NoError(t, env.users.Create(context.Background(), legacy))

	w := env.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "old", Password: "oldpass"}, "")
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := env.users.GetByID(context.Background(), legacy.ID)
	require.NoError(t, err)
	assert.False(t, auth.NeedsRehash(stored.PasswordHash))
	assert.True(t, auth.CheckPassword(stored.PasswordHash, "oldpass"))
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	user := env.users.add(t, "bob", "bobpass", "user", true)

	w := env.do(t, http.MethodGet, "/api/admin/keys", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/admin/keys", nil, env.token(t, user))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/api/admin/keys", nil, env.token(t, env.admin))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.users.add(t, "bob", "bobpass", "user", true)
	token := env.token(t, env.admin)

	w := env.do(t, http.MethodPost, "/api/admin/keys", CreateAPIKeyRequest{KeyName: "k"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/admin/keys", CreateAPIKeyRequest{Username: "nobody"}, token)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/admin/keys", CreateAPIKeyRequest{Username: "bob", ExpiresDays: 30}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created APIKeyCreatedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.APIKey)

	stored := env.creds.creds[0]
	assert.Equal(t, auth.HashToken(created.APIKey), stored.TokenHash)
	assert.Equal(t, "Admin Created Key", stored.Name)
	assert.Equal(t, models.DefaultDailyLimit, stored.DailyLimit)
	assert.Equal(t, models.DefaultMonthlyLimit, stored.MonthlyLimit)
	require.NotNil(t, stored.ExpiresAt)
	assert.Equal(t, env.now.Add(30*24*time.Hour), *stored.ExpiresAt)

	w = env.do(t, http.MethodPost, "/api/admin/keys", CreateAPIKeyRequest{Username: "bob", CustomKey: "custom-key-123"}, token)
	require.Equal(t, http.StatusCreated, w.Code)
	w = env.do(t, http.MethodPost, "/api/admin/keys", CreateAPIKeyRequest{Username: "bob", CustomKey: "custom-key-123"}, token)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = env.do(t, http.MethodPost, "/api/admin/keys", CreateAPIKeyRequest{Username: "bob", CustomKey: "short"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodPost, "/api/admin/keys", CreateAPIKeyRequest{Username: "bob", ExpiresDays: 200000}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.Len(t, env.creds.creds, 2)

	w = env.do(t, http.MethodGet, "/api/admin/keys", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), created.APIKey)
	keys := decodeBody(t, w)["keys"].([]any)
	require.Len(t, keys, 2)
	first := keys[0].(map[string]any)
	assert.Equal(t, auth.TokenPrefix(created.APIKey), first["token_prefix"])
	assert.Equal(t, float64(models.DefaultDailyLimit-2), first["remaining_daily"])

	w = env.do(t, http.MethodPut, "/api/admin/keys/1", UpdateAPIKeyRequest{KeyName: "renamed", DailyLimit: utils.IntPtr(5), MonthlyLimit: utils.IntPtr(50)}, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "renamed", env.creds.updated.Name)
	assert.Nil(t, env.creds.updated.ExpiresAt)

	w = env.do(t, http.MethodPut, "/api/admin/keys/1", UpdateAPIKeyRequest{KeyName: "renamed", DailyLimit: utils.IntPtr(5), MonthlyLimit: utils.IntPtr(50), ExpiresDays: maxDays}, token)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, env.creds.updated.ExpiresAt)
	assert.Equal(t, env.now.AddDate(0, 0, maxDays), *env.creds.updated.ExpiresAt)
	assert.False(t, env.creds.updated.IsExpired(env.now))

	w = env.do(t, http.MethodPut, "/api/admin/keys/1", UpdateAPIKeyRequest{KeyName: "renamed", DailyLimit: utils.IntPtr(5), MonthlyLimit: utils.IntPtr(50), ExpiresDays: 200000}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/admin/keys/1", UpdateAPIKeyRequest{KeyName: "renamed"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodPut, "/api/admin/keys/42", UpdateAPIKeyRequest{KeyName: "x", DailyLimit: utils.IntPtr(1), MonthlyLimit: utils.IntPtr(1)}, token)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/admin/keys/1/toggle", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["is_active"])

	w = env.do(t, http.MethodDelete, "/api/admin/keys/1", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodDelete, "/api/admin/keys/1", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodDelete, "/api/admin/keys/abc", nil, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminUsers(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.admin)

	w := env.do(t, http.MethodPost, "/api/admin/users", CreateUserRequest{Username: "carol", Email: "c@example.com", Password: "pw"}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	carolID := int64(decodeBody(t, w)["user_id"].(float64))

	carol, err := env.users.GetByID(context.Background(), carolID)
	require.NoError(t, err)
	assert.Equal(t, "user", carol.Role)
	assert.True(t, auth.CheckPassword(carol.PasswordHash, "pw"))

	w = env.do(t, http.MethodPost, "/api/admin/users", CreateUserRequest{Username: "carol", Email: "c@example.com", Password: "pw"}, token)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = env.do(t, http.MethodPost, "/api/admin/users", CreateUserRequest{Username: "dave", Email: "d@example.com", Password: "pw", Role: "root"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodPost, "/api/admin/users", CreateUserRequest{Username: "erin"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/admin/users", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["users"], 2)
	assert.NotContains(t, w.Body.String(), "password")

	w = env.do(t, http.MethodPost, "/api/admin/users/2/toggle", map[string]any{}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodPost, "/api/admin/users/2/toggle", map[string]any{"is_active": false}, token)
	require.Equal(t, http.StatusOK, w.Code)
	carol, _ = env.users.GetByID(context.Background(), carolID)
	assert.False(t, carol.IsActive)

	w = env.do(t, http.MethodDelete, "/api/admin/users/1", nil, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Cannot delete admin users")

	w = env.do(t, http.MethodDelete, "/api/admin/users/2", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodDelete, "/api/admin/users/2", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminUpstreamKeys(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.admin)

	w := env.do(t, http.MethodPost, "/api/admin/gemini-keys", CreateUpstreamKeyRequest{}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/admin/gemini-keys", CreateUpstreamKeyRequest{APIKey: "AIzaSecretValue1234"}, token)
	require.Equal(t, http.StatusCreated, w.Code)
	w = env.do(t, http.MethodPost, "/api/admin/gemini-keys", CreateUpstreamKeyRequest{APIKey: "AIzaSecretValue1234"}, token)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodGet, "/api/admin/gemini-keys", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "AIzaSecretValue1234")
	keys := decodeBody(t, w)["keys"].([]any)
	require.Len(t, keys, 1)
	assert.Equal(t, "...1234", keys[0].(map[string]any)["api_key"])

	w = env.do(t, http.MethodPost, "/api/admin/gemini-keys/1/toggle", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{1}, env.clients.invalidated)

	w = env.do(t, http.MethodDelete, "/api/admin/gemini-keys/1", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{1, 1}, env.clients.invalidated)

	w = env.do(t, http.MethodDelete, "/api/admin/gemini-keys/1", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminUsageLogs(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.admin)
	env.usage.logs = []*models.UsageLogView{{
		UsageLogEntry: models.UsageLogEntry{ID: 7, TextLength: 11, VoiceName: "kore", IPAddress: "10.0.0.1", CreatedAt: env.now},
		TokenPrefix:   "abcdefgh",
		Username:      "bob",
	}}

	w := env.do(t, http.MethodGet, "/api/admin/usage-logs", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	logs := decodeBody(t, w)["logs"].([]any)
	require.Len(t, logs, 1)
	assert.Equal(t, "abcdefgh", logs[0].(map[string]any)["token_prefix"])

	w = env.do(t, http.MethodDelete, "/api/admin/usage-logs", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, env.now.Add(-30*24*time.Hour), env.usage.cutoff)
	assert.Equal(t, "No old usage logs found", decodeBody(t, w)["message"])

	env.usage.purged = 4
	w = env.do(t, http.MethodDelete, "/api/admin/usage-logs", map[string]any{"days_old": 7}, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, env.now.Add(-7*24*time.Hour), env.usage.cutoff)
	body := decodeBody(t, w)
	assert.Equal(t, float64(4), body["deleted_count"])
	assert.Equal(t, "Deleted 4 usage logs older than 7 days", body["message"])

	for _, bad := range []string{`{"days_old":0}`, `{"days_old":-3}`, `{"days_old":"ten"}`, `{"days_old":1.5}`, `{"days_old":200000}`} {
		w = env.do(t, http.MethodDelete, "/api/admin/usage-logs", bad, token)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
	assert.Equal(t, env.now.Add(-7*24*time.Hour), env.usage.cutoff)

	w = env.do(t, http.MethodDelete, "/api/admin/usage-logs", map[string]any{"days_old": maxDays}, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, env.now.AddDate(0, 0, -maxDays), env.usage.cutoff)
	assert.True(t, env.usage.cutoff.Before(env.now))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	env.api.deps.HealthChecks = []HealthCheck{
		{Name: "database", Check: func(context.Context) error { return nil }},
	}

	w := env.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])

	env.api.deps.HealthChecks = append(env.api.deps.HealthChecks, HealthCheck{
		Name:  "redis",
		Check: func(context.Context) error { return errors.New("dial tcp: connection refused") },
	})
	w = env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "ok", body["checks"].(map[string]any)["database"])
}

func TestNewHandlerAddsRequestID(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHandler(env.api.deps, env.cfg)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/voice/list", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestMain(m *testing.M) {
	utils.SetDefaultLogLevel(utils.Critical)
	os.Exit(m.Run())
}
