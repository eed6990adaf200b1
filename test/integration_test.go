package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workbridge-hq/hr-portal/internal/handler"
	"github.com/workbridge-hq/hr-portal/internal/repository"
	"github.com/workbridge-hq/hr-portal/internal/service"
	"github.com/workbridge-hq/hr-portal/internal/session"
	"github.com/workbridge-hq/hr-portal/pkg/password"
	"github.com/workbridge-hq/hr-portal/pkg/totp"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

// memUserStore is the in-memory credential store backing the HTTP stack under
// test. Same conditional-update semantics as the SQL repository.
type memUserStore struct {
	mu    sync.Mutex
	users map[string]*repository.User
}

func newMemUserStore(users ...*repository.User) *memUserStore {
	s := &memUserStore{users: make(map[string]*repository.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memUserStore) GetByUsername(_ context.Context, username string) (*repository.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memUserStore) GetByID(_ context.Context, id string) (*repository.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func (s *memUserStore) RecordLoginFailure(_ context.Context, id string, threshold int, lockFor time.Duration) (int, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return 0, nil, repository.ErrNotFound
	}
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= threshold {
		until := time.Now().Add(lockFor)
		u.LockedUntil = &until
	}
	return u.FailedLoginAttempts, u.LockedUntil, nil
}

func (s *memUserStore) ResetLoginFailures(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
	}
	return nil
}

func (s *memUserStore) UpdateLastLogin(_ context.Context, id, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		now := time.Now()
		u.LastLoginAt = &now
		u.LastLoginIP = &ip
	}
	return nil
}

func (s *memUserStore) UpdatePassword(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.PasswordHash = &hash
		now := time.Now()
		u.PasswordChangedAt = &now
	}
	return nil
}

func (s *memUserStore) RehashPassword(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.PasswordHash = &hash
	}
	return nil
}

func (s *memUserStore) SetRememberTokenHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.RememberTokenHash = &hash
	}
	return nil
}

func (s *memUserStore) ClearRememberToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.RememberTokenHash = nil
	}
	return nil
}

func (s *memUserStore) EnableTwoFactor(_ context.Context, id, secret string, codeHashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.TwoFactorEnabled = true
		u.TwoFactorSecret = &secret
		u.TwoFactorRecoveryCodes = codeHashes
	}
	return nil
}

func (s *memUserStore) DisableTwoFactor(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.TwoFactorEnabled = false
		u.TwoFactorSecret = nil
		u.TwoFactorRecoveryCodes = nil
		u.LastTOTPStep = nil
	}
	return nil
}

func (s *memUserStore) ConsumeRecoveryCode(_ context.Context, id, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	for i, h := range u.TwoFactorRecoveryCodes {
		if h == codeHash {
			u.TwoFactorRecoveryCodes = append(u.TwoFactorRecoveryCodes[:i], u.TwoFactorRecoveryCodes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *memUserStore) SetLastTOTPStep(_ context.Context, id string, step int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if u.LastTOTPStep != nil && *u.LastTOTPStep >= step {
		return false, nil
	}
	u.LastTOTPStep = &step
	return true, nil
}

// memAuditLog collects auth events and serves them back newest first.
type memAuditLog struct {
	mu     sync.Mutex
	events []repository.AuthEvent
}

func (a *memAuditLog) LogAuthEvent(_ context.Context, event repository.AuthEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	event.CreatedAt = time.Now()
	a.events = append(a.events, event)
}

func (a *memAuditLog) RecentEvents(_ context.Context, userID string, limit int) ([]repository.AuthEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]repository.AuthEvent, 0, limit)
	for i := len(a.events) - 1; i >= 0 && len(out) < limit; i-- {
		if a.events[i].UserID == userID {
			out = append(out, a.events[i])
		}
	}
	return out, nil
}

var fastHashParams = &password.Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func seedUser(t *testing.T, id, username, role, plain string) *repository.User {
	t.Helper()
	hash, err := password.Hash(plain, fastHashParams)
	require.NoError(t, err)
	changed := time.Now().Add(-24 * time.Hour)
	return &repository.User{
		ID:                id,
		Username:          username,
		Email:             username + "@example.com",
		Name:              "Integration User",
		Role:              role,
		Status:            repository.StatusActive,
		PasswordHash:      &hash,
		PasswordChangedAt: &changed,
	}
}

func startServer(t *testing.T, users ...*repository.User) *httptest.Server {
	t.Helper()

	log := zerolog.Nop()
	store := newMemUserStore(users...)

	sessions := session.NewManager(session.NewMemoryStore(), session.Config{
		CookieName:      "hr_session",
		IdleTimeout:     30 * time.Minute,
		AbsoluteTimeout: 12 * time.Hour,
	}, log)

	policy := service.Policy{
		LockoutThreshold: 5,
		LockoutDuration:  30 * time.Minute,
		AllowedRoles: []string{
			repository.RoleSuperAdmin, repository.RoleHR, repository.RoleHRAdmin,
			repository.RoleAdmin, repository.RoleAccounting, repository.RoleOperation,
			repository.RoleLogistics, repository.RoleDeveloper,
		},
		TwoFactorRoles: []string{
			repository.RoleSuperAdmin, repository.RoleHRAdmin,
			repository.RoleAdmin, repository.RoleDeveloper,
		},
		PendingAuthTTL:   5 * time.Minute,
		RememberTokenTTL: 7 * 24 * time.Hour,
		RoleHomes:        map[string]string{repository.RoleHR: "/hr", repository.RoleAdmin: "/admin"},
	}

	audit := &memAuditLog{}
	auth := service.NewAuthService(store, audit, policy, log)
	twoFactor := service.NewTwoFactorService(store, audit, "HR Portal", log)

	engine := gin.New()
	h := handler.NewHandler(auth, twoFactor, sessions, audit, false, "", policy.RememberTokenTTL, log)
	h.Register(engine)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func getJSON(t *testing.T, client *http.Client, url string) (int, map[string]any) {
	t.Helper()
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func postForm(t *testing.T, client *http.Client, url, csrf string, form url.Values) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func sessionCookie(t *testing.T, client *http.Client, serverURL string) *http.Cookie {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == "hr_session" {
			return c
		}
	}
	return nil
}

func TestHealthz(t *testing.T) {
	srv := startServer(t)
	client := newClient(t)

	code, body := getJSON(t, client, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestLoginRejectedWithoutCSRFToken(t *testing.T) {
	srv := startServer(t, seedUser(t, "u1", "alice", repository.RoleHR, "Secret123!"))
	client := newClient(t)

	// Establish a session first; the rejection must come from the token
	// check, not a missing session.
	code, _ := getJSON(t, client, srv.URL+"/login")
	require.Equal(t, http.StatusOK, code)

	form := url.Values{"username": {"alice"}, "password": {"Secret123!"}}

	code, body := postForm(t, client, srv.URL+"/login", "", form)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "csrf", body["kind"])

	code, body = postForm(t, client, srv.URL+"/login", "forged-token", form)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "csrf", body["kind"])
}

func TestLoginLogoutFlow(t *testing.T) {
	srv := startServer(t, seedUser(t, "u1", "alice", repository.RoleHR, "Secret123!"))
	client := newClient(t)

	code, body := getJSON(t, client, srv.URL+"/login")
	require.Equal(t, http.StatusOK, code)
	csrf, _ := body["csrf_token"].(string)
	require.NotEmpty(t, csrf)

	preLogin := sessionCookie(t, client, srv.URL)
	require.NotNil(t, preLogin)

	code, body = postForm(t, client, srv.URL+"/login", csrf, url.Values{
		"username": {"alice"},
		"password": {"Secret123!"},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "/hr", body["redirect"])

	// The session id rotates at login; the pre-login id must be dead.
	postLogin := sessionCookie(t, client, srv.URL)
	require.NotNil(t, postLogin)
	assert.NotEqual(t, preLogin.Value, postLogin.Value)

	fixation, err := http.NewRequest(http.MethodGet, srv.URL+"/me", nil)
	require.NoError(t, err)
	fixation.AddCookie(&http.Cookie{Name: "hr_session", Value: preLogin.Value})
	resp, err := http.DefaultClient.Do(fixation)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	code, body = getJSON(t, client, srv.URL+"/me")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, repository.RoleHR, body["role"])
	csrf, _ = body["csrf_token"].(string)
	require.NotEmpty(t, csrf)

	code, body = postForm(t, client, srv.URL+"/logout", csrf, url.Values{})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "/login", body["redirect"])

	code, _ = getJSON(t, client, srv.URL+"/me")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestLoginWrongPassword(t *testing.T) {
	srv := startServer(t, seedUser(t, "u1", "alice", repository.RoleHR, "Secret123!"))
	client := newClient(t)

	code, body := getJSON(t, client, srv.URL+"/login")
	require.Equal(t, http.StatusOK, code)
	csrf, _ := body["csrf_token"].(string)

	code, body = postForm(t, client, srv.URL+"/login", csrf, url.Values{
		"username": {"alice"},
		"password": {"wrong"},
	})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid_credentials", body["kind"])
	assert.Equal(t, "Invalid username or password.", body["message"])
}

func TestTwoFactorLoginFlow(t *testing.T) {
	user := seedUser(t, "u1", "bob", repository.RoleAdmin, "Secret123!")
	secret := "JBSWY3DPEHPK3PXP"
	user.TwoFactorEnabled = true
	user.TwoFactorSecret = &secret

	srv := startServer(t, user)
	client := newClient(t)

	code, body := getJSON(t, client, srv.URL+"/login")
	require.Equal(t, http.StatusOK, code)
	csrf, _ := body["csrf_token"].(string)

	anonymous := sessionCookie(t, client, srv.URL)
	require.NotNil(t, anonymous)

	code, body = postForm(t, client, srv.URL+"/login", csrf, url.Values{
		"username": {"bob"},
		"password": {"Secret123!"},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "require_2fa", body["kind"])

	// The correct password already rotated the session id; the pre-login
	// id must not reach the pending two-factor state.
	pending := sessionCookie(t, client, srv.URL)
	require.NotNil(t, pending)
	assert.NotEqual(t, anonymous.Value, pending.Value)

	fixated, err := http.NewRequest(http.MethodPost, srv.URL+"/login/two-factor", strings.NewReader(""))
	require.NoError(t, err)
	fixated.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	fixated.Header.Set("X-CSRF-Token", csrf)
	fixated.AddCookie(&http.Cookie{Name: "hr_session", Value: anonymous.Value})
	resp, err := http.DefaultClient.Do(fixated)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// A wrong code is refused with the generic message.
	code, body = postForm(t, client, srv.URL+"/login/two-factor", csrf, url.Values{
		"code": {"000000"},
	})
	if code == http.StatusOK {
		t.Fatal("six zeros happened to be the current code; rerun")
	}
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid verification code.", body["message"])

	totpCode, err := totp.CodeAt(secret, time.Now())
	require.NoError(t, err)
	code, body = postForm(t, client, srv.URL+"/login/two-factor", csrf, url.Values{
		"code": {totpCode},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "/admin", body["redirect"])

	code, body = getJSON(t, client, srv.URL+"/me")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "bob", body["username"])
}

func TestRememberMeAutoLogin(t *testing.T) {
	srv := startServer(t, seedUser(t, "u1", "alice", repository.RoleHR, "Secret123!"))
	client := newClient(t)

	code, body := getJSON(t, client, srv.URL+"/login")
	require.Equal(t, http.StatusOK, code)
	csrf, _ := body["csrf_token"].(string)

	code, _ = postForm(t, client, srv.URL+"/login", csrf, url.Values{
		"username":    {"alice"},
		"password":    {"Secret123!"},
		"remember_me": {"true"},
	})
	require.Equal(t, http.StatusOK, code)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	var rememberValue string
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == "remember_token" {
			rememberValue = c.Value
		}
	}
	require.NotEmpty(t, rememberValue, "login with remember_me should set a remember cookie")

	// A fresh browser with only the remember cookie signs straight in.
	fresh := newClient(t)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/login", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "remember_token", Value: rememberValue})

	resp, err := fresh.Do(req)
	require.NoError(t, err)
	var autoBody map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&autoBody))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/hr", autoBody["redirect"])

	fresh.Jar.SetCookies(u, resp.Cookies())
	code, body = getJSON(t, fresh, srv.URL+"/me")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice", body["username"])

	// A tampered remember cookie grants nothing and gets cleared.
	forged := newClient(t)
	req, err = http.NewRequest(http.MethodGet, srv.URL+"/login", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "remember_token", Value: "u1|forged"})

	resp, err = forged.Do(req)
	require.NoError(t, err)
	var forgedBody map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&forgedBody))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, forgedBody["redirect"])
	assert.NotEmpty(t, forgedBody["csrf_token"])
}

func TestMeRequiresAuthentication(t *testing.T) {
	srv := startServer(t)
	client := newClient(t)

	code, body := getJSON(t, client, srv.URL+"/me")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "auth", body["kind"])
}

func TestRecentActivityListsAuthEvents(t *testing.T) {
	srv := startServer(t, seedUser(t, "u1", "alice", repository.RoleHR, "Secret123!"))
	client := newClient(t)

	code, body := getJSON(t, client, srv.URL+"/login")
	require.Equal(t, http.StatusOK, code)
	csrf, _ := body["csrf_token"].(string)

	// One failed attempt, then a successful login.
	code, _ = postForm(t, client, srv.URL+"/login", csrf, url.Values{
		"username": {"alice"},
		"password": {"wrong"},
	})
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = postForm(t, client, srv.URL+"/login", csrf, url.Values{
		"username": {"alice"},
		"password": {"Secret123!"},
	})
	require.Equal(t, http.StatusOK, code)

	code, body = getJSON(t, client, srv.URL+"/me/activity")
	require.Equal(t, http.StatusOK, code)
	events, ok := body["events"].([]any)
	require.True(t, ok)
	require.Len(t, events, 2)

	// Newest first: the success, then the wrong-password failure.
	first, _ := events[0].(map[string]any)
	second, _ := events[1].(map[string]any)
	assert.Equal(t, repository.EventLoginSuccess, first["event"])
	assert.Equal(t, true, first["success"])
	assert.Equal(t, repository.EventLoginFailure, second["event"])
	assert.Equal(t, false, second["success"])

	// The history is private to a session.
	fresh := newClient(t)
	code, _ = getJSON(t, fresh, srv.URL+"/me/activity")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestTwoFactorEnrollmentOverHTTP(t *testing.T) {
	srv := startServer(t, seedUser(t, "u1", "dana", repository.RoleHR, "Secret123!"))
	client := newClient(t)

	code, body := getJSON(t, client, srv.URL+"/login")
	require.Equal(t, http.StatusOK, code)
	csrf, _ := body["csrf_token"].(string)

	code, _ = postForm(t, client, srv.URL+"/login", csrf, url.Values{
		"username": {"dana"},
		"password": {"Secret123!"},
	})
	require.Equal(t, http.StatusOK, code)

	code, body = getJSON(t, client, srv.URL+"/me")
	require.Equal(t, http.StatusOK, code)
	csrf, _ = body["csrf_token"].(string)

	code, body = postForm(t, client, srv.URL+"/profile/two-factor/enroll", csrf, url.Values{})
	require.Equal(t, http.StatusOK, code)
	secret, _ := body["secret"].(string)
	require.NotEmpty(t, secret)
	assert.Contains(t, body["otpauth_uri"], "otpauth://totp/")

	totpCode, err := totp.CodeAt(secret, time.Now())
	require.NoError(t, err)
	code, body = postForm(t, client, srv.URL+"/profile/two-factor/confirm", csrf, url.Values{
		"secret": {secret},
		"code":   {totpCode},
	})
	require.Equal(t, http.StatusOK, code)
	codes, ok := body["recovery_codes"].([]any)
	require.True(t, ok)
	assert.Len(t, codes, totp.RecoveryCodeCount)

	code, _ = postForm(t, client, srv.URL+"/profile/two-factor/disable", csrf, url.Values{
		"password": {"wrong"},
	})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = postForm(t, client, srv.URL+"/profile/two-factor/disable", csrf, url.Values{
		"password": {"Secret123!"},
	})
	assert.Equal(t, http.StatusOK, code)
}
