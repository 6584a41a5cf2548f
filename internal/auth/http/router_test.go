package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/attendgrid/sessiond/internal/auth/service"
	"github.com/attendgrid/sessiond/internal/auth/store/drivers/sqlite"
	"github.com/attendgrid/sessiond/pkg/cryptox"
	"github.com/attendgrid/sessiond/pkg/jwtx"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "sessiond-http-test")
	if err != nil {
		panic(err)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper"))

	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

type testNotifier struct {
	code string
}

func (n *testNotifier) SendChallengeCode(_ context.Context, _, _, code string) error {
	n.code = code
	return nil
}

type harness struct {
	server   *httptest.Server
	notifier *testNotifier
	users    *service.UserService
	store    *sqlite.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	codec, err := jwtx.NewCodec(
		[]byte("0123456789abcdef0123456789abcdef"),
		"sessiond", "attendgrid",
	)
	require.NoError(t, err)

	notifier := &testNotifier{}
	refresh := &service.RefreshService{
		Codec:      codec,
		Store:      st,
		AccessTTL:  jwtx.DefaultAccessTokenTTL,
		RefreshTTL: jwtx.DefaultRefreshTokenTTL,
	}
	twofactor := &service.TwoFactorService{Store: st, Notifier: notifier, Issuer: "AttendGrid"}
	gate := &service.SecurityGate{Store: st, RatePerMinute: 6000, RateBurst: 1000}
	users := &service.UserService{Store: st}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(codec, "test", st, logger)
	router.SessionService = &service.SessionService{
		Store:     st,
		Refresh:   refresh,
		TwoFactor: twofactor,
		Gate:      gate,
	}
	router.TwoFactorService = twofactor
	router.UserService = users
	router.Gate = gate
	router.ApplyRoutes()

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &harness{server: server, notifier: notifier, users: users, store: st}
}

func (h *harness) postJSON(t *testing.T, path, bearer string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))

	req, err := http.NewRequest(http.MethodPost, h.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (h *harness) register(t *testing.T, email, password string) {
	t.Helper()

	_, err := h.users.Register(context.Background(), email, "Test User", password, []string{"member"})
	require.NoError(t, err)
}

func (h *harness) login(t *testing.T, email, password string) tokenPairResponse {
	t.Helper()

	resp := h.postJSON(t, "/v1/session/login", "", loginRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[tokenPairResponse](t, resp)
}

func totpCode(t *testing.T, secret string) string {
	t.Helper()

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	return code
}

func TestLoginEndpoint(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice@example.test", "hunter2!")

	pair := h.login(t, "alice@example.test", "hunter2!")
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, "Bearer", pair.TokenType)
	require.Greater(t, pair.ExpiresIn, int64(0))
}

func TestLoginEndpointRejectsBadPassword(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice@example.test", "hunter2!")

	resp := h.postJSON(t, "/v1/session/login", "", loginRequest{
		Email: "alice@example.test", Password: "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decodeBody[map[string]any](t, resp)
	require.Equal(t, "invalid_credentials", body["error"])
}

func TestLoginEndpointRejectsMaliciousInput(t *testing.T) {
	h := newHarness(t)

	resp := h.postJSON(t, "/v1/session/login", "", loginRequest{
		Email: "<script>alert(1)</script>@x.test", Password: "whatever",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestResponsesCarrySecurityHeaders(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.server.URL + "/livez")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	require.NotEmpty(t, resp.Header.Get("X-XSS-Protection"))
	require.NotEmpty(t, resp.Header.Get("Content-Security-Policy"))
}

func TestRefreshEndpointRotates(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice@example.test", "hunter2!")
	pair := h.login(t, "alice@example.test", "hunter2!")

	resp := h.postJSON(t, "/v1/session/refresh", "", refreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	renewed := decodeBody[tokenPairResponse](t, resp)
	require.NotEqual(t, pair.RefreshToken, renewed.RefreshToken)

	// Replaying the first token reports reuse and kills everything.
	resp = h.postJSON(t, "/v1/session/refresh", "", refreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	require.Equal(t, "token_reuse_detected", body["error"])

	resp = h.postJSON(t, "/v1/session/refresh", "", refreshRequest{RefreshToken: renewed.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestLogoutEndpoint(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice@example.test", "hunter2!")
	pair := h.login(t, "alice@example.test", "hunter2!")

	resp := h.postJSON(t, "/v1/session/logout", "", refreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = h.postJSON(t, "/v1/session/refresh", "", refreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestLogoutAllRequiresAuth(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice@example.test", "hunter2!")
	pair := h.login(t, "alice@example.test", "hunter2!")

	resp := h.postJSON(t, "/v1/session/logout_all", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = h.postJSON(t, "/v1/session/logout_all", pair.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
}

func TestTwoFactorLoginFlow(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice@example.test", "hunter2!")
	pair := h.login(t, "alice@example.test", "hunter2!")

	// Enroll and activate TOTP over the API.
	resp := h.postJSON(t, "/v1/2fa/totp/enroll", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	enrollment := decodeBody[enrollTOTPResponse](t, resp)
	require.NotEmpty(t, enrollment.Secret)

	code := totpCode(t, enrollment.Secret)
	resp = h.postJSON(t, "/v1/2fa/totp/activate", pair.AccessToken, activateTOTPRequest{Code: code})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	activated := decodeBody[backupCodesResponse](t, resp)
	require.Len(t, activated.BackupCodes, 10)

	// Login now yields a challenge instead of tokens.
	resp = h.postJSON(t, "/v1/session/login", "", loginRequest{
		Email: "alice@example.test", Password: "hunter2!",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	challenge := decodeBody[twoFactorRequiredResponse](t, resp)
	require.True(t, challenge.TwoFactorRequired)
	require.NotEmpty(t, challenge.ChallengeID)
	require.NotEmpty(t, h.notifier.code)

	// Complete with the delivered code.
	resp = h.postJSON(t, "/v1/session/2fa", "", completeTwoFactorRequest{
		Email: "alice@example.test", Method: service.MethodCode, Code: h.notifier.code,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	finished := decodeBody[tokenPairResponse](t, resp)
	require.NotEmpty(t, finished.AccessToken)
}

func TestTwoFactorCompleteWithBackupCode(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice@example.test", "hunter2!")
	pair := h.login(t, "alice@example.test", "hunter2!")

	resp := h.postJSON(t, "/v1/2fa/totp/enroll", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	enrollment := decodeBody[enrollTOTPResponse](t, resp)

	resp = h.postJSON(t, "/v1/2fa/totp/activate", pair.AccessToken, activateTOTPRequest{
		Code: totpCode(t, enrollment.Secret),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	activated := decodeBody[backupCodesResponse](t, resp)

	resp = h.postJSON(t, "/v1/session/login", "", loginRequest{
		Email: "alice@example.test", Password: "hunter2!",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = h.postJSON(t, "/v1/session/2fa", "", completeTwoFactorRequest{
		Email: "alice@example.test", Method: service.MethodBackupCode, Code: activated.BackupCodes[0],
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The same backup code cannot complete a second login.
	resp = h.postJSON(t, "/v1/session/login", "", loginRequest{
		Email: "alice@example.test", Password: "hunter2!",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = h.postJSON(t, "/v1/session/2fa", "", completeTwoFactorRequest{
		Email: "alice@example.test", Method: service.MethodBackupCode, Code: activated.BackupCodes[0],
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestUserinfoEndpoint(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice@example.test", "hunter2!")
	pair := h.login(t, "alice@example.test", "hunter2!")

	req, err := http.NewRequest(http.MethodGet, h.server.URL+"/v1/userinfo", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	info := decodeBody[userResponse](t, resp)
	require.Equal(t, "alice@example.test", info.Email)
	require.Equal(t, []string{"member"}, info.Roles)

	// Garbage tokens are refused.
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestRegisterEndpoint(t *testing.T) {
	h := newHarness(t)

	resp := h.postJSON(t, "/v1/users", "", registerRequest{
		Email: "bob@example.test", DisplayName: "Bob", Password: "secret123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[userResponse](t, resp)
	require.NotEmpty(t, created.ID)

	// Duplicate registration conflicts.
	resp = h.postJSON(t, "/v1/users", "", registerRequest{
		Email: "bob@example.test", DisplayName: "Bob", Password: "secret123",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestAuditEventsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice@example.test", "hunter2!")
	pair := h.login(t, "alice@example.test", "hunter2!")

	// Generate at least one audit event.
	resp := h.postJSON(t, "/v1/session/login", "", loginRequest{
		Email: "alice@example.test", Password: "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, h.server.URL+"/v1/audit/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)

	listResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	body := decodeBody[map[string][]auditEventResponse](t, listResp)
	require.NotEmpty(t, body["events"])
}
