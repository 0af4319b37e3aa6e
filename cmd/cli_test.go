package cmd

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachinesAddRequiresHostFlag(t *testing.T) {
	home := t.TempDir()

	_, _, err := executeCLI(t, home, "machines", "add", "--id", "lab-3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag(s) \"host\" not set")
}

func TestMachinesAddThenListShowsMachine(t *testing.T) {
	home := t.TempDir()

	stdout, _, err := executeCLI(t, home,
		"machines", "add",
		"--id", "lab-3",
		"--name", "Lab 3",
		"--host", "lab-3.corp.example.com",
		"--port", "3389",
		"--username", "svc-lab",
		"--group", "lab",
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Saved machine Lab 3 (lab-3)")

	stdout, _, err = executeCLI(t, home, "machines", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Lab 3 (lab-3)")
	assert.Contains(t, stdout, "lab-3.corp.example.com:3389 via rdp as svc-lab")
}

func TestMachinesListShowsConfiguredMachines(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeMachinesFixture(home))

	stdout, _, err := executeCLI(t, home, "machines", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "machines: 1")
	assert.Contains(t, stdout, "Lab 3 (lab-3)")
}

func TestMachinesListJSONOutput(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeMachinesFixture(home))

	stdout, _, err := executeCLI(t, home, "machines", "list", "--json")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(stdout)))
	assert.Contains(t, stdout, "\"ID\": \"lab-3\"")
	assert.Contains(t, stdout, "\"Host\": \"lab-3.corp.example.com\"")
}

func TestStatusShowsSignedOutWithoutCredentials(t *testing.T) {
	home := t.TempDir()

	stdout, _, err := executeCLI(t, home, "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Not signed in")
	assert.Contains(t, stdout, "rdx login")
}

func TestStatusShowsStoredIdentity(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeTokenFixture(home, tokenFixture("access-token-123", "rt-1", time.Now().Add(time.Hour))))

	stdout, _, err := executeCLI(t, home, "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Signed in as morgan@example.com")
	assert.Contains(t, stdout, "subject: usr_42")
}

func TestStatusJSONOutput(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeTokenFixture(home, tokenFixture("access-token-123", "rt-1", time.Now().Add(time.Hour))))

	stdout, _, err := executeCLI(t, home, "status", "--json")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(stdout)))
	assert.Contains(t, stdout, "\"signed_in\": true")
	assert.Contains(t, stdout, "\"subject\": \"usr_42\"")
	assert.Contains(t, stdout, "\"email\": \"morgan@example.com\"")
}

func TestStatusJSONOutputSignedOut(t *testing.T) {
	home := t.TempDir()

	stdout, _, err := executeCLI(t, home, "status", "--json")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(stdout)))
	assert.Contains(t, stdout, "\"signed_in\": false")
	assert.NotContains(t, stdout, "\"subject\"")
}

func TestLoginDeviceFlowAuthorizesAndPersistsTokens(t *testing.T) {
	idToken := fakeJWT(`{"sub":"usr_42","email":"morgan@example.com","iat":1755820800}`)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/device_authorization":
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprint(w, `{"device_code":"dc-1","user_code":"ABCD-EFGH","verification_uri":"https://auth.example.com/activate","expires_in":300,"interval":1}`)
		case "/oauth2/token":
			assert.Equal(t, "urn:ietf:params:oauth:grant-type:device_code", r.FormValue("grant_type"))
			assert.Equal(t, "dc-1", r.FormValue("device_code"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprintf(w, `{"access_token":"access-token-123","refresh_token":"rt-1","token_type":"bearer","expires_in":3600,"id_token":"%s"}`, idToken)
		default:
			t.Errorf("unexpected issuer request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	t.Setenv("RDX_AUTH_ISSUER", server.URL)

	home := t.TempDir()

	stdout, _, err := executeCLI(t, home, "login", "--device")
	require.NoError(t, err)
	assert.Contains(t, stdout, "ABCD-EFGH")
	assert.Contains(t, stdout, "https://auth.example.com/activate")
	assert.Contains(t, stdout, "Signed in as morgan@example.com")

	_, err = os.Stat(filepath.Join(home, ".rdx", "secrets", "oauth", "tokens"))
	require.NoError(t, err, "tokens must be persisted for later runs")
}

func TestLogoutWithoutCredentialsSucceeds(t *testing.T) {
	home := t.TempDir()

	stdout, _, err := executeCLI(t, home, "logout")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Signed out")
}

func TestLogoutRevokesAndClearsStoredTokens(t *testing.T) {
	var revokes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth2/revoke", r.URL.Path)
		assert.Equal(t, "rt-1", r.FormValue("token"))
		assert.Equal(t, "refresh_token", r.FormValue("token_type_hint"))
		assert.Equal(t, "rdx-desktop", r.FormValue("client_id"))
		revokes.Add(1)
	}))
	defer server.Close()

	t.Setenv("RDX_AUTH_ISSUER", server.URL)

	home := t.TempDir()
	require.NoError(t, writeTokenFixture(home, tokenFixture("access-token-123", "rt-1", time.Now().Add(time.Hour))))

	stdout, _, err := executeCLI(t, home, "logout")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Signed out")
	assert.Equal(t, int32(1), revokes.Load())

	_, err = os.Stat(filepath.Join(home, ".rdx", "secrets", "oauth", "tokens"))
	assert.True(t, os.IsNotExist(err), "stored tokens must be deleted")
}

func TestConnectEstablishesSessionThroughBroker(t *testing.T) {
	var creates atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/sessions", r.URL.Path)
		assert.Equal(t, "Bearer access-token-123", r.Header.Get("Authorization"))

		var payload struct {
			MachineID string `json:"machine_id"`
			Host      string `json:"host"`
			Port      int    `json:"port"`
			Username  string `json:"username"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "lab-3", payload.MachineID)
		assert.Equal(t, "lab-3.corp.example.com", payload.Host)
		assert.Equal(t, 3389, payload.Port)
		assert.Equal(t, "svc-lab", payload.Username)

		creates.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"id":"sess-1","status":"ready","gateway_url":"wss://gw.example.com/sess-1"}`)
	}))
	defer server.Close()

	t.Setenv("RDX_BROKER_URL", server.URL)

	home := t.TempDir()
	require.NoError(t, writeMachinesFixture(home))
	require.NoError(t, writeTokenFixture(home, tokenFixture("access-token-123", "rt-1", time.Now().Add(time.Hour))))

	stdout, _, err := executeCLI(t, home, "connect", "lab-3")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Signed in as morgan@example.com")
	assert.Equal(t, int32(1), creates.Load())
}

func TestConnectBareLinkTargetsUnlistedHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "lab-9.example.com", payload["host"])
		assert.Equal(t, float64(3390), payload["port"])
		assert.NotContains(t, payload, "machine_id")

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"id":"sess-2","status":"ready","gateway_url":"wss://gw.example.com/sess-2"}`)
	}))
	defer server.Close()

	t.Setenv("RDX_BROKER_URL", server.URL)

	home := t.TempDir()
	require.NoError(t, writeTokenFixture(home, tokenFixture("access-token-123", "rt-1", time.Now().Add(time.Hour))))

	_, _, err := executeCLI(t, home, "connect", "rdp://lab-9.example.com:3390")
	require.NoError(t, err)
}

func TestConnectReportsBrokerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = fmt.Fprint(w, "upstream unavailable")
	}))
	defer server.Close()

	t.Setenv("RDX_BROKER_URL", server.URL)

	home := t.TempDir()
	require.NoError(t, writeMachinesFixture(home))
	require.NoError(t, writeTokenFixture(home, tokenFixture("access-token-123", "rt-1", time.Now().Add(time.Hour))))

	_, stderr, err := executeCLI(t, home, "connect", "lab-3")
	require.ErrorIs(t, err, errConnectionFailed)
	assert.Contains(t, stderr, "Failed to connect")
	assert.Contains(t, stderr, "502")
}

func TestConnectInvalidLinkFails(t *testing.T) {
	home := t.TempDir()

	_, stderr, err := executeCLI(t, home, "connect", "rdp://")
	require.ErrorIs(t, err, errConnectionFailed)
	assert.Contains(t, stderr, "Failed to connect")
}

func TestConnectExpiredCredentialsDeclinedReauthorization(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("broker must not be called with expired credentials, got %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	t.Setenv("RDX_BROKER_URL", server.URL)

	home := t.TempDir()
	require.NoError(t, writeMachinesFixture(home))
	require.NoError(t, writeTokenFixture(home, tokenFixture("stale-token", "rt-1", time.Now().Add(-time.Hour))))

	_, stderr, err := executeCLI(t, home, "connect", "lab-3")
	require.ErrorIs(t, err, errConnectionFailed)
	assert.Contains(t, stderr, "Sign in again now?")
	assert.Contains(t, stderr, "Failed to connect")
}

func TestConnectRetriesAfterConfirmedReauthorization(t *testing.T) {
	idToken := fakeJWT(`{"sub":"usr_42","email":"morgan@example.com","iat":1755820800}`)
	issuer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth2/token", r.URL.Path)
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		assert.Equal(t, "rt-1", r.FormValue("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":"fresh-token","refresh_token":"rt-2","token_type":"bearer","expires_in":3600,"id_token":"%s"}`, idToken)
	}))
	defer issuer.Close()

	var creates atomic.Int32
	broker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer fresh-token", r.Header.Get("Authorization"),
			"retry must run with the renewed token")
		creates.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"id":"sess-3","status":"ready","gateway_url":"wss://gw.example.com/sess-3"}`)
	}))
	defer broker.Close()

	t.Setenv("RDX_AUTH_ISSUER", issuer.URL)
	t.Setenv("RDX_BROKER_URL", broker.URL)

	home := t.TempDir()
	require.NoError(t, writeMachinesFixture(home))
	require.NoError(t, writeTokenFixture(home, tokenFixture("stale-token", "rt-1", time.Now().Add(-time.Hour))))

	_, stderr, err := executeCLIWithInput(t, home, "y\n", "connect", "lab-3")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Sign in again now?")
	assert.Equal(t, int32(1), creates.Load(), "the job retries exactly once, after reauthorization")
}

func executeCLI(t *testing.T, home string, args ...string) (string, string, error) {
	t.Helper()
	return executeCLIWithInput(t, home, "", args...)
}

func executeCLIWithInput(t *testing.T, home string, input string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", home)

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetIn(strings.NewReader(input))
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeMachinesFixture(home string) error {
	configDir := filepath.Join(home, ".rdx")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return err
	}

	machines := `version = 1

[[machines]]
id = "lab-3"
name = "Lab 3"
host = "lab-3.corp.example.com"
port = 3389
protocol = "rdp"
username = "svc-lab"
group = "lab"
`

	return os.WriteFile(filepath.Join(configDir, "machines.toml"), []byte(machines), 0o644)
}

func writeTokenFixture(home string, record string) error {
	secretsDir := filepath.Join(home, ".rdx", "secrets", "oauth")
	if err := os.MkdirAll(secretsDir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(secretsDir, "tokens"), []byte(record), 0o600)
}

func tokenFixture(accessToken, refreshToken string, expiresAt time.Time) string {
	idToken := fakeJWT(`{"sub":"usr_42","email":"morgan@example.com","iat":1755820800}`)
	return fmt.Sprintf(`{"access_token":%q,"refresh_token":%q,"id_token":%q,"token_type":"bearer","expires_at":%d}`,
		accessToken, refreshToken, idToken, expiresAt.Unix())
}

func fakeJWT(payload string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	body := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return header + "." + body + ".sig"
}
