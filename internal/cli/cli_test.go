package cli_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/esim-admin/internal/cli"
)

const usersBody = `{"success":true,"data":[
	{"id":"1","firstName":"Amy","lastName":"Y","email":"amy@example.org","isDeleted":true},
	{"id":"2","firstName":"Cid","lastName":"X","email":"cid@example.org","isDeleted":false},
	{"id":"3","firstName":"Bob","lastName":"Z","email":"bob@example.org","isDeleted":false}
]}`

const packagesBody = `{"success":true,"data":[
	{"_id":"p1","name":"Europe 5GB","region":"Europe","countries":["FR","DE"],"dataVolume":"5GB","price":10},
	{"_id":"p2","name":"Europe 10GB","region":"Europe","countries":["FR"],"dataVolume":"10GB","price":20},
	{"_id":"p3","name":"Asia Unlimited","region":"Asia","countries":["PK"],"dataVolume":"Unlimited","price":30}
]}`

func adminAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer cli-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"message":"unauthorized"}`))
			return
		}
		_, _ = w.Write([]byte(usersBody))
	})
	mux.HandleFunc("/payment/Bundlecatalogue", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(packagesBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ADMINCTL_BASE_URL", "")
	t.Setenv("ADMINCTL_TOKEN", "")
	var out bytes.Buffer
	root := cli.NewRootCmd(&out)
	root.SetOut(&out)
	root.SetErr(&out)
	cfg := filepath.Join(t.TempDir(), "adminctl.yaml")
	root.SetArgs(append([]string{"--config", cfg}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestUsersListComputesView(t *testing.T) {
	srv := adminAPI(t)
	out, err := run(t, "users", "list", "--base-url", srv.URL, "--token", "cli-token",
		"--status", "active", "--sort", "name", "-o", "json")
	require.NoError(t, err)

	var got struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
		Pagination struct {
			Page  int `json:"page"`
			Total int `json:"total"`
			Pages int `json:"pages"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Data, 2)
	require.Equal(t, "3", got.Data[0].ID)
	require.Equal(t, "2", got.Data[1].ID)
	require.Equal(t, 2, got.Pagination.Total)
	require.Equal(t, 1, got.Pagination.Pages)
}

func TestUsersListTable(t *testing.T) {
	srv := adminAPI(t)
	out, err := run(t, "users", "list", "--base-url", srv.URL, "--token", "cli-token", "--search", "y")
	require.NoError(t, err)
	require.Contains(t, out, "Amy Y")
	require.NotContains(t, out, "Bob Z")
	require.Contains(t, out, "page 1 of 1, 1 total")
}

func TestUsersListRejectsBadFlags(t *testing.T) {
	srv := adminAPI(t)
	_, err := run(t, "users", "list", "--base-url", srv.URL, "--status", "archived")
	require.Error(t, err)

	_, err = run(t, "users", "list", "--base-url", srv.URL, "--page-size", "0")
	require.Error(t, err)
}

func TestUsersListAllWalksPages(t *testing.T) {
	srv := adminAPI(t)
	out, err := run(t, "users", "list", "--base-url", srv.URL, "--token", "cli-token",
		"--sort", "name", "--order", "desc", "--page-size", "1", "--page", "2", "--all", "-o", "json")
	require.NoError(t, err)

	var got struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
		Pagination struct {
			Page     int `json:"page"`
			PageSize int `json:"pageSize"`
			Pages    int `json:"pages"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Data, 2)
	require.Equal(t, "3", got.Data[0].ID)
	require.Equal(t, "1", got.Data[1].ID)
	require.Equal(t, 2, got.Pagination.Page)
	require.Equal(t, 2, got.Pagination.PageSize)
	require.Equal(t, 3, got.Pagination.Pages)
}

func TestListRequiresBaseURL(t *testing.T) {
	_, err := run(t, "users", "list")
	require.ErrorContains(t, err, "base URL")
}

func TestPackagesPreview(t *testing.T) {
	srv := adminAPI(t)
	out, err := run(t, "packages", "preview", "--base-url", srv.URL, "--token", "cli-token",
		"--region", "Europe", "--type", "percentage", "--value", "10", "-o", "json")
	require.NoError(t, err)

	var got cli.PreviewResult
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Updates, 2)
	require.Equal(t, 11.0, got.Updates[0].NewPrice)
	require.Equal(t, 22.0, got.Updates[1].NewPrice)
	require.Equal(t, 2, got.Summary.Count)
	require.Equal(t, 3.0, got.Summary.Delta)
}

func TestPackagesPreviewUnlimitedTable(t *testing.T) {
	srv := adminAPI(t)
	out, err := run(t, "packages", "preview", "--base-url", srv.URL, "--token", "cli-token",
		"--unlimited", "--type", "fixed", "--value", "2.5")
	require.NoError(t, err)
	require.Contains(t, out, "Asia Unlimited")
	require.Contains(t, out, "32.50")
	require.NotContains(t, out, "Europe 5GB")
}

func TestPackagesPreviewRejectsInvalidAdjustment(t *testing.T) {
	srv := adminAPI(t)
	_, err := run(t, "packages", "preview", "--base-url", srv.URL, "--token", "cli-token", "--type", "percentage", "--value", "-5")
	require.Error(t, err)

	_, err = run(t, "packages", "preview", "--base-url", srv.URL, "--token", "cli-token", "--type", "double", "--value", "5")
	require.Error(t, err)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adminctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("baseURL: https://api.example.org\ntoken: abc\ntimeout: 5s\n"), 0o600))

	t.Setenv("ADMINCTL_BASE_URL", "")
	t.Setenv("ADMINCTL_TOKEN", "")
	cfg, err := cli.LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "https://api.example.org", cfg.BaseURL)
	require.Equal(t, "abc", cfg.Token)
	require.Equal(t, 5*time.Second, cfg.Timeout)

	t.Setenv("ADMINCTL_TOKEN", "from-env")
	cfg, err = cli.LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Token)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("ADMINCTL_BASE_URL", "")
	t.Setenv("ADMINCTL_TOKEN", "")
	cfg, err := cli.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, cli.Config{}, cfg)
}

func TestConfigSetPersists(t *testing.T) {
	t.Setenv("ADMINCTL_BASE_URL", "")
	t.Setenv("ADMINCTL_TOKEN", "")
	path := filepath.Join(t.TempDir(), "adminctl.yaml")
	var out bytes.Buffer
	root := cli.NewRootCmd(&out)
	root.SetArgs([]string{"--config", path, "--base-url", "https://api.example.org", "--token", "tok", "config", "set"})
	require.NoError(t, root.Execute())

	cfg, err := cli.LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "https://api.example.org", cfg.BaseURL)
	require.Equal(t, "tok", cfg.Token)
}

func TestRenderYAMLUsesJSONKeys(t *testing.T) {
	var buf bytes.Buffer
	data := cli.PreviewResult{}
	require.NoError(t, cli.Render(&buf, cli.FormatYAML, data, cli.Table{}))

	var got map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	require.Contains(t, got, "summary")
	require.Contains(t, got, "updates")

	require.Error(t, cli.Render(&buf, "xml", data, cli.Table{}))
}

func TestKeysHashPrintsEntry(t *testing.T) {
	out, err := run(t, "keys", "hash", "secret-key", "--name", "ops")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(strings.TrimSpace(out), "entry: ops:$argon2id$"), out)

	_, err = run(t, "keys", "hash", "secret-key", "--name", "a:b")
	require.Error(t, err)
}

func TestTokenRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := run(t, "token", "--subject", "admin-1")
	require.ErrorContains(t, err, "secret")

	out, err := run(t, "token", "--subject", "admin-1", "--secret", "dev-secret", "-o", "json")
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, "admin-1", got["subject"])
	require.NotEmpty(t, got["token"])
}
