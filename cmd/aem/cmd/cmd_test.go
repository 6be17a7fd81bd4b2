package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/aem/internal/aem"
	"github.com/solatis/aem/internal/kvstore"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRulesEval(t *testing.T) {
	out, err := execute(t, "rules", "eval",
		"--rule", `{"and":[{"fb_currency":{"eq":"USD"}},{"value":{"gte":5}}]}`,
		"--params", `{"fb_currency":"USD","value":"7.5"}`)
	require.NoError(t, err)

	var got struct {
		Matched bool `json:"matched"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.Matched)
}

func TestRulesEval_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rule.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"fb_content_type":{"is_any":["product"]}}`), 0o600))

	out, err := execute(t, "rules", "eval", "--rule", "@"+path, "--params", `{"fb_content_type":"service"}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"matched": false`)
}

func TestRulesEval_InvalidRule(t *testing.T) {
	_, err := execute(t, "rules", "eval", "--rule", `{"and":"nope"}`)
	assert.Error(t, err)
}

func TestDeeplinkParse(t *testing.T) {
	data := `{"campaign_ids":"123","acs_token":"tok","shared_secret":"s3cret","advertiser_id":"biz1"}`
	link := "myapp://open?al_applink_data=" + url.QueryEscape(data)

	out, err := execute(t, "deeplink", "parse", link)
	require.NoError(t, err)
	assert.Contains(t, out, `"campaign_id": "123"`)
	assert.Contains(t, out, `"business_id": "biz1"`)
	assert.Contains(t, out, `"has_shared_secret": true`)
	assert.NotContains(t, out, "s3cret")
}

func TestDeeplinkParse_VerifySignature(t *testing.T) {
	data := `{"campaign_ids":"123","acs_token":"tok","shared_secret":"c2VjcmV0LWJ5dGVz","acs_config_id":"cfg"}`
	link := "myapp://open?al_applink_data=" + url.QueryEscape(data)
	inv, err := aem.ParseDeepLink(link, time.Now())
	require.NoError(t, err)
	sig := inv.Signature(3, 30)
	require.NotEmpty(t, sig)

	out, err := execute(t, "deeplink", "parse", link, "--verify", sig, "--conversion-value", "3", "--delay", "30")
	require.NoError(t, err)
	assert.Contains(t, out, `"signature_valid": true`)

	out, err = execute(t, "deeplink", "parse", link, "--verify", sig, "--conversion-value", "4", "--delay", "30")
	require.NoError(t, err)
	assert.Contains(t, out, `"signature_valid": false`)
}

func TestDeeplinkParse_Invalid(t *testing.T) {
	_, err := execute(t, "deeplink", "parse", "myapp://open")
	assert.Error(t, err)
}

func TestMigrate_RejectsNonSQLStorage(t *testing.T) {
	_, err := execute(t, "migrate", "status", "--storage-url", "memory://")
	assert.ErrorContains(t, err, "sqlite and postgres")
}

func TestMigrate_UpAndStatus(t *testing.T) {
	storage := "sqlite://" + filepath.Join(t.TempDir(), "aem.db")

	_, err := execute(t, "migrate", "up", "--storage-url", storage)
	require.NoError(t, err)

	store, err := kvstore.OpenSQL(context.Background(), storage)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "aem.invocations", []byte("x")))
	require.NoError(t, store.Close())

	out, err := execute(t, "migrate", "status", "--storage-url", storage)
	require.NoError(t, err)
	assert.Contains(t, out, "applied")
	assert.NotContains(t, out, "pending")
	assert.Contains(t, out, "stored keys: 1")
	assert.Contains(t, out, "aem.invocations")
}
