package verify

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wayfinder/internal/cache"
	"wayfinder/internal/fetch"
	"wayfinder/internal/manifest"
)

const resourceID = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

const manifestJSON = `{
  "manifest": "arweave/paths",
  "version": "0.2.0",
  "index": {"path": "index.html"},
  "paths": {"index.html": {"id": "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"}}
}`

func newTestVerifier(f fetch.Fetcher) (*Verifier, *cache.Cache) {
	c := cache.New(1<<20, nil)
	trust := newTrust(f, true)
	resourceTrust := newTrust(f, false)
	v := NewVerifier(f, &HashStrategy{Source: trust}, &HashStrategy{Source: resourceTrust}, c, time.Second, nil)
	return v, c
}

func TestFetchAndVerifyManifest(t *testing.T) {
	body := []byte(manifestJSON)
	h := http.Header{}
	h.Set("Content-Type", manifest.MediaType)

	f := &fakeFetcher{responses: map[string]*fetch.Response{
		"GET https://routing.net/raw/" + testID:    {Status: 200, Headers: h, Body: body},
		"HEAD https://trusted-a.net/raw/" + testID: respWithDigest(body),
	}}

	v, c := newTestVerifier(f)
	result, err := v.FetchAndVerify(context.Background(), testID, "https://routing.net")
	require.NoError(t, err)

	assert.True(t, result.IsManifest)
	require.NotNil(t, result.Manifest)
	assert.Equal(t, "index.html", result.Manifest.IndexPath())

	// Verified bytes were cached under the manifest's own id.
	assert.True(t, c.Has(testID))
}

func TestFetchAndVerifySingleFile(t *testing.T) {
	body := []byte("<html>hi</html>")
	h := http.Header{}
	h.Set("Content-Type", "text/html")

	f := &fakeFetcher{responses: map[string]*fetch.Response{
		"GET https://routing.net/raw/" + testID:    {Status: 200, Headers: h, Body: body},
		"HEAD https://trusted-a.net/raw/" + testID: respWithDigest(body),
	}}

	v, _ := newTestVerifier(f)
	result, err := v.FetchAndVerify(context.Background(), testID, "https://routing.net")
	require.NoError(t, err)

	assert.False(t, result.IsManifest)
	assert.Nil(t, result.Manifest)
	assert.Equal(t, "text/html", result.ContentType)
}

func TestFetchAndVerifyTamperedBytes(t *testing.T) {
	trustedBody := []byte("what the chain says")
	servedBody := []byte("what the gateway served")

	f := &fakeFetcher{responses: map[string]*fetch.Response{
		"GET https://routing.net/raw/" + testID:    {Status: 200, Body: servedBody},
		"HEAD https://trusted-a.net/raw/" + testID: respWithDigest(trustedBody),
	}}

	v, c := newTestVerifier(f)
	_, err := v.FetchAndVerify(context.Background(), testID, "https://routing.net")
	assert.ErrorIs(t, err, ErrHashMismatch)

	// Tampered bytes must never reach the cache.
	assert.False(t, c.Has(testID))
}

func TestVerifyResourceCachesAndSkips(t *testing.T) {
	body := []byte("resource bytes")

	f := &fakeFetcher{responses: map[string]*fetch.Response{
		"GET https://routing.net/raw/" + resourceID:    {Status: 200, Body: body},
		"HEAD https://trusted-a.net/raw/" + resourceID: respWithDigest(body),
	}}

	v, c := newTestVerifier(f)
	require.NoError(t, v.VerifyResource(context.Background(), resourceID, "https://routing.net", time.Second))
	assert.True(t, c.Has(resourceID))

	// Second call short-circuits on the cache without touching the network.
	calls := len(f.calls)
	require.NoError(t, v.VerifyResource(context.Background(), resourceID, "https://routing.net", time.Second))
	assert.Equal(t, calls, len(f.calls))
}

func TestVerifyResourceGatewayDown(t *testing.T) {
	f := &fakeFetcher{}

	v, _ := newTestVerifier(f)
	err := v.VerifyResource(context.Background(), resourceID, "https://routing.net", time.Second)

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "https://routing.net", gwErr.Origin)
}
