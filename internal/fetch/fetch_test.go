package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawURL(t *testing.T) {
	const id = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	assert.Equal(t, "https://arweave.net/raw/"+id, RawURL("https://arweave.net", id))
	assert.Equal(t, "https://arweave.net/raw/"+id, RawURL("https://arweave.net/", id))
}

func TestHTTPFetcherGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{})
	resp, err := Get(context.Background(), f, srv.URL, time.Second)
	require.NoError(t, err)

	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, []byte("payload"), resp.Body)
	assert.Equal(t, "yes", resp.Header("X-Test"))
}

func TestHTTPFetcherHead(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{})
	_, err := Head(context.Background(), f, srv.URL, time.Second)
	require.NoError(t, err)
	assert.Equal(t, http.MethodHead, method)
}

func TestGetRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{})
	_, err := Get(context.Background(), f, srv.URL, time.Second)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 404, statusErr.Status)
}

func TestBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 1000))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{MaxBodyBytes: 100})
	resp, err := Get(context.Background(), f, srv.URL, time.Second)
	require.NoError(t, err)
	assert.Len(t, resp.Body, 100)
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{})
	_, err := f.Do(context.Background(), Request{URL: srv.URL, Timeout: 50 * time.Millisecond})
	assert.Error(t, err)
}
