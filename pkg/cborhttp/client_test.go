package cborhttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokukuma/mdoc-wallet/mdoc"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	router := mux.NewRouter()
	router.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var in mdoc.SessionData
		if err := mdoc.Unmarshal(body, &in); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		out, err := mdoc.Marshal(mdoc.NewSessionTermination())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", ContentType)
		_, _ = w.Write(out)
	}).Methods(http.MethodPost).Headers("Content-Type", ContentType)
	router.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}).Methods(http.MethodPost)
	router.HandleFunc("/garbage", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0xff, 0xff})
	}).Methods(http.MethodPost)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestPost(t *testing.T) {
	srv := newTestServer(t)
	client := New(WithHTTPClient(srv.Client()))

	t.Run("success", func(t *testing.T) {
		var resp mdoc.SessionData
		err := client.Post(context.Background(), srv.URL+"/session", mdoc.SessionData{Data: []byte{1, 2, 3}}, &resp)
		require.NoError(t, err)
		assert.True(t, resp.IsTermination())
	})

	t.Run("nil response", func(t *testing.T) {
		err := client.Post(context.Background(), srv.URL+"/session", mdoc.NewSessionTermination(), nil)
		require.NoError(t, err)
	})

	t.Run("server error is delivered", func(t *testing.T) {
		err := client.Post(context.Background(), srv.URL+"/broken", mdoc.NewSessionTermination(), nil)
		require.ErrorIs(t, err, ErrUnexpectedStatus)

		var postErr *Error
		require.True(t, errors.As(err, &postErr))
		assert.Equal(t, http.StatusInternalServerError, postErr.StatusCode)
		assert.True(t, postErr.Delivered())
	})

	t.Run("undecodable response is delivered", func(t *testing.T) {
		var resp mdoc.SessionData
		err := client.Post(context.Background(), srv.URL+"/garbage", mdoc.NewSessionTermination(), &resp)
		require.Error(t, err)

		var postErr *Error
		require.True(t, errors.As(err, &postErr))
		assert.True(t, postErr.Delivered())
	})
}

func TestPostConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := New().Post(context.Background(), url+"/session", mdoc.NewSessionTermination(), nil)
	require.Error(t, err)

	var postErr *Error
	require.True(t, errors.As(err, &postErr))
	assert.False(t, postErr.Delivered())
}
