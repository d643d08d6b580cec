package persist

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSyncAndFetch(t *testing.T) {
	saved := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			saved[r.URL.Path] = body
			_ = json.NewEncoder(w).Encode(SyncResult{Success: true})
		case http.MethodGet:
			body, ok := saved[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"code":"NOT_FOUND","error":"form not saved"}`))
				return
			}
			_, _ = w.Write(body)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "secret")
	remote := NewRemote(client, "ada@example.com")
	ctx := context.Background()

	_, err := remote.Load(ctx, "conclusionData")
	require.ErrorIs(t, err, ErrAbsent)

	require.NoError(t, remote.Save(ctx, "conclusionData", []byte(`{"final_message":"bye"}`)))
	assert.Contains(t, saved, "/api/users/ada@example.com/forms/conclusionData")

	got, err := remote.Load(ctx, "conclusionData")
	require.NoError(t, err)
	assert.JSONEq(t, `{"final_message":"bye"}`, string(got))
}

func TestClientReportsRejectedSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"success":false,"code":"INVALID_PAYLOAD","error":"payload does not match section"}`))
	}))
	defer srv.Close()

	result := NewClient(srv.URL, "").Sync(context.Background(), "ada", "conclusionData", []byte(`[]`))
	assert.False(t, result.Success)
	assert.Equal(t, "payload does not match section", result.Error)

	err := NewRemote(NewClient(srv.URL, ""), "ada").Save(context.Background(), "conclusionData", []byte(`[]`))
	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "conclusionData", syncErr.Key)
}

func TestClientTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	result := NewClient(srv.URL, "").Sync(context.Background(), "ada", "k", []byte(`{}`))
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)

	_, err := NewClient(srv.URL, "").Fetch(context.Background(), "ada", "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAbsent)
}

func TestClientUnknownFormIsNotAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"UNKNOWN_FORM","error":"unknown form \"x\""}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").Fetch(context.Background(), "ada", "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAbsent)
}
