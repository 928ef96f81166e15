package summarizer_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fadedreams/roadassist/request-service/summarizer"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func Test_Summarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))

		var in struct {
			Text string `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "my front left tyre burst on the highway", in.Text)

		json.NewEncoder(w).Encode(map[string]string{"summary": "  Flat Tire "})
	}))
	defer srv.Close()

	c := summarizer.NewClient(srv.URL, "key-1", time.Second, discard)
	got, err := c.Summarize(context.Background(), "my front left tyre burst on the highway")
	require.NoError(t, err)
	assert.Equal(t, "Flat Tire", got)
}

func Test_Summarize_Failures(t *testing.T) {
	testCases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model unavailable", http.StatusBadGateway)
			},
		},
		{
			name: "empty summary",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"summary":""}`))
			},
		},
		{
			name: "garbage",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`not json`))
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			c := summarizer.NewClient(srv.URL, "", time.Second, discard)
			_, err := c.Summarize(context.Background(), "engine smoking")
			assert.Error(t, err)
		})
	}
}

func Test_Summarize_Disabled(t *testing.T) {
	c := summarizer.NewClient("", "", time.Second, discard)
	_, err := c.Summarize(context.Background(), "anything")
	assert.ErrorIs(t, err, summarizer.ErrDisabled)
}
