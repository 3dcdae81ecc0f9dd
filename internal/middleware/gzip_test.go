package middleware

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoBookingHandler отвечает как обработчик API: JSON с полученным телом,
// а на /empty пустым списком (204).
func echoBookingHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if r.URL.Path == "/empty" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"received": string(body)})
}

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestGzipMiddleware(t *testing.T) {
	const draft = `{"renterName":"An Nguyen","paymentMethod":"cash"}`

	tests := []struct {
		name          string
		path          string
		body          []byte
		headers       map[string]string
		wantStatus    int
		wantEncoding  string
		wantReceived  string
		wantEmptyBody bool
	}{
		{
			name:         "json response is compressed",
			path:         "/api/bookings",
			body:         []byte(draft),
			headers:      map[string]string{"Accept-Encoding": "gzip, deflate"},
			wantStatus:   http.StatusOK,
			wantEncoding: "gzip",
			wantReceived: draft,
		},
		{
			name:         "client without gzip gets plain json",
			path:         "/api/bookings",
			body:         []byte(draft),
			wantStatus:   http.StatusOK,
			wantReceived: draft,
		},
		{
			name:         "gzip request body is decompressed",
			path:         "/api/bookings",
			body:         gzipBytes(t, draft),
			headers:      map[string]string{"Content-Encoding": "gzip", "Accept-Encoding": "gzip"},
			wantStatus:   http.StatusOK,
			wantEncoding: "gzip",
			wantReceived: draft,
		},
		{
			name:       "broken gzip request body",
			path:       "/api/bookings",
			body:       []byte("not gzip"),
			headers:    map[string]string{"Content-Encoding": "gzip"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:          "no content is not compressed",
			path:          "/empty",
			headers:       map[string]string{"Accept-Encoding": "gzip"},
			wantStatus:    http.StatusNoContent,
			wantEmptyBody: true,
		},
		{
			// Тело не gzip: попытка распаковки дала бы 400.
			name: "websocket upgrade passes through",
			path: "/ws/bookings/B1",
			body: []byte(draft),
			headers: map[string]string{
				"Upgrade":          "websocket",
				"Connection":       "Upgrade",
				"Accept-Encoding":  "gzip",
				"Content-Encoding": "gzip",
			},
			wantStatus:   http.StatusOK,
			wantReceived: draft,
		},
	}

	h := GzipMiddleware(http.HandlerFunc(echoBookingHandler))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, tt.path, bytes.NewReader(tt.body))
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			w := httptest.NewRecorder()

			h.ServeHTTP(w, r)

			res := w.Result()
			defer res.Body.Close()

			require.Equal(t, tt.wantStatus, res.StatusCode)
			assert.Equal(t, tt.wantEncoding, res.Header.Get("Content-Encoding"))

			raw, err := io.ReadAll(res.Body)
			require.NoError(t, err)

			if tt.wantEmptyBody {
				assert.Empty(t, raw)
				return
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			body := raw
			if tt.wantEncoding == "gzip" {
				zr, err := gzip.NewReader(bytes.NewReader(raw))
				require.NoError(t, err)
				body, err = io.ReadAll(zr)
				require.NoError(t, err)
			}

			var got map[string]string
			require.NoError(t, json.Unmarshal(body, &got))
			assert.Equal(t, tt.wantReceived, got["received"])
		})
	}
}

func TestGzipMiddleware_VaryHeader(t *testing.T) {
	h := GzipMiddleware(http.HandlerFunc(echoBookingHandler))

	r := httptest.NewRequest(http.MethodGet, "/api/bookings", strings.NewReader(""))
	r.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, "Accept-Encoding", w.Header().Get("Vary"))
}
