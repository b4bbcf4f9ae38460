package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/conf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.Handler) biz.MeteredInvoker {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, cleanup, err := NewProviderClient(&conf.Bootstrap{Provider: &conf.Provider{
		Endpoint: srv.URL,
		ApiKey:   "secret",
		Timeout:  conf.NewDuration(5 * time.Second),
	}}, testLogger)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return client
}

func TestProviderClient_Invoke(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(providerInvokePath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req biz.InvokeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "lite", req.ModelID)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"result":{"text":"hi"},"usage":{"characters":4200}}`)
	})
	client := newTestProvider(t, mux)

	res, err := client.Invoke(context.Background(), &biz.InvokeRequest{OperationType: "chat", ModelID: "lite", Payload: json.RawMessage(`{"prompt":"hello"}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hi"}`, string(res.Result))
	assert.Equal(t, int64(4200), res.Usage.Characters)
}

func TestProviderClient_InvokeError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(providerInvokePath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	client := newTestProvider(t, mux)

	_, err := client.Invoke(context.Background(), &biz.InvokeRequest{OperationType: "chat", ModelID: "lite"})
	assert.Error(t, err)
}

func TestProviderClient_Stream(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(providerStreamPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"chunk":"a"}`)
		fmt.Fprintln(w)
		fmt.Fprintln(w, `{"chunk":"b"}`)
		fmt.Fprintln(w, `{"usage":{"input_tokens":10,"output_tokens":20}}`)
	})
	client := newTestProvider(t, mux)

	var chunks []string
	usage, err := client.Stream(context.Background(), &biz.InvokeRequest{OperationType: "chat", ModelID: "default"}, func(chunk []byte) error {
		chunks = append(chunks, string(chunk))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`"a"`, `"b"`}, chunks)
	assert.Equal(t, biz.Usage{InputTokens: 10, OutputTokens: 20}, *usage)
}

func TestProviderClient_StreamFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"provider error line", `{"chunk":"a"}` + "\n" + `{"error":"model overloaded"}` + "\n"},
		{"ended without usage", `{"chunk":"a"}` + "\n"},
		{"malformed line", "not-json\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc(providerStreamPath, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			})
			client := newTestProvider(t, mux)

			usage, err := client.Stream(context.Background(), &biz.InvokeRequest{OperationType: "chat", ModelID: "default"}, func([]byte) error { return nil })
			assert.Error(t, err)
			assert.Nil(t, usage)
		})
	}
}
