package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGenerationServer answers like a generateContent endpoint, returning
// the given text as the only candidate.
func fakeGenerationServer(t *testing.T, text string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var req struct {
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Contents)

		resp := map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestModerationVerdicts(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"allowed", "ALLOW", true},
		{"allowed with trailing text", "ALLOW: looks fine", true},
		{"lowercase allowed", "allow", true},
		{"rejected", "REJECT", false},
		{"unexpected reply", "maybe?", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := fakeGenerationServer(t, tc.text)
			client := newGenClient(srv.URL, "")

			ok, err := client.Check(context.Background(), "ocean life")
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestModerationEndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	client := newGenClient(srv.URL, "")
	_, err := client.Check(context.Background(), "ocean life")
	assert.Error(t, err)
}

func TestGenerateParsesQuestion(t *testing.T) {
	payload := `{"question": "Which ocean is the largest?", "options": ["Pacific", "Atlantic", "Indian", "Arctic"], "answer": "Pacific"}`

	tests := []struct {
		name string
		text string
	}{
		{"bare json", payload},
		{"fenced json", "```json\n" + payload + "\n```"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := fakeGenerationServer(t, tc.text)
			client := newGenClient(srv.URL, "")

			q, err := client.Generate(context.Background(), "ocean life")
			require.NoError(t, err)
			assert.Equal(t, "Which ocean is the largest?", q.Text)
			assert.Len(t, q.Options, 4)
			assert.Equal(t, "Pacific", q.Answer)
		})
	}
}

func TestGenerateRejectsMalformedQuestions(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"not json", "the largest ocean is the Pacific"},
		{"three options", `{"question": "q", "options": ["a", "b", "c"], "answer": "a"}`},
		{"answer not an option", `{"question": "q", "options": ["a", "b", "c", "d"], "answer": "e"}`},
		{"empty question", `{"question": "", "options": ["a", "b", "c", "d"], "answer": "a"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := fakeGenerationServer(t, tc.text)
			client := newGenClient(srv.URL, "")

			_, err := client.Generate(context.Background(), "ocean life")
			assert.Error(t, err)
		})
	}
}

func TestGenerateWithoutEndpoint(t *testing.T) {
	client := newGenClient("", "")

	_, err := client.Generate(context.Background(), "ocean life")
	assert.Error(t, err)
	_, err2 := client.Check(context.Background(), "ocean life")
	assert.Error(t, err2)
}

func TestIdentityResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Code string `json:"code"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "abc123", req.Code)

		_ = json.NewEncoder(w).Encode(map[string]string{
			"preferred_username": "mihai",
			"sub":                "123456789",
		})
	}))
	t.Cleanup(srv.Close)

	client := newIdentityClient(srv.URL)
	username, sub, err := client.Resolve(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "mihai", username)
	assert.Equal(t, "123456789", sub)
}

func TestIdentityResolveFallsBackToName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"name": "Jane Doe",
			"sub":  "42",
		})
	}))
	t.Cleanup(srv.Close)

	client := newIdentityClient(srv.URL)
	username, sub, err := client.Resolve(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", username)
	assert.Equal(t, "42", sub)
}

func TestIdentityKey(t *testing.T) {
	tests := []struct {
		username string
		sub      string
		want     string
	}{
		{"mihai", "123456789", "mihai#6789"},
		{"jane", "42", "jane#0042"},
		{"bob", "1234", "bob#1234"},
	}

	for _, tc := range tests {
		if got := identityKey(tc.username, tc.sub); got != tc.want {
			t.Errorf("identityKey(%q, %q) = %q, want %q", tc.username, tc.sub, got, tc.want)
		}
	}
}
