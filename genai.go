package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Question is a generated trivia unit: the prompt, four options, and the
// correct option.
type Question struct {
	Text    string   `json:"question"`
	Options []string `json:"options"`
	Answer  string   `json:"answer"`
}

// Moderator decides whether a submitted topic is acceptable.
type Moderator interface {
	Check(ctx context.Context, subject string) (bool, error)
}

// Generator produces a trivia question for an approved topic.
type Generator interface {
	Generate(ctx context.Context, subject string) (*Question, error)
}

// IdentityClient resolves an inbound auth code to a stable identity.
type IdentityClient interface {
	Resolve(ctx context.Context, code string) (username, sub string, err error)
}

// genClient talks to a generateContent-style endpoint for both moderation
// and question generation.
type genClient struct {
	url    string
	key    string
	client *http.Client
}

func newGenClient(url, key string) *genClient {
	return &genClient{
		url:    url,
		key:    key,
		client: &http.Client{Timeout: 20 * time.Second},
	}
}

// generate sends a single-part text prompt and returns the first candidate's
// text response.
func (g *genClient) generate(ctx context.Context, prompt string) (string, error) {
	if g.url == "" {
		return "", errors.New("no generation endpoint configured")
	}

	reqBody := map[string]any{
		"contents": []map[string]any{
			{
				"parts": []map[string]string{
					{"text": prompt},
				},
			},
		},
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	endpoint := g.url
	if g.key != "" {
		endpoint += "?key=" + g.key
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation endpoint status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("generation endpoint responded but no text")
	}

	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

func (g *genClient) Check(ctx context.Context, subject string) (bool, error) {
	prompt := fmt.Sprintf(
		"You moderate topics for a family-friendly trivia game. Answer with the single word ALLOW or REJECT. Topic: %q",
		subject,
	)
	text, err := g.generate(ctx, prompt)
	if err != nil {
		return false, err
	}
	verdict := strings.ToUpper(strings.TrimSpace(text))
	return strings.HasPrefix(verdict, "ALLOW"), nil
}

func (g *genClient) Generate(ctx context.Context, subject string) (*Question, error) {
	prompt := fmt.Sprintf(
		`Write one multiple-choice trivia question about %q. Respond with JSON only, shaped as {"question": "...", "options": ["...", "...", "...", "..."], "answer": "..."} where answer is one of the four options.`,
		subject,
	)
	text, err := g.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	// Some models wrap JSON replies in a markdown fence.
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var q Question
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &q); err != nil {
		return nil, fmt.Errorf("malformed question payload: %w", err)
	}
	if q.Text == "" || len(q.Options) != 4 || q.Answer == "" {
		return nil, errors.New("incomplete question payload")
	}

	found := false
	for _, option := range q.Options {
		if option == q.Answer {
			found = true
			break
		}
	}
	if !found {
		return nil, errors.New("answer is not among the options")
	}

	return &q, nil
}

// identityClient exchanges an auth code against a token endpoint and reads
// the resulting user info. The rest of the server only ever sees the opaque
// identity key built from it.
type identityClient struct {
	url    string
	client *http.Client
}

func newIdentityClient(url string) *identityClient {
	return &identityClient{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (ic *identityClient) Resolve(ctx context.Context, code string) (string, string, error) {
	if ic.url == "" {
		return "", "", errors.New("no identity endpoint configured")
	}

	payload, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ic.url, bytes.NewReader(payload))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ic.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("identity endpoint status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Username string `json:"preferred_username"`
		Name     string `json:"name"`
		Sub      string `json:"sub"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", "", err
	}

	username := parsed.Username
	if username == "" {
		username = parsed.Name
	}
	if username == "" || parsed.Sub == "" {
		return "", "", errors.New("identity endpoint returned no usable identity")
	}

	return username, parsed.Sub, nil
}

// identityKey builds the stable display identity: username plus the last
// four digits of the subject, so two accounts with the same username stay
// distinct.
func identityKey(username, sub string) string {
	tail := sub
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	for len(tail) < 4 {
		tail = "0" + tail
	}
	return username + "#" + tail
}
