//go:build integration
// +build integration

package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/gokatarajesh/quizforge/internal/auth/jwt"
)

func envOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// mintToken signs an access token for a fresh owner with the server's secret.
func mintToken(t *testing.T) (uuid.UUID, string) {
	t.Helper()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		t.Skip("JWT_SECRET not set")
	}
	manager := jwt.NewManager(jwt.TokenConfig{
		Secret: []byte(secret),
		Issuer: envOrDefault("JWT_ISSUER", "quizforge"),
	})
	owner := uuid.New()
	token, err := manager.GenerateAccessToken(owner)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return owner, token
}

func makeAuthenticatedRequest(t *testing.T, method, url, token string, payload any) *http.Response {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &body)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

type publicQuestion struct {
	ID         string `json:"id"`
	Difficulty string `json:"difficulty"`
	Type       string `json:"type"`
	Stem       string `json:"stem"`
	Choices    []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"choices"`
}

type snapshot struct {
	Token  string `json:"token"`
	Status string `json:"status"`
	Stats  struct {
		Asked             int    `json:"asked"`
		Correct           int    `json:"correct"`
		MaxQuestions      int    `json:"maxQuestions"`
		CurrentDifficulty string `json:"currentDifficulty"`
	} `json:"stats"`
	Pending *publicQuestion `json:"pendingQuestion"`
}

// wrongAnswer builds a well-formed answer that is almost certainly incorrect.
func wrongAnswer(q *publicQuestion) any {
	switch q.Type {
	case "enumeration":
		return []string{"zz-not-an-item"}
	case "true_false", "multiple_choice":
		if len(q.Choices) > 0 {
			return q.Choices[len(q.Choices)-1].ID
		}
	}
	return "zz-not-an-answer"
}
