package dialogflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

// newTestClient は指定したテストサーバーをエンドポイントとするクライアントを生成する。
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &Client{
		httpClient: &http.Client{
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}),
			},
			Timeout: 5 * time.Second,
		},
		baseURL:   srv.URL,
		projectID: "test-project",
		location:  "us-central1",
		agentID:   "agent-1",
	}
}

// TestDetectIntent はDetectIntentメソッドを検証する。
func TestDetectIntent(t *testing.T) {
	t.Parallel()

	t.Run("エージェントの応答テキストを取得できること", func(t *testing.T) {
		t.Parallel()

		var gotPath, gotAuth string
		var gotBody detectIntentRequest
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
			if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
				t.Errorf("リクエストボディのデコードに失敗: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"queryResult": {
					"responseMessages": [{"text": {"text": ["こんにちは、何かお手伝いできますか？"]}}],
					"intent": {"name": "projects/p/locations/l/agents/a/intents/i", "displayName": "greeting"},
					"intentDetectionConfidence": 0.92
				}
			}`))
		})

		result, err := c.DetectIntent(context.Background(), "session-123", "hello")
		if err != nil {
			t.Fatalf("DetectIntent()でエラーが発生: %v", err)
		}

		wantPath := "/v3beta1/projects/test-project/locations/us-central1/agents/agent-1/sessions/session-123:detectIntent"
		if gotPath != wantPath {
			t.Errorf("リクエストパス = %q, want %q", gotPath, wantPath)
		}
		if gotAuth != "Bearer test-token" {
			t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer test-token")
		}
		if gotBody.QueryInput.Text.Text != "hello" {
			t.Errorf("queryInput.text.text = %q, want %q", gotBody.QueryInput.Text.Text, "hello")
		}
		if gotBody.QueryInput.LanguageCode != "en" {
			t.Errorf("queryInput.languageCode = %q, want %q", gotBody.QueryInput.LanguageCode, "en")
		}

		if result.Response != "こんにちは、何かお手伝いできますか？" {
			t.Errorf("Response = %q, want %q", result.Response, "こんにちは、何かお手伝いできますか？")
		}
		if result.Intent != "greeting" {
			t.Errorf("Intent = %q, want %q", result.Intent, "greeting")
		}
		if result.Confidence != 0.92 {
			t.Errorf("Confidence = %v, want %v", result.Confidence, 0.92)
		}
	})

	t.Run("テキスト以外の応答メッセージをスキップして最初のテキストを使うこと", func(t *testing.T) {
		t.Parallel()

		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"queryResult": {
					"responseMessages": [
						{"payload": {"kind": "card"}},
						{"text": {"text": ["first", "second"]}},
						{"text": {"text": ["third"]}}
					]
				}
			}`))
		})

		result, err := c.DetectIntent(context.Background(), "session-1", "hi")
		if err != nil {
			t.Fatalf("DetectIntent()でエラーが発生: %v", err)
		}
		if result.Response != "first" {
			t.Errorf("Response = %q, want %q", result.Response, "first")
		}
	})

	t.Run("テキスト応答が無い場合に既定文を返すこと", func(t *testing.T) {
		t.Parallel()

		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"queryResult": {"responseMessages": []}}`))
		})

		result, err := c.DetectIntent(context.Background(), "session-1", "hi")
		if err != nil {
			t.Fatalf("DetectIntent()でエラーが発生: %v", err)
		}
		if result.Response != "No response" {
			t.Errorf("Response = %q, want %q", result.Response, "No response")
		}
		if result.Intent != "" {
			t.Errorf("Intent = %q, want empty string", result.Intent)
		}
	})

	t.Run("エージェントがエラーステータスを返した場合にエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error": {"code": 403, "message": "permission denied"}}`, http.StatusForbidden)
		})

		if _, err := c.DetectIntent(context.Background(), "session-1", "hi"); err == nil {
			t.Fatal("DetectIntent()がエラーを返すべき")
		}
	})

	t.Run("レスポンスがJSONでない場合にエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("not json"))
		})

		if _, err := c.DetectIntent(context.Background(), "session-1", "hi"); err == nil {
			t.Fatal("DetectIntent()がエラーを返すべき")
		}
	})

	t.Run("キャンセル済みコンテキストでエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"queryResult": {}}`))
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := c.DetectIntent(ctx, "session-1", "hi"); err == nil {
			t.Fatal("DetectIntent()がエラーを返すべき")
		}
	})
}

// TestNew はクライアントの生成を検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	c := New("proj", "asia-northeast1", "agent-x", oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"}))

	if c.baseURL != "https://asia-northeast1-dialogflow.googleapis.com" {
		t.Errorf("baseURL = %q, want %q", c.baseURL, "https://asia-northeast1-dialogflow.googleapis.com")
	}
	if c.httpClient.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
	}
}
