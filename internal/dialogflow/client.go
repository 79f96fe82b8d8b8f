package dialogflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// defaultLanguageCode はdetectIntentに指定する言語コード。
const defaultLanguageCode = "en"

// noResponseText はエージェントがテキスト応答を返さなかった場合の既定文。
const noResponseText = "No response"

// Client はDialogflow CXセッションAPIのHTTPクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。ベアラートークンを自動付与する。
	httpClient *http.Client
	// baseURL はリージョナルエンドポイントのベースURL。
	baseURL string
	// projectID はGoogle CloudプロジェクトのID。
	projectID string
	// location はエージェントのリージョン。
	location string
	// agentID はDialogflow CXエージェントのID。
	agentID string
}

// New は新しいDialogflow CXクライアントを生成する。
// tsから取得したアクセストークンを全リクエストのAuthorizationヘッダーに設定する。
func New(projectID, location, agentID string, ts oauth2.TokenSource) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &oauth2.Transport{Source: ts},
			Timeout:   30 * time.Second,
		},
		baseURL:   fmt.Sprintf("https://%s-dialogflow.googleapis.com", location),
		projectID: projectID,
		location:  location,
		agentID:   agentID,
	}
}

// Result はdetectIntent呼び出しの結果。
type Result struct {
	// Response はエージェントの応答テキスト。
	Response string
	// Intent はマッチしたインテントの表示名。
	Intent string
	// Confidence はインテント検出の信頼度（0.0〜1.0）。
	Confidence float64
}

// detectIntentRequest はdetectIntentのリクエストボディ。
type detectIntentRequest struct {
	QueryInput queryInput `json:"queryInput"`
}

// queryInput はエージェントへの入力。
type queryInput struct {
	Text         textInput `json:"text"`
	LanguageCode string    `json:"languageCode"`
}

// textInput はテキスト入力。
type textInput struct {
	Text string `json:"text"`
}

// detectIntentResponse はdetectIntentのレスポンスボディ。
type detectIntentResponse struct {
	QueryResult queryResult `json:"queryResult"`
}

// queryResult はエージェントの応答内容。
type queryResult struct {
	ResponseMessages          []responseMessage `json:"responseMessages"`
	Intent                    *intentRef        `json:"intent"`
	IntentDetectionConfidence float64           `json:"intentDetectionConfidence"`
}

// responseMessage はエージェントの応答メッセージ。テキスト以外の種類もあるため
// Textはポインタで保持する。
type responseMessage struct {
	Text *textMessage `json:"text"`
}

// textMessage はテキスト応答。
type textMessage struct {
	Text []string `json:"text"`
}

// intentRef はマッチしたインテントへの参照。
type intentRef struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// DetectIntent は指定セッションに対してテキストメッセージを送信し、
// エージェントの応答を返す。リトライは行わない。
func (c *Client) DetectIntent(ctx context.Context, sessionID, message string) (*Result, error) {
	url := fmt.Sprintf("%s/v3beta1/projects/%s/locations/%s/agents/%s/sessions/%s:detectIntent",
		c.baseURL, c.projectID, c.location, c.agentID, sessionID)

	jsonBody, err := json.Marshal(detectIntentRequest{
		QueryInput: queryInput{
			Text:         textInput{Text: message},
			LanguageCode: defaultLanguageCode,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detectIntentリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("detectIntentがエラーを返却: status=%d, body=%s", resp.StatusCode, string(respBody))
	}

	var diResp detectIntentResponse
	if err := json.NewDecoder(resp.Body).Decode(&diResp); err != nil {
		return nil, fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
	}

	return newResult(diResp.QueryResult), nil
}

// newResult はqueryResultから最初のテキスト応答を取り出してResultを構成する。
func newResult(qr queryResult) *Result {
	result := &Result{
		Response:   noResponseText,
		Confidence: qr.IntentDetectionConfidence,
	}
	for _, msg := range qr.ResponseMessages {
		if msg.Text != nil && len(msg.Text.Text) > 0 {
			result.Response = msg.Text.Text[0]
			break
		}
	}
	if qr.Intent != nil {
		result.Intent = qr.Intent.DisplayName
	}
	return result
}
