// Package config は環境変数からチャットボットAPIの設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config はチャットボットAPIサービスの設定。
// すべての値は起動時に環境変数から一度だけ読み込み、以降は変更しない。
type Config struct {
	// ProjectID はGoogle CloudプロジェクトのID。
	ProjectID string
	// Location はGoogle Cloudのデフォルトリージョン。
	Location string
	// Credentials はGoogle認証情報の指定値。
	// インラインJSON、サービスアカウントキーのファイルパス、空（ADCを使用）のいずれか。
	Credentials string
	// AgentID はDialogflow CXエージェントのID。
	AgentID string
	// AgentLocation はDialogflow CXエージェントのリージョン。
	AgentLocation string
	// BucketName はドキュメント保存先のGCSバケット名。
	// 空の場合、ドキュメント機能は無効のままサーバーを起動する。
	BucketName string
	// JWTSecret はバックエンドJWTの署名鍵。フロントエンド（NextAuth）と共有する。
	JWTSecret string
	// OAuthClientID はGoogle IDトークン検証時のaudience。
	// 空の場合、IDトークン検証エンドポイントは無効になる。
	OAuthClientID string
	// AllowedEmailDomain は認証を許可するメールドメイン（例: "example.com"）。
	// 空の場合はすべてのドメインを許可する。
	AllowedEmailDomain string
	// AdminEmails は管理者権限を付与するメールアドレスのリスト。
	AdminEmails []string
	// Host はHTTPサーバーのバインドアドレス。
	Host string
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// CORSOrigins はCORSで許可するオリジンのリスト。
	CORSOrigins []string
	// MaxFileSizeMB はアップロード可能なファイルの最大サイズ（MB）。
	MaxFileSizeMB int64
	// AllowedFileExtensions はアップロードを許可するファイル拡張子（小文字、ドット付き）。
	AllowedFileExtensions []string
}

// Load は環境変数から設定を読み込む。
// 必須の環境変数（GOOGLE_CLOUD_PROJECT_ID、VERTEX_AI_AGENT_ID、NEXTAUTH_SECRET）が
// 未設定の場合はエラーを返す。
func Load() (*Config, error) {
	projectID := os.Getenv("GOOGLE_CLOUD_PROJECT_ID")
	if projectID == "" {
		return nil, fmt.Errorf("環境変数GOOGLE_CLOUD_PROJECT_IDが設定されていません")
	}

	agentID := os.Getenv("VERTEX_AI_AGENT_ID")
	if agentID == "" {
		return nil, fmt.Errorf("環境変数VERTEX_AI_AGENT_IDが設定されていません")
	}

	jwtSecret := os.Getenv("NEXTAUTH_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("環境変数NEXTAUTH_SECRETが設定されていません")
	}

	return &Config{
		ProjectID:             projectID,
		Location:              getEnvOr("GOOGLE_CLOUD_LOCATION", "us-central1"),
		Credentials:           strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),
		AgentID:               agentID,
		AgentLocation:         getEnvOr("VERTEX_AI_AGENT_LOCATION", "us-central1"),
		BucketName:            os.Getenv("GCS_BUCKET_NAME"),
		JWTSecret:             jwtSecret,
		OAuthClientID:         os.Getenv("GOOGLE_OAUTH_CLIENT_ID"),
		AllowedEmailDomain:    strings.TrimPrefix(os.Getenv("ALLOWED_EMAIL_DOMAIN"), "@"),
		AdminEmails:           splitAndTrim(os.Getenv("ADMIN_EMAILS")),
		Host:                  getEnvOr("API_HOST", "0.0.0.0"),
		Port:                  getEnvOr("API_PORT", "8000"),
		CORSOrigins:           splitAndTrim(getEnvOr("CORS_ORIGINS", "http://localhost:3000")),
		MaxFileSizeMB:         int64(getEnvIntOr("MAX_FILE_SIZE_MB", 10)),
		AllowedFileExtensions: splitAndTrim(strings.ToLower(getEnvOr("ALLOWED_FILE_EXTENSIONS", ".pdf,.docx,.txt,.md"))),
	}, nil
}

// MaxFileSizeBytes はアップロード可能なファイルの最大サイズをバイト単位で返す。
func (c *Config) MaxFileSizeBytes() int64 {
	return c.MaxFileSizeMB << 20
}

// IsAdminEmail は指定されたメールアドレスが管理者リストに含まれるかどうかを判定する。
// 比較は大文字小文字を区別しない。
func (c *Config) IsAdminEmail(email string) bool {
	for _, admin := range c.AdminEmails {
		if strings.EqualFold(admin, email) {
			return true
		}
	}
	return false
}

// IsAllowedExtension は指定されたファイル拡張子がアップロード許可リストに
// 含まれるかどうかを判定する。拡張子はドット付きの小文字で指定する。
func (c *Config) IsAllowedExtension(ext string) bool {
	for _, allowed := range c.AllowedFileExtensions {
		if allowed == ext {
			return true
		}
	}
	return false
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// getEnvIntOr は環境変数を整数として取得する。
// 未設定または整数として解釈できない場合はデフォルト値を返す。
func getEnvIntOr(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

// splitAndTrim はカンマ区切りの文字列を分割し、各要素の前後の空白を除去する。
// 空の要素は結果に含めない。
func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
