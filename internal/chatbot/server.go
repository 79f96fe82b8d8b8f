package chatbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"

	"github.com/nao1215/janki/internal/config"
	"github.com/nao1215/janki/internal/dialogflow"
	"github.com/nao1215/janki/internal/gcs"
	"github.com/nao1215/janki/pkg/middleware"
)

// intentDetector は会話エージェントへのメッセージ転送を抽象化する。
// テスト時にフェイク実装へ差し替える。
type intentDetector interface {
	DetectIntent(ctx context.Context, sessionID, message string) (*dialogflow.Result, error)
}

// documentStore はナレッジドキュメントの保存操作を抽象化する。
// テスト時にフェイク実装へ差し替える。
type documentStore interface {
	ListByScope(ctx context.Context, userID string, scope gcs.Scope, limit int) ([]gcs.Document, error)
	Upload(ctx context.Context, filename, userID string, isCompanyDoc bool, data []byte) (*gcs.Document, error)
	Delete(ctx context.Context, id string) error
}

// idTokenVerifier はGoogle IDトークンの検証関数。
type idTokenVerifier func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// Server はチャットボットAPIのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサービスの設定。起動時に解決済みで以降は変更しない。
	cfg *config.Config
	// agent は会話エージェントのクライアント。
	agent intentDetector
	// docs はナレッジドキュメントのストア。GCSバケットが未設定の場合はnil。
	docs documentStore
	// verifyIDToken はGoogle IDトークンの検証関数。
	verifyIDToken idTokenVerifier
}

// NewServer は新しいチャットボットサーバーを生成する。
// GCSバケットが設定されている場合はドキュメントストアも初期化する。
func NewServer(ctx context.Context, cfg *config.Config, creds *google.Credentials) (*Server, error) {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(cfg.CORSOrigins))

	// マルチパートフォームの最大メモリを設定する。
	router.MaxMultipartMemory = cfg.MaxFileSizeBytes()

	s := &Server{
		router:        router,
		cfg:           cfg,
		agent:         dialogflow.New(cfg.ProjectID, cfg.AgentLocation, cfg.AgentID, creds.TokenSource),
		verifyIDToken: idtoken.Validate,
	}

	// GCSバケットが未設定の場合、ドキュメント機能は無効のまま起動する。
	if cfg.BucketName != "" {
		client, err := storage.NewClient(ctx, option.WithCredentials(creds))
		if err != nil {
			return nil, fmt.Errorf("GCSクライアントの生成に失敗: %w", err)
		}
		s.docs = gcs.NewStore(client, cfg.BucketName)
	}

	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		// 認証エンドポイント（バックエンドJWT不要）
		auth := api.Group("/auth")
		{
			auth.POST("/verify", s.handleVerify())
			auth.POST("/verify-email", s.handleVerifyEmail())
		}

		// バックエンドJWT必須のエンドポイント
		protected := api.Group("")
		protected.Use(middleware.JWTAuth(s.cfg.JWTSecret))
		{
			protected.POST("/chat", s.handleChat())
			protected.GET("/documents", s.handleListDocuments())
			protected.POST("/documents", s.handleUploadDocument())
			protected.DELETE("/documents/*id", s.handleDeleteDocument())
		}
	}

	// ヘルスチェック
	s.router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message":    "Janki Chatbot API is running",
			"status":     "ok",
			"project_id": s.cfg.ProjectID,
			"agent_id":   s.cfg.AgentID,
		})
	})
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
}

// verifyRequest はGoogle IDトークン検証リクエストのJSON構造。
type verifyRequest struct {
	// GoogleToken はGoogle OAuthが発行したIDトークン。
	GoogleToken string `json:"google_token" binding:"required"`
}

// verifyEmailRequest はメールアドレスによる代替検証リクエストのJSON構造。
// OAuthプロバイダーがIDトークンを返さない場合のフォールバックとして使う。
type verifyEmailRequest struct {
	// Email はユーザーのメールアドレス。
	Email string `json:"email" binding:"required"`
	// UserID はユーザーの一意識別子。
	UserID string `json:"user_id" binding:"required"`
}

// verifyResponse はトークン検証成功時のレスポンス。
type verifyResponse struct {
	// Token はバックエンドが発行したJWT。
	Token string `json:"token"`
	// User は認証済みユーザーの情報。
	User verifiedUser `json:"user"`
}

// verifiedUser は認証済みユーザーの情報。
type verifiedUser struct {
	// ID はユーザーの一意識別子（Google OAuthのsub）。
	ID string `json:"id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// IsAdmin は管理者権限の有無。
	IsAdmin bool `json:"is_admin"`
}

// handleVerify はGoogle IDトークンを検証してバックエンドJWTを発行するハンドラを返す。
// 検証はOAuthクライアントIDをaudienceとしてGoogleの公開鍵で行う。
func (s *Server) handleVerify() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.OAuthClientID == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google OAuthクライアントIDが設定されていません"})
			return
		}

		var req verifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		payload, err := s.verifyIDToken(c.Request.Context(), req.GoogleToken, s.cfg.OAuthClientID)
		if err != nil {
			log.Printf("Google IDトークンの検証に失敗: %v", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Googleトークンの検証に失敗しました"})
			return
		}

		email, _ := payload.Claims["email"].(string)
		if email == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "トークンにメールアドレスが含まれていません"})
			return
		}

		s.issueToken(c, payload.Subject, email)
	}
}

// handleVerifyEmail はメールアドレスによる代替検証を処理するハンドラを返す。
// IDトークンによる検証より安全性は劣るが、同じドメインチェックとJWT発行を行う。
func (s *Server) handleVerifyEmail() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req verifyEmailRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		s.issueToken(c, req.UserID, req.Email)
	}
}

// issueToken はドメインチェックを通過したユーザーにバックエンドJWTを発行する。
// 管理者権限は設定の管理者メールリストに基づいて付与する。
func (s *Server) issueToken(c *gin.Context, userID, email string) {
	if s.cfg.AllowedEmailDomain != "" && !strings.HasSuffix(email, "@"+s.cfg.AllowedEmailDomain) {
		c.JSON(http.StatusForbidden, gin.H{"error": fmt.Sprintf("許可されていないメールドメインです（@%s のみ）", s.cfg.AllowedEmailDomain)})
		return
	}

	isAdmin := s.cfg.IsAdminEmail(email)
	token, err := middleware.GenerateJWT(s.cfg.JWTSecret, userID, email, isAdmin)
	if err != nil {
		log.Printf("バックエンドJWTの生成に失敗: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの生成に失敗しました"})
		return
	}

	c.JSON(http.StatusOK, verifyResponse{
		Token: token,
		User: verifiedUser{
			ID:      userID,
			Email:   email,
			IsAdmin: isAdmin,
		},
	})
}

// chatRequest はチャットメッセージ送信リクエストのJSON構造。
type chatRequest struct {
	// Message はエージェントに送信するメッセージ本文。
	Message string `json:"message" binding:"required"`
	// ConversationID は会話の継続に使うセッションID。省略時はユーザーIDから導出する。
	ConversationID string `json:"conversation_id"`
	// Scope はナレッジの検索範囲（MY | COMPANY | ALL）。省略時はALL。
	Scope string `json:"scope"`
}

// chatResponse はチャットメッセージ送信レスポンスのJSON構造。
type chatResponse struct {
	// Response はエージェントの応答テキスト。
	Response string `json:"response"`
	// ConversationID はこの会話のセッションID。
	ConversationID string `json:"conversation_id"`
	// MessageID はこの応答メッセージのID。
	MessageID string `json:"message_id"`
	// Sources は応答の根拠となったドキュメントのリスト。
	Sources []string `json:"sources"`
}

// handleChat はチャットメッセージを会話エージェントに転送するハンドラを返す。
// エージェントとの通信に失敗した場合は502を返す。リトライは行わない。
func (s *Server) handleChat() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req chatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if _, err := gcs.ParseScope(req.Scope); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("スコープが不正です: %s（MY | COMPANY | ALLのいずれか）", req.Scope)})
			return
		}

		userID := middleware.GetUserID(c)
		if userID == "" {
			userID = middleware.GetEmail(c)
		}

		sessionID := req.ConversationID
		if sessionID == "" {
			sessionID = fmt.Sprintf("session_%s", userID)
		}

		result, err := s.agent.DetectIntent(c.Request.Context(), sessionID, req.Message)
		if err != nil {
			log.Printf("エージェントへのメッセージ転送に失敗: session=%s, error=%v", sessionID, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "会話エージェントとの通信に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, chatResponse{
			Response:       result.Response,
			ConversationID: sessionID,
			MessageID:      fmt.Sprintf("msg_%s", uuid.New().String()),
			Sources:        []string{},
		})
	}
}

// listDocumentsResponse はドキュメント一覧レスポンスのJSON構造。
type listDocumentsResponse struct {
	// Documents はドキュメントのリスト。
	Documents []gcs.Document `json:"documents"`
	// Total は取得したドキュメント数。
	Total int `json:"total"`
}

// handleListDocuments はスコープに応じたドキュメント一覧を返すハンドラを返す。
func (s *Server) handleListDocuments() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.docs == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "GCSバケットが設定されていません"})
			return
		}

		scope, err := gcs.ParseScope(c.DefaultQuery("scope", "ALL"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("スコープが不正です: %s（MY | COMPANY | ALLのいずれか）", c.Query("scope"))})
			return
		}

		limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
		if err != nil || limit < 1 || limit > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limitは1〜500の整数で指定してください"})
			return
		}

		userID := middleware.GetUserID(c)
		if userID == "" {
			userID = middleware.GetEmail(c)
		}

		docs, err := s.docs.ListByScope(c.Request.Context(), userID, scope, limit)
		if err != nil {
			log.Printf("ドキュメント一覧の取得に失敗: scope=%s, error=%v", scope, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ドキュメント一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, listDocumentsResponse{
			Documents: docs,
			Total:     len(docs),
		})
	}
}

// handleUploadDocument はドキュメントのアップロードを処理するハンドラを返す。
// マルチパートフォームからファイルを受け取り、GCSバケットに保存する。
// 会社共有ドキュメントのアップロードは管理者のみ許可する。
func (s *Server) handleUploadDocument() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.docs == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "GCSバケットが設定されていません"})
			return
		}

		isCompanyDoc := parseBoolForm(c.DefaultPostForm("is_company_doc", "false"))
		if isCompanyDoc && !middleware.IsAdmin(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "会社共有ドキュメントのアップロードは管理者のみ許可されています"})
			return
		}

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("ファイルの取得に失敗しました: %v", err)})
			return
		}
		defer file.Close()

		if header.Filename == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ファイル名が指定されていません"})
			return
		}

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if !s.cfg.IsAllowedExtension(ext) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("許可されていないファイル形式です: %s（許可: %s）", ext, strings.Join(s.cfg.AllowedFileExtensions, ", "))})
			return
		}

		if header.Size > s.cfg.MaxFileSizeBytes() {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("ファイルサイズが上限を超えています（最大%dMB）", s.cfg.MaxFileSizeMB)})
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ファイルの読み取りに失敗しました"})
			return
		}
		if len(data) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ファイルが空です"})
			return
		}

		userID := middleware.GetUserID(c)
		if userID == "" {
			userID = middleware.GetEmail(c)
		}

		doc, err := s.docs.Upload(c.Request.Context(), header.Filename, userID, isCompanyDoc, data)
		if err != nil {
			log.Printf("ドキュメントのアップロードに失敗: filename=%s, error=%v", header.Filename, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ドキュメントのアップロードに失敗しました"})
			return
		}

		c.JSON(http.StatusOK, doc)
	}
}

// handleDeleteDocument はドキュメントの削除を処理するハンドラを返す。
// 会社共有ドキュメントは管理者のみ、個人ドキュメントは所有者のみ削除できる。
func (s *Server) handleDeleteDocument() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.docs == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "GCSバケットが設定されていません"})
			return
		}

		// ワイルドカードパラメータは先頭にスラッシュを含む。
		docID := strings.TrimPrefix(c.Param("id"), "/")
		if docID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ドキュメントIDが指定されていません"})
			return
		}

		userID := middleware.GetUserID(c)
		if userID == "" {
			userID = middleware.GetEmail(c)
		}

		if gcs.IsCompanyPath(docID) {
			if !middleware.IsAdmin(c) {
				c.JSON(http.StatusForbidden, gin.H{"error": "会社共有ドキュメントの削除は管理者のみ許可されています"})
				return
			}
		} else if gcs.OwnerID(docID) != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "自分のドキュメントのみ削除できます"})
			return
		}

		if err := s.docs.Delete(c.Request.Context(), docID); err != nil {
			if errors.Is(err, gcs.ErrDocumentNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "ドキュメントが見つかりません"})
				return
			}
			log.Printf("ドキュメントの削除に失敗: id=%s, error=%v", docID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ドキュメントの削除に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message":     "ドキュメントを削除しました",
			"document_id": docID,
		})
	}
}

// parseBoolForm はフォームの真偽値文字列を解釈する。
// "true"、"1"、"yes"（大文字小文字を区別しない）を真とみなす。
func parseBoolForm(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}
