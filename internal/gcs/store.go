package gcs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/gabriel-vasile/mimetype"
	"google.golang.org/api/iterator"
)

// オブジェクトパスの接頭辞。ユーザードキュメントは users/{userID}/ 直下に、
// 会社共有ドキュメントは documents/company/ 直下にフラットに配置する。
// company/ 直下に置かれた旧形式のドキュメントも会社共有として扱う。
const (
	userDirPrefix       = "users/"
	companyPrefix       = "documents/company/"
	legacyCompanyPrefix = "company/"
)

// defaultContentType は拡張子からContent-Typeを特定できない場合の既定値。
const defaultContentType = "application/octet-stream"

// contentTypes は対応するファイル拡張子とContent-Typeの対応表。
var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
	".md":   "text/markdown",
}

// ErrDocumentNotFound は指定したドキュメントが存在しないことを示す。
var ErrDocumentNotFound = errors.New("ドキュメントが見つかりません")

// Scope はドキュメント一覧の取得範囲を表す。
type Scope string

const (
	// ScopeMy は自分のドキュメントのみを対象とする。
	ScopeMy Scope = "MY"
	// ScopeCompany は会社共有ドキュメントのみを対象とする。
	ScopeCompany Scope = "COMPANY"
	// ScopeAll は自分のドキュメントと会社共有ドキュメントの両方を対象とする。
	ScopeAll Scope = "ALL"
)

// ParseScope は文字列をScopeに変換する。大文字小文字は区別せず、
// 空文字列はScopeAllとして扱う。未知の値はエラーを返す。
func ParseScope(s string) (Scope, error) {
	switch scope := Scope(strings.ToUpper(s)); scope {
	case "":
		return ScopeAll, nil
	case ScopeMy, ScopeCompany, ScopeAll:
		return scope, nil
	default:
		return "", fmt.Errorf("不正なスコープです: %s", s)
	}
}

// Document はGCSに保存されたナレッジドキュメントのメタデータを表す。
type Document struct {
	// ID はドキュメントID（GCSオブジェクトパス）
	ID string `json:"id"`
	// Filename はファイル名
	Filename string `json:"filename"`
	// FileType はContent-Type
	FileType string `json:"file_type"`
	// FileSize はファイルサイズ（バイト）
	FileSize int64 `json:"file_size"`
	// BucketPath はgs://形式の完全パス
	BucketPath string `json:"bucket_path"`
	// UserID は所有者のユーザーID（会社共有ドキュメントは"company"）
	UserID string `json:"user_id"`
	// IsCompanyDoc は会社共有ドキュメントかどうか
	IsCompanyDoc bool `json:"is_company_doc"`
	// UploadedAt はアップロード日時
	UploadedAt time.Time `json:"uploaded_at"`
}

// Store はGoogle Cloud Storage上のナレッジドキュメントを管理する。
type Store struct {
	// bucket は操作対象のバケットハンドル
	bucket *storage.BucketHandle
	// bucketName は操作対象のバケット名
	bucketName string
}

// NewStore はドキュメントストアを生成する。
func NewStore(client *storage.Client, bucketName string) *Store {
	return &Store{
		bucket:     client.Bucket(bucketName),
		bucketName: bucketName,
	}
}

// ListByScope は指定したスコープのドキュメント一覧をアップロード日時の新しい順で返す。
// limitが正の場合は先頭からlimit件に切り詰める。
func (s *Store) ListByScope(ctx context.Context, userID string, scope Scope, limit int) ([]Document, error) {
	type target struct {
		prefix string
		owner  string
	}
	var targets []target
	if scope == ScopeMy || scope == ScopeAll {
		targets = append(targets, target{prefix: userDirPrefix + userID + "/", owner: userID})
	}
	if scope == ScopeCompany || scope == ScopeAll {
		targets = append(targets,
			target{prefix: companyPrefix, owner: "company"},
			target{prefix: legacyCompanyPrefix, owner: "company"},
		)
	}

	docs := []Document{}
	for _, t := range targets {
		it := s.bucket.Objects(ctx, &storage.Query{Prefix: t.prefix})
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("オブジェクト一覧の取得に失敗: %w", err)
			}
			// フォルダを模したプレースホルダオブジェクトは除外する
			if strings.HasSuffix(attrs.Name, "/") {
				continue
			}
			docs = append(docs, s.newDocument(attrs, t.owner))
		}
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].UploadedAt.After(docs[j].UploadedAt)
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// Upload はドキュメントをバケットに保存し、保存後のメタデータを返す。
// Content-Typeはファイル拡張子から決定し、未知の拡張子の場合は内容から推定する。
func (s *Store) Upload(ctx context.Context, filename, userID string, isCompanyDoc bool, data []byte) (*Document, error) {
	name := objectPath(filename, userID, isCompanyDoc)

	contentType, ok := contentTypes[strings.ToLower(path.Ext(name))]
	if !ok {
		contentType = mimetype.Detect(data).String()
	}

	w := s.bucket.Object(name).NewWriter(ctx)
	w.ChunkSize = 0
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("オブジェクトの書き込みに失敗: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("オブジェクトの書き込みに失敗: %w", err)
	}

	doc := s.newDocument(w.Attrs(), userID)
	return &doc, nil
}

// Delete は指定したドキュメントIDのオブジェクトをバケットから削除する。
// オブジェクトが存在しない場合はErrDocumentNotFoundを返す。
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.bucket.Object(id).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ErrDocumentNotFound
		}
		return fmt.Errorf("オブジェクトの削除に失敗: %w", err)
	}
	return nil
}

// newDocument はオブジェクトの属性からDocumentを組み立てる。
// ユーザードキュメントの所有者はパスから導出し、それ以外はownerを用いる。
func (s *Store) newDocument(attrs *storage.ObjectAttrs, owner string) Document {
	if id := OwnerID(attrs.Name); id != "" {
		owner = id
	}

	fileType, ok := contentTypes[strings.ToLower(path.Ext(attrs.Name))]
	if !ok {
		fileType = defaultContentType
	}

	return Document{
		ID:           attrs.Name,
		Filename:     path.Base(attrs.Name),
		FileType:     fileType,
		FileSize:     attrs.Size,
		BucketPath:   fmt.Sprintf("gs://%s/%s", s.bucketName, attrs.Name),
		UserID:       owner,
		IsCompanyDoc: IsCompanyPath(attrs.Name),
		UploadedAt:   attrs.Created,
	}
}

// IsCompanyPath は指定したオブジェクトパスが会社共有ドキュメントかどうかを判定する。
func IsCompanyPath(name string) bool {
	return strings.HasPrefix(name, companyPrefix) || strings.HasPrefix(name, legacyCompanyPrefix)
}

// OwnerID はユーザードキュメントのオブジェクトパスから所有者のユーザーIDを取り出す。
// ユーザードキュメントのパスでない場合は空文字列を返す。
func OwnerID(name string) string {
	rest, ok := strings.CutPrefix(name, userDirPrefix)
	if !ok {
		return ""
	}
	owner, _, ok := strings.Cut(rest, "/")
	if !ok {
		return ""
	}
	return owner
}

// objectPath はアップロード先のオブジェクトパスを組み立てる。
// ファイル名に含まれる空白はアンダースコアに置換する。
func objectPath(filename, userID string, isCompanyDoc bool) string {
	safe := strings.ReplaceAll(filename, " ", "_")
	if isCompanyDoc {
		return companyPrefix + safe
	}
	return userDirPrefix + userID + "/" + safe
}
