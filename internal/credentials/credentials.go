// Package credentials はGoogle Cloud APIへのアクセスに使用する認証情報を解決する。
//
// GOOGLE_APPLICATION_CREDENTIALSの値に応じて、インラインJSON、
// サービスアカウントキーのファイルパス、Application Default Credentials（ADC）の
// いずれかから認証情報を構成する。解決はプロセス起動時に一度だけ行う。
package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
)

// cloudPlatformScope はGoogle Cloud API全般へのアクセスを許可するOAuth2スコープ。
const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Resolve はGoogle Cloud APIの認証情報を解決する。
//
// sourceの解釈は次の優先順位に従う。
//  1. "{"で始まる場合: サービスアカウントキーのインラインJSONとして解析する
//  2. 空でない場合: サービスアカウントキーのファイルパスとして読み込む
//  3. 空の場合: Application Default Credentialsを検出する
//
// いずれの経路でも解決に失敗した場合はエラーを返し、呼び出し側（main）が
// プロセスを終了させる。返される認証情報は読み取り専用で、複数ゴルーチンから
// 安全に共有できる。
func Resolve(ctx context.Context, source string) (*google.Credentials, error) {
	source = strings.TrimSpace(source)

	switch {
	case strings.HasPrefix(source, "{"):
		creds, err := google.CredentialsFromJSON(ctx, []byte(source), cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("インラインJSON認証情報の解析に失敗: %w", err)
		}
		return creds, nil

	case source != "":
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("認証情報ファイルの読み込みに失敗: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("認証情報ファイルの解析に失敗: %w", err)
		}
		return creds, nil

	default:
		creds, err := google.FindDefaultCredentials(ctx, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("デフォルト認証情報の検出に失敗: %w", err)
		}
		return creds, nil
	}
}
