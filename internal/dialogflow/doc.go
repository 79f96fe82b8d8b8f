// Package dialogflow はDialogflow CX（Google Agent Builder）のセッションAPIを呼び出す
// HTTPクライアントを提供する。
//
// エージェントへの問い合わせはリージョナルエンドポイントのREST API
// （sessions.detectIntent）で行い、認証はOAuth2のベアラートークンを
// リクエストごとに自動付与する。
package dialogflow
