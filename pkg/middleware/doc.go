// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// バックエンドJWTの発行・検証、CORS設定、パニックリカバリなど、
// チャットボットAPIのエンドポイント全体で共通して使用するミドルウェアを含む。
package middleware
