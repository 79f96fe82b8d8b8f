// Package chatbot はチャットボットAPIのHTTPサーバーを提供する。
// Google IDトークンの検証とバックエンドJWTの発行、会話エージェントへの
// チャットメッセージの転送、GCS上のナレッジドキュメント管理を担当する。
package chatbot
