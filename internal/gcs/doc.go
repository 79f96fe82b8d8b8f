// Package gcs はGoogle Cloud Storageをバックエンドとするナレッジドキュメントの
// 保存・一覧・削除機能を提供する。オブジェクトパスをそのままドキュメントIDとして
// 扱うため、メタデータ用のデータベースは持たない。
package gcs
