// チャットボットAPIサービスのエントリポイント。
// Google IDトークンの検証とバックエンドJWTの発行、会話エージェントへの
// チャットメッセージの転送、GCS上のナレッジドキュメント管理を担当する。
package main

import (
	"context"
	"log"

	"github.com/nao1215/janki/internal/chatbot"
	"github.com/nao1215/janki/internal/config"
	"github.com/nao1215/janki/internal/credentials"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	creds, err := credentials.Resolve(ctx, cfg.Credentials)
	if err != nil {
		log.Fatalf("Google認証情報の解決に失敗: %v", err)
	}

	server, err := chatbot.NewServer(ctx, cfg, creds)
	if err != nil {
		log.Fatalf("チャットボットサーバーの初期化に失敗: %v", err)
	}

	log.Printf("チャットボットAPIを起動します: project=%s, agent=%s（%s）, addr=%s:%s",
		cfg.ProjectID, cfg.AgentID, cfg.AgentLocation, cfg.Host, cfg.Port)
	if err := server.Run(); err != nil {
		log.Fatalf("チャットボットAPIの起動に失敗: %v", err)
	}
}
