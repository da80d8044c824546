// cmd/seed はインデックスの整備とローカル開発用サンプルデータの投入を行う。
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/komorebi-works/intake-services/api/internal/config"
	mongodoc "github.com/komorebi-works/intake-services/api/internal/infrastructure/mongo"
	"github.com/komorebi-works/intake-services/api/internal/intake/application"
	"github.com/komorebi-works/intake-services/api/internal/intake/domain"
)

type seedOptions struct {
	submissionCount int
	dropCollections bool
}

func main() {
	opts := seedOptions{}
	flag.IntVar(&opts.submissionCount, "submissions", 5, "投入するサンプル送信数")
	flag.BoolVar(&opts.dropCollections, "drop", false, "既存コレクションを削除してから投入する")
	flag.Parse()

	cfg := config.Load()
	logger := cfg.ServerLog

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.MongoURI).SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1))
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		logger.Fatalf("MongoDB 接続に失敗しました: %v", err)
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			logger.Printf("MongoDB 切断時にエラー: %v", err)
		}
	}()

	db := client.Database(cfg.MongoDatabase)

	if opts.dropCollections {
		for _, name := range []string{cfg.SubmissionCollection, cfg.QuotaCollection, cfg.FailedDeliveryCollection} {
			if err := db.Collection(name).Drop(ctx); err != nil {
				logger.Fatalf("コレクション %s の削除に失敗: %v", name, err)
			}
		}
		logger.Printf("既存コレクションを削除しました")
	}

	submissionRepo := mongodoc.NewSubmissionRepository(db, cfg.SubmissionCollection)
	if err := submissionRepo.EnsureIndexes(ctx); err != nil {
		logger.Fatalf("送信コレクションのインデックス作成に失敗: %v", err)
	}

	quotaRepo := mongodoc.NewQuotaRepository(db, cfg.QuotaCollection, logger)
	if err := quotaRepo.EnsureIndexes(ctx); err != nil {
		logger.Fatalf("カウンタコレクションのインデックス作成に失敗: %v", err)
	}
	logger.Printf("インデックスを整備しました")

	if opts.submissionCount <= 0 {
		return
	}

	mutations := application.NewMutationService(submissionRepo)
	for i := 0; i < opts.submissionCount; i++ {
		payload := samplePayload(i)
		result, err := mutations.Create(ctx, payload)
		if err != nil {
			logger.Fatalf("サンプル送信の投入に失敗: %v", err)
		}
		logger.Printf("サンプル送信を投入: id=%s", result.Submission.ID)
	}

	log.Printf("seed 完了: submissions=%d", opts.submissionCount)
}

// samplePayload はフォーム UI から届くものと同じ形のペイロードを作る。
func samplePayload(i int) map[string]any {
	tastes := [][]string{
		{"simple", "trust"},
		{"luxury"},
		{"pop", "cute"},
		{"natural"},
		{"cool", "simple"},
	}
	return map[string]any{
		domain.FieldClientName:   fmt.Sprintf("サンプル太郎%d", i+1),
		domain.FieldBrandName:    fmt.Sprintf("サンプルブランド%d", i+1),
		domain.FieldEmail:        fmt.Sprintf("sample%d@example.com", i+1),
		domain.FieldProjectType:  domain.AllowedProjectTypes[i%len(domain.AllowedProjectTypes)],
		domain.FieldBudgetRange:  domain.AllowedBudgetRanges[i%len(domain.AllowedBudgetRanges)],
		domain.FieldDesignTastes: tastes[i%len(tastes)],
		domain.FieldMessage:      "ローカル開発用のサンプル送信です。",
	}
}
