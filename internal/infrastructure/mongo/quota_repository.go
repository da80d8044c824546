package mongo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// quotaPurgeHorizon より古いウィンドウのカウンタ行を掃除対象とする。
const quotaPurgeHorizon = 24 * time.Hour

// quotaPurgeProbability は呼び出しごとに掃除を走らせる確率。
// 専用のスケジュールジョブを持たずに償却でストレージ衛生を保つ。
const quotaPurgeProbability = 0.01

// QuotaRepository はレート制限カウンタを MongoDB で扱う実装リポジトリ。
// check-and-increment は upsert 付き FindOneAndUpdate の 1 文で行い、
// 読み取り後に書き込む古典的な競合を避ける。
type QuotaRepository struct {
	counters *mongo.Collection
	logger   *log.Logger
	randFn   func() float64
}

// NewQuotaRepository はカウンタコレクションを束縛したリポジトリを構築する。
func NewQuotaRepository(db *mongo.Database, collectionName string, logger *log.Logger) *QuotaRepository {
	return &QuotaRepository{
		counters: db.Collection(collectionName),
		logger:   logger,
		randFn:   rand.Float64,
	}
}

// EnsureIndexes は複合キーの一意インデックスを作成する。
// upsert が同一キーへ衝突した際に二重行を作らないための前提。
func (r *QuotaRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.counters.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "callerId", Value: 1},
			{Key: "endpoint", Value: 1},
			{Key: "windowStart", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// CheckAndIncrement は該当ウィンドウのカウンタ行を upsert で +1 し、
// インクリメント後のカウントを返す。挿入と加算が単一のストア側操作で
// 行われるため、同時呼び出しでも取りこぼしなく数えられる。
func (r *QuotaRepository) CheckAndIncrement(ctx context.Context, callerID, endpoint string, windowStart time.Time) (int, error) {
	filter := bson.M{
		"callerId":    callerID,
		"endpoint":    endpoint,
		"windowStart": windowStart,
	}
	update := bson.M{
		"$inc":         bson.M{"count": 1},
		"$setOnInsert": bson.M{"createdAt": time.Now().UTC()},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc QuotaCounterDocument
	if err := r.counters.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// upsert + After では通常到達しないが、レースで duplicate key に
			// 負けた直後など、ドライバが空を返すケースの保険。
			return 0, fmt.Errorf("quota counter upsert returned no document")
		}
		return 0, err
	}

	if r.randFn() < quotaPurgeProbability {
		r.purgeExpired(ctx)
	}
	return doc.Count, nil
}

// purgeExpired は安全ホライズンより古いウィンドウの行を削除する。
// 失敗しても判定には影響しないためログに留める。
func (r *QuotaRepository) purgeExpired(ctx context.Context) {
	horizon := time.Now().UTC().Add(-quotaPurgeHorizon)
	if _, err := r.counters.DeleteMany(ctx, bson.M{"windowStart": bson.M{"$lt": horizon}}); err != nil && r.logger != nil {
		r.logger.Printf("期限切れカウンタの掃除に失敗: %v", err)
	}
}
