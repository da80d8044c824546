package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/komorebi-works/intake-services/api/internal/intake/application"
	"github.com/komorebi-works/intake-services/api/internal/intake/domain"
)

// SubmissionRepository はフォーム送信集約を MongoDB で扱う実装リポジトリ。
// 各ミューテーションは単一の条件付き更新文で実行し、履歴の追記は
// $push で同じ文に含める。アプリ層が読み出した履歴配列を書き戻す
// ことはないため、同時書き込みでもエントリが失われない。
type SubmissionRepository struct {
	submissions *mongo.Collection
}

// NewSubmissionRepository はコレクションを束縛したリポジトリを構築する。
func NewSubmissionRepository(db *mongo.Database, collectionName string) *SubmissionRepository {
	return &SubmissionRepository{submissions: db.Collection(collectionName)}
}

// EnsureIndexes は editToken の一意 sparse インデックスと一覧用の
// createdAt インデックスを作成する。
func (r *SubmissionRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.submissions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "editToken", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{
			Keys: bson.D{{Key: "createdAt", Value: -1}},
		},
	})
	return err
}

// Insert は新規レコードを追加する。ID が指定済みで有効な ObjectID なら
// それを採用する（管理者 override の insert-on-missing 分岐が使う）。
func (r *SubmissionRepository) Insert(ctx context.Context, submission *domain.Submission) error {
	id := primitive.NewObjectID()
	if trimmed := strings.TrimSpace(submission.ID); trimmed != "" {
		parsed, err := primitive.ObjectIDFromHex(trimmed)
		if err != nil {
			return fmt.Errorf("%w: 送信IDの形式が不正です", domain.ErrValidation)
		}
		id = parsed
	}

	history := make([]HistoryEntryDocument, 0, len(submission.History))
	for _, entry := range submission.History {
		history = append(history, mapHistoryEntryDocument(entry))
	}

	doc := SubmissionDocument{
		ID:              id,
		Fields:          bson.M(submission.Fields),
		EditToken:       submission.EditToken,
		EditTokenExpiry: submission.EditTokenExpiry,
		History:         history,
		CreatedAt:       submission.CreatedAt,
		UpdatedAt:       submission.UpdatedAt,
	}

	if _, err := r.submissions.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	submission.ID = doc.ID.Hex()
	return nil
}

// FindByID は ID で 1 件取得する。
func (r *SubmissionRepository) FindByID(ctx context.Context, id string) (*domain.Submission, error) {
	objectID, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrNotFound
	}

	var doc SubmissionDocument
	if err := r.submissions.FindOne(ctx, bson.M{"_id": objectID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}

	submission := mapSubmissionDocument(doc)
	return &submission, nil
}

// FindByEditToken は編集トークンで 1 件取得する。期限判定は行わない。
func (r *SubmissionRepository) FindByEditToken(ctx context.Context, token string) (*domain.Submission, error) {
	var doc SubmissionDocument
	if err := r.submissions.FindOne(ctx, bson.M{"editToken": token}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}

	submission := mapSubmissionDocument(doc)
	return &submission, nil
}

// ConsumeEditToken は「トークン一致かつ未失効」の行に対して、フィールド
// 反映・履歴追記・トークン消込を 1 回の FindOneAndUpdate で行う。
// 失効済みや既に消し込まれたトークンは条件に合致せず ErrNotFound になる。
func (r *SubmissionRepository) ConsumeEditToken(ctx context.Context, token string, fields domain.FieldValues, entry domain.HistoryEntry, now time.Time) (*domain.Submission, error) {
	filter := bson.M{
		"editToken":       token,
		"editTokenExpiry": bson.M{"$gt": now},
	}
	update := bson.M{
		"$set":   buildFieldSet(fields, now),
		"$unset": bson.M{"editToken": "", "editTokenExpiry": ""},
		"$push":  bson.M{"history": mapHistoryEntryDocument(entry)},
	}

	return r.findOneAndUpdate(ctx, filter, update)
}

// MergeByID は既存レコードへフィールド反映と履歴追記を 1 回の更新で行う。
func (r *SubmissionRepository) MergeByID(ctx context.Context, id string, fields domain.FieldValues, entry domain.HistoryEntry, now time.Time) (*domain.Submission, error) {
	objectID, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrNotFound
	}

	update := bson.M{
		"$set":  buildFieldSet(fields, now),
		"$push": bson.M{"history": mapHistoryEntryDocument(entry)},
	}

	return r.findOneAndUpdate(ctx, bson.M{"_id": objectID}, update)
}

// Find は管理ダッシュボード向けの一覧。キーワードは主要フィールドの部分一致。
func (r *SubmissionRepository) Find(ctx context.Context, filter application.SubmissionFilter, paging application.Paging) ([]domain.Submission, error) {
	mongoFilter := bson.M{}
	if keyword := strings.TrimSpace(filter.Keyword); keyword != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(keyword), Options: "i"}
		mongoFilter["$or"] = bson.A{
			bson.M{"fields." + domain.FieldClientName: pattern},
			bson.M{"fields." + domain.FieldBrandName: pattern},
			bson.M{"fields." + domain.FieldEmail: pattern},
			bson.M{"fields." + domain.FieldMessage: pattern},
		}
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if paging.Limit > 0 {
		opts.SetLimit(int64(paging.Limit))
	}

	cursor, err := r.submissions.Find(ctx, mongoFilter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer cursor.Close(ctx)

	submissions := make([]domain.Submission, 0)
	for cursor.Next(ctx) {
		var doc SubmissionDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
		}
		submissions = append(submissions, mapSubmissionDocument(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	return submissions, nil
}

func (r *SubmissionRepository) findOneAndUpdate(ctx context.Context, filter, update bson.M) (*domain.Submission, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc SubmissionDocument
	if err := r.submissions.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}

	submission := mapSubmissionDocument(doc)
	return &submission, nil
}

// buildFieldSet は正規化済みフィールドをドットパスの $set に展開する。
// nil はフィールドのクリアとして null を書き込む。
func buildFieldSet(fields domain.FieldValues, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	for name, value := range fields {
		set["fields."+name] = value
	}
	return set
}
