package common

// リクエスト処理コストの上限。業務フィールドの検証とは独立に課す。
const (
	// MaxSubmissionRequestBody は送信系エンドポイントのボディ上限（バイト）。
	MaxSubmissionRequestBody = 64 << 10

	// MaxSubmissionFieldCount はペイロードのトップレベルキー数の上限。
	MaxSubmissionFieldCount = 32

	// MaxDeliverRequestBody は /deliver のボディ上限（バイト）。
	MaxDeliverRequestBody = 128 << 10
)
