// Package domain file: internal/core/domain/intent_models.go
package domain

// IntentStatus 是单次自然语言请求的状态机取值。
// 歧义态是终态：用户改写后重新提交会产生一个全新的 QueryIntent 实例。
type IntentStatus string

const (
	IntentSubmitted             IntentStatus = "submitted"
	IntentAnalyzedConfident     IntentStatus = "analyzed_confident"
	IntentAwaitingClarification IntentStatus = "awaiting_clarification"
	IntentConfirmationPending   IntentStatus = "confirmation_pending"
	IntentExecuted              IntentStatus = "executed"
	IntentCancelled             IntentStatus = "cancelled"
)

// QueryIntent 是一次自然语言请求的结构化解释。每次 Analyze 产生一个新实例，
// 从不复用或原地修改。Confidence 仅供参考，永远不能绕过 Safety Gate。
type QueryIntent struct {
	ID                  string       `json:"id"`
	Intent              string       `json:"intent"`
	Confidence          int          `json:"confidence"`
	SuggestedSQL        string       `json:"suggested_sql"`
	Explanation         string       `json:"explanation"`
	TablesInvolved      []string     `json:"tables_involved,omitempty"`
	IsReadOnly          bool         `json:"is_read_only"`
	IsAmbiguous         bool         `json:"is_ambiguous"`
	ClarifyingQuestions []string     `json:"clarifying_questions,omitempty"`
	UserFriendlyIntent  string       `json:"user_friendly_intent,omitempty"`
	Status              IntentStatus `json:"status"`
}

// FeedbackRecord 是针对一次自然语言请求的准确性信号，仅追加、离线消费。
type FeedbackRecord struct {
	UserQuery    string `json:"user_query"`
	GeneratedSQL string `json:"generated_sql"`
	WasAccurate  bool   `json:"was_accurate"`
	UserFeedback string `json:"user_feedback,omitempty"`
}
