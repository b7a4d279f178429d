// Package llm file: internal/adapter/llm/client.go
//
// OpenAI 兼容接口的意图分析适配器，实现 port.IntentAnalyzer。
// 这是一个副作用明显、延迟不定的外部依赖：它只负责把自然语言
// 换成结构化的候选查询，任何安全判断都不在这里发生。
package llm

import (
	"QueryAegis/internal/core/domain"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config 是分析端点的连接配置。
type Config struct {
	BaseURL     string        // 例如 https://api.openai.com/v1
	Model       string        // 例如 gpt-4o-mini
	APIKey      string
	Temperature float64
	Timeout     time.Duration
}

// Client 通过 chat-completions 接口调用分析能力。
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient 创建分析客户端。
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("分析端点 base_url 不能为空")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("分析模型名不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// systemPrompt 约定上游必须返回的 JSON 结构。
// 字段语义与 domain.QueryIntent 一一对应；归一化由 Intent Pipeline 负责。
const systemPrompt = `You are an expert at converting natural language questions into PostgreSQL SELECT queries.
You will be given a database schema and a user question.

Respond with a single JSON object containing exactly these fields:
- intent: a one-sentence restatement of what the user asked for
- confidence: an integer 0-100
- suggested_sql: a single read-only SELECT statement, or "" if the question is ambiguous
- explanation: a plain-language explanation of what the query does
- tables_involved: array of table names the query touches
- is_read_only: boolean, true only if the query performs no writes
- is_ambiguous: boolean
- clarifying_questions: array of questions to ask the user (required and non-empty when is_ambiguous is true)
- user_friendly_intent: a short label suitable for display

Rules:
1. Only reference tables and columns that appear in the schema below.
2. Never produce INSERT/UPDATE/DELETE/DDL. If the question requires writes, set is_ambiguous=false, is_read_only=false and explain why in explanation.
3. Always include a LIMIT clause unless the question is an aggregate.
4. If the question could reasonably mean two different things, set is_ambiguous=true and ask.

Database schema:
%s`

// chat-completions 的请求/响应结构
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// intentPayload 是上游 JSON 的落点，映射到 domain.QueryIntent。
type intentPayload struct {
	Intent              string   `json:"intent"`
	Confidence          int      `json:"confidence"`
	SuggestedSQL        string   `json:"suggested_sql"`
	Explanation         string   `json:"explanation"`
	TablesInvolved      []string `json:"tables_involved"`
	IsReadOnly          bool     `json:"is_read_only"`
	IsAmbiguous         bool     `json:"is_ambiguous"`
	ClarifyingQuestions []string `json:"clarifying_questions"`
	UserFriendlyIntent  string   `json:"user_friendly_intent"`
}

// AnalyzeIntent 实现 port.IntentAnalyzer。
func (c *Client) AnalyzeIntent(ctx context.Context, userText, schemaContext string) (*domain.QueryIntent, error) {
	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(systemPrompt, schemaContext)},
			{Role: "user", Content: userText},
		},
		Temperature:    c.cfg.Temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("序列化分析请求失败: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构造分析请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("调用分析端点失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("读取分析响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("分析端点返回 %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return nil, fmt.Errorf("解析分析响应失败: %w", err)
	}
	if chat.Error != nil {
		return nil, fmt.Errorf("分析端点报错: %s", chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("分析响应不含任何候选")
	}

	content := extractJSON(chat.Choices[0].Message.Content)
	var parsed intentPayload
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("上游返回的不是合法的意图 JSON: %w", err)
	}

	return &domain.QueryIntent{
		Intent:              parsed.Intent,
		Confidence:          parsed.Confidence,
		SuggestedSQL:        strings.TrimSpace(parsed.SuggestedSQL),
		Explanation:         parsed.Explanation,
		TablesInvolved:      parsed.TablesInvolved,
		IsReadOnly:          parsed.IsReadOnly,
		IsAmbiguous:         parsed.IsAmbiguous,
		ClarifyingQuestions: parsed.ClarifyingQuestions,
		UserFriendlyIntent:  parsed.UserFriendlyIntent,
	}, nil
}

// extractJSON 容忍上游把 JSON 包在 markdown 代码块里的常见毛病。
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
	}
	return strings.TrimSpace(content)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
