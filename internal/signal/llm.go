package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"pairtrader/internal/config"
	"pairtrader/internal/exchange"
)

// Classifier 将K线窗口交给大模型做三元分类。
// 模型输出无法解析时一律判定为 HOLD，绝不默认取某个交易方向。
type Classifier struct {
	sdk    *openai.Client
	model  string
	style  string
	lower  float64
	upper  float64
	logger *zap.Logger
}

// NewClassifier 创建LLM信号后端。
func NewClassifier(cfg config.SignalConfig, openAICfg config.OpenAIConfig, logger *zap.Logger) (*Classifier, error) {
	if openAICfg.APIKey == "" {
		return nil, errors.New("signal: openai api_key 不能为空")
	}
	if openAICfg.Model == "" {
		return nil, errors.New("signal: openai model 不能为空")
	}
	timeout := openAICfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdkConfig := openai.DefaultConfig(openAICfg.APIKey)
	if openAICfg.BaseURL != "" {
		sdkConfig.BaseURL = openAICfg.BaseURL
	}
	sdkConfig.HTTPClient = &http.Client{Timeout: timeout + 5*time.Second}

	style := cfg.PromptStyle
	if style == "" {
		style = config.PromptStyleClassifier
	}

	return &Classifier{
		sdk:    openai.NewClientWithConfig(sdkConfig),
		model:  openAICfg.Model,
		style:  style,
		lower:  cfg.LowerProb,
		upper:  cfg.UpperProb,
		logger: logger,
	}, nil
}

// Name 返回后端名称。
func (c *Classifier) Name() string {
	return "llm"
}

// Signal 实现 Provider。调用失败返回错误（由调度层按未知故障处理）；
// 调用成功但内容无法解析时返回 HOLD。
func (c *Classifier) Signal(ctx context.Context, candles []exchange.Candle) (Direction, error) {
	window, err := renderCandleWindow(candles)
	if err != nil {
		return DirectionHold, err
	}

	systemPrompt := classifierSystemPrompt
	if c.style == config.PromptStyleProbability {
		systemPrompt = probabilitySystemPrompt
	}

	response, err := c.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: window},
		},
		Temperature: 0,
	})
	if err != nil {
		return DirectionHold, fmt.Errorf("signal: 调用模型失败: %w", err)
	}

	if len(response.Choices) == 0 {
		c.logger.Warn("模型返回空结果，按 HOLD 处理")
		return DirectionHold, nil
	}

	content := strings.TrimSpace(response.Choices[0].Message.Content)

	if c.style == config.PromptStyleProbability {
		return c.fromProbability(content), nil
	}
	return c.fromToken(content), nil
}

func (c *Classifier) fromToken(content string) Direction {
	direction, ok := parseDirectionToken(content)
	if !ok {
		c.logger.Warn("模型输出无法解析为方向，按 HOLD 处理", zap.String("raw_content", content))
		return DirectionHold
	}
	return direction
}

func (c *Classifier) fromProbability(content string) Direction {
	prob, ok := parseProbability(content)
	if !ok {
		c.logger.Warn("模型输出无法解析为概率，按 HOLD 处理", zap.String("raw_content", content))
		return DirectionHold
	}

	c.logger.Info("模型给出上涨概率", zap.Float64("probability", prob))

	switch {
	case prob >= c.upper && prob <= 100:
		return DirectionBuy
	case prob >= 0 && prob <= c.lower:
		return DirectionSell
	default:
		return DirectionHold
	}
}

// parseDirectionToken 从模型输出中提取首个词并归一化为方向。
func parseDirectionToken(content string) (Direction, bool) {
	cleaned := strings.NewReplacer("\n", " ", ".", " ", ",", " ", "。", " ").Replace(content)
	fields := strings.Fields(cleaned)
	if len(fields) == 0 {
		return DirectionHold, false
	}

	switch strings.ToUpper(fields[0]) {
	case "BUY", "UP":
		return DirectionBuy, true
	case "SELL", "DOWN":
		return DirectionSell, true
	case "HOLD":
		return DirectionHold, true
	default:
		return DirectionHold, false
	}
}

// parseProbability 从模型输出中提取首个词并解析为[0,100]概率。
func parseProbability(content string) (float64, bool) {
	fields := strings.Fields(strings.TrimSpace(content))
	if len(fields) == 0 {
		return 0, false
	}

	value, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "%"), 64)
	if err != nil || value < 0 || value > 100 {
		return 0, false
	}
	return value, true
}
