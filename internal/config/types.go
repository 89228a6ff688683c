package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// 信号后端类型。
const (
	SignalProviderTechnical = "technical"
	SignalProviderLLM       = "llm"
)

// LLM 提示词风格。
const (
	PromptStyleClassifier  = "classifier"
	PromptStyleProbability = "probability"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Signal   SignalConfig   `mapstructure:"signal"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	APIPass    string      `mapstructure:"api_password"`
	Fee        float64     `mapstructure:"fee"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 控制交易所客户端内部的传输层重试。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// TradingConfig 描述单一交易对的循环交易参数。
type TradingConfig struct {
	Pair                    string        `mapstructure:"pair"`
	Timeframe               string        `mapstructure:"timeframe"`
	ReinvestmentRate        float64       `mapstructure:"reinvestment_rate"`
	Premium                 float64       `mapstructure:"premium"`
	MinBaseTransaction      float64       `mapstructure:"min_base_transaction_value"`
	DataVectorLength        int           `mapstructure:"data_vector_length"`
	CancelOrderCycleLimit   int           `mapstructure:"cancel_order_cycle_limit"`
	MaxRetriesBeforeBackoff int           `mapstructure:"max_retries_before_backoff"`
	BaseSleep               time.Duration `mapstructure:"base_sleep"`
}

// SignalConfig 选择并参数化信号后端。
type SignalConfig struct {
	Provider        string  `mapstructure:"provider"`
	IndicatorPeriod int     `mapstructure:"indicator_period"`
	SignalLag       int     `mapstructure:"signal_lag"`
	PromptStyle     string  `mapstructure:"prompt_style"`
	LowerProb       float64 `mapstructure:"lower_prob"`
	UpperProb       float64 `mapstructure:"upper_prob"`
}

// OpenAIConfig 描述大模型调用参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig 管理事件日志数据库。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitorConfig 控制事件查询HTTP服务。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// BaseAsset 返回交易对的基础币种（`BTC/USDT` 中的 BTC）。
func (t TradingConfig) BaseAsset() string {
	base, _, _ := strings.Cut(t.Pair, "/")
	return strings.ToUpper(strings.TrimSpace(base))
}

// QuoteAsset 返回交易对的计价币种（`BTC/USDT` 中的 USDT）。
func (t TradingConfig) QuoteAsset() string {
	_, quote, _ := strings.Cut(t.Pair, "/")
	return strings.ToUpper(strings.TrimSpace(quote))
}

// EffectiveBaseSleep 返回周期间隔。未配置时按数据窗口与撤单阈值推导，
// 上限5分钟。
func (t TradingConfig) EffectiveBaseSleep() time.Duration {
	if t.BaseSleep > 0 {
		return t.BaseSleep
	}
	minutes := t.DataVectorLength / 2
	if minutes < t.CancelOrderCycleLimit {
		minutes = t.CancelOrderCycleLimit
	}
	if minutes > 5 {
		minutes = 5
	}
	if minutes < 1 {
		minutes = 1
	}
	return time.Duration(minutes) * time.Minute
}

// Validate 对配置进行基本校验，汇总所有违规项。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Fee < 0 {
		err = multierr.Append(err, errors.New("exchange.fee 不能为负"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}

	base, quote, ok := strings.Cut(c.Trading.Pair, "/")
	if !ok || strings.TrimSpace(base) == "" || strings.TrimSpace(quote) == "" {
		err = multierr.Append(err, fmt.Errorf("trading.pair 必须形如 `BASE/QUOTE`，当前为 %q", c.Trading.Pair))
	}
	if c.Trading.Timeframe == "" {
		err = multierr.Append(err, errors.New("trading.timeframe 不能为空"))
	}
	if c.Trading.ReinvestmentRate < 0 || c.Trading.ReinvestmentRate > 1 {
		err = multierr.Append(err, fmt.Errorf("trading.reinvestment_rate 必须位于[0,1]，当前为 %v", c.Trading.ReinvestmentRate))
	}
	if c.Trading.Premium < 0 {
		err = multierr.Append(err, errors.New("trading.premium 不能为负"))
	}
	if c.Exchange.Fee+c.Trading.Premium >= 1 {
		err = multierr.Append(err, errors.New("exchange.fee 与 trading.premium 之和必须小于1，否则买入价不再为正"))
	}
	if c.Trading.MinBaseTransaction <= 0 {
		err = multierr.Append(err, errors.New("trading.min_base_transaction_value 必须大于0"))
	}
	if c.Trading.DataVectorLength <= 0 {
		err = multierr.Append(err, errors.New("trading.data_vector_length 必须大于0"))
	}
	if c.Trading.CancelOrderCycleLimit < 1 {
		err = multierr.Append(err, errors.New("trading.cancel_order_cycle_limit 必须不小于1"))
	}
	if c.Trading.MaxRetriesBeforeBackoff < 1 {
		err = multierr.Append(err, errors.New("trading.max_retries_before_backoff 必须不小于1"))
	}
	if c.Trading.BaseSleep < 0 {
		err = multierr.Append(err, errors.New("trading.base_sleep 不能为负"))
	}

	switch c.Signal.Provider {
	case SignalProviderTechnical:
		if c.Signal.IndicatorPeriod <= 0 {
			err = multierr.Append(err, errors.New("signal.indicator_period 必须大于0"))
		}
		if c.Signal.SignalLag < 0 {
			err = multierr.Append(err, errors.New("signal.signal_lag 不能为负"))
		}
		if c.Trading.DataVectorLength > 0 &&
			c.Trading.DataVectorLength < c.Signal.IndicatorPeriod+c.Signal.SignalLag+1 {
			err = multierr.Append(err, fmt.Errorf(
				"trading.data_vector_length=%d 不足以覆盖 indicator_period+signal_lag+1=%d",
				c.Trading.DataVectorLength, c.Signal.IndicatorPeriod+c.Signal.SignalLag+1))
		}
	case SignalProviderLLM:
		if c.OpenAI.APIKey == "" {
			err = multierr.Append(err, errors.New("openai.api_key 不能为空"))
		}
		if c.OpenAI.Model == "" {
			err = multierr.Append(err, errors.New("openai.model 不能为空"))
		}
		if c.OpenAI.Timeout <= 0 {
			err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
		}
		switch c.Signal.PromptStyle {
		case PromptStyleClassifier:
		case PromptStyleProbability:
			if !(0 <= c.Signal.LowerProb && c.Signal.LowerProb <= c.Signal.UpperProb && c.Signal.UpperProb <= 100) {
				err = multierr.Append(err, errors.New("signal.lower_prob/upper_prob 必须满足 0 <= lower <= upper <= 100"))
			}
		default:
			err = multierr.Append(err, fmt.Errorf("signal.prompt_style 取值非法: %q", c.Signal.PromptStyle))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("signal.provider 取值非法: %q (可选 technical/llm)", c.Signal.Provider))
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于(0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
