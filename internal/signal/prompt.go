package signal

import (
	"bytes"
	"fmt"
	"text/template"

	"pairtrader/internal/exchange"
)

const classifierSystemPrompt = `你是一个专业的加密货币行情分析师。下面是某交易对按时间升序排列的K线数据。` +
	`请仅根据这些数据判断下一阶段走势，并严格输出唯一的单词：BUY、SELL 或 HOLD。不要输出任何其他内容。`

const probabilitySystemPrompt = `你是一个统计分析师。下面是某交易对按时间升序排列的K线数据。` +
	`请评估下一阶段上涨的概率，并严格输出一个位于 0.0 到 100.0 之间的数字。不要输出任何其他内容。`

const candleWindowTemplate = `时间,开盘,最高,最低,收盘,成交量
{{- range . }}
{{ .Timestamp.Format "2006-01-02T15:04:05Z07:00" }},{{ .Open }},{{ .High }},{{ .Low }},{{ .Close }},{{ .Volume }}
{{- end }}
`

var candleTmpl = template.Must(template.New("candles").Parse(candleWindowTemplate))

// renderCandleWindow 将K线窗口渲染为CSV文本，作为用户消息发送给模型。
func renderCandleWindow(candles []exchange.Candle) (string, error) {
	if len(candles) == 0 {
		return "", fmt.Errorf("signal: K线窗口为空，无法生成提示词")
	}
	var buf bytes.Buffer
	if err := candleTmpl.Execute(&buf, candles); err != nil {
		return "", fmt.Errorf("signal: 渲染K线窗口失败: %w", err)
	}
	return buf.String(), nil
}
