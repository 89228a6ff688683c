package signal

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"pairtrader/internal/exchange"
)

func TestParseDirectionToken(t *testing.T) {
	cases := []struct {
		content string
		want    Direction
		ok      bool
	}{
		{"BUY", DirectionBuy, true},
		{"buy", DirectionBuy, true},
		{"UP", DirectionBuy, true},
		{"SELL", DirectionSell, true},
		{"down, the market looks weak", DirectionSell, true},
		{"HOLD", DirectionHold, true},
		{"Hold.\n理由：信号不明确", DirectionHold, true},
		{"BUY.", DirectionBuy, true},
		{"  SELL  ", DirectionSell, true},
		{"", DirectionHold, false},
		{"   \n  ", DirectionHold, false},
		{"maybe", DirectionHold, false},
		{"强烈买入", DirectionHold, false},
	}

	for _, tc := range cases {
		got, ok := parseDirectionToken(tc.content)
		if got != tc.want || ok != tc.ok {
			t.Errorf("parseDirectionToken(%q) = (%v, %v), want (%v, %v)",
				tc.content, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseProbability(t *testing.T) {
	cases := []struct {
		content string
		want    float64
		ok      bool
	}{
		{"85", 85, true},
		{"85.5", 85.5, true},
		{"85%", 85, true},
		{"0", 0, true},
		{"100", 100, true},
		{"12 的概率上涨", 12, true},
		{"", 0, false},
		{"101", 0, false},
		{"-3", 0, false},
		{"high", 0, false},
	}

	for _, tc := range cases {
		got, ok := parseProbability(tc.content)
		if got != tc.want || ok != tc.ok {
			t.Errorf("parseProbability(%q) = (%v, %v), want (%v, %v)",
				tc.content, got, ok, tc.want, tc.ok)
		}
	}
}

func TestClassifier_ProbabilityThresholds(t *testing.T) {
	classifier := &Classifier{lower: 20, upper: 80, logger: zap.NewNop()}

	cases := []struct {
		content string
		want    Direction
	}{
		{"85", DirectionBuy},
		{"80", DirectionBuy},  // inclusive upper threshold
		{"20", DirectionSell}, // inclusive lower threshold
		{"10", DirectionSell},
		{"50", DirectionHold},
		{"79.99", DirectionHold},
		{"garbled", DirectionHold},
	}

	for _, tc := range cases {
		if got := classifier.fromProbability(tc.content); got != tc.want {
			t.Errorf("fromProbability(%q) = %v, want %v", tc.content, got, tc.want)
		}
	}
}

func TestClassifier_UnparseableTokenIsHold(t *testing.T) {
	classifier := &Classifier{logger: zap.NewNop()}
	if got := classifier.fromToken("无法判断"); got != DirectionHold {
		t.Fatalf("got %v want HOLD", got)
	}
}

func TestRenderCandleWindow(t *testing.T) {
	candles := []exchange.Candle{
		{Timestamp: time.UnixMilli(1700000000000), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Timestamp: time.UnixMilli(1700000300000), Open: 1.5, High: 2.5, Low: 1.2, Close: 2.1, Volume: 12},
	}

	window, err := renderCandleWindow(candles)
	if err != nil {
		t.Fatalf("renderCandleWindow returned error: %v", err)
	}
	if !strings.Contains(window, "1.5") || !strings.Contains(window, "2.1") {
		t.Errorf("window missing close prices: %q", window)
	}
	if strings.Count(window, "\n") < 2 {
		t.Errorf("expected one line per candle plus header, got %q", window)
	}

	if _, err := renderCandleWindow(nil); err == nil {
		t.Error("expected error for empty candle window")
	}
}

func TestDirectionSide(t *testing.T) {
	if side, ok := DirectionBuy.Side(); !ok || side != exchange.OrderSideBuy {
		t.Errorf("DirectionBuy.Side() = (%v, %v)", side, ok)
	}
	if side, ok := DirectionSell.Side(); !ok || side != exchange.OrderSideSell {
		t.Errorf("DirectionSell.Side() = (%v, %v)", side, ok)
	}
	if _, ok := DirectionHold.Side(); ok {
		t.Error("DirectionHold must not map to an order side")
	}
}
