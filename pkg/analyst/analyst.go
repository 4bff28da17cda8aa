package analyst

import (
	"context"
	"fmt"
	"strings"

	"github.com/chipx-network/chipx/pkg/aggregate"
	"github.com/chipx-network/chipx/pkg/utils"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// NotConfiguredMessage is returned instead of an analysis when no API key
// is present. A recoverable condition, never an error: the rest of the
// pipeline does not depend on the analyst.
const NotConfiguredMessage = "AI analysis is not configured. Set GEMINI_API_KEY to enable it."

// recentRows bounds how much of the snapshot series goes into the prompt.
const recentRows = 8

const systemPrompt = `You are a professional equity ownership analyst for the Taiwan market.
You receive a security's recent shareholder-distribution history (newest row first) joined with closing prices, and write a short, precise report.

Focus on:
1. Big-block holders: is the top-bracket (>1000-lot) holding percent rising or falling, and is the move sustained?
2. Retail dispersion: total holder count and average lots per holder. A growing holder count usually means dispersing ownership (bearish); a shrinking one means concentration (bullish).
3. Price/ownership divergence: price falling while big holders accumulate, or price rising while they distribute.
4. Conclusion: a clear bullish / bearish / neutral call with the main risk.

Constraints: respond in Traditional Chinese, use bullet points, stay objective, no pleasantries, at most 300 words.`

// Analyst turns a security's recent snapshot series into a free-text
// reading via a stateless text-in/text-out model call.
type Analyst struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// New builds the analyst. Without GEMINI_API_KEY it returns a disabled
// analyst whose Analyze yields the not-configured sentinel.
func New(ctx context.Context, logger *zap.Logger) *Analyst {
	a := &Analyst{
		model:  utils.Env("ANALYST_MODEL", "gemini-2.5-flash"),
		logger: logger,
	}

	if utils.Env("GEMINI_API_KEY", "") == "" {
		logger.Info("Analyst disabled: GEMINI_API_KEY not set")
		return a
	}

	client, err := genai.NewClient(ctx, nil)
	if err != nil {
		logger.Warn("Analyst client init failed, running disabled", zap.Error(err))
		return a
	}

	a.client = client
	return a
}

// Enabled reports whether credentials were configured.
func (a *Analyst) Enabled() bool {
	return a.client != nil
}

// Analyze renders the most recent snapshot rows as a table and asks the
// model for a reading. snaps is expected newest-first, as Summarize emits.
func (a *Analyst) Analyze(ctx context.Context, stockID string, snaps []aggregate.DistributionSnapshot) (string, error) {
	if !a.Enabled() {
		return NotConfiguredMessage, nil
	}

	prompt := fmt.Sprintf("Security: %s\nRecent distribution data (newest first):\n\n%s\n\nWrite the analysis.",
		stockID, RenderTable(snaps))

	resp, err := a.client.Models.GenerateContent(ctx, a.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.3),
		MaxOutputTokens:   1000,
	})
	if err != nil {
		return "", fmt.Errorf("analyst call: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("analyst call: empty response")
	}

	a.logger.Debug("Analysis generated", zap.String("stock_id", stockID))
	return text, nil
}

// RenderTable formats up to the 8 most recent rows as a markdown table with
// the columns the analysis keys on.
func RenderTable(snaps []aggregate.DistributionSnapshot) string {
	if len(snaps) > recentRows {
		snaps = snaps[:recentRows]
	}

	var b strings.Builder
	b.WriteString("| date | close | top_pct | large_pct | holders | avg_lots |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, s := range snaps {
		price := "n/a"
		if s.Price != nil {
			price = fmt.Sprintf("%.2f", *s.Price)
		}
		fmt.Fprintf(&b, "| %s | %s | %.2f | %.2f | %d | %.2f |\n",
			s.Date, price, s.TopPercent, s.LargePercent, s.TotalPersons, s.AvgLots)
	}
	return b.String()
}
