package push

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/benefit-cli/internal/cost"
	"github.com/sells-group/benefit-cli/internal/resilience"
	"github.com/sells-group/benefit-cli/pkg/anthropic"
)

// Refiner rewrites a templated draft into a final message.
type Refiner interface {
	Refine(ctx context.Context, d Draft) (string, error)
}

const systemPrompt = "Ты маркетолог банка, пишешь лаконичные push-уведомления."

// LLMConfig configures an LLMRefiner.
type LLMConfig struct {
	Model     string
	MaxTokens int64
	// RequestsPerSecond limits calls; zero disables the limit.
	RequestsPerSecond float64
	Temperature       float64
	MaxLength         int
	Retry             resilience.RetryConfig
	// Costs, when set, accumulates token spend.
	Costs *cost.Tracker
}

// LLMRefiner rewrites drafts through the Anthropic Messages API.
type LLMRefiner struct {
	client  anthropic.Client
	cfg     LLMConfig
	limiter *rate.Limiter
}

// NewLLMRefiner returns a refiner that calls client.
func NewLLMRefiner(client anthropic.Client, cfg LLMConfig) *LLMRefiner {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &LLMRefiner{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Refine asks the model for a rewrite of d. Transient API errors are retried.
func (r *LLMRefiner) Refine(ctx context.Context, d Draft) (string, error) {
	temp := r.cfg.Temperature
	req := anthropic.MessageRequest{
		Model:       r.cfg.Model,
		MaxTokens:   r.cfg.MaxTokens,
		System:      systemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: buildPrompt(d, r.cfg.MaxLength)}},
		Temperature: &temp,
	}

	retry := r.cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("anthropic", "refine_push")
	}
	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "push: rate limit wait")
		}
		return r.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return "", eris.Wrapf(err, "push: refine for client %s", d.ClientCode)
	}
	resp.Usage.LogCost(r.cfg.Model, "push")
	if r.cfg.Costs != nil {
		r.cfg.Costs.Add(r.cfg.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}

	text := resp.Text()
	if text == "" {
		return "", eris.Errorf("push: empty refinement for client %s", d.ClientCode)
	}
	return text, nil
}

func buildPrompt(d Draft, maxLength int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Перепиши персонализированный push (до %d символов) для клиента по имени %s. ", maxLength, orDefault(d.Name, "без имени"))
	fmt.Fprintf(&b, "Продукт: %s. Выгода: %s в месяц. ", d.Product, d.Benefit)
	if d.Status != "" {
		fmt.Fprintf(&b, "Статус клиента: %s. ", d.Status)
	}
	if len(d.Categories) > 0 {
		fmt.Fprintf(&b, "Категории: %s. ", strings.Join(d.Categories, ", "))
	}
	fmt.Fprintf(&b, "\n\nЧерновик:\n%s\n\n", d.Text)
	b.WriteString("Требования:\n")
	b.WriteString("- Упомяни имя клиента или статус.\n")
	b.WriteString("- Одна мысль (главное преимущество) и один короткий CTA из 2-4 слов.\n")
	b.WriteString("- Тон деловой и уверенный, без CAPS, максимум 1 эмодзи.\n")
	b.WriteString("- Не начинай с «Здравствуйте», «Приветствуем», «Клиент».\n")
	b.WriteString("- Сумму выгоды пиши как в черновике.\n")
	b.WriteString("- Выведи только готовый текст на русском.")
	return b.String()
}
