package push

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/benefit-cli/internal/benefit"
	"github.com/sells-group/benefit-cli/internal/catalog"
	"github.com/sells-group/benefit-cli/internal/metrics"
	"github.com/sells-group/benefit-cli/internal/model"
)

// DefaultMaxLength is the notification length limit in runes.
const DefaultMaxLength = 220

// defaultGreeting addresses clients whose name is unknown.
const defaultGreeting = "Добрый день"

var months = [12]string{
	"январе", "феврале", "марте", "апреле", "мае", "июне",
	"июле", "августе", "сентябре", "октябре", "ноябре", "декабре",
}

var categoryLabels = [model.NumCategories]string{
	"путешествия",
	"такси",
	"продукты",
	"рестораны",
	"онлайн-покупки",
	"развлечения",
	"коммунальные услуги",
	"здоровье",
	"прочие покупки",
}

// Options configures a Generator.
type Options struct {
	Currency  string
	MaxLength int
	// Refiner rewrites each templated message when set.
	Refiner Refiner
	// Concurrency bounds parallel refinement; defaults to 4.
	Concurrency int
	Now         func() time.Time
}

// Generator renders one notification per ranked client.
type Generator struct {
	catalog     *catalog.Catalog
	currency    string
	maxLength   int
	refiner     Refiner
	concurrency int
	now         func() time.Time
}

// NewGenerator applies defaults to opts.
func NewGenerator(cat *catalog.Catalog, opts Options) *Generator {
	g := &Generator{
		catalog:     cat,
		currency:    strings.ToUpper(strings.TrimSpace(opts.Currency)),
		maxLength:   opts.MaxLength,
		refiner:     opts.Refiner,
		concurrency: opts.Concurrency,
		now:         opts.Now,
	}
	if g.currency == "" {
		g.currency = DefaultCurrency
	}
	if g.maxLength <= 0 {
		g.maxLength = DefaultMaxLength
	}
	if g.concurrency <= 0 {
		g.concurrency = 4
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Draft is a templated message together with the facts it was built from.
type Draft struct {
	ClientCode string
	Name       string
	Status     string
	Product    string
	Kind       model.FormulaKind
	Benefit    string
	Categories []string
	Text       string
}

// Message renders the templated notification for the client's top-1
// product. A recommendation without products yields "".
func (g *Generator) Message(client *model.ClientFeatures, rec model.Recommendation) string {
	return g.Draft(client, rec).Text
}

// Draft builds the message and its inputs.
func (g *Generator) Draft(client *model.ClientFeatures, rec model.Recommendation) Draft {
	if client == nil {
		client = &model.ClientFeatures{}
	}
	name, value := rec.Top1()
	d := Draft{
		ClientCode: rec.ClientCode,
		Name:       firstName(client.Name),
		Status:     client.Status,
		Product:    name,
		Benefit:    FormatMoney(max(0, value), g.currency),
	}
	if name == "" {
		return d
	}
	for _, c := range benefit.TopCategories(client, 2) {
		if client.Share(c) > 0 {
			d.Categories = append(d.Categories, categoryLabels[c])
		}
	}

	var formula model.Formula
	if p, ok := g.catalog.Product(name); ok {
		formula = p.Formula
		d.Kind = p.Kind()
	}
	d.Text = Trim(g.render(d, formula, value > 0), g.maxLength)
	return d
}

func (g *Generator) render(d Draft, formula model.Formula, hasBenefit bool) string {
	greeting := d.Name
	if greeting == "" {
		greeting = defaultGreeting
	}
	month := months[g.now().Month()-1]
	cats := joinCategories(d.Categories)
	amount := func(prefix string) string {
		if !hasBenefit {
			return ""
		}
		return ", " + prefix + " " + d.Benefit + " в месяц"
	}

	switch f := formula.(type) {
	case model.TravelCashback:
		return fmt.Sprintf("%s, в %s у вас много поездок и такси. С картой «%s» часть этих расходов вернулась бы кешбэком%s. Оформить карту.",
			greeting, month, d.Product, amount("примерно"))
	case model.TieredCashback:
		if len(f.Tiers) > 0 {
			return fmt.Sprintf("%s, у вас стабильный остаток на счёте и траты на %s. «%s» даёт повышенный кешбэк и бесплатные переводы%s. Оформить сейчас.",
				greeting, orDefault(cats, "повседневные покупки"), d.Product, amount("до"))
		}
		return fmt.Sprintf("%s, в %s больше всего трат пришлось на %s. «%s» вернёт часть этих расходов кешбэком%s. Оформить карту.",
			greeting, month, orDefault(cats, "повседневные покупки"), d.Product, amount("до"))
	case model.EligibleCategoryCashback:
		return fmt.Sprintf("%s, ваши главные категории: %s. Кредитная карта «%s» даёт до %s кешбэка в любимых категориях и онлайн-сервисах%s. Оформить карту.",
			greeting, orDefault(cats, "повседневные покупки"), d.Product, percent(f.Rate), amount("около"))
	case model.FXSpread:
		return fmt.Sprintf("%s, вы часто платите в валюте. В приложении выгодный обмен и авто-покупка по целевому курсу%s. Настроить обмен.",
			greeting, amount("экономия около"))
	case model.PassiveIncome:
		return fmt.Sprintf("%s, у вас остаются свободные средства. Разместите их на продукте «%s» и получайте вознаграждение%s. Открыть сейчас.",
			greeting, d.Product, amount("около"))
	case model.CashLoan:
		return fmt.Sprintf("%s, если нужен запас на крупные траты, «%s» поможет с гибкими выплатами. Узнать доступный лимит.",
			greeting, d.Product)
	default:
		return fmt.Sprintf("%s, посмотрите «%s» в приложении%s. Узнать подробнее.",
			greeting, d.Product, amount("выгода около"))
	}
}

// Messages renders one message per recommendation, refining each through
// the configured Refiner. Refinement failures fall back to the template.
// clients and recs are matched by index.
func (g *Generator) Messages(ctx context.Context, clients []model.ClientFeatures, recs []model.Recommendation) []string {
	out := make([]string, len(recs))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i := range recs {
		var client *model.ClientFeatures
		if i < len(clients) {
			client = &clients[i]
		}
		d := g.Draft(client, recs[i])
		out[i] = d.Text
		if g.refiner == nil || d.Text == "" {
			continue
		}
		eg.Go(func() error {
			text, err := g.refiner.Refine(ctx, d)
			if err != nil || strings.TrimSpace(text) == "" {
				metrics.PushRefineFailures.Inc()
				zap.L().Warn("push: refinement failed, using template",
					zap.String("client_code", d.ClientCode),
					zap.String("product", d.Product),
					zap.Error(err),
				)
				return nil
			}
			out[i] = Trim(strings.TrimSpace(text), g.maxLength)
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

func firstName(name string) string {
	if fields := strings.Fields(name); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func joinCategories(cats []string) string {
	return strings.Join(cats, " и ")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func percent(rate float64) string {
	pct := decimal.NewFromFloat(rate).Shift(2).Round(2).String()
	return strings.Replace(pct, ".", ",", 1) + "%"
}
