package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"armouriq/armour/pkg/value"
)

// ActionUnknown is reported when no keyword matches.
const ActionUnknown = "GENERAL_ACTION"

type keywordRule struct {
	action   string
	keywords []string
}

// Checked in order; the first rule with a matching keyword wins.
var actionKeywords = []keywordRule{
	{"PAY_BILL", []string{"bill", "electricity", "water utility", "recharge"}},
	{"BOOK_FLIGHT", []string{"flight", "fly", "airplane"}},
	{"BOOK_TRAIN", []string{"train", "rail", "shinkansen"}},
	{"BOOK_HOTEL", []string{"hotel", "accommodation", "check-in", "check in"}},
	{"BOOK_RESTAURANT", []string{"restaurant", "dine", "dinner", "lunch", "breakfast", "cafe"}},
	{"BOOK_ATTRACTION", []string{"ticket", "attraction", "museum", "tour", "temple", "shrine"}},
	{"BOOK_TRANSPORT", []string{"taxi", "uber", "transport", "bus"}},
	{"MAKE_PAYMENT", []string{"pay", "payment", "transfer"}},
}

var merchantKeywords = []keywordRule{
	{"ELECTRICITY_BOARD", []string{"electricity", "power bill", "electric"}},
	{"WATER_UTILITY", []string{"water"}},
	{"TELECOM_PROVIDER", []string{"telecom", "phone", "mobile", "broadband", "internet"}},
}

var (
	amountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:₹|\brs\.?|\binr)\s*(\d+(?:,\d{2,3})*(?:\.\d{1,2})?)`),
		regexp.MustCompile(`(?i)(?:¥|\bjpy)\s*(\d+(?:,\d{3})*)`),
		regexp.MustCompile(`(?i)(?:\$|\busd)\s*(\d+(?:,\d{3})*(?:\.\d{2})?)`),
		regexp.MustCompile(`(?i)(?:€|\beur)\s*(\d+(?:,\d{3})*(?:\.\d{2})?)`),
		regexp.MustCompile(`(?i)(\d+(?:,\d{3})*(?:\.\d{1,2})?)\s*(?:inr|rupees?|jpy|usd|eur|yen|dollars|euros)\b`),
	}
	datePattern      = regexp.MustCompile(`(?i)\b(\d{4}-\d{2}-\d{2}|\d{1,2}[-/]\d{1,2}[-/]\d{2,4}|(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4})\b`)
	timePattern      = regexp.MustCompile(`(?i)\b(\d{1,2}(?::\d{2})?\s*(?:am|pm))\b|\bat\s+(\d{1,2}:\d{2})\b`)
	websitePattern   = regexp.MustCompile(`(?i)\b((?:www\.)?[a-z0-9-]+\.(?:com|net|org|co\.uk|co\.jp|io))\b`)
	routePattern     = regexp.MustCompile(`\bfrom\s+([A-Z][A-Za-z]+(?:\s+[A-Z][A-Za-z]+)*)\s+to\s+([A-Z][A-Za-z]+(?:\s+[A-Z][A-Za-z]+)*)`)
	inPattern        = regexp.MustCompile(`\bin\s+([A-Z][A-Za-z]+(?:\s+[A-Z][A-Za-z]+)*)`)
	travelersPattern = regexp.MustCompile(`(?i)\bfor\s+(\d+)\s+(?:people|persons|guests|travell?ers|adults|of us)\b`)
)

// KeywordReasoner is a deterministic stand-in for a language model. It maps
// keywords to actions and pulls amounts, dates and places out with patterns.
type KeywordReasoner struct {
	logger *slog.Logger
}

// NewKeywordReasoner returns a keyword reasoner.
func NewKeywordReasoner(logger *slog.Logger) *KeywordReasoner {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeywordReasoner{logger: logger.With("component", "reasoning.keyword")}
}

// Reason analyses text. It never fails on content; an unrecognised request
// is reported with ActionUnknown.
func (r *KeywordReasoner) Reason(ctx context.Context, text string) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	action := DetectAction(text)
	slots := ExtractSlots(action, text)

	a := &Analysis{Action: action, Slots: slots}
	if action == "PAY_BILL" || action == "MAKE_PAYMENT" {
		a.Text, a.Steps = describePayment(slots)
	} else {
		a.Text, a.Steps = describeBooking(action, slots)
	}

	r.logger.Debug("request analysed", "action", action, "slots", len(slots))
	return a, nil
}

// DetectAction returns the action named by the first matching keyword.
func DetectAction(text string) string {
	return match(actionKeywords, text, ActionUnknown)
}

// DetectMerchant returns the merchant named by text, or "".
func DetectMerchant(text string) string {
	return match(merchantKeywords, text, "")
}

func match(rules []keywordRule, text, fallback string) string {
	lower := strings.ToLower(text)
	for _, rule := range rules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.action
			}
		}
	}
	return fallback
}

// ExtractAmount returns the first currency amount in text.
func ExtractAmount(text string) (float64, bool) {
	for _, p := range amountPatterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err == nil {
			return n, true
		}
	}
	return 0, false
}

// ExtractSlots pulls every slot the patterns can find for action.
func ExtractSlots(action, text string) value.Record {
	slots := value.Record{}

	amount, hasAmount := ExtractAmount(text)
	switch action {
	case "PAY_BILL", "MAKE_PAYMENT":
		if hasAmount {
			slots["amount"] = value.Number(amount)
		}
		if m := DetectMerchant(text); m != "" {
			slots["merchant"] = value.String(m)
		}
	default:
		if hasAmount {
			slots["price"] = value.Number(amount)
		}
	}

	if m := datePattern.FindStringSubmatch(text); m != nil {
		slots["date"] = value.String(m[1])
	}
	if m := timePattern.FindStringSubmatch(text); m != nil {
		t := m[1]
		if t == "" {
			t = m[2]
		}
		slots["time"] = value.String(strings.TrimSpace(t))
	}
	if m := websitePattern.FindStringSubmatch(text); m != nil {
		slots["website"] = value.String(strings.ToLower(m[1]))
	}
	if m := travelersPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			slots["travelers"] = value.Number(float64(n))
		}
	}
	if m := routePattern.FindStringSubmatch(text); m != nil {
		if action == "BOOK_TRANSPORT" {
			slots["from_location"] = value.String(m[1])
			slots["to_location"] = value.String(m[2])
		} else {
			slots["origin"] = value.String(m[1])
			slots["destination"] = value.String(m[2])
		}
	} else if m := inPattern.FindStringSubmatch(text); m != nil {
		slots["location"] = value.String(m[1])
	}
	return slots
}

func describePayment(slots value.Record) (string, []string) {
	merchant := "the merchant"
	if m, ok := slots["merchant"]; ok {
		merchant = m.String()
	}
	amount := "the amount"
	if a, ok := slots["amount"]; ok {
		amount = "₹" + a.String()
	}

	text := fmt.Sprintf("The user wants to pay a recurring utility bill. I should identify the merchant (%s), validate the amount (%s), and propose a payment.", merchant, amount)
	steps := []string{
		"Identify " + strings.ToLower(strings.ReplaceAll(merchant, "_", " ")),
		"Retrieve bill amount: " + amount,
		"Propose a payment intent",
		"Submit for policy evaluation",
	}
	return text, steps
}

func describeBooking(action string, slots value.Record) (string, []string) {
	if action == ActionUnknown {
		return "I could not match this request to an action I can perform.",
			[]string{"Identify the requested action", "Submit for policy evaluation"}
	}

	what := strings.ToLower(strings.TrimPrefix(action, "BOOK_"))
	known := slots.Keys()
	text := fmt.Sprintf("The user wants to book a %s. I extracted %d detail(s) from the request", what, len(known))
	if len(known) > 0 {
		text += " (" + strings.Join(known, ", ") + ")"
	}
	text += " and will ask for anything still missing before proposing a booking."

	steps := []string{
		"Identify the " + what + " to book",
		"Collect missing booking details",
		"Propose a booking intent",
		"Submit for policy evaluation",
	}
	return text, steps
}
