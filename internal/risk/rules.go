package risk

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Rules is the local rule engine: keyword lists plus the critical-pattern
// logic check run over a whole transcript. Every match is case-insensitive.
type Rules struct {
	Keywords         []string `yaml:"keywords"`
	HighRiskPhrases  []string `yaml:"high_risk_phrases"`
	CriticalPatterns []string `yaml:"critical_patterns"`
	Impersonation    []string `yaml:"impersonation_phrases"`
	MoneyDemand      []string `yaml:"money_demand_phrases"`
	DegradedMarkers  []string `yaml:"degraded_markers"`
}

// Reason returned by DetectLogic when nothing matched.
const NoLogicMatch = "No critical scam patterns detected"

// DefaultRules returns the built-in English rule set.
func DefaultRules() *Rules {
	return &Rules{
		Keywords: []string{
			"otp", "password", "pin", "account", "blocked", "suspended",
			"urgent", "immediately", "verify", "confirm", "share", "send",
			"bank", "rbi", "government", "tax", "refund", "win", "prize",
			"suspicious", "fraud", "security", "update", "reactivate",
			"debit", "credit", "card", "number", "cvv", "expiry",
			"say", "tell", "give", "provide", "enter", "input", "type",
			"code", "verification", "authenticate", "unlock", "unblock",
			"restore", "access", "login", "credentials",
			"pay", "payment", "money", "transfer", "deposit",
			"fees", "charges", "penalty", "fine", "amount", "cost",
			"activate", "gift card",
		},
		HighRiskPhrases: []string{
			"say your otp", "tell your otp", "give your otp", "share your otp",
			"provide your otp", "enter your otp", "type your otp", "your otp",
			"say your password", "tell your password", "give your password",
			"share your pin", "tell your pin", "give your pin",
			"bank account blocked", "account suspended", "urgent verification",
			"immediate action", "suspicious activity", "fraud detected",
			"pay money to unblock", "send money to unblock", "transfer money to unblock",
			"pay to reactivate", "pay to restore", "pay to unlock", "pay to verify",
			"i am from the bank", "we are from the bank", "bank calling",
			"give us money", "send us money", "transfer money to us", "pay us",
		},
		CriticalPatterns: []string{
			"send us money", "transfer money to us", "pay us money",
			"send payment to us", "give us money", "deposit money to us",
			"send us rupees", "transfer rupees to us", "pay us rupees",
			"bank asking for money", "bank wants money", "bank needs money",
			"bank requesting money", "send money to bank", "transfer money to bank",
			"pay money to unblock", "send money to unblock",
			"transfer money to unblock", "deposit money to unblock",
			"pay to unblock account", "money to unblock", "payment to unblock",
			"immediate payment", "urgent payment", "send immediately",
			"transfer immediately", "pay now", "send now",
			"immediate transfer", "urgent transfer",
		},
		Impersonation: []string{
			"i am from bank", "we are from bank", "i am from the bank", "we are from the bank",
			"bank calling", "bank representative", "bank official", "bank employee",
		},
		MoneyDemand: []string{
			"send money", "transfer money", "pay money", "give money",
			"send rupees", "transfer rupees", "pay rupees", "give rupees",
			"send payment", "transfer payment",
		},
		DegradedMarkers: []string{"scam", "suspicious"},
	}
}

// LoadRules reads a YAML rules file. Lists missing from the file keep their
// built-in defaults.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes YAML rules over the defaults.
func ParseRules(data []byte) (*Rules, error) {
	var file Rules
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	r := DefaultRules()
	overlay(&r.Keywords, file.Keywords)
	overlay(&r.HighRiskPhrases, file.HighRiskPhrases)
	overlay(&r.CriticalPatterns, file.CriticalPatterns)
	overlay(&r.Impersonation, file.Impersonation)
	overlay(&r.MoneyDemand, file.MoneyDemand)
	overlay(&r.DegradedMarkers, file.DegradedMarkers)
	return r, nil
}

func overlay(dst *[]string, src []string) {
	if len(src) == 0 {
		return
	}
	out := make([]string, 0, len(src))
	for _, s := range src {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

// DetectLogic checks a transcript for critical scam patterns, then for a
// bank impersonation claim combined with a money demand.
func (r *Rules) DetectLogic(text string) (bool, string) {
	norm := normalize(text)
	for _, p := range r.CriticalPatterns {
		if containsPhrase(norm, p) {
			return true, fmt.Sprintf("CRITICAL SCAM PATTERN DETECTED: '%s'", p)
		}
	}
	if r.anyPhrase(norm, r.Impersonation) && r.anyPhrase(norm, r.MoneyDemand) {
		return true, "BANK IMPERSONATION + MONEY DEMAND SCAM"
	}
	return false, NoLogicMatch
}

// MatchKeywords returns the configured keywords and high-risk phrases found
// in text, keywords first, each at most once. Single words match whole words
// only; phrases are tagged "[PHRASE: ...]".
func (r *Rules) MatchKeywords(text string) []string {
	norm := normalize(text)
	words := make(map[string]struct{})
	for _, w := range strings.Fields(norm) {
		words[w] = struct{}{}
	}

	var out []string
	seen := make(map[string]struct{})
	for _, kw := range r.Keywords {
		if _, dup := seen[kw]; dup {
			continue
		}
		var hit bool
		if strings.Contains(kw, " ") {
			hit = containsPhrase(norm, kw)
		} else {
			_, hit = words[kw]
		}
		if hit {
			seen[kw] = struct{}{}
			out = append(out, kw)
		}
	}
	for _, p := range r.HighRiskPhrases {
		if containsPhrase(norm, p) {
			out = append(out, "[PHRASE: "+p+"]")
		}
	}
	return out
}

// HasDegradedMarker reports whether free text from an analyzer that could
// not be parsed still reads as a scam verdict.
func (r *Rules) HasDegradedMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range r.DegradedMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// degradedLevels are checked in order against unparseable analyzer text.
var degradedLevels = []Level{LevelCritical, LevelHigh, LevelMedium}

// DegradedLevel names the highest risk level free text mentions, or "low"
// when it mentions none.
func (r *Rules) DegradedLevel(text string) string {
	lower := strings.ToLower(text)
	for _, lvl := range degradedLevels {
		if strings.Contains(lower, string(lvl)) {
			return string(lvl)
		}
	}
	return "low"
}

func (r *Rules) anyPhrase(norm string, phrases []string) bool {
	for _, p := range phrases {
		if containsPhrase(norm, p) {
			return true
		}
	}
	return false
}

// normalize lowercases text and collapses punctuation and whitespace runs
// into single spaces, padded on both ends so phrase lookups can anchor on
// word boundaries.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

func containsPhrase(norm, phrase string) bool {
	return strings.Contains(norm, " "+phrase+" ")
}
