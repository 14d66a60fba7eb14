package password

import (
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Rule names reported in Violations, in evaluation order.
const (
	RuleMinLength = "min_length"
	RuleMaxLength = "max_length"
	RuleUppercase = "uppercase"
	RuleLowercase = "lowercase"
	RuleDigit     = "digit"
	RuleSymbol    = "symbol"
)

// MaxBytes is the longest password bcrypt accepts. It counts bytes, not
// characters, and is enforced whatever the Config says.
const MaxBytes = 72

// Symbols is the punctuation set that satisfies the symbol rule.
const Symbols = "!@#$%^&*()-_=+[]{};:'\",.<>/?\\|`~"

type Strength string

const (
	Weak   Strength = "Weak"
	Medium Strength = "Medium"
	Strong Strength = "Strong"
)

// Config toggles each rule independently.
type Config struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireDigits    bool
	RequireSymbols   bool
}

// DefaultConfig requires 8 characters and every character class.
func DefaultConfig() Config {
	return Config{
		MinLength:        8,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireDigits:    true,
		RequireSymbols:   true,
	}
}

// Result is the combined outcome of Validate and Score.
type Result struct {
	IsValid    bool     `json:"is_valid"`
	Violations []string `json:"violations"`
	Score      int      `json:"score"`
	Strength   Strength `json:"strength"`
	Feedback   []string `json:"feedback"`
}

// Policy validates and scores passwords. It holds no mutable state.
type Policy struct {
	cfg Config
}

func NewPolicy(cfg Config) *Policy { return &Policy{cfg: cfg} }

type classes struct {
	length, distinct             int
	upper, lower, digit, symbol bool
}

func inspect(pw string) classes {
	c := classes{length: utf8.RuneCountInString(pw)}
	seen := make(map[rune]struct{}, c.length)
	for _, r := range pw {
		seen[r] = struct{}{}
		switch {
		case unicode.IsUpper(r):
			c.upper = true
		case unicode.IsLower(r):
			c.lower = true
		case unicode.IsDigit(r):
			c.digit = true
		case strings.ContainsRune(Symbols, r):
			c.symbol = true
		}
	}
	c.distinct = len(seen)
	return c
}

// Validate checks every enabled rule and reports all violations together.
func (p *Policy) Validate(pw string) (bool, []string) {
	c := inspect(pw)
	violations := []string{}
	if c.length < p.cfg.MinLength {
		violations = append(violations, RuleMinLength)
	}
	if len(pw) > MaxBytes {
		violations = append(violations, RuleMaxLength)
	}
	if p.cfg.RequireUppercase && !c.upper {
		violations = append(violations, RuleUppercase)
	}
	if p.cfg.RequireLowercase && !c.lower {
		violations = append(violations, RuleLowercase)
	}
	if p.cfg.RequireDigits && !c.digit {
		violations = append(violations, RuleDigit)
	}
	if p.cfg.RequireSymbols && !c.symbol {
		violations = append(violations, RuleSymbol)
	}
	return len(violations) == 0, violations
}

// Score rates a password from 0 to 100 and explains what would raise it.
func (p *Policy) Score(pw string) (int, Strength, []string) {
	c := inspect(pw)

	score := lengthPoints(c.length)
	var missing []string
	for _, cat := range []struct {
		present bool
		hint    string
	}{
		{c.upper, "Add an uppercase letter"},
		{c.lower, "Add a lowercase letter"},
		{c.digit, "Add a number"},
		{c.symbol, "Add a symbol such as ! or @"},
	} {
		if cat.present {
			score += 15
		} else {
			missing = append(missing, cat.hint)
		}
	}
	if c.length > 0 {
		score += int(math.Round(15 * float64(c.distinct) / float64(c.length)))
	}
	if score > 100 {
		score = 100
	}

	strength := band(score)
	var feedback []string
	if ok, _ := p.Validate(pw); ok {
		feedback = append(feedback, fmt.Sprintf("%s password", strength))
	}
	if score < 100 {
		feedback = append(feedback, missing...)
		if c.length < 12 {
			feedback = append(feedback, "Use 12 or more characters")
		}
	}
	return score, strength, feedback
}

// Evaluate runs Validate and Score together.
func (p *Policy) Evaluate(pw string) Result {
	ok, violations := p.Validate(pw)
	score, strength, feedback := p.Score(pw)
	return Result{
		IsValid:    ok,
		Violations: violations,
		Score:      score,
		Strength:   strength,
		Feedback:   feedback,
	}
}

func lengthPoints(n int) int {
	switch {
	case n >= 12:
		return 25
	case n >= 10:
		return 20
	case n >= 8:
		return 15
	case n >= 6:
		return 10
	default:
		return 0
	}
}

func band(score int) Strength {
	switch {
	case score >= 70:
		return Strong
	case score >= 40:
		return Medium
	default:
		return Weak
	}
}
