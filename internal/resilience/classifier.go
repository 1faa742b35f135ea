package resilience

import (
	"strings"
	"time"
)

// Severity grades how dangerous a failure is for the bot.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Category groups failures by their origin. The retry budget and the
// circuit breaker key are both derived from the category.
type Category string

const (
	CategoryNetwork Category = "NETWORK"
	CategoryAPI     Category = "API"
	CategoryData    Category = "DATA"
	CategoryTrading Category = "TRADING"
	CategorySystem  Category = "SYSTEM"
	CategoryConfig  Category = "CONFIG"
)

// ErrorContext carries everything the retry executor needs to decide what
// to do with a single failure. Created fresh on every failure, never
// persisted.
type ErrorContext struct {
	Err         error
	Severity    Severity
	Category    Category
	Operation   string
	RetryCount  int
	MaxRetries  int
	LastAttempt time.Time
}

// BreakerKey returns the circuit breaker registry key for this failure,
// one breaker per {category}_{operation} pair.
func (ec *ErrorContext) BreakerKey() string {
	return strings.ToLower(string(ec.Category)) + "_" + ec.Operation
}

// keyword groups checked in order; the first match wins.
var classificationRules = []struct {
	keywords []string
	category Category
	severity Severity
}{
	{[]string{"connection", "timeout", "network"}, CategoryNetwork, SeverityMedium},
	{[]string{"api", "http", "unauthorized"}, CategoryAPI, SeverityHigh},
	{[]string{"data", "parse", "validation"}, CategoryData, SeverityMedium},
	{[]string{"trade", "order", "position", "balance"}, CategoryTrading, SeverityHigh},
	{[]string{"config", "file", "permission"}, CategoryConfig, SeverityCritical},
}

// Classifier maps errors onto the failure taxonomy. Classification is a
// best-effort keyword heuristic over the error text, not an exhaustive
// taxonomy: unknown failures land in SYSTEM/MEDIUM.
type Classifier struct {
	policies map[Category]RetryPolicy
}

// NewClassifier creates a classifier using the given per-category retry
// policies to fill in MaxRetries on classified failures.
func NewClassifier(policies map[Category]RetryPolicy) *Classifier {
	if policies == nil {
		policies = DefaultRetryPolicies()
	}
	return &Classifier{policies: policies}
}

// Classify inspects the error text and returns a fresh ErrorContext for
// this failure.
func (c *Classifier) Classify(err error, operation string) *ErrorContext {
	category := CategorySystem
	severity := SeverityMedium

	if err != nil {
		text := strings.ToLower(err.Error())
		for _, rule := range classificationRules {
			if containsAny(text, rule.keywords) {
				category = rule.category
				severity = rule.severity
				break
			}
		}
	}

	return &ErrorContext{
		Err:         err,
		Severity:    severity,
		Category:    category,
		Operation:   operation,
		RetryCount:  0,
		MaxRetries:  c.policies[category].MaxRetries,
		LastAttempt: time.Now(),
	}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
