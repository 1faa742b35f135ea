package resilience

import (
	"errors"
	"testing"
)

func TestClassifyCategories(t *testing.T) {
	c := NewClassifier(nil)

	cases := []struct {
		name     string
		err      error
		category Category
		severity Severity
	}{
		{"connection refused", errors.New("connection refused by peer"), CategoryNetwork, SeverityMedium},
		{"timeout", errors.New("request timeout after 30s"), CategoryNetwork, SeverityMedium},
		{"network unreachable", errors.New("network is unreachable"), CategoryNetwork, SeverityMedium},
		{"api status", errors.New("api returned status 500"), CategoryAPI, SeverityHigh},
		{"http error", errors.New("http 429 too many requests"), CategoryAPI, SeverityHigh},
		{"unauthorized", errors.New("unauthorized: bad signature"), CategoryAPI, SeverityHigh},
		{"parse failure", errors.New("parse error in kline payload"), CategoryData, SeverityMedium},
		{"validation", errors.New("validation failed for field price"), CategoryData, SeverityMedium},
		{"order rejected", errors.New("order rejected: insufficient margin"), CategoryTrading, SeverityHigh},
		{"insufficient balance", errors.New("insufficient balance for quantity"), CategoryTrading, SeverityHigh},
		{"config missing", errors.New("config key missing: api_key"), CategoryConfig, SeverityCritical},
		{"permission denied", errors.New("permission denied: /data/state"), CategoryConfig, SeverityCritical},
		{"unknown", errors.New("something strange happened"), CategorySystem, SeverityMedium},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ec := c.Classify(tc.err, "test_op")
			if ec.Category != tc.category {
				t.Errorf("category: expected %s, got %s", tc.category, ec.Category)
			}
			if ec.Severity != tc.severity {
				t.Errorf("severity: expected %s, got %s", tc.severity, ec.Severity)
			}
		})
	}
}

func TestClassifyFillsRetryBudget(t *testing.T) {
	c := NewClassifier(nil)

	ec := c.Classify(errors.New("connection reset"), "fetch_price")
	if ec.MaxRetries != 5 {
		t.Errorf("expected network budget of 5 retries, got %d", ec.MaxRetries)
	}
	if ec.RetryCount != 0 {
		t.Errorf("retry count must start at 0, got %d", ec.RetryCount)
	}

	ec = c.Classify(errors.New("weird internal thing"), "fetch_price")
	if ec.MaxRetries != 0 {
		t.Errorf("system category must not retry, got budget %d", ec.MaxRetries)
	}
}

func TestBreakerKey(t *testing.T) {
	c := NewClassifier(nil)

	ec := c.Classify(errors.New("http 503"), "fetch_klines")
	if got := ec.BreakerKey(); got != "api_fetch_klines" {
		t.Errorf("expected api_fetch_klines, got %s", got)
	}
}
