package criteria

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/vk/perfgate/internal/config"
	"github.com/vk/perfgate/internal/stats"
)

// Parse compiles one criterion spec, accepting both the structured mapping
// form and the short string form. Stop and fail both default to true: the
// health-check gate treats every breach as fatal unless told otherwise.
func Parse(spec *config.CriterionSpec) (*Criterion, error) {
	if spec.Short != "" {
		return parseShort(spec.Short)
	}
	if strings.TrimSpace(spec.Condition) == "" {
		return nil, fmt.Errorf("criterion has no condition")
	}

	c := &Criterion{
		Raw:       spec.Condition,
		Timeframe: spec.Timeframe.D(),
		Stop:      true,
		Fail:      true,
	}
	if spec.Stop != nil {
		c.Stop = *spec.Stop
	}
	if spec.Fail != nil {
		c.Fail = *spec.Fail
	}
	if c.Timeframe < 0 {
		return nil, fmt.Errorf("criterion %q: timeframe must not be negative", c.Raw)
	}
	if err := checkTimeframe(c); err != nil {
		return nil, err
	}

	expr, err := compile(normalizeCondition(spec.Condition))
	if err != nil {
		return nil, err
	}
	c.expr = expr
	return c, nil
}

// ParseAll compiles every criterion in the plan.
func ParseAll(specs []*config.CriterionSpec) ([]*Criterion, error) {
	criteria := make([]*Criterion, 0, len(specs))
	for i, spec := range specs {
		c, err := Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("criteria[%d]: %w", i, err)
		}
		criteria = append(criteria, c)
	}
	return criteria, nil
}

// parseShort handles the compact rule form:
//
//	CONDITION [for TIMEFRAME][, stop|continue as failed|non-failed]
//
// e.g. "avg_rt>2500 for 10s, stop as failed".
func parseShort(raw string) (*Criterion, error) {
	c := &Criterion{Raw: raw, Stop: true, Fail: true}

	head := raw
	if idx := strings.LastIndex(raw, ","); idx >= 0 {
		head = raw[:idx]
		if err := parseFlags(strings.TrimSpace(raw[idx+1:]), c); err != nil {
			return nil, fmt.Errorf("criterion %q: %w", raw, err)
		}
	}

	condition := head
	if idx := strings.LastIndex(head, " for "); idx >= 0 {
		condition = head[:idx]
		timeframe, err := time.ParseDuration(strings.TrimSpace(head[idx+len(" for "):]))
		if err != nil {
			return nil, fmt.Errorf("criterion %q: invalid timeframe: %w", raw, err)
		}
		c.Timeframe = timeframe
	}
	if err := checkTimeframe(c); err != nil {
		return nil, err
	}

	expr, err := compile(normalizeCondition(condition))
	if err != nil {
		return nil, err
	}
	c.expr = expr
	return c, nil
}

// checkTimeframe rejects windows the KPI aggregator cannot serve.
func checkTimeframe(c *Criterion) error {
	if c.Timeframe > stats.Retention {
		return fmt.Errorf("criterion %q: timeframe %s exceeds the %s aggregation window", c.Raw, c.Timeframe, stats.Retention)
	}
	return nil
}

// parseFlags interprets the "<stop|continue> as <failed|non-failed>" tail.
func parseFlags(flags string, c *Criterion) error {
	action, verdict, found := strings.Cut(flags, " as ")
	if !found {
		return fmt.Errorf("invalid flags %q, want \"stop|continue as failed|non-failed\"", flags)
	}
	switch strings.TrimSpace(action) {
	case "stop":
		c.Stop = true
	case "continue":
		c.Stop = false
	default:
		return fmt.Errorf("invalid action %q, want \"stop\" or \"continue\"", action)
	}
	switch strings.TrimSpace(verdict) {
	case "failed":
		c.Fail = true
	case "non-failed":
		c.Fail = false
	default:
		return fmt.Errorf("invalid verdict %q, want \"failed\" or \"non-failed\"", verdict)
	}
	return nil
}

var (
	// Bare "=" is an equality test in the rule dialect; HCL wants "==".
	bareEquals = regexp.MustCompile(`([^<>=!])=([^=])`)

	// Hyphenated KPI names from the original rule dialect.
	subjectAliases = strings.NewReplacer(
		"avg-rt", VarAvgRT,
		"p50-rt", VarP50RT,
		"p90-rt", VarP90RT,
		"p99-rt", VarP99RT,
	)
)

// normalizeCondition maps the rule dialect onto HCL expression syntax.
func normalizeCondition(condition string) string {
	condition = subjectAliases.Replace(strings.TrimSpace(condition))
	return bareEquals.ReplaceAllString(condition, "$1==$2")
}
