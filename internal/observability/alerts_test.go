package observability

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type ruleFile struct {
	Groups []struct {
		Name  string `yaml:"name"`
		Rules []struct {
			Alert       string            `yaml:"alert"`
			Expr        string            `yaml:"expr"`
			For         string            `yaml:"for"`
			Labels      map[string]string `yaml:"labels"`
			Annotations map[string]string `yaml:"annotations"`
		} `yaml:"rules"`
	} `yaml:"groups"`
}

var metricName = regexp.MustCompile(`clubroster_[a-z_]+`)

// runbookAnchors returns the GitHub-style anchors of the runbook's headings.
func runbookAnchors(t *testing.T, path string) map[string]bool {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	anchors := map[string]bool{}
	for _, line := range strings.Split(string(data), "\n") {
		if heading, ok := strings.CutPrefix(line, "## "); ok {
			anchors[strings.ReplaceAll(strings.ToLower(strings.TrimSpace(heading)), " ", "-")] = true
		}
	}
	return anchors
}

func TestLifecycleAlertRules(t *testing.T) {
	root := filepath.Join("..", "..")
	data, err := os.ReadFile(filepath.Join(root, "deploy", "prometheus", "alerts", "lifecycle.yml"))
	require.NoError(t, err)

	var rules ruleFile
	require.NoError(t, yaml.Unmarshal(data, &rules))
	require.Len(t, rules.Groups, 1)
	require.Equal(t, "lifecycle", rules.Groups[0].Name)

	anchors := runbookAnchors(t, filepath.Join(root, "docs", "runbook-lifecycle.md"))
	exported := map[string]bool{
		"clubroster_http_requests_total":                true,
		"clubroster_lifecycle_conflicts_total":          true,
		"clubroster_jobs_failures_total":                true,
		"clubroster_job_last_success_timestamp_seconds": true,
	}
	severities := map[string]bool{"critical": true, "warning": true, "info": true}

	seen := map[string]bool{}
	for _, rule := range rules.Groups[0].Rules {
		t.Run(rule.Alert, func(t *testing.T) {
			assert.False(t, seen[rule.Alert], "duplicate alert")
			seen[rule.Alert] = true

			assert.True(t, severities[rule.Labels["severity"]], "severity %q", rule.Labels["severity"])
			assert.NotEmpty(t, rule.For)
			assert.NotEmpty(t, rule.Annotations["summary"])
			assert.NotEmpty(t, rule.Annotations["description"])

			doc, anchor, ok := strings.Cut(rule.Annotations["runbook"], "#")
			require.True(t, ok, "runbook needs an anchor")
			assert.Equal(t, "docs/runbook-lifecycle.md", doc)
			assert.True(t, anchors[anchor], "runbook has no section %q", anchor)

			metrics := metricName.FindAllString(rule.Expr, -1)
			require.NotEmpty(t, metrics)
			for _, m := range metrics {
				assert.True(t, exported[m], "expression queries unknown metric %s", m)
			}
		})
	}
	for _, name := range []string{"HighErrorRate", "TimelineConflictSpike", "StatusRefreshFailing", "StatusRefreshStale", "IdempotencyCleanupFailing"} {
		assert.True(t, seen[name], "missing alert %s", name)
	}
}
