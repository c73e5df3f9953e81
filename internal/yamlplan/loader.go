// Package yamlplan is the YAML implementation of the config.Loader interface.
package yamlplan

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vk/perfgate/internal/config"
	"github.com/vk/perfgate/internal/ctxlog"
	"github.com/vk/perfgate/internal/fsutil"
)

// document mirrors the top-level layout of a plan file.
type document struct {
	Settings  *config.Settings           `yaml:"settings"`
	Execution []*config.Execution        `yaml:"execution"`
	Scenarios map[string]*config.Scenario `yaml:"scenarios"`
	Services  []*config.Service          `yaml:"services"`
	Modules   struct {
		Monitoring *config.Monitoring `yaml:"monitoring"`
	} `yaml:"modules"`
	Reporting []*reporter `yaml:"reporting"`
}

// reporter is one entry of the reporting list. Only the passfail module
// carries criteria; other modules are tolerated and ignored.
type reporter struct {
	Module   string                  `yaml:"module"`
	Criteria []*config.CriterionSpec `yaml:"criteria"`
}

// Loader reads YAML plan files and resolves ${VAR} placeholders from the
// supplied overrides first, then from the process environment.
type Loader struct {
	vars map[string]string
}

// NewLoader creates a Loader. vars may be nil.
func NewLoader(vars map[string]string) *Loader {
	return &Loader{vars: vars}
}

// Load implements config.Loader. Paths may be files or directories; later
// documents merge over earlier ones.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)

	var files []string
	for _, path := range paths {
		resolved, err := fsutil.ResolvePlanPath(path)
		if err != nil {
			return nil, err
		}
		files = append(files, resolved...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no plan files found in %s", strings.Join(paths, ", "))
	}
	logger.Debug("Resolved plan files.", "count", len(files))

	model := &config.Model{Scenarios: make(map[string]*config.Scenario)}
	for _, file := range files {
		doc, err := l.loadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to load plan file %q: %w", file, err)
		}
		mergeDocument(model, doc)
		logger.Debug("Merged plan file.", "path", file)
	}
	return model, nil
}

func (l *Loader) loadFile(path string) (*document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded, err := l.interpolate(string(raw))
	if err != nil {
		return nil, err
	}

	doc := &document{}
	if err := yaml.Unmarshal([]byte(expanded), doc); err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}
	return doc, nil
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolate substitutes every ${VAR} placeholder. Every placeholder must
// resolve: thresholds silently defaulting to the empty string would disable
// the criteria they guard.
func (l *Loader) interpolate(raw string) (string, error) {
	missing := make(map[string]bool)
	expanded := placeholderPattern.ReplaceAllStringFunc(raw, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if val, ok := l.vars[name]; ok {
			return val
		}
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing[name] = true
		return match
	})

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return "", fmt.Errorf("unresolved variables: %s", strings.Join(names, ", "))
	}
	return expanded, nil
}

// mergeDocument folds one document into the model: lists append, scenarios
// merge by name, single-value sections are overridden by later files.
func mergeDocument(model *config.Model, doc *document) {
	if doc.Settings != nil {
		model.Settings = *doc.Settings
	}
	model.Executions = append(model.Executions, doc.Execution...)
	for name, scenario := range doc.Scenarios {
		model.Scenarios[name] = scenario
	}
	model.Services = append(model.Services, doc.Services...)
	if doc.Modules.Monitoring != nil {
		model.Monitoring = doc.Modules.Monitoring
	}
	for _, rep := range doc.Reporting {
		if rep.Module != "" && rep.Module != "passfail" {
			continue
		}
		model.Criteria = append(model.Criteria, rep.Criteria...)
	}
}
