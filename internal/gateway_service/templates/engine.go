package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mindshift/ums-gateway/internal/core_domain"
	"github.com/mindshift/ums-gateway/internal/gateway_service/repository"
	"github.com/mindshift/ums-gateway/internal/platform/cache"
)

// DefaultLocale is the fallback locale when no template exists for the
// requested one.
const DefaultLocale = "en"

var variablePattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Engine loads tenant templates, validates that caller-supplied variables
// cover every placeholder, and renders title and body. Loaded templates are
// cached per (tenant, code, channel, locale).
type Engine struct {
	repo   repository.TemplateRepository
	cache  *cache.TTLCache[*core_domain.Template]
	logger *slog.Logger
}

func NewEngine(repo repository.TemplateRepository, cacheTTL time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		repo:   repo,
		cache:  cache.NewTTLCache[*core_domain.Template](cacheTTL),
		logger: logger.With("component", "template_engine"),
	}
}

// Load resolves the template for the exact locale, falling back to the
// default locale when the exact one is missing. Inactive templates are
// rejected rather than silently skipped.
func (e *Engine) Load(ctx context.Context, tenantID, code string, channel core_domain.ChannelType, locale string) (*core_domain.Template, error) {
	if locale == "" {
		locale = DefaultLocale
	}

	key := fmt.Sprintf("%s:%s:%s:%s", tenantID, code, channel, locale)
	tmpl, err := e.cache.GetOrLoad(ctx, key, func(ctx context.Context) (*core_domain.Template, error) {
		return e.load(ctx, tenantID, code, channel, locale)
	})
	if err != nil {
		return nil, err
	}
	if !tmpl.IsActive() {
		return nil, core_domain.ErrInvalidTemplate.WithMessage(
			fmt.Sprintf("template %s is not active", code))
	}
	return tmpl, nil
}

func (e *Engine) load(ctx context.Context, tenantID, code string, channel core_domain.ChannelType, locale string) (*core_domain.Template, error) {
	tmpl, err := e.repo.Get(ctx, tenantID, code, channel, locale)
	if err == nil {
		return tmpl, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load template %s: %w", code, err)
	}

	if locale != DefaultLocale {
		e.logger.DebugContext(ctx, "Template missing for locale, trying default",
			"template_code", code, "locale", locale)
		tmpl, err = e.repo.Get(ctx, tenantID, code, channel, DefaultLocale)
		if err == nil {
			return tmpl, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("load template %s: %w", code, err)
		}
	}

	return nil, core_domain.ErrTemplateNotFound.WithDetails(map[string]any{
		"templateCode": code,
		"channel":      channel,
		"locale":       locale,
	})
}

// Validate checks that vars covers every placeholder referenced by the
// template's title and body. Extra variables are ignored.
func (e *Engine) Validate(tmpl *core_domain.Template, vars map[string]string) error {
	required := Variables(tmpl.TitleTemplate + " " + tmpl.BodyTemplate)

	var missing []string
	for _, name := range required {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return core_domain.NewMissingVariablesError(missing)
	}
	return nil
}

// Render substitutes every {{name}} placeholder in the template's title and
// body. Validate must have been called first; an unresolved placeholder is
// left verbatim.
func (e *Engine) Render(tmpl *core_domain.Template, vars map[string]string) (title, body string) {
	return substitute(tmpl.TitleTemplate, vars), substitute(tmpl.BodyTemplate, vars)
}

func substitute(text string, vars map[string]string) string {
	return variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		name := variablePattern.FindStringSubmatch(match)[1]
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
}

// Variables returns the sorted, de-duplicated placeholder names in text.
func Variables(text string) []string {
	seen := make(map[string]struct{})
	for _, match := range variablePattern.FindAllStringSubmatch(text, -1) {
		seen[match[1]] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invalidate drops a cached template after an out-of-band template update.
func (e *Engine) Invalidate(tenantID, code string, channel core_domain.ChannelType, locale string) {
	if locale == "" {
		locale = DefaultLocale
	}
	e.cache.Invalidate(strings.Join([]string{tenantID, code, string(channel), locale}, ":"))
}
