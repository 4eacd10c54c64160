package query

import (
	"github.com/google/cel-go/cel"

	"github.com/userpreference/platform/shared/apperrors"
	"github.com/userpreference/platform/shared/models"
)

// Filter is a compiled CEL expression over the fields of a preference record,
// e.g. `theme == "dark" && analyticsEnabled`.
type Filter struct {
	program cel.Program
}

var filterEnv = mustFilterEnv()

func mustFilterEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("userId", cel.StringType),
		cel.Variable("theme", cel.StringType),
		cel.Variable("language", cel.StringType),
		cel.Variable("timezone", cel.StringType),
		cel.Variable("notificationsEnabled", cel.BoolType),
		cel.Variable("analyticsEnabled", cel.BoolType),
		cel.Variable("customSettings", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("createdAt", cel.TimestampType),
		cel.Variable("updatedAt", cel.TimestampType),
	)
	if err != nil {
		panic(err)
	}
	return env
}

// CompileFilter parses and type-checks expr. Errors are validation failures.
func CompileFilter(expr string) (*Filter, error) {
	ast, issues := filterEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, apperrors.Validation("invalid filter: " + issues.Err().Error())
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, apperrors.Validation("filter must evaluate to a boolean")
	}
	program, err := filterEnv.Program(ast)
	if err != nil {
		return nil, apperrors.Validation("invalid filter: " + err.Error())
	}
	return &Filter{program: program}, nil
}

// Match evaluates the filter against p.
func (f *Filter) Match(p *models.Preference) (bool, error) {
	settings := p.CustomSettings
	if settings == nil {
		settings = map[string]any{}
	}
	out, _, err := f.program.Eval(map[string]any{
		"id":                   p.ID,
		"userId":               p.UserID,
		"theme":                p.Theme,
		"language":             p.Language,
		"timezone":             p.Timezone,
		"notificationsEnabled": p.NotificationsEnabled,
		"analyticsEnabled":     p.AnalyticsEnabled,
		"customSettings":       settings,
		"createdAt":            p.CreatedAt,
		"updatedAt":            p.UpdatedAt,
	})
	if err != nil {
		// Missing custom keys and similar runtime errors exclude the record.
		return false, nil
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, apperrors.Validation("filter must evaluate to a boolean")
	}
	return matched, nil
}
