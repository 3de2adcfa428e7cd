package executor

import (
	"strings"
	"text/template"

	"github.com/core-tools/hsu-envctl/pkg/domain"
	"github.com/core-tools/hsu-envctl/pkg/errors"
)

// RenderCommand expands a command template. Unit-level vars override global
// ones; UnitID, Kind and Verb are always available. Referencing an undefined
// key is an error.
func RenderCommand(action domain.Action, globalVars map[string]string) (string, error) {
	if !strings.Contains(action.Command, "{{") {
		return action.Command, nil
	}

	data := make(map[string]interface{}, len(globalVars)+len(action.Vars)+3)
	for k, v := range globalVars {
		data[k] = v
	}
	for k, v := range action.Vars {
		data[k] = v
	}
	data["UnitID"] = action.UnitID
	data["Kind"] = string(action.Kind)
	data["Verb"] = string(action.Verb)

	tmpl, err := template.New(action.UnitID).Option("missingkey=error").Parse(action.Command)
	if err != nil {
		return "", errors.NewValidationError("invalid command template", err).WithContext("unit", action.UnitID)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", errors.NewValidationError("failed to render command template", err).WithContext("unit", action.UnitID)
	}
	return b.String(), nil
}
