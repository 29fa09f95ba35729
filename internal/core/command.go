package core

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// expandCommand substitutes template variables and splits the result the
// way a POSIX shell would, without invoking one.
func expandCommand(tpl string, vars map[string]string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, fmt.Errorf("command template is empty")
	}
	expanded := tpl
	for k, v := range vars {
		expanded = strings.ReplaceAll(expanded, "{"+k+"}", v)
	}
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse command template %q: %w", tpl, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("command %q is empty after expansion", tpl)
	}
	return fields, nil
}

// invokeLine renders one harness call for an interpreted source.
func invokeLine(tpl, entry, input string) string {
	return strings.NewReplacer("{entry}", entry, "{input}", input).Replace(tpl)
}
