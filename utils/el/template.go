/*
 * Copyright 2024 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package el evaluates ${...} templates with expr-lang expressions.
package el

import (
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rulego/flowmesh/utils/str"
)

// Template renders a value from an expression environment.
type Template interface {
	Execute(data map[string]any) (interface{}, error)
	// HasVar 是否有变量
	HasVar() bool
}

// NewTemplate picks the template kind:
// "${expr}" evaluates to the raw expression result, "a/${expr}/b" renders a string,
// anything else is returned as is.
func NewTemplate(tmpl any) (Template, error) {
	v, ok := tmpl.(string)
	if !ok {
		return &AnyTemplate{Tmpl: tmpl}, nil
	}
	trimV := strings.TrimSpace(v)
	if strings.HasPrefix(trimV, str.VarPrefix) && strings.HasSuffix(trimV, str.VarSuffix) &&
		strings.Count(trimV, str.VarPrefix) == 1 {
		return NewExprTemplate(trimV[2 : len(trimV)-1])
	}
	if str.CheckHasVar(v) {
		return NewMixedTemplate(v)
	}
	return &AnyTemplate{Tmpl: v}, nil
}

// ExprTemplate evaluates a single expression.
type ExprTemplate struct {
	Tmpl    string
	Program *vm.Program
}

func NewExprTemplate(expression string) (*ExprTemplate, error) {
	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	return &ExprTemplate{Tmpl: expression, Program: program}, nil
}

func (t *ExprTemplate) Execute(data map[string]any) (interface{}, error) {
	return expr.Run(t.Program, data)
}

func (t *ExprTemplate) HasVar() bool {
	return true
}

// AnyTemplate returns its value unchanged.
type AnyTemplate struct {
	Tmpl any
}

func (t *AnyTemplate) Execute(data map[string]any) (interface{}, error) {
	return t.Tmpl, nil
}

func (t *AnyTemplate) HasVar() bool {
	return false
}

// 匹配形如 ${...} 的占位符
var varRegex = regexp.MustCompile(`\$\{([^}]*)\}`)

type segment struct {
	start, end int
	program    *vm.Program
}

// MixedTemplate renders text with embedded ${expr} placeholders, like aa/${xxx}.
type MixedTemplate struct {
	Tmpl     string
	segments []segment
}

func NewMixedTemplate(tmpl string) (*MixedTemplate, error) {
	t := &MixedTemplate{Tmpl: tmpl}
	for _, loc := range varRegex.FindAllStringSubmatchIndex(tmpl, -1) {
		program, err := expr.Compile(strings.TrimSpace(tmpl[loc[2]:loc[3]]), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, err
		}
		t.segments = append(t.segments, segment{start: loc[0], end: loc[1], program: program})
	}
	return t, nil
}

func (t *MixedTemplate) Execute(data map[string]any) (interface{}, error) {
	return t.ExecuteAsString(data)
}

// ExecuteAsString renders the template.
func (t *MixedTemplate) ExecuteAsString(data map[string]any) (string, error) {
	if len(t.segments) == 0 {
		return t.Tmpl, nil
	}
	var sb strings.Builder
	lastPos := 0
	for _, s := range t.segments {
		sb.WriteString(t.Tmpl[lastPos:s.start])
		val, err := expr.Run(s.program, data)
		if err != nil {
			return "", err
		}
		sb.WriteString(str.ToString(val))
		lastPos = s.end
	}
	sb.WriteString(t.Tmpl[lastPos:])
	return sb.String(), nil
}

func (t *MixedTemplate) HasVar() bool {
	return len(t.segments) > 0
}
