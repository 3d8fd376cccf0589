// Package sandbox validates untrusted source code and executes it under
// container isolation with no network, a read-only root filesystem, dropped
// privileges, and hard memory/CPU/time caps.
package sandbox

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// RiskLevel buckets an accumulated risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

func riskLevelFor(score int) RiskLevel {
	switch {
	case score >= 90:
		return RiskCritical
	case score >= 70:
		return RiskHigh
	case score >= 30:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Violation is one scored finding.
type Violation struct {
	Type     string
	Message  string
	Line     int
	Critical bool
}

// ValidationResult is CodeValidator's verdict on one source submission.
type ValidationResult struct {
	IsValid         bool
	RiskScore       int
	RiskLevel       RiskLevel
	Violations      []Violation
	Warnings        []Violation
	Recommendations []string
}

var forbiddenImports = map[string]bool{
	"os":            true,
	"os/exec":       true,
	"syscall":       true,
	"net":           true,
	"net/http":      true,
	"net/rpc":       true,
	"plugin":        true,
	"unsafe":        true,
	"os/signal":     true,
	"runtime/debug": true,
}

var allowedImports = map[string]bool{
	"math":      true,
	"time":      true,
	"strconv":   true,
	"strings":   true,
	"sort":      true,
	"errors":    true,
	"fmt":       true,
	"math/rand": true,
}

var forbiddenBuiltins = map[string]bool{
	"eval": true, "exec": true, "compile": true, "__import__": true,
	"open": true, "reload": true, "execfile": true,
}

var dangerousAttributes = map[string]bool{
	"__dict__": true, "__class__": true, "__bases__": true,
	"__subclasses__": true, "__globals__": true, "__code__": true,
	"__closure__": true, "__builtins__": true,
}

var reflectiveCalls = map[string]bool{
	"getattr": true, "setattr": true, "delattr": true, "hasattr": true,
}

// CodeValidator performs a deterministic static-risk scan of submitted Go
// source. It parses the source and walks the syntax tree applying a fixed
// score table; it never executes anything.
type CodeValidator struct {
	fset *token.FileSet
}

// NewCodeValidator constructs a CodeValidator.
func NewCodeValidator() *CodeValidator {
	return &CodeValidator{fset: token.NewFileSet()}
}

// Validate parses source and scores it. Empty input is valid with a single
// non-critical "empty code" violation and a zero score. A parse error adds a
// single non-critical "syntax_error" violation and short-circuits the rest
// of the scan — it never surfaces as a Go error; the caller always gets a
// verdict.
func (v *CodeValidator) Validate(source string) ValidationResult {
	result := ValidationResult{IsValid: true}

	if strings.TrimSpace(source) == "" {
		result.Warnings = append(result.Warnings, Violation{
			Type: "empty_code", Message: "submission is empty",
		})
		result.RiskLevel = riskLevelFor(result.RiskScore)
		return result
	}

	file, err := parser.ParseFile(v.fset, "submission.go", source, parser.AllErrors)
	if err != nil {
		result.Warnings = append(result.Warnings, Violation{
			Type: "syntax_error", Message: err.Error(),
		})
		result.RiskScore = 5
		result.RiskLevel = riskLevelFor(result.RiskScore)
		return result
	}

	var score int
	hasCritical := false

	addViolation := func(typ, msg string, line int, critical bool, points int) {
		score += points
		v := Violation{Type: typ, Message: msg, Line: line, Critical: critical}
		if critical {
			hasCritical = true
			result.Violations = append(result.Violations, v)
		} else {
			result.Warnings = append(result.Warnings, v)
		}
	}

	ast.Inspect(file, func(n ast.Node) bool {
		switch node := n.(type) {
		case *ast.ImportSpec:
			path := strings.Trim(node.Path.Value, `"`)
			pos := v.fset.Position(node.Pos())
			if forbiddenImports[path] {
				addViolation("forbidden_import", "import of forbidden package "+path, pos.Line, true, 30)
			} else if !allowedImports[path] {
				addViolation("non_allowlisted_import", "import of non-allowlisted package "+path, pos.Line, false, 1)
			}

		case *ast.CallExpr:
			pos := v.fset.Position(node.Pos())
			if ident, ok := node.Fun.(*ast.Ident); ok {
				switch {
				case forbiddenBuiltins[ident.Name]:
					addViolation("forbidden_builtin", "use of forbidden builtin "+ident.Name, pos.Line, true, 30)
				case reflectiveCalls[ident.Name]:
					addViolation("reflective_access", "reflective access via "+ident.Name, pos.Line, false, 15)
				}
			}
			if sel, ok := node.Fun.(*ast.SelectorExpr); ok {
				name := sel.Sel.Name
				if name == "Open" || name == "ReadFile" || name == "WriteFile" || name == "Create" {
					addViolation("filesystem_op", "filesystem operation "+name, pos.Line, true, 30)
				}
			}

		case *ast.SelectorExpr:
			pos := v.fset.Position(node.Pos())
			if dangerousAttributes[node.Sel.Name] {
				addViolation("dangerous_attribute", "access to dangerous attribute "+node.Sel.Name, pos.Line, true, 20)
			}

		case *ast.AssignStmt:
			pos := v.fset.Position(node.Pos())
			for _, lhs := range node.Lhs {
				if ident, ok := lhs.(*ast.Ident); ok && forbiddenBuiltins[ident.Name] {
					addViolation("builtin_reassignment", "re-assignment of forbidden builtin name "+ident.Name, pos.Line, false, 10)
				}
			}

		case *ast.FuncLit:
			pos := v.fset.Position(node.Pos())
			ast.Inspect(node.Body, func(inner ast.Node) bool {
				call, ok := inner.(*ast.CallExpr)
				if !ok {
					return true
				}
				if ident, ok := call.Fun.(*ast.Ident); ok && (ident.Name == "eval" || ident.Name == "exec") {
					addViolation("lambda_eval", "function literal containing "+ident.Name, pos.Line, true, 25)
				}
				return true
			})

		case *ast.ForStmt:
			pos := v.fset.Position(node.Pos())
			if node.Cond == nil && node.Init == nil && node.Post == nil {
				addViolation("infinite_loop", "unconditional infinite loop", pos.Line, false, 5)
			} else if ident, ok := node.Cond.(*ast.Ident); ok && ident.Name == "true" {
				addViolation("infinite_loop", "literal infinite loop", pos.Line, false, 5)
			}
		}
		return true
	})

	result.RiskScore = score
	result.RiskLevel = riskLevelFor(score)
	result.IsValid = !hasCritical && result.RiskLevel != RiskCritical

	if !result.IsValid {
		result.Recommendations = append(result.Recommendations, "remove flagged operations and resubmit")
	}
	return result
}
