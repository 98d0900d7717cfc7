package proxy

import (
	"fmt"
	"net/http"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DefaultBypassRules send API calls straight to the network.
var DefaultBypassRules = []string{
	`path startsWith "/api/"`,
}

// Rules decide which requests skip interception.
//
// Each rule is a boolean expr expression over the variables method, path
// and accept. Non-GET/HEAD requests always bypass, whatever the rules say.
type Rules struct {
	sources  []string
	programs []*vm.Program
}

// CompileRules compiles bypass expressions once.
func CompileRules(sources ...string) (*Rules, error) {
	r := &Rules{}
	for _, src := range sources {
		program, err := expr.Compile(src,
			expr.Env(ruleEnv{}),
			expr.AsBool(),
		)
		if err != nil {
			return nil, fmt.Errorf("compile bypass rule %q: %w", src, err)
		}
		r.sources = append(r.sources, src)
		r.programs = append(r.programs, program)
	}
	return r, nil
}

type ruleEnv struct {
	Method string `expr:"method"`
	Path   string `expr:"path"`
	Accept string `expr:"accept"`
}

// Sources returns the rule expressions.
func (r *Rules) Sources() []string {
	return append([]string(nil), r.sources...)
}

// Bypass reports whether req must go straight to the network. The second
// return value names the rule that matched.
func (r *Rules) Bypass(req *Request) (bool, string) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return true, "method"
	}
	env := ruleEnv{Method: req.Method, Path: req.Path(), Accept: req.Accept()}
	for i, program := range r.programs {
		out, err := expr.Run(program, env)
		if err != nil {
			continue
		}
		if matched, ok := out.(bool); ok && matched {
			return true, r.sources[i]
		}
	}
	return false, ""
}
