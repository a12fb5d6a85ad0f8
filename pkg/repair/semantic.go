package repair

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ormasoftchile/stepscript/pkg/rawdoc"
	"github.com/ormasoftchile/stepscript/pkg/script"
)

var (
	schemaOnce sync.Once
	compiled   *sjsonschema.Schema
	compileErr error

	printer = message.NewPrinter(language.English)
)

func documentSchema() (*sjsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schemaJSON, err := script.GenerateJSONSchema()
		if err != nil {
			compileErr = fmt.Errorf("generate schema: %w", err)
			return
		}
		var schemaDoc any
		if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
			compileErr = fmt.Errorf("unmarshal schema: %w", err)
			return
		}
		c := sjsonschema.NewCompiler()
		if err := c.AddResource("script-v2.json", schemaDoc); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile("script-v2.json")
	})
	return compiled, compileErr
}

// validateSemantic checks the document against the JSON Schema exported
// from the script model.
func validateSemantic(v rawdoc.Value) []*Issue {
	const phase = "semantic"
	sch, err := documentSchema()
	if err != nil {
		return []*Issue{errorf(phase, CorruptedData, "", "%v", err)}
	}

	err = sch.Validate(v.Interface())
	if err == nil {
		return nil
	}
	ve, ok := err.(*sjsonschema.ValidationError)
	if !ok {
		return []*Issue{errorf(phase, CorruptedData, "", "%v", err)}
	}

	var issues []*Issue
	for _, cause := range flattenValidationErrors(ve) {
		if req, ok := cause.ErrorKind.(*kind.Required); ok {
			for _, name := range req.Missing {
				loc := append(append([]string{}, cause.InstanceLocation...), name)
				issues = append(issues, semanticIssue(loc, fmt.Sprintf("missing required field %q", name)))
			}
			continue
		}
		issues = append(issues, semanticIssue(cause.InstanceLocation, cause.ErrorKind.LocalizedString(printer)))
	}
	return issues
}

// semanticIssue classifies a schema violation. A bad continue_on_failure
// only warns; it is coerced on load.
func semanticIssue(loc []string, msg string) *Issue {
	path := instancePath(loc)
	if len(loc) > 0 && loc[len(loc)-1] == "continue_on_failure" {
		return warningf("semantic", InvalidConfiguration, path, "%s", msg)
	}
	return errorf("semantic", InvalidConfiguration, path, "%s", msg)
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// instancePath renders a JSON pointer location as steps[0].order.
func instancePath(loc []string) string {
	var b strings.Builder
	for _, seg := range loc {
		if _, err := strconv.Atoi(seg); err == nil {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}
