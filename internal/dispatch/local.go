package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tivvis/nlagent/internal/catalog"
	"github.com/tivvis/nlagent/internal/invoke"
	"github.com/tivvis/nlagent/internal/resolver"
	"github.com/tivvis/nlagent/internal/response"
)

// local executes a local-cli operation through the whitelisted executor.
// Argument vectors come from the catalog template; user input only ever
// fills template slots, never the tool path.
func (d *Dispatcher) local(ctx context.Context, def *catalog.Definition, res resolver.Resolution, trace *response.Trace, start time.Time) response.Response {
	argv := buildArgv(def, res.Params)

	trace.Addf(
		fmt.Sprintf("%s %s", def.Service, strings.Join(argv, " ")),
		"running %s via the %s tool", def.Name, def.Service,
	)

	var command string
	var args []string
	if len(argv) > 0 {
		command, args = argv[0], argv[1:]
	}

	inv := d.ex.Run(ctx, def.Service, command, args, nil)
	d.metrics.ObserveSubprocess(string(def.Service), inv.Success)
	if inv.Success {
		trace.Addf("none", "%s exited cleanly in %s", def.Service, inv.Elapsed.Round(time.Millisecond))
	} else {
		trace.Addf("none", "%s failed with %s", def.Service, inv.ErrKind)
	}

	if !inv.Success {
		return response.Failed(def.Name, inv.ErrKind,
			localFailureMessage(def, inv), res.Confidence, trace, time.Since(start))
	}

	data := inv.Payload
	if data == nil && inv.Raw != "" {
		data = inv.Raw
	}
	return response.Assemble(response.Outcome{
		Operation:  def.Name,
		Confidence: res.Confidence,
		Message:    localMessage(def, inv),
		Data:       data,
	}, trace, time.Since(start))
}

// buildArgv expands the catalog argv template. A slot whose parameter is
// absent is dropped along with its preceding flag; the {command} slot is
// split into fields so a raw command string still becomes a vector, never a
// shell line.
func buildArgv(def *catalog.Definition, params map[string]string) []string {
	var argv []string
	for _, elem := range def.Argv {
		name, isSlot := slotName(elem)
		if !isSlot {
			argv = append(argv, elem)
			continue
		}
		value := params[name]
		if value == "" {
			// Drop the flag that introduced this optional slot.
			if n := len(argv); n > 0 && strings.HasPrefix(argv[n-1], "-") {
				argv = argv[:n-1]
			}
			continue
		}
		if name == "command" {
			argv = append(argv, strings.Fields(value)...)
			continue
		}
		argv = append(argv, value)
	}
	return argv
}

func slotName(elem string) (string, bool) {
	if strings.HasPrefix(elem, "{") && strings.HasSuffix(elem, "}") {
		return elem[1 : len(elem)-1], true
	}
	return "", false
}

func localMessage(def *catalog.Definition, inv *invoke.Invocation) string {
	switch def.Name {
	case catalog.OpListCustomFields:
		return "Listed custom fields"
	case catalog.OpSetCustomFieldVal:
		return "Set custom field value"
	default:
		if inv.Raw != "" {
			return fmt.Sprintf("Command completed: %s", firstLine(inv.Raw))
		}
		return "Command completed"
	}
}

func localFailureMessage(def *catalog.Definition, inv *invoke.Invocation) string {
	switch inv.ErrKind {
	case invoke.ErrSubprocTimeout:
		return fmt.Sprintf("%s timed out: %s", def.Name, inv.ErrDetail)
	case invoke.ErrNotAllowed:
		return fmt.Sprintf("%s could not run: %s", def.Name, inv.ErrDetail)
	default:
		detail := inv.Stderr
		if detail == "" {
			detail = inv.ErrDetail
		}
		return fmt.Sprintf("%s failed (exit %d): %s", def.Name, inv.ExitCode, detail)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
