package dispatch

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tivvis/nlagent/internal/catalog"
	"github.com/tivvis/nlagent/internal/invoke"
	"github.com/tivvis/nlagent/internal/resolver"
	"github.com/tivvis/nlagent/internal/response"
)

// remote executes a remote-api operation: a pagination walk for find/list
// operations, a single call for mutations.
func (d *Dispatcher) remote(ctx context.Context, def *catalog.Definition, res resolver.Resolution, opts Options, trace *response.Trace, start time.Time) response.Response {
	if def.Paginated {
		return d.findAll(ctx, def, res, opts, trace, start)
	}
	return d.mutate(ctx, def, res, opts, trace, start)
}

// mutate issues exactly one upstream call for a create/update operation.
func (d *Dispatcher) mutate(ctx context.Context, def *catalog.Definition, res resolver.Resolution, opts Options, trace *response.Trace, start time.Time) response.Response {
	path := expandPath(def.Endpoint, res.Params)
	body := requestBody(def, res.Params)

	trace.Addf(
		fmt.Sprintf("%s %s", def.Method, path),
		"calling upstream to %s", strings.ToLower(def.Description),
	)

	inv := d.gw.Call(ctx, def.Method, path, nil, body)
	traceCall(trace, def.Method, path, inv)
	d.metrics.ObserveUpstreamCall(string(inv.ErrKind), inv.Retries)
	if !inv.Success {
		return d.remoteFailure(def, res, inv, trace, start)
	}

	record := unwrapData(inv.Payload)
	entity := affectedEntity(def, res.Params, record)

	out := response.Outcome{
		Operation:  def.Name,
		Confidence: res.Confidence,
		Message:    mutateMessage(def, entity),
		Data:       record,
	}
	if entity.Type != "" {
		out.Entities = []response.Entity{entity}
	}
	if opts.IncludeRaw {
		out.Raw = inv.Payload
	}
	return response.Assemble(out, trace, time.Since(start))
}

// findAll walks pagination pages, concatenating records in upstream order
// until the collection ends, a bound binds, or a page fails. A failure after
// at least one good page degrades to a partial result instead of discarding
// fetched records.
func (d *Dispatcher) findAll(ctx context.Context, def *catalog.Definition, res resolver.Resolution, opts Options, trace *response.Trace, start time.Time) response.Response {
	params := queryParams(def, res.Params)
	maxResults := d.maxResults(res, opts)

	trace.Addf(
		fmt.Sprintf("GET %s", def.Endpoint),
		"searching upstream for %ss (up to %d results, %d pages)",
		def.Entity, maxResults, d.cfg.MaxPages,
	)

	pager := d.gw.Paginate(def.Endpoint, params)
	var records []map[string]interface{}
	var rawPages []interface{}
	pages := 0

	for pages < d.cfg.MaxPages && len(records) < maxResults {
		pageRecords, inv := pager.Next(ctx)
		if inv != nil {
			traceCall(trace, "GET", def.Endpoint, inv)
			d.metrics.ObserveUpstreamCall(string(inv.ErrKind), inv.Retries)
		}
		if inv != nil && !inv.Success {
			if len(records) == 0 {
				return d.remoteFailure(def, res, inv, trace, start)
			}
			// Partial success: keep what we have, cap confidence.
			trace.Addf("none", "pagination stopped after %d pages due to %s", pages, inv.ErrKind)
			return d.assembleFind(def, res, opts, records, rawPages, trace, start, true,
				fmt.Sprintf("result may be incomplete: page %d failed with %s", pages+1, inv.ErrKind))
		}
		if len(pageRecords) == 0 {
			break
		}
		records = append(records, pageRecords...)
		if opts.IncludeRaw && inv != nil {
			rawPages = append(rawPages, inv.Payload)
		}
		pages++
		if pager.Done() {
			break
		}
	}

	if len(records) > maxResults {
		records = records[:maxResults]
	}
	return d.assembleFind(def, res, opts, records, rawPages, trace, start, false, "")
}

func (d *Dispatcher) assembleFind(def *catalog.Definition, res resolver.Resolution, opts Options, records []map[string]interface{}, rawPages []interface{}, trace *response.Trace, start time.Time, partial bool, warning string) response.Response {
	out := response.Outcome{
		Operation:  def.Name,
		Confidence: res.Confidence,
		Message:    fmt.Sprintf("Found %d %s", len(records), plural(def.Entity, len(records))),
		Data:       records,
		Partial:    partial,
	}
	if warning != "" {
		out.Warnings = []string{warning}
	}
	if opts.IncludeRaw {
		out.Raw = rawPages
	}
	return response.Assemble(out, trace, time.Since(start))
}

func (d *Dispatcher) maxResults(res resolver.Resolution, opts Options) int {
	max := d.cfg.MaxResults
	if opts.MaxResults > 0 && opts.MaxResults < max {
		max = opts.MaxResults
	}
	if limit := atoi(res.Params["limit"]); limit > 0 && limit < max {
		max = limit
	}
	return max
}

func (d *Dispatcher) remoteFailure(def *catalog.Definition, res resolver.Resolution, inv *invoke.Invocation, trace *response.Trace, start time.Time) response.Response {
	return response.Failed(def.Name, inv.ErrKind,
		remoteFailureMessage(def, inv), res.Confidence, trace, time.Since(start))
}

func remoteFailureMessage(def *catalog.Definition, inv *invoke.Invocation) string {
	switch inv.ErrKind {
	case invoke.ErrAuthMissing:
		return "no access token available — authenticate before running " + def.Name
	case invoke.ErrAuthExpired:
		return "the upstream rejected the session — log in again and retry " + def.Name
	case invoke.ErrRateLimited:
		return fmt.Sprintf("%s gave up after %d retries: the upstream is rate limiting this account", def.Name, inv.Retries)
	case invoke.ErrTransient:
		return fmt.Sprintf("%s failed after %d retries: the upstream kept returning server errors", def.Name, inv.Retries)
	case invoke.ErrNotFound:
		return fmt.Sprintf("%s failed: the upstream could not find the requested record (%s)", def.Name, inv.ErrDetail)
	case invoke.ErrValidation:
		return fmt.Sprintf("%s was rejected by the upstream: %s", def.Name, inv.ErrDetail)
	default:
		return fmt.Sprintf("%s failed: %s", def.Name, inv.ErrDetail)
	}
}

// traceCall records the outcome of one physical upstream call, retries
// included.
func traceCall(trace *response.Trace, method, path string, inv *invoke.Invocation) {
	action := fmt.Sprintf("%s %s", method, path)
	if inv.Success {
		trace.Addf(action, "upstream returned %d after %d retries", inv.StatusCode, inv.Retries)
	} else {
		trace.Addf(action, "upstream call failed with %s after %d retries", inv.ErrKind, inv.Retries)
	}
}

// expandPath substitutes {param} placeholders in an endpoint template.
func expandPath(endpoint string, params map[string]string) string {
	out := endpoint
	for name, value := range params {
		out = strings.ReplaceAll(out, "{"+name+"}", url.PathEscape(value))
	}
	return out
}

// queryParams maps extracted find/list parameters onto upstream query
// parameters. The resolver-side "query" slot becomes the upstream's free-text
// search parameter; pagination keys are owned by the pager.
func queryParams(def *catalog.Definition, params map[string]string) url.Values {
	values := url.Values{}
	for _, p := range def.Params {
		v := params[p.Name]
		if v == "" || p.Name == "limit" {
			continue
		}
		switch p.Name {
		case "date_from":
			values.Set("from", v)
		case "date_to":
			values.Set("to", v)
		default:
			values.Set(p.Name, v)
		}
	}
	return values
}

// requestBody builds the upstream JSON envelope for a mutating operation.
func requestBody(def *catalog.Definition, params map[string]string) map[string]interface{} {
	data := map[string]interface{}{}
	switch def.Name {
	case catalog.OpCreateContact, catalog.OpUpdateContact:
		for _, name := range []string{"first_name", "last_name", "email", "phone", "company"} {
			if v := params[name]; v != "" {
				data[name] = v
			}
		}
	case catalog.OpCreateMatter:
		data["description"] = params["description"]
		data["client"] = map[string]interface{}{"id": atoi(params["client_id"])}
		if v := params["status"]; v != "" {
			data["status"] = v
		}
	case catalog.OpLogTime:
		data["type"] = "TimeEntry"
		data["matter"] = map[string]interface{}{"id": atoi(params["matter_id"])}
		data["note"] = params["description"]
		data["quantity"] = atoi(params["quantity"])
		if v := params["date"]; v != "" {
			data["date"] = v
		}
	}
	return map[string]interface{}{"data": data}
}

// unwrapData peels the upstream's {"data": ...} envelope.
func unwrapData(payload interface{}) interface{} {
	if env, ok := payload.(map[string]interface{}); ok {
		if data, ok := env["data"]; ok {
			return data
		}
	}
	return payload
}

// affectedEntity derives the entity record a mutation touched, preferring
// the upstream's echo of the created/updated record.
func affectedEntity(def *catalog.Definition, params map[string]string, record interface{}) response.Entity {
	entity := response.Entity{Type: def.Entity}
	if rec, ok := record.(map[string]interface{}); ok {
		switch id := rec["id"].(type) {
		case float64:
			entity.ID = fmt.Sprintf("%.0f", id)
		case string:
			entity.ID = id
		}
		if name, ok := rec["name"].(string); ok {
			entity.Name = name
		}
	}
	if entity.Name == "" {
		switch def.Name {
		case catalog.OpCreateContact, catalog.OpUpdateContact:
			entity.Name = strings.TrimSpace(params["first_name"] + " " + params["last_name"])
		case catalog.OpCreateMatter:
			entity.Name = params["description"]
		case catalog.OpLogTime:
			entity.Name = params["description"]
		}
	}
	if entity.ID == "" {
		switch def.Name {
		case catalog.OpUpdateContact:
			entity.ID = params["contact_id"]
		}
	}
	return entity
}

func mutateMessage(def *catalog.Definition, entity response.Entity) string {
	label := entity.Name
	if label == "" {
		label = entity.ID
	}
	switch def.Name {
	case catalog.OpCreateContact:
		return "Created contact " + label
	case catalog.OpUpdateContact:
		return "Updated contact " + label
	case catalog.OpCreateMatter:
		return "Opened matter " + label
	case catalog.OpLogTime:
		return "Logged time entry " + label
	default:
		return def.Description + " succeeded"
	}
}

func plural(noun string, n int) string {
	if n == 1 {
		return noun
	}
	switch {
	case strings.HasSuffix(noun, "y"):
		return noun[:len(noun)-1] + "ies"
	case strings.HasSuffix(noun, "s"):
		return noun
	default:
		return noun + "s"
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
