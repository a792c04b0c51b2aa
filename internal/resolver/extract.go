package resolver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tivvis/nlagent/internal/catalog"
)

// Slot patterns. Compiled once; extraction runs them against either the
// original query (case-sensitive patterns like names) or the normalized one.
var (
	reEmail    = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	reName     = regexp.MustCompile(`(?:named|called|for)\s+([A-Z][\w'\-]*)(?:\s+([A-Z][\w'\-]*))?`)
	rePhone    = regexp.MustCompile(`(?:phone|number)\s*(?:is\s*)?(\+?[\d][\d\-() ]{5,}[\d])`)
	reCompany  = regexp.MustCompile(`(?:company|firm)\s+([A-Z][\w&.\-]*(?:\s+[A-Z][\w&.\-]*)*)`)
	reQuoted   = regexp.MustCompile(`"([^"]+)"`)
	reHours    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:hours?|hrs?|h)\b`)
	reMinutes  = regexp.MustCompile(`(\d+)\s*(?:minutes?|mins?|m)\b`)
	reISODate  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	reDateFrom = regexp.MustCompile(`(?:from|since|after)\s+(\d{4}-\d{2}-\d{2})`)
	reDateTo   = regexp.MustCompile(`(?:to|until|before)\s+(\d{4}-\d{2}-\d{2})`)
	reLimit    = regexp.MustCompile(`(?:top|first|limit(?:\s+of)?|max)\s+(\d+)`)
	reValue    = regexp.MustCompile(`\bto\s+"?([^"]+?)"?\s*$`)
	reCommand  = regexp.MustCompile(`command\s+(.+)$`)
	reDescFor  = regexp.MustCompile(`\bfor\s+(.+?)(?:\s+on\s+matter\b.*)?$`)
	reBareID   = regexp.MustCompile(`\bid\s*#?\s*(\d+)`)
)

// entityWords maps *_id parameter names to the noun used before the number
// in queries like "update contact 123" or "on matter #42".
var entityWords = map[string]string{
	"contact_id": "contact",
	"matter_id":  "matter",
	"client_id":  "client",
	"user_id":    "user",
	"field_id":   "field",
	"entity_id":  "entity",
}

// extractParams runs the slot-extraction strategy for each declared
// parameter. raw keeps the caller's casing for name extraction; norm is
// the lowercased query used for everything else.
func extractParams(def *catalog.Definition, raw, norm string) map[string]string {
	params := make(map[string]string)
	for _, p := range def.Params {
		if v := extractOne(def, p, raw, norm); v != "" {
			params[p.Name] = v
		}
	}
	return params
}

func extractOne(def *catalog.Definition, p catalog.Param, raw, norm string) string {
	switch p.Name {
	case "first_name":
		if m := reName.FindStringSubmatch(raw); m != nil {
			return m[1]
		}
	case "last_name":
		if m := reName.FindStringSubmatch(raw); m != nil && m[2] != "" {
			return m[2]
		}
	case "phone":
		if m := rePhone.FindStringSubmatch(norm); m != nil {
			return strings.TrimSpace(m[1])
		}
	case "company":
		if m := reCompany.FindStringSubmatch(raw); m != nil {
			return strings.TrimSpace(m[1])
		}
	case "description":
		return extractDescription(raw, norm)
	case "quantity":
		return extractDuration(norm)
	case "date":
		if m := reISODate.FindStringSubmatch(norm); m != nil {
			return m[1]
		}
	case "date_from":
		if m := reDateFrom.FindStringSubmatch(norm); m != nil {
			return m[1]
		}
	case "date_to":
		if m := reDateTo.FindStringSubmatch(norm); m != nil {
			return m[1]
		}
	case "limit":
		if m := reLimit.FindStringSubmatch(norm); m != nil {
			return m[1]
		}
	case "status":
		for _, s := range []string{"open", "pending", "closed"} {
			if containsWord(norm, s) && !strings.HasPrefix(norm, s+" ") {
				return strings.ToUpper(s[:1]) + s[1:]
			}
		}
	case "entity_type":
		if containsWord(norm, "matter") || containsWord(norm, "matters") {
			return "Matter"
		}
		if containsWord(norm, "contact") || containsWord(norm, "contacts") {
			return "Contact"
		}
	case "value":
		if m := reValue.FindStringSubmatch(norm); m != nil {
			return strings.TrimSpace(m[1])
		}
	case "command":
		if m := reQuoted.FindStringSubmatch(raw); m != nil {
			return m[1]
		}
		if m := reCommand.FindStringSubmatch(raw); m != nil {
			return strings.TrimSpace(m[1])
		}
	case "query":
		if m := reQuoted.FindStringSubmatch(raw); m != nil {
			return m[1]
		}
		if m := reName.FindStringSubmatch(raw); m != nil {
			name := m[1]
			if m[2] != "" {
				name += " " + m[2]
			}
			return name
		}
	}

	// Typed fallbacks for slots without a name-specific rule.
	switch p.Type {
	case catalog.TypeEmail:
		if m := reEmail.FindString(raw); m != "" {
			return m
		}
	case catalog.TypeID:
		return extractID(def, p.Name, norm)
	}
	return ""
}

// extractID looks for "<entity> [id] [#]123" first, then a bare "id 123" when
// the operation declares a single required identifier so there is no
// ambiguity about which slot the number fills.
func extractID(def *catalog.Definition, name, norm string) string {
	if word, ok := entityWords[name]; ok {
		re := regexp.MustCompile(fmt.Sprintf(`\b%s\s*(?:id\s*)?#?\s*(\d+)`, word))
		if m := re.FindStringSubmatch(norm); m != nil {
			return m[1]
		}
	}
	requiredIDs := 0
	for _, p := range def.Params {
		if p.Type == catalog.TypeID && p.Required {
			requiredIDs++
		}
	}
	if requiredIDs == 1 {
		if m := reBareID.FindStringSubmatch(norm); m != nil {
			return m[1]
		}
	}
	return ""
}

// extractDuration converts "2 hours" / "90 minutes" into seconds, the unit
// the upstream expects for time-entry quantities.
func extractDuration(norm string) string {
	if m := reHours.FindStringSubmatch(norm); m != nil {
		h, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			return strconv.Itoa(int(h * 3600))
		}
	}
	if m := reMinutes.FindStringSubmatch(norm); m != nil {
		min, err := strconv.Atoi(m[1])
		if err == nil {
			return strconv.Itoa(min * 60)
		}
	}
	return ""
}

// extractDescription prefers quoted text, then falls back to the clause
// after "for". Clauses that are really entity references ("for client 12")
// are rejected rather than misfiled as descriptions.
func extractDescription(raw, norm string) string {
	if m := reQuoted.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	if m := reDescFor.FindStringSubmatch(norm); m != nil {
		desc := strings.TrimSpace(m[1])
		for _, entity := range []string{"matter", "contact", "client", "case", "user"} {
			if strings.HasPrefix(desc, entity+" ") || desc == entity {
				return ""
			}
		}
		return desc
	}
	return ""
}
