package catalog

// Operation identifiers. The catalog is closed: these are the only
// operations the resolver can produce and the dispatcher can run.
const (
	OpAuthStatus         = "auth-status"
	OpCreateContact      = "create-contact"
	OpFindContacts       = "find-contacts"
	OpUpdateContact      = "update-contact"
	OpCreateMatter       = "create-matter"
	OpFindMatters        = "find-matters"
	OpLogTime            = "log-time"
	OpFindActivities     = "find-activities"
	OpFindDocuments      = "find-documents"
	OpListCustomFields   = "list-custom-fields"
	OpSetCustomFieldVal  = "set-custom-field-value"
	OpRunRemoteCLI       = "run-remote-cli-command"
	OpRunLocalCLI        = "run-local-cli-command"
)

// defaults declares the full operation catalog. Order matters: it is the
// final tie-break during resolution.
func defaults() []*Definition {
	return []*Definition{
		{
			Name:        OpAuthStatus,
			Description: "Check whether a valid upstream session is available",
			Kind:        KindProvider,
			Triggers: []Trigger{
				{Phrases: []string{"auth", "authentication", "login", "logged in", "signed in", "token", "session"}},
				{Phrases: []string{"status", "check", "valid", "working", "am i"}},
			},
		},
		{
			Name:        OpCreateContact,
			Description: "Create a new contact",
			Kind:        KindRemoteAPI,
			Method:      "POST",
			Endpoint:    "contacts.json",
			Entity:      "contact",
			Triggers: []Trigger{
				{Phrases: []string{"create", "add", "new", "register"}},
				{Phrases: []string{"contact", "person", "client"}},
			},
			Params: []Param{
				{Name: "first_name", Type: TypeString, Required: true},
				{Name: "last_name", Type: TypeString, Required: true},
				{Name: "email", Type: TypeEmail},
				{Name: "phone", Type: TypeString},
				{Name: "company", Type: TypeString},
			},
		},
		{
			Name:        OpFindContacts,
			Description: "Search contacts by name or email",
			Kind:        KindRemoteAPI,
			Method:      "GET",
			Endpoint:    "contacts.json",
			Paginated:   true,
			Entity:      "contact",
			Triggers: []Trigger{
				{Phrases: []string{"find", "search", "list", "show", "get", "look up", "lookup"}},
				{Phrases: []string{"contact", "contacts", "people", "clients"}},
			},
			Params: []Param{
				{Name: "query", Type: TypeString},
				{Name: "email", Type: TypeEmail},
				{Name: "limit", Type: TypeInt},
			},
		},
		{
			Name:        OpUpdateContact,
			Description: "Update an existing contact by ID",
			Kind:        KindRemoteAPI,
			Method:      "PUT",
			Endpoint:    "contacts/{contact_id}.json",
			Entity:      "contact",
			Triggers: []Trigger{
				{Phrases: []string{"update", "change", "edit", "modify"}},
				{Phrases: []string{"contact", "person", "client"}},
			},
			Params: []Param{
				{Name: "contact_id", Type: TypeID, Required: true},
				{Name: "first_name", Type: TypeString},
				{Name: "last_name", Type: TypeString},
				{Name: "email", Type: TypeEmail},
				{Name: "phone", Type: TypeString},
			},
		},
		{
			Name:        OpCreateMatter,
			Description: "Open a new matter for a client",
			Kind:        KindRemoteAPI,
			Method:      "POST",
			Endpoint:    "matters.json",
			Entity:      "matter",
			Triggers: []Trigger{
				{Phrases: []string{"create", "open", "add", "new", "start"}},
				{Phrases: []string{"matter", "case"}},
			},
			Params: []Param{
				{Name: "description", Type: TypeString, Required: true},
				{Name: "client_id", Type: TypeID, Required: true},
				{Name: "status", Type: TypeString, Default: "Open"},
			},
		},
		{
			Name:        OpFindMatters,
			Description: "Search matters, optionally by client or status",
			Kind:        KindRemoteAPI,
			Method:      "GET",
			Endpoint:    "matters.json",
			Paginated:   true,
			Entity:      "matter",
			Triggers: []Trigger{
				{Phrases: []string{"find", "search", "list", "show", "get"}},
				{Phrases: []string{"matter", "matters", "case", "cases"}},
			},
			Params: []Param{
				{Name: "client_id", Type: TypeID},
				{Name: "status", Type: TypeString},
				{Name: "limit", Type: TypeInt},
			},
		},
		{
			Name:        OpLogTime,
			Description: "Record a time entry against a matter",
			Kind:        KindRemoteAPI,
			Method:      "POST",
			Endpoint:    "activities.json",
			Entity:      "activity",
			Triggers: []Trigger{
				{Phrases: []string{"log", "record", "track", "bill", "enter"}},
				{Phrases: []string{"time", "hours", "minutes", "time entry"}},
			},
			Params: []Param{
				{Name: "matter_id", Type: TypeID, Required: true},
				{Name: "description", Type: TypeString, Required: true},
				{Name: "quantity", Type: TypeDuration, Required: true},
				{Name: "date", Type: TypeDate},
			},
		},
		{
			Name:        OpFindActivities,
			Description: "List time entries, optionally filtered by matter or date",
			Kind:        KindRemoteAPI,
			Method:      "GET",
			Endpoint:    "activities.json",
			Paginated:   true,
			Entity:      "activity",
			Triggers: []Trigger{
				{Phrases: []string{"find", "search", "list", "show", "get"}},
				{Phrases: []string{"activity", "activities", "time entries", "timesheet"}},
			},
			Params: []Param{
				{Name: "matter_id", Type: TypeID},
				{Name: "user_id", Type: TypeID},
				{Name: "date_from", Type: TypeDate},
				{Name: "date_to", Type: TypeDate},
				{Name: "limit", Type: TypeInt},
			},
		},
		{
			Name:        OpFindDocuments,
			Description: "List documents, optionally for a matter",
			Kind:        KindRemoteAPI,
			Method:      "GET",
			Endpoint:    "documents.json",
			Paginated:   true,
			Entity:      "document",
			Triggers: []Trigger{
				{Phrases: []string{"find", "search", "list", "show", "get"}},
				{Phrases: []string{"document", "documents", "file", "files"}},
			},
			Params: []Param{
				{Name: "matter_id", Type: TypeID},
				{Name: "limit", Type: TypeInt},
			},
		},
		{
			Name:        OpListCustomFields,
			Description: "List custom field definitions",
			Kind:        KindLocalCLI,
			Service:     ServiceSecondary,
			Argv:        []string{"fields", "list", "--entity-type", "{entity_type}"},
			Entity:      "custom-field",
			Triggers: []Trigger{
				{Phrases: []string{"list", "show", "get", "display"}},
				{Phrases: []string{"custom field", "custom fields"}},
			},
			Params: []Param{
				{Name: "entity_type", Type: TypeString},
			},
		},
		{
			Name:        OpSetCustomFieldVal,
			Description: "Set a custom field value on an entity",
			Kind:        KindLocalCLI,
			Service:     ServiceSecondary,
			Argv:        []string{"values", "set", "{field_id}", "{entity_id}", "{value}"},
			Entity:      "custom-field",
			Triggers: []Trigger{
				{Phrases: []string{"set", "assign", "update"}},
				{Phrases: []string{"custom field", "field value"}},
			},
			Params: []Param{
				{Name: "field_id", Type: TypeID, Required: true},
				{Name: "entity_id", Type: TypeID, Required: true},
				{Name: "value", Type: TypeString, Required: true},
			},
		},
		{
			Name:        OpRunRemoteCLI,
			Description: "Run a raw command against the practice-management service CLI",
			Kind:        KindLocalCLI,
			Service:     ServicePrimary,
			Argv:        []string{"{command}"},
			Triggers: []Trigger{
				{Phrases: []string{"run", "execute", "exec"}},
				{Phrases: []string{"service cli", "service command", "remote cli"}},
			},
			Params: []Param{
				{Name: "command", Type: TypeString, Required: true},
			},
		},
		{
			Name:        OpRunLocalCLI,
			Description: "Run a raw command against the custom fields manager CLI",
			Kind:        KindLocalCLI,
			Service:     ServiceSecondary,
			Argv:        []string{"{command}"},
			Triggers: []Trigger{
				{Phrases: []string{"run", "execute", "exec"}},
				{Phrases: []string{"fields cli", "field manager", "local cli"}},
			},
			Params: []Param{
				{Name: "command", Type: TypeString, Required: true},
			},
		},
	}
}
