// Package tools wires the eighteen MCP tool callables onto the registry:
// each entry pairs an argument schema ported from the original document
// store's MCP surface with a handler that delegates to the requirements and
// userdocs service ports (spec.md §1, §4.2).
package tools

import (
	"context"
	"encoding/json"

	"github.com/Belerafon/CookaReq-sub002/internal/registry"
	"github.com/Belerafon/CookaReq-sub002/internal/requirements"
	"github.com/Belerafon/CookaReq-sub002/internal/userdocs"
	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

// Deps is everything the catalog's handlers close over. RequirementsFor
// resolves the service for the active base path (internal/requirements.Cache
// is the production implementation).
type Deps struct {
	RequirementsFor func() requirements.Service
	UserDocs        func() userdocs.Service
}

// RegisterAll adds every tool in the catalog to reg, bound to deps. It is
// called once at process startup; a missing or nil Deps field means the
// corresponding tools are still registered but fail at invocation with a
// uniform NOT_FOUND ("service not configured") error rather than panicking
// the whole server.
func RegisterAll(reg *registry.Registry, deps Deps) {
	for _, spec := range catalog(deps) {
		reg.Register(spec)
	}
}

func catalog(deps Deps) []registry.ToolSpec {
	return []registry.ToolSpec{
		listRequirementsTool(deps),
		getRequirementTool(deps),
		searchRequirementsTool(deps),
		listLabelsTool(deps),
		createRequirementTool(deps),
		updateRequirementFieldTool(deps),
		setRequirementLabelsTool(deps),
		setRequirementAttachmentsTool(deps),
		setRequirementLinksTool(deps),
		deleteRequirementTool(deps),
		createLabelTool(deps),
		updateLabelTool(deps),
		deleteLabelTool(deps),
		linkRequirementsTool(deps),
		listUserDocumentsTool(deps),
		readUserDocumentTool(deps),
		createUserDocumentTool(deps),
		deleteUserDocumentTool(deps),
	}
}

func requirementsService(deps Deps) (requirements.Service, error) {
	if deps.RequirementsFor == nil {
		return nil, &contract.Error{Code: contract.ErrNotFound, Message: "requirements service not configured"}
	}
	svc := deps.RequirementsFor()
	if svc == nil {
		return nil, &contract.Error{Code: contract.ErrNotFound, Message: "requirements service not configured"}
	}
	return svc, nil
}

func userDocsService(deps Deps) (userdocs.Service, error) {
	if deps.UserDocs == nil {
		return nil, &contract.Error{Code: contract.ErrNotFound, Message: "documents root not configured"}
	}
	svc := deps.UserDocs()
	if svc == nil {
		return nil, &contract.Error{Code: contract.ErrNotFound, Message: "documents root not configured"}
	}
	return svc, nil
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, &contract.Error{Code: contract.ErrValidation, Message: "invalid arguments: " + err.Error()}
	}
	return v, nil
}

// --- list_requirements ---

func listRequirementsTool(deps Deps) registry.ToolSpec {
	type args struct {
		Prefix  string   `json:"prefix"`
		Page    int      `json:"page"`
		PerPage int      `json:"per_page"`
		Status  string   `json:"status"`
		Labels  []string `json:"labels"`
	}
	return registry.ToolSpec{
		Name:        "list_requirements",
		Description: "List requirements under a document prefix, paginated and optionally filtered.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prefix": {"type": "string"},
				"page": {"type": "integer", "minimum": 1, "default": 1},
				"per_page": {"type": "integer", "minimum": 1, "default": 50},
				"status": {"type": ["string", "null"]},
				"labels": {"type": "array", "items": {"type": "string"}, "uniqueItems": true},
				"fields": {"type": "array", "items": {"type": "string"}, "uniqueItems": true}
			},
			"required": ["prefix"],
			"additionalProperties": false
		}`),
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			a, err := decode[args](raw)
			if err != nil {
				return nil, err
			}
			svc, err := requirementsService(deps)
			if err != nil {
				return nil, err
			}
			page := a.Page
			if page == 0 {
				page = 1
			}
			perPage := a.PerPage
			if perPage == 0 {
				perPage = 50
			}
			return svc.ListRequirements(a.Prefix, page, perPage, a.Status, a.Labels)
		},
	}
}

// --- get_requirement ---

func getRequirementTool(deps Deps) registry.ToolSpec {
	return registry.ToolSpec{
		Name:        "get_requirement",
		Description: "Fetch a single requirement by its rid.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"rid": {
					"oneOf": [
						{"type": "string"},
						{"type": "array", "items": {"type": "string"}, "minItems": 1, "uniqueItems": true}
					]
				},
				"fields": {"type": ["array", "null"], "items": {"type": "string"}, "uniqueItems": true}
			},
			"required": ["rid"],
			"additionalProperties": false
		}`),
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			var a struct {
				RID json.RawMessage `json:"rid"`
			}
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, &contract.Error{Code: contract.ErrValidation, Message: "invalid arguments: " + err.Error()}
			}
			svc, err := requirementsService(deps)
			if err != nil {
				return nil, err
			}

			var single string
			if err := json.Unmarshal(a.RID, &single); err == nil {
				return svc.GetRequirement(single)
			}
			var many []string
			if err := json.Unmarshal(a.RID, &many); err == nil {
				out := make([]requirements.Requirement, 0, len(many))
				for _, rid := range many {
					req, err := svc.GetRequirement(rid)
					if err != nil {
						return nil, err
					}
					out = append(out, req)
				}
				return out, nil
			}
			return nil, &contract.Error{Code: contract.ErrValidation, Message: "rid must be a string or an array of strings"}
		},
	}
}

// --- search_requirements ---

func searchRequirementsTool(deps Deps) registry.ToolSpec {
	type args struct {
		Query   string   `json:"query"`
		Labels  []string `json:"labels"`
		Status  string   `json:"status"`
		Page    int      `json:"page"`
		PerPage int      `json:"per_page"`
	}
	return registry.ToolSpec{
		Name:        "search_requirements",
		Description: "Search requirements across all documents by free-text query and filters.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": ["string", "null"]},
				"labels": {"type": ["array", "null"], "items": {"type": "string"}, "uniqueItems": true},
				"status": {"type": ["string", "null"]},
				"page": {"type": "integer", "minimum": 1, "default": 1},
				"per_page": {"type": "integer", "minimum": 1, "default": 50},
				"fields": {"type": ["array", "null"], "items": {"type": "string"}, "uniqueItems": true}
			},
			"additionalProperties": false
		}`),
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			a, err := decode[args](raw)
			if err != nil {
				return nil, err
			}
			svc, err := requirementsService(deps)
			if err != nil {
				return nil, err
			}
			page := a.Page
			if page == 0 {
				page = 1
			}
			perPage := a.PerPage
			if perPage == 0 {
				perPage = 50
			}
			return svc.SearchRequirements(a.Query, a.Labels, a.Status, page, perPage)
		},
	}
}

// --- list_labels ---

func listLabelsTool(deps Deps) registry.ToolSpec {
	return registry.ToolSpec{
		Name:        "list_labels",
		Description: "List the labels defined under a document prefix.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"prefix": {"type": "string"}},
			"required": ["prefix"],
			"additionalProperties": false
		}`),
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			a, err := decode[struct {
				Prefix string `json:"prefix"`
			}](raw)
			if err != nil {
				return nil, err
			}
			svc, err := requirementsService(deps)
			if err != nil {
				return nil, err
			}
			return svc.ListLabels(a.Prefix)
		},
	}
}

// --- create_requirement ---

func createRequirementTool(deps Deps) registry.ToolSpec {
	return registry.ToolSpec{
		Name:        "create_requirement",
		Description: "Create a new requirement under a document prefix.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prefix": {"type": "string"},
				"data": {"type": "object"}
			},
			"required": ["prefix", "data"],
			"additionalProperties": false
		}`),
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			a, err := decode[struct {
				Prefix string         `json:"prefix"`
				Data   map[string]any `json:"data"`
			}](raw)
			if err != nil {
				return nil, err
			}
			svc, err := requirementsService(deps)
			if err != nil {
				return nil, err
			}
			return svc.CreateRequirement(a.Prefix, a.Data)
		},
	}
}

// --- update_requirement_field ---

func updateRequirementFieldTool(deps Deps) registry.ToolSpec {
	return registry.ToolSpec{
		Name:        "update_requirement_field",
		Description: "Update a single field of an existing requirement.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"rid": {"type": "string"},
				"field": {"type": "string"},
				"value": {}
			},
			"required": ["rid", "field", "value"],
			"additionalProperties": false
		}`),
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			a, err := decode[struct {
				RID   string `json:"rid"`
				Field string `json:"field"`
				Value any    `json:"value"`
			}](raw)
			if err != nil {
				return nil, err
			}
			svc, err := requirementsService(deps)
			if err != nil {
				return nil, err
			}
			return svc.UpdateRequirementField(a.RID, a.Field, a.Value)
		},
	}
}

// --- set_requirement_labels ---

func setRequirementLabelsTool(deps Deps) registry.ToolSpec {
	return registry.ToolSpec{
		Name:        "set_requirement_labels",
		Description: "Replace the full label set of a requirement.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"rid": {"type": "string"},
				"labels": {"type": "array", "items": {"type": "string"}, "uniqueItems": true}
			},
			"required": ["rid", "labels"],
			"additionalProperties": false
		}`),
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			a, err := decode[struct {
				RID    string   `json:"rid"`
				Labels []string `json:"labels"`
			}](raw)
			if err != nil {
				return nil, err
			}
			svc, err := requirementsService(deps)
			if err != nil {
				return nil, err
			}
			return svc.SetRequirementLabels(a.RID, a.Labels)
		},
	}
}

// --- set_requirement_attachments ---

func setRequirementAttachmentsTool(deps Deps) registry.ToolSpec {
	return registry.ToolSpec{
		Name:        "set_requirement_attachments",
		Description: "Replace the attachment list of a requirement.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"rid": {"type": "string"},
				"attachments": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"id": {"type": "string"},
							"path": {"type": "string"},
							"note": {"type": "string"}
						},
						"required": ["id", "path"],
						"additionalProperties": false
					}
				}
			},
			"required": ["rid", "attachments"],
			"additionalProperties": false
		}`),
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			a, err := decode[struct {
				RID         string                    `json:"rid"`
				Attachments []requirements.Attachment `json:"attachments"`
			}](raw)
			if err != nil {
				return nil, err
			}
			svc, err := requirementsService(deps)
			if err != nil {
				return nil, err
			}
			return svc.SetRequirementAttachments(a.RID, a.Attachments)
		},
	}
}

// --- set_requirement_links ---

func setRequirementLinksTool(deps Deps) registry.ToolSpec {
	return registry.ToolSpec{
		Name:        "set_requirement_links",
		Description: "Replace the outbound link list of a requirement.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"rid": {"type": "string"},
				"links": {
					"type": "array",
					"items": {"oneOf": [{"type": "string"}, {"type": "object"}]}
				}
			},
			"required": ["rid", "links"],
			"additionalProperties": false
		}`),
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			var a struct {
				RID   string            `json:"rid"`
				Links []json.RawMessage `json:"links"`
			}
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, &contract.Error{Code: contract.ErrValidation, Message: "invalid arguments: " + err.Error()}
			}
			svc, err := requirementsService(deps)
			if err != nil {
				return nil, err
			}
			links := make([]requirements.Link, 0, len(a.Links))
			for _, raw := range a.Links {
				var asObj requirements.Link
				if err := json.Unmarshal(raw, &asObj); err == nil && asObj.DerivedRID != "" {
					links = append(links, asObj)
					continue
				}
				var asString string
				if err := json.Unmarshal(raw, &asString); err == nil {
					links = append(links, requirements.Link{SourceRID: a.RID, DerivedRID: asString, LinkType: "relates_to"})
					continue
				}
				return nil, &contract.Error{Code: contract.ErrValidation, Message: "each link must be a string or a link object"}
			}
			return svc.SetRequirementLinks(a.RID, links)
		},
	}
}

// --- delete_requirement ---

func deleteRequirementTool(deps Deps) registry.ToolSpec {
	return registry.ToolSpec{
		Name:        "delete_requirement",
		Description: "Permanently delete a requirement.",
		Destructive: true,
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"rid": {"type": "string"}},
			"required": ["rid"],
			"additionalProperties": false
		}`),
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			a, err := decode[struct {
				RID string `json:"rid"`
			}](raw)
			if err != nil {
				return nil, err
			}
			svc, err := requirementsService(deps)
			if err != nil {
				return nil, err
			}
			if err := svc.DeleteRequirement(a.RID); err != nil {
				return nil, err
			}
			return map[string]any{"rid": a.RID, "deleted": true}, nil
		},
	}
}

// --- create_label ---

func createLabelTool(deps Deps) registry.ToolSpec {
	return registry.ToolSpec{
		Name:        "create_label",
		Description: "Create a new label under a document prefix.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prefix": {"type": "string"},
				"key": {"type": "string"},
				"title": {"type": ["string", "null"]},
				"color": {"type": ["string", "null"]}
			},
			"required": ["prefix", "key"],
			"additionalProperties": false
		}`),
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			a, err := decode[struct {
				Prefix string `json:"prefix"`
				Key    string `json:"key"`
				Title  string `json:"title"`
				Color  string `json:"color"`
			}](raw)
			if err != nil {
				return nil, err
			}
			svc, err := requirementsService(deps)
			if err != nil {
				return nil, err
			}
			return svc.CreateLabel(a.Prefix, a.Key, a.Title, a.Color)
		},
	}
}

// --- update_label ---

func updateLabelTool(deps Deps) registry.ToolSpec {
	return registry.ToolSpec{
		Name:        "update_label",
		Description: "Rename or restyle an existing label, optionally propagating a rename onto requirements.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prefix": {"type": "string"},
				"key": {"type": "string"},
				"new_key": {"type": ["string", "null"]},
				"title": {"type": ["string", "null"]},
				"color": {"type": ["string", "null"]},
				"propagate": {"type": "boolean", "default": false}
			},
			"required": ["prefix", "key"],
			"additionalProperties": false
		}`),
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			a, err := decode[struct {
				Prefix    string  `json:"prefix"`
				Key       string  `json:"key"`
				NewKey    *string `json:"new_key"`
				Title     *string `json:"title"`
				Color     *string `json:"color"`
				Propagate bool    `json:"propagate"`
			}](raw)
			if err != nil {
				return nil, err
			}
			svc, err := requirementsService(deps)
			if err != nil {
				return nil, err
			}
			return svc.UpdateLabel(a.Prefix, a.Key, a.NewKey, a.Title, a.Color, a.Propagate)
		},
	}
}

// --- delete_label ---

func deleteLabelTool(deps Deps) registry.ToolSpec {
	return registry.ToolSpec{
		Name:        "delete_label",
		Description: "Delete a label, optionally stripping it from every requirement that carries it.",
		Destructive: true,
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prefix": {"type": "string"},
				"key": {"type": "string"},
				"remove_from_requirements": {"type": "boolean", "default": false}
			},
			"required": ["prefix", "key"],
			"additionalProperties": false
		}`),
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			a, err := decode[struct {
				Prefix                 string `json:"prefix"`
				Key                    string `json:"key"`
				RemoveFromRequirements bool   `json:"remove_from_requirements"`
			}](raw)
			if err != nil {
				return nil, err
			}
			svc, err := requirementsService(deps)
			if err != nil {
				return nil, err
			}
			if err := svc.DeleteLabel(a.Prefix, a.Key, a.RemoveFromRequirements); err != nil {
				return nil, err
			}
			return map[string]any{"prefix": a.Prefix, "key": a.Key, "deleted": true}, nil
		},
	}
}

// --- link_requirements ---

func linkRequirementsTool(deps Deps) registry.ToolSpec {
	return registry.ToolSpec{
		Name:        "link_requirements",
		Description: "Create a directed link between two requirements.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"source_rid": {"type": "string"},
				"derived_rid": {"type": "string"},
				"link_type": {"type": "string"}
			},
			"required": ["source_rid", "derived_rid", "link_type"],
			"additionalProperties": false
		}`),
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			a, err := decode[struct {
				SourceRID  string `json:"source_rid"`
				DerivedRID string `json:"derived_rid"`
				LinkType   string `json:"link_type"`
			}](raw)
			if err != nil {
				return nil, err
			}
			svc, err := requirementsService(deps)
			if err != nil {
				return nil, err
			}
			return svc.LinkRequirements(a.SourceRID, a.DerivedRID, a.LinkType)
		},
	}
}

// --- list_user_documents ---

func listUserDocumentsTool(deps Deps) registry.ToolSpec {
	return registry.ToolSpec{
		Name:        "list_user_documents",
		Description: "List the tree of available user-provided documentation files.",
		Schema:      json.RawMessage(`{"type": "object", "properties": {}, "additionalProperties": false}`),
		Handler: func(_ context.Context, _ json.RawMessage) (any, error) {
			svc, err := userDocsService(deps)
			if err != nil {
				return nil, err
			}
			return svc.ListTree()
		},
	}
}

// --- read_user_document ---

func readUserDocumentTool(deps Deps) registry.ToolSpec {
	return registry.ToolSpec{
		Name:        "read_user_document",
		Description: "Read a chunk of a user document, clamped to the server's per-call byte limit.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"start_line": {"type": "integer", "minimum": 1, "default": 1},
				"max_bytes": {"type": ["integer", "null"], "minimum": 1}
			},
			"required": ["path"],
			"additionalProperties": false
		}`),
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			a, err := decode[struct {
				Path      string `json:"path"`
				StartLine int    `json:"start_line"`
				MaxBytes  int    `json:"max_bytes"`
			}](raw)
			if err != nil {
				return nil, err
			}
			svc, err := userDocsService(deps)
			if err != nil {
				return nil, err
			}
			startLine := a.StartLine
			if startLine == 0 {
				startLine = 1
			}
			return svc.ReadFile(a.Path, startLine, a.MaxBytes)
		},
	}
}

// --- create_user_document ---

func createUserDocumentTool(deps Deps) registry.ToolSpec {
	return registry.ToolSpec{
		Name:        "create_user_document",
		Description: "Create a user document under the configured documents root.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"content": {"type": "string", "default": ""},
				"exist_ok": {"type": "boolean", "default": false},
				"encoding": {"type": ["string", "null"]}
			},
			"required": ["path"],
			"additionalProperties": false
		}`),
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			a, err := decode[struct {
				Path    string `json:"path"`
				Content string `json:"content"`
				ExistOK bool   `json:"exist_ok"`
			}](raw)
			if err != nil {
				return nil, err
			}
			svc, err := userDocsService(deps)
			if err != nil {
				return nil, err
			}
			written, err := svc.CreateFile(a.Path, a.Content, a.ExistOK)
			if err != nil {
				return nil, err
			}
			return map[string]any{"path": a.Path, "bytes_written": written}, nil
		},
	}
}

// --- delete_user_document ---

func deleteUserDocumentTool(deps Deps) registry.ToolSpec {
	return registry.ToolSpec{
		Name:        "delete_user_document",
		Description: "Delete a user document from the configured documents root.",
		Destructive: true,
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"path": {"type": "string"}},
			"required": ["path"],
			"additionalProperties": false
		}`),
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			a, err := decode[struct {
				Path string `json:"path"`
			}](raw)
			if err != nil {
				return nil, err
			}
			svc, err := userDocsService(deps)
			if err != nil {
				return nil, err
			}
			if err := svc.DeleteFile(a.Path); err != nil {
				return nil, err
			}
			return map[string]any{"path": a.Path, "deleted": true}, nil
		},
	}
}
