// Package requirements defines the RequirementsService port the tool
// catalog delegates requirement/label/link operations to (spec.md §1, §4.3)
// and ships an in-memory reference implementation so the MCP server and
// engine are exercisable without an on-disk document store.
package requirements

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

// Requirement is the wire shape returned by read tools and accepted (in
// part) by write tools, mirroring the original document store's
// requirement_to_dict/requirement_from_dict round trip.
type Requirement struct {
	RID    string         `json:"rid"`
	Prefix string         `json:"prefix"`
	Title  string         `json:"title"`
	Status string         `json:"status"`
	Labels []string       `json:"labels"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Label is a document-scoped tag definition.
type Label struct {
	Key   string `json:"key"`
	Title string `json:"title,omitempty"`
	Color string `json:"color,omitempty"`
}

// Link is a directed relation between two requirements.
type Link struct {
	SourceRID string `json:"source_rid"`
	DerivedRID string `json:"derived_rid"`
	LinkType  string `json:"link_type"`
}

// Attachment is an opaque file reference attached to a requirement.
type Attachment struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Note string `json:"note,omitempty"`
}

// Page is the paginated envelope list_requirements/search_requirements
// return.
type Page struct {
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
	Items   []Requirement `json:"items"`
}

// Service is the port the tool catalog calls into. Implementations own
// persistence; the core only depends on this interface (spec.md §1).
type Service interface {
	ListRequirements(prefix string, page, perPage int, status string, labels []string) (Page, error)
	GetRequirement(rid string) (Requirement, error)
	SearchRequirements(query string, labels []string, status string, page, perPage int) (Page, error)
	ListLabels(prefix string) ([]Label, error)
	CreateRequirement(prefix string, data map[string]any) (Requirement, error)
	UpdateRequirementField(rid, field string, value any) (Requirement, error)
	SetRequirementLabels(rid string, labels []string) (Requirement, error)
	SetRequirementAttachments(rid string, attachments []Attachment) (Requirement, error)
	SetRequirementLinks(rid string, links []Link) (Requirement, error)
	DeleteRequirement(rid string) error
	CreateLabel(prefix, key, title, color string) (Label, error)
	UpdateLabel(prefix, key string, newKey, title, color *string, propagate bool) (Label, error)
	DeleteLabel(prefix, key string, removeFromRequirements bool) error
	LinkRequirements(sourceRID, derivedRID, linkType string) (Link, error)
}

// notFound builds the uniform NOT_FOUND envelope error for a missing rid.
func notFound(rid string) error {
	return &contract.Error{Code: contract.ErrNotFound, Message: fmt.Sprintf("requirement %s not found", rid)}
}

// MemoryService is a process-local Service backed by a map, grounded in the
// original document store's semantics (sequential rid allocation per
// prefix, case-sensitive label sets) without the filesystem layer that is
// out of this core's scope.
type MemoryService struct {
	mu       sync.Mutex
	byRID    map[string]*Requirement
	byPrefix map[string][]string // prefix -> ordered rids
	labels   map[string]map[string]Label
	nextSeq  map[string]int
}

// NewMemoryService returns an empty in-memory requirements store.
func NewMemoryService() *MemoryService {
	return &MemoryService{
		byRID:    make(map[string]*Requirement),
		byPrefix: make(map[string][]string),
		labels:   make(map[string]map[string]Label),
		nextSeq:  make(map[string]int),
	}
}

func (m *MemoryService) allocateRID(prefix string) string {
	m.nextSeq[prefix]++
	return prefix + "-" + strconv.Itoa(m.nextSeq[prefix])
}

func (m *MemoryService) ListRequirements(prefix string, page, perPage int, status string, labels []string) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rids, ok := m.byPrefix[prefix]
	if !ok {
		return Page{}, &contract.Error{Code: contract.ErrNotFound, Message: "document prefix not found: " + prefix}
	}
	all := make([]Requirement, 0, len(rids))
	for _, rid := range rids {
		all = append(all, *m.byRID[rid])
	}
	filtered := filterByStatus(all, status)
	filtered = filterByLabels(filtered, labels)
	return paginate(filtered, page, perPage), nil
}

func (m *MemoryService) GetRequirement(rid string) (Requirement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.byRID[rid]
	if !ok {
		return Requirement{}, notFound(rid)
	}
	return *req, nil
}

func (m *MemoryService) SearchRequirements(query string, labels []string, status string, page, perPage int) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]Requirement, 0, len(m.byRID))
	for _, req := range m.byRID {
		all = append(all, *req)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].RID < all[j].RID })
	all = filterByStatus(all, status)
	all = filterByLabels(all, labels)
	if strings.TrimSpace(query) != "" {
		q := strings.ToLower(query)
		matched := all[:0:0]
		for _, r := range all {
			if strings.Contains(strings.ToLower(r.Title), q) {
				matched = append(matched, r)
			}
		}
		all = matched
	}
	return paginate(all, page, perPage), nil
}

func (m *MemoryService) ListLabels(prefix string) ([]Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.labels[prefix]
	if !ok {
		return []Label{}, nil
	}
	out := make([]Label, 0, len(set))
	for _, l := range set {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryService) CreateRequirement(prefix string, data map[string]any) (Requirement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	title, _ := data["title"].(string)
	status, _ := data["status"].(string)
	var labels []string
	if raw, ok := data["labels"].([]any); ok {
		for _, l := range raw {
			if s, ok := l.(string); ok {
				labels = append(labels, s)
			}
		}
	}
	rid := m.allocateRID(prefix)
	req := &Requirement{RID: rid, Prefix: prefix, Title: title, Status: status, Labels: labels, Fields: data}
	m.byRID[rid] = req
	m.byPrefix[prefix] = append(m.byPrefix[prefix], rid)
	return *req, nil
}

func (m *MemoryService) UpdateRequirementField(rid, field string, value any) (Requirement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.byRID[rid]
	if !ok {
		return Requirement{}, notFound(rid)
	}
	switch field {
	case "title":
		s, ok := value.(string)
		if !ok {
			return Requirement{}, &contract.Error{Code: contract.ErrValidation, Message: "title must be a string"}
		}
		req.Title = s
	case "status":
		s, ok := value.(string)
		if !ok {
			return Requirement{}, &contract.Error{Code: contract.ErrValidation, Message: "status must be a string"}
		}
		req.Status = s
	default:
		if req.Fields == nil {
			req.Fields = make(map[string]any)
		}
		req.Fields[field] = value
	}
	return *req, nil
}

func (m *MemoryService) SetRequirementLabels(rid string, labels []string) (Requirement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.byRID[rid]
	if !ok {
		return Requirement{}, notFound(rid)
	}
	req.Labels = append([]string(nil), labels...)
	return *req, nil
}

func (m *MemoryService) SetRequirementAttachments(rid string, attachments []Attachment) (Requirement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.byRID[rid]
	if !ok {
		return Requirement{}, notFound(rid)
	}
	if req.Fields == nil {
		req.Fields = make(map[string]any)
	}
	req.Fields["attachments"] = attachments
	return *req, nil
}

func (m *MemoryService) SetRequirementLinks(rid string, links []Link) (Requirement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.byRID[rid]
	if !ok {
		return Requirement{}, notFound(rid)
	}
	if req.Fields == nil {
		req.Fields = make(map[string]any)
	}
	req.Fields["links"] = links
	return *req, nil
}

func (m *MemoryService) DeleteRequirement(rid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.byRID[rid]
	if !ok {
		return notFound(rid)
	}
	delete(m.byRID, rid)
	rids := m.byPrefix[req.Prefix]
	for i, r := range rids {
		if r == rid {
			m.byPrefix[req.Prefix] = append(rids[:i], rids[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryService) CreateLabel(prefix, key, title, color string) (Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.labels[prefix]
	if !ok {
		set = make(map[string]Label)
		m.labels[prefix] = set
	}
	if _, exists := set[key]; exists {
		return Label{}, &contract.Error{Code: contract.ErrConflict, Message: "label already exists: " + key}
	}
	l := Label{Key: key, Title: title, Color: color}
	set[key] = l
	return l, nil
}

func (m *MemoryService) UpdateLabel(prefix, key string, newKey, title, color *string, propagate bool) (Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.labels[prefix]
	if !ok {
		return Label{}, &contract.Error{Code: contract.ErrNotFound, Message: "label not found: " + key}
	}
	l, ok := set[key]
	if !ok {
		return Label{}, &contract.Error{Code: contract.ErrNotFound, Message: "label not found: " + key}
	}
	if title != nil {
		l.Title = *title
	}
	if color != nil {
		l.Color = *color
	}
	finalKey := key
	if newKey != nil && *newKey != key {
		delete(set, key)
		finalKey = *newKey
		l.Key = finalKey
		if propagate {
			for _, rid := range m.byPrefix[prefix] {
				req := m.byRID[rid]
				for i, lbl := range req.Labels {
					if lbl == key {
						req.Labels[i] = finalKey
					}
				}
			}
		}
	}
	set[finalKey] = l
	return l, nil
}

func (m *MemoryService) DeleteLabel(prefix, key string, removeFromRequirements bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.labels[prefix]
	if !ok {
		return &contract.Error{Code: contract.ErrNotFound, Message: "label not found: " + key}
	}
	if _, ok := set[key]; !ok {
		return &contract.Error{Code: contract.ErrNotFound, Message: "label not found: " + key}
	}
	delete(set, key)
	if removeFromRequirements {
		for _, rid := range m.byPrefix[prefix] {
			req := m.byRID[rid]
			req.Labels = removeString(req.Labels, key)
		}
	}
	return nil
}

func (m *MemoryService) LinkRequirements(sourceRID, derivedRID, linkType string) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byRID[sourceRID]; !ok {
		return Link{}, notFound(sourceRID)
	}
	if _, ok := m.byRID[derivedRID]; !ok {
		return Link{}, notFound(derivedRID)
	}
	return Link{SourceRID: sourceRID, DerivedRID: derivedRID, LinkType: linkType}, nil
}

func removeString(ss []string, target string) []string {
	out := ss[:0:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func filterByStatus(reqs []Requirement, status string) []Requirement {
	if status == "" {
		return reqs
	}
	out := reqs[:0:0]
	for _, r := range reqs {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

func filterByLabels(reqs []Requirement, labels []string) []Requirement {
	if len(labels) == 0 {
		return reqs
	}
	out := reqs[:0:0]
	for _, r := range reqs {
		if hasAllLabels(r.Labels, labels) {
			out = append(out, r)
		}
	}
	return out
}

func hasAllLabels(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

func paginate(reqs []Requirement, page, perPage int) Page {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	total := len(reqs)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	items := append([]Requirement(nil), reqs[start:end]...)
	return Page{Total: total, Page: page, PerPage: perPage, Items: items}
}
