// Package userdocs defines the UserDocumentsService port the
// list/read/create/delete_user_document tools delegate to, along with an
// in-memory reference implementation that enforces the same root-escape and
// byte-limit rules as the original document store (spec.md §1, §4.3).
package userdocs

import (
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

// DocNode is one entry of the tree list_user_documents returns.
type DocNode struct {
	Path     string    `json:"path"`
	IsDir    bool      `json:"is_dir"`
	Children []DocNode `json:"children,omitempty"`
}

// ReadResult is what read_user_document returns, including the
// continuation metadata a caller needs to page through a large file.
type ReadResult struct {
	Path           string `json:"path"`
	Content        string `json:"content"`
	StartLine      int    `json:"start_line"`
	EndLine        int    `json:"end_line"`
	ClampedToLimit bool   `json:"clamped_to_limit"`
	BytesConsumed  int    `json:"bytes_consumed"`
	BytesRemaining int    `json:"bytes_remaining"`
	TruncatedMidLine bool `json:"truncated_mid_line"`
}

// Service is the port the tool catalog calls into for user-provided
// documentation files.
type Service interface {
	ListTree() ([]DocNode, error)
	ReadFile(path string, startLine int, maxBytes int) (ReadResult, error)
	CreateFile(path, content string, existOK bool) (bytesWritten int, err error)
	DeleteFile(path string) error
}

const defaultMaxReadBytes = 64 * 1024

// MemoryService is a process-local Service over an in-memory tree of UTF-8
// text files, keyed by slash-separated path, used as the reference
// implementation when no real documents root is configured.
type MemoryService struct {
	mu           sync.Mutex
	files        map[string]string
	maxReadBytes int
}

// NewMemoryService returns an empty in-memory documents store.
func NewMemoryService() *MemoryService {
	return &MemoryService{files: make(map[string]string), maxReadBytes: defaultMaxReadBytes}
}

func normalizePath(p string) (string, error) {
	cleaned := path.Clean(p)
	if strings.HasPrefix(cleaned, "../") || cleaned == ".." {
		return "", &contract.Error{Code: contract.ErrUnauthorized, Message: "access outside documents root denied"}
	}
	rel := strings.TrimPrefix(cleaned, "/")
	if rel == "" || rel == "." {
		return "", &contract.Error{Code: contract.ErrValidation, Message: "path must not be empty"}
	}
	return rel, nil
}

func (m *MemoryService) ListTree() ([]DocNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	nodes := make([]DocNode, 0, len(paths))
	for _, p := range paths {
		nodes = append(nodes, DocNode{Path: p, IsDir: false})
	}
	return nodes, nil
}

func (m *MemoryService) ReadFile(p string, startLine int, maxBytes int) (ReadResult, error) {
	rel, err := normalizePath(p)
	if err != nil {
		return ReadResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[rel]
	if !ok {
		return ReadResult{}, &contract.Error{Code: contract.ErrNotFound, Message: "file not found", Details: map[string]any{"path": p}}
	}
	if startLine < 1 {
		startLine = 1
	}
	limit := m.maxReadBytes
	if maxBytes > 0 && maxBytes < limit {
		limit = maxBytes
	}

	lines := strings.Split(content, "\n")
	if startLine > len(lines) {
		return ReadResult{Path: rel, StartLine: startLine, EndLine: startLine - 1}, nil
	}

	var b strings.Builder
	consumed := 0
	endLine := startLine - 1
	clamped := false
	midLine := false
	for i := startLine - 1; i < len(lines); i++ {
		line := lines[i]
		suffix := ""
		if i < len(lines)-1 {
			suffix = "\n"
		}
		chunk := line + suffix
		if consumed+len(chunk) > limit {
			remaining := limit - consumed
			if remaining > 0 {
				b.WriteString(chunk[:remaining])
				consumed += remaining
				midLine = true
			}
			clamped = true
			break
		}
		b.WriteString(chunk)
		consumed += len(chunk)
		endLine = i + 1
	}

	totalBytes := len(content)
	bytesRemaining := totalBytes - consumed
	if bytesRemaining < 0 {
		bytesRemaining = 0
	}
	return ReadResult{
		Path:             rel,
		Content:          b.String(),
		StartLine:        startLine,
		EndLine:          endLine,
		ClampedToLimit:   clamped,
		BytesConsumed:    consumed,
		BytesRemaining:   bytesRemaining,
		TruncatedMidLine: midLine,
	}, nil
}

func (m *MemoryService) CreateFile(p, content string, existOK bool) (int, error) {
	rel, err := normalizePath(p)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.files[rel]; exists && !existOK {
		return 0, &contract.Error{Code: contract.ErrConflict, Message: "file already exists"}
	}
	m.files[rel] = content
	return len([]byte(content)), nil
}

func (m *MemoryService) DeleteFile(p string) error {
	rel, err := normalizePath(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[rel]; !ok {
		return &contract.Error{Code: contract.ErrNotFound, Message: "file not found", Details: map[string]any{"path": p}}
	}
	delete(m.files, rel)
	return nil
}
