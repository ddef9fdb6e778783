// Package artifact defines the kernel's single object type and the store
// that holds every instance of it. An artifact's category — Agent, Tool,
// Account, or Data — is never stored directly; it is derived from three
// boolean flags, per the categorical-identity rule the rest of the kernel
// relies on.
package artifact

import (
	"encoding/json"
	"time"
)

// Category is the derived identity of an artifact.
type Category string

const (
	CategoryAgent   Category = "agent"
	CategoryTool    Category = "tool"
	CategoryAccount Category = "account"
	CategoryData    Category = "data"
)

// Code holds an executable artifact's source and the language it runs
// under. Language distinguishes the two system-artifact flavors described
// in the kernel's design notes: "javascript" runs inside the sandbox,
// "jsonrule" is evaluated as a declarative access-contract expression.
type Code struct {
	Language   string `json:"language"`
	Source     string `json:"source"`
	EntryPoint string `json:"entry_point,omitempty"`
}

// Artifact is the kernel's only object type.
type Artifact struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Content         json.RawMessage `json:"content,omitempty"`
	Code            *Code           `json:"code,omitempty"`
	CreatedBy       string          `json:"created_by"`
	AccessContractID string         `json:"access_contract_id,omitempty"`
	Price           int64           `json:"price"`
	HasStanding     bool            `json:"has_standing"`
	CanExecute      bool            `json:"can_execute"`
	HasLoop         bool            `json:"has_loop"`
	Capabilities    []string        `json:"capabilities,omitempty"`
	SizeBytes       int64           `json:"size_bytes"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Category derives the artifact's identity from its boolean flags:
// Agent = has_standing ∧ can_execute ∧ has_loop
// Tool = can_execute ∧ ¬has_standing
// Account = has_standing ∧ ¬can_execute
// Data = neither
func (a *Artifact) Category() Category {
	switch {
	case a.HasStanding && a.CanExecute && a.HasLoop:
		return CategoryAgent
	case a.CanExecute && !a.HasStanding:
		return CategoryTool
	case a.HasStanding && !a.CanExecute:
		return CategoryAccount
	default:
		return CategoryData
	}
}

// HasCapability reports whether a capability string is present.
func (a *Artifact) HasCapability(name string) bool {
	for _, c := range a.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe for the caller to mutate.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	out := *a
	if a.Content != nil {
		out.Content = append(json.RawMessage(nil), a.Content...)
	}
	if a.Code != nil {
		code := *a.Code
		out.Code = &code
	}
	if a.Capabilities != nil {
		out.Capabilities = append([]string(nil), a.Capabilities...)
	}
	return &out
}

// computeSize sets SizeBytes from the marshaled byte length of the
// artifact's content and code, the way the store accounts for disk usage
// against a principal's ledger quota.
func (a *Artifact) computeSize() {
	size := int64(len(a.Content))
	if a.Code != nil {
		size += int64(len(a.Code.Source))
	}
	a.SizeBytes = size
}
