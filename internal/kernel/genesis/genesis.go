// Package genesis loads the kernel's starting world from YAML manifests:
// the kernel-infrastructure artifacts (ledger, mint, event-log facades),
// static data, and agent bundles, installed into the store and ledger
// before the scheduler boots any loop.
package genesis

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/r3e-network/agent-kernel/internal/kernel/artifact"
	"github.com/r3e-network/agent-kernel/internal/kernel/ledger"
)

// Kind orders which manifest files load first within a directory.
type Kind string

const (
	KindInfra Kind = "infra"
	KindData  Kind = "data"
	KindAgent Kind = "agent"
)

var loadOrder = []Kind{KindInfra, KindData, KindAgent}

// Manifest is the on-disk shape of one genesis YAML file.
type Manifest struct {
	Kind      Kind               `yaml:"kind"`
	Artifacts []ArtifactManifest `yaml:"artifacts"`
	Ledger    []LedgerManifest   `yaml:"ledger"`
}

// ArtifactManifest mirrors artifact.Artifact's genesis-relevant fields.
type ArtifactManifest struct {
	ID               string            `yaml:"id"`
	Type             string            `yaml:"type"`
	Content          string            `yaml:"content"`
	Code             *CodeManifest     `yaml:"code"`
	CreatedBy        string            `yaml:"created_by"`
	AccessContractID string            `yaml:"access_contract_id"`
	Price            int64             `yaml:"price"`
	HasStanding      bool              `yaml:"has_standing"`
	CanExecute       bool              `yaml:"can_execute"`
	HasLoop          bool              `yaml:"has_loop"`
	Capabilities     []string          `yaml:"capabilities"`
}

// CodeManifest mirrors artifact.Code.
type CodeManifest struct {
	Language   string `yaml:"language"`
	Source     string `yaml:"source"`
	EntryPoint string `yaml:"entry_point"`
}

// LedgerManifest seeds one principal's opening balances.
type LedgerManifest struct {
	PrincipalID     string `yaml:"principal_id"`
	ScripBalance    int64  `yaml:"scrip_balance"`
	DiskQuotaBytes  int64  `yaml:"disk_quota_bytes"`
	LLMBudgetMicros int64  `yaml:"llm_budget_micros"`
}

// Loader installs parsed manifests into a store and ledger.
type Loader struct {
	Store  *artifact.Store
	Ledger *ledger.Ledger
}

// LoadDir reads every *.yaml/*.yml file under dir, groups them by Kind,
// and applies infra manifests, then data, then agent bundles — matching
// the dependency order the rest of the kernel boots in. Validation errors
// from every file are aggregated so one bad manifest doesn't hide the
// rest.
func (l *Loader) LoadDir(dir string) error {
	files, err := collectManifestFiles(dir)
	if err != nil {
		return err
	}

	byKind := make(map[Kind][]*Manifest)
	var errs *multierror.Error
	for _, path := range files {
		m, err := parseManifestFile(path)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		byKind[m.Kind] = append(byKind[m.Kind], m)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}

	for _, kind := range loadOrder {
		for _, m := range byKind[kind] {
			if err := l.apply(m); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	return errs.ErrorOrNil()
}

func (l *Loader) apply(m *Manifest) error {
	var errs *multierror.Error
	for _, le := range m.Ledger {
		l.Ledger.Open(le.PrincipalID)
		if le.ScripBalance > 0 {
			if err := l.Ledger.Mint(le.PrincipalID, le.ScripBalance); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("ledger entry %s: %w", le.PrincipalID, err))
			}
		}
		l.Ledger.GrantLLMBudget(le.PrincipalID, le.LLMBudgetMicros)
		if le.DiskQuotaBytes > 0 {
			l.Ledger.SetDiskQuota(le.PrincipalID, le.DiskQuotaBytes)
		}
	}

	for _, am := range m.Artifacts {
		a := &artifact.Artifact{
			ID:               am.ID,
			Type:             am.Type,
			Content:          []byte(am.Content),
			CreatedBy:        am.CreatedBy,
			AccessContractID: am.AccessContractID,
			Price:            am.Price,
			HasStanding:      am.HasStanding,
			CanExecute:       am.CanExecute,
			HasLoop:          am.HasLoop,
			Capabilities:     am.Capabilities,
		}
		if am.Content == "" {
			a.Content = []byte("null")
		}
		if am.Code != nil {
			a.Code = &artifact.Code{Language: am.Code.Language, Source: am.Code.Source, EntryPoint: am.Code.EntryPoint}
		}
		if _, err := l.Store.Create(a); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("artifact %s: %w", am.ID, err))
		}
	}
	return errs.ErrorOrNil()
}

func collectManifestFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func parseManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Kind == "" {
		return nil, fmt.Errorf("manifest is missing required \"kind\" field")
	}
	return &m, nil
}
