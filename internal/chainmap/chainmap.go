// Package chainmap resolves the (chainId, dataset, baseUrl) triple every
// request is bound to for its lifetime (spec.md §3 "Chain identity").
package chainmap

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Chain is one resolved chain's routing information.
type Chain struct {
	ChainID int64
	Dataset string
	BaseURL string
}

// defaultDatasets is the built-in table of well-known chain id -> dataset
// name, used when PORTAL_USE_DEFAULT_DATASETS is enabled.
var defaultDatasets = map[int64]string{
	1:     "ethereum-mainnet",
	10:    "optimism-mainnet",
	137:   "polygon-mainnet",
	8453:  "base-mainnet",
	42161: "arbitrum-one",
	11155111: "ethereum-sepolia",
}

// Table resolves chain ids to datasets for the lifetime of the process.
type Table struct {
	single     bool
	singleChain Chain
	byID       map[int64]Chain
}

// Options configures Table construction from the gateway's environment
// (spec.md §6).
type Options struct {
	Mode                string // "single" or "multi"
	PortalBaseURL       string
	ChainID             int64             // single mode
	Dataset             string            // single mode
	DatasetMapJSON      map[string]string // multi mode: chainId string -> dataset
	DatasetMapFile      string            // optional YAML file extending the table
	UseDefaultDatasets  bool
}

// YAMLEntry is one row of an optional static chain-table file.
type YAMLEntry struct {
	ChainID int64  `yaml:"chainId"`
	Dataset string `yaml:"dataset"`
	BaseURL string `yaml:"baseUrl,omitempty"`
}

// Load builds a Table from Options.
func Load(opts Options) (*Table, error) {
	if opts.Mode == "single" {
		if opts.ChainID == 0 || opts.Dataset == "" {
			return nil, fmt.Errorf("single mode requires PORTAL_CHAIN_ID/CHAIN_ID and PORTAL_DATASET")
		}
		return &Table{
			single: true,
			singleChain: Chain{
				ChainID: opts.ChainID,
				Dataset: opts.Dataset,
				BaseURL: opts.PortalBaseURL,
			},
		}, nil
	}

	t := &Table{byID: map[int64]Chain{}}

	if opts.UseDefaultDatasets {
		for id, ds := range defaultDatasets {
			t.byID[id] = Chain{ChainID: id, Dataset: ds, BaseURL: opts.PortalBaseURL}
		}
	}
	for idStr, ds := range opts.DatasetMapJSON {
		id, err := parseChainID(idStr)
		if err != nil {
			return nil, err
		}
		t.byID[id] = Chain{ChainID: id, Dataset: ds, BaseURL: opts.PortalBaseURL}
	}
	if opts.DatasetMapFile != "" {
		entries, err := loadYAMLFile(opts.DatasetMapFile)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			base := e.BaseURL
			if base == "" {
				base = opts.PortalBaseURL
			}
			t.byID[e.ChainID] = Chain{ChainID: e.ChainID, Dataset: e.Dataset, BaseURL: base}
		}
	}
	return t, nil
}

func loadYAMLFile(path string) ([]YAMLEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset map file: %w", err)
	}
	var entries []YAMLEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing dataset map file: %w", err)
	}
	return entries, nil
}

func parseChainID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid chain id %q in dataset map", s)
	}
	return id, nil
}

// Resolve returns the Chain for chainID. In single mode, chainID is ignored
// and the one configured chain is always returned.
func (t *Table) Resolve(chainID int64) (Chain, bool) {
	if t.single {
		return t.singleChain, true
	}
	c, ok := t.byID[chainID]
	return c, ok
}

// Single reports the configured chain id in single mode, for methods like
// eth_chainId that need it with no routing lookup.
func (t *Table) Single() (Chain, bool) {
	if !t.single {
		return Chain{}, false
	}
	return t.singleChain, true
}

// IsSingleMode reports whether the table was built in single-chain mode.
func (t *Table) IsSingleMode() bool { return t.single }

// All returns every configured chain, for the /capabilities endpoint.
func (t *Table) All() []Chain {
	if t.single {
		return []Chain{t.singleChain}
	}
	out := make([]Chain, 0, len(t.byID))
	for _, c := range t.byID {
		out = append(out, c)
	}
	return out
}
