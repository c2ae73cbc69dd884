// Package enrich implements the deterministic heuristic enrichment stage:
// region and applicable-law extraction over reference data. No external
// calls, no state — identical inputs always produce identical outputs.
package enrich

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/railwatch/railwatch/internal/match"
)

// Law maps a legal code to the alias terms that indicate it in text.
type Law struct {
	Code    string   `yaml:"code"`
	Aliases []string `yaml:"aliases"`
}

// Reference holds the compiled region and law lookup data.
type Reference struct {
	regionNames []string
	regions     *match.List
	laws        []compiledLaw
}

type compiledLaw struct {
	code    string
	aliases *match.List
}

type referenceFile struct {
	Regions []string `yaml:"regions"`
	Laws    []Law    `yaml:"laws"`
}

// LoadReference reads and compiles a yaml reference-data file.
func LoadReference(path string) (*Reference, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var f referenceFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return NewReference(f.Regions, f.Laws)
}

// NewReference compiles reference data supplied programmatically.
func NewReference(regions []string, laws []Law) (*Reference, error) {
	regionList, err := match.NewList(regions)
	if err != nil {
		return nil, fmt.Errorf("compiling region list: %w", err)
	}
	ref := &Reference{regionNames: regions, regions: regionList}
	for _, law := range laws {
		if law.Code == "" || len(law.Aliases) == 0 {
			return nil, fmt.Errorf("law entry %q needs a code and at least one alias", law.Code)
		}
		aliasList, err := match.NewList(law.Aliases)
		if err != nil {
			return nil, fmt.Errorf("compiling aliases for %s: %w", law.Code, err)
		}
		ref.laws = append(ref.laws, compiledLaw{code: law.Code, aliases: aliasList})
	}
	return ref, nil
}

// Region returns the single region name found in text, or "" when zero or
// more than one known region appears. Ambiguity is refused, not guessed.
func (r *Reference) Region(text string) string {
	found := r.regions.FindAll(text)
	if len(found) != 1 {
		return ""
	}
	return found[0]
}

// Laws returns the codes of every law whose any alias appears in text,
// sorted. Multiple laws legitimately co-occur, so no single-match
// restriction applies here.
func (r *Reference) Laws(text string) []string {
	var codes []string
	for _, law := range r.laws {
		if len(law.aliases.FindAll(text)) > 0 {
			codes = append(codes, law.code)
		}
	}
	sort.Strings(codes)
	return codes
}

// LawsJoined is Laws rendered as the comma-joined column value.
func (r *Reference) LawsJoined(text string) string {
	return strings.Join(r.Laws(text), ",")
}
