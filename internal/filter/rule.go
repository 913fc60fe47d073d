// Package filter implements the include/exclude/merge rule engine (spec.md
// §4.3, C3): parsing rule lines, glob matching with per-directory merge
// inheritance, and the first-match decision procedure.
package filter

// Action is the decision a rule encodes (spec.md §3 "Filter rule").
type Action int

const (
	ActionInclude Action = iota
	ActionExclude
	ActionHide
	ActionShow
	ActionProtect
	ActionRisk
	ActionDirMerge
	ActionMerge
	ActionClear
)

// Flags are the per-rule modifiers from spec.md §3/§4.3.
type Flags struct {
	Anchored       bool // leading '/' anchors to the transfer root
	DirOnly        bool // trailing '/' restricts to directories
	Negate         bool // '!' prefix on the pattern
	PerDirFromSrc  bool // dir-merge rule reads a file found in each scanned directory
	Inherit        bool // set by the 'e' dir-merge modifier; Engine does not consult it
	WordSplit      bool // merge-file content is split on whitespace, not lines
	SignOverride   bool // merged rules' sign can be overridden by the including rule
}

// Rule is one parsed filter-rule line (spec.md §3 "Filter rule").
type Rule struct {
	Action  Action
	Pattern string
	Flags   Flags

	// MergeFile is the dir-merge/merge filename (e.g. ".rsync-filter")
	// for ActionDirMerge/ActionMerge rules.
	MergeFile string

	hits, misses uint64 // diagnostic counters, spec.md §4.3 "Contract"
}

// Decision is the outcome of matching a path against the rule list.
type Decision int

const (
	Included Decision = iota
	Excluded
)

// Hits returns the number of times this rule has matched, for diagnostics.
func (r *Rule) Hits() uint64 { return r.hits }

// Misses returns the number of times this rule was evaluated and did not
// match, for diagnostics.
func (r *Rule) Misses() uint64 { return r.misses }
