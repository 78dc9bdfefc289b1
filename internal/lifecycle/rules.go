// Package lifecycle holds the data-driven status machinery shared by every
// ticket kind: the transition rule table, kind descriptors and the roll-up
// classification of a ticket's detail statuses.
package lifecycle

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/ticketflow/internal/domain"
)

//go:embed rules.yaml
var defaultRules []byte

// Descriptor is the immutable configuration of one ticket kind.
type Descriptor struct {
	Kind          domain.TicketKind
	Order         []domain.Status
	Initial       domain.Status
	Cancelled     domain.Status
	PartialPrefix string
	// Allocation is the status entered by stock allocation; empty for kinds
	// that do not reserve stock.
	Allocation domain.Status
	LogRollUp  bool

	index      map[domain.Status]int
	terminal   map[domain.Status]struct{}
	completion map[domain.Status]struct{}
	next       map[domain.Status][]domain.Status
}

// Rule is one exported row of the transition table.
type Rule struct {
	CurrentStatus      domain.Status
	AllowedTransitions []domain.Status
	Cancellable        bool
}

// Table maps ticket kinds to their descriptors. It is never mutated after load.
type Table struct {
	kinds map[domain.TicketKind]*Descriptor
	order []domain.TicketKind
}

type fileSpec struct {
	Kinds []kindSpec `yaml:"kinds"`
}

type kindSpec struct {
	Kind          string              `yaml:"kind"`
	Initial       string              `yaml:"initial"`
	Cancelled     string              `yaml:"cancelled"`
	PartialPrefix string              `yaml:"partial_prefix"`
	Allocation    string              `yaml:"allocation"`
	LogRollUp     bool                `yaml:"log_rollup"`
	Order         []string            `yaml:"order"`
	Terminal      []string            `yaml:"terminal"`
	Completion    []string            `yaml:"completion"`
	Transitions   map[string][]string `yaml:"transitions"`
}

// DefaultTable parses the embedded rule set.
func DefaultTable() (*Table, error) {
	return LoadTable(bytes.NewReader(defaultRules))
}

// MustDefaultTable panics when the embedded rules are malformed.
func MustDefaultTable() *Table {
	table, err := DefaultTable()
	if err != nil {
		panic(err)
	}
	return table
}

// LoadTableFile reads rules from path, falling back to the embedded set when path is empty.
func LoadTableFile(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTable()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules: %w", err)
	}
	defer f.Close()
	return LoadTable(f)
}

// LoadTable decodes and validates a YAML rule set.
func LoadTable(r io.Reader) (*Table, error) {
	var spec fileSpec
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if len(spec.Kinds) == 0 {
		return nil, errors.New("rules define no kinds")
	}

	table := &Table{kinds: make(map[domain.TicketKind]*Descriptor, len(spec.Kinds))}
	for _, ks := range spec.Kinds {
		desc, err := buildDescriptor(ks)
		if err != nil {
			return nil, fmt.Errorf("kind %s: %w", ks.Kind, err)
		}
		if _, dup := table.kinds[desc.Kind]; dup {
			return nil, fmt.Errorf("kind %s defined twice", desc.Kind)
		}
		table.kinds[desc.Kind] = desc
		table.order = append(table.order, desc.Kind)
	}
	return table, nil
}

func buildDescriptor(ks kindSpec) (*Descriptor, error) {
	if ks.Kind == "" {
		return nil, errors.New("missing kind name")
	}
	desc := &Descriptor{
		Kind:          domain.TicketKind(ks.Kind),
		Initial:       domain.Status(ks.Initial),
		Cancelled:     domain.Status(ks.Cancelled),
		PartialPrefix: ks.PartialPrefix,
		Allocation:    domain.Status(ks.Allocation),
		LogRollUp:     ks.LogRollUp,
		index:         make(map[domain.Status]int, len(ks.Order)),
		terminal:      make(map[domain.Status]struct{}, len(ks.Terminal)),
		completion:    make(map[domain.Status]struct{}, len(ks.Completion)),
		next:          make(map[domain.Status][]domain.Status, len(ks.Transitions)),
	}
	if desc.PartialPrefix == "" {
		desc.PartialPrefix = "PARTIAL_"
	}
	for i, s := range ks.Order {
		status := domain.Status(s)
		if _, dup := desc.index[status]; dup {
			return nil, fmt.Errorf("status %s listed twice", s)
		}
		desc.index[status] = i
		desc.Order = append(desc.Order, status)
	}

	known := func(s string) error {
		if _, ok := desc.index[domain.Status(s)]; !ok {
			return fmt.Errorf("unknown status %q", s)
		}
		return nil
	}
	for _, s := range []string{ks.Initial, ks.Cancelled} {
		if err := known(s); err != nil {
			return nil, err
		}
	}
	if ks.Allocation != "" {
		if err := known(ks.Allocation); err != nil {
			return nil, err
		}
	}
	for _, s := range ks.Terminal {
		if err := known(s); err != nil {
			return nil, err
		}
		desc.terminal[domain.Status(s)] = struct{}{}
	}
	if _, ok := desc.terminal[desc.Cancelled]; !ok {
		return nil, fmt.Errorf("cancelled status %s must be terminal", desc.Cancelled)
	}
	for _, s := range ks.Completion {
		if err := known(s); err != nil {
			return nil, err
		}
		desc.completion[domain.Status(s)] = struct{}{}
	}
	for from, targets := range ks.Transitions {
		if err := known(from); err != nil {
			return nil, err
		}
		if desc.IsTerminal(domain.Status(from)) {
			return nil, fmt.Errorf("terminal status %s has outgoing rules", from)
		}
		list := make([]domain.Status, 0, len(targets))
		for _, to := range targets {
			if err := known(to); err != nil {
				return nil, err
			}
			if domain.Status(to) == desc.Cancelled {
				return nil, fmt.Errorf("cancellation from %s must not be listed", from)
			}
			list = append(list, domain.Status(to))
		}
		desc.next[domain.Status(from)] = list
	}
	for _, status := range desc.Order {
		if desc.IsTerminal(status) {
			continue
		}
		if len(desc.next[status]) == 0 {
			return nil, fmt.Errorf("non-terminal status %s has no rules", status)
		}
	}
	return desc, nil
}

// Descriptor returns the configuration for kind.
func (t *Table) Descriptor(kind domain.TicketKind) (*Descriptor, bool) {
	if t == nil {
		return nil, false
	}
	desc, ok := t.kinds[kind]
	return desc, ok
}

// Kinds lists configured kinds in file order.
func (t *Table) Kinds() []domain.TicketKind {
	return append([]domain.TicketKind(nil), t.order...)
}

// AllowedNextStatuses returns the ordered next statuses. Unknown kinds,
// unknown statuses and terminal statuses yield an empty list.
func (t *Table) AllowedNextStatuses(kind domain.TicketKind, current domain.Status) []domain.Status {
	desc, ok := t.Descriptor(kind)
	if !ok {
		return []domain.Status{}
	}
	return desc.AllowedNext(current)
}

// Rules exports the table for kind in canonical status order.
func (t *Table) Rules(kind domain.TicketKind) []Rule {
	desc, ok := t.Descriptor(kind)
	if !ok {
		return []Rule{}
	}
	rules := make([]Rule, 0, len(desc.Order))
	for _, status := range desc.Order {
		rules = append(rules, Rule{
			CurrentStatus:      status,
			AllowedTransitions: desc.AllowedNext(status),
			Cancellable:        !desc.IsTerminal(status),
		})
	}
	return rules
}

// AllowedNext returns a copy of the ordered next statuses from current.
func (d *Descriptor) AllowedNext(current domain.Status) []domain.Status {
	return append([]domain.Status{}, d.next[current]...)
}

// CanTransition reports membership of to in the allowed-next set of from.
func (d *Descriptor) CanTransition(from, to domain.Status) bool {
	for _, candidate := range d.next[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status has no outgoing edges.
func (d *Descriptor) IsTerminal(status domain.Status) bool {
	_, ok := d.terminal[status]
	return ok
}

// IsCompletion reports whether entering status stamps the completion date.
func (d *Descriptor) IsCompletion(status domain.Status) bool {
	_, ok := d.completion[status]
	return ok
}

// Knows reports whether status belongs to the kind's enumeration.
func (d *Descriptor) Knows(status domain.Status) bool {
	_, ok := d.index[status]
	return ok
}

// Index returns the canonical position of status, or -1.
func (d *Descriptor) Index(status domain.Status) int {
	if i, ok := d.index[status]; ok {
		return i
	}
	return -1
}

// SupportsAllocation reports whether the kind reserves stock.
func (d *Descriptor) SupportsAllocation() bool {
	return d.Allocation != ""
}

// Partial builds the roll-up label for a partially reached status.
func (d *Descriptor) Partial(status domain.Status) domain.Status {
	if strings.HasPrefix(string(status), d.PartialPrefix) {
		return status
	}
	return domain.Status(d.PartialPrefix + string(status))
}

// PartialCancelled is the roll-up label for a mix of cancelled and live details.
func (d *Descriptor) PartialCancelled() domain.Status {
	return d.Partial(d.Cancelled)
}
