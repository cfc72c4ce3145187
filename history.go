package chronofsm

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// HistoryEntry is one recorded transition, per spec §3. Newest entries live
// at index 0 of the owning TransitionHistory's ring.
type HistoryEntry struct {
	// ID uniquely identifies this entry, independent of its position in the
	// ring (which shifts as older entries are trimmed).
	ID        uuid.UUID      `json:"id"`
	From      *string        `json:"from"`
	To        string         `json:"to"`
	Timestamp int64          `json:"timestamp"`
	Success   bool           `json:"success"`
	Context   Context        `json:"context,omitempty"`
	Group     string         `json:"group,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RecordOptions carries the optional fields of a history record. Per spec
// §9(a), this is the "richer keyword-bag form" chosen over the positional
// signature found in the source.
type RecordOptions struct {
	Success  bool
	Group    string
	Metadata map[string]any
	Context  Context
}

// HistoryOptions configures a TransitionHistory.
type HistoryOptions struct {
	// MaxSize bounds the ring; the oldest entries are trimmed once exceeded.
	// Zero means unbounded (not recommended for long-running machines).
	MaxSize int
	// IncludeContext controls whether recorded entries carry a context
	// snapshot. When false, the field is entirely absent, never a
	// placeholder, per spec §3.
	IncludeContext bool
	// ContextFilter, if set, is applied to the context before it is stored,
	// and may be re-applied at serialization time if ContextFilterOnExport.
	ContextFilter func(Context) Context
	// ContextFilterOnExport re-applies ContextFilter during ToJSON.
	ContextFilterOnExport bool
}

// TransitionHistory is a bounded, newest-first ring of transition records
// with query, serialization, and time-travel support. Spec component C3.
type TransitionHistory struct {
	opts    HistoryOptions
	clock   Scheduler
	entries []HistoryEntry // entries[0] is newest
}

// NewTransitionHistory creates a TransitionHistory. clock supplies
// timestamps for Record via Now().
func NewTransitionHistory(opts HistoryOptions, clock Scheduler) *TransitionHistory {
	return &TransitionHistory{opts: opts, clock: clock}
}

// Record appends a new entry at index 0 and trims the tail to MaxSize.
func (h *TransitionHistory) Record(from *string, to string, opts RecordOptions) HistoryEntry {
	var ctx Context
	if h.opts.IncludeContext {
		ctx = opts.Context
		if h.opts.ContextFilter != nil {
			ctx = h.opts.ContextFilter(ctx)
		}
	}
	entry := HistoryEntry{
		ID:        uuid.New(),
		From:      from,
		To:        to,
		Timestamp: h.clock.Now(),
		Success:   opts.Success,
		Context:   ctx,
		Group:     opts.Group,
		Metadata:  opts.Metadata,
	}
	h.entries = append([]HistoryEntry{entry}, h.entries...)
	if h.opts.MaxSize > 0 && len(h.entries) > h.opts.MaxSize {
		h.entries = h.entries[:h.opts.MaxSize]
	}
	return entry
}

// Len returns the number of entries currently retained.
func (h *TransitionHistory) Len() int { return len(h.entries) }

// All returns every retained entry, newest first. The returned slice is a
// copy; callers may not mutate the history through it.
func (h *TransitionHistory) All() []HistoryEntry {
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// At returns the entry at ring index i (0 = newest), or false if out of range.
func (h *TransitionHistory) At(i int) (HistoryEntry, bool) {
	if i < 0 || i >= len(h.entries) {
		return HistoryEntry{}, false
	}
	return h.entries[i], true
}

// Last returns the most recent entry, if any.
func (h *TransitionHistory) Last() (HistoryEntry, bool) {
	return h.At(0)
}

// StateMatch selects whether ForState matches a state as the transition's
// source, target, or either.
type StateMatch struct {
	AsSource bool
	AsTarget bool
}

// ForState returns entries touching name according to match.
func (h *TransitionHistory) ForState(name string, match StateMatch) []HistoryEntry {
	return h.Filter(func(e HistoryEntry) bool {
		if match.AsSource && e.From != nil && *e.From == name {
			return true
		}
		if match.AsTarget && e.To == name {
			return true
		}
		return false
	})
}

// ForGroup returns entries tagged with the given group name.
func (h *TransitionHistory) ForGroup(group string) []HistoryEntry {
	return h.Filter(func(e HistoryEntry) bool { return e.Group == group })
}

// Successful returns entries with Success == true.
func (h *TransitionHistory) Successful() []HistoryEntry {
	return h.Filter(func(e HistoryEntry) bool { return e.Success })
}

// Failed returns entries with Success == false.
func (h *TransitionHistory) Failed() []HistoryEntry {
	return h.Filter(func(e HistoryEntry) bool { return !e.Success })
}

// InRange returns entries with t0 <= Timestamp <= t1.
func (h *TransitionHistory) InRange(t0, t1 int64) []HistoryEntry {
	return h.Filter(func(e HistoryEntry) bool { return e.Timestamp >= t0 && e.Timestamp <= t1 })
}

// Filter returns every entry for which fn returns true, newest first.
func (h *TransitionHistory) Filter(fn func(HistoryEntry) bool) []HistoryEntry {
	out := make([]HistoryEntry, 0)
	for _, e := range h.entries {
		if fn(e) {
			out = append(out, e)
		}
	}
	return out
}

// HasPath reports whether there is a contiguous subsequence of the history,
// read in chronological order (i.e. the reverse of storage order), whose
// `To` values equal sequence[1:] and whose first entry's `From` equals
// sequence[0]. Per spec §4.4/§9(d), this is the corrected semantics: the
// source's implementation has an off-by-one in its index bounds, and this
// is the intended behavior rather than a faithful port of the bug.
func (h *TransitionHistory) HasPath(sequence []string) bool {
	if len(sequence) < 2 {
		return false
	}
	chrono := h.chronological()
	need := len(sequence) - 1
	for start := 0; start+need <= len(chrono); start++ {
		first := chrono[start]
		if first.From == nil || *first.From != sequence[0] {
			continue
		}
		match := true
		for i := 0; i < need; i++ {
			if chrono[start+i].To != sequence[i+1] {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		contiguous := true
		for i := 1; i < need; i++ {
			prevTo := chrono[start+i-1].To
			if chrono[start+i].From == nil || *chrono[start+i].From != prevTo {
				contiguous = false
				break
			}
		}
		if contiguous {
			return true
		}
	}
	return false
}

// chronological returns entries oldest-first (the reverse of the storage
// order, which is newest-first).
func (h *TransitionHistory) chronological() []HistoryEntry {
	out := make([]HistoryEntry, len(h.entries))
	for i, e := range h.entries {
		out[len(h.entries)-1-i] = e
	}
	return out
}

// freqEntry is one (name, count) pair for the MostFrequent* queries.
type freqEntry struct {
	Name  string
	Count int
}

// MostFrequentStates returns up to limit target (or source) states ranked
// by occurrence count, most frequent first; ties keep first-seen order.
func (h *TransitionHistory) MostFrequentStates(asTarget bool, limit int) []freqEntry {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, e := range h.chronological() {
		var name string
		if asTarget {
			name = e.To
		} else if e.From != nil {
			name = *e.From
		} else {
			continue
		}
		if _, seen := counts[name]; !seen {
			order = append(order, name)
		}
		counts[name]++
	}
	return topN(order, counts, limit)
}

// transitionKey joins a from/to pair into one frequency-table key.
func transitionKey(from *string, to string) string {
	f := "null"
	if from != nil {
		f = *from
	}
	return f + "->" + to
}

// MostFrequentTransitions returns up to limit (from->to) edges ranked by
// occurrence count, most frequent first; ties keep first-seen order.
func (h *TransitionHistory) MostFrequentTransitions(limit int) []freqEntry {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, e := range h.chronological() {
		k := transitionKey(e.From, e.To)
		if _, seen := counts[k]; !seen {
			order = append(order, k)
		}
		counts[k]++
	}
	return topN(order, counts, limit)
}

func topN(order []string, counts map[string]int, limit int) []freqEntry {
	entries := make([]freqEntry, len(order))
	for i, name := range order {
		entries[i] = freqEntry{Name: name, Count: counts[name]}
	}
	// stable selection sort by count desc, preserving first-seen order on ties
	for i := 0; i < len(entries); i++ {
		best := i
		for j := i + 1; j < len(entries); j++ {
			if entries[j].Count > entries[best].Count {
				best = j
			}
		}
		if best != i {
			v := entries[best]
			copy(entries[i+1:best+1], entries[i:best])
			entries[i] = v
		}
	}
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}

// jsonHistoryOptions configures ToJSON/FromJSON.
type jsonHistoryOptions struct {
	// Append, when true (FromJSON only), adds imported entries after the
	// existing ones instead of replacing them.
	Append bool
}

// ToJSON serializes every retained entry, newest first, applying
// ContextFilter again if ContextFilterOnExport is set.
func (h *TransitionHistory) ToJSON() ([]byte, error) {
	entries := h.entries
	if h.opts.ContextFilterOnExport && h.opts.ContextFilter != nil {
		filtered := make([]HistoryEntry, len(entries))
		for i, e := range entries {
			e.Context = h.opts.ContextFilter(e.Context)
			filtered[i] = e
		}
		entries = filtered
	}
	return json.Marshal(entries)
}

// rawHistoryEntry mirrors HistoryEntry's JSON shape with untyped fields so
// FromJSON can validate each field's type before committing it, per spec
// §4.4/§7 kind 5.
type rawHistoryEntry struct {
	ID        *string         `json:"id"`
	From      json.RawMessage `json:"from"`
	To        json.RawMessage `json:"to"`
	Timestamp json.RawMessage `json:"timestamp"`
	Success   json.RawMessage `json:"success"`
	Context   Context         `json:"context,omitempty"`
	Group     string          `json:"group,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// FromJSON parses text as a JSON array of history entries, validating each
// entry's field types and rejecting the first malformed one with a
// *HistoryImportError naming its index. When opts.Append is true, parsed
// entries are added after the existing ones; otherwise they replace them.
func (h *TransitionHistory) FromJSON(text []byte, opts jsonHistoryOptions) error {
	var raw []rawHistoryEntry
	if err := json.Unmarshal(text, &raw); err != nil {
		return fmt.Errorf("chronofsm: history import: %w", err)
	}

	parsed := make([]HistoryEntry, len(raw))
	for i, r := range raw {
		entry, err := r.validate(i)
		if err != nil {
			return err
		}
		parsed[i] = entry
	}

	if opts.Append {
		h.entries = append(h.entries, parsed...)
	} else {
		h.entries = parsed
	}
	if h.opts.MaxSize > 0 && len(h.entries) > h.opts.MaxSize {
		h.entries = h.entries[:h.opts.MaxSize]
	}
	return nil
}

func (r rawHistoryEntry) validate(index int) (HistoryEntry, error) {
	var to string
	if err := json.Unmarshal(r.To, &to); err != nil {
		return HistoryEntry{}, NewHistoryImportError(index, "to", "must be a string")
	}

	var from *string
	if len(r.From) > 0 && string(r.From) != "null" {
		var f string
		if err := json.Unmarshal(r.From, &f); err != nil {
			return HistoryEntry{}, NewHistoryImportError(index, "from", "must be a string or null")
		}
		from = &f
	}

	var ts float64
	if err := json.Unmarshal(r.Timestamp, &ts); err != nil {
		return HistoryEntry{}, NewHistoryImportError(index, "timestamp", "must be a finite number")
	}

	var success bool
	if err := json.Unmarshal(r.Success, &success); err != nil {
		return HistoryEntry{}, NewHistoryImportError(index, "success", "must be a boolean")
	}

	id := uuid.New()
	if r.ID != nil {
		if parsed, err := uuid.Parse(*r.ID); err == nil {
			id = parsed
		}
	}

	return HistoryEntry{
		ID:        id,
		From:      from,
		To:        to,
		Timestamp: int64(ts),
		Success:   success,
		Context:   r.Context,
		Group:     r.Group,
		Metadata:  r.Metadata,
	}, nil
}
