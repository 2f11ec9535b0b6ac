package beacon

// AllowEntry is one configured table beacon. An empty TableID means the table
// id is derived from the matched record.
type AllowEntry struct {
	Identity Identity `json:"identity"`
	TableID  string   `json:"table_id,omitempty"`
	Label    string   `json:"label,omitempty"`
}

// AllowList is ordered; the first matching entry wins.
type AllowList []AllowEntry

// Identities returns the identities in list order.
func (l AllowList) Identities() []Identity {
	out := make([]Identity, len(l))
	for i, e := range l {
		out[i] = e.Identity
	}
	return out
}

// MatchResult is the outcome of matching one record. Index is the position of
// the winning allow-list entry, or -1 when the record matched through its tag
// text alone.
type MatchResult struct {
	Matched bool
	TableID string
	Index   int
	Err     error
}

// NoMatch is the zero-value miss.
var NoMatch = MatchResult{Index: -1}

// Matcher compares records against an allow-list by exact identity.
type Matcher struct {
	list    AllowList
	deriver Deriver
	tagText bool
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithDeriver sets how table ids are derived for entries without one.
func WithDeriver(d Deriver) MatcherOption {
	return func(m *Matcher) {
		if d != nil {
			m.deriver = d
		}
	}
}

// WithTagText lets an NFC record whose tag carries "TableName=<n>" resolve to
// that table even when the tag is not on the allow-list.
func WithTagText(enabled bool) MatcherOption {
	return func(m *Matcher) {
		m.tagText = enabled
	}
}

// NewMatcher builds a Matcher over a copy of list.
func NewMatcher(list AllowList, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		list:    append(AllowList(nil), list...),
		deriver: DefaultDeriver{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Match returns the first allow-list entry whose identity equals the record's.
func (m *Matcher) Match(rec Record) MatchResult {
	if rec.Identity.IsZero() {
		return NoMatch
	}
	for i, entry := range m.list {
		if entry.Identity != rec.Identity {
			continue
		}
		tableID, err := m.tableID(entry, rec)
		if err != nil {
			return MatchResult{Index: i, Err: err}
		}
		return MatchResult{Matched: true, TableID: tableID, Index: i}
	}
	if m.tagText && rec.Identity.Kind() == KindNFCTag && rec.TableHint != "" {
		return MatchResult{Matched: true, TableID: rec.TableHint, Index: -1}
	}
	return NoMatch
}

func (m *Matcher) tableID(entry AllowEntry, rec Record) (string, error) {
	if entry.TableID != "" {
		return entry.TableID, nil
	}
	if rec.TableHint != "" {
		return rec.TableHint, nil
	}
	return m.deriver.Derive(rec)
}
