package scoring

// Exclusions is the set of entry ids removed before ranking, with the reason
// each was excluded.
type Exclusions struct {
	ids map[string]string
}

// NewExclusions returns an empty set.
func NewExclusions() *Exclusions {
	return &Exclusions{ids: map[string]string{}}
}

// Add excludes id. The first reason wins.
func (x *Exclusions) Add(id, reason string) {
	if _, ok := x.ids[id]; !ok {
		x.ids[id] = reason
	}
}

// Has reports whether id is excluded.
func (x *Exclusions) Has(id string) bool {
	if x == nil {
		return false
	}
	_, ok := x.ids[id]
	return ok
}

// Reason returns why id is excluded.
func (x *Exclusions) Reason(id string) string {
	if x == nil {
		return ""
	}
	return x.ids[id]
}

// Len returns the number of excluded ids.
func (x *Exclusions) Len() int {
	if x == nil {
		return 0
	}
	return len(x.ids)
}
