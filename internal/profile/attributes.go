package profile

import "sort"

// Attributes maps a local attribute name to a set of string values. Values
// are kept sorted and distinct.
type Attributes map[string][]string

// Add inserts values under name, ignoring empty strings and duplicates.
func (a Attributes) Add(name string, values ...string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		cur := a[name]
		i := sort.SearchStrings(cur, v)
		if i < len(cur) && cur[i] == v {
			continue
		}
		cur = append(cur, "")
		copy(cur[i+1:], cur[i:])
		cur[i] = v
		a[name] = cur
	}
}

// First returns the smallest value of name, or "".
func (a Attributes) First(name string) string {
	if vs := a[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Names returns the attribute names in sorted order.
func (a Attributes) Names() []string {
	out := make([]string, 0, len(a))
	for k := range a {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, vs := range a {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Merge adds every value of other into a.
func (a Attributes) Merge(other Attributes) {
	for k, vs := range other {
		a.Add(k, vs...)
	}
}
