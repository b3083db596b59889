package shader

import (
	"iter"
	"slices"
	"strings"
)

// DefineList is an ordered set of preprocessor defines.
//
// Insertion order is kept for readability of generated sources and logs.
// Hashing always goes through [DefineList.Canonical], so two lists holding the
// same pairs in different orders produce the same cache key.
//
// The zero value is an empty list ready to use.
type DefineList struct {
	keys []string
	vals map[string]string
}

// NewDefineList builds a list from alternating name, value arguments.
// A trailing name without a value gets an empty value.
func NewDefineList(pairs ...string) *DefineList {
	d := &DefineList{}
	for i := 0; i < len(pairs); i += 2 {
		v := ""
		if i+1 < len(pairs) {
			v = pairs[i+1]
		}
		d.Set(pairs[i], v)
	}
	return d
}

// Set assigns value to name. An existing name keeps its position.
func (d *DefineList) Set(name, value string) {
	if d.vals == nil {
		d.vals = make(map[string]string)
	}
	if _, ok := d.vals[name]; !ok {
		d.keys = append(d.keys, name)
	}
	d.vals[name] = value
}

// Get returns the value of name.
func (d *DefineList) Get(name string) (string, bool) {
	if d == nil {
		return "", false
	}
	v, ok := d.vals[name]
	return v, ok
}

// Has reports whether name is defined.
func (d *DefineList) Has(name string) bool {
	_, ok := d.Get(name)
	return ok
}

// Delete removes name and reports whether it was present.
func (d *DefineList) Delete(name string) bool {
	if d == nil {
		return false
	}
	if _, ok := d.vals[name]; !ok {
		return false
	}
	delete(d.vals, name)
	d.keys = slices.DeleteFunc(d.keys, func(k string) bool { return k == name })
	return true
}

// Len returns the number of defines.
func (d *DefineList) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// All iterates over the defines in insertion order.
func (d *DefineList) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		if d == nil {
			return
		}
		for _, k := range d.keys {
			if !yield(k, d.vals[k]) {
				return
			}
		}
	}
}

// Clone returns an independent copy. Cloning nil yields an empty list.
func (d *DefineList) Clone() *DefineList {
	c := &DefineList{}
	for k, v := range d.All() {
		c.Set(k, v)
	}
	return c
}

// Merge copies every define of other into d, overwriting values of names
// both lists hold.
func (d *DefineList) Merge(other *DefineList) {
	for k, v := range other.All() {
		d.Set(k, v)
	}
}

// Canonical returns a copy sorted by name.
func (d *DefineList) Canonical() *DefineList {
	c := d.Clone()
	slices.Sort(c.keys)
	return c
}

// String renders the list as space-separated NAME or NAME=VALUE items.
func (d *DefineList) String() string {
	var sb strings.Builder
	for k, v := range d.All() {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(k)
		if v != "" {
			sb.WriteByte('=')
			sb.WriteString(v)
		}
	}
	return sb.String()
}
