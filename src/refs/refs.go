// Package refs models repository reference snapshots and computes which
// references changed between polls.
package refs

// Object is the commit a reference points at.
type Object struct {
	SHA string `json:"sha"`
}

// Reference is one branch or pull-request head. Name is unique within a
// snapshot; SHA is not.
type Reference struct {
	Name   string `json:"name"`
	Object Object `json:"object"`
}

// SHA returns the commit the reference currently points at.
func (r Reference) SHA() string {
	return r.Object.SHA
}

// Snapshot is the full reference set fetched at one instant, in source order.
type Snapshot []Reference

// Seen is the set of every commit SHA observed at the head of any reference.
// It only ever grows. The zero value is not usable; use NewSeen.
type Seen struct {
	shas map[string]struct{}
}

// NewSeen returns a Seen set holding every SHA in the given snapshot.
func NewSeen(initial Snapshot) *Seen {
	s := &Seen{shas: make(map[string]struct{}, len(initial))}
	s.Add(initial...)
	return s
}

// Has reports whether sha has been observed.
func (s *Seen) Has(sha string) bool {
	_, ok := s.shas[sha]
	return ok
}

// Add folds the SHAs of refs into the set.
func (s *Seen) Add(refs ...Reference) {
	for _, r := range refs {
		s.shas[r.SHA()] = struct{}{}
	}
}

// Len returns the number of distinct SHAs observed.
func (s *Seen) Len() int {
	return len(s.shas)
}

// Diff returns the entries of current whose SHA is not in seen, preserving the
// order of current. It never mutates seen; a reference whose name disappeared
// produces nothing, and a reference moving back to an already-seen SHA is not
// reported.
func Diff(seen *Seen, current Snapshot) []Reference {
	var changed []Reference
	for _, ref := range current {
		if seen == nil || !seen.Has(ref.SHA()) {
			changed = append(changed, ref)
		}
	}
	return changed
}
