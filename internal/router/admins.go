package router

// AdminSet is the fixed set of user ids allowed to upload, list and
// broadcast. It is built once and never mutated, so concurrent reads are safe.
type AdminSet struct {
	ids map[int64]struct{}
}

func NewAdminSet(ids ...int64) AdminSet {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id != 0 {
			m[id] = struct{}{}
		}
	}
	return AdminSet{ids: m}
}

func (a AdminSet) Contains(id int64) bool {
	_, ok := a.ids[id]
	return ok
}

func (a AdminSet) Len() int { return len(a.ids) }
