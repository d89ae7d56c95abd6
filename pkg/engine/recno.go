package engine

// headerRecno implements btree.RecnoCounter on top of one database's
// header-persisted last-recno field (spec.md §4.11): every Next()
// bumps the in-memory counter and asks the environment to persist the
// header before handing out the new value, so a crash never reissues
// an already-used record number.
type headerRecno struct {
	entry *dbEntry
	flush func() error
}

func (r *headerRecno) Next() (uint64, error) {
	r.entry.recno++
	if err := r.flush(); err != nil {
		r.entry.recno--
		return 0, err
	}
	return r.entry.recno, nil
}
