package filter

// EditStats describes the word-level edits between a reference and a
// revised text.
type EditStats struct {
	Rate          float64 // (Substitutions+Insertions+Deletions) / RefWords
	Substitutions int
	Insertions    int
	Deletions     int
	RefWords      int
}

// editCell is one cell of the edit-distance table. It carries the operation
// counts of the cheapest path so no backtrace is needed.
type editCell struct {
	subs, ins, dels int
}

func (c editCell) cost() int { return c.subs + c.ins + c.dels }

// EditRate measures how much revised changed reference, in words, after
// lowercasing and dropping punctuation. It is the word error rate with
// reference as ground truth and is 0 for an empty reference.
func EditRate(reference, revised string) EditStats {
	ref := Tokenize(reference)
	rev := Tokenize(revised)
	if len(ref) == 0 {
		return EditStats{}
	}

	// Two rolling rows over rev.
	prev := make([]editCell, len(rev)+1)
	cur := make([]editCell, len(rev)+1)
	for j := range prev {
		prev[j] = editCell{ins: j}
	}

	for i := 1; i <= len(ref); i++ {
		cur[0] = editCell{dels: i}
		for j := 1; j <= len(rev); j++ {
			if ref[i-1] == rev[j-1] {
				cur[j] = prev[j-1]
				continue
			}
			sub := prev[j-1]
			sub.subs++
			del := prev[j]
			del.dels++
			ins := cur[j-1]
			ins.ins++

			best := sub
			if del.cost() < best.cost() {
				best = del
			}
			if ins.cost() < best.cost() {
				best = ins
			}
			cur[j] = best
		}
		prev, cur = cur, prev
	}

	last := prev[len(rev)]
	return EditStats{
		Rate:          float64(last.cost()) / float64(len(ref)),
		Substitutions: last.subs,
		Insertions:    last.ins,
		Deletions:     last.dels,
		RefWords:      len(ref),
	}
}
