package services

// Move repositions the element at from so that it ends up at index to,
// shifting everything in between. A negative from leaves seq untouched and
// a to past the end appends. seq itself is never modified.
func Move[T any](seq []T, from, to int) []T {
	out := make([]T, len(seq))
	copy(out, seq)
	if from < 0 || from >= len(out) {
		return out
	}

	item := out[from]
	out = append(out[:from], out[from+1:]...)

	if to < 0 {
		to = 0
	}
	if to >= len(out) {
		return append(out, item)
	}

	out = append(out, item)
	copy(out[to+1:], out[to:len(out)-1])
	out[to] = item
	return out
}
