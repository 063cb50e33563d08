package advisory

import "sort"

// sortSlice stable-sorts a slice in place using the provided less function
func sortSlice[T any](slice []T, less func(a, b T) bool) {
	sort.SliceStable(slice, func(i, j int) bool {
		return less(slice[i], slice[j])
	})
}
