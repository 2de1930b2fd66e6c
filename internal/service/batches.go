package service

// Partition splits items into contiguous batches of at most size elements.
// Batch k (1-based) holds items [(k-1)*size, k*size).
func Partition(items []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	batches := make([][]string, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end:end])
	}
	return batches
}
