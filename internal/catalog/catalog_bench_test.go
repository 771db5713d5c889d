package catalog

import (
	"fmt"
	"testing"
)

// BenchmarkUnion measures merging an incoming association set into stored
// sets of different sizes.
func BenchmarkUnion(b *testing.B) {
	for _, size := range []int{4, 64, 512} {
		b.Run(fmt.Sprintf("ids_%d", size), func(b *testing.B) {
			current := make([]ID, size)
			for i := range current {
				current[i] = ID(fmt.Sprint(i * 2))
			}
			incoming := []ID{"1", "3", ID(fmt.Sprint(size))}
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				Union(current, incoming)
			}
		})
	}
}
