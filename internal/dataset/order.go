package dataset

import (
	"math/rand"
	"sort"
)

type orderEntry struct {
	root string
	path string
}

// interleaveShards shuffles the shards of every root and then alternates
// between roots so no single root dominates the start of the dataset.
func interleaveShards(roots map[string][]string, rng *rand.Rand) []orderEntry {
	rootNames := make([]string, 0, len(roots))
	copied := make(map[string][]string, len(roots))
	for root, shards := range roots {
		if len(shards) == 0 {
			continue
		}
		rootNames = append(rootNames, root)
		copied[root] = append([]string(nil), shards...)
	}
	sort.Strings(rootNames)
	if rng != nil {
		for _, root := range rootNames {
			shards := copied[root]
			rng.Shuffle(len(shards), func(i, j int) {
				shards[i], shards[j] = shards[j], shards[i]
			})
		}
	}
	var order []orderEntry
	for {
		advanced := false
		for _, root := range rootNames {
			shards := copied[root]
			if len(shards) == 0 {
				continue
			}
			order = append(order, orderEntry{root: root, path: shards[0]})
			copied[root] = shards[1:]
			advanced = true
		}
		if !advanced {
			break
		}
	}
	return order
}
