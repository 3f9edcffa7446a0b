package cards

// DefaultMaxDepth bounds ancestor and descendant traversal
const DefaultMaxDepth = 10

// Index is an arena of cards keyed by id. Parent and child relations are
// resolved by id lookup, so nothing in the graph owns anything else.
type Index struct {
	nodes    map[int64]*Card
	order    []int64
	children map[int64][]int64
}

// NewIndex builds an index over a snapshot of cards, preserving their order
func NewIndex(cards []*Card) *Index {
	idx := &Index{
		nodes:    make(map[int64]*Card, len(cards)),
		order:    make([]int64, 0, len(cards)),
		children: make(map[int64][]int64),
	}
	for _, c := range cards {
		if _, exists := idx.nodes[c.ID]; exists {
			continue
		}
		idx.nodes[c.ID] = c
		idx.order = append(idx.order, c.ID)
	}
	for _, id := range idx.order {
		for _, p := range idx.nodes[id].ParentCardIDs {
			idx.children[p] = append(idx.children[p], id)
		}
	}
	return idx
}

// Get returns a card by id
func (idx *Index) Get(id int64) (*Card, bool) {
	c, ok := idx.nodes[id]
	return c, ok
}

// Len returns the number of cards in the index
func (idx *Index) Len() int {
	return len(idx.order)
}

// All returns every card in snapshot order
func (idx *Index) All() []*Card {
	out := make([]*Card, 0, len(idx.order))
	for _, id := range idx.order {
		out = append(out, idx.nodes[id])
	}
	return out
}

// Children returns the cards that list id as a parent
func (idx *Index) Children(id int64) []*Card {
	out := make([]*Card, 0, len(idx.children[id]))
	for _, cid := range idx.children[id] {
		out = append(out, idx.nodes[cid])
	}
	return out
}

// WouldCreateCycle reports whether making parentID a parent of id closes a
// loop, i.e. whether id is already reachable from parentID along parent edges.
func (idx *Index) WouldCreateCycle(id, parentID int64) bool {
	visited := make(map[int64]bool)
	stack := []int64{parentID}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if current == id {
			return true
		}
		if visited[current] {
			continue
		}
		visited[current] = true

		if c, ok := idx.nodes[current]; ok {
			stack = append(stack, c.ParentCardIDs...)
		}
	}
	return false
}

// Ancestors walks parent edges breadth-first up to maxDepth levels
func (idx *Index) Ancestors(id int64, maxDepth int) []*Card {
	return idx.walk(id, maxDepth, func(c *Card) []int64 {
		return c.ParentCardIDs
	})
}

// Descendants walks child edges breadth-first up to maxDepth levels
func (idx *Index) Descendants(id int64, maxDepth int) []*Card {
	return idx.walk(id, maxDepth, func(c *Card) []int64 {
		return idx.children[c.ID]
	})
}

// AncestorSet returns the ids of all ancestors of id within maxDepth
func (idx *Index) AncestorSet(id int64, maxDepth int) map[int64]bool {
	set := make(map[int64]bool)
	for _, c := range idx.Ancestors(id, maxDepth) {
		set[c.ID] = true
	}
	return set
}

func (idx *Index) walk(id int64, maxDepth int, next func(*Card) []int64) []*Card {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	start, ok := idx.nodes[id]
	if !ok {
		return nil
	}

	visited := map[int64]bool{id: true}
	var result []*Card
	level := []*Card{start}

	for depth := 0; depth < maxDepth && len(level) > 0; depth++ {
		var nextLevel []*Card
		for _, c := range level {
			for _, nid := range next(c) {
				if visited[nid] {
					continue
				}
				visited[nid] = true
				n, ok := idx.nodes[nid]
				if !ok {
					continue
				}
				result = append(result, n)
				nextLevel = append(nextLevel, n)
			}
		}
		level = nextLevel
	}
	return result
}
