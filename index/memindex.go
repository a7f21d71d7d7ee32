package index

import (
	"iter"
	"math/rand"

	"github.com/diagon-project/diagon/bytesref"
)

// memIndex is the in-memory ordered accumulator the segment writer collects
// term postings into before flushing them, sorted, to the term dictionary.
// It is a skip list keyed by term bytes; values are per-document occurrence
// counts appended in doc-id order.

const memIndexMaxLevel = 32

type memPosting struct {
	doc  uint32
	freq uint32
}

type memIndexNode struct {
	term     bytesref.Bytes
	postings []memPosting
	forward  []*memIndexNode
}

func newMemIndexNode(term bytesref.Bytes, levels int) *memIndexNode {
	return &memIndexNode{term: term, forward: make([]*memIndexNode, levels+1)}
}

type memIndex struct {
	head   *memIndexNode
	levels int
	size   int
	rng    *rand.Rand

	numPostings int64
	sumFreq     int64
}

func newMemIndex() *memIndex {
	return &memIndex{
		head:   newMemIndexNode(nil, 0),
		levels: -1,
		rng:    rand.New(rand.NewSource(1)),
	}
}

func (m *memIndex) randomLevel() int {
	level := 0
	for m.rng.Int31()&1 == 0 && level < memIndexMaxLevel {
		level++
	}
	return level
}

func (m *memIndex) adjustLevels(level int) {
	prev := m.head.forward
	m.head = newMemIndexNode(nil, level)
	m.levels = level
	copy(m.head.forward, prev)
}

// addOccurrence records one occurrence of term in doc. Documents arrive in
// ascending order, so repeated occurrences extend the tail posting.
func (m *memIndex) addOccurrence(term bytesref.Bytes, doc uint32) {
	if node := m.find(term); node != nil {
		last := len(node.postings) - 1
		if last >= 0 && node.postings[last].doc == doc {
			node.postings[last].freq++
		} else {
			node.postings = append(node.postings, memPosting{doc: doc, freq: 1})
			m.numPostings++
		}
		m.sumFreq++
		return
	}

	newLevel := m.randomLevel()
	if newLevel > m.levels {
		m.adjustLevels(newLevel)
	}

	node := newMemIndexNode(term.Clone(), newLevel)
	node.postings = append(node.postings, memPosting{doc: doc, freq: 1})

	updates := make([]*memIndexNode, m.levels+1)
	x := m.head
	for level := m.levels; level >= 0; level-- {
		for x.forward[level] != nil && x.forward[level].term.Compare(term) < 0 {
			x = x.forward[level]
		}
		updates[level] = x
	}
	for level := 0; level <= newLevel; level++ {
		node.forward[level] = updates[level].forward[level]
		updates[level].forward[level] = node
	}
	m.size++
	m.numPostings++
	m.sumFreq++
}

func (m *memIndex) find(term bytesref.Bytes) *memIndexNode {
	x := m.head
	for level := m.levels; level >= 0; level-- {
		for x.forward[level] != nil {
			cmp := x.forward[level].term.Compare(term)
			if cmp < 0 {
				x = x.forward[level]
				continue
			}
			if cmp == 0 {
				return x.forward[level]
			}
			break
		}
	}
	return nil
}

// terms yields every (term, postings) pair in ascending term order.
func (m *memIndex) terms() iter.Seq2[bytesref.Bytes, []memPosting] {
	return func(yield func(bytesref.Bytes, []memPosting) bool) {
		curr := m.head
		for curr.forward[0] != nil {
			node := curr.forward[0]
			if !yield(node.term, node.postings) {
				return
			}
			curr = node
		}
	}
}
