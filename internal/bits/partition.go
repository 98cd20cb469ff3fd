package bits

import "strings"

// DefaultWordsPerBit is the word threshold used when none is configured.
const DefaultWordsPerBit = 1250

// Bit is a word-count-bounded run of consecutive nodes.
type Bit struct {
	Index int    `json:"bit"`
	HTML  string `json:"content"`
	Words int    `json:"words"`
}

// Partitioner greedily folds a node stream into bits. A bit closes as soon
// as its word count reaches the threshold; document boundaries play no role.
// The remainder is emitted by Flush at the end of the book.
type Partitioner struct {
	threshold int
	next      int
	buf       strings.Builder
	words     int
}

// NewPartitioner creates a Partitioner. A non-positive threshold falls back
// to DefaultWordsPerBit.
func NewPartitioner(threshold int) *Partitioner {
	if threshold <= 0 {
		threshold = DefaultWordsPerBit
	}
	return &Partitioner{threshold: threshold, next: 1}
}

// Add appends n to the open bit and returns the bit if it closed.
func (p *Partitioner) Add(n Node) (Bit, bool) {
	p.buf.WriteString(n.HTML)
	p.buf.WriteByte('\n')
	p.words += n.Words

	if p.words < p.threshold {
		return Bit{}, false
	}
	return p.emit(), true
}

// Flush closes the open bit, if it holds anything.
func (p *Partitioner) Flush() (Bit, bool) {
	if p.buf.Len() == 0 {
		return Bit{}, false
	}
	return p.emit(), true
}

func (p *Partitioner) emit() Bit {
	b := Bit{
		Index: p.next,
		HTML:  strings.TrimRight(p.buf.String(), " \t\r\n"),
		Words: p.words,
	}
	p.next++
	p.buf.Reset()
	p.words = 0
	return b
}

// Partition splits nodes into bits using the given word threshold.
func Partition(nodes []Node, threshold int) []Bit {
	p := NewPartitioner(threshold)
	var out []Bit
	for _, n := range nodes {
		if b, ok := p.Add(n); ok {
			out = append(out, b)
		}
	}
	if b, ok := p.Flush(); ok {
		out = append(out, b)
	}
	return out
}
