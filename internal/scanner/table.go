package scanner

import (
	"sync/atomic"

	"github.com/par2verify/par2verify/internal/par2"
	"github.com/par2verify/par2verify/internal/sourcefile"
)

// entry is one expected block's verification data, plus a lock-free
// "already matched" latch so two candidate files scanned concurrently can
// never both claim the same block.
type entry struct {
	crc32    uint32
	md5      par2.Hash
	fileIdx  int
	blockIdx int
	matched  atomic.Bool
}

// Table is the two-level verification hash table: entries are bucketed by
// the low 16 bits of their expected CRC32 ("short CRC") so a sliding-window
// probe is an O(1) average-case map lookup before ever touching MD5.
type Table struct {
	buckets map[uint16][]*entry
	total   int
}

// Build constructs a Table from every block of every known file in model
// that carries per-block verification data (an IFSC/FileVerify packet).
// Files with no such packet contribute no entries: none of their blocks can
// be located, and no candidate is ever classified as matching them.
func Build(model *sourcefile.Model) *Table {
	t := &Table{buckets: make(map[uint16][]*entry)}

	for fileIdx, sf := range model.Files {
		if sf == nil || sf.Verify == nil {
			continue
		}

		for blockIdx, bv := range sf.Verify.Blocks {
			if blockIdx >= sf.BlockCount {
				break // More verify entries than blocks; ignore the excess.
			}

			e := &entry{
				crc32:    bv.CRC32,
				md5:      bv.MD5,
				fileIdx:  fileIdx,
				blockIdx: blockIdx,
			}

			short := uint16(bv.CRC32)
			t.buckets[short] = append(t.buckets[short], e)
			t.total++
		}
	}

	return t
}

// Len returns the total number of block entries in the table.
func (t *Table) Len() int {
	return t.total
}

func (t *Table) lookup(shortCRC uint16) []*entry {
	return t.buckets[shortCRC]
}
