// Package recoveryset discovers the PAR2 index and volume files belonging
// to a recovery set, parses every packet they contain, and merges them by
// set ID into a single, consistent view: the authoritative file list,
// per-file verification data, and the recovery blocks available for repair.
package recoveryset

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/par2verify/par2verify/internal/par2"
	"github.com/spf13/afero"
)

// ErrNoParseablePackets is returned when none of the discovered files
// yielded a single recognizable PAR2 packet.
var ErrNoParseablePackets = errors.New("no parseable PAR2 packets found")

// FileEntry is one file described by a PAR2 recovery set: either a
// recoverable (protected) file, an auxiliary non-recovery file, or a stray
// file description with no corresponding Main packet entry.
type FileEntry struct {
	FileID      par2.Hash
	Name        string
	Size        uint64
	Hash        par2.Hash // MD5 of the entire file.
	Hash16k     par2.Hash // MD5 of the first 16 KiB.
	FromUnicode bool
	Verify      *par2.FileVerifyPacket // Per-block hashes, nil if no IFSC packet was found.
}

// Set is one PAR2 recovery set (one set ID) merged from every packet found
// across the index file and its volumes.
type Set struct {
	SetID   par2.Hash
	Main    *par2.MainPacket
	Creator *par2.CreatorPacket

	RecoveryFiles    []FileEntry
	NonRecoveryFiles []FileEntry
	StrayFiles       []FileEntry

	MissingRecovery    []par2.Hash
	MissingNonRecovery []par2.Hash

	RecoveryBlocks     []*par2.RecoveryPacket // Sorted ascending by exponent.
	DuplicateExponents int

	IsComplete bool
}

// BlockSize returns the set's recovery slice size, or 0 if no Main packet
// was found.
func (s *Set) BlockSize() uint64 {
	if s.Main == nil {
		return 0
	}

	return s.Main.BlockSize
}

// Discover returns the index file and every sibling volume file belonging
// to the same recovery set, following the PAR2 convention that volumes
// share the index file's base name with a different suffix
// (name.par2, name.vol000+001.par2, ...).
func Discover(fsys afero.Fs, indexPath string) ([]string, error) {
	base := strings.TrimSuffix(indexPath, filepath.Ext(indexPath))
	pattern := base + "*.par2"

	matches, err := afero.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob for volumes: %w", err)
	}

	if !slices.Contains(matches, indexPath) {
		matches = append(matches, indexPath)
	}

	slices.Sort(matches)

	return matches, nil
}

// LoadFiles opens and scans every path, then merges the resulting packets
// into a slice of Set in first-encountered order.
func LoadFiles(fsys afero.Fs, paths []string) ([]Set, error) {
	var allPackets []any

	parsedAny := false

	for _, path := range paths {
		pkts, err := scanFile(fsys, path)
		if err != nil {
			continue // One unreadable volume should not sink the whole set.
		}

		if len(pkts) > 0 {
			parsedAny = true
		}

		allPackets = append(allPackets, pkts...)
	}

	if !parsedAny {
		return nil, ErrNoParseablePackets
	}

	return Merge(allPackets)
}

func scanFile(fsys afero.Fs, path string) ([]any, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	pkts, err := par2.ScanStream(f)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", path, err)
	}

	return pkts, nil
}

type group struct {
	setID              par2.Hash
	main               *par2.MainPacket
	creator            *par2.CreatorPacket
	files              map[par2.Hash]*FileEntry
	verify             map[par2.Hash]*par2.FileVerifyPacket
	recoveryBlocks     map[uint32]*par2.RecoveryPacket
	duplicateExponents int
}

func newGroup(setID par2.Hash) *group {
	return &group{
		setID:          setID,
		files:          make(map[par2.Hash]*FileEntry),
		verify:         make(map[par2.Hash]*par2.FileVerifyPacket),
		recoveryBlocks: make(map[uint32]*par2.RecoveryPacket),
	}
}

// Merge groups an arbitrary, unordered slice of decoded PAR2 packets (as
// returned by par2.ScanStream, possibly concatenated across several files)
// into per-set-ID Sets, applying first-wins acceptance rules for duplicate
// Main packets and duplicate recovery-block exponents.
func Merge(packets []any) ([]Set, error) {
	groups := make(map[par2.Hash]*group)

	var order []par2.Hash

	get := func(id par2.Hash) *group {
		g, ok := groups[id]
		if !ok {
			g = newGroup(id)
			groups[id] = g
			order = append(order, id)
		}

		return g
	}

	for _, pkt := range packets {
		if err := insert(get, pkt); err != nil {
			return nil, err
		}
	}

	sets := make([]Set, 0, len(order))
	for _, id := range order {
		sets = append(sets, finalize(groups[id]))
	}

	return sets, nil
}

func insert(get func(par2.Hash) *group, pkt any) error {
	switch p := pkt.(type) {
	case *par2.MainPacket:
		g := get(p.SetID)
		if g.main == nil {
			g.main = p
		}
	case *par2.CreatorPacket:
		g := get(p.SetID)
		if g.creator == nil {
			g.creator = p
		}
	case *par2.FileDescPacket:
		g := get(p.SetID)
		if _, exists := g.files[p.FileID]; !exists {
			g.files[p.FileID] = &FileEntry{
				FileID:  p.FileID,
				Name:    p.Name,
				Size:    p.Size,
				Hash:    p.Hash,
				Hash16k: p.Hash16k,
			}
		}
	case *par2.UnicodePacket:
		g := get(p.SetID)
		if fe, ok := g.files[p.FileID]; ok && !fe.FromUnicode {
			fe.Name = p.Name
			fe.FromUnicode = true
		} else if !ok {
			g.files[p.FileID] = &FileEntry{FileID: p.FileID, Name: p.Name, FromUnicode: true}
		}
	case *par2.FileVerifyPacket:
		g := get(p.SetID)
		if _, exists := g.verify[p.FileID]; !exists {
			g.verify[p.FileID] = p
		}
	case *par2.RecoveryPacket:
		g := get(p.SetID)
		if _, exists := g.recoveryBlocks[p.Exponent]; !exists {
			g.recoveryBlocks[p.Exponent] = p
		} else {
			g.duplicateExponents++
		}
	}

	return nil
}

func finalize(g *group) Set {
	recoverySet := make(map[par2.Hash]struct{})
	nonRecoverySet := make(map[par2.Hash]struct{})

	if g.main != nil {
		for _, id := range g.main.RecoveryIDs {
			recoverySet[id] = struct{}{}
		}

		for _, id := range g.main.NonRecoveryIDs {
			nonRecoverySet[id] = struct{}{}
		}
	}

	var recoveryList, nonRecoveryList, strayList []FileEntry

	for id, fe := range g.files {
		if v, ok := g.verify[id]; ok {
			fe.Verify = v
		}

		switch {
		case isMember(recoverySet, id):
			recoveryList = append(recoveryList, *fe)
		case isMember(nonRecoverySet, id):
			nonRecoveryList = append(nonRecoveryList, *fe)
		default:
			strayList = append(strayList, *fe)
		}
	}

	missingRecovery := missingFrom(recoverySet, g.files)
	missingNonRecovery := missingFrom(nonRecoverySet, g.files)

	sortEntries(recoveryList)
	sortEntries(nonRecoveryList)
	sortEntries(strayList)
	sortHashes(missingRecovery)
	sortHashes(missingNonRecovery)

	blocks := make([]*par2.RecoveryPacket, 0, len(g.recoveryBlocks))
	for _, rp := range g.recoveryBlocks {
		blocks = append(blocks, rp)
	}

	slices.SortFunc(blocks, func(a, b *par2.RecoveryPacket) int {
		switch {
		case a.Exponent < b.Exponent:
			return -1
		case a.Exponent > b.Exponent:
			return 1
		default:
			return 0
		}
	})

	return Set{
		SetID:              g.setID,
		Main:               g.main,
		Creator:            g.creator,
		RecoveryFiles:      recoveryList,
		NonRecoveryFiles:   nonRecoveryList,
		StrayFiles:         strayList,
		MissingRecovery:    missingRecovery,
		MissingNonRecovery: missingNonRecovery,
		RecoveryBlocks:     blocks,
		DuplicateExponents: g.duplicateExponents,
		IsComplete:         len(strayList) == 0 && len(missingRecovery) == 0 && len(missingNonRecovery) == 0,
	}
}

func isMember(set map[par2.Hash]struct{}, id par2.Hash) bool {
	_, ok := set[id]

	return ok
}

func missingFrom(want map[par2.Hash]struct{}, have map[par2.Hash]*FileEntry) []par2.Hash {
	var missing []par2.Hash

	for id := range want {
		if _, ok := have[id]; !ok {
			missing = append(missing, id)
		}
	}

	return missing
}

func sortEntries(list []FileEntry) {
	slices.SortFunc(list, func(a, b FileEntry) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}

		return bytes.Compare(a.FileID[:], b.FileID[:])
	})
}

func sortHashes(list []par2.Hash) {
	slices.SortFunc(list, func(a, b par2.Hash) int {
		return bytes.Compare(a[:], b[:])
	})
}
