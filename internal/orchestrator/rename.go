package orchestrator

import (
	"fmt"

	"github.com/par2verify/par2verify/internal/diskfile"
	"github.com/par2verify/par2verify/internal/logging"
	"github.com/par2verify/par2verify/internal/sourcefile"
	"github.com/spf13/afero"
)

// applyRenamePolicy backs up every incomplete file occupying a protected
// file's target path under a ".1", ".2", ... suffix rather than leaving it
// to be overwritten, whether or not a complete copy was found elsewhere,
// then moves every file proven complete under the wrong name into its
// expected target path. The backup keeps its arena index, so blocks
// already located in it stay readable for repair.
func applyRenamePolicy(model *sourcefile.Model, arena *diskfile.Arena, log *logging.Logger) ([]RenameEntry, error) {
	var renamed []RenameEntry

	for _, sf := range model.Files {
		if sf == nil || sf.TargetIsComplete {
			continue
		}

		if sf.CompleteDiskFile != diskfile.Unset && sf.CompleteDiskFile == sf.TargetDiskFile {
			continue
		}

		if occupant := sf.TargetDiskFile; occupant != diskfile.Unset {
			occupantPath := arena.Path(occupant)

			exists, err := afero.Exists(arena.Fs(), occupantPath)
			if err == nil && exists {
				backup := nextBackupName(arena.Fs(), sf.TargetPath)

				if err := arena.Rename(occupant, backup); err != nil {
					return renamed, fmt.Errorf("failed to back up %q: %w", occupantPath, err)
				}

				renamed = append(renamed, RenameEntry{From: occupantPath, To: backup})
				log.Debug("backed up incomplete file at target path", "from", occupantPath, "to", backup)

				sf.TargetDiskFile = diskfile.Unset
				sf.TargetExists = false
			}
		}

		if sf.CompleteDiskFile == diskfile.Unset {
			continue
		}

		foundPath := arena.Path(sf.CompleteDiskFile)

		if err := arena.Rename(sf.CompleteDiskFile, sf.TargetPath); err != nil {
			return renamed, fmt.Errorf("failed to rename %q to %q: %w", foundPath, sf.TargetPath, err)
		}

		renamed = append(renamed, RenameEntry{From: foundPath, To: sf.TargetPath})
		log.Info("renamed complete file into place", "from", foundPath, "to", sf.TargetPath)

		sf.TargetDiskFile = sf.CompleteDiskFile
		sf.TargetIsComplete = true
		sf.TargetExists = true
	}

	return renamed, nil
}

// nextBackupName returns the first "<base>.N" path (N = 1, 2, ...) that
// does not currently exist on fsys.
func nextBackupName(fsys afero.Fs, base string) string {
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s.%d", base, n)

		exists, err := afero.Exists(fsys, candidate)
		if err != nil || !exists {
			return candidate
		}
	}
}
