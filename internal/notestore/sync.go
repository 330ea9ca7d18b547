package notestore

import (
	"log/slog"
)

// Sync brings the note index in line with the blob directory: rows whose
// audio file no longer exists on disk are removed. Orphan blobs without a
// referencing row are left alone and only logged, since another owner's
// process may still be writing them.
func Sync(l *Local, logger *slog.Logger) error {
	infos, err := l.blobs.List()
	if err != nil {
		return err
	}

	onDisk := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		onDisk[info.Name] = struct{}{}
	}

	refs, err := l.allBlobRefs()
	if err != nil {
		return err
	}

	for name := range refs {
		if _, ok := onDisk[name]; ok {
			continue
		}
		n, err := l.removeByBlob(name)
		if err != nil {
			logger.Warn("sync: remove failed", slog.String("blob", name), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: removed notes with missing audio", slog.String("blob", name), slog.Int64("notes", n))
	}

	for name := range onDisk {
		if _, ok := refs[name]; !ok {
			logger.Debug("sync: orphan blob", slog.String("blob", name))
		}
	}
	return nil
}
