package domain

import "strings"

// RootFid is the reserved identifier of the account root directory.
const RootFid = "0"

// RemoteNode is a single entry of a remote directory listing. Nodes are only
// constructed from API responses; a fid is an opaque server-side identifier
// and carries no structure worth parsing.
type RemoteNode struct {
	Fid     string `json:"fid"`
	Name    string `json:"file_name"`
	Dir     bool   `json:"dir"`
	PdirFid string `json:"pdir_fid,omitempty"`
	Size    int64  `json:"size,omitempty"`
}

// DefaultArchiveExtensions are the archive suffixes recognized when the
// configuration does not override them.
var DefaultArchiveExtensions = []string{"zip", "rar", "7z", "tar", "gz"}

// IsArchiveName reports whether name ends in one of the given extensions.
// Matching is case-insensitive and ignores directory entries by convention
// (callers filter on RemoteNode.Dir first).
func IsArchiveName(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, "."+strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// Stem returns name with its final extension removed: "movie.zip" becomes
// "movie" and "movie.tar.gz" becomes "movie.tar". The extraction service
// names staging folders after the archive stem, so this must match the
// remote server's convention exactly.
func Stem(name string) string {
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return name
	}
	return name[:i]
}
