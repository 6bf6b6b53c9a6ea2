package manager

import (
	neturl "net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/burncloud/fetchd/internal/aria2"
)

// deriveName returns a best-effort display name from an engine status:
// the torrent name when present, else the first file's basename.
func deriveName(st *aria2.Status) string {
	if st == nil {
		return ""
	}
	if st.Bittorrent.Info.Name != "" {
		return st.Bittorrent.Info.Name
	}
	if len(st.Files) > 0 && st.Files[0].Path != "" {
		base := filepath.Base(st.Files[0].Path)
		if base != "." {
			return base
		}
	}
	return ""
}

// nameFromSource falls back to naming a download from its source URL:
// the magnet display-name parameter, or the URL path's basename.
func nameFromSource(source string) string {
	if source == "" {
		return ""
	}
	if strings.HasPrefix(source, "magnet:") {
		if u, err := neturl.Parse(source); err == nil {
			return u.Query().Get("dn")
		}
		return ""
	}
	if u, err := neturl.Parse(source); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return ""
}
