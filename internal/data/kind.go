package data

import (
	"fmt"
	"strings"
)

// Kind classifies a download source by how it must be submitted to the
// engine.
type Kind string

const (
	KindHTTP     Kind = "http"
	KindTorrent  Kind = "torrent"
	KindMetalink Kind = "metalink"
	KindMagnet   Kind = "magnet"
)

// DetectKind derives the download kind from the source URL. Rules are
// applied in order: magnet scheme, .torrent suffix, .metalink/.meta4
// suffix, then plain http/https/ftp.
func DetectKind(rawURL string) (Kind, error) {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	switch {
	case strings.HasPrefix(lower, "magnet:"):
		return KindMagnet, nil
	case strings.HasSuffix(lower, ".torrent"):
		return KindTorrent, nil
	case strings.HasSuffix(lower, ".metalink"), strings.HasSuffix(lower, ".meta4"):
		return KindMetalink, nil
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "ftp://"):
		return KindHTTP, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, rawURL)
	}
}
