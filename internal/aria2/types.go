package aria2

// Options carries per-submission download options. Only the fields the
// facade exposes are modeled; aria2 accepts them as a string map.
type Options struct {
	Dir      string
	Out      string
	Continue bool
}

func (o *Options) toMap() map[string]string {
	m := make(map[string]string, 3)
	if o.Dir != "" {
		m["dir"] = o.Dir
	}
	if o.Out != "" {
		m["out"] = o.Out
	}
	if o.Continue {
		m["continue"] = "true"
	}
	return m
}

// Status is the engine's view of a download as returned by tellStatus and
// the tell* listing methods. Numeric values arrive as decimal strings.
type Status struct {
	GID             string   `json:"gid"`
	Status          string   `json:"status"`
	TotalLength     string   `json:"totalLength"`
	CompletedLength string   `json:"completedLength"`
	DownloadSpeed   string   `json:"downloadSpeed"`
	UploadSpeed     string   `json:"uploadSpeed"`
	ErrorCode       string   `json:"errorCode,omitempty"`
	ErrorMessage    string   `json:"errorMessage,omitempty"`
	FollowedBy      []string `json:"followedBy,omitempty"`
	Files           []File   `json:"files"`
	Bittorrent      struct {
		Info struct {
			Name string `json:"name"`
		} `json:"info"`
	} `json:"bittorrent,omitempty"`
}

// File is one entry of a download's file list.
type File struct {
	Index           string `json:"index"`
	Path            string `json:"path"`
	Length          string `json:"length"`
	CompletedLength string `json:"completedLength"`
	Selected        string `json:"selected"`
	URIs            []URI  `json:"uris"`
}

// URI is a source location attached to a file.
type URI struct {
	URI    string `json:"uri"`
	Status string `json:"status"`
}

// GlobalStat is the engine-wide statistics snapshot.
type GlobalStat struct {
	DownloadSpeed string `json:"downloadSpeed"`
	UploadSpeed   string `json:"uploadSpeed"`
	NumActive     string `json:"numActive"`
	NumWaiting    string `json:"numWaiting"`
	NumStopped    string `json:"numStopped"`
}
