package session

// Config is the process-wide configuration a Core is constructed from.
type Config struct {
	Nick     string
	DataDir  string
	Database string
	Hubs     []string

	// RateLimitIn/RateLimitOut are global bytes/sec caps for the token
	// buckets in internal/ratelimit; 0 means unlimited, per spec.md §4.4.
	RateLimitIn  int
	RateLimitOut int

	// DownloadSlots is the global concurrent-transfer ceiling the
	// scheduler's free_slots computation uses, per spec.md §4.2.
	DownloadSlots int

	// ShareDirs are local filesystem paths indexed into the shared
	// file-list tree (internal/filelist), per spec.md §4.5.
	ShareDirs []string

	// SearchUDPAddr is the local address the active-search UDP listener
	// binds, per spec.md §4.1/§4.4. Empty disables active search entirely:
	// StartSearch then falls back to passive (hub-routed) search only.
	SearchUDPAddr string
}

// DefaultConfig mirrors the teacher's DefaultConfig: a baseline a caller
// can overlay a partial YAML file onto.
var DefaultConfig = Config{
	Nick:          "dcshare",
	DataDir:       "~/.dcshare",
	Database:      "~/.dcshare/state.db",
	DownloadSlots: 3,
	SearchUDPAddr: ":412",
}
