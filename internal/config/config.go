package config

// Settings is the single persisted configuration record: API credentials,
// the reusable Telegram session blob, and server tunables. It is created
// with defaults on first run and rewritten whenever a field changes.
type Settings struct {
	APIID         int            `json:"apiId"`
	APIHash       string         `json:"apiHash"`
	StringSession string         `json:"stringSession"`
	PhoneNumber   string         `json:"phoneNumber"`
	Port          int            `json:"port"`
	LogLevel      string         `json:"logLevel"`
	Auth          Authentication `json:"authentication"`
	Streaming     FileStreaming  `json:"fileStreaming"`
}

type Authentication struct {
	TwoFactorEnabled bool `json:"twoFactorEnabled"`
	MaxLoginAttempts int  `json:"maxLoginAttempts"`
}

type FileStreaming struct {
	MaxFileSize int64 `json:"maxFileSize"`
	ChunkSize   int64 `json:"chunkSize"`
	TimeoutMS   int64 `json:"timeout"`
}

// Defaults returns the record written on first run.
func Defaults() Settings {
	return Settings{
		Port:     8000,
		LogLevel: "info",
		Auth: Authentication{
			TwoFactorEnabled: false,
			MaxLoginAttempts: 3,
		},
		Streaming: FileStreaming{
			MaxFileSize: 1 << 30,
			ChunkSize:   256 * 1024,
			TimeoutMS:   30000,
		},
	}
}

// Configured reports whether API credentials have been stored.
func (s Settings) Configured() bool {
	return s.APIID != 0 && s.APIHash != ""
}

// normalize backfills zero-valued tunables with their defaults so records
// written by older versions keep working.
func (s *Settings) normalize() {
	defaults := Defaults()
	if s.Port <= 0 {
		s.Port = defaults.Port
	}
	if s.LogLevel == "" {
		s.LogLevel = defaults.LogLevel
	}
	if s.Auth.MaxLoginAttempts <= 0 {
		s.Auth.MaxLoginAttempts = defaults.Auth.MaxLoginAttempts
	}
	if s.Streaming.MaxFileSize <= 0 {
		s.Streaming.MaxFileSize = defaults.Streaming.MaxFileSize
	}
	if s.Streaming.ChunkSize <= 0 {
		s.Streaming.ChunkSize = defaults.Streaming.ChunkSize
	}
	if s.Streaming.TimeoutMS <= 0 {
		s.Streaming.TimeoutMS = defaults.Streaming.TimeoutMS
	}
}
