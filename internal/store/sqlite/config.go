package sqlite

import "fmt"

// SQLite configuration constants
const (
	busyTimeoutMS    = 5000
	foreignKeysParam = "_pragma=foreign_keys(1)"
)

type Config struct {
	Path string `mapstructure:"path"`
}

func (c *Config) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"path": c.Path,
	}
}

// FileDSN builds the modernc DSN for a database file.
func FileDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&%s", path, busyTimeoutMS, foreignKeysParam)
}
