package common

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// MaskedValue replaces anything the masker decides to hide.
const MaskedValue = "***MASKED***"

// SensitivePattern represents a pattern to detect and mask sensitive information
type SensitivePattern struct {
	Name        string         // Pattern name (e.g., "password", "api_key")
	Regex       *regexp.Regexp // Regular expression to match sensitive data
	Replacement string         // Replacement string
	Keys        []string       // Attribute keys masked outright (case-insensitive)
}

// DefaultSensitivePatterns contains common patterns for sensitive information
var DefaultSensitivePatterns = []SensitivePattern{
	{
		Name:        "password",
		Regex:       regexp.MustCompile(`(?i)(password|passwd|pwd)(["'\s]*[:=]["'\s]*)([^"',}\]\s]+)`),
		Replacement: `${1}${2}` + MaskedValue,
		Keys:        []string{"password", "passwd", "pwd"},
	},
	{
		Name:        "token",
		Regex:       regexp.MustCompile(`(?i)(token|access[_-]?token|api[_-]?key)(["'\s]*[:=]["'\s]*)([^"',}\]\s]+)`),
		Replacement: `${1}${2}` + MaskedValue,
		Keys:        []string{"token", "access_token", "api_key", "apikey", "secret", "client_secret"},
	},
	{
		Name:        "bearer_token",
		Regex:       regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-._~+/]+=*`),
		Replacement: "Bearer " + MaskedValue,
	},
	{
		Name:        "url_credentials",
		Regex:       regexp.MustCompile(`(?i)([a-z][a-z0-9+.-]*://[^:/@\s]+:)[^@\s]+@`),
		Replacement: `${1}` + MaskedValue + `@`,
	},
}

// Masker hides sensitive values in log attributes and stage output.
// Besides the static patterns it tracks literal secret values resolved during a
// run, so a secret echoed by a tool is never written to the logs in clear text.
type Masker struct {
	mu       sync.RWMutex
	patterns []SensitivePattern
	secrets  map[string]int
	enabled  bool
}

// NewMasker creates a new masker with default patterns
func NewMasker() *Masker {
	return &Masker{
		patterns: DefaultSensitivePatterns,
		secrets:  map[string]int{},
		enabled:  true,
	}
}

// SetEnabled enables or disables masking
func (m *Masker) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
}

// IsEnabled returns whether masking is enabled
func (m *Masker) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// AddSecret registers a literal value to be masked wherever it appears.
// Registrations are reference counted; very short values are ignored because
// masking them would shred unrelated output.
func (m *Masker) AddSecret(value string) {
	if len(value) < 4 {
		return
	}
	m.mu.Lock()
	m.secrets[value]++
	m.mu.Unlock()
}

// RemoveSecret drops one registration of value.
func (m *Masker) RemoveSecret(value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.secrets[value]; ok {
		if n <= 1 {
			delete(m.secrets, value)
		} else {
			m.secrets[value] = n - 1
		}
	}
}

// SecretCount reports how many distinct literal secrets are registered.
func (m *Masker) SecretCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.secrets)
}

// SafeCut returns the largest index <= cut at which b can be split without
// separating any part of a registered secret occurrence, including a secret
// prefix running to the end of b. It returns 0 when no such index exists.
func (m *Masker) SafeCut(b []byte, cut int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for moved := true; moved && cut > 0; {
		moved = false
		for s := range m.secrets {
			if i := straddle(b, cut, s); i >= 0 {
				cut, moved = i, true
			}
		}
	}
	return cut
}

// straddle returns the first start index of an occurrence of s (or of a
// prefix of s ending at len(b)) that begins before cut and ends after it.
func straddle(b []byte, cut int, s string) int {
	for i := max(cut-len(s)+1, 0); i < cut; i++ {
		end := min(i+len(s), len(b))
		if strings.HasPrefix(s, string(b[i:end])) {
			return i
		}
	}
	return -1
}

// MaskString masks sensitive information in a string
func (m *Masker) MaskString(input string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.enabled || input == "" {
		return input
	}
	result := input
	if len(m.secrets) > 0 {
		// longest first so a secret containing another is replaced whole
		lits := make([]string, 0, len(m.secrets))
		for s := range m.secrets {
			lits = append(lits, s)
		}
		sort.Slice(lits, func(i, j int) bool { return len(lits[i]) > len(lits[j]) })
		for _, s := range lits {
			result = strings.ReplaceAll(result, s, MaskedValue)
		}
	}
	for _, p := range m.patterns {
		if p.Regex != nil {
			result = p.Regex.ReplaceAllString(result, p.Replacement)
		}
	}
	return result
}

// MaskValue masks sensitive information based on key-value context
func (m *Masker) MaskValue(key string, value interface{}) interface{} {
	if !m.IsEnabled() {
		return value
	}
	lowerKey := strings.ToLower(key)
	m.mu.RLock()
	for _, p := range m.patterns {
		for _, k := range p.Keys {
			if lowerKey == k {
				m.mu.RUnlock()
				return MaskedValue
			}
		}
	}
	m.mu.RUnlock()

	switch v := value.(type) {
	case string:
		return m.MaskString(v)
	case error:
		return m.MaskString(v.Error())
	default:
		return value
	}
}

var globalMasker = NewMasker()

// SetGlobalMasker sets the global masker instance
func SetGlobalMasker(masker *Masker) {
	if masker != nil {
		globalMasker = masker
	}
}

// GetGlobalMasker returns the global masker instance
func GetGlobalMasker() *Masker {
	return globalMasker
}

// MaskSensitiveData masks sensitive data using the global masker
func MaskSensitiveData(input string) string {
	return globalMasker.MaskString(input)
}

// EnableMasking enables/disables global masking
func EnableMasking(enabled bool) {
	globalMasker.SetEnabled(enabled)
}
