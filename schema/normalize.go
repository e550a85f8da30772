package schema

import (
	"path"
	"strings"
	"unicode"
)

// ValidateUserID ensures a user id matches [a-z0-9._-] with no normalization.
func ValidateUserID(userID UserID) error {
	raw := string(userID)
	if raw == "" {
		return ErrInvalidUser
	}
	if strings.TrimSpace(raw) != raw {
		return ErrInvalidUser
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		return ErrInvalidUser
	}
	return nil
}

// NormalizeRepoName validates a repository name.
// Allowed characters: A-Z, a-z, 0-9, '.', '_', '-'.
func NormalizeRepoName(name string) (RepoName, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed == "." || trimmed == ".." {
		return "", ErrInvalidRepo
	}
	if len(trimmed) > 100 {
		return "", ErrInvalidRepo
	}
	for _, r := range trimmed {
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			continue
		}
		return "", ErrInvalidRepo
	}
	return RepoName(trimmed), nil
}

// NormalizeFilePath cleans a repository-relative path and rejects escapes.
func NormalizeFilePath(value string) (FilePath, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", ErrInvalidPath
	}
	if strings.ContainsRune(trimmed, '\\') || strings.ContainsRune(trimmed, 0) {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean(strings.TrimPrefix(trimmed, "/"))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidPath
	}
	return FilePath(cleaned), nil
}

// NormalizeProvider maps user input to a known provider.
func NormalizeProvider(value string) (ProviderName, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "anthropic", "claude", "sonnet", "sonnet-3.5":
		return ProviderAnthropic, nil
	case "openai", "gpt", "gpt-4o":
		return ProviderOpenAI, nil
	default:
		return "", ErrInvalidProvider
	}
}
