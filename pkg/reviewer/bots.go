package reviewer

import "strings"

// botPatterns are substrings of common automation account names.
var botPatterns = []string{
	"[bot]",
	"-bot",
	"_bot",
	"bot-",
	"bot_",
	".bot",
	"github-actions",
	"dependabot",
	"renovate",
	"greenkeeper",
	"snyk",
	"codecov",
	"coveralls",
	"travis",
	"circleci",
	"jenkins",
	"buildkite",
	"appveyor",
	"imgbot",
	"allcontributors",
	"mergify",
	"sonarcloud",
	"deepsource",
	"codacy",
	"stale",
}

// IsBot reports whether username looks like an automation account.
func IsBot(username string) bool {
	lower := strings.ToLower(username)
	for _, pattern := range botPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
