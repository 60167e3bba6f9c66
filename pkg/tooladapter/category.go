package tooladapter

import "strings"

// DefaultCategory is assigned when no keyword matches.
const DefaultCategory = "General"

type categoryRule struct {
	keyword  string
	category string
}

// Rules are checked in order; the first keyword found anywhere in the
// lowercased text wins, so run-together and camelCase names match too.
var categoryRules = []categoryRule{
	{"git", "Version Control"},
	{"github", "Version Control"},
	{"gitlab", "Version Control"},
	{"file", "File System"},
	{"filesystem", "File System"},
	{"docker", "DevOps"},
	{"kubernetes", "DevOps"},
	{"database", "Database"},
	{"postgres", "Database"},
	{"mysql", "Database"},
	{"redis", "Database"},
	{"web", "Web"},
	{"browser", "Web"},
	{"http", "Web"},
	{"ai", "AI"},
	{"llm", "AI"},
	{"code", "Development"},
	{"ide", "Development"},
	{"vscode", "Development"},
	{"test", "Testing"},
	{"ci", "CI/CD"},
	{"cd", "CI/CD"},
	{"deploy", "CI/CD"},
	{"monitor", "Monitoring"},
	{"log", "Monitoring"},
	{"metric", "Monitoring"},
}

// InferCategory matches keywords against the tool name, then the server name,
// then the description.
func InferCategory(toolName, serverName, description string) string {
	for _, text := range []string{toolName, serverName, description} {
		if category, ok := matchCategory(text); ok {
			return category
		}
	}
	return DefaultCategory
}

func matchCategory(text string) (string, bool) {
	text = strings.ToLower(text)
	if text == "" {
		return "", false
	}
	for _, rule := range categoryRules {
		if strings.Contains(text, rule.keyword) {
			return rule.category, true
		}
	}
	return "", false
}
