// Package cliagent runs a fixed set of shell-free commands on behalf of the
// CLI agent routes.
package cliagent

// Capability is one command the CLI agent may run.
type Capability struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Platform    string `json:"platform"`

	documented bool
}

// capabilities is the complete table. Order matters: the 403 response
// lists the first ten names.
var capabilities = []Capability{
	{Name: "ls", Description: "List directory contents", Platform: "unix", documented: true},
	{Name: "dir", Description: "List directory contents", Platform: "windows", documented: true},
	{Name: "pwd", Description: "Print working directory", Platform: "unix", documented: true},
	{Name: "cd", Description: "Change directory", Platform: "both", documented: true},
	{Name: "mkdir", Description: "Create directory", Platform: "both", documented: true},
	{Name: "rmdir", Description: "Remove empty directory", Platform: "both"},
	{Name: "touch", Description: "Create empty file", Platform: "unix", documented: true},
	{Name: "echo", Description: "Print text", Platform: "both", documented: true},
	{Name: "cat", Description: "Display file contents", Platform: "unix", documented: true},
	{Name: "type", Description: "Display file contents", Platform: "windows", documented: true},
	{Name: "head", Description: "Display the start of a file", Platform: "unix"},
	{Name: "tail", Description: "Display the end of a file", Platform: "unix"},
	{Name: "grep", Description: "Search text in files", Platform: "unix", documented: true},
	{Name: "find", Description: "Search for files", Platform: "unix", documented: true},
	{Name: "which", Description: "Locate a command", Platform: "unix"},
	{Name: "ps", Description: "List running processes", Platform: "unix", documented: true},
	{Name: "top", Description: "Display running processes", Platform: "unix", documented: true},
	{Name: "df", Description: "Report disk space usage", Platform: "unix"},
	{Name: "du", Description: "Estimate file space usage", Platform: "unix"},
	{Name: "free", Description: "Display memory usage", Platform: "unix"},
	{Name: "uname", Description: "Print system information", Platform: "unix"},
	{Name: "whoami", Description: "Print the current user", Platform: "both"},
	{Name: "git", Description: "Git version control", Platform: "both", documented: true},
	{Name: "npm", Description: "Node package manager", Platform: "both", documented: true},
	{Name: "node", Description: "Node.js runtime", Platform: "both", documented: true},
	{Name: "python", Description: "Python interpreter", Platform: "both"},
	{Name: "pip", Description: "Python package manager", Platform: "both"},
}

var allowed = func() map[string]bool {
	m := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		m[c.Name] = true
	}
	return m
}()

// IsAllowed reports whether name is in the capability table. Names are
// matched exactly; callers lowercase first.
func IsAllowed(name string) bool {
	return allowed[name]
}

// AllowedNames returns up to n capability names in table order; n <= 0
// returns all of them.
func AllowedNames(n int) []string {
	if n <= 0 || n > len(capabilities) {
		n = len(capabilities)
	}
	out := make([]string, 0, n)
	for _, c := range capabilities[:n] {
		out = append(out, c.Name)
	}
	return out
}

// Documented returns the capabilities advertised by /cli-agent/allowed-commands.
func Documented() []Capability {
	var out []Capability
	for _, c := range capabilities {
		if c.documented {
			out = append(out, c)
		}
	}
	return out
}
