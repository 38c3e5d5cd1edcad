// Package setup implements the interactive autowatch setup wizard.
package setup

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/term"
)

// Secrets live in the env file; the config only references them.
const (
	TokenEnvVar  = "AUTOWATCH_JIRA_TOKEN"
	SecretEnvVar = "AUTOWATCH_WEBHOOK_SECRET"
)

// defaultConfigTemplate is written when no config file exists yet.
const defaultConfigTemplate = `# Autowatch Configuration
# https://github.com/Fullex26/autowatch

# ── Listener ──
listener:
  name: "Autowatch Listener"
  include_projects: ""  # comma-separated keys; empty watches every project
  exclude_projects: ""  # comma-separated keys; exclusion wins over inclusion

# ── Watcher registry ──
registry:
  backend: "sqlite"  # "sqlite" keeps watchers locally, "jira" uses the REST API
  db_path: "/var/lib/autowatch/autowatch.db"

# ── Jira REST API (backend: jira) ──
jira:
  base_url: ""
  user: ""
  token: "${AUTOWATCH_JIRA_TOKEN}"
  timeout: "10s"

# ── Webhook receiver ──
server:
  listen_addr: ":8085"
  secret: "${AUTOWATCH_WEBHOOK_SECRET}"  # optional shared secret
  read_timeout: "30s"
  write_timeout: "30s"

# ── Redelivery suppression ──
dedup:
  cooldown: "10m"

# ── Logging ──
log:
  level: "info"
  format: "text"
`

// answers holds what the wizard collected.
type answers struct {
	backend string
	baseURL string
	user    string
	token   string
	include string
	exclude string
	secret  string
}

// Run is the entry point for the interactive setup wizard.
func Run(configPath, envPath string) error {
	w := &wizard{
		in:     bufio.NewReader(os.Stdin),
		out:    os.Stdout,
		secret: readMasked,
	}
	return w.run(configPath, envPath)
}

type wizard struct {
	in     *bufio.Reader
	out    io.Writer
	secret func(r *bufio.Reader, out io.Writer, prompt string) (string, error)
}

func (w *wizard) run(configPath, envPath string) error {
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "👀 Autowatch Setup")
	fmt.Fprintln(w.out, "──────────────────")
	fmt.Fprintln(w.out)

	created, err := ensureConfig(configPath)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(w.out, "  Created default config: %s\n\n", configPath)
	}

	a, err := w.collect()
	if err != nil {
		return err
	}

	// ── Write env file ───────────────────────────────────────────
	vars := make(map[string]string)
	if a.token != "" {
		vars[TokenEnvVar] = a.token
	}
	if a.secret != "" {
		vars[SecretEnvVar] = a.secret
	}
	if len(vars) > 0 {
		if err := writeEnvFile(envPath, vars); err != nil {
			return fmt.Errorf("writing env file: %w", err)
		}
		fmt.Fprintf(w.out, "  ✅ Credentials saved to %s\n", envPath)
	}

	// ── Update config ─────────────────────────────────────────────
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(apply(string(data), a)), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(w.out, "  ✅ Config updated: %s\n", configPath)

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "✅ Setup complete!")
	fmt.Fprintln(w.out, "   Point a Jira webhook at /webhooks/jira, then run 'autowatch run'.")
	fmt.Fprintln(w.out)
	return nil
}

func (w *wizard) collect() (answers, error) {
	var a answers

	// ── Registry ─────────────────────────────────────────────────
	fmt.Fprintln(w.out, "  Where should watchers be kept?")
	fmt.Fprintln(w.out, "    [1] Local database  (sqlite)")
	fmt.Fprintln(w.out, "    [2] Jira            (REST API)")
	fmt.Fprintln(w.out)
	fmt.Fprint(w.out, "  Selection [1]: ")

	a.backend = "sqlite"
	if readLine(w.in) == "2" {
		a.backend = "jira"
	}
	fmt.Fprintln(w.out)

	if a.backend == "jira" {
		fmt.Fprintln(w.out, "  Jira")
		fmt.Fprintln(w.out, "  ──────────────────────────────────────────────────────────")
		fmt.Fprintln(w.out, "  Cloud sites use your email and an API token;")
		fmt.Fprintln(w.out, "  Server and Data Center accept a personal access token alone.")
		fmt.Fprintln(w.out)

		fmt.Fprint(w.out, "  Base URL:   ")
		a.baseURL = strings.TrimRight(strings.TrimSpace(readLine(w.in)), "/")
		fmt.Fprint(w.out, "  User (optional): ")
		a.user = strings.TrimSpace(readLine(w.in))

		token, err := w.secret(w.in, w.out, "  API token:  ")
		if err != nil {
			return a, err
		}
		a.token = strings.TrimSpace(token)
		fmt.Fprintln(w.out)

		if a.baseURL == "" || a.token == "" {
			return a, fmt.Errorf("jira backend needs a base URL and a token")
		}
		if err := plainValue("base URL", a.baseURL); err != nil {
			return a, err
		}
		if err := plainValue("user", a.user); err != nil {
			return a, err
		}
	}

	// ── Projects ─────────────────────────────────────────────────
	fmt.Fprintln(w.out, "  Projects (comma-separated keys, Enter for none)")
	fmt.Fprint(w.out, "  Only watch these:  ")
	a.include = strings.TrimSpace(readLine(w.in))
	fmt.Fprint(w.out, "  Never watch these: ")
	a.exclude = strings.TrimSpace(readLine(w.in))
	fmt.Fprintln(w.out)
	if err := plainValue("project list", a.include); err != nil {
		return a, err
	}
	if err := plainValue("project list", a.exclude); err != nil {
		return a, err
	}

	// ── Webhook secret ───────────────────────────────────────────
	secret, err := w.secret(w.in, w.out, "  Webhook secret (optional, Enter to skip): ")
	if err != nil {
		return a, err
	}
	a.secret = strings.TrimSpace(secret)
	fmt.Fprintln(w.out)

	return a, nil
}

// plainValue rejects values that config loading would treat as env references
func plainValue(field, v string) error {
	if strings.Contains(v, "$") {
		return fmt.Errorf("%s cannot contain '$'", field)
	}
	return nil
}

// ensureConfig creates the config file from the default template if absent
// and reports whether it did.
func ensureConfig(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return false, fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0600); err != nil {
		return false, fmt.Errorf("creating default config: %w", err)
	}
	return true, nil
}

// apply writes the collected answers into the config YAML.
func apply(cfg string, a answers) string {
	cfg = setInBlock(cfg, "registry", "backend", quote(a.backend))
	cfg = setInBlock(cfg, "listener", "include_projects", quote(a.include))
	cfg = setInBlock(cfg, "listener", "exclude_projects", quote(a.exclude))
	if a.backend == "jira" {
		cfg = setInBlock(cfg, "jira", "base_url", quote(a.baseURL))
		cfg = setInBlock(cfg, "jira", "user", quote(a.user))
		cfg = setInBlock(cfg, "jira", "token", quote("${"+TokenEnvVar+"}"))
	}
	if a.secret != "" {
		cfg = setInBlock(cfg, "server", "secret", quote("${"+SecretEnvVar+"}"))
	}
	return cfg
}

// quote renders s as a double-quoted YAML scalar
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// setInBlock sets key to value within the top-level YAML block that begins
// with "{block}:\n". The block ends at the first non-empty line with no
// indentation. A trailing comment on the replaced line is kept. The config is
// returned unchanged when the block or key is missing.
func setInBlock(cfg, block, key, value string) string {
	marker := block + ":\n"
	idx := strings.Index(cfg, marker)
	if idx == -1 || (idx > 0 && cfg[idx-1] != '\n') {
		return cfg
	}
	start := idx + len(marker)

	lines := strings.SplitAfter(cfg[start:], "\n")
	offset := start
	prefix := "  " + key + ":"
	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\n")
		if trimmed != "" && !strings.HasPrefix(trimmed, " ") {
			break
		}
		if strings.HasPrefix(trimmed, prefix) {
			comment := ""
			if i := strings.Index(trimmed, "  #"); i != -1 {
				comment = trimmed[i:]
			}
			replaced := prefix + " " + value + comment
			return cfg[:offset] + replaced + cfg[offset+len(trimmed):]
		}
		offset += len(line)
	}
	return cfg
}

// writeEnvFile merges vars into the env file at path (mode 0600). Existing
// keys not in vars are kept. The file is read back to make sure every value
// survives the round trip.
func writeEnvFile(path string, vars map[string]string) error {
	merged, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		merged = make(map[string]string)
	}
	for k, v := range vars {
		merged[k] = v
	}

	content, err := godotenv.Marshal(merged)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content+"\n"), 0600); err != nil {
		return err
	}

	got, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("reading back %s: %w", path, err)
	}
	for k, v := range vars {
		if got[k] != v {
			return fmt.Errorf("value of %s cannot be stored in an env file", k)
		}
	}
	return nil
}

// readLine reads one line from r, stripping the trailing newline.
func readLine(r *bufio.Reader) string {
	line, _ := r.ReadString('\n')
	return strings.TrimRight(line, "\r\n")
}

// readMasked reads a secret without echoing characters when stdin is a TTY.
// Falls back to plain line reading for non-interactive contexts (pipes, CI).
func readMasked(r *bufio.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return string(b), nil
	}
	return readLine(r), nil
}
