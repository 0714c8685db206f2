// Package remote opens an editor window attached to a cluster host over
// SSH using the vscode-remote folder URI scheme.
package remote

import (
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
)

// Editor env vars checked in order when no explicit editor is given.
var editorEnvVars = []string{"GPUSCOUT_EDITOR", "SLURM_CLI_EDITOR"}

// PATH candidates probed in order of preference.
var editorCandidates = []string{"code", "cursor", "windsurf", "codium", "antigravity"}

var editorAliases = map[string]string{
	"vscode":      "code",
	"code":        "code",
	"cursor":      "cursor",
	"windsurf":    "windsurf",
	"codium":      "codium",
	"vscodium":    "codium",
	"antigravity": "antigravity",
	"gravity":     "antigravity",
}

// hostAliases expands cluster shorthand into login hostnames.
var hostAliases = map[string]string{
	"pitzer":   "osc-pitzer-login",
	"cardinal": "osc-cardinal-login",
	"ascend":   "osc-ascend-login",
}

// EditorCommand is a resolved editor CLI plus where it was resolved from
// (flag, env or auto).
type EditorCommand struct {
	Command string
	Source  string
}

// OpenRequest describes one remote open.
type OpenRequest struct {
	Host    string
	WorkDir string
	Editor  string
	DryRun  bool
}

// OpenResult reports what was (or would be) executed.
type OpenResult struct {
	OK      bool
	Message string
	Command []string
}

// CommandText renders the command for logs and status lines.
func (r OpenResult) CommandText() string {
	return strings.Join(r.Command, " ")
}

// NormalizeHost expands shorthand host aliases into login hostnames.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if full, ok := hostAliases[host]; ok {
		return full
	}
	return host
}

// normalizeEditor maps editor aliases onto concrete CLI commands.
func normalizeEditor(editor string) string {
	token := strings.ToLower(strings.TrimSpace(editor))
	if token == "" {
		return ""
	}
	if cmd, ok := editorAliases[token]; ok {
		return cmd
	}
	return token
}

// ResolveEditor picks the editor CLI: explicit preference first, then the
// environment, then the first candidate present on PATH.
func ResolveEditor(preferred string) (EditorCommand, error) {
	if cmd := normalizeEditor(preferred); cmd != "" {
		return EditorCommand{Command: cmd, Source: "flag"}, nil
	}
	for _, env := range editorEnvVars {
		if cmd := normalizeEditor(os.Getenv(env)); cmd != "" {
			return EditorCommand{Command: cmd, Source: "env"}, nil
		}
	}
	for _, candidate := range editorCandidates {
		if _, err := exec.LookPath(candidate); err == nil {
			return EditorCommand{Command: candidate, Source: "auto"}, nil
		}
	}
	return EditorCommand{}, fmt.Errorf(
		"no supported editor CLI found on PATH (tried %s); set one with --editor or %s",
		strings.Join(editorCandidates, ", "), strings.Join(editorEnvVars, "/"))
}

// FolderURI builds the vscode-remote folder URI for host and directory.
func FolderURI(host, dir string) string {
	escaped := (&url.URL{Path: dir}).EscapedPath()
	return "vscode-remote://ssh-remote+" + NormalizeHost(host) + escaped
}

// Open resolves the editor and launches (or, for a dry run, just reports)
// the remote open command.
func Open(req OpenRequest) OpenResult {
	editor, err := ResolveEditor(req.Editor)
	if err != nil {
		return OpenResult{OK: false, Message: err.Error()}
	}

	dir := req.WorkDir
	if dir == "" {
		dir, _ = os.Getwd()
	} else if _, statErr := os.Stat(dir); statErr != nil {
		dir, _ = os.Getwd()
	}

	command := []string{editor.Command, "--new-window", "--folder-uri", FolderURI(req.Host, dir)}
	if req.DryRun {
		return OpenResult{
			OK:      true,
			Message: fmt.Sprintf("dry run: resolved editor via %s", editor.Source),
			Command: command,
		}
	}

	cmd := exec.Command(command[0], command[1:]...)
	out, runErr := cmd.CombinedOutput()
	if runErr != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = runErr.Error()
		}
		return OpenResult{OK: false, Message: msg, Command: command}
	}
	return OpenResult{OK: true, Message: "opened remote editor", Command: command}
}
