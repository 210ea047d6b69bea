package tools

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/martinemde/harness/llm"
)

const maxProjectDocBytes = 32 * 1024

const defaultSystemPrompt = `You are a coding agent working in the user's project. Use the tools to
inspect files and run commands instead of guessing. Prefer small, verifiable
steps and report what you changed.`

// BuildSystemPrompt assembles the system prompt: base (or the default),
// project instruction files, then environment and git context.
func BuildSystemPrompt(env *Environment, base string, model llm.Model) string {
	if base == "" {
		base = defaultSystemPrompt
	}
	parts := []string{base}
	if docs := DiscoverProjectDocs(env.WorkDir(), model.Provider); docs != "" {
		parts = append(parts, docs)
	}
	parts = append(parts, EnvironmentContext(env, model.ID))
	if git := GitContext(env.WorkDir()); git != "" {
		parts = append(parts, git)
	}
	return strings.Join(parts, "\n\n")
}

// EnvironmentContext describes where the tools run.
func EnvironmentContext(env *Environment, model string) string {
	workDir := env.WorkDir()
	isGitRepo := gitRoot(workDir) != ""

	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", workDir)
	fmt.Fprintf(&sb, "Is git repository: %v\n", isGitRepo)
	if isGitRepo {
		if branch := runGit(workDir, "rev-parse", "--abbrev-ref", "HEAD"); branch != "" {
			fmt.Fprintf(&sb, "Git branch: %s\n", strings.TrimSpace(branch))
		}
	}
	fmt.Fprintf(&sb, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// DiscoverProjectDocs loads instruction files from the git root (or
// workDir) down to workDir. AGENTS.md is always read; provider selects one
// extra provider-specific file. The total is capped at 32KB.
func DiscoverProjectDocs(workDir, provider string) string {
	root := gitRoot(workDir)
	if root == "" {
		root = workDir
	}

	names := []string{"AGENTS.md"}
	switch provider {
	case "anthropic":
		names = append(names, "CLAUDE.md")
	case "openai":
		names = append(names, ".codex/instructions.md")
	}

	var docs []string
	total := 0
	for _, dir := range pathHierarchy(root, workDir) {
		for _, name := range names {
			content, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				continue
			}
			remaining := maxProjectDocBytes - total
			if remaining <= 0 {
				docs = append(docs, "[Project instructions truncated at 32KB]")
				return strings.Join(docs, "\n\n---\n\n")
			}
			text := string(content)
			if len(text) > remaining {
				text = text[:remaining] + "\n[Project instructions truncated at 32KB]"
			}
			docs = append(docs, fmt.Sprintf("# %s (from %s)\n\n%s", name, dir, text))
			total += len(text)
		}
	}
	return strings.Join(docs, "\n\n---\n\n")
}

// GitContext summarizes the repository containing workDir, or returns ""
// outside a repository.
func GitContext(workDir string) string {
	root := gitRoot(workDir)
	if root == "" {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("<git_context>\n")
	if branch := strings.TrimSpace(runGit(root, "rev-parse", "--abbrev-ref", "HEAD")); branch != "" {
		fmt.Fprintf(&sb, "Branch: %s\n", branch)
	}
	if status := strings.TrimSpace(runGit(root, "status", "--short")); status != "" {
		fmt.Fprintf(&sb, "Modified/untracked files: %d\n", len(strings.Split(status, "\n")))
	}
	if log := runGit(root, "log", "--oneline", "-10"); log != "" {
		sb.WriteString("Recent commits:\n")
		sb.WriteString(log)
	}
	sb.WriteString("</git_context>")
	return sb.String()
}

// pathHierarchy returns the directories from root down to target,
// inclusive. A target outside root yields just root.
func pathHierarchy(root, target string) []string {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	dirs := []string{root}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return dirs
	}
	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, part)
		dirs = append(dirs, current)
	}
	return dirs
}

func gitRoot(dir string) string {
	return strings.TrimSpace(runGit(dir, "rev-parse", "--show-toplevel"))
}

func runGit(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return string(out)
}
