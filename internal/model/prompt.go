package model

import (
	"fmt"
	"strings"

	"github.com/splax/sitesmith/internal/domain"
)

const generationSystem = `You are an expert web developer. You produce complete,
deployable projects. Emit every file of the project delimited exactly as:

===FILE: <relative/path>===
<file content>
===END FILE===

Emit nothing but delimited files. Include package.json with install and build
scripts, all source files, and an index.html entrypoint. The project must
build with "npm install" followed by "npm run build".`

const fixSystem = `You are an expert web developer fixing a build failure.
You receive compiler diagnostics and the current project files. Return ONLY
the files that need to change, delimited exactly as:

===FILE: <relative/path>===
<file content>
===END FILE===

Do not return unchanged files. Do not explain.`

// GenerationPrompt renders the user message for a full-tree generation call.
func GenerationPrompt(project *domain.Project, cfg *domain.BuildConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a complete %s project named %q.\n", cfg.Framework, project.Name)
	if cfg.Styling != "" {
		fmt.Fprintf(&b, "Styling approach: %s.\n", cfg.Styling)
	}
	if cfg.TypeScript {
		b.WriteString("Use TypeScript throughout.\n")
	} else {
		b.WriteString("Use plain JavaScript.\n")
	}
	if project.Description != "" {
		fmt.Fprintf(&b, "\nDescription:\n%s\n", project.Description)
	}
	if project.Brief != "" {
		fmt.Fprintf(&b, "\nProject brief:\n%s\n", project.Brief)
	}
	return b.String()
}

// FixPrompt renders the user message for a narrow repair call.
func FixPrompt(diagnostics string, files []domain.GeneratedFile) string {
	var b strings.Builder
	b.WriteString("The build failed with these diagnostics:\n\n")
	b.WriteString(diagnostics)
	b.WriteString("\n\nCurrent project files:\n\n")
	for _, file := range files {
		fmt.Fprintf(&b, "===FILE: %s===\n%s\n===END FILE===\n", file.Path, file.Content)
	}
	b.WriteString("\nReturn only the files that need to change.")
	return b.String()
}
