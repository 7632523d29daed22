package agentrunner

import (
	"fmt"
	"strings"
	"time"

	"github.com/flowforge/agentrunner/internal/issuetracker"
)

const requirementsBlock = `## Requirements

- Make the minimal set of changes needed to resolve the issue above.
- Follow the existing conventions of this repository.
- Leave the working tree in a state ready to commit: do not leave unrelated files modified.
- Your output will be committed to the current branch and pushed; do not push yourself.`

// BuildPrompt assembles the single prompt string handed to the coding agent
// CLI via "-p". Section order and headings are fixed: header, metadata
// trio, Description, Parent Issue Context, Labels, Discussion, Requirements
// — empty sections are omitted, never emitted with empty bodies.
func BuildPrompt(issue *issuetracker.Issue, repo, branch string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are working on: %s\n\n", issue.Title)
	fmt.Fprintf(&b, "Issue identifier: %s\nRepository path: %s\nBranch name: %s\n\n", issue.Identifier, repo, branch)

	if issue.Description != "" {
		b.WriteString("## Description\n\n")
		b.WriteString(issue.Description)
		b.WriteString("\n\n")
	}

	if issue.Parent != nil {
		b.WriteString("## Parent Issue Context\n\n")
		fmt.Fprintf(&b, "%s: %s\n", issue.Parent.Identifier, issue.Parent.Title)
		if issue.Parent.Description != "" {
			b.WriteString(issue.Parent.Description)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(issue.Labels) > 0 {
		b.WriteString("## Labels\n\n")
		for _, l := range issue.Labels {
			fmt.Fprintf(&b, "- %s\n", l.Name)
		}
		b.WriteString("\n")
	}

	if len(issue.Comments) > 0 {
		b.WriteString("## Discussion\n\n")
		for _, c := range issue.Comments {
			author := c.Author
			if author == "" {
				author = "unknown"
			}
			fmt.Fprintf(&b, "**%s** (%s):\n%s\n\n", author, localizedDate(c.CreatedAt), c.Body)
		}
	}

	b.WriteString(requirementsBlock)
	return b.String()
}

func localizedDate(t time.Time) string {
	return t.Format("Jan 2, 2006 15:04 MST")
}

// CommitMessage derives a commit message from the issue title, per the
// fixed "feat: {title}" convention.
func CommitMessage(issue *issuetracker.Issue) string {
	return fmt.Sprintf("feat: %s", issue.Title)
}

// PullRequestTitle derives the PR title from the issue.
func PullRequestTitle(issue *issuetracker.Issue) string {
	return fmt.Sprintf("%s: %s", issue.Identifier, issue.Title)
}

// PullRequestBody derives the PR body, linking back to the source issue.
func PullRequestBody(issue *issuetracker.Issue) string {
	return fmt.Sprintf("Resolves %s.\n\n%s", issue.Identifier, issue.Description)
}
