package filesystem

import (
	"fmt"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// applyFileEdits applies a sequence of exact-text replacements to a file and
// returns a unified diff of the change. With dryRun the diff is produced but
// nothing is written.
func applyFileEdits(path string, edits []editOperation, dryRun bool) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	modified, err := applyEdits(string(content), edits)
	if err != nil {
		return "", err
	}

	diff := unifiedDiff(string(content), modified, path)

	if !dryRun {
		if err := os.WriteFile(path, []byte(modified), 0o600); err != nil {
			return "", fmt.Errorf("failed to write file: %w", err)
		}
	}

	return diff, nil
}

func applyEdits(content string, edits []editOperation) (string, error) {
	modified := normalizeLineEndings(content)

	for _, edit := range edits {
		oldText := normalizeLineEndings(edit.OldText)
		newText := normalizeLineEndings(edit.NewText)

		if strings.Contains(modified, oldText) {
			modified = strings.Replace(modified, oldText, newText, 1)
			continue
		}

		// Fall back to a whitespace-insensitive line match so edits survive
		// indentation drift.
		replaced, ok := replaceTrimmedBlock(modified, oldText, newText)
		if !ok {
			return "", fmt.Errorf("could not find match for edit:\n%s", edit.OldText)
		}
		modified = replaced
	}

	return modified, nil
}

func replaceTrimmedBlock(content, oldText, newText string) (string, bool) {
	oldLines := strings.Split(oldText, "\n")
	contentLines := strings.Split(content, "\n")

	for i := 0; i <= len(contentLines)-len(oldLines); i++ {
		if !blockMatchesTrimmed(contentLines[i:i+len(oldLines)], oldLines) {
			continue
		}

		indent := leadingWhitespace(contentLines[i])
		newLines := strings.Split(newText, "\n")
		for j, line := range newLines {
			newLines[j] = indent + strings.TrimLeft(line, " \t")
		}

		result := make([]string, 0, len(contentLines)-len(oldLines)+len(newLines))
		result = append(result, contentLines[:i]...)
		result = append(result, newLines...)
		result = append(result, contentLines[i+len(oldLines):]...)
		return strings.Join(result, "\n"), true
	}

	return content, false
}

func blockMatchesTrimmed(block, oldLines []string) bool {
	for i, oldLine := range oldLines {
		if strings.TrimSpace(oldLine) != strings.TrimSpace(block[i]) {
			return false
		}
	}
	return true
}

func unifiedDiff(original, modified, path string) string {
	dmp := diffmatchpatch.New()

	diffs := dmp.DiffMain(normalizeLineEndings(original), normalizeLineEndings(modified), true)
	patches := dmp.PatchMake(diffs)

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s (original)\n", path)
	fmt.Fprintf(&sb, "+++ %s (modified)\n", path)
	sb.WriteString(dmp.PatchToText(patches))
	return sb.String()
}

func normalizeLineEndings(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

func leadingWhitespace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}
