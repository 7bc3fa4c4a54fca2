// Package prompts builds the system message that opens every model call.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation and can be validated by
// tests. Each prompt category gets its own file with an exported function
// that accepts the dynamic parts and returns the interpolated string.
//
// SystemPrompt is pure: the same persona, memories, tools and clock
// reading always produce the same text. Assembler wraps it with the
// memory search that supplies the context section.
package prompts
