package styles

import "strings"

// IdentityPreservationRules is appended to every prompt before submission.
const IdentityPreservationRules = "Preserve the subject's identity exactly: do not alter facial structure, eye color, skin tone, pose or clothing. Only the artistic rendering may change."

// Augment appends the identity rules to prompt. Applying it twice yields the
// same text.
func Augment(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if strings.HasSuffix(prompt, IdentityPreservationRules) {
		return prompt
	}
	if prompt == "" {
		return IdentityPreservationRules
	}
	return prompt + "\n\n" + IdentityPreservationRules
}
