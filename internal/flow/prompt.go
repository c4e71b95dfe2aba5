package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/MeditationVisual/internal/models"
)

// NegativePrompt is sent with every generation request.
const NegativePrompt = "nsfw, inappropriate content, violence, dark themes, disturbing elements"

const promptTemplate = "A peaceful meditation visual art: %s in a gentle, abstract style. " +
	"Soft colors, calming atmosphere, suitable for %s meditation. " +
	"Digital art, peaceful composition, mindfulness focus, non-figurative, safe for work"

// BuildRequest builds the generation request for a selection. It is deterministic.
func BuildRequest(emotion, theme string) models.GenerationRequest {
	return models.GenerationRequest{
		Prompt:         fmt.Sprintf(promptTemplate, strings.ToLower(theme), strings.ToLower(emotion)),
		NegativePrompt: NegativePrompt,
	}
}
