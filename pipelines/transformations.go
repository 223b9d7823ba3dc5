package pipelines

import "sort"

// Transformation is a named rewrite applied to text through a provider call.
type Transformation struct {
	Name         string
	Description  string
	SystemPrompt string
}

var transformations = map[string]Transformation{
	"summarize": {
		Name:         "summarize",
		Description:  "Condense the text into a short summary.",
		SystemPrompt: "Summarize the following text in a few sentences. Keep the key facts and drop filler. Reply with the summary only.",
	},
	"key_points": {
		Name:         "key_points",
		Description:  "Pull out the main points as a bullet list.",
		SystemPrompt: "Extract the main points of the following text as a concise bullet list. Reply with the list only.",
	},
	"extract_entities": {
		Name:         "extract_entities",
		Description:  "List the people, places, and organizations mentioned.",
		SystemPrompt: "List the named entities (people, places, organizations, products) mentioned in the following text, one per line with its type. Reply with the list only.",
	},
	"title": {
		Name:         "title",
		Description:  "Propose a short descriptive title.",
		SystemPrompt: "Write a short descriptive title for the following text. Reply with the title only.",
	},
	"simplify": {
		Name:         "simplify",
		Description:  "Rewrite the text in plain language.",
		SystemPrompt: "Rewrite the following text in plain language a general reader can follow, without losing meaning. Reply with the rewritten text only.",
	},
}

// LookupTransformation returns the named transformation.
func LookupTransformation(name string) (Transformation, bool) {
	t, ok := transformations[name]
	return t, ok
}

// TransformationNames lists the available transformations in stable order.
func TransformationNames() []string {
	names := make([]string, 0, len(transformations))
	for name := range transformations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
