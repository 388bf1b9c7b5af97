package vision

import (
	"fmt"
	"strings"

	"translatemenu/internal/preferences"
)

func systemPrompt(p *preferences.Preferences) string {
	country, language, info := "unspecified", "the language of the menu", ""
	if p != nil {
		if c := strings.TrimSpace(p.Country); c != "" {
			country = c
		}
		if l := strings.TrimSpace(p.Language); l != "" {
			language = l
		}
		info = strings.TrimSpace(p.AdditionalInfo)
	}

	var b strings.Builder
	b.WriteString("You process photos of restaurant menus and return structured data.\n\n")
	b.WriteString("You will receive one or more images of a restaurant menu. Combine every image into one menu.\n\n")
	b.WriteString("1. Extract every dish: its name as printed, and its price as a number without currency symbols, or \"-\" when no price is shown.\n")
	fmt.Fprintf(&b, "2. Write a detailed explanation of each dish in %s, adapted to someone from %q. ", language, country)
	b.WriteString("Do not copy the menu text; explain what the dish is, using local terms or familiar analogies ")
	b.WriteString("(for a diner from Japan, raw fish slices could be \"similar to sashimi\").\n")
	b.WriteString("3. Also give each dish an English title and a short English visual description of how the plated dish looks. These are used to illustrate the dish.\n")
	fmt.Fprintf(&b, "4. Mark as recommended the dishes that best match the diner's preferences:\n%s\n", p.SelectedSummary())
	if info != "" {
		fmt.Fprintf(&b, "Additional information from the diner: %s\n", info)
	}
	b.WriteString("Respect dietary restrictions and allergies when recommending.\n\n")
	b.WriteString("If none of the images is a menu, set isMenu to false and return an empty menuItems list.\n")
	return b.String()
}

// menuSchema is the strict JSON schema for the structured output.
var menuSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"isMenu": map[string]any{"type": "boolean"},
		"menuItems": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string"},
					"price": map[string]any{
						"anyOf": []any{
							map[string]any{"type": "number"},
							map[string]any{"type": "string", "enum": []string{"-"}},
						},
					},
					"description":        map[string]any{"type": "string"},
					"recommended":        map[string]any{"type": "boolean"},
					"titleEnglish":       map[string]any{"type": "string"},
					"descriptionEnglish": map[string]any{"type": "string"},
				},
				"required":             []string{"name", "price", "description", "recommended", "titleEnglish", "descriptionEnglish"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"isMenu", "menuItems"},
	"additionalProperties": false,
}
